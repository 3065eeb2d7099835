package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store on pgx. One draft per channel is enforced
// by the one_draft_per_channel partial unique index; every mutation runs in
// a transaction that ends by recomputing the order total from its lines.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, price, is_gluten_free, is_available
		 FROM menu_items
		 WHERE is_available
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	defer rows.Close()

	return scanMenuItems(rows)
}

func (s *PostgresStore) CreateMenuItem(ctx context.Context, in NewMenuItemInput) (MenuItem, error) {
	item := MenuItem{
		Name:       strings.TrimSpace(in.Name),
		Price:      in.Price,
		GlutenFree: in.GlutenFree,
		Available:  in.Available,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO menu_items (name, price, is_gluten_free, is_available)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		item.Name, item.Price, item.GlutenFree, item.Available).Scan(&item.ID)
	if err != nil {
		return MenuItem{}, fmt.Errorf("create menu item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) FindMenuItemByName(ctx context.Context, name string) (MenuItem, error) {
	needle := strings.TrimSpace(name)
	if needle == "" {
		return MenuItem{}, ErrMenuItemNotFound
	}

	var item MenuItem
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, price, is_gluten_free, is_available
		 FROM menu_items
		 WHERE is_available AND name ILIKE '%' || $1 || '%'
		 ORDER BY id
		 LIMIT 1`, needle).
		Scan(&item.ID, &item.Name, &item.Price, &item.GlutenFree, &item.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return MenuItem{}, ErrMenuItemNotFound
	}
	if err != nil {
		return MenuItem{}, fmt.Errorf("find menu item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetOrCreateDraft(ctx context.Context, channel string) (Order, error) {
	var out Order
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		draft, err := getOrCreateDraftTx(ctx, tx, channel)
		if err != nil {
			return err
		}
		out, err = loadOrderTx(ctx, tx, draft)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	return out, nil
}

func (s *PostgresStore) AppendLine(ctx context.Context, channel string, menuItemID int64, qty int) (Order, error) {
	if qty <= 0 {
		return Order{}, ErrInvalidQuantity
	}

	var out Order
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var available bool
		err := tx.QueryRow(ctx,
			`SELECT is_available FROM menu_items WHERE id = $1`, menuItemID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !available) {
			return ErrMenuItemNotFound
		}
		if err != nil {
			return fmt.Errorf("check menu item: %w", err)
		}

		draftID, err := getOrCreateDraftTx(ctx, tx, channel)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_lines (order_id, menu_item_id, qty) VALUES ($1, $2, $3)`,
			draftID, menuItemID, qty); err != nil {
			return fmt.Errorf("append line: %w", err)
		}
		if err := recomputeTotalTx(ctx, tx, draftID); err != nil {
			return err
		}
		out, err = loadOrderTx(ctx, tx, draftID)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	return out, nil
}

func (s *PostgresStore) Finalize(ctx context.Context, channel string) (Order, error) {
	var out Order
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var draftID int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM orders
			 WHERE channel = $1 AND status = $2
			 FOR UPDATE`,
			channel, StatusDraft).Scan(&draftID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNothingToSubmit
		}
		if err != nil {
			return fmt.Errorf("lock draft: %w", err)
		}

		var lineCount int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM order_lines WHERE order_id = $1`, draftID).Scan(&lineCount); err != nil {
			return fmt.Errorf("count lines: %w", err)
		}
		if lineCount == 0 {
			return ErrNothingToSubmit
		}

		if err := recomputeTotalTx(ctx, tx, draftID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $1 WHERE id = $2`, StatusSubmitted, draftID); err != nil {
			return fmt.Errorf("submit order: %w", err)
		}
		out, err = loadOrderTx(ctx, tx, draftID)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, channel, status, total, created_at
		 FROM orders
		 ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Channel, &o.Status, &o.Total, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	var out Order
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = loadOrderTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	return out, nil
}

// getOrCreateDraftTx returns the channel's draft id, creating the row when
// absent. The insert races against concurrent sessions on the same channel;
// losers hit the partial unique index and re-select the winner's row.
func getOrCreateDraftTx(ctx context.Context, tx pgx.Tx, channel string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`SELECT id FROM orders WHERE channel = $1 AND status = $2`,
		channel, StatusDraft).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("select draft: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (channel, status, total) VALUES ($1, $2, 0) RETURNING id`,
		channel, StatusDraft).Scan(&id)
	if err == nil {
		return id, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if err := tx.QueryRow(ctx,
			`SELECT id FROM orders WHERE channel = $1 AND status = $2`,
			channel, StatusDraft).Scan(&id); err != nil {
			return 0, fmt.Errorf("re-select draft: %w", err)
		}
		return id, nil
	}
	return 0, fmt.Errorf("create draft: %w", err)
}

// recomputeTotalTx derives the order total from its lines.
func recomputeTotalTx(ctx context.Context, tx pgx.Tx, orderID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE orders SET total = COALESCE((
			SELECT SUM(l.qty * m.price)
			FROM order_lines l
			JOIN menu_items m ON m.id = l.menu_item_id
			WHERE l.order_id = $1
		 ), 0)
		 WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("recompute total: %w", err)
	}
	return nil
}

func loadOrderTx(ctx context.Context, tx pgx.Tx, id int64) (Order, error) {
	var o Order
	err := tx.QueryRow(ctx,
		`SELECT id, channel, status, total, created_at FROM orders WHERE id = $1`,
		id).Scan(&o.ID, &o.Channel, &o.Status, &o.Total, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("load order: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT l.id, l.order_id, l.menu_item_id, m.name, l.qty
		 FROM order_lines l
		 JOIN menu_items m ON m.id = l.menu_item_id
		 WHERE l.order_id = $1
		 ORDER BY l.id`, id)
	if err != nil {
		return Order{}, fmt.Errorf("load lines: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.MenuItemID, &line.Name, &line.Quantity); err != nil {
			return Order{}, fmt.Errorf("scan line: %w", err)
		}
		o.Lines = append(o.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	// Read-side repair: trust the lines over the stored column.
	if len(o.Lines) > 0 {
		row := tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(l.qty * m.price), 0)
			 FROM order_lines l
			 JOIN menu_items m ON m.id = l.menu_item_id
			 WHERE l.order_id = $1`, id)
		if err := row.Scan(&total); err != nil {
			return Order{}, fmt.Errorf("sum lines: %w", err)
		}
		o.Total = total
	}
	return o, nil
}

func scanMenuItems(rows pgx.Rows) ([]MenuItem, error) {
	var out []MenuItem
	for rows.Next() {
		var item MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.GlutenFree, &item.Available); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
