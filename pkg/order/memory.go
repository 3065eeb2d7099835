package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. It backs tests and single-node dev
// runs; the mutex gives the same one-draft-per-channel linearization the
// postgres unique index provides.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[int64]MenuItem
	orders     map[int64]*memOrder
	drafts     map[string]int64 // channel -> draft order id
	nextItemID int64
	nextOrder  int64
	nextLine   int64
	now        func() time.Time
}

type memOrder struct {
	id        int64
	channel   string
	status    string
	createdAt time.Time
	lines     []Line
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[int64]MenuItem),
		orders: make(map[int64]*memOrder),
		drafts: make(map[string]int64),
		now:    time.Now,
	}
}

func (s *MemoryStore) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MenuItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Available {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateMenuItem(ctx context.Context, in NewMenuItemInput) (MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextItemID++
	item := MenuItem{
		ID:         s.nextItemID,
		Name:       strings.TrimSpace(in.Name),
		Price:      in.Price,
		GlutenFree: in.GlutenFree,
		Available:  in.Available,
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *MemoryStore) FindMenuItemByName(ctx context.Context, name string) (MenuItem, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return MenuItem{}, ErrMenuItemNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *MenuItem
	for id, item := range s.items {
		if !item.Available {
			continue
		}
		if !strings.Contains(strings.ToLower(item.Name), needle) {
			continue
		}
		if best == nil || id < best.ID {
			found := item
			best = &found
		}
	}
	if best == nil {
		return MenuItem{}, ErrMenuItemNotFound
	}
	return *best, nil
}

func (s *MemoryStore) GetOrCreateDraft(ctx context.Context, channel string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.draftLocked(channel)), nil
}

func (s *MemoryStore) AppendLine(ctx context.Context, channel string, menuItemID int64, qty int) (Order, error) {
	if qty <= 0 {
		return Order{}, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[menuItemID]
	if !ok || !item.Available {
		return Order{}, ErrMenuItemNotFound
	}

	draft := s.draftLocked(channel)
	s.nextLine++
	draft.lines = append(draft.lines, Line{
		ID:         s.nextLine,
		OrderID:    draft.id,
		MenuItemID: item.ID,
		Name:       item.Name,
		Quantity:   qty,
	})
	return s.snapshot(draft), nil
}

func (s *MemoryStore) Finalize(ctx context.Context, channel string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draftID, ok := s.drafts[channel]
	if !ok {
		return Order{}, ErrNothingToSubmit
	}
	draft := s.orders[draftID]
	if draft == nil || len(draft.lines) == 0 {
		return Order{}, ErrNothingToSubmit
	}

	draft.status = StatusSubmitted
	delete(s.drafts, channel)
	return s.snapshot(draft), nil
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		snap := s.snapshot(o)
		snap.Lines = nil
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return s.snapshot(o), nil
}

// draftLocked returns the channel's draft, creating one when absent.
func (s *MemoryStore) draftLocked(channel string) *memOrder {
	if id, ok := s.drafts[channel]; ok {
		return s.orders[id]
	}
	s.nextOrder++
	o := &memOrder{
		id:        s.nextOrder,
		channel:   channel,
		status:    StatusDraft,
		createdAt: s.now(),
	}
	s.orders[o.id] = o
	s.drafts[channel] = o.id
	return o
}

// snapshot copies an order out with its total recomputed from the lines.
func (s *MemoryStore) snapshot(o *memOrder) Order {
	lines := make([]Line, len(o.lines))
	copy(lines, o.lines)

	total := decimal.Zero
	for _, line := range o.lines {
		if item, ok := s.items[line.MenuItemID]; ok {
			total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
	}
	return Order{
		ID:        o.id,
		Channel:   o.channel,
		Status:    o.status,
		Total:     total,
		CreatedAt: o.createdAt,
		Lines:     lines,
	}
}
