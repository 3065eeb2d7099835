package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// defaultMenu is the Sunrise Café opening menu.
var defaultMenu = []NewMenuItemInput{
	{Name: "Espresso", Price: decimal.RequireFromString("2.50"), Available: true},
	{Name: "Americano", Price: decimal.RequireFromString("3.00"), Available: true},
	{Name: "Latte", Price: decimal.RequireFromString("5.00"), Available: true},
	{Name: "Cappuccino", Price: decimal.RequireFromString("4.50"), Available: true},
	{Name: "Flat White", Price: decimal.RequireFromString("4.00"), Available: true},
	{Name: "GF Blueberry Muffin", Price: decimal.RequireFromString("3.50"), GlutenFree: true, Available: true},
	{Name: "Almond Croissant", Price: decimal.RequireFromString("4.00"), GlutenFree: true, Available: true},
}

// SeedMenu loads the default menu into an empty store. A store that already
// has items is left untouched, so it is safe to call on every start.
func SeedMenu(ctx context.Context, store Store) error {
	existing, err := store.ListMenuItems(ctx)
	if err != nil {
		return fmt.Errorf("seed menu: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, in := range defaultMenu {
		if _, err := store.CreateMenuItem(ctx, in); err != nil {
			return fmt.Errorf("seed menu %q: %w", in.Name, err)
		}
	}
	return nil
}
