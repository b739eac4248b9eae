// Package shopping applies item changes to a store's singleton shopping list.
//
// AddItems reads and appends inside one transaction. Every other operation
// reads the list, edits the items in memory and writes the whole array back,
// so two of those running against the same stale snapshot end with the last
// writer's array.
package shopping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/aisle/internal/docstore"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/validate"
)

const (
	MaxBatchSize = 100
	MaxItems     = 1000
)

// Clear modes.
const (
	ClearChecked = "checked"
	ClearAll     = "all"
)

// Learner records added item names for suggestions.
type Learner interface {
	Upsert(ctx context.Context, storeID, name, sectionID, actorID string) (*model.LearnedItem, error)
}

// Entry is one item to add.
type Entry struct {
	Name      string `json:"name"`
	SectionID string `json:"sectionId"`
}

// Patch holds the fields UpdateItem changes. Nil fields are left alone.
type Patch struct {
	Checked   *bool   `json:"checked"`
	SectionID *string `json:"sectionId"`
	Name      *string `json:"name"`
}

type ClearResult struct {
	Cleared   int `json:"cleared"`
	Remaining int `json:"remaining"`
}

type Mutator struct {
	docs    docstore.Store
	learner Learner
	logger  *slog.Logger
	now     func() time.Time
}

func NewMutator(docs docstore.Store, learner Learner, logger *slog.Logger) *Mutator {
	return &Mutator{
		docs:    docs,
		learner: learner,
		logger:  logger.With("component", "shopping"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetList returns the store's list. A list that was never written reads as
// empty.
func (m *Mutator) GetList(ctx context.Context, storeID string) (*model.ShoppingList, error) {
	list, ok, err := m.load(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &model.ShoppingList{StoreID: storeID, Items: []model.ShoppingItem{}}, nil
	}
	return list, nil
}

// AddItems validates the whole batch, then appends it to the list in one
// transaction, creating the list if needed. Nothing is written if any entry
// is invalid or the list would grow past MaxItems. An empty batch adds
// nothing and succeeds.
func (m *Mutator) AddItems(ctx context.Context, storeID string, entries []Entry, actorID string) ([]model.ShoppingItem, error) {
	if len(entries) == 0 {
		return []model.ShoppingItem{}, nil
	}
	if len(entries) > MaxBatchSize {
		return nil, model.Invalid("Maximum %d items per request", MaxBatchSize)
	}

	now := m.now()
	added := make([]model.ShoppingItem, len(entries))
	for i, e := range entries {
		name, err := validate.ItemName(e.Name)
		if err != nil {
			return nil, err
		}
		added[i] = model.ShoppingItem{
			ID:        uuid.NewString(),
			Name:      name,
			SectionID: e.SectionID,
			AddedBy:   actorID,
			AddedAt:   now,
		}
	}

	path := model.ShoppingListPath(storeID)
	err := m.docs.RunTransaction(ctx, func(tx *docstore.Tx) error {
		var list model.ShoppingList
		ok, err := tx.Get(path, &list)
		if err != nil {
			return err
		}
		if !ok {
			list = model.ShoppingList{StoreID: storeID, CreatedAt: now}
		}
		if len(list.Items)+len(added) > MaxItems {
			return &model.CapacityError{Message: fmt.Sprintf(
				"Shopping list would exceed maximum size (%d items). Current: %d, adding: %d",
				MaxItems, len(list.Items), len(added))}
		}
		list.Items = append(list.Items, added...)
		list.UpdatedAt = now
		return tx.Set(path, list)
	})
	if err != nil {
		return nil, fmt.Errorf("add items: %w", err)
	}

	for _, item := range added {
		if item.SectionID == "" {
			continue
		}
		if _, err := m.learner.Upsert(ctx, storeID, item.Name, item.SectionID, actorID); err != nil {
			m.logger.Error("learn item", "store_id", storeID, "name", item.Name, "error", err)
		}
	}
	return added, nil
}

// UpdateItem applies patch to one item and writes the items array back.
func (m *Mutator) UpdateItem(ctx context.Context, storeID, itemID string, patch Patch) (*model.ShoppingItem, error) {
	var name string
	if patch.Name != nil {
		n, err := validate.ItemName(*patch.Name)
		if err != nil {
			return nil, err
		}
		name = n
	}

	list, err := m.mustLoad(ctx, storeID)
	if err != nil {
		return nil, err
	}
	i := indexOf(list.Items, itemID)
	if i < 0 {
		return nil, model.NotFound("Item not found")
	}

	now := m.now()
	item := &list.Items[i]
	if patch.Checked != nil {
		item.Checked = *patch.Checked
		if item.Checked {
			item.CheckedAt = &now
		} else {
			item.CheckedAt = nil
		}
	}
	if patch.SectionID != nil {
		item.SectionID = *patch.SectionID
	}
	if patch.Name != nil {
		item.Name = name
	}

	if err := m.save(ctx, storeID, list.Items, now); err != nil {
		return nil, err
	}
	updated := *item
	return &updated, nil
}

// DeleteItem removes one item.
func (m *Mutator) DeleteItem(ctx context.Context, storeID, itemID string) error {
	list, err := m.mustLoad(ctx, storeID)
	if err != nil {
		return err
	}
	i := indexOf(list.Items, itemID)
	if i < 0 {
		return model.NotFound("Item not found")
	}
	items := append(list.Items[:i:i], list.Items[i+1:]...)
	return m.save(ctx, storeID, items, m.now())
}

// ClearItems removes checked items, or every item when mode is ClearAll.
// An empty mode means ClearChecked. Clearing a list that does not exist yet
// clears nothing.
func (m *Mutator) ClearItems(ctx context.Context, storeID, mode string) (ClearResult, error) {
	if mode == "" {
		mode = ClearChecked
	}
	if mode != ClearChecked && mode != ClearAll {
		return ClearResult{}, model.Invalid("Mode must be %q or %q", ClearChecked, ClearAll)
	}

	list, ok, err := m.load(ctx, storeID)
	if err != nil {
		return ClearResult{}, err
	}
	if !ok {
		return ClearResult{}, nil
	}

	kept := []model.ShoppingItem{}
	if mode == ClearChecked {
		for _, item := range list.Items {
			if !item.Checked {
				kept = append(kept, item)
			}
		}
	}
	if err := m.save(ctx, storeID, kept, m.now()); err != nil {
		return ClearResult{}, err
	}
	return ClearResult{Cleared: len(list.Items) - len(kept), Remaining: len(kept)}, nil
}

// UncheckAll unchecks every item, keeping order and every other field, and
// returns how many items changed.
func (m *Mutator) UncheckAll(ctx context.Context, storeID string) (int, error) {
	list, ok, err := m.load(ctx, storeID)
	if err != nil || !ok {
		return 0, err
	}
	n := 0
	for i := range list.Items {
		if list.Items[i].Checked {
			n++
		}
		list.Items[i].Checked = false
		list.Items[i].CheckedAt = nil
	}
	if err := m.save(ctx, storeID, list.Items, m.now()); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Mutator) load(ctx context.Context, storeID string) (*model.ShoppingList, bool, error) {
	var list model.ShoppingList
	ok, err := m.docs.Get(ctx, model.ShoppingListPath(storeID), &list)
	if err != nil {
		return nil, false, fmt.Errorf("get shopping list: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	if list.Items == nil {
		list.Items = []model.ShoppingItem{}
	}
	return &list, true, nil
}

func (m *Mutator) mustLoad(ctx context.Context, storeID string) (*model.ShoppingList, error) {
	list, ok, err := m.load(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NotFound("Shopping list not found")
	}
	return list, nil
}

func (m *Mutator) save(ctx context.Context, storeID string, items []model.ShoppingItem, now time.Time) error {
	if items == nil {
		items = []model.ShoppingItem{}
	}
	err := m.docs.Update(ctx, model.ShoppingListPath(storeID), map[string]any{
		"items":     items,
		"updatedAt": now,
	})
	if err != nil {
		return fmt.Errorf("save shopping list: %w", err)
	}
	return nil
}

func indexOf(items []model.ShoppingItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
