// Package learned remembers the item names added to each store so that new
// entries can be suggested by frequency and fuzzy similarity.
package learned

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/aisle/internal/docstore"
	"github.com/dukerupert/aisle/internal/model"
)

type Ranker struct {
	docs docstore.Store
	now  func() time.Time
}

func NewRanker(docs docstore.Store) *Ranker {
	return &Ranker{
		docs: docs,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Normalize is the key learned items are unique under within a store.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Upsert records one use of name under sectionID. An existing item gets its
// frequency incremented and its section replaced by the latest one; otherwise
// a new item is created with frequency 1.
//
// Lookup and create are separate steps, so two callers adding the same new
// name at the same moment can both create a row.
func (r *Ranker) Upsert(ctx context.Context, storeID, name, sectionID, actorID string) (*model.LearnedItem, error) {
	key := Normalize(name)
	if key == "" {
		return nil, model.Invalid("Item name cannot be empty")
	}

	existing, err := r.docs.Query(ctx, model.LearnedItemsCollection(storeID),
		docstore.Filter{Field: "name", Op: docstore.OpEqual, Value: key})
	if err != nil {
		return nil, fmt.Errorf("find learned item: %w", err)
	}

	now := r.now()
	if len(existing) > 0 {
		path := existing[0].Path
		var item model.LearnedItem
		err := r.docs.RunTransaction(ctx, func(tx *docstore.Tx) error {
			ok, err := tx.Get(path, &item)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("learned item %s: %w", path, model.ErrNotFound)
			}
			item.Frequency++
			item.LastUsed = now
			item.SectionID = sectionID
			return tx.Set(path, item)
		})
		if err != nil {
			return nil, fmt.Errorf("update learned item: %w", err)
		}
		return &item, nil
	}

	item := model.LearnedItem{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		Name:      key,
		SectionID: sectionID,
		Frequency: 1,
		LastUsed:  now,
		CreatedBy: actorID,
	}
	if err := r.docs.Set(ctx, model.LearnedItemPath(storeID, item.ID), item); err != nil {
		return nil, fmt.Errorf("create learned item: %w", err)
	}
	return &item, nil
}

// List returns every learned item of a store.
func (r *Ranker) List(ctx context.Context, storeID string) ([]model.LearnedItem, error) {
	docs, err := r.docs.List(ctx, model.LearnedItemsCollection(storeID))
	if err != nil {
		return nil, fmt.Errorf("list learned items: %w", err)
	}
	items := make([]model.LearnedItem, 0, len(docs))
	for _, d := range docs {
		var item model.LearnedItem
		if err := d.Decode(&item); err != nil {
			return nil, err
		}
		if item.ID == "" {
			item.ID = d.ID()
		}
		items = append(items, item)
	}
	return items, nil
}

// Suggest loads a store's learned items and ranks them against query.
func (r *Ranker) Suggest(ctx context.Context, storeID, query string) ([]model.LearnedItem, error) {
	items, err := r.List(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return Suggest(items, query), nil
}
