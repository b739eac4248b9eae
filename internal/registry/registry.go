// Package registry owns store documents: names, ordered sections and the
// people a store is shared with.
//
// Owner-only operations are not gated here. Callers check Store.IsOwner
// before calling them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/aisle/internal/docstore"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/validate"
)

const (
	MaxStoresPerOwner = 20
	MaxSections       = 50

	convertConcurrency = 8
)

// DefaultSections are created, in this order, for every new store.
var DefaultSections = []string{
	"Produce",
	"Dairy",
	"Meat & Seafood",
	"Bakery",
	"Pantry",
	"Frozen",
	"Snacks & Beverages",
	"Household",
}

// UserLookup finds registered users by normalized email.
type UserLookup interface {
	GetByEmail(email string) (*model.User, error)
}

// ShareResult tells the caller which set an invite landed in.
type ShareResult struct {
	UserID  string `json:"userId,omitempty"`
	Email   string `json:"email"`
	Pending bool   `json:"pending"`
}

type Registry struct {
	docs   docstore.Store
	users  UserLookup
	logger *slog.Logger
	now    func() time.Time
}

func New(docs docstore.Store, users UserLookup, logger *slog.Logger) *Registry {
	return &Registry{
		docs:   docs,
		users:  users,
		logger: logger.With("component", "registry"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateStore creates a store with the default sections and its empty list
// in one write.
func (r *Registry) CreateStore(ctx context.Context, name, ownerID string, loc *model.Location) (*model.Store, error) {
	name, err := validate.StoreName(name)
	if err != nil {
		return nil, err
	}
	if loc != nil {
		if err := validateLocation(*loc); err != nil {
			return nil, err
		}
	}

	owned, err := r.ListOwned(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(owned) >= MaxStoresPerOwner {
		return nil, &model.CapacityError{Message: fmt.Sprintf("Maximum %d stores per user", MaxStoresPerOwner)}
	}
	for _, s := range owned {
		if strings.EqualFold(s.Name, name) {
			return nil, fmt.Errorf("store %q: %w", name, model.ErrDuplicateName)
		}
	}

	now := r.now()
	store := model.Store{
		ID:            uuid.NewString(),
		Name:          name,
		OwnerID:       ownerID,
		SharedWith:    []string{},
		PendingShares: []string{},
		Sections:      make([]model.Section, len(DefaultSections)),
		Location:      loc,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, n := range DefaultSections {
		store.Sections[i] = model.Section{ID: uuid.NewString(), Name: n, Order: i}
	}
	list := model.ShoppingList{
		StoreID:   store.ID,
		Items:     []model.ShoppingItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.docs.SetAll(ctx, map[string]any{
		model.StorePath(store.ID):        store,
		model.ShoppingListPath(store.ID): list,
	})
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	return &store, nil
}

// Get returns the store, or nil if it does not exist.
func (r *Registry) Get(ctx context.Context, storeID string) (*model.Store, error) {
	var s model.Store
	ok, err := r.docs.Get(ctx, model.StorePath(storeID), &s)
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if s.ID == "" {
		s.ID = storeID
	}
	return &s, nil
}

// GetForUser returns the store if userID can access it. Absence and lack of
// access both yield a not-found error.
func (r *Registry) GetForUser(ctx context.Context, storeID, userID string) (*model.Store, error) {
	s, err := r.Get(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.HasAccess(userID) {
		return nil, model.NotFound("Store not found or access denied")
	}
	return s, nil
}

// GetOwned is GetForUser restricted to the owner.
func (r *Registry) GetOwned(ctx context.Context, storeID, userID string) (*model.Store, error) {
	s, err := r.Get(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.IsOwner(userID) {
		return nil, model.NotFound("Store not found or access denied")
	}
	return s, nil
}

// CanAccess reports whether userID owns the store or it is shared with them.
func (r *Registry) CanAccess(ctx context.Context, userID, storeID string) (bool, error) {
	s, err := r.Get(ctx, storeID)
	if err != nil {
		return false, err
	}
	return s != nil && s.HasAccess(userID), nil
}

func (r *Registry) ListOwned(ctx context.Context, ownerID string) ([]model.Store, error) {
	return r.query(ctx, docstore.Filter{Field: "ownerId", Op: docstore.OpEqual, Value: ownerID})
}

// ListForUser returns owned stores followed by stores shared with userID.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]model.Store, error) {
	owned, err := r.ListOwned(ctx, userID)
	if err != nil {
		return nil, err
	}
	shared, err := r.query(ctx, docstore.Filter{Field: "sharedWith", Op: docstore.OpArrayContains, Value: userID})
	if err != nil {
		return nil, err
	}
	return append(owned, shared...), nil
}

// ListAll returns every store.
func (r *Registry) ListAll(ctx context.Context) ([]model.Store, error) {
	return r.query(ctx)
}

func (r *Registry) query(ctx context.Context, filters ...docstore.Filter) ([]model.Store, error) {
	docs, err := r.docs.Query(ctx, model.StoresCollection, filters...)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	stores := make([]model.Store, 0, len(docs))
	for _, d := range docs {
		var s model.Store
		if err := d.Decode(&s); err != nil {
			return nil, err
		}
		if s.ID == "" {
			s.ID = d.ID()
		}
		stores = append(stores, s)
	}
	return stores, nil
}

// UpdateName renames a store. Names stay unique per owner.
func (r *Registry) UpdateName(ctx context.Context, storeID, name string) (*model.Store, error) {
	name, err := validate.StoreName(name)
	if err != nil {
		return nil, err
	}
	s, err := r.mustGet(ctx, storeID)
	if err != nil {
		return nil, err
	}
	owned, err := r.ListOwned(ctx, s.OwnerID)
	if err != nil {
		return nil, err
	}
	for _, o := range owned {
		if o.ID != storeID && strings.EqualFold(o.Name, name) {
			return nil, fmt.Errorf("store %q: %w", name, model.ErrDuplicateName)
		}
	}

	s.Name = name
	s.UpdatedAt = r.now()
	if err := r.docs.Update(ctx, model.StorePath(storeID), map[string]any{
		"name":      s.Name,
		"updatedAt": s.UpdatedAt,
	}); err != nil {
		return nil, fmt.Errorf("update store name: %w", err)
	}
	return s, nil
}

// UpdateSections replaces the section list. Order is taken from position;
// sections without an id get one.
func (r *Registry) UpdateSections(ctx context.Context, storeID string, sections []model.Section) ([]model.Section, error) {
	if len(sections) > MaxSections {
		return nil, &model.CapacityError{Message: fmt.Sprintf("Maximum %d sections per store", MaxSections)}
	}
	seen := make(map[string]bool, len(sections))
	out := make([]model.Section, len(sections))
	for i, sec := range sections {
		name, err := validate.SectionName(sec.Name)
		if err != nil {
			return nil, err
		}
		if sec.ID == "" {
			sec.ID = uuid.NewString()
		}
		if seen[sec.ID] {
			return nil, model.Invalid("Duplicate section id %q", sec.ID)
		}
		seen[sec.ID] = true
		out[i] = model.Section{ID: sec.ID, Name: name}
	}
	renumber(out)

	if _, err := r.mustGet(ctx, storeID); err != nil {
		return nil, err
	}
	if err := r.saveSections(ctx, storeID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddSection appends a section at the end.
func (r *Registry) AddSection(ctx context.Context, storeID, name string) ([]model.Section, error) {
	name, err := validate.SectionName(name)
	if err != nil {
		return nil, err
	}
	s, err := r.mustGet(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if len(s.Sections) >= MaxSections {
		return nil, &model.CapacityError{Message: fmt.Sprintf("Maximum %d sections per store", MaxSections)}
	}
	sections := append(s.Sections, model.Section{ID: uuid.NewString(), Name: name})
	renumber(sections)
	if err := r.saveSections(ctx, storeID, sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// RemoveSection drops a section and renumbers the rest. Items that pointed at
// it keep the dangling id.
func (r *Registry) RemoveSection(ctx context.Context, storeID, sectionID string) ([]model.Section, error) {
	s, err := r.mustGet(ctx, storeID)
	if err != nil {
		return nil, err
	}
	sections := slices.DeleteFunc(s.Sections, func(sec model.Section) bool { return sec.ID == sectionID })
	renumber(sections)
	if err := r.saveSections(ctx, storeID, sections); err != nil {
		return nil, err
	}
	return sections, nil
}

func (r *Registry) saveSections(ctx context.Context, storeID string, sections []model.Section) error {
	if sections == nil {
		sections = []model.Section{}
	}
	err := r.docs.Update(ctx, model.StorePath(storeID), map[string]any{
		"sections":  sections,
		"updatedAt": r.now(),
	})
	if err != nil {
		return fmt.Errorf("save sections: %w", err)
	}
	return nil
}

func renumber(sections []model.Section) {
	for i := range sections {
		sections[i].Order = i
	}
}

// Share grants access to the user registered under email, or records a
// pending invite when nobody is. actorEmail is the caller's own address.
func (r *Registry) Share(ctx context.Context, storeID, email, actorID, actorEmail string) (*ShareResult, error) {
	email, err := validate.Email(email)
	if err != nil {
		return nil, err
	}
	if email == validate.NormalizeEmail(actorEmail) {
		return nil, model.Invalid("Cannot share with yourself")
	}
	s, err := r.mustGet(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if slices.Contains(s.PendingShares, email) {
		return nil, model.Invalid("Invite already sent to this email")
	}

	user, err := r.users.GetByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	stamp := map[string]any{"updatedAt": r.now()}
	if user == nil {
		if err := r.docs.ArrayUnion(ctx, model.StorePath(storeID), "pendingShares", []any{email}, stamp); err != nil {
			return nil, fmt.Errorf("add pending share: %w", err)
		}
		return &ShareResult{Email: email, Pending: true}, nil
	}

	if user.ID == actorID || user.ID == s.OwnerID {
		return nil, model.Invalid("Cannot share with yourself")
	}
	if slices.Contains(s.SharedWith, user.ID) {
		return nil, model.Invalid("Already shared with this user")
	}
	if err := r.docs.ArrayUnion(ctx, model.StorePath(storeID), "sharedWith", []any{user.ID}, stamp); err != nil {
		return nil, fmt.Errorf("share store: %w", err)
	}
	return &ShareResult{UserID: user.ID, Email: email}, nil
}

// ConvertPendingToAccepted moves email from pendingShares to userID in
// sharedWith on every store that invited it. Running it again finds no
// pending invites and changes nothing.
func (r *Registry) ConvertPendingToAccepted(ctx context.Context, email, userID string) (int, error) {
	email = validate.NormalizeEmail(email)
	if email == "" || userID == "" {
		return 0, nil
	}
	docs, err := r.docs.Query(ctx, model.StoresCollection,
		docstore.Filter{Field: "pendingShares", Op: docstore.OpArrayContains, Value: email})
	if err != nil {
		return 0, fmt.Errorf("find pending shares: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(convertConcurrency)
	now := r.now()
	for _, d := range docs {
		path := d.Path
		g.Go(func() error {
			return r.docs.RunTransaction(gctx, func(tx *docstore.Tx) error {
				var s model.Store
				ok, err := tx.Get(path, &s)
				if err != nil || !ok {
					return err
				}
				s.PendingShares = slices.DeleteFunc(s.PendingShares, func(e string) bool { return e == email })
				if s.OwnerID != userID && !slices.Contains(s.SharedWith, userID) {
					s.SharedWith = append(s.SharedWith, userID)
				}
				s.UpdatedAt = now
				return tx.Set(path, s)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("convert pending shares: %w", err)
	}
	if len(docs) > 0 {
		r.logger.Info("pending shares accepted", "user_id", userID, "stores", len(docs))
	}
	return len(docs), nil
}

// Unshare removes userID from sharedWith. Absent ids are not an error.
func (r *Registry) Unshare(ctx context.Context, storeID, userID string) error {
	err := r.docs.ArrayRemove(ctx, model.StorePath(storeID), "sharedWith", []any{userID},
		map[string]any{"updatedAt": r.now()})
	if err != nil {
		return r.notFound(err, "unshare store")
	}
	return nil
}

// CancelPendingShare removes an invite. Absent invites are not an error.
func (r *Registry) CancelPendingShare(ctx context.Context, storeID, email string) error {
	err := r.docs.ArrayRemove(ctx, model.StorePath(storeID), "pendingShares", []any{validate.NormalizeEmail(email)},
		map[string]any{"updatedAt": r.now()})
	if err != nil {
		return r.notFound(err, "cancel pending share")
	}
	return nil
}

// DeleteStore removes the store with its list and learned items.
func (r *Registry) DeleteStore(ctx context.Context, storeID string) error {
	if err := r.docs.DeleteTree(ctx, model.StorePath(storeID)); err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	return nil
}

func (r *Registry) mustGet(ctx context.Context, storeID string) (*model.Store, error) {
	s, err := r.Get(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, model.NotFound("Store not found or access denied")
	}
	return s, nil
}

func (r *Registry) notFound(err error, op string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return model.NotFound("Store not found or access denied")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func validateLocation(loc model.Location) error {
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return model.Invalid("Invalid location coordinates")
	}
	return nil
}
