package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/aisle/internal/grocery"
	"github.com/dukerupert/aisle/internal/learned"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/registry"
	"github.com/dukerupert/aisle/internal/respond"
	"github.com/dukerupert/aisle/internal/shopping"
)

// ItemHandler serves the shopping list of stores the caller can access.
type ItemHandler struct {
	registry *registry.Registry
	mutator  *shopping.Mutator
	ranker   *learned.Ranker
	logger   *slog.Logger
}

func NewItemHandler(reg *registry.Registry, m *shopping.Mutator, rk *learned.Ranker, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{registry: reg, mutator: m, ranker: rk, logger: logger}
}

// store resolves the path's store for any member, writing a 404 otherwise.
func (h *ItemHandler) store(w http.ResponseWriter, r *http.Request) (*model.Store, bool) {
	s, err := h.registry.GetForUser(r.Context(), r.PathValue("id"), callerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	list, err := h.mutator.GetList(r.Context(), s.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := list.Items
	if items == nil {
		items = []model.ShoppingItem{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"items":        items,
		"checkedCount": list.CheckedCount(),
		"totalCount":   len(items),
	})
}

type addItemsRequest struct {
	Name      string           `json:"name"`
	SectionID string           `json:"sectionId"`
	Items     []shopping.Entry `json:"items"`
}

type addedItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SectionID string `json:"sectionId"`
}

// Add accepts either a single {name, sectionId} or {items: [...]}.
func (h *ItemHandler) Add(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	var req addItemsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	// An items array, even an empty one, takes precedence over name.
	var entries []shopping.Entry
	switch {
	case req.Items != nil:
		entries = req.Items
	case req.Name != "":
		entries = []shopping.Entry{{Name: req.Name, SectionID: req.SectionID}}
	default:
		writeError(w, h.logger, model.Invalid("Missing name or items in request body"))
		return
	}

	added, err := h.mutator.AddItems(r.Context(), s.ID, entries, callerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]addedItem, len(added))
	for i, it := range added {
		out[i] = addedItem{ID: it.ID, Name: it.Name, SectionID: it.SectionID}
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"added": out})
}

func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	var patch shopping.Patch
	if !decodeJSON(w, r, &patch, false) {
		return
	}
	item, err := h.mutator.UpdateItem(r.Context(), s.ID, r.PathValue("itemId"), patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"item": item})
}

func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := h.mutator.DeleteItem(r.Context(), s.ID, r.PathValue("itemId")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type clearRequest struct {
	Mode string `json:"mode"`
}

// Clear removes checked items, or every item with mode "all". A missing or
// empty body means "checked".
func (h *ItemHandler) Clear(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	var req clearRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if req.Mode == "" {
		req.Mode = shopping.ClearChecked
	}
	res, err := h.mutator.ClearItems(r.Context(), s.ID, req.Mode)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *ItemHandler) UncheckAll(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	n, err := h.mutator.UncheckAll(r.Context(), s.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"unchecked": n})
}

// Suggest ranks the store's learned items against ?q=. exactMatch carries
// the id of a learned item named exactly q; otherwise sectionHint may guess
// a section for a new name.
func (h *ItemHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))

	all, err := h.ranker.List(r.Context(), s.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	suggestions := learned.Suggest(all, q)
	if suggestions == nil {
		suggestions = []model.LearnedItem{}
	}

	resp := map[string]any{
		"suggestions": suggestions,
		"exactMatch":  nil,
		"sectionHint": nil,
	}
	if q != "" {
		if exact, ok := learned.ExactMatch(all, q); ok {
			resp["exactMatch"] = exact.ID
		} else if sec, ok := grocery.SectionHint(q, s.Sections); ok {
			resp["sectionHint"] = sec
		}
	}
	respond.JSON(w, http.StatusOK, resp)
}
