package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/aisle/internal/auth"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/registry"
	"github.com/dukerupert/aisle/internal/respond"
)

// Inviter emails people who were invited to a store before signing up.
type Inviter interface {
	Configured() bool
	SendShareInvite(ctx context.Context, toEmail, storeName, inviterEmail string) error
}

type StoreHandler struct {
	registry *registry.Registry
	inviter  Inviter
	logger   *slog.Logger
}

func NewStoreHandler(reg *registry.Registry, inviter Inviter, logger *slog.Logger) *StoreHandler {
	return &StoreHandler{registry: reg, inviter: inviter, logger: logger}
}

type storeSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	IsOwner       bool   `json:"isOwner"`
	SectionsCount int    `json:"sectionsCount"`
}

type storeView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	IsOwner       bool            `json:"isOwner"`
	Sections      []model.Section `json:"sections"`
	Location      *model.Location `json:"location,omitempty"`
	SharedWith    []string        `json:"sharedWith,omitempty"`
	PendingShares []string        `json:"pendingShares,omitempty"`
}

// viewStore shows sharing details to the owner only.
func viewStore(s *model.Store, userID string) storeView {
	v := storeView{
		ID:       s.ID,
		Name:     s.Name,
		IsOwner:  s.IsOwner(userID),
		Sections: s.Sections,
		Location: s.Location,
	}
	if v.Sections == nil {
		v.Sections = []model.Section{}
	}
	if v.IsOwner {
		v.SharedWith = s.SharedWith
		v.PendingShares = s.PendingShares
	}
	return v
}

func (h *StoreHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	stores, err := h.registry.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]storeSummary, len(stores))
	for i, s := range stores {
		out[i] = storeSummary{
			ID:            s.ID,
			Name:          s.Name,
			IsOwner:       s.IsOwner(userID),
			SectionsCount: len(s.Sections),
		}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"stores": out})
}

type createStoreRequest struct {
	Name     string          `json:"name"`
	Location *model.Location `json:"location"`
}

func (h *StoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	userID := callerID(r)
	s, err := h.registry.CreateStore(r.Context(), req.Name, userID, req.Location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("store created", "store_id", s.ID, "owner_id", userID)
	respond.JSON(w, http.StatusCreated, map[string]any{"store": viewStore(s, userID)})
}

func (h *StoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	s, err := h.registry.GetForUser(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"store": viewStore(s, userID)})
}

// owned resolves the path's store for its owner, writing a 404 otherwise.
func (h *StoreHandler) owned(w http.ResponseWriter, r *http.Request) (*model.Store, bool) {
	s, err := h.registry.GetOwned(r.Context(), r.PathValue("id"), callerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *StoreHandler) UpdateName(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	updated, err := h.registry.UpdateName(r.Context(), s.ID, req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"store": viewStore(updated, callerID(r))})
}

func (h *StoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.registry.DeleteStore(r.Context(), s.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("store deleted", "store_id", s.ID)
	respond.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type sectionsRequest struct {
	Sections []model.Section `json:"sections"`
}

func (h *StoreHandler) UpdateSections(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req sectionsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	sections, err := h.registry.UpdateSections(r.Context(), s.ID, req.Sections)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (h *StoreHandler) AddSection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	sections, err := h.registry.AddSection(r.Context(), s.ID, req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"sections": sections})
}

func (h *StoreHandler) RemoveSection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	sections, err := h.registry.RemoveSection(r.Context(), s.ID, r.PathValue("sectionId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"sections": sections})
}

type shareRequest struct {
	Email string `json:"email"`
}

// Share invites an email to the store. Unknown emails become pending
// invites and get a notification when email is configured.
func (h *StoreHandler) Share(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	caller, _ := auth.FromContext(r.Context())
	res, err := h.registry.Share(r.Context(), s.ID, req.Email, caller.UserID, caller.Email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if res.Pending && h.inviter != nil && h.inviter.Configured() {
		if err := h.inviter.SendShareInvite(r.Context(), res.Email, s.Name, caller.Email); err != nil {
			h.logger.Warn("send share invite", "store_id", s.ID, "error", err)
		}
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"share": res})
}

func (h *StoreHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.registry.Unshare(r.Context(), s.ID, r.PathValue("userId")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (h *StoreHandler) CancelPendingShare(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.registry.CancelPendingShare(r.Context(), s.ID, r.PathValue("email")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"removed": true})
}
