package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/aisle/internal/apikey"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/registry"
	"github.com/dukerupert/aisle/internal/respond"
	"github.com/dukerupert/aisle/internal/store"
	"github.com/dukerupert/aisle/internal/validate"
)

// UserHandler serves the routes the identity provider calls when accounts
// are created and when users manage their API key.
type UserHandler struct {
	users    *store.UserStore
	registry *registry.Registry
	gate     *apikey.Gate
	logger   *slog.Logger
}

func NewUserHandler(us *store.UserStore, reg *registry.Registry, gate *apikey.Gate, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: us, registry: reg, gate: gate, logger: logger}
}

type createUserRequest struct {
	ID    string `json:"id" validate:"omitempty,max=128"`
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=100"`
}

// Create registers a user, or returns the existing one for the same email,
// and accepts any pending store invites for that email.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	email := validate.NormalizeEmail(req.Email)

	status := http.StatusOK
	u, err := h.users.GetByEmail(email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if u == nil {
		u, err = h.users.Create(req.ID, email, strings.TrimSpace(req.Name))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		status = http.StatusCreated
		h.logger.Info("user created", "user_id", u.ID)
	}

	accepted, err := h.registry.ConvertPendingToAccepted(r.Context(), u.Email, u.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, status, map[string]any{"user": u, "acceptedShares": accepted})
}

// user resolves the path's user, writing a 404 when absent.
func (h *UserHandler) user(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	u, err := h.users.GetByID(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	if u == nil {
		respond.Error(w, http.StatusNotFound, "User not found")
		return nil, false
	}
	return u, true
}

func (h *UserHandler) KeyStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	st, err := h.gate.Status(u.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

// GenerateKey returns the raw key. It is not retrievable afterwards.
func (h *UserHandler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	key, err := h.gate.GenerateKey(u.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"apiKey":  key,
		"message": "Save this key now. It will not be shown again.",
	})
}

func (h *UserHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.gate.Revoke(u.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"revoked": true})
}
