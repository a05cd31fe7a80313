package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"zapask/internal/logging"
	"zapask/internal/tenants"
)

type OptOutStore interface {
	OptOut(ctx context.Context, teamID, userID string) (bool, error)
	OptIn(ctx context.Context, teamID, userID string) (bool, error)
}

type FeatureFlags interface {
	SetSmartContext(ctx context.Context, teamID string, enabled bool) error
}

// AccountHandler serves the per-user and per-workspace settings the command
// router forwards.
type AccountHandler struct {
	store OptOutStore
	flags FeatureFlags
}

func NewAccountHandler(store OptOutStore, flags FeatureFlags) *AccountHandler {
	return &AccountHandler{store: store, flags: flags}
}

type userRequest struct {
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

type smartContextRequest struct {
	TeamID  string `json:"team_id"`
	Enabled bool   `json:"enabled"`
}

type settingResponse struct {
	Changed bool   `json:"changed"`
	Text    string `json:"text"`
}

func (h *AccountHandler) HandleOptOut(w http.ResponseWriter, r *http.Request) {
	h.handleUser(w, r, h.store.OptOut,
		"✅ You have opted out. Your messages and files will no longer be stored, and existing data has been removed.",
		"⚠️ You are already opted out.")
}

func (h *AccountHandler) HandleOptIn(w http.ResponseWriter, r *http.Request) {
	h.handleUser(w, r, h.store.OptIn,
		"✅ You have opted in. Your new messages and files will be used to answer questions.",
		"⚠️ You are already opted in.")
}

func (h *AccountHandler) handleUser(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, teamID, userID string) (bool, error), changedText, unchangedText string) {
	logger := logging.LoggerFromContext(r.Context())

	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TeamID == "" || req.UserID == "" {
		http.Error(w, "team_id and user_id are required", http.StatusBadRequest)
		return
	}

	changed, err := apply(r.Context(), req.TeamID, req.UserID)
	if err != nil {
		logger.Error("Error updating opt-out", "team_id", req.TeamID, "user_id", req.UserID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	text := changedText
	if !changed {
		text = unchangedText
	}
	writeJSON(w, r, http.StatusOK, settingResponse{Changed: changed, Text: text})
}

func (h *AccountHandler) HandleSmartContext(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())

	var req smartContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TeamID == "" {
		http.Error(w, "team_id is required", http.StatusBadRequest)
		return
	}

	err := h.flags.SetSmartContext(r.Context(), req.TeamID, req.Enabled)
	if errors.Is(err, tenants.ErrUnknownTeam) {
		http.Error(w, "Unknown workspace", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("Error toggling smart context", "team_id", req.TeamID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	text := "Smart Context disabled."
	if req.Enabled {
		text = "Smart Context enabled."
	}
	writeJSON(w, r, http.StatusOK, settingResponse{Changed: true, Text: text})
}
