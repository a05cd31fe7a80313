package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"zapask/internal/ask"
	"zapask/internal/logging"
)

type Asker interface {
	HandleAsk(ctx context.Context, req ask.Request) ask.Response
}

type AskHandler struct {
	asker   Asker
	timeout time.Duration
}

type AskRequest struct {
	TeamID    string `json:"team_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
}

func NewAskHandler(asker Asker, timeout time.Duration) *AskHandler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &AskHandler{asker: asker, timeout: timeout}
}

// HandleAsk answers with 200 for every outcome the user should see,
// including quota and feature refusals; the kind tells them apart.
func (h *AskHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("Error decoding ask request", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if req.TeamID == "" || req.ChannelID == "" || req.UserID == "" {
		http.Error(w, "team_id, channel_id and user_id are required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Query cannot be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := h.asker.HandleAsk(ctx, ask.Request{
		TeamID:    req.TeamID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Query:     req.Query,
	})
	writeJSON(w, r, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LoggerFromContext(r.Context()).Error("Error encoding response", "error", err)
	}
}
