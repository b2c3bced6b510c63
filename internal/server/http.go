// Package server is the transport edge: JSON/HTTP handlers for the
// stateless shape and the WebSocket endpoint for the continuous shape.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"synthex/internal/domain"
	"synthex/internal/service"
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type tradeRequest struct {
	Identity string      `json:"identity"`
	Side     domain.Side `json:"side"`
	Size     int64       `json:"size"`
}

type liquidateRequest struct {
	Identity string `json:"identity"`
}

// Handler serves the stateless shape's operations.
type Handler struct {
	svc *service.MarketService
	log *slog.Logger
}

// NewHandler builds the HTTP handler for the given service.
func NewHandler(svc *service.MarketService, log *slog.Logger) http.Handler {
	h := &Handler{svc: svc, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/market", h.handleMarket)
	mux.HandleFunc("POST /api/trade", h.handleTrade)
	mux.HandleFunc("POST /api/liquidate", h.handleLiquidate)
	return mux
}

func (h *Handler) handleMarket(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Snapshot(r.URL.Query().Get("identity"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewInvalidOrder("malformed request body"))
		return
	}
	view, err := h.svc.Trade(req.Identity, req.Side, req.Size)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewInvalidOrder("malformed request body"))
		return
	}
	view, err := h.svc.Liquidate(req.Identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is logged and surfaced as a generic failure.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid_order", Message: err.Error()})
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeJSON(w, http.StatusUnprocessableEntity, errorPayload{Error: "insufficient_funds", Message: err.Error()})
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.log.Error("storage unavailable", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, errorPayload{Error: "storage_unavailable", Message: "try again later"})
	default:
		h.log.Error("unexpected failure", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "internal", Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
