package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callscreen/callscreen/internal/registry"
	"github.com/callscreen/callscreen/internal/registry/sqlite"
)

const historyLimit = 8000

// history lists recent events. Events whose call still exists and belongs to
// someone else are hidden; orphaned events (call deleted) stay visible.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), historyLimit)
	if err != nil {
		s.log.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	userID := userIDFrom(r)
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		if !s.visibleToOwner(r, e.CallID, userID) {
			continue
		}
		item := map[string]any{
			"id":     e.ID,
			"type":   e.Type,
			"callId": e.CallID,
			"at":     e.At.UTC().Format(time.RFC3339),
		}
		if e.Amount != nil {
			item["amount"] = *e.Amount
		}
		if e.UserID != "" {
			item["userId"] = e.UserID
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) listSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.store.ListSales(r.Context())
	if err != nil {
		s.log.Error("list sales failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	userID := userIDFrom(r)
	out := make([]map[string]any, 0, len(sales))
	for _, sale := range sales {
		if !s.visibleToOwner(r, sale.CallID, userID) {
			continue
		}
		item := map[string]any{
			"id":     sale.ID,
			"callId": sale.CallID,
			"amount": sale.Amount,
			"at":     sale.At.UTC().Format(time.RFC3339),
		}
		if sale.Note != "" {
			item["note"] = sale.Note
		}
		if sale.UserID != "" {
			item["userId"] = sale.UserID
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": out})
}

func (s *Server) markSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID string `json:"callId"`
		Amount any    `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	amt, ok := parseCurrency(req.Amount)
	if !ok || amt == 0 {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	s.addSale(r, sqlite.Sale{
		ID: uuid.NewString(), CallID: req.CallID, Amount: amt,
		At: time.Now(), UserID: userIDFrom(r),
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// track records anonymous funnel events (ring viewed, call accepted, ...) for
// a known call. Guests are unauthenticated, so only the call id is checked.
func (s *Server) track(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID string `json:"callId"`
		Type   string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if _, err := s.store.GetCall(r.Context(), req.CallID); err != nil {
		writeError(w, http.StatusBadRequest, "unknown call")
		return
	}
	s.appendEvent(r, sqlite.Event{
		ID: uuid.NewString(), Type: req.Type, CallID: req.CallID, At: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) visibleToOwner(r *http.Request, callID, userID string) bool {
	if callID == "" {
		return true
	}
	call, err := s.store.GetCall(r.Context(), callID)
	if errors.Is(err, registry.ErrNotFound) {
		return true // call gone, keep the trace
	}
	if err != nil {
		return false
	}
	return call.OwnerUserID == userID
}
