// Package httpapi exposes the operator-facing REST surface: accounts, call
// records, uploads and the sales/event ledger. The signaling relay consumes
// the same store read-only; nothing here touches live room state except the
// guest counter reported on call lookups.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callscreen/callscreen/internal/metrics"
	"github.com/callscreen/callscreen/internal/registry"
	"github.com/callscreen/callscreen/internal/registry/sqlite"
)

// RoomInfo is the slice of live relay state the API reports on call lookups.
type RoomInfo interface {
	GuestCount(callID string) int
}

type Server struct {
	store      *sqlite.Store
	rooms      RoomInfo
	log        *zap.Logger
	uploadDir  string
	sessionTTL time.Duration
	publicURL  string
}

type Config struct {
	Store      *sqlite.Store
	Rooms      RoomInfo
	Logger     *zap.Logger
	UploadDir  string
	SessionTTL time.Duration
	PublicURL  string
}

func New(cfg Config) *Server {
	return &Server{
		store:      cfg.Store,
		rooms:      cfg.Rooms,
		log:        cfg.Logger.With(zap.String("component", "api")),
		uploadDir:  cfg.UploadDir,
		sessionTTL: cfg.SessionTTL,
		publicURL:  cfg.PublicURL,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/me", s.me)

	mux.Handle("POST /api/create-call", s.requireAuth(s.createCall))
	mux.Handle("GET /api/calls", s.requireAuth(s.listCalls))
	mux.HandleFunc("GET /api/call/{callId}", s.getCall)
	mux.Handle("PATCH /api/call/{callId}", s.requireAuth(s.patchCall))
	mux.Handle("DELETE /api/call/{callId}", s.requireAuth(s.deleteCall))

	mux.Handle("GET /api/history", s.requireAuth(s.history))
	mux.Handle("GET /api/sales", s.requireAuth(s.listSales))
	mux.Handle("POST /api/sales", s.requireAuth(s.markSale))
	mux.HandleFunc("POST /api/track", s.track)

	mux.Handle("POST /api/upload-video", s.requireAuth(s.uploadVideo))
	mux.Handle("POST /api/upload-avatar", s.requireAuth(s.uploadAvatar))

	return mux
}

type callJSON struct {
	CallID          string   `json:"callId"`
	Title           string   `json:"title,omitempty"`
	VideoURL        string   `json:"videoUrl"`
	CallerName      string   `json:"callerName,omitempty"`
	CallerAvatarURL string   `json:"callerAvatarUrl,omitempty"`
	ExpiresAt       *string  `json:"expiresAt"`
	ExpectedAmount  *float64 `json:"expectedAmount"`
	CreatedAt       string   `json:"createdAt"`
	GuestsCount     *int     `json:"guestsCount,omitempty"`
}

func toCallJSON(c registry.Call) callJSON {
	out := callJSON{
		CallID:          c.ID,
		Title:           c.Title,
		VideoURL:        c.VideoURL,
		CallerName:      c.CallerName,
		CallerAvatarURL: c.CallerAvatarURL,
		ExpectedAmount:  c.ExpectedAmount,
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		v := c.ExpiresAt.UTC().Format(time.RFC3339)
		out.ExpiresAt = &v
	}
	return out
}

func (s *Server) createCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VideoURL        string `json:"videoUrl"`
		CallerName      string `json:"callerName"`
		CallerAvatarURL string `json:"callerAvatarUrl"`
		Title           string `json:"title"`
		ExpectedAmount  any    `json:"expectedAmount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.VideoURL == "" {
		writeError(w, http.StatusBadRequest, "videoUrl is required")
		return
	}

	userID := userIDFrom(r)
	now := time.Now()
	call := registry.Call{
		ID:              uuid.NewString(),
		Title:           req.Title,
		VideoURL:        req.VideoURL,
		CallerName:      req.CallerName,
		CallerAvatarURL: req.CallerAvatarURL,
		OwnerUserID:     userID,
		CreatedAt:       now,
	}
	if amt, ok := parseCurrency(req.ExpectedAmount); ok {
		call.ExpectedAmount = &amt
	}

	if err := s.store.CreateCall(r.Context(), call); err != nil {
		s.log.Error("create call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.CallsCreated.Inc()

	s.appendEvent(r, sqlite.Event{
		ID: uuid.NewString(), Type: "call_created", CallID: call.ID, At: now, UserID: userID,
	})
	// An expected amount at creation time is recorded as a sale up front.
	if call.ExpectedAmount != nil {
		s.addSale(r, sqlite.Sale{
			ID: uuid.NewString(), CallID: call.ID, Amount: *call.ExpectedAmount,
			Note: "sale recorded at call creation", At: now, UserID: userID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"callId":  call.ID,
		"ringUrl": s.publicURL + "/ring/" + call.ID,
	})
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.store.ListCallsByOwner(r.Context(), userIDFrom(r))
	if err != nil {
		s.log.Error("list calls failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]callJSON, 0, len(calls))
	for _, c := range calls {
		out = append(out, toCallJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": out})
}

// getCall is public: anyone holding a live call id may read the metadata the
// ring and video pages need.
func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.store.GetCall(r.Context(), r.PathValue("callId"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		s.log.Error("get call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call.Expired(time.Now()) {
		writeError(w, http.StatusGone, "call expired")
		return
	}
	out := toCallJSON(call)
	n := s.rooms.GuestCount(call.ID)
	out.GuestsCount = &n
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) patchCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.ownedCall(w, r)
	if !ok {
		return
	}
	var req struct {
		ExpireNow bool `json:"expireNow"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.ExpireNow {
		if err := s.store.ExpireCallNow(r.Context(), call.ID); err != nil {
			s.log.Error("expire call failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.appendEvent(r, sqlite.Event{
			ID: uuid.NewString(), Type: "call_expired", CallID: call.ID,
			At: time.Now(), UserID: userIDFrom(r),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) deleteCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.ownedCall(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteCall(r.Context(), call.ID); err != nil {
		s.log.Error("delete call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ownedCall loads the call from the path and enforces ownership.
func (s *Server) ownedCall(w http.ResponseWriter, r *http.Request) (registry.Call, bool) {
	call, err := s.store.GetCall(r.Context(), r.PathValue("callId"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return registry.Call{}, false
	}
	if err != nil {
		s.log.Error("get call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return registry.Call{}, false
	}
	if call.OwnerUserID != userIDFrom(r) {
		writeError(w, http.StatusForbidden, "not the call owner")
		return registry.Call{}, false
	}
	return call, true
}

func (s *Server) appendEvent(r *http.Request, e sqlite.Event) {
	if err := s.store.AppendEvent(r.Context(), e); err != nil {
		s.log.Warn("event append failed", zap.String("type", e.Type), zap.Error(err))
	}
}

func (s *Server) addSale(r *http.Request, sale sqlite.Sale) {
	if err := s.store.AddSale(r.Context(), sale); err != nil {
		s.log.Warn("sale insert failed", zap.Error(err))
		return
	}
	metrics.SalesMarked.Inc()
	s.appendEvent(r, sqlite.Event{
		ID: uuid.NewString(), Type: "sale_marked", CallID: sale.CallID,
		At: sale.At, Amount: &sale.Amount, UserID: sale.UserID,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
