// Package relay holds the in-memory room model and message routing for the
// signaling service. Rooms are volatile: a restart loses them and clients
// rebuild state by re-joining.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/callscreen/callscreen/internal/metrics"
	"github.com/callscreen/callscreen/internal/registry"
)

// Admission errors. Each one is terminal for the joining socket.
var (
	ErrCallNotFound     = errors.New("call-not-found")
	ErrCallExpired      = errors.New("call-expired")
	ErrHostSlotOccupied = errors.New("host-slot-occupied")
)

// Table maps call identifiers to live rooms. One mutex serializes all room
// mutation; message rates are small enough that correctness wins over
// fine-grained locking.
type Table struct {
	mu    sync.Mutex
	rooms map[string]*room

	calls registry.Source
	log   *zap.Logger
	now   func() time.Time
}

func NewTable(calls registry.Source, logger *zap.Logger) *Table {
	return &Table{
		rooms: make(map[string]*room),
		calls: calls,
		log:   logger.With(zap.String("component", "relay")),
		now:   time.Now,
	}
}

// Join validates the call against the registry, then attaches a new Handle to
// the call's room and notifies the opposite role. Validation is a snapshot:
// a registry change racing with the join is resolved in the join's favor.
func (t *Table) Join(ctx context.Context, callID string, role Role, clientID string, conn Conn) (*Handle, error) {
	call, err := t.calls.GetCall(ctx, callID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		// Registry unavailable is indistinguishable from unknown for the client.
		t.log.Warn("registry lookup failed", zap.String("callID", callID), zap.Error(err))
		return nil, ErrCallNotFound
	}
	if call.Expired(t.now()) {
		return nil, ErrCallExpired
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.rooms[callID]
	created := r == nil
	if created {
		r = newRoom(callID)
	}

	h := &Handle{ClientID: clientID, Role: role, CallID: callID, conn: conn}

	switch role {
	case RoleHost:
		if r.host != nil {
			// Rejected rather than replaced: the client never attempts a
			// second host, so an occupied slot means a stale or rogue join.
			return nil, ErrHostSlotOccupied
		}
		r.host = h
		metrics.HostsActive.Inc()
	case RoleGuest:
		if prev := r.guests[clientID]; prev != nil {
			// Same-client re-join replaces the socket without a second
			// guest-joined announcement.
			prev.detached = true
			_ = prev.conn.Close()
			r.guests[clientID] = h
			t.send(h, outbound{Type: "joined"})
			return h, nil
		}
		r.guests[clientID] = h
		metrics.GuestsActive.Inc()
	}

	if created {
		t.rooms[callID] = r
		metrics.RoomsActive.Inc()
	}

	t.send(h, outbound{Type: "joined"})
	if role == RoleHost {
		for _, g := range r.guests {
			t.send(g, outbound{Type: "host-joined"})
		}
	} else if r.host != nil {
		t.send(r.host, outbound{Type: "guest-joined", GuestID: clientID})
	}

	t.log.Info("peer joined",
		zap.String("callID", callID),
		zap.String("clientID", clientID),
		zap.String("role", string(role)),
	)
	return h, nil
}

// Leave detaches the handle from its room, fires presence notifications and
// drops the room once it is empty. Safe to call more than once per handle.
func (t *Table) Leave(h *Handle) {
	if h == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if h.detached {
		return
	}
	h.detached = true

	r := t.rooms[h.CallID]
	if r == nil {
		return
	}

	switch h.Role {
	case RoleHost:
		if r.host != h {
			return
		}
		r.host = nil
		metrics.HostsActive.Dec()
		for _, g := range r.guests {
			t.send(g, outbound{Type: "host-left"})
		}
	case RoleGuest:
		if r.guests[h.ClientID] != h {
			return
		}
		delete(r.guests, h.ClientID)
		metrics.GuestsActive.Dec()
		if r.host != nil {
			t.send(r.host, outbound{Type: "guest-left", GuestID: h.ClientID})
		}
	}

	t.log.Info("peer left",
		zap.String("callID", h.CallID),
		zap.String("clientID", h.ClientID),
		zap.String("role", string(h.Role)),
	)

	t.removeIfEmptyLocked(h.CallID)
}

func (t *Table) removeIfEmptyLocked(callID string) {
	if r := t.rooms[callID]; r != nil && r.empty() {
		delete(t.rooms, callID)
		metrics.RoomsActive.Dec()
	}
}

// Offer forwards the host's session description to exactly the named guest.
func (t *Table) Offer(h *Handle, targetGuestID string, offer json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.activeRoom(h)
	if r == nil || h.Role != RoleHost || r.host != h {
		t.drop(h, "offer", "sender is not the room host")
		return
	}
	g := r.guests[targetGuestID]
	if g == nil {
		t.drop(h, "offer", "target guest absent")
		return
	}
	t.send(g, outbound{Type: "offer", Offer: offer, HostID: h.ClientID})
}

// Answer forwards a guest's session description to the room host.
func (t *Table) Answer(h *Handle, answer json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.activeRoom(h)
	if r == nil || h.Role != RoleGuest {
		t.drop(h, "answer", "sender is not a guest")
		return
	}
	if r.host == nil {
		t.drop(h, "answer", "host absent")
		return
	}
	t.send(r.host, outbound{Type: "answer", Answer: answer, GuestID: h.ClientID})
}

// Candidate forwards a connectivity candidate point-to-point: host to the
// named guest, guest to the host. Never broadcast.
func (t *Table) Candidate(h *Handle, targetGuestID string, candidate json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.activeRoom(h)
	if r == nil {
		t.drop(h, "ice-candidate", "room gone")
		return
	}
	if h.Role == RoleHost {
		g := r.guests[targetGuestID]
		if g == nil {
			t.drop(h, "ice-candidate", "target guest absent")
			return
		}
		t.send(g, outbound{Type: "ice-candidate", Candidate: candidate})
		return
	}
	if r.host == nil {
		t.drop(h, "ice-candidate", "host absent")
		return
	}
	t.send(r.host, outbound{Type: "ice-candidate", Candidate: candidate, GuestID: h.ClientID})
}

// Ready tells the sending guest to start local playback once its audio leg is
// up. The play cue goes back to that guest alone.
func (t *Table) Ready(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.activeRoom(h)
	if r == nil || h.Role != RoleGuest {
		t.drop(h, "ready", "sender is not a guest")
		return
	}
	if r.host == nil {
		t.drop(h, "ready", "host absent")
		return
	}
	t.send(h, outbound{Type: "play"})
}

// RoomCount reports the number of live rooms.
func (t *Table) RoomCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// GuestCount reports the number of guests currently in the call's room.
func (t *Table) GuestCount(callID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r := t.rooms[callID]; r != nil {
		return len(r.guests)
	}
	return 0
}

// HasHost reports whether the call's room currently has a host attached.
func (t *Table) HasHost(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.rooms[callID]
	return r != nil && r.host != nil
}

// activeRoom returns the sender's room, or nil when the handle has already
// been detached. Routing always uses the handle's own call id, never one
// supplied in a message, so frames cannot cross rooms.
func (t *Table) activeRoom(h *Handle) *room {
	if h == nil || h.detached {
		return nil
	}
	return t.rooms[h.CallID]
}

// send writes best-effort. A failed write is the peer's problem; the sender's
// processing loop keeps going and the reader side will notice the dead socket.
func (t *Table) send(to *Handle, msg outbound) {
	if err := to.conn.WriteJSON(msg); err != nil {
		t.log.Debug("send failed",
			zap.String("callID", to.CallID),
			zap.String("clientID", to.ClientID),
			zap.Error(err),
		)
	}
}

func (t *Table) drop(h *Handle, msgType, reason string) {
	metrics.RelayDropped.Inc()
	t.log.Debug("message dropped",
		zap.String("type", msgType),
		zap.String("callID", h.CallID),
		zap.String("clientID", h.ClientID),
		zap.String("reason", reason),
	)
}
