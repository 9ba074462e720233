package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/callscreen/callscreen/internal/metrics"
)

// ErrNotJoined means a socket sent signaling frames before a successful join.
var ErrNotJoined = errors.New("not joined")

// Router turns inbound frames into room transitions. It owns the join
// protocol: the first frame on a socket must be a valid join, and admission
// failures are reported once and then terminal for that socket.
type Router struct {
	table *Table
	log   *zap.Logger
}

func NewRouter(table *Table, logger *zap.Logger) *Router {
	return &Router{table: table, log: logger.With(zap.String("component", "router"))}
}

// HandleFrame processes one frame from conn. h is nil until the socket has
// joined; the returned handle replaces it. A non-nil error means the caller
// must close the socket (an error frame has already been written).
func (rt *Router) HandleFrame(ctx context.Context, h *Handle, conn Conn, raw []byte) (*Handle, error) {
	msg, err := Decode(raw)
	if err != nil {
		if h == nil {
			// Nothing is admitted before a well-formed join.
			writeError(conn, "expected join")
			return nil, fmt.Errorf("pre-join frame rejected: %w", err)
		}
		// Post-join garbage is dropped; one bad frame must not kill an
		// otherwise healthy session.
		rt.log.Debug("unparseable frame dropped",
			zap.String("clientID", h.ClientID), zap.Error(err))
		return h, nil
	}

	metrics.SignalMsg.WithLabelValues(msg.kind()).Inc()

	if h == nil {
		join, ok := msg.(Join)
		if !ok {
			writeError(conn, "expected join")
			return nil, ErrNotJoined
		}
		handle, err := rt.table.Join(ctx, join.CallID, join.Role, join.ClientID, conn)
		if err != nil {
			metrics.JoinRejected.WithLabelValues(err.Error()).Inc()
			writeError(conn, err.Error())
			return nil, err
		}
		return handle, nil
	}

	switch m := msg.(type) {
	case Join:
		// Already joined; a second join on the same socket is a client bug,
		// not a reason to tear the session down.
		rt.log.Debug("duplicate join ignored", zap.String("clientID", h.ClientID))
	case Offer:
		rt.table.Offer(h, m.TargetGuestID, m.Offer)
	case Answer:
		rt.table.Answer(h, m.Answer)
	case Candidate:
		rt.table.Candidate(h, m.TargetGuestID, m.Candidate)
	case Ready:
		rt.table.Ready(h)
	}
	return h, nil
}

// Disconnect runs the single cleanup path for a socket that has gone away.
func (rt *Router) Disconnect(h *Handle) {
	rt.table.Leave(h)
}

func writeError(conn Conn, reason string) {
	_ = conn.WriteJSON(outbound{Type: "error", Error: reason})
}
