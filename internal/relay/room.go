package relay

// Conn is the write side of one accepted socket. Implementations must be
// safe for concurrent writers and must fail fast instead of blocking on a
// dead peer.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Handle binds one socket to the role and room it joined. It is created only
// after a successful join and belongs to exactly one socket's lifetime.
type Handle struct {
	ClientID string
	Role     Role
	CallID   string

	conn Conn
	// detached flips once, under the table lock, when the handle leaves its
	// room (disconnect or guest replacement). It makes cleanup idempotent.
	detached bool
}

// room is the live state for one call identifier: at most one host plus any
// number of guests keyed by client id.
type room struct {
	callID string
	host   *Handle
	guests map[string]*Handle
}

func newRoom(callID string) *room {
	return &room{callID: callID, guests: make(map[string]*Handle)}
}

func (r *room) empty() bool {
	return r.host == nil && len(r.guests) == 0
}
