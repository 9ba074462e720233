package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/callscreen/callscreen/internal/registry"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   []outbound
	closed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, v.(outbound))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received(typ string) []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbound
	for _, m := range f.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeRegistry struct {
	calls map[string]registry.Call
}

func (f *fakeRegistry) GetCall(_ context.Context, callID string) (registry.Call, error) {
	c, ok := f.calls[callID]
	if !ok {
		return registry.Call{}, registry.ErrNotFound
	}
	return c, nil
}

func newTestTable(callIDs ...string) *Table {
	reg := &fakeRegistry{calls: make(map[string]registry.Call)}
	for _, id := range callIDs {
		reg.calls[id] = registry.Call{ID: id, VideoURL: "/uploads/v.mp4"}
	}
	return NewTable(reg, zap.NewNop())
}

func mustJoin(t *testing.T, tbl *Table, callID string, role Role, clientID string) (*Handle, *fakeConn) {
	t.Helper()
	c := &fakeConn{}
	h, err := tbl.Join(context.Background(), callID, role, clientID, c)
	if err != nil {
		t.Fatalf("join %s/%s: %v", role, clientID, err)
	}
	return h, c
}

func TestJoinUnknownCallLeavesNoRoom(t *testing.T) {
	tbl := newTestTable() // registry is empty
	c := &fakeConn{}
	_, err := tbl.Join(context.Background(), "c1", RoleGuest, "g1", c)
	if err != ErrCallNotFound {
		t.Fatalf("want ErrCallNotFound, got %v", err)
	}
	if n := tbl.RoomCount(); n != 0 {
		t.Fatalf("failed join must not leave a room, have %d", n)
	}
}

func TestJoinExpiryBoundary(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Second)
	reg := &fakeRegistry{calls: map[string]registry.Call{
		"c1": {ID: "c1", ExpiresAt: &exp},
	}}
	tbl := NewTable(reg, zap.NewNop())
	tbl.now = func() time.Time { return now }

	// One second before expiry: admitted.
	if _, err := tbl.Join(context.Background(), "c1", RoleGuest, "g1", &fakeConn{}); err != nil {
		t.Fatalf("join before expiry: %v", err)
	}

	// Exactly at the expiry instant: rejected.
	tbl.now = func() time.Time { return exp }
	_, err := tbl.Join(context.Background(), "c1", RoleGuest, "g2", &fakeConn{})
	if err != ErrCallExpired {
		t.Fatalf("join at expiry instant: want ErrCallExpired, got %v", err)
	}

	// The already-joined guest is not expelled by the expiry.
	if n := tbl.GuestCount("c1"); n != 1 {
		t.Fatalf("existing guest should survive expiry, count %d", n)
	}
}

func TestSecondHostRejected(t *testing.T) {
	tbl := newTestTable("c1")
	h1, _ := mustJoin(t, tbl, "c1", RoleHost, "h1")

	c2 := &fakeConn{}
	_, err := tbl.Join(context.Background(), "c1", RoleHost, "h2", c2)
	if err != ErrHostSlotOccupied {
		t.Fatalf("want ErrHostSlotOccupied, got %v", err)
	}
	if !tbl.HasHost("c1") {
		t.Fatalf("room must keep its original host")
	}

	// The original host keeps working.
	_, gc := mustJoin(t, tbl, "c1", RoleGuest, "g1")
	tbl.Offer(h1, "g1", json.RawMessage(`{"sdp":"x"}`))
	if got := gc.received("offer"); len(got) != 1 {
		t.Fatalf("guest should receive the original host's offer, got %d", len(got))
	}
}

func TestGuestRejoinReplacesWithoutDuplicateAnnounce(t *testing.T) {
	tbl := newTestTable("c1")
	_, hc := mustJoin(t, tbl, "c1", RoleHost, "h1")
	old, oldConn := mustJoin(t, tbl, "c1", RoleGuest, "g1")
	_, newConn := mustJoin(t, tbl, "c1", RoleGuest, "g1")

	if got := hc.received("guest-joined"); len(got) != 1 {
		t.Fatalf("host should see exactly one guest-joined for g1, got %d", len(got))
	}
	if !oldConn.closed {
		t.Fatalf("replaced guest socket should be closed")
	}
	if n := tbl.GuestCount("c1"); n != 1 {
		t.Fatalf("guest set should hold one entry, have %d", n)
	}

	// Cleanup of the replaced handle must not evict the new one or notify.
	tbl.Leave(old)
	if n := tbl.GuestCount("c1"); n != 1 {
		t.Fatalf("stale leave evicted the replacement, count %d", n)
	}
	if got := hc.received("guest-left"); len(got) != 0 {
		t.Fatalf("stale leave must not announce guest-left, got %d", len(got))
	}

	// The replacement socket is live.
	if got := newConn.received("joined"); len(got) != 1 {
		t.Fatalf("replacement should be acked with joined, got %d", len(got))
	}
}

func TestOfferReachesOnlyNamedGuest(t *testing.T) {
	tbl := newTestTable("c1")
	host, hc := mustJoin(t, tbl, "c1", RoleHost, "h1")
	_, g1 := mustJoin(t, tbl, "c1", RoleGuest, "g1")
	_, g2 := mustJoin(t, tbl, "c1", RoleGuest, "g2")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0 fingerprint"}`)
	tbl.Offer(host, "g1", payload)

	got := g1.received("offer")
	if len(got) != 1 {
		t.Fatalf("named guest offers = %d, want 1", len(got))
	}
	if string(got[0].Offer) != string(payload) {
		t.Fatalf("offer not verbatim: %s", got[0].Offer)
	}
	if got[0].HostID != "h1" {
		t.Fatalf("offer hostId = %q", got[0].HostID)
	}
	if n := len(g2.received("offer")); n != 0 {
		t.Fatalf("other guest must not see the offer, got %d", n)
	}
	if n := len(hc.received("offer")); n != 0 {
		t.Fatalf("host must not receive its own offer back, got %d", n)
	}
}

func TestAnswerTaggedWithGuestID(t *testing.T) {
	tbl := newTestTable("c1")
	_, hc := mustJoin(t, tbl, "c1", RoleHost, "h1")
	g, _ := mustJoin(t, tbl, "c1", RoleGuest, "g1")

	payload := json.RawMessage(`{"type":"answer","sdp":"a"}`)
	tbl.Answer(g, payload)

	got := hc.received("answer")
	if len(got) != 1 {
		t.Fatalf("host answers = %d, want 1", len(got))
	}
	if got[0].GuestID != "g1" || string(got[0].Answer) != string(payload) {
		t.Fatalf("answer mis-tagged: %+v", got[0])
	}
}

func TestCandidateRouting(t *testing.T) {
	tbl := newTestTable("c1")
	host, hc := mustJoin(t, tbl, "c1", RoleHost, "h1")
	g, g1 := mustJoin(t, tbl, "c1", RoleGuest, "g1")

	tbl.Candidate(host, "g1", json.RawMessage(`{"c":1}`))
	if n := len(g1.received("ice-candidate")); n != 1 {
		t.Fatalf("guest candidates = %d, want 1", n)
	}

	tbl.Candidate(g, "", json.RawMessage(`{"c":2}`))
	got := hc.received("ice-candidate")
	if len(got) != 1 || got[0].GuestID != "g1" {
		t.Fatalf("host candidate missing guest tag: %+v", got)
	}

	// Candidate for a guest that already left is dropped, not an error.
	tbl.Candidate(host, "ghost", json.RawMessage(`{"c":3}`))
	if n := len(g1.received("ice-candidate")); n != 1 {
		t.Fatalf("stray candidate leaked, guest now has %d", n)
	}
}

func TestReadyCuesPlayForSendingGuestOnly(t *testing.T) {
	tbl := newTestTable("c1")
	_, hc := mustJoin(t, tbl, "c1", RoleHost, "h1")
	g, gc := mustJoin(t, tbl, "c1", RoleGuest, "g1")
	_, g2 := mustJoin(t, tbl, "c1", RoleGuest, "g2")

	tbl.Ready(g)
	if n := len(gc.received("play")); n != 1 {
		t.Fatalf("sending guest play cues = %d, want 1", n)
	}
	if len(g2.received("play")) != 0 || len(hc.received("play")) != 0 {
		t.Fatalf("play must stay guest-local")
	}
}

func TestReadyWithoutHostDropped(t *testing.T) {
	tbl := newTestTable("c1")
	g, gc := mustJoin(t, tbl, "c1", RoleGuest, "g1")
	tbl.Ready(g)
	if n := len(gc.received("play")); n != 0 {
		t.Fatalf("ready without a host must not cue play, got %d", n)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	tbl := newTestTable("c1")
	_, hc := mustJoin(t, tbl, "c1", RoleHost, "h1")
	g, _ := mustJoin(t, tbl, "c1", RoleGuest, "g1")

	tbl.Leave(g)
	tbl.Leave(g)

	if got := hc.received("guest-left"); len(got) != 1 || got[0].GuestID != "g1" {
		t.Fatalf("want exactly one guest-left for g1, got %+v", got)
	}
	if n := tbl.GuestCount("c1"); n != 0 {
		t.Fatalf("guest count after double leave = %d", n)
	}
	if n := tbl.RoomCount(); n != 1 {
		t.Fatalf("room should survive while the host remains, count %d", n)
	}
}

func TestHostLeftBroadcastAndRoomTeardown(t *testing.T) {
	tbl := newTestTable("c2")
	host, _ := mustJoin(t, tbl, "c2", RoleHost, "h1")
	_, g1 := mustJoin(t, tbl, "c2", RoleGuest, "g1")
	_, g2 := mustJoin(t, tbl, "c2", RoleGuest, "g2")

	tbl.Leave(host)
	if len(g1.received("host-left")) != 1 || len(g2.received("host-left")) != 1 {
		t.Fatalf("every remaining guest should see host-left")
	}
	if n := tbl.RoomCount(); n != 1 {
		t.Fatalf("room with guests must survive host leave, count %d", n)
	}

	// Remove the guests; the room should vanish with the last one.
	tblLeaveAllGuests(tbl, "c2")
	if n := tbl.RoomCount(); n != 0 {
		t.Fatalf("empty room must be removed, count %d", n)
	}
}

func tblLeaveAllGuests(tbl *Table, callID string) {
	tbl.mu.Lock()
	r := tbl.rooms[callID]
	var gs []*Handle
	if r != nil {
		for _, g := range r.guests {
			gs = append(gs, g)
		}
	}
	tbl.mu.Unlock()
	for _, g := range gs {
		tbl.Leave(g)
	}
}

// Full exchange mirroring a real call: join, negotiate, disconnect, teardown.
func TestCallLifecycleScenario(t *testing.T) {
	tbl := newTestTable("c2")
	host, hc := mustJoin(t, tbl, "c2", RoleHost, "h1")
	g, gc := mustJoin(t, tbl, "c2", RoleGuest, "g1")

	if got := hc.received("guest-joined"); len(got) != 1 || got[0].GuestID != "g1" {
		t.Fatalf("host missed guest-joined: %+v", got)
	}

	tbl.Offer(host, "g1", json.RawMessage(`{"sdp":"offer"}`))
	if got := gc.received("offer"); len(got) != 1 || got[0].HostID != "h1" {
		t.Fatalf("guest missed offer: %+v", got)
	}

	tbl.Answer(g, json.RawMessage(`{"sdp":"answer"}`))
	if got := hc.received("answer"); len(got) != 1 || got[0].GuestID != "g1" {
		t.Fatalf("host missed answer: %+v", got)
	}

	tbl.Leave(g)
	if got := hc.received("guest-left"); len(got) != 1 || got[0].GuestID != "g1" {
		t.Fatalf("host missed guest-left: %+v", got)
	}
	if n := tbl.RoomCount(); n != 1 {
		t.Fatalf("room should still exist with host present, count %d", n)
	}

	tbl.Leave(host)
	if n := tbl.RoomCount(); n != 0 {
		t.Fatalf("room should be removed after host leaves, count %d", n)
	}
}

func TestGuestJoinedMatchesGuestSet(t *testing.T) {
	tbl := newTestTable("c1")
	_, hc := mustJoin(t, tbl, "c1", RoleHost, "h1")

	const N = 10
	handles := make([]*Handle, 0, N)
	for i := 0; i < N; i++ {
		h, _ := mustJoin(t, tbl, "c1", RoleGuest, string(rune('a'+i)))
		handles = append(handles, h)
	}

	joined := hc.received("guest-joined")
	if len(joined) != N {
		t.Fatalf("guest-joined events = %d, want %d", len(joined), N)
	}
	seen := map[string]bool{}
	for _, m := range joined {
		if seen[m.GuestID] {
			t.Fatalf("duplicate guest-joined for %q", m.GuestID)
		}
		seen[m.GuestID] = true
	}
	if n := tbl.GuestCount("c1"); n != N {
		t.Fatalf("guest count = %d, want %d", n, N)
	}

	tbl.Leave(handles[3])
	if got := hc.received("guest-left"); len(got) != 1 {
		t.Fatalf("guest-left events = %d, want 1", len(got))
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	tbl := newTestTable("c1")
	_, _ = mustJoin(t, tbl, "c1", RoleHost, "h1")

	const N = 200
	var wg sync.WaitGroup
	handles := make([]*Handle, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := tbl.Join(context.Background(), "c1", RoleGuest, clientID(i), &fakeConn{})
			if err != nil {
				t.Errorf("concurrent join %d: %v", i, err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if n := tbl.GuestCount("c1"); n != N {
		t.Fatalf("guest count after joins = %d, want %d", n, N)
	}

	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Double leave on purpose; cleanup must be idempotent under race.
			tbl.Leave(handles[i])
			tbl.Leave(handles[i])
		}(i)
	}
	wg.Wait()

	if n := tbl.GuestCount("c1"); n != 0 {
		t.Fatalf("guest count after leaves = %d", n)
	}
}

func clientID(i int) string { return "g" + strconv.Itoa(i) }
