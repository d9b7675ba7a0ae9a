package websocket

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

type fakeConn struct {
	events    []Event
	failWrite bool
	closed    bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.failWrite {
		return errors.New("connection gone")
	}
	f.events = append(f.events, v.(Event))
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// The hub's Run loop only dispatches channel messages onto the handlers
// below, so the tests drive the handlers directly and stay deterministic.

func newTestClient(name string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	return &Client{UserID: uuid.New(), DisplayName: name, Conn: conn}, conn
}

func register(h *Hub, clients ...*Client) {
	for _, client := range clients {
		h.joined[client] = make(map[string]bool)
	}
}

func eventsOfType(conn *fakeConn, eventType string) []Event {
	var matched []Event
	for _, event := range conn.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func TestJoin_Idempotent(t *testing.T) {
	h := NewHub()
	client, conn := newTestClient("Avery")
	register(h, client)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: client, roomID: room})
	h.handleJoin(joinReq{client: client, roomID: room})

	if len(h.rooms[room]) != 1 {
		t.Fatalf("room has %d subscribers after double join, want 1", len(h.rooms[room]))
	}

	h.fanOut(publishReq{roomID: room, event: Event{Type: EventReceiveMessage}})
	if len(conn.events) != 1 {
		t.Errorf("client received %d events, want exactly 1", len(conn.events))
	}
}

func TestFanOut_ExcludesOrigin(t *testing.T) {
	h := NewHub()
	typist, typistConn := newTestClient("Avery")
	observer, observerConn := newTestClient("Blake")
	register(h, typist, observer)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: typist, roomID: room})
	h.handleJoin(joinReq{client: observer, roomID: room})

	h.fanOut(publishReq{roomID: room, origin: typist, event: Event{Type: EventTyping}})

	if len(typistConn.events) != 0 {
		t.Errorf("origin received %d events, want 0", len(typistConn.events))
	}
	if len(observerConn.events) != 1 {
		t.Errorf("observer received %d events, want 1", len(observerConn.events))
	}
}

// Two connections of the same user in one room each receive the event
// exactly once.
func TestFanOut_SameUserTwoConnections(t *testing.T) {
	h := NewHub()
	userID := uuid.New()
	tabOneConn := &fakeConn{}
	tabTwoConn := &fakeConn{}
	tabOne := &Client{UserID: userID, DisplayName: "Avery", Conn: tabOneConn}
	tabTwo := &Client{UserID: userID, DisplayName: "Avery", Conn: tabTwoConn}
	register(h, tabOne, tabTwo)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: tabOne, roomID: room})
	h.handleJoin(joinReq{client: tabTwo, roomID: room})

	h.fanOut(publishReq{roomID: room, event: Event{Type: EventReceiveMessage}})

	if len(tabOneConn.events) != 1 || len(tabTwoConn.events) != 1 {
		t.Errorf("tabs received %d and %d events, want exactly 1 each",
			len(tabOneConn.events), len(tabTwoConn.events))
	}
}

func TestDeliver_EvictsDeadConnection(t *testing.T) {
	h := NewHub()
	dead, deadConn := newTestClient("Gone")
	deadConn.failWrite = true
	alive, aliveConn := newTestClient("Here")
	register(h, dead, alive)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: dead, roomID: room})
	h.handleJoin(joinReq{client: alive, roomID: room})

	h.fanOut(publishReq{roomID: room, event: Event{Type: EventReceiveMessage}})

	if !deadConn.closed {
		t.Error("dead connection should be closed after a failed write")
	}
	if h.rooms[room][dead] {
		t.Error("dead client should be evicted from the room")
	}
	if _, still := h.joined[dead]; still {
		t.Error("dead client should be fully unregistered")
	}
	if len(aliveConn.events) != 1 {
		t.Errorf("surviving client received %d events, want 1; one target's failure must not affect others", len(aliveConn.events))
	}
}

func TestTyping_RelayAndLastWriterWins(t *testing.T) {
	h := NewHub()
	first, _ := newTestClient("Avery")
	second, _ := newTestClient("Blake")
	observer, observerConn := newTestClient("Casey")
	register(h, first, second, observer)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: first, roomID: room})
	h.handleJoin(joinReq{client: second, roomID: room})
	h.handleJoin(joinReq{client: observer, roomID: room})

	h.handleTyping(typingReq{client: first, roomID: room})
	if got := eventsOfType(observerConn, EventTyping); len(got) != 1 {
		t.Fatalf("observer saw %d typing events, want 1", len(got))
	}
	// Repeated keystrokes extend the window without re-relaying.
	h.handleTyping(typingReq{client: first, roomID: room})
	if got := eventsOfType(observerConn, EventTyping); len(got) != 1 {
		t.Errorf("observer saw %d typing events after keystroke, want still 1", len(got))
	}

	h.handleTyping(typingReq{client: second, roomID: room})
	if h.typing[room] == nil || h.typing[room].client != second {
		t.Error("a second typist should replace the room's typing entry")
	}
}

func TestTyping_StopAndExpiryRelayStopTyping(t *testing.T) {
	h := NewHub()
	typist, _ := newTestClient("Avery")
	observer, observerConn := newTestClient("Blake")
	register(h, typist, observer)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: typist, roomID: room})
	h.handleJoin(joinReq{client: observer, roomID: room})

	h.handleTyping(typingReq{client: typist, roomID: room})
	h.handleTyping(typingReq{client: typist, roomID: room, stop: true})

	if got := eventsOfType(observerConn, EventStopTyping); len(got) != 1 {
		t.Fatalf("observer saw %d stop_typing events after explicit stop, want 1", len(got))
	}
	if h.typing[room] != nil {
		t.Error("typing entry should clear on explicit stop")
	}

	// Timeout path: the expiry callback re-enters the loop and relays too.
	h.handleTyping(typingReq{client: typist, roomID: room})
	h.handleExpiry(typingReq{client: typist, roomID: room, gen: h.typing[room].gen})

	if got := eventsOfType(observerConn, EventStopTyping); len(got) != 2 {
		t.Errorf("observer saw %d stop_typing events after expiry, want 2", len(got))
	}
	if h.typing[room] != nil {
		t.Error("typing entry should clear on expiry")
	}
}

// An expiry queued by a timer that a later keystroke superseded must not
// clear the fresh entry mid-typing.
func TestTyping_StaleExpiryIgnored(t *testing.T) {
	h := NewHub()
	typist, _ := newTestClient("Avery")
	observer, observerConn := newTestClient("Blake")
	register(h, typist, observer)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: typist, roomID: room})
	h.handleJoin(joinReq{client: observer, roomID: room})

	h.handleTyping(typingReq{client: typist, roomID: room})
	staleGen := h.typing[room].gen
	h.handleTyping(typingReq{client: typist, roomID: room}) // fresh keystroke

	h.handleExpiry(typingReq{client: typist, roomID: room, gen: staleGen})

	if h.typing[room] == nil {
		t.Fatal("stale expiry should not clear the active typing entry")
	}
	if got := eventsOfType(observerConn, EventStopTyping); len(got) != 0 {
		t.Errorf("observer saw %d stop_typing events from a stale expiry, want 0", len(got))
	}

	// The live generation still expires normally.
	h.handleExpiry(typingReq{client: typist, roomID: room, gen: h.typing[room].gen})
	if h.typing[room] != nil {
		t.Error("current-generation expiry should clear the entry")
	}
}

func TestTyping_RequiresJoin(t *testing.T) {
	h := NewHub()
	outsider, _ := newTestClient("Avery")
	observer, observerConn := newTestClient("Blake")
	register(h, outsider, observer)

	room := uuid.NewString()
	h.handleJoin(joinReq{client: observer, roomID: room})

	h.handleTyping(typingReq{client: outsider, roomID: room})

	if h.typing[room] != nil {
		t.Error("typing from a non-joined connection should be ignored")
	}
	if len(observerConn.events) != 0 {
		t.Errorf("observer saw %d events, want 0", len(observerConn.events))
	}
}

func TestDropClient_ClearsMembershipsAndTyping(t *testing.T) {
	h := NewHub()
	leaver, _ := newTestClient("Avery")
	observer, observerConn := newTestClient("Blake")
	register(h, leaver, observer)

	roomA := uuid.NewString()
	roomB := uuid.NewString()
	h.handleJoin(joinReq{client: leaver, roomID: roomA})
	h.handleJoin(joinReq{client: leaver, roomID: roomB})
	h.handleJoin(joinReq{client: observer, roomID: roomA})
	h.handleTyping(typingReq{client: leaver, roomID: roomA})

	h.dropClient(leaver)

	if _, still := h.joined[leaver]; still {
		t.Error("dropped client should lose all memberships together")
	}
	if h.rooms[roomA][leaver] || h.rooms[roomB][leaver] {
		t.Error("dropped client should be out of every room")
	}
	if h.typing[roomA] != nil {
		t.Error("dropped client's typing entry should clear")
	}
	if got := eventsOfType(observerConn, EventStopTyping); len(got) != 1 {
		t.Errorf("observer saw %d stop_typing events on disconnect, want 1", len(got))
	}
}
