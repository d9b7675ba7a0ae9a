package handlers

import (
	"strings"
	"testing"
	"time"

	ws "github.com/bookhooks/bookhooks-backend/websocket"
	"github.com/google/uuid"
)

type chanConn struct {
	events chan ws.Event
}

func (c *chanConn) WriteJSON(v interface{}) error {
	c.events <- v.(ws.Event)
	return nil
}

func (c *chanConn) Close() error { return nil }

func awaitEvent(t *testing.T, conn *chanConn) ws.Event {
	t.Helper()
	select {
	case event := <-conn.events:
		return event
	case <-time.After(time.Second):
		t.Fatal("expected an event, got none")
		return ws.Event{}
	}
}

// Room keys are the canonical uuid strings handed out by join_chat; a
// typing frame with a case or format variant of the same id must land in
// the same room.
func TestDispatch_TypingCanonicalizesRoomID(t *testing.T) {
	hub := ws.NewHub()
	go hub.Run()

	typistConn := &chanConn{events: make(chan ws.Event, 8)}
	observerConn := &chanConn{events: make(chan ws.Event, 8)}
	typist := &ws.Client{UserID: uuid.New(), DisplayName: "Avery", Conn: typistConn}
	observer := &ws.Client{UserID: uuid.New(), DisplayName: "Blake", Conn: observerConn}
	hub.Register(typist)
	hub.Register(observer)

	room := uuid.New()
	hub.Join(typist, room.String())
	hub.Join(observer, room.String())

	dispatch(hub, typist, ws.ClientFrame{
		Type:           ws.EventTyping,
		ConversationID: strings.ToUpper(room.String()),
	})

	event := awaitEvent(t, observerConn)
	if event.Type != ws.EventTyping {
		t.Fatalf("observer received %q, want typing", event.Type)
	}
	if event.ConversationID != room.String() {
		t.Errorf("typing relayed on room %q, want canonical %q", event.ConversationID, room.String())
	}

	dispatch(hub, typist, ws.ClientFrame{
		Type:           ws.EventStopTyping,
		ConversationID: strings.ToUpper(room.String()),
	})
	event = awaitEvent(t, observerConn)
	if event.Type != ws.EventStopTyping {
		t.Errorf("observer received %q, want stop_typing", event.Type)
	}
}

func TestDispatch_TypingRejectsMalformedRoomID(t *testing.T) {
	hub := ws.NewHub()
	go hub.Run()

	typistConn := &chanConn{events: make(chan ws.Event, 8)}
	typist := &ws.Client{UserID: uuid.New(), DisplayName: "Avery", Conn: typistConn}
	hub.Register(typist)

	dispatch(hub, typist, ws.ClientFrame{
		Type:           ws.EventTyping,
		ConversationID: "not-a-uuid",
	})

	event := awaitEvent(t, typistConn)
	if event.Type != ws.EventError {
		t.Errorf("origin received %q, want an error frame", event.Type)
	}
}
