package websocket

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// typingTimeout is how long after the last keystroke a typing indicator
// survives before an implicit stop_typing is relayed.
const typingTimeout = 2 * time.Second

// Conn is the subset of *websocket.Conn the hub writes through; tests
// substitute an in-memory fake.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one live connection bound to an authenticated user. A user with
// two open tabs is two distinct clients that each receive room events.
type Client struct {
	UserID      uuid.UUID
	DisplayName string
	Conn        Conn
}

// typingState is the single active typing entry for a room; last writer
// wins, matching what observers display. gen identifies the timer window
// that owns the entry: an expiry queued by a timer that a later keystroke
// superseded carries an older gen and is ignored.
type typingState struct {
	client *Client
	name   string
	timer  *time.Timer
	gen    uint64
}

type joinReq struct {
	client *Client
	roomID string
}

type publishReq struct {
	roomID string
	origin *Client // nil delivers to everyone in the room
	event  Event
}

type directReq struct {
	client *Client
	event  Event
}

type typingReq struct {
	client *Client
	roomID string
	stop   bool
	gen    uint64
}

// Hub is the real-time event bus: subscriber sets keyed by conversation id,
// mutated only by the Run goroutine so no lock guards them. It holds no
// durable state; a reconnecting client rejoins and refetches over REST.
type Hub struct {
	rooms     map[string]map[*Client]bool
	joined    map[*Client]map[string]bool
	typing    map[string]*typingState
	typingGen uint64

	register   chan *Client
	unregister chan *Client
	joinCh     chan joinReq
	leaveCh    chan joinReq
	publishCh  chan publishReq
	directCh   chan directReq
	typingCh   chan typingReq
	expiredCh  chan typingReq
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		joined:     make(map[*Client]map[string]bool),
		typing:     make(map[string]*typingState),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		joinCh:     make(chan joinReq),
		leaveCh:    make(chan joinReq),
		publishCh:  make(chan publishReq),
		directCh:   make(chan directReq),
		typingCh:   make(chan typingReq),
		expiredCh:  make(chan typingReq, 64),
	}
}

// Run owns all hub state. Every public method below is a channel send into
// this loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.joined[client] = make(map[string]bool)
		case client := <-h.unregister:
			h.dropClient(client)
		case req := <-h.joinCh:
			h.handleJoin(req)
		case req := <-h.leaveCh:
			h.handleLeave(req)
		case req := <-h.publishCh:
			h.fanOut(req)
		case req := <-h.directCh:
			h.deliver(req.client, req.event)
		case req := <-h.typingCh:
			h.handleTyping(req)
		case req := <-h.expiredCh:
			h.handleExpiry(req)
		}
	}
}

func (h *Hub) Register(client *Client)   { h.register <- client }
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

func (h *Hub) Join(client *Client, roomID string)  { h.joinCh <- joinReq{client: client, roomID: roomID} }
func (h *Hub) Leave(client *Client, roomID string) { h.leaveCh <- joinReq{client: client, roomID: roomID} }

// Publish fans an event out to every connection joined to the room.
func (h *Hub) Publish(roomID string, event Event) {
	h.publishCh <- publishReq{roomID: roomID, event: event}
}

// PublishExcept fans out to the room minus the origin connection; typing
// relays use it so the typist never sees their own indicator.
func (h *Hub) PublishExcept(roomID string, origin *Client, event Event) {
	h.publishCh <- publishReq{roomID: roomID, origin: origin, event: event}
}

// SendError delivers an error frame to a single connection only.
func (h *Hub) SendError(client *Client, message string) {
	h.directCh <- directReq{client: client, event: Event{
		Type:    EventError,
		Payload: ErrorPayload{Message: message},
	}}
}

// Typing records a keystroke signal; the first one per typist relays a
// typing event, later ones just push the expiry window out.
func (h *Hub) Typing(client *Client, roomID string) {
	h.typingCh <- typingReq{client: client, roomID: roomID}
}

func (h *Hub) StopTyping(client *Client, roomID string) {
	h.typingCh <- typingReq{client: client, roomID: roomID, stop: true}
}

func (h *Hub) handleJoin(req joinReq) {
	memberships, ok := h.joined[req.client]
	if !ok {
		return // connection already gone
	}
	if h.rooms[req.roomID] == nil {
		h.rooms[req.roomID] = make(map[*Client]bool)
	}
	h.rooms[req.roomID][req.client] = true
	memberships[req.roomID] = true
}

func (h *Hub) handleLeave(req joinReq) {
	h.clearTyping(req.roomID, req.client, true)
	if subscribers, ok := h.rooms[req.roomID]; ok {
		delete(subscribers, req.client)
		if len(subscribers) == 0 {
			delete(h.rooms, req.roomID)
		}
	}
	if memberships, ok := h.joined[req.client]; ok {
		delete(memberships, req.roomID)
	}
}

// dropClient removes a connection from every room it joined; memberships
// are connection-scoped, so they all go together.
func (h *Hub) dropClient(client *Client) {
	memberships := h.joined[client]
	delete(h.joined, client)
	for roomID := range memberships {
		h.clearTyping(roomID, client, true)
		if subscribers, ok := h.rooms[roomID]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
}

func (h *Hub) fanOut(req publishReq) {
	for client := range h.rooms[req.roomID] {
		if client == req.origin {
			continue
		}
		h.deliver(client, req.event)
	}
}

// deliver writes one event to one connection. A failed write means the
// connection is gone: the event is dropped for that target and the client
// is evicted; the durable store covers it on reconnect.
func (h *Hub) deliver(client *Client, event Event) {
	if err := client.Conn.WriteJSON(event); err != nil {
		log.Printf("Error writing %s event to client %s: %v", event.Type, client.UserID, err)
		client.Conn.Close()
		h.dropClient(client)
	}
}

func (h *Hub) handleTyping(req typingReq) {
	if req.stop {
		h.clearTyping(req.roomID, req.client, true)
		return
	}
	if !h.joined[req.client][req.roomID] {
		return
	}

	relay := true
	if state := h.typing[req.roomID]; state != nil {
		// Repeated keystrokes extend the window without re-relaying; a
		// different typist replaces the entry, last writer wins.
		if state.client == req.client {
			relay = false
		}
		state.timer.Stop()
	}

	// Every keystroke starts a fresh timer window so an expiry already
	// queued by the old timer cannot clear the new entry.
	h.typingGen++
	gen := h.typingGen
	state := &typingState{client: req.client, name: req.client.DisplayName, gen: gen}
	state.timer = time.AfterFunc(typingTimeout, func() {
		h.expiredCh <- typingReq{client: req.client, roomID: req.roomID, gen: gen}
	})
	h.typing[req.roomID] = state

	if relay {
		h.fanOut(publishReq{roomID: req.roomID, origin: req.client, event: Event{
			Type:           EventTyping,
			ConversationID: req.roomID,
			Payload:        TypingPayload{UserID: req.client.UserID, DisplayName: req.client.DisplayName},
		}})
	}
}

func (h *Hub) handleExpiry(req typingReq) {
	state := h.typing[req.roomID]
	if state == nil || state.client != req.client || state.gen != req.gen {
		return // superseded by a later keystroke
	}
	h.clearTyping(req.roomID, req.client, true)
}

// clearTyping drops the room's typing entry if client owns it, optionally
// relaying stop_typing so observers are not left with a stuck indicator.
func (h *Hub) clearTyping(roomID string, client *Client, relay bool) {
	state := h.typing[roomID]
	if state == nil || state.client != client {
		return
	}
	state.timer.Stop()
	delete(h.typing, roomID)
	if relay {
		h.fanOut(publishReq{roomID: roomID, origin: client, event: Event{
			Type:           EventStopTyping,
			ConversationID: roomID,
			Payload:        TypingPayload{UserID: client.UserID, DisplayName: state.name},
		}})
	}
}
