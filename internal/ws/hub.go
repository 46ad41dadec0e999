package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is one live WebSocket connection. Writes are serialized per
// connection; gorilla/websocket allows at most one concurrent writer.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn

	mu sync.Mutex
}

func (c *client) send(event any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(event); err != nil {
		c.conn.Close()
		// removal is handled by the read loop noticing the closed conn
	}
}

// Hub tracks live connections by connection id and user id, plus the chat
// rooms each connection has joined for room-scoped events like typing.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	byUser  map[string]map[string]*client
	rooms   map[string]map[string]*client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		byUser:  make(map[string]map[string]*client),
		rooms:   make(map[string]map[string]*client),
	}
}

var _ Gateway = (*Hub)(nil)

// Register adds a connection for the given user.
func (h *Hub) Register(userID, connID string, conn *websocket.Conn) {
	c := &client{id: connID, userID: userID, conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[connID] = c
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*client)
	}
	h.byUser[userID][connID] = c
}

// Unregister removes a connection and drops it from every room it joined.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	if conns, ok := h.byUser[c.userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	for chatID, room := range h.rooms {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// JoinRoom subscribes a connection to a chat's room-scoped events.
func (h *Hub) JoinRoom(connID, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[string]*client)
	}
	h.rooms[chatID][connID] = c
}

// LeaveRoom unsubscribes a connection from a chat's room-scoped events.
func (h *Hub) LeaveRoom(connID, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[chatID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

func (h *Hub) ToConn(connID string, event any) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.send(event)
	}
}

func (h *Hub) ToUser(userID string, event any) {
	h.ToUsers([]string{userID}, event)
}

func (h *Hub) ToUsers(userIDs []string, event any) {
	h.mu.RLock()
	var targets []*client
	for _, uid := range userIDs {
		for _, c := range h.byUser[uid] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.send(event)
	}
}

func (h *Hub) ToAll(event any) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.send(event)
	}
}

// ToRoomExcept sends the event to every connection in the chat's room except
// those belonging to the excluded user.
func (h *Hub) ToRoomExcept(chatID, exceptUserID string, event any) {
	h.mu.RLock()
	var targets []*client
	for _, c := range h.rooms[chatID] {
		if c.userID != exceptUserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.send(event)
	}
}
