package ws

import (
	"log/slog"
	"sync"

	"github.com/MadHawkx/Synctelly/internal/room"
)

// Hub держит живые подключения и реализует room.Sink.
// Отправка не блокирует: кадр кладётся в буфер клиента, переполненный клиент отключается.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Client
	rooms map[string]map[string]*Client // room -> connID -> client
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Client),
		rooms: make(map[string]map[string]*Client),
	}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.ID] = c
	rs, ok := h.rooms[c.Room]
	if !ok {
		rs = make(map[string]*Client)
		h.rooms[c.Room] = rs
	}
	rs[c.ID] = c
}

func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if cur, ok := h.conns[c.ID]; !ok || cur != c {
		return
	}
	delete(h.conns, c.ID)
	if rs, ok := h.rooms[c.Room]; ok {
		delete(rs, c.ID)
		if len(rs) == 0 {
			delete(h.rooms, c.Room)
		}
	}
	c.closeSend()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Broadcast(roomName string, ev room.Event) {
	h.BroadcastExcept(roomName, "", ev)
}

func (h *Hub) BroadcastExcept(roomName, except string, ev room.Event) {
	msg := fromEvent(ev)
	var slow []*Client

	h.mu.RLock()
	for id, c := range h.rooms[roomName] {
		if id == except {
			continue
		}
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.drop(slow)
}

func (h *Hub) Send(roomName, connID string, ev room.Event) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok || c.Room != roomName {
		return
	}
	if !c.enqueue(fromEvent(ev)) {
		h.drop([]*Client{c})
	}
}

// Disconnect закрывает очередь клиента: write pump допишет то, что уже в буфере,
// и закроет сокет, после чего read loop выведет клиента из комнаты.
func (h *Hub) Disconnect(roomName, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok && c.Room == roomName {
		h.removeLocked(c)
	}
}

func (h *Hub) drop(slow []*Client) {
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range slow {
		slog.Warn("ws client too slow, dropping", "room", c.Room, "conn", c.ID)
		h.removeLocked(c)
	}
}
