package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/MadHawkx/Synctelly/internal/room"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	nanoid "github.com/jaevor/go-nanoid"
)

type Rooms interface {
	Join(ctx context.Context, name, connID string) (*room.Room, error)
	Leave(name, connID string)
}

type Options struct {
	AllowedOrigins []string
	// субтитры приходят целиком одним кадром
	ReadLimit int64
	// сколько медленных команд (проверка токена, выдача ВМ) одно подключение может вести параллельно
	MaxAsync int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit: 4 << 20,
		MaxAsync:  4,
	}
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	rooms    Rooms
	opts     Options
	newID    func() string
}

func NewServer(hub *Hub, rooms Rooms, opts Options) (*Server, error) {
	def := DefaultOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.MaxAsync <= 0 {
		opts.MaxAsync = def.MaxAsync
	}
	newID, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("conn id generator: %w", err)
	}
	s := &Server{
		hub:   hub,
		rooms: rooms,
		opts:  opts,
		newID: newID,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.opts.AllowedOrigins, origin)
}

// WS endpoint: GET /ws/rooms/{name}
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "missing room name", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам ответил клиенту
		slog.Warn("ws upgrade failed", "room", name, "err", err)
		return
	}

	c := newClient(s.newID(), name, conn)
	// клиент должен быть в hub до Join, иначе начальное состояние уйдёт в никуда
	s.hub.Add(c)
	go c.writePump()

	ctx := context.WithoutCancel(r.Context())
	rm, err := s.rooms.Join(ctx, name, c.ID)
	if err != nil {
		slog.Warn("ws join failed", "room", name, "conn", c.ID, "err", err)
		s.hub.Remove(c)
		return
	}
	slog.Debug("ws connected", "room", name, "conn", c.ID)

	s.readLoop(ctx, c, rm)

	s.hub.Remove(c)
	s.rooms.Leave(name, c.ID)
	_ = conn.Close()
	slog.Debug("ws disconnected", "room", name, "conn", c.ID)
}

func (s *Server) readLoop(ctx context.Context, c *Client, rm *room.Room) {
	sem := make(chan struct{}, s.opts.MaxAsync)

	c.conn.SetReadLimit(s.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("ws read failed", "room", c.Room, "conn", c.ID, "err", err)
			}
			return
		}
		env, err := parseEnvelope(data)
		if err != nil || env.Type == "" {
			slog.Debug("ws bad frame", "room", c.Room, "conn", c.ID, "err", err)
			continue
		}

		// переход состояния делаем здесь, чтобы следующий кадр его видел
		next, err := rm.Begin(ctx, c.ID, env.Type, env.Payload)
		if err != nil || next == nil {
			continue
		}
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			_ = next(ctx)
		}()
	}
}
