package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
	"github.com/MadHawkx/Synctelly/internal/room"
	"github.com/MadHawkx/Synctelly/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startServer(t *testing.T) (*httptest.Server, *service.RoomService, *Hub) {
	t.Helper()
	return startServerWith(t, room.Deps{})
}

func startServerWith(t *testing.T, deps room.Deps) (*httptest.Server, *service.RoomService, *Hub) {
	t.Helper()
	hub := NewHub()
	deps.Sink = hub
	rooms := service.NewRoomService(nil, deps, room.DefaultPolicy(), service.Options{})
	srv, err := NewServer(hub, rooms, Options{})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/ws/rooms/{name}", srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, rooms, hub
}

func dial(t *testing.T, ts *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/rooms/" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// await читает кадры, пока не встретит нужный тип.
func await(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", typ)
		if f.Type == typ {
			return f
		}
	}
}

func TestServer_JoinReceivesStateInOrder(t *testing.T) {
	ts, _, _ := startServer(t)
	conn := dial(t, ts, "party")

	want := []string{room.EvHost, room.EvNameMap, room.EvPictureMap, room.EvTSMap, room.EvLock, room.EvChatInit, room.EvRoster}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for _, typ := range want {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		assert.Equal(t, typ, f.Type)
	}
}

func TestServer_ChatReachesEveryone(t *testing.T) {
	ts, rooms, _ := startServer(t)
	a := dial(t, ts, "party")
	await(t, a, room.EvRoster)
	b := dial(t, ts, "party")
	await(t, b, room.EvRoster)

	require.NoError(t, a.WriteJSON(map[string]any{"type": room.CmdChat, "payload": "hello"}))

	for _, conn := range []*websocket.Conn{a, b} {
		f := await(t, conn, room.EvChat)
		var entry struct {
			Msg string `json:"msg"`
		}
		require.NoError(t, json.Unmarshal(f.Payload, &entry))
		assert.Equal(t, "hello", entry.Msg)
	}

	r, ok := rooms.Get("party")
	require.True(t, ok)
	assert.Equal(t, 2, r.RosterLen())
}

func TestServer_CloseLeavesRoom(t *testing.T) {
	ts, rooms, hub := startServer(t)
	a := dial(t, ts, "party")
	await(t, a, room.EvRoster)
	b := dial(t, ts, "party")
	await(t, b, room.EvRoster)
	await(t, a, room.EvRoster)

	require.NoError(t, b.Close())

	// a получает обновлённый ростер с одним участником
	f := await(t, a, room.EvRoster)
	var roster []json.RawMessage
	require.NoError(t, json.Unmarshal(f.Payload, &roster))
	assert.Len(t, roster, 1)

	r, _ := rooms.Get("party")
	assert.Equal(t, 1, r.RosterLen())
	assert.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_IgnoresGarbageFrames(t *testing.T) {
	ts, _, _ := startServer(t)
	a := dial(t, ts, "party")
	await(t, a, room.EvRoster)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, a.WriteJSON(map[string]any{"type": "CMD:nope"}))
	require.NoError(t, a.WriteJSON(map[string]any{"type": room.CmdHost, "payload": "https://example.com/v.mp4"}))

	f := await(t, a, room.EvHost)
	assert.Contains(t, string(f.Payload), "https://example.com/v.mp4")
}

func TestCheckOrigin(t *testing.T) {
	s, err := NewServer(NewHub(), nil, Options{AllowedOrigins: []string{"https://watch.example.com"}})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/ws/rooms/x", nil)
	req.Header.Set("Origin", "https://watch.example.com")
	assert.True(t, s.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, s.checkOrigin(req))

	open, err := NewServer(NewHub(), nil, Options{})
	require.NoError(t, err)
	assert.True(t, open.checkOrigin(req))
}

type slowPool struct {
	mu        sync.Mutex
	allocated int
	released  int
}

func (p *slowPool) Allocate(context.Context) (*domain.Assignment, error) {
	time.Sleep(5 * time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated++
	return &domain.Assignment{ID: fmt.Sprintf("vm-%d", p.allocated), Host: "vm.example.com", Pass: "pw"}, nil
}

func (p *slowPool) Release(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return nil
}

func (p *slowPool) balanced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated == p.released
}

func TestServer_StopRightAfterStartCancels(t *testing.T) {
	pool := &slowPool{}
	ts, rooms, _ := startServerWith(t, room.Deps{Pools: room.Pools{Standard: pool}})

	const n = 20
	for i := range n {
		name := fmt.Sprintf("party-%d", i)
		conn := dial(t, ts, name)
		await(t, conn, room.EvRoster)

		require.NoError(t, conn.WriteJSON(map[string]any{"type": room.CmdStartVBrowser, "payload": map[string]any{}}))
		require.NoError(t, conn.WriteJSON(map[string]any{"type": room.CmdStopVBrowser}))
		// chat обрабатывается синхронно: после него оба кадра уже прочитаны
		require.NoError(t, conn.WriteJSON(map[string]any{"type": room.CmdChat, "payload": "done"}))
		await(t, conn, room.EvChat)
	}

	anyAssigned := func() bool {
		for i := range n {
			r, ok := rooms.Get(fmt.Sprintf("party-%d", i))
			if ok && r.AssignState() != room.AssignIdle {
				return true
			}
		}
		return false
	}
	assert.Never(t, anyAssigned, 300*time.Millisecond, 10*time.Millisecond)
	assert.Eventually(t, pool.balanced, 5*time.Second, 10*time.Millisecond)
}
