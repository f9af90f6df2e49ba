package ws

import (
	"testing"

	"github.com/MadHawkx/Synctelly/internal/room"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *Client) (msgs []*Message, closed bool) {
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return msgs, true
			}
			msgs = append(msgs, m)
		default:
			return msgs, false
		}
	}
}

func TestHub_BroadcastScopesToRoom(t *testing.T) {
	h := NewHub()
	a := newClient("a", "party", nil)
	b := newClient("b", "party", nil)
	x := newClient("x", "other", nil)
	h.Add(a)
	h.Add(b)
	h.Add(x)

	h.Broadcast("party", room.Event{Type: room.EvPlay})
	h.BroadcastExcept("party", "a", room.Event{Type: room.EvSeek, Payload: 10.0})
	h.Send("party", "b", room.Event{Type: room.EvChatInit})
	// чужая комната, не доставляем
	h.Send("party", "x", room.Event{Type: room.EvChatInit})

	got, _ := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, room.EvPlay, got[0].Type)

	got, _ = drain(b)
	require.Len(t, got, 3)
	assert.Equal(t, []string{room.EvPlay, room.EvSeek, room.EvChatInit}, []string{got[0].Type, got[1].Type, got[2].Type})

	got, _ = drain(x)
	assert.Empty(t, got)
}

func TestHub_DisconnectFlushesQueued(t *testing.T) {
	h := NewHub()
	a := newClient("a", "party", nil)
	h.Add(a)

	h.Send("party", "a", room.Event{Type: room.EvKicked})
	h.Disconnect("party", "a")
	// после отключения отправка молча игнорируется
	h.Broadcast("party", room.Event{Type: room.EvPlay})

	got, closed := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, room.EvKicked, got[0].Type)
	assert.True(t, closed)
	assert.Zero(t, h.Len())
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub()
	slow := newClient("slow", "party", nil)
	fast := newClient("fast", "party", nil)
	h.Add(slow)
	h.Add(fast)

	for range sendBuffer {
		h.Send("party", "slow", room.Event{Type: room.EvPlay})
	}
	h.Broadcast("party", room.Event{Type: room.EvPause})

	assert.Equal(t, 1, h.Len())
	got, closed := drain(slow)
	assert.Len(t, got, sendBuffer)
	assert.True(t, closed)

	got, _ = drain(fast)
	require.Len(t, got, 1)
	assert.Equal(t, room.EvPause, got[0].Type)
}

func TestHub_RemoveIgnoresStaleClient(t *testing.T) {
	h := NewHub()
	old := newClient("a", "party", nil)
	h.Add(old)
	fresh := newClient("a", "party", nil)
	h.Add(fresh)

	h.Remove(old)
	h.Remove(old)
	assert.Equal(t, 1, h.Len())

	h.Broadcast("party", room.Event{Type: room.EvPlay})
	got, _ := drain(fresh)
	assert.Len(t, got, 1)
}
