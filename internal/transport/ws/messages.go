package ws

import (
	"encoding/json"

	"github.com/MadHawkx/Synctelly/internal/room"
)

// Message — кадр от сервера клиенту: {"type": "REC:host", "payload": {...}}.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func fromEvent(ev room.Event) *Message {
	return &Message{Type: ev.Type, Payload: ev.Payload}
}

// Входящие кадры разбираются в room.Envelope, payload декодирует сама комната.
func parseEnvelope(data []byte) (room.Envelope, error) {
	var env room.Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
