package domain

import "time"

// Теги команд, которые попадают в чат вместе с сообщением
const (
	ChatCmdHost   = "host"
	ChatCmdPlay   = "play"
	ChatCmdPause  = "pause"
	ChatCmdSeek   = "seek"
	ChatCmdLock   = "lock"
	ChatCmdUnlock = "unlock"
)

type ChatEntry struct {
	ID        string    `json:"id"`
	Cmd       string    `json:"cmd,omitempty"`
	Msg       string    `json:"msg"`
	Timestamp time.Time `json:"timestamp"`
	// позиция отправителя на момент отправки
	VideoTS *float64 `json:"videoTS,omitempty"`
}
