package domain

import "time"

// Participant — одно подключение к комнате. ID живёт ровно столько, сколько соединение.
type Participant struct {
	ID            string    `json:"id"`
	UID           string    `json:"uid,omitempty"`
	IsController  bool      `json:"isController,omitempty"`
	IsVideoChat   bool      `json:"isVideoChat,omitempty"`
	IsScreenShare bool      `json:"isScreenShare,omitempty"`
	JoinedAt      time.Time `json:"-"`
}

// Identity: во что раскрывается проверенный токен.
type Identity struct {
	UID   string
	Email string
}
