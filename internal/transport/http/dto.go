package http

import "github.com/MadHawkx/Synctelly/internal/service"

type CreateRoomRequest struct {
	Video string `json:"video,omitempty"`
	UID   string `json:"uid,omitempty"`
	Token string `json:"token,omitempty"`
}

type CreateRoomResponse struct {
	Name string `json:"name"`
}

type StatsResponse struct {
	service.Stats
	// из redis; пусто, если kv не настроен
	Counts            map[string]int64 `json:"counts,omitempty"`
	VBrowserSessionMS []string         `json:"vBrowserSessionMS,omitempty"`
}
