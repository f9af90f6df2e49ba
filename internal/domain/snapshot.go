package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot — то, что нужно, чтобы поднять комнату после рестарта.
// Новые поля добавляются только как опциональные: старые снапшоты должны читаться.
type Snapshot struct {
	Video        string            `json:"video"`
	VideoTS      float64           `json:"videoTS"`
	Paused       bool              `json:"paused,omitempty"`
	Subtitle     string            `json:"subtitle,omitempty"`
	NameMap      map[string]string `json:"nameMap,omitempty"`
	PictureMap   map[string]string `json:"pictureMap,omitempty"`
	Chat         []ChatEntry       `json:"chat,omitempty"`
	VBrowser     *Assignment       `json:"vBrowser,omitempty"`
	CreationTime *time.Time        `json:"creationTime,omitempty"`
	Lock         string            `json:"lock,omitempty"`
	Creator      string            `json:"creator,omitempty"`
}

func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}
