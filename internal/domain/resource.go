package domain

import "time"

type Tier string

const (
	TierStandard Tier = "standard"
	TierLarge    Tier = "large"
)

// Assignment: виртуальный браузер, выданный комнате.
type Assignment struct {
	ID              string `json:"id"`
	Host            string `json:"host"`
	Pass            string `json:"pass"`
	Large           bool   `json:"large,omitempty"`
	AssignTime      int64  `json:"assignTime"` // unix ms
	CreatorUID      string `json:"creatorUID,omitempty"`
	CreatorClientID string `json:"creatorClientID,omitempty"`
}

func (a *Assignment) Tier() Tier {
	if a.Large {
		return TierLarge
	}
	return TierStandard
}

func (a *Assignment) AssignedAt() time.Time {
	return time.UnixMilli(a.AssignTime)
}

type AbuseVerdict struct {
	Accepted bool
	Score    float64
}
