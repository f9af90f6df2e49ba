package room

import (
	"slices"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

type Stats struct {
	Name            string               `json:"roomId"`
	Video           string               `json:"video"`
	VideoTS         float64              `json:"videoTS"`
	CreationTime    time.Time            `json:"creationTime"`
	LastUpdateTime  time.Time            `json:"lastUpdateTime"`
	Creator         string               `json:"creator,omitempty"`
	Lock            string               `json:"lock,omitempty"`
	RosterLength    int                  `json:"rosterLength"`
	VideoChats      int                  `json:"videoChats"`
	Roster          []domain.Participant `json:"roster"`
	VBrowser        *domain.Assignment   `json:"vBrowser,omitempty"`
	VBrowserElapsed int64                `json:"vBrowserElapsed,omitempty"` // ms
	VBrowserPending bool                 `json:"vBrowserPending,omitempty"`
}

func (r *Room) Stats(now time.Time) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		Name:            r.name,
		Video:           r.video,
		VideoTS:         r.videoTS,
		CreationTime:    r.creationTime,
		LastUpdateTime:  r.lastUpdateTime,
		Creator:         r.creator,
		Lock:            r.lock,
		RosterLength:    len(r.roster),
		Roster:          make([]domain.Participant, 0, len(r.roster)),
		VBrowserPending: r.vb.state == AssignPending,
	}
	for _, p := range r.roster {
		st.Roster = append(st.Roster, *p)
		if p.IsVideoChat {
			st.VideoChats++
		}
	}
	if cur := r.vb.current; cur != nil {
		a := *cur
		st.VBrowser = &a
		st.VBrowserElapsed = now.Sub(a.AssignedAt()).Milliseconds()
	}
	return st
}

// ChatLog возвращает копию чата.
func (r *Room) ChatLog() []domain.ChatEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.chat)
}
