package service

import (
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/MadHawkx/Synctelly/internal/room"
)

type Stats struct {
	UptimeSeconds      int64          `json:"uptime"`
	RoomCount          int            `json:"roomCount"`
	RoomSizeCounts     map[int]int    `json:"roomSizeCounts"`
	UserCount          int            `json:"userCount"`
	VBrowserCount      int            `json:"vBrowserCount"`
	VBrowserLargeCount int            `json:"vBrowserLargeCount"`
	VBrowserWaiting    int            `json:"vBrowserWaiting"`
	HTTPVideoCount     int            `json:"httpVideoCount"`
	ScreenShareCount   int            `json:"screenShareCount"`
	FileShareCount     int            `json:"fileShareCount"`
	VideoChatCount     int            `json:"videoChatCount"`
	VBrowserCreators   map[string]int `json:"vBrowserCreators"`
	HeapAllocMB        uint64         `json:"heapAllocMB"`
	Goroutines         int            `json:"goroutines"`
	CurrentRooms       []room.Stats   `json:"currentRoomData"`
}

// Stats собирает сводку по всем живым комнатам.
// В currentRoomData попадают только комнаты с видео или людьми, новые первыми.
func (s *RoomService) Stats(now time.Time) Stats {
	st := Stats{
		UptimeSeconds:    int64(now.Sub(s.startedAt).Seconds()),
		RoomSizeCounts:   make(map[int]int),
		VBrowserCreators: make(map[string]int),
		Goroutines:       runtime.NumGoroutine(),
	}

	creators := make(map[string]int)
	for _, r := range s.list() {
		rs := r.Stats(now)
		st.RoomCount++
		st.UserCount += rs.RosterLength
		st.VideoChatCount += rs.VideoChats
		if rs.RosterLength > 0 {
			st.RoomSizeCounts[rs.RosterLength]++
		}
		if rs.VBrowser != nil {
			st.VBrowserCount++
			if rs.VBrowser.Large {
				st.VBrowserLargeCount++
			}
			if uid := rs.VBrowser.CreatorUID; uid != "" {
				creators[uid]++
			}
		}
		if rs.VBrowserPending {
			st.VBrowserWaiting++
		}
		// пустые комнаты с видео не в счёт
		if rs.RosterLength > 0 {
			switch {
			case strings.HasPrefix(rs.Video, "http"):
				st.HTTPVideoCount++
			case strings.HasPrefix(rs.Video, "screenshare://"):
				st.ScreenShareCount++
			case strings.HasPrefix(rs.Video, "fileshare://"):
				st.FileShareCount++
			}
		}
		if rs.Video != "" || rs.RosterLength > 0 {
			st.CurrentRooms = append(st.CurrentRooms, rs)
		}
	}
	// интересны только uid с несколькими ВМ
	for uid, n := range creators {
		if n > 1 {
			st.VBrowserCreators[uid] = n
		}
	}
	sort.Slice(st.CurrentRooms, func(i, j int) bool {
		return st.CurrentRooms[i].CreationTime.After(st.CurrentRooms[j].CreationTime)
	})

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapAllocMB = ms.HeapAlloc / (1 << 20)
	return st
}
