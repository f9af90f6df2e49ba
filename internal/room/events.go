package room

import (
	"maps"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

// Исходящие события
const (
	EvHost         = "REC:host"
	EvPlay         = "REC:play"
	EvPause        = "REC:pause"
	EvSeek         = "REC:seek"
	EvChat         = "REC:chat"
	EvTSMap        = "REC:tsMap"
	EvNameMap      = "REC:nameMap"
	EvPictureMap   = "REC:pictureMap"
	EvSubtitle     = "REC:subtitle"
	EvLock         = "REC:lock"
	EvRoster       = "roster"
	EvChatInit     = "chatinit"
	EvSignal       = "signal"
	EvSignalSS     = "signalSS"
	EvKicked       = "kicked"
	EvErrorMessage = "errorMessage"
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Sink доставляет события подключениям комнаты.
// Реализация обязана сохранять порядок событий для каждого подключения.
type Sink interface {
	Broadcast(room string, ev Event)
	BroadcastExcept(room, except string, ev Event)
	Send(room, conn string, ev Event)
	Disconnect(room, conn string)
}

type HostState struct {
	Video           string  `json:"video"`
	VideoTS         float64 `json:"videoTS"`
	Subtitle        string  `json:"subtitle"`
	Paused          bool    `json:"paused"`
	IsVBrowserLarge bool    `json:"isVBrowserLarge"`
}

type SignalOut struct {
	From string `json:"from"`
	Msg  any    `json:"msg"`
}

type ScreenShareSignalOut struct {
	From   string `json:"from"`
	Sharer bool   `json:"sharer"`
	Msg    any    `json:"msg"`
}

// ниже всё вызывается под r.mu

func (r *Room) hostEvent() Event {
	return Event{Type: EvHost, Payload: HostState{
		Video:           r.video,
		VideoTS:         r.videoTS,
		Subtitle:        r.subtitle,
		Paused:          r.paused,
		IsVBrowserLarge: r.vb.current != nil && r.vb.current.Large,
	}}
}

func (r *Room) rosterEvent() Event {
	out := make([]domain.Participant, 0, len(r.roster))
	for _, p := range r.roster {
		out = append(out, *p)
	}
	return Event{Type: EvRoster, Payload: out}
}

func (r *Room) tsMapEvent() Event {
	return Event{Type: EvTSMap, Payload: maps.Clone(r.tsMap)}
}

func (r *Room) nameMapEvent() Event {
	return Event{Type: EvNameMap, Payload: maps.Clone(r.nameMap)}
}

func (r *Room) pictureMapEvent() Event {
	return Event{Type: EvPictureMap, Payload: maps.Clone(r.pictureMap)}
}

func (r *Room) lockEvent() Event {
	return Event{Type: EvLock, Payload: r.lock}
}

func (r *Room) broadcast(ev Event) {
	r.deps.Sink.Broadcast(r.name, ev)
}

func (r *Room) broadcastExcept(conn string, ev Event) {
	r.deps.Sink.BroadcastExcept(r.name, conn, ev)
}

func (r *Room) send(conn string, ev Event) {
	r.deps.Sink.Send(r.name, conn, ev)
}

func (r *Room) count(name string) {
	if r.deps.Counter != nil {
		r.deps.Counter.Count(name, 1)
	}
}
