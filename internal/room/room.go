package room

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

const (
	schemeScreenShare = "screenshare://"
	schemeFileShare   = "fileshare://"
	schemeVBrowser    = "vbrowser://"
)

// Room — авторитетное состояние одной комнаты.
// Все изменения идут через методы Room под r.mu, события отправляются тоже под ним,
// поэтому каждый клиент видит события комнаты в том порядке, в котором они произошли.
type Room struct {
	mu     sync.Mutex
	name   string
	deps   Deps
	policy Policy
	log    *slog.Logger

	video    string
	videoTS  float64
	paused   bool
	subtitle string
	lock     string
	creator  string

	creationTime   time.Time
	lastUpdateTime time.Time
	dirty          bool

	roster     []*domain.Participant
	chat       []domain.ChatEntry
	tsMap      map[string]float64
	nameMap    map[string]string
	pictureMap map[string]string

	vb assignment
}

type Option func(*Room)

// WithSnapshot восстанавливает сохранённое состояние; отсутствующие поля остаются по умолчанию.
func WithSnapshot(s *domain.Snapshot) Option {
	return func(r *Room) {
		if s == nil {
			return
		}
		r.video = s.Video
		r.videoTS = s.VideoTS
		r.paused = s.Paused
		r.subtitle = s.Subtitle
		r.lock = s.Lock
		r.creator = s.Creator
		if s.NameMap != nil {
			r.nameMap = maps.Clone(s.NameMap)
		}
		if s.PictureMap != nil {
			r.pictureMap = maps.Clone(s.PictureMap)
		}
		if s.Chat != nil {
			r.chat = slices.Clone(s.Chat)
		}
		if s.CreationTime != nil {
			r.creationTime = *s.CreationTime
		}
		if s.VBrowser != nil {
			a := *s.VBrowser
			r.vb.restore(&a)
		}
	}
}

func WithVideo(video string) Option {
	return func(r *Room) { r.video = video }
}

func WithCreator(email string) Option {
	return func(r *Room) { r.creator = email }
}

func New(name string, deps Deps, policy Policy, opts ...Option) *Room {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	r := &Room{
		name:       name,
		deps:       deps,
		policy:     policy,
		log:        slog.With("room", name),
		tsMap:      make(map[string]float64),
		nameMap:    make(map[string]string),
		pictureMap: make(map[string]string),
	}
	now := deps.Now()
	r.creationTime = now
	r.lastUpdateTime = now
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Room) Name() string { return r.name }

// Join добавляет подключение и отправляет ему текущее состояние.
func (r *Room) Join(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) != nil {
		return
	}
	r.roster = append(r.roster, &domain.Participant{ID: connID, JoinedAt: r.now()})
	r.count(CountConnectStarts)
	r.touch()

	r.send(connID, r.hostEvent())
	r.send(connID, r.nameMapEvent())
	r.send(connID, r.pictureMapEvent())
	r.send(connID, r.tsMapEvent())
	r.send(connID, r.lockEvent())
	r.send(connID, Event{Type: EvChatInit, Payload: slices.Clone(r.chat)})
	r.broadcast(r.rosterEvent())
}

// Leave можно вызывать повторно.
func (r *Room) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.roster, func(p *domain.Participant) bool { return p.ID == connID })
	if idx < 0 {
		return
	}
	removed := r.roster[idx]
	r.roster = slices.Delete(r.roster, idx, idx+1)
	delete(r.tsMap, connID)
	r.touch()
	r.broadcast(r.rosterEvent())

	if removed.IsScreenShare {
		// шарер ушёл, показывать больше нечего
		r.hostLocked("", "")
	}
	if r.vb.state == AssignPending && r.vb.requester == connID {
		r.log.Info("vbrowser request cancelled, requester left", "conn", connID)
		r.vb.abort()
		if r.video == schemeVBrowser {
			r.hostLocked("", "")
		}
	}
	if len(r.roster) == 0 {
		r.dirty = true
	}
}

// BroadcastPositions рассылает карту позиций, пока в комнате есть видео.
func (r *Room) BroadcastPositions() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.video == "" {
		return
	}
	r.broadcast(r.tsMapEvent())
}

// SnapshotForSave отдаёт снапшот, если в комнате кто-то есть или есть несохранённые
// изменения, и сбрасывает dirty. Если сохранить не вышло, нужен MarkDirty.
func (r *Room) SnapshotForSave() (*domain.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.roster) == 0 && !r.dirty {
		return nil, false
	}
	r.dirty = false
	return r.snapshotLocked(), true
}

func (r *Room) Snapshot() *domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) MarkDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// Evictable: пустая, без ВМ, всё сохранено и давно не трогалась.
func (r *Room) Evictable(now time.Time, after time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.roster) == 0 &&
		r.vb.state == AssignIdle &&
		!r.dirty &&
		now.Sub(r.lastUpdateTime) >= after
}

func (r *Room) RosterLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roster)
}

func (r *Room) snapshotLocked() *domain.Snapshot {
	created := r.creationTime
	s := &domain.Snapshot{
		Video:        r.video,
		VideoTS:      r.videoTS,
		Paused:       r.paused,
		Subtitle:     r.subtitle,
		NameMap:      maps.Clone(r.nameMap),
		PictureMap:   maps.Clone(r.pictureMap),
		Chat:         slices.Clone(r.chat),
		CreationTime: &created,
		Lock:         r.lock,
		Creator:      r.creator,
	}
	if r.vb.current != nil {
		a := *r.vb.current
		s.VBrowser = &a
	}
	return s
}

// hostLocked сбрасывает позицию, паузу, субтитры и карту позиций.
// Если sender не пустой и видео задано, в чат пишется запись host.
func (r *Room) hostLocked(sender, video string) {
	r.video = video
	r.videoTS = 0
	r.paused = false
	r.subtitle = ""
	r.tsMap = make(map[string]float64)
	r.touch()

	r.broadcast(r.tsMapEvent())
	r.broadcast(r.hostEvent())
	if sender != "" && video != "" {
		r.addChat(sender, domain.ChatCmdHost, video)
	}
}

func (r *Room) addChat(sender, cmd, msg string) {
	entry := domain.ChatEntry{
		ID:        sender,
		Cmd:       cmd,
		Msg:       msg,
		Timestamp: r.now().UTC().Truncate(time.Millisecond),
	}
	if ts, ok := r.tsMap[sender]; ok {
		entry.VideoTS = &ts
	}
	r.chat = append(r.chat, entry)
	if limit := r.policy.ChatLimit; limit > 0 && len(r.chat) > limit {
		r.chat = slices.Clone(r.chat[len(r.chat)-limit:])
	}
	r.broadcast(Event{Type: EvChat, Payload: entry})
}

func (r *Room) find(connID string) *domain.Participant {
	for _, p := range r.roster {
		if p.ID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) sharer() *domain.Participant {
	for _, p := range r.roster {
		if p.IsScreenShare {
			return p
		}
	}
	return nil
}

// setController оставляет ровно одного контроллера (или ни одного при пустом id).
func (r *Room) setController(connID string) {
	for _, p := range r.roster {
		p.IsController = p.ID == connID
	}
}

func (r *Room) now() time.Time { return r.deps.Now() }

func (r *Room) touch() { r.lastUpdateTime = r.now() }

type nopSink struct{}

func (nopSink) Broadcast(string, Event)               {}
func (nopSink) BroadcastExcept(string, string, Event) {}
func (nopSink) Send(string, string, Event)            {}
func (nopSink) Disconnect(string, string)             {}
