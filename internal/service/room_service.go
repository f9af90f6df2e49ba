package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MadHawkx/Synctelly/internal/domain"
	"github.com/MadHawkx/Synctelly/internal/room"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const maxRoomNameLen = 128

var ErrNameExhausted = errors.New("could not pick a free room name")

type SnapshotStore interface {
	Save(ctx context.Context, name string, snap *domain.Snapshot) error
	Load(ctx context.Context, name string) (*domain.Snapshot, error)
	WithResource(ctx context.Context) (map[string]*domain.Snapshot, error)
}

type Options struct {
	Shard            string
	SaveInterval     time.Duration
	PositionInterval time.Duration
	ReleaseInterval  time.Duration
	ReleaseBatches   int
	// 0: комнаты из памяти не выгружаются
	IdleEvictAfter time.Duration
	NameAttempts   int
}

func DefaultOptions() Options {
	return Options{
		SaveInterval:     time.Second,
		PositionInterval: time.Second,
		ReleaseInterval:  5 * time.Minute,
		ReleaseBatches:   5,
		IdleEvictAfter:   time.Hour,
		NameAttempts:     20,
	}
}

// RoomService — реестр живых комнат: создание, загрузка из снапшота,
// периодическое сохранение, рассылка позиций и возврат ВМ.
type RoomService struct {
	mu    sync.RWMutex
	rooms map[string]*room.Room

	store  SnapshotStore
	deps   room.Deps
	policy room.Policy
	opts   Options

	loads     singleflight.Group
	startedAt time.Time
	newName   func() (string, error)

	batchMu sync.Mutex
	batch   int
}

func NewRoomService(store SnapshotStore, deps room.Deps, policy room.Policy, opts Options) *RoomService {
	def := DefaultOptions()
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = def.SaveInterval
	}
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = def.PositionInterval
	}
	if opts.ReleaseInterval <= 0 {
		opts.ReleaseInterval = def.ReleaseInterval
	}
	if opts.ReleaseBatches <= 0 {
		opts.ReleaseBatches = def.ReleaseBatches
	}
	if opts.NameAttempts <= 0 {
		opts.NameAttempts = def.NameAttempts
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &RoomService{
		rooms:     make(map[string]*room.Room),
		store:     store,
		deps:      deps,
		policy:    policy,
		opts:      opts,
		startedAt: deps.Now(),
		newName:   GenerateName,
	}
}

type CreateRoomParams struct {
	Video string
	UID   string
	Token string
}

// CreateRoom создаёт комнату со случайным именем. Создатель: email из
// подтверждённого токена, если он передан.
func (s *RoomService) CreateRoom(ctx context.Context, p CreateRoomParams) (string, error) {
	if utf8.RuneCountInString(p.Video) > room.MaxVideoLen {
		return "", domain.ErrTooLarge
	}
	var creator string
	if p.UID != "" && p.Token != "" && s.deps.Identity != nil {
		id, err := s.deps.Identity.Verify(ctx, p.UID, p.Token)
		if err != nil {
			slog.Debug("create room: creator not verified", "uid", p.UID, "err", err)
		} else {
			creator = id.Email
		}
	}

	for range s.opts.NameAttempts {
		name, err := s.newName()
		if err != nil {
			return "", err
		}
		if s.opts.Shard != "" {
			name = s.opts.Shard + "@" + name
		}
		if s.persisted(ctx, name) {
			continue
		}

		s.mu.Lock()
		if _, taken := s.rooms[name]; taken {
			s.mu.Unlock()
			continue
		}
		opts := []room.Option{room.WithCreator(creator)}
		if p.Video != "" {
			opts = append(opts, room.WithVideo(p.Video))
		}
		r := room.New(name, s.deps, s.policy, opts...)
		r.MarkDirty()
		s.rooms[name] = r
		s.mu.Unlock()

		slog.Info("room created", "room", name, "creator", creator)
		return name, nil
	}
	return "", ErrNameExhausted
}

// persisted: если хранилище недоступно, имя считается свободным.
func (s *RoomService) persisted(ctx context.Context, name string) bool {
	if s.store == nil {
		return false
	}
	_, err := s.store.Load(ctx, name)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrRoomNotFound):
		return false
	default:
		slog.Warn("create room: snapshot lookup failed", "room", name, "err", err)
		return false
	}
}

// Open возвращает живую комнату, при первом обращении поднимает её из снапшота.
// Нет снапшота или он не читается: комната создаётся пустой.
func (s *RoomService) Open(ctx context.Context, name string) (*room.Room, error) {
	if name == "" || len(name) > maxRoomNameLen {
		return nil, domain.ErrInvalidInput
	}
	if r, ok := s.Get(name); ok {
		return r, nil
	}

	v, err, _ := s.loads.Do(name, func() (any, error) {
		if r, ok := s.Get(name); ok {
			return r, nil
		}
		snap := s.load(ctx, name)
		r := room.New(name, s.deps, s.policy, room.WithSnapshot(snap))

		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.rooms[name]; ok {
			return existing, nil
		}
		s.rooms[name] = r
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*room.Room), nil
}

func (s *RoomService) load(ctx context.Context, name string) *domain.Snapshot {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.Load(ctx, name)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			slog.Warn("room snapshot not loaded, starting fresh", "room", name, "err", err)
		}
		return nil
	}
	return snap
}

// Join добавляет подключение в комнату. Под s.mu.RLock, чтобы не пересечься с выгрузкой.
func (s *RoomService) Join(ctx context.Context, name, connID string) (*room.Room, error) {
	for {
		r, err := s.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		if s.rooms[name] != r {
			// комнату выгрузили между Open и RLock
			s.mu.RUnlock()
			continue
		}
		r.Join(connID)
		s.mu.RUnlock()
		return r, nil
	}
}

func (s *RoomService) Leave(name, connID string) {
	if r, ok := s.Get(name); ok {
		r.Leave(connID)
	}
}

func (s *RoomService) Get(name string) (*room.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[name]
	return r, ok
}

func (s *RoomService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *RoomService) list() []*room.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*room.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// Warm поднимает комнаты, у которых на момент остановки была выдана ВМ,
// чтобы reaper смог её вернуть.
func (s *RoomService) Warm(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	snaps, err := s.store.WithResource(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm rooms: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for name, snap := range snaps {
		if _, ok := s.rooms[name]; ok {
			continue
		}
		s.rooms[name] = room.New(name, s.deps, s.policy, room.WithSnapshot(snap))
		n++
	}
	return n, nil
}

// Run крутит фоновые задачи до отмены ctx, затем делает последнее сохранение.
func (s *RoomService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(gctx, s.opts.SaveInterval, func(ctx context.Context) { s.SaveAll(ctx) })
	})
	g.Go(func() error {
		return every(gctx, s.opts.PositionInterval, func(context.Context) { s.BroadcastPositions() })
	})
	g.Go(func() error {
		step := s.opts.ReleaseInterval / time.Duration(s.opts.ReleaseBatches)
		return every(gctx, step, func(ctx context.Context) { s.ReclaimBatch(ctx, s.deps.Now()) })
	})

	err := g.Wait()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	saved, failed := s.SaveAll(saveCtx)
	slog.Info("rooms saved on shutdown", "saved", saved, "failed", failed)
	return err
}

func every(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn(ctx)
		}
	}
}

// SaveAll сохраняет занятые и изменённые комнаты. Ошибка одной комнаты
// не останавливает цикл, комната остаётся dirty до следующей попытки.
func (s *RoomService) SaveAll(ctx context.Context) (saved, failed int) {
	if s.store == nil {
		return 0, 0
	}
	for _, r := range s.list() {
		snap, ok := r.SnapshotForSave()
		if !ok {
			continue
		}
		if err := s.store.Save(ctx, r.Name(), snap); err != nil {
			r.MarkDirty()
			failed++
			slog.Warn("room save failed", "room", r.Name(), "err", err)
			continue
		}
		saved++
	}
	return saved, failed
}

func (s *RoomService) BroadcastPositions() {
	for _, r := range s.list() {
		r.BroadcastPositions()
	}
}

// BatchOf распределяет комнаты по пачкам reaper-а.
func BatchOf(name string, batches int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % uint32(batches))
}

// ReclaimBatch обрабатывает одну пачку комнат: возвращает ВМ из пустых и
// просроченных комнат и выгружает давно неиспользуемые.
func (s *RoomService) ReclaimBatch(ctx context.Context, now time.Time) (reclaimed, evicted int) {
	s.batchMu.Lock()
	batch := s.batch
	s.batch = (s.batch + 1) % s.opts.ReleaseBatches
	s.batchMu.Unlock()

	var inBatch []*room.Room
	for _, r := range s.list() {
		if BatchOf(r.Name(), s.opts.ReleaseBatches) == batch {
			inBatch = append(inBatch, r)
		}
	}
	for _, r := range inBatch {
		if r.Reclaim(ctx, now) {
			reclaimed++
		}
	}
	evicted = s.evict(inBatch, now)

	if reclaimed > 0 || evicted > 0 {
		slog.Info("reaper batch done", "batch", batch, "reclaimed", reclaimed, "evicted", evicted)
	}
	return reclaimed, evicted
}

func (s *RoomService) evict(rooms []*room.Room, now time.Time) int {
	// без хранилища выгрузка потеряет состояние
	if s.store == nil || s.opts.IdleEvictAfter <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range rooms {
		if s.rooms[r.Name()] != r || !r.Evictable(now, s.opts.IdleEvictAfter) {
			continue
		}
		delete(s.rooms, r.Name())
		n++
	}
	return n
}

// CurrentBatch: пачка, которую обработает следующий ReclaimBatch.
func (s *RoomService) CurrentBatch() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.batch
}
