package room

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

const (
	MaxNameLen     = 50
	MaxPictureLen  = 10_000
	MaxVideoLen    = 20_000
	MaxChatLen     = 10_000
	MaxSubtitleLen = 1_000_000
)

func SubtitleKey(hash string) string { return "subtitle:" + hash }

func (r *Room) SetName(connID, name string) error {
	if name == "" {
		return domain.ErrInvalidInput
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return domain.ErrTooLarge
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	r.nameMap[connID] = name
	r.broadcast(r.nameMapEvent())
	return nil
}

func (r *Room) SetPicture(connID, url string) error {
	if utf8.RuneCountInString(url) > MaxPictureLen {
		return domain.ErrTooLarge
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	r.pictureMap[connID] = url
	r.broadcast(r.pictureMapEvent())
	return nil
}

// BindIdentity привязывает подтверждённый uid к подключению.
func (r *Room) BindIdentity(ctx context.Context, connID, uid, token string) error {
	id, err := r.verify(ctx, uid, token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.find(connID)
	if p == nil {
		return domain.ErrNotInRoom
	}
	p.UID = id.UID
	r.broadcast(r.rosterEvent())
	return nil
}

func (r *Room) Host(connID, video string) error {
	if utf8.RuneCountInString(video) > MaxVideoLen {
		return domain.ErrTooLarge
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	if r.sharer() != nil {
		return domain.ErrScreenShareActive
	}
	if r.vb.state != AssignIdle {
		return domain.ErrResourceActive
	}
	r.count(CountURLStarts)
	r.hostLocked(connID, video)
	return nil
}

func (r *Room) Play(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	r.paused = false
	r.broadcastExcept(connID, Event{Type: EvPlay, Payload: r.video})
	r.addChat(connID, domain.ChatCmdPlay, r.lastPosition(connID))
	return nil
}

func (r *Room) Pause(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	r.paused = true
	r.broadcastExcept(connID, Event{Type: EvPause})
	r.addChat(connID, domain.ChatCmdPause, r.lastPosition(connID))
	return nil
}

func (r *Room) Seek(connID string, ts float64) error {
	if !validPosition(ts) {
		return domain.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	r.videoTS = ts
	r.broadcastExcept(connID, Event{Type: EvSeek, Payload: ts})
	r.addChat(connID, domain.ChatCmdSeek, formatTS(ts))
	return nil
}

// ReportPosition не проходит через замок: позицию сообщает каждый зритель.
// videoTS только растёт, откат делается через Seek.
func (r *Room) ReportPosition(connID string, ts float64) error {
	if !validPosition(ts) {
		return domain.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if ts > r.videoTS {
		r.videoTS = ts
	}
	r.tsMap[connID] = ts
	return nil
}

func (r *Room) Chat(connID, msg string) error {
	if msg == "" {
		return domain.ErrInvalidInput
	}
	if utf8.RuneCountInString(msg) > MaxChatLen {
		return domain.ErrTooLarge
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	r.count(CountChatMessages)
	r.addChat(connID, "", msg)
	return nil
}

func (r *Room) JoinVideo(connID string) error {
	return r.setVideoChat(connID, true)
}

func (r *Room) LeaveVideo(connID string) error {
	return r.setVideoChat(connID, false)
}

func (r *Room) setVideoChat(connID string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.find(connID)
	if p == nil {
		return domain.ErrNotInRoom
	}
	p.IsVideoChat = on
	if on {
		r.count(CountVideoChatStarts)
	}
	r.broadcast(r.rosterEvent())
	return nil
}

func (r *Room) JoinScreenShare(connID string, file bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.find(connID)
	if p == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	if r.sharer() != nil {
		return domain.ErrScreenShareActive
	}
	if r.vb.state != AssignIdle {
		return domain.ErrResourceActive
	}
	if file {
		r.count(CountFileShareStarts)
		r.hostLocked(connID, schemeFileShare+connID)
	} else {
		r.count(CountScreenShareStarts)
		r.hostLocked(connID, schemeScreenShare+connID)
	}
	p.IsScreenShare = true
	r.broadcast(r.rosterEvent())
	return nil
}

func (r *Room) LeaveScreenShare(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.sharer()
	if p == nil || p.ID != connID {
		return domain.ErrInvalidInput
	}
	p.IsScreenShare = false
	r.hostLocked(connID, "")
	r.broadcast(r.rosterEvent())
	return nil
}

func (r *Room) ChangeController(connID, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	if r.find(target) == nil {
		return domain.ErrInvalidInput
	}
	r.setController(target)
	r.broadcast(r.rosterEvent())
	return nil
}

// UploadSubtitle кладёт сжатые субтитры в хранилище, в комнате остаётся только хеш.
func (r *Room) UploadSubtitle(ctx context.Context, connID, data string) error {
	if utf8.RuneCountInString(data) > MaxSubtitleLen {
		return domain.ErrTooLarge
	}
	if err := r.gate(connID); err != nil {
		return err
	}
	if r.deps.Blobs == nil {
		return domain.ErrStoreDisabled
	}

	sum := sha256.Sum256([]byte(data))
	hash := hex.EncodeToString(sum[:])
	blob, err := gzipString(data)
	if err != nil {
		return err
	}
	if err := r.deps.Blobs.SetWithExpiry(ctx, SubtitleKey(hash), blob, r.policy.SubtitleTTL); err != nil {
		return fmt.Errorf("store subtitle: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// пока сохраняли, комнату могли запереть
	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	r.subtitle = hash
	r.count(CountSubtitleUploads)
	r.broadcast(Event{Type: EvSubtitle, Payload: hash})
	return nil
}

// SetLock запирает или отпирает комнату. Нужен свежий токен: uid из него
// привязывается к подключению и проверяется против текущего замка.
func (r *Room) SetLock(ctx context.Context, connID, uid, token string, locked bool) error {
	id, err := r.verify(ctx, uid, token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.find(connID)
	if p == nil {
		return domain.ErrNotInRoom
	}
	p.UID = id.UID
	if !MayMutate(r.lock, id.UID) {
		r.log.Info("lock change rejected", "conn", connID, "uid", id.UID)
		return domain.ErrUnauthorized
	}

	cmd := domain.ChatCmdUnlock
	r.lock = ""
	if locked {
		cmd = domain.ChatCmdLock
		r.lock = id.UID
	}
	r.dirty = true
	r.broadcast(r.lockEvent())
	r.addChat(connID, cmd, "")
	return nil
}

func (r *Room) AskHost(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	r.send(connID, r.hostEvent())
	return nil
}

// Relay пересылает WebRTC-сигнал конкретному участнику, содержимое не разбирается.
func (r *Room) Relay(connID, to string, msg any) error {
	return r.relay(EvSignal, SignalOut{From: connID, Msg: msg}, connID, to)
}

func (r *Room) RelayScreenShare(connID, to string, sharer bool, msg any) error {
	return r.relay(EvSignalSS, ScreenShareSignalOut{From: connID, Sharer: sharer, Msg: msg}, connID, to)
}

func (r *Room) relay(typ string, out any, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(from) == nil {
		return domain.ErrNotInRoom
	}
	if r.find(to) == nil {
		return domain.ErrInvalidInput
	}
	r.send(to, Event{Type: typ, Payload: out})
	return nil
}

// Kick отключает участника. Разрешено только владельцу замка.
func (r *Room) Kick(ctx context.Context, connID, target, uid, token string) error {
	id, err := r.verify(ctx, uid, token)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if r.lock == "" || id.UID != r.lock {
		r.log.Info("kick rejected", "conn", connID, "uid", id.UID)
		return domain.ErrUnauthorized
	}
	if target == connID || r.find(target) == nil {
		return domain.ErrInvalidInput
	}
	r.send(target, Event{Type: EvKicked})
	r.deps.Sink.Disconnect(r.name, target)
	return nil
}

func (r *Room) gate(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(connID) == nil {
		return domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return domain.ErrUnauthorized
	}
	return nil
}

func (r *Room) verify(ctx context.Context, uid, token string) (domain.Identity, error) {
	if r.deps.Identity == nil || uid == "" || token == "" {
		return domain.Identity{}, domain.ErrInvalidIdentity
	}
	id, err := r.deps.Identity.Verify(ctx, uid, token)
	if err != nil {
		r.log.Debug("identity verification failed", "uid", uid, "err", err)
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}
	if id.UID == "" {
		return domain.Identity{}, domain.ErrInvalidIdentity
	}
	return id, nil
}

func (r *Room) lastPosition(connID string) string {
	ts, ok := r.tsMap[connID]
	if !ok {
		return ""
	}
	return formatTS(ts)
}

func validPosition(ts float64) bool {
	return !math.IsNaN(ts) && !math.IsInf(ts, 0)
}

func formatTS(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

func gzipString(s string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		return nil, fmt.Errorf("gzip subtitle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip subtitle: %w", err)
	}
	return buf.Bytes(), nil
}
