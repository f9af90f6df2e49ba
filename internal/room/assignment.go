package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

type AssignState int

const (
	AssignIdle AssignState = iota
	AssignPending
	AssignActive
)

func (s AssignState) String() string {
	switch s {
	case AssignPending:
		return "pending"
	case AssignActive:
		return "active"
	default:
		return "idle"
	}
}

// assignment — машина состояний idle -> pending -> active -> idle.
// attempt растёт на каждый старт: результат выделения принимается,
// только если состояние всё ещё pending и попытка та же.
type assignment struct {
	state     AssignState
	attempt   uint64
	requester string
	current   *domain.Assignment
}

func (a *assignment) begin(requester string) uint64 {
	a.attempt++
	a.state = AssignPending
	a.requester = requester
	a.current = nil
	return a.attempt
}

func (a *assignment) pending(attempt uint64) bool {
	return a.state == AssignPending && a.attempt == attempt
}

func (a *assignment) adopt(x *domain.Assignment) {
	a.state = AssignActive
	a.requester = ""
	a.current = x
}

func (a *assignment) restore(x *domain.Assignment) {
	a.adopt(x)
}

func (a *assignment) abort() {
	a.state = AssignIdle
	a.requester = ""
	a.current = nil
}

// reset возвращает то, что было выдано (nil, если ничего).
func (a *assignment) reset() *domain.Assignment {
	cur := a.current
	a.abort()
	return cur
}

type StartRequest struct {
	UID        string
	Token      string
	ProofToken string
	Size       string
}

func (r *Room) AssignState() AssignState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vb.state
}

// StartResource ведёт запрос на виртуальный браузер от проверок до выдачи.
// Медленные вызовы идут без r.mu, после каждого состояние перепроверяется.
func (r *Room) StartResource(ctx context.Context, connID string, req StartRequest) error {
	attempt, err := r.beginStart(connID)
	if err != nil {
		return err
	}
	return r.completeStart(ctx, connID, attempt, req)
}

// beginStart переводит комнату в pending. Всё, что придёт после, уже видит
// запрос: stop отменит его, повторный start получит ErrResourceBusy.
func (r *Room) beginStart(connID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.find(connID) == nil {
		return 0, domain.ErrNotInRoom
	}
	if r.vb.state != AssignIdle {
		return 0, domain.ErrResourceBusy
	}
	if !r.mayMutate(connID) {
		return 0, domain.ErrUnauthorized
	}
	return r.vb.begin(connID), nil
}

func (r *Room) completeStart(ctx context.Context, connID string, attempt uint64, req StartRequest) error {
	tier, uid := r.selectTier(ctx, req)
	if tier == domain.TierLarge && r.deps.Pools.Large == nil {
		tier = domain.TierStandard
	}

	if err := r.checkAbuse(ctx, req.ProofToken); err != nil {
		r.mu.Lock()
		if r.vb.pending(attempt) {
			r.vb.abort()
		}
		r.send(connID, Event{Type: EvErrorMessage, Payload: "Virtual browser request was rejected. Please try again."})
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	if !r.vb.pending(attempt) {
		r.mu.Unlock()
		return domain.ErrAssignCancelled
	}
	r.count(CountVBrowserStarts)
	r.hostLocked(connID, schemeVBrowser)
	r.mu.Unlock()

	pool := r.deps.Pools.For(tier)
	got, err := r.allocate(ctx, pool)

	r.mu.Lock()
	if !r.vb.pending(attempt) {
		r.mu.Unlock()
		if got != nil {
			r.log.Info("releasing vbrowser allocated for a cancelled request", "id", got.ID)
			r.release(ctx, pool, got.ID)
		}
		return domain.ErrAssignCancelled
	}
	if err != nil {
		r.vb.abort()
		r.hostLocked("", "")
		r.send(connID, Event{Type: EvErrorMessage, Payload: "Failed to assign a virtual browser. Please try again later."})
		r.mu.Unlock()
		r.log.Warn("vbrowser allocation failed", "tier", tier, "err", err)
		return err
	}

	got.Large = tier == domain.TierLarge
	if got.AssignTime == 0 {
		got.AssignTime = r.now().UnixMilli()
	}
	got.CreatorUID = uid
	got.CreatorClientID = connID
	r.vb.adopt(got)
	r.setController(connID)
	r.hostLocked("", schemeVBrowser+got.Pass+"@"+got.Host)
	r.broadcast(r.rosterEvent())
	r.dirty = true
	r.mu.Unlock()

	r.log.Info("vbrowser assigned", "id", got.ID, "tier", tier, "conn", connID)
	return nil
}

// StopResource ничего не делает, если ВМ не выдана и не выдаётся.
func (r *Room) StopResource(ctx context.Context, connID string) error {
	ended, err := r.beginStop(connID)
	if err != nil {
		return err
	}
	r.finishSession(ctx, ended)
	return nil
}

// beginStop сбрасывает состояние сразу; возврат ВМ в пул делает finishSession.
func (r *Room) beginStop(connID string) (*domain.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vb.state == AssignIdle && r.video != schemeVBrowser {
		return nil, domain.ErrNoResource
	}
	if r.find(connID) == nil {
		return nil, domain.ErrNotInRoom
	}
	if !r.mayMutate(connID) {
		return nil, domain.ErrUnauthorized
	}
	ended := r.stopLocked()
	r.count(CountVBrowserTerminateManual)
	return ended, nil
}

// Reclaim останавливает ВМ, если комната пустая или сессия вышла за лимит тарифа.
func (r *Room) Reclaim(ctx context.Context, now time.Time) bool {
	r.mu.Lock()
	if r.vb.state != AssignActive || r.vb.current == nil {
		r.mu.Unlock()
		return false
	}
	cur := r.vb.current
	limit := r.policy.SessionLimit(cur.Tier())

	var reason string
	switch {
	case len(r.roster) == 0:
		reason = CountVBrowserTerminateEmpty
	case limit > 0 && now.Sub(cur.AssignedAt()) > limit:
		reason = CountVBrowserTerminateLimit
	default:
		r.mu.Unlock()
		return false
	}
	ended := r.stopLocked()
	r.count(reason)
	r.mu.Unlock()

	r.log.Info("vbrowser reclaimed", "id", ended.ID, "reason", reason)
	r.finishSession(ctx, ended)
	return true
}

func (r *Room) stopLocked() *domain.Assignment {
	ended := r.vb.reset()
	r.setController("")
	r.hostLocked("", "")
	r.dirty = true
	return ended
}

func (r *Room) finishSession(ctx context.Context, a *domain.Assignment) {
	if a == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if r.deps.Blobs != nil && a.AssignTime > 0 {
		ms := r.now().Sub(a.AssignedAt()).Milliseconds()
		if err := r.deps.Blobs.PushCapped(ctx, SessionSamplesKey, strconv.FormatInt(ms, 10), r.policy.SessionSamples); err != nil {
			r.log.Warn("record vbrowser session length", "err", err)
		}
	}
	r.release(ctx, r.deps.Pools.For(a.Tier()), a.ID)
}

func (r *Room) release(ctx context.Context, pool ResourcePool, id string) {
	if pool == nil || id == "" {
		return
	}
	ctx, cancel := r.collaboratorCtx(ctx)
	defer cancel()
	if err := pool.Release(ctx, id); err != nil {
		r.log.Error("release vbrowser", "id", id, "err", err)
	}
}

func (r *Room) allocate(ctx context.Context, pool ResourcePool) (*domain.Assignment, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: no pool configured", domain.ErrAllocationFailed)
	}
	// запрос на ВМ не должен обрываться вместе с соединением
	ctx, cancel := r.collaboratorCtx(ctx)
	defer cancel()

	got, err := pool.Allocate(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAllocationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAllocationFailed, err)
	}
	if got == nil {
		return nil, fmt.Errorf("%w: pool returned nothing", domain.ErrAllocationFailed)
	}
	return got, nil
}

func (r *Room) collaboratorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if r.policy.AllocateTimeout > 0 {
		return context.WithTimeout(ctx, r.policy.AllocateTimeout)
	}
	return context.WithCancel(ctx)
}

// selectTier: large только для подписчика, который сам попросил large.
// Любая ошибка проверки даёт standard.
func (r *Room) selectTier(ctx context.Context, req StartRequest) (domain.Tier, string) {
	if r.deps.Identity == nil || req.UID == "" || req.Token == "" {
		return domain.TierStandard, ""
	}
	id, err := r.deps.Identity.Verify(ctx, req.UID, req.Token)
	if err != nil {
		r.log.Debug("vbrowser requester identity not verified", "err", err)
		return domain.TierStandard, ""
	}
	if req.Size != string(domain.TierLarge) || id.Email == "" || r.deps.Billing == nil {
		return domain.TierStandard, id.UID
	}
	active, err := r.deps.Billing.IsActiveSubscriber(ctx, id.Email)
	if err != nil {
		r.log.Warn("subscription check failed, using standard tier", "uid", id.UID, "err", err)
		return domain.TierStandard, id.UID
	}
	if !active {
		return domain.TierStandard, id.UID
	}
	return domain.TierLarge, id.UID
}

func (r *Room) checkAbuse(ctx context.Context, token string) error {
	if r.deps.Abuse == nil {
		return nil
	}
	v, err := r.deps.Abuse.Score(ctx, token)
	if err != nil {
		// сервис проверки недоступен, пропускаем
		r.log.Warn("abuse check unavailable, request let through", "err", err)
		return nil
	}
	lowScore := v.Score < r.policy.MinAbuseScore
	if v.Accepted && !lowScore {
		return nil
	}
	if lowScore {
		r.count(CountRecaptchaLowScore)
	} else {
		r.count(CountRecaptchaOther)
	}
	return fmt.Errorf("%w: score %.2f", domain.ErrAbuseRejected, v.Score)
}
