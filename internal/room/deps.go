package room

import (
	"context"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

// IdentityVerifier проверяет пару (uid, token).
type IdentityVerifier interface {
	Verify(ctx context.Context, uid, token string) (domain.Identity, error)
}

type SubscriptionChecker interface {
	IsActiveSubscriber(ctx context.Context, email string) (bool, error)
}

type AbuseScorer interface {
	Score(ctx context.Context, token string) (domain.AbuseVerdict, error)
}

// ResourcePool выдаёт и забирает виртуальные браузеры одного тарифа.
type ResourcePool interface {
	Allocate(ctx context.Context) (*domain.Assignment, error)
	Release(ctx context.Context, id string) error
}

type BlobStore interface {
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	PushCapped(ctx context.Context, key string, value string, keep int64) error
}

type Counter interface {
	Count(name string, n int64)
}

type Pools struct {
	Standard ResourcePool
	Large    ResourcePool
}

func (p Pools) For(t domain.Tier) ResourcePool {
	if t == domain.TierLarge && p.Large != nil {
		return p.Large
	}
	return p.Standard
}

// Deps — внешние зависимости комнаты. Nil-поля означают, что фича выключена.
type Deps struct {
	Sink     Sink
	Identity IdentityVerifier
	Billing  SubscriptionChecker
	Abuse    AbuseScorer
	Pools    Pools
	Blobs    BlobStore
	Counter  Counter
	Now      func() time.Time
}

type Policy struct {
	ChatLimit            int
	SubtitleTTL          time.Duration
	SessionSamples       int64
	StandardSessionLimit time.Duration
	LargeSessionLimit    time.Duration
	MinAbuseScore        float64
	AllocateTimeout      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ChatLimit:            100,
		SubtitleTTL:          3 * time.Hour,
		SessionSamples:       25,
		StandardSessionLimit: 3 * time.Hour,
		LargeSessionLimit:    12 * time.Hour,
		MinAbuseScore:        0.12,
		AllocateTimeout:      5 * time.Minute,
	}
}

func (p Policy) SessionLimit(t domain.Tier) time.Duration {
	if t == domain.TierLarge {
		return p.LargeSessionLimit
	}
	return p.StandardSessionLimit
}

// Названия счётчиков использования
const (
	CountConnectStarts           = "connectStarts"
	CountURLStarts               = "urlStarts"
	CountChatMessages            = "chatMessages"
	CountVideoChatStarts         = "videoChatStarts"
	CountScreenShareStarts       = "screenShareStarts"
	CountFileShareStarts         = "fileShareStarts"
	CountSubtitleUploads         = "subUploads"
	CountVBrowserStarts          = "vBrowserStarts"
	CountVBrowserTerminateManual = "vBrowserTerminateManual"
	CountVBrowserTerminateEmpty  = "vBrowserTerminateEmpty"
	CountVBrowserTerminateLimit  = "vBrowserTerminateTimeout"
	CountRecaptchaLowScore       = "recaptchaRejectsLowScore"
	CountRecaptchaOther          = "recaptchaRejectsOther"
)

// CountNames: все счётчики использования.
var CountNames = []string{
	CountConnectStarts,
	CountURLStarts,
	CountChatMessages,
	CountVideoChatStarts,
	CountScreenShareStarts,
	CountFileShareStarts,
	CountSubtitleUploads,
	CountVBrowserStarts,
	CountVBrowserTerminateManual,
	CountVBrowserTerminateEmpty,
	CountVBrowserTerminateLimit,
	CountRecaptchaLowScore,
	CountRecaptchaOther,
}

// SessionSamplesKey — список длительностей последних сессий ВМ, мс.
const SessionSamplesKey = "vBrowserSessionMS"
