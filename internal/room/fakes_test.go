package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

type sent struct {
	kind   string // all | except | one
	to     string
	except string
	ev     Event
}

type recordingSink struct {
	mu           sync.Mutex
	events       []sent
	disconnected []string
}

func (s *recordingSink) Broadcast(_ string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sent{kind: "all", ev: ev})
}

func (s *recordingSink) BroadcastExcept(_ string, except string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sent{kind: "except", except: except, ev: ev})
}

func (s *recordingSink) Send(_ string, conn string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sent{kind: "one", to: conn, ev: ev})
}

func (s *recordingSink) Disconnect(_ string, conn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, conn)
}

func (s *recordingSink) ofType(typ string) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, e := range s.events {
		if e.ev.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func (s *recordingSink) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.events...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// token -> identity
type fakeVerifier map[string]domain.Identity

func (f fakeVerifier) Verify(_ context.Context, uid, token string) (domain.Identity, error) {
	id, ok := f[token]
	if !ok || id.UID != uid {
		return domain.Identity{}, errors.New("bad token")
	}
	return id, nil
}

type fakeBilling struct {
	active map[string]bool
	err    error
	calls  int
}

func (f *fakeBilling) IsActiveSubscriber(_ context.Context, email string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.active[email], nil
}

type fakeAbuse struct {
	verdict domain.AbuseVerdict
	err     error
}

func (f *fakeAbuse) Score(context.Context, string) (domain.AbuseVerdict, error) {
	return f.verdict, f.err
}

type fakePool struct {
	mu        sync.Mutex
	prefix    string
	err       error
	gate      chan struct{}
	started   chan struct{}
	allocated int
	released  []string
}

func newPool(prefix string) *fakePool {
	return &fakePool{prefix: prefix}
}

func (p *fakePool) Allocate(ctx context.Context) (*domain.Assignment, error) {
	p.mu.Lock()
	p.allocated++
	n := p.allocated
	gate, started := p.gate, p.started
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &domain.Assignment{
		ID:   fmt.Sprintf("%s-%d", p.prefix, n),
		Host: "10.0.0.7:5000",
		Pass: "hunter2",
	}, nil
}

func (p *fakePool) Release(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, id)
	return nil
}

func (p *fakePool) Released() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.released...)
}

func (p *fakePool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

type fakeBlobs struct {
	mu    sync.Mutex
	kv    map[string][]byte
	ttl   map[string]time.Duration
	lists map[string][]string
	err   error
}

func newBlobs() *fakeBlobs {
	return &fakeBlobs{
		kv:    make(map[string][]byte),
		ttl:   make(map[string]time.Duration),
		lists: make(map[string][]string),
	}
}

func (b *fakeBlobs) SetWithExpiry(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.kv[key] = value
	b.ttl[key] = ttl
	return nil
}

func (b *fakeBlobs) PushCapped(_ context.Context, key, value string, keep int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := append([]string{value}, b.lists[key]...)
	if int64(len(l)) > keep {
		l = l[:keep]
	}
	b.lists[key] = l
	return nil
}

type fakeCounter struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *fakeCounter) Count(name string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]int64)
	}
	c.m[name] += n
}

func (c *fakeCounter) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

type fixture struct {
	room    *Room
	sink    *recordingSink
	clock   *fakeClock
	pool    *fakePool
	large   *fakePool
	blobs   *fakeBlobs
	counter *fakeCounter
	billing *fakeBilling
	abuse   *fakeAbuse
}

var (
	alice = domain.Identity{UID: "alice", Email: "alice@example.com"}
	bob   = domain.Identity{UID: "bob", Email: "bob@example.com"}
)

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		sink:    &recordingSink{},
		clock:   newClock(),
		pool:    newPool("std"),
		large:   newPool("large"),
		blobs:   newBlobs(),
		counter: &fakeCounter{},
		billing: &fakeBilling{active: map[string]bool{}},
		abuse:   &fakeAbuse{verdict: domain.AbuseVerdict{Accepted: true, Score: 0.9}},
	}
	deps := Deps{
		Sink:     f.sink,
		Identity: fakeVerifier{"tok-alice": alice, "tok-bob": bob},
		Billing:  f.billing,
		Abuse:    f.abuse,
		Pools:    Pools{Standard: f.pool, Large: f.large},
		Blobs:    f.blobs,
		Counter:  f.counter,
		Now:      f.clock.Now,
	}
	f.room = New("gentle-otter-sings", deps, DefaultPolicy(), opts...)
	return f
}
