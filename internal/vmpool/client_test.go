package vmpool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poolServer struct {
	mu       sync.Mutex
	free     int
	released []string
}

func (p *poolServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer pool-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.URL.Path {
	case "/assignVM":
		if p.free == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		p.free--
		_ = json.NewEncoder(w).Encode(domain.Assignment{ID: "vm-1", Host: "10.1.1.1:8080", Pass: "pw", AssignTime: 1700000000000})
	case "/releaseVM":
		var body struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ID == "unknown" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		p.released = append(p.released, body.ID)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestClient_AllocateRelease(t *testing.T) {
	ps := &poolServer{free: 1}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	c := New("standard", srv.URL, "pool-key", time.Second)
	ctx := context.Background()

	a, err := c.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vm-1", a.ID)
	assert.Equal(t, "10.1.1.1:8080", a.Host)
	assert.Equal(t, int64(1700000000000), a.AssignTime)

	_, err = c.Allocate(ctx)
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.ErrorIs(t, err, domain.ErrAllocationFailed)

	require.NoError(t, c.Release(ctx, "vm-1"))
	require.NoError(t, c.Release(ctx, "unknown"))
	assert.Equal(t, []string{"vm-1"}, ps.released)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New("large", srv.URL, "", time.Second)
	_, err := c.Allocate(context.Background())
	assert.ErrorIs(t, err, domain.ErrAllocationFailed)
	assert.Error(t, c.Release(context.Background(), "vm-1"))
}
