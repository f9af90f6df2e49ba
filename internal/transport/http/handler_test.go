package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
	"github.com/MadHawkx/Synctelly/internal/room"
	"github.com/MadHawkx/Synctelly/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRooms struct {
	got   service.CreateRoomParams
	err   error
	stats service.Stats
}

func (f *fakeRooms) CreateRoom(_ context.Context, p service.CreateRoomParams) (string, error) {
	f.got = p
	if f.err != nil {
		return "", f.err
	}
	return "brave-otter-jumps", nil
}

func (f *fakeRooms) Stats(time.Time) service.Stats { return f.stats }

type fakeBlobs map[string][]byte

func (f fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := f[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

type fakeUsage struct{}

func (fakeUsage) Counter(_ context.Context, name string) (int64, error) {
	if name == room.CountChatMessages {
		return 7, nil
	}
	return 0, nil
}

func (fakeUsage) List(context.Context, string) ([]string, error) {
	return []string{"1000", "2000"}, nil
}

type failingCheck struct{}

func (failingCheck) Ping(context.Context) error { return errors.New("connection refused") }

const subtitleHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func newTestRouter(t *testing.T, rooms *fakeRooms, checks map[string]Checker) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	blobs := fakeBlobs{room.SubtitleKey(subtitleHash): []byte{0x1f, 0x8b, 0x08}}
	h := NewHandler(rooms, blobs, fakeUsage{}, string(hash))
	return NewRouter(Deps{Handler: h, Checks: checks})
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoom(t *testing.T) {
	rooms := &fakeRooms{}
	h := newTestRouter(t, rooms, nil)

	rec := do(h, http.MethodPost, "/createRoom", `{"video":"https://example.com/a.mp4","uid":"alice","token":"t"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"name":"brave-otter-jumps"}}`, rec.Body.String())
	assert.Equal(t, service.CreateRoomParams{Video: "https://example.com/a.mp4", UID: "alice", Token: "t"}, rooms.got)

	// пустое тело допустимо
	rec = do(h, http.MethodPost, "/createRoom", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/createRoom", `{"video":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRoom_Errors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{service.ErrNameExhausted, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestRouter(t, &fakeRooms{err: tt.err}, nil)
			rec := do(h, http.MethodPost, "/createRoom", `{}`)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestStats(t *testing.T) {
	rooms := &fakeRooms{stats: service.Stats{RoomCount: 3, UserCount: 5}}
	h := newTestRouter(t, rooms, nil)

	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/stats", "").Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/stats?key=wrong", "").Code)

	rec := do(h, http.MethodGet, "/stats?key=s3cret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Data.RoomCount)
	assert.Equal(t, 5, body.Data.UserCount)
	assert.Equal(t, int64(7), body.Data.Counts[room.CountChatMessages])
	assert.Equal(t, []string{"1000", "2000"}, body.Data.VBrowserSessionMS)
}

func TestStats_DisabledWithoutKey(t *testing.T) {
	h := NewRouter(Deps{Handler: NewHandler(&fakeRooms{}, nil, nil, "")})
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/stats?key=anything", "").Code)
}

func TestSubtitle(t *testing.T) {
	h := newTestRouter(t, &fakeRooms{}, nil)

	rec := do(h, http.MethodGet, "/subtitle/"+subtitleHash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, []byte{0x1f, 0x8b, 0x08}, rec.Body.Bytes())

	missing := strings.Repeat("ab", 32)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/subtitle/"+missing, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/subtitle/nothex", "").Code)
}

func TestSubtitle_NoStorage(t *testing.T) {
	h := NewRouter(Deps{Handler: NewHandler(&fakeRooms{}, nil, nil, "")})
	rec := do(h, http.MethodGet, "/subtitle/"+subtitleHash, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPingAndHealth(t *testing.T) {
	h := newTestRouter(t, &fakeRooms{}, nil)
	rec := do(h, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)

	h = newTestRouter(t, &fakeRooms{}, map[string]Checker{"redis": failingCheck{}})
	rec = do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(Deps{Handler: NewHandler(&fakeRooms{}, nil, nil, ""), AllowedOrigins: []string{"https://watch.example.com"}})
	req := httptest.NewRequest(http.MethodOptions, "/createRoom", nil)
	req.Header.Set("Origin", "https://watch.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://watch.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
