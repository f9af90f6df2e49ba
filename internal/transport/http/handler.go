package http

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
	"github.com/MadHawkx/Synctelly/internal/room"
	"github.com/MadHawkx/Synctelly/internal/service"
	"github.com/MadHawkx/Synctelly/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

const maxCreateBody = 64 << 10

type Rooms interface {
	CreateRoom(ctx context.Context, p service.CreateRoomParams) (string, error)
	Stats(now time.Time) service.Stats
}

type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type UsageReader interface {
	Counter(ctx context.Context, name string) (int64, error)
	List(ctx context.Context, key string) ([]string, error)
}

type Handler struct {
	rooms        Rooms
	blobs        BlobReader
	usage        UsageReader
	statsKeyHash []byte
	now          func() time.Time
}

// NewHandler: blobs и usage могут быть nil, тогда субтитры отдают 503,
// а /stats не содержит счётчиков. Пустой statsKeyHash выключает /stats.
func NewHandler(rooms Rooms, blobs BlobReader, usage UsageReader, statsKeyHash string) *Handler {
	return &Handler{
		rooms:        rooms,
		blobs:        blobs,
		usage:        usage,
		statsKeyHash: []byte(statsKeyHash),
		now:          time.Now,
	}
}

// POST /createRoom
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCreateBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid JSON", nil)
		return
	}

	name, err := h.rooms.CreateRoom(r.Context(), service.CreateRoomParams{
		Video: req.Video,
		UID:   req.UID,
		Token: req.Token,
	})
	if err != nil {
		slog.Error("handler.CreateRoom", slog.Any("err", err))
		httputil.Error(r.Context(), w, toHTTP(err), "create room failed", map[string]any{"reason": err.Error()})
		return
	}
	httputil.OK(w, CreateRoomResponse{Name: name})
}

// GET /stats?key=
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if len(h.statsKeyHash) == 0 {
		httputil.Error(r.Context(), w, http.StatusNotFound, "stats disabled", nil)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" || bcrypt.CompareHashAndPassword(h.statsKeyHash, []byte(key)) != nil {
		httputil.Error(r.Context(), w, http.StatusForbidden, "forbidden", nil)
		return
	}

	out := StatsResponse{Stats: h.rooms.Stats(h.now())}
	if h.usage != nil {
		out.Counts = make(map[string]int64, len(room.CountNames))
		for _, name := range room.CountNames {
			n, err := h.usage.Counter(r.Context(), name)
			if err != nil {
				slog.Warn("stats: counter read failed", "counter", name, "err", err)
				continue
			}
			out.Counts[name] = n
		}
		sessions, err := h.usage.List(r.Context(), room.SessionSamplesKey)
		if err != nil {
			slog.Warn("stats: session samples read failed", "err", err)
		}
		out.VBrowserSessionMS = sessions
	}
	httputil.OK(w, out)
}

// GET /subtitle/{hash}: отдаём как есть, сжатым.
func (h *Handler) Subtitle(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if b, err := hex.DecodeString(hash); err != nil || len(b) != 32 {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid subtitle hash", nil)
		return
	}
	if h.blobs == nil {
		httputil.Error(r.Context(), w, http.StatusServiceUnavailable, "subtitle storage disabled", nil)
		return
	}

	data, err := h.blobs.Get(r.Context(), room.SubtitleKey(hash))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("handler.Subtitle", "hash", hash, slog.Any("err", err))
		}
		httputil.Error(r.Context(), w, toHTTP(err), "subtitle not found", nil)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}
