package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// instanceID: в k8s HOSTNAME это имя пода, его и берём.
func instanceID(cfg Config) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	hn := os.Getenv("HOSTNAME")
	if hn == "" {
		hn, _ = os.Hostname()
	}
	if hn == "" {
		hn = cfg.Service
	}
	return hn + "-" + uuid.NewString()[:8]
}

// baseAttrs прикрепляются к каждой записи. Пустые version и shard не пишем.
func baseAttrs(cfg Config, startedAt time.Time) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", startedAt),
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	if cfg.Shard != "" {
		attrs = append(attrs, slog.String("shard", cfg.Shard))
	}
	return attrs
}
