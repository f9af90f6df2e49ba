package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/MadHawkx/Synctelly/config"
	"github.com/MadHawkx/Synctelly/internal/abuse"
	"github.com/MadHawkx/Synctelly/internal/billing"
	"github.com/MadHawkx/Synctelly/internal/identity"
	"github.com/MadHawkx/Synctelly/internal/kv"
	"github.com/MadHawkx/Synctelly/internal/postgres"
	"github.com/MadHawkx/Synctelly/internal/room"
	"github.com/MadHawkx/Synctelly/internal/service"
	grpcx "github.com/MadHawkx/Synctelly/internal/transport/grpc"
	httpx "github.com/MadHawkx/Synctelly/internal/transport/http"
	"github.com/MadHawkx/Synctelly/internal/transport/ws"
	"github.com/MadHawkx/Synctelly/internal/vmpool"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket and gRPC health servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

type pinger interface {
	Ping(ctx context.Context) error
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	deps := room.Deps{}
	checks := make(map[string]pinger)

	// --- postgres ---
	var (
		store     service.SnapshotStore
		snapshots *postgres.SnapshotRepository
	)
	if cfg.Postgres.Enabled() {
		db, err := postgres.New(ctx, cfg.Postgres.ToPGConfig())
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer db.Close()
		if migrate {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
		}
		snapshots = postgres.NewSnapshotRepository(db.Pool)
		store = snapshots
		checks["postgres"] = db
	} else {
		slog.Warn("postgres disabled, rooms are kept in memory only")
	}

	// --- redis ---
	var (
		kvStore *kv.Store
		counter *kv.Counter
		blobs   httpx.BlobReader
		usage   httpx.UsageReader
	)
	if cfg.Redis.Enabled() {
		client, err := kv.Connect(ctx, cfg.Redis.ToKVConfig())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func(c *redis.Client) { _ = c.Close() }(client)

		kvStore = kv.New(client)
		counter = kv.NewCounter(kvStore)
		deps.Blobs = kvStore
		deps.Counter = counter
		blobs, usage = kvStore, kvStore
		checks["redis"] = kvStore
	} else {
		slog.Warn("redis disabled, subtitles and usage counters are off")
	}

	// --- collaborators ---
	if path := cfg.Identity.PublicKeyPath; path != "" {
		pub, err := identity.LoadRSAPublicKeyFromPEM(path)
		if err != nil {
			return fmt.Errorf("identity key: %w", err)
		}
		deps.Identity = identity.NewJWTVerifier(pub, cfg.Identity.Issuer, cfg.Identity.Audience, cfg.Identity.ClockSkew)
	}
	if cfg.Billing.BaseURL != "" {
		deps.Billing = billing.New(cfg.Billing.BaseURL, cfg.Billing.Secret, cfg.Billing.Timeout)
	}
	if cfg.Abuse.Secret != "" {
		deps.Abuse = abuse.New(cfg.Abuse.VerifyURL, cfg.Abuse.Secret, cfg.Abuse.Timeout)
	}
	if p := cfg.VMPool.Standard; p.URL != "" {
		deps.Pools.Standard = vmpool.New("standard", p.URL, p.Key, cfg.VMPool.Timeout)
	}
	if p := cfg.VMPool.Large; p.URL != "" {
		deps.Pools.Large = vmpool.New("large", p.URL, p.Key, cfg.VMPool.Timeout)
	}

	// --- rooms ---
	hub := ws.NewHub()
	deps.Sink = hub
	rooms := service.NewRoomService(store, deps, cfg.Rooms.ToPolicy(), cfg.Rooms.ToServiceOptions())
	if n, err := rooms.Warm(ctx); err != nil {
		slog.Error("warm rooms failed", "err", err)
	} else if n > 0 {
		slog.Info("rooms with active vbrowser restored", "count", n)
	}

	// --- transport ---
	wsSrv, err := ws.NewServer(hub, rooms, ws.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ReadLimit:      cfg.WS.ReadLimit,
		MaxAsync:       cfg.WS.MaxAsync,
	})
	if err != nil {
		return err
	}
	httpChecks := make(map[string]httpx.Checker, len(checks))
	grpcChecks := make(map[string]grpcx.Checker, len(checks))
	for name, c := range checks {
		httpChecks[name] = c
		grpcChecks[name] = c
	}
	router := httpx.NewRouter(httpx.Deps{
		Handler:        httpx.NewHandler(rooms, blobs, usage, cfg.Stats.KeyHash),
		WS:             wsSrv.HandleWS,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Checks:         httpChecks,
	})
	httpSrv := httpx.NewServer(httpx.Config{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
	}, router)
	grpcSrv := grpcx.New(grpcx.Config{
		Addr:          cfg.GRPC.Addr,
		CheckInterval: cfg.GRPC.CheckInterval,
		UnaryTimeout:  cfg.GRPC.UnaryTimeout,
	}, grpcChecks)

	// --- run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		return httpSrv.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		return grpcSrv.Run(gctx)
	})
	g.Go(func() error { return rooms.Run(gctx) })
	if counter != nil {
		g.Go(func() error { return counter.Run(gctx, cfg.Redis.FlushCounts) })
	}
	if snapshots != nil && cfg.Rooms.SnapshotRetention > 0 {
		g.Go(func() error { return pruneSnapshots(gctx, snapshots, cfg.Rooms.SnapshotRetention) })
	}

	err = g.Wait()
	if err != nil {
		slog.Error("server error", "err", err)
	}
	slog.Info("stopped")
	return err
}

// pruneSnapshots удаляет снапшоты комнат, которые не сохранялись дольше retention.
func pruneSnapshots(ctx context.Context, repo *postgres.SnapshotRepository, retention time.Duration) error {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := repo.DeleteBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				slog.Warn("prune snapshots failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("old room snapshots pruned", "count", n)
			}
		}
	}
}
