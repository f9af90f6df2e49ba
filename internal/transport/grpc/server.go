package grpcx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName — имя, под которым публикуется статус в health-сервисе.
const ServiceName = "synctelly.Rooms"

type Checker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr string
	// как часто перепроверять зависимости
	CheckInterval time.Duration
	UnaryTimeout  time.Duration
}

// Server отдаёт grpc.health.v1 для балансировщика: SERVING, пока отвечают
// все зависимости из checks.
type Server struct {
	cfg    Config
	grpc   *grpc.Server
	health *health.Server
	checks map[string]Checker
}

func New(cfg Config, checks map[string]Checker) *Server {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.UnaryTimeout <= 0 {
		cfg.UnaryTimeout = 10 * time.Second
	}
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(cfg.UnaryTimeout)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{cfg: cfg, grpc: gs, health: hs, checks: checks}
}

// Refresh проверяет зависимости и выставляет статус.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	for name, c := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Ping(cctx)
		cancel()
		if err != nil {
			slog.Warn("grpc health: dependency down", "dep", name, "err", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return st
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Run слушает cfg.Addr до отмены ctx.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.cfg.Addr, err)
	}
	s.Refresh(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	t := time.NewTicker(s.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.Stop()
}
