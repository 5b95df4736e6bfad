// ABOUTME: Fake tutoring agent for local runs and E2E testing, serving all capabilities over gRPC
// ABOUTME: Usage: fake-agent [-addr 127.0.0.1:50061] [-fail voice,engagement] [-delay 0s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/tutor-gateway/internal/agent"
	"github.com/2389/tutor-gateway/internal/domain"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50061", "gRPC listen address")
	fail := flag.String("fail", "", "comma separated capabilities that always fail")
	delay := flag.Duration("delay", 0, "delay before every answer")
	questions := flag.Int("questions", 5, "questions per assessment")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "fake-agent")

	failing, err := parseCapabilities(*fail)
	if err != nil {
		logger.Error("invalid -fail", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, newTutor(*questions, *delay, failing, logger), logger); err != nil {
		logger.Error("fake agent stopped", "error", err)
		os.Exit(1)
	}
}

func parseCapabilities(s string) ([]domain.Capability, error) {
	var out []domain.Capability
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c, err := domain.ParseCapability(name)
		if err != nil || !c.Dispatchable() {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}

func run(ctx context.Context, addr string, h agent.Handler, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	agent.RegisterHandler(srv, h)
	hs := health.NewServer()
	hs.SetServingStatus(agent.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			srv.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}
