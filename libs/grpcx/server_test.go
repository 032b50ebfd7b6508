package grpcx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bookline/bookline/libs/runtime"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func TestRefreshFollowsChecks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := true
	s := NewServer(logger, "scheduling", runtime.ReadyCheck{Name: "db", Check: func(context.Context) error {
		if failing {
			return errors.New("db down")
		}
		return nil
	}})

	s.refresh(context.Background())
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "scheduling"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.Status)
	}

	failing = false
	s.refresh(context.Background())
	resp, err = s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "scheduling"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.Status)
	}
}

func TestRequestIDInterceptor(t *testing.T) {
	intercept := UnaryServerRequestIDInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	seen := func(ctx context.Context, _ any) (any, error) { return RequestIDFromContext(ctx), nil }

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "abc"))
	got, _ := intercept(ctx, nil, info, seen)
	if got != "abc" {
		t.Fatalf("expected incoming id, got %v", got)
	}

	got, _ = intercept(context.Background(), nil, info, seen)
	if id, _ := got.(string); len(id) != 36 {
		t.Fatalf("expected a generated uuid, got %v", got)
	}
}
