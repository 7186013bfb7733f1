package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRun_ExitCodes(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	if code := r.Run(ctx, func(context.Context) error { return nil }); code != 0 {
		t.Fatalf("expected 0, got %d", code)
	}
	if code := r.Run(ctx, func(context.Context) error { return http.ErrServerClosed }); code != 0 {
		t.Fatalf("expected 0 for server closed, got %d", code)
	}
	if code := r.Run(ctx, func(context.Context) error { return errors.New("boom") }); code != 1 {
		t.Fatalf("expected 1, got %d", code)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	defer close(block)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	code := New(nil).Run(ctx, func(context.Context) error {
		<-block
		return nil
	})
	if code != 0 {
		t.Fatalf("expected 0 on cancel, got %d", code)
	}
}

func TestGraceful_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(zap.New(core))
	r.ShutdownTimeout = time.Second

	var hadDeadline bool
	r.Graceful(context.Background(), func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return errors.New("stuck")
	})
	if !hadDeadline {
		t.Fatal("expected shutdown context with deadline")
	}
	if logs.FilterMessage("graceful shutdown failed").Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
}
