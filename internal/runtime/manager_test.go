package runtime

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func waitForListen(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listen timeout waiting for %s", addr)
}

func TestManagerRunStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mgr := NewManager(Config{
		ListenAddr:      "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: 2 * time.Second,
		Logger:          zerolog.Nop(),
	})

	var hookRan bool
	mgr.RegisterShutdownHook("noop", func(context.Context) error {
		hookRan = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
	if !hookRan {
		t.Fatal("shutdown hook did not run")
	}
}

func TestManagerRunReportsListenerFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer blocker.Close()

	mgr := NewManager(Config{
		ListenAddr:      blocker.Addr().String(),
		Handler:         http.NotFoundHandler(),
		ShutdownTimeout: time.Second,
		Logger:          zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mgr.Run(ctx); err == nil {
		t.Fatal("Run() expected error for address already in use, got nil")
	}
}

func TestManagerRunsMetricsServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	apiLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve api port: %v", err)
	}
	apiAddr := apiLn.Addr().String()
	_ = apiLn.Close()

	metricsLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve metrics port: %v", err)
	}
	metricsAddr := metricsLn.Addr().String()
	_ = metricsLn.Close()

	mgr := NewManager(Config{
		ListenAddr:      apiAddr,
		Handler:         http.NotFoundHandler(),
		MetricsAddr:     metricsAddr,
		MetricsHandler:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		ShutdownTimeout: 2 * time.Second,
		Logger:          zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Run(ctx)
	}()

	waitForListen(t, metricsAddr, 2*time.Second)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
