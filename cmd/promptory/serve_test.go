package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"promptory/internal/realtime"
)

func TestHangupRefreshesBridge(t *testing.T) {
	src := realtime.NewMemorySource()
	bridge := realtime.NewBridge(realtime.BridgeConfig{
		Source:        src,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	sig := make(chan os.Signal, 1)
	go refreshOnSignal(ctx, sig, bridge.Refresh, slog.New(slog.NewTextHandler(io.Discard, nil)))

	waitUntil(t, func() bool { return bridge.State() == realtime.StateSubscribed })
	sig <- syscall.SIGHUP
	waitUntil(t, func() bool {
		return src.Subscribes() == 2 && bridge.State() == realtime.StateSubscribed && src.Open() == 1
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
