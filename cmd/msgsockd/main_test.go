package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Zereker/msgsock"
	"github.com/Zereker/msgsock/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func TestSend_PrintsReplies(t *testing.T) {
	var svc *msgsock.Service
	svc = msgsock.NewService(
		msgsock.ServiceLoggerOption(discardLogger()),
		msgsock.OnMessageReceivedOption(func(text string) {
			svc.SendMessage("re: " + text)
		}),
	)
	if err := svc.StartService("127.0.0.1", 0); err != nil {
		t.Fatalf("StartService failed: %v", err)
	}
	defer svc.Close()

	var out bytes.Buffer
	err := send(context.Background(), loadTestConfig(t), discardLogger(), &out,
		svc.Addr().String(), []string{"one", "", "two"}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got, want := out.String(), "re: one\nre: two\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, loadTestConfig(t), discardLogger())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for serve to return")
	}
}

func TestServe_RunsTwiceWithMetrics(t *testing.T) {
	for i := 0; i < 2; i++ {
		cfg := loadTestConfig(t)
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = "127.0.0.1:0"

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- serve(ctx, cfg, discardLogger())
		}()

		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("run %d: serve returned %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: timeout waiting for serve to return", i)
		}
	}
}
