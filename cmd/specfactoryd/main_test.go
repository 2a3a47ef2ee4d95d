package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rodcar/agentic-software-factory/internal/config"
	"github.com/rodcar/agentic-software-factory/internal/telemetry"
)

func TestInitLoggerMCPMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "info"

	tel, err := telemetry.New(context.Background(), telemetry.NewDefaultConfig())
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	logger, err := initLogger(cfg, tel, true)
	if err != nil {
		t.Fatalf("initLogger() error = %v", err)
	}
	// stdout carries the JSON-RPC stream in -mcp mode; a log line must
	// not corrupt it.
	logger.Info("mcp mode logger works")
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "loud"

	tel, err := telemetry.New(context.Background(), telemetry.NewDefaultConfig())
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	if _, err := initLogger(cfg, tel, true); err == nil {
		t.Error("initLogger() accepted an invalid level")
	}
}

func TestInitTelemetryDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telemetry.Enabled = false

	tel, err := initTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	if tel.IsEnabled() {
		t.Error("telemetry should be disabled")
	}
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	// Minimal working configuration on a test port
	env := map[string]string{
		"BACKEND":          "openai",
		"API_KEY":          "test-key",
		"MODEL_ID":         "gpt-4",
		"SERVER_HTTP_PORT": "8084",
		"ARCHIVE_PATH":     t.TempDir(),
	}
	for k, v := range env {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range env {
			os.Unsetenv(k)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, false)
	}()

	// Wait for server to start
	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get("http://localhost:8084/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
