package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/crashlink/internal/envconfig"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	cmd.Version = "1.2.3"

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := out.String(); got != "crashlink version 1.2.3\n" {
		t.Errorf("output = %q", got)
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.Version = "1.2.3"

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := out.String(); got != "crashlink version 1.2.3\n" {
		t.Errorf("output = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
		check  func(t *testing.T, output string)
	}{
		{
			name:   "json",
			format: envconfig.LogFormatJSON,
			level:  "info",
			check: func(t *testing.T, output string) {
				var entry map[string]any
				if err := json.Unmarshal([]byte(output), &entry); err != nil {
					t.Fatalf("output is not JSON: %v: %q", err, output)
				}
				if entry["msg"] != "hello" {
					t.Errorf("msg = %v", entry["msg"])
				}
			},
		},
		{
			name:   "text",
			format: envconfig.LogFormatText,
			level:  "info",
			check: func(t *testing.T, output string) {
				if !strings.Contains(output, "msg=hello") {
					t.Errorf("output = %q", output)
				}
			},
		},
		{
			name:   "level filters",
			format: envconfig.LogFormatJSON,
			level:  "error",
			check: func(t *testing.T, output string) {
				if output != "" {
					t.Errorf("expected no output, got %q", output)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&envconfig.Env{LogFormat: tt.format, LogLevel: tt.level}, &buf)
			if err != nil {
				t.Fatalf("newLogger() error = %v", err)
			}
			logger.Info("hello")
			tt.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	if _, err := newLogger(&envconfig.Env{LogLevel: "loud"}, io.Discard); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		env  *envconfig.Env
	}{
		{name: "memory", env: &envconfig.Env{Storage: envconfig.StorageMemory}},
		{name: "sqlite", env: &envconfig.Env{
			Storage:    envconfig.StorageSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "crashlink.db"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openStore(tt.env, logger)
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			defer store.Close()

			report, err := store.SaveReport(context.Background(), map[string]any{"message": "boom"}, time.Now())
			if err != nil {
				t.Fatalf("SaveReport() error = %v", err)
			}
			got, err := store.GetReport(context.Background(), report.ID)
			if err != nil {
				t.Fatalf("GetReport() error = %v", err)
			}
			if got.Message() != "boom" {
				t.Errorf("Message() = %q, want boom", got.Message())
			}
		})
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	if _, err := openStore(&envconfig.Env{Storage: "etcd"}, slog.Default()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	e, err := envconfig.LoadFrom(map[string]string{
		"GITHUB_CLIENT_ID":       "client",
		"GITHUB_CLIENT_SECRET":   "secret",
		"CRASHLINK_ADDR":         "127.0.0.1:0",
		"CRASHLINK_METRICS":      "none",
		"CRASHLINK_STATE_SECRET": "0123456789abcdef0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, e, "test", io.Discard) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
