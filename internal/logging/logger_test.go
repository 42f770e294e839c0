package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(buildHandler(&buf, slog.LevelInfo, "json"))
	logger.Info("hello", "k", "v")

	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json handler output = %q, want JSON object", buf.String())
	}

	buf.Reset()
	logger = slog.New(buildHandler(&buf, slog.LevelInfo, "text"))
	logger.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text handler output = %q, want key=value pairs", buf.String())
	}
}

func TestBuildWriter_File(t *testing.T) {
	var console bytes.Buffer
	w, closer := buildWriter(config.LoggingConfig{}, &console)
	if closer != nil {
		t.Error("expected nil closer without file path")
	}
	if w != &console {
		t.Fatal("expected the console writer unchanged")
	}

	path := filepath.Join(t.TempDir(), "ledgerbridge.log")
	w, closer = buildWriter(config.LoggingConfig{FilePath: path}, &console)
	if closer == nil {
		t.Fatal("expected file closer when file path is set")
	}
	if _, err := io.WriteString(w, "line\n"); err != nil {
		t.Fatal(err)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if console.String() != "line\n" {
		t.Errorf("console got %q, want the line teed", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "line\n" {
		t.Errorf("log file = %q, %v", data, err)
	}
}

func TestFromContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	FromContext(ctx).Info("traced")

	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("log output = %q, want request_id attribute", buf.String())
	}
}
