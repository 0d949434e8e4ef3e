package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func resetGlobal() {
	logger = nil
	once = sync.Once{}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v (%q)", err, buf.String())
	}
	return out
}

func TestSetupWithFormatText(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	var buf bytes.Buffer
	SetupWithFormat("debug", "text", &buf)
	Debug("hello", "k", "v")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text handler output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("expected attribute in output, got %q", buf.String())
	}
}

func TestSetupOnlyOnce(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	var first, second bytes.Buffer
	SetupWithFormat("info", "json", &first)
	SetupWithFormat("debug", "json", &second)
	Info("x")

	if first.Len() == 0 {
		t.Fatal("first Setup should own the handler")
	}
	if second.Len() != 0 {
		t.Fatalf("second Setup should be ignored, got %q", second.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	t.Cleanup(resetGlobal)

	tests := []struct {
		name  string
		build func() *slog.Logger
		key   string
		want  string
	}{
		{"component", func() *slog.Logger { return WithComponent("controller") }, "component", "controller"},
		{"source", func() *slog.Logger { return WithSource("height") }, "source_id", "height"},
		{"station", func() *slog.Logger { return WithStation("Height") }, "station", "Height"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger = slog.New(slog.NewJSONHandler(&buf, nil))

			tt.build().Info("hello")

			out := decodeLine(t, &buf)
			if out[tt.key] != tt.want {
				t.Errorf("Expected %s %q, got %v", tt.key, tt.want, out[tt.key])
			}
			if out["msg"] != "hello" {
				t.Errorf("Expected msg 'hello', got %v", out["msg"])
			}
		})
	}
}
