package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/mattjoyce/medkiosk/internal/api"
	"github.com/mattjoyce/medkiosk/internal/config"
	"github.com/mattjoyce/medkiosk/internal/station"
	"github.com/mattjoyce/medkiosk/internal/transport"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so large output cannot fill the pipe and block run.
	stdoutCh := make(chan []byte, 1)
	stderrCh := make(chan []byte, 1)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-stdoutCh
	stderrBytes := <-stderrCh

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// writeKiosk writes a config with one native station script and returns the
// config path.
func writeKiosk(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	script := filepath.Join(dir, "stations", "height.sh")
	if err := os.MkdirAll(filepath.Dir(script), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stations", "spo2.sh"), []byte("#!/bin/sh\nexit 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	configYAML := `
service:
  log_format: text
stations:
  base_dir: stations
  table:
    - title: Height
      path: height.sh
      kind: native
    - title: SpO2
      path: spo2.sh
      kind: native
journal:
  enabled: false
` + extra
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestRunConfigLockVerboseDryRunShortFlag(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("include:\n  - sources.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sourcesYAML := "sources:\n  - id: bus\n    type: nats\n    url: nats://127.0.0.1:4222\n    subject: sensor.combined\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "sources.yaml"), []byte(sourcesYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath, "-v", "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}

	hashPattern := regexp.MustCompile(`HASH .*sources\.yaml: [a-f0-9]{64}`)
	if !hashPattern.MatchString(stdout) {
		t.Fatalf("stdout missing valid hash output: %s", stdout)
	}
	if !strings.Contains(stdout, "DRY-RUN .checksums:") {
		t.Fatalf("stdout missing dry-run line: %s", stdout)
	}
	if !strings.Contains(stdout, "Dry run completed for 2 file(s)") {
		t.Fatalf("stdout missing dry-run summary: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestRunConfigLockWritesChecksumsThenLoadVerifies(t *testing.T) {
	configPath := writeKiosk(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath, "--verbose"})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "WROTE .checksums:") || !strings.Contains(stdout, "Successfully locked configuration") {
		t.Fatalf("unexpected stdout: %s", stdout)
	}
	if _, err := config.Load(configPath); err != nil {
		t.Fatalf("locked config should load: %v", err)
	}

	f, err := os.OpenFile(configPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("\n# edited\n")
	_ = f.Close()

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", configPath})
	})
	if code != 1 || !strings.Contains(stderr, "config lock") {
		t.Fatalf("tampered config: code = %d, stderr: %s", code, stderr)
	}
}

func TestRunConfigShowMasksSecrets(t *testing.T) {
	configPath := writeKiosk(t, `
sources:
  - id: fusion
    type: mqtt
    broker: broker.hivemq.com
    port: 1883
    topic: sensor/combined
    password: hunter2
api:
  enabled: true
  listen: 127.0.0.1:8080
  api_key: very-secret
`)
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigShow() code = %d, stderr: %s", code, stderr)
	}
	if strings.Contains(stdout, "hunter2") || strings.Contains(stdout, "very-secret") {
		t.Fatalf("secrets leaked: %s", stdout)
	}
	if !strings.Contains(stdout, "broker.hivemq.com") {
		t.Fatalf("stdout missing broker: %s", stdout)
	}
}

func TestRunConfigCheckReportsStationProblems(t *testing.T) {
	configPath := writeKiosk(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--json"})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1; stdout: %s", code, stdout)
	}
	if !strings.Contains(stdout, `station \"SpO2\": permission_denied`) {
		t.Fatalf("stdout missing SpO2 permission error: %s", stdout)
	}
	if strings.Contains(stdout, `station \"Height\"`) {
		t.Fatalf("Height should pass: %s", stdout)
	}
}

func TestRunStationList(t *testing.T) {
	configPath := writeKiosk(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runStationList([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runStationList() code = %d, stderr: %s", code, stderr)
	}
	var resp api.StationsResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout)
	}
	if len(resp.Stations) != 2 {
		t.Fatalf("stations = %d, want 2", len(resp.Stations))
	}
	if resp.Stations[0].Title != "Height" || !resp.Stations[0].Ready {
		t.Fatalf("unexpected first station: %+v", resp.Stations[0])
	}
	if resp.Stations[1].Outcome != station.OutcomePermissionDenied {
		t.Fatalf("SpO2 outcome = %q", resp.Stations[1].Outcome)
	}
}

func TestRunStationRun(t *testing.T) {
	configPath := writeKiosk(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runStationRun([]string{"Height", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runStationRun() code = %d, stdout: %s, stderr: %s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, `"outcome": "launched"`) {
		t.Fatalf("stdout missing launched outcome: %s", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runStationRun([]string{"--config", configPath, "BloodPressure"})
	})
	if code != 1 || !strings.Contains(stdout, `"outcome": "not_found"`) {
		t.Fatalf("unknown title: code = %d, stdout: %s", code, stdout)
	}
}

func TestRunStationDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oximeter")
	if err := os.WriteFile(path, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runStationDigest([]string{path})
	})
	if code != 0 {
		t.Fatalf("runStationDigest() code = %d, stderr: %s", code, stderr)
	}
	if !regexp.MustCompile(`^[a-f0-9]{64}  `).MatchString(stdout) {
		t.Fatalf("unexpected digest output: %s", stdout)
	}
}

func TestRunSystemStatusNotRunning(t *testing.T) {
	configPath := writeKiosk(t, "")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--config", configPath})
	})
	if code != 3 {
		t.Fatalf("runSystemStatus() code = %d, want 3; stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "not running") {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestBuildSources(t *testing.T) {
	seed := int64(7)
	cfg := config.Defaults()
	cfg.Sources = []config.SourceConfig{
		{ID: "height", Type: config.SourceSerial, Device: "/dev/ttyUSB0", Baud: 9600, Formats: []string{"Height"}},
		{ID: "fusion", Type: config.SourceMQTT, Broker: "broker.hivemq.com", Port: 1883, Topic: "sensor/combined", HeartRateSeed: &seed},
		{ID: "bus", Type: config.SourceNATS, URL: "nats://127.0.0.1:4222", Subject: "sensor.combined",
			Reconnect: &config.ReconnectConfig{MinDelay: 2 * cfg.Reconnect.MinDelay}},
	}

	sources, err := buildSources(cfg, transport.NewHandoff(8), nil)
	if err != nil {
		t.Fatalf("buildSources: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("sources = %d, want 3", len(sources))
	}
	if sources[0].Encoding() != transport.EncodingLines || len(sources[0].Formats) != 1 || sources[0].Formats[0].Keyword != "height" {
		t.Fatalf("serial source misbuilt: %+v", sources[0])
	}
	if sources[1].HeartRate == nil {
		t.Fatal("seeded source should carry a step source")
	}
	if sources[2].Reconnect.MinDelay != 2*cfg.Reconnect.MinDelay || sources[2].Reconnect.MaxDelay != cfg.Reconnect.MaxDelay {
		t.Fatalf("reconnect override not merged: %+v", sources[2].Reconnect)
	}

	cfg.Sources[0].Formats = []string{"pressure"}
	if _, err := buildSources(cfg, transport.NewHandoff(8), nil); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestRedactedLeavesConfigIntact(t *testing.T) {
	cfg := config.Defaults()
	cfg.API.APIKey = "k"
	cfg.Sources = []config.SourceConfig{{ID: "bus", Type: config.SourceNATS, Token: "t"}}

	shown := redacted(cfg)
	if shown.API.APIKey == "k" || shown.Sources[0].Token == "t" {
		t.Fatalf("secrets not masked: %+v", shown)
	}
	if cfg.API.APIKey != "k" || cfg.Sources[0].Token != "t" {
		t.Fatal("redacted mutated the original config")
	}
}

func TestSplitPositional(t *testing.T) {
	withValue := map[string]bool{"--config": true}
	title, rest := splitPositional([]string{"--config", "kiosk.yaml", "Height"}, withValue)
	if title != "Height" || len(rest) != 2 || rest[1] != "kiosk.yaml" {
		t.Fatalf("got %q %v", title, rest)
	}
	title, rest = splitPositional([]string{"Weight", "--config=k.yaml"}, withValue)
	if title != "Weight" || len(rest) != 1 {
		t.Fatalf("got %q %v", title, rest)
	}
}

func TestRunNounActionHelp(t *testing.T) {
	tests := []struct {
		run  func([]string) int
		args []string
		want string
	}{
		{runConfigNoun, []string{"check", "--help"}, "Usage: medkiosk config check"},
		{runSystemNoun, []string{"start", "--help"}, "Usage: medkiosk system start"},
		{runSystemNoun, []string{"status", "-h"}, "Usage: medkiosk system status"},
		{runStationNoun, []string{"run", "--help"}, "Usage: medkiosk station run"},
		{runStationNoun, []string{"help"}, "Usage: medkiosk station <action>"},
	}
	for _, tt := range tests {
		code, stdout, stderr := captureOutputWithExitCode(t, func() int { return tt.run(tt.args) })
		if code != 0 {
			t.Fatalf("%v: code = %d, stderr: %s", tt.args, code, stderr)
		}
		if !strings.Contains(stdout, tt.want) {
			t.Fatalf("%v: stdout missing %q: %s", tt.args, tt.want, stdout)
		}
	}
}

func TestRunNounUnknownAction(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runStationNoun([]string{"delete"})
	})
	if code != 1 || !strings.Contains(stderr, "Unknown station action: delete") {
		t.Fatalf("code = %d, stderr: %s", code, stderr)
	}
}

func TestPrintUsageUsesActionTerminology(t *testing.T) {
	_, stdout, _ := captureOutputWithExitCode(t, func() int {
		printUsage()
		return 0
	})
	if !strings.Contains(stdout, "medkiosk <noun> <action> [flags]") {
		t.Fatalf("usage missing action terminology: %s", stdout)
	}
}
