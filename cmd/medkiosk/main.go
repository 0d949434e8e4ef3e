package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/medkiosk/internal/api"
	"github.com/mattjoyce/medkiosk/internal/config"
	"github.com/mattjoyce/medkiosk/internal/controller"
	"github.com/mattjoyce/medkiosk/internal/doctor"
	"github.com/mattjoyce/medkiosk/internal/events"
	"github.com/mattjoyce/medkiosk/internal/journal"
	"github.com/mattjoyce/medkiosk/internal/lock"
	"github.com/mattjoyce/medkiosk/internal/log"
	"github.com/mattjoyce/medkiosk/internal/metrics"
	"github.com/mattjoyce/medkiosk/internal/station"
	"github.com/mattjoyce/medkiosk/internal/storage"
	"github.com/mattjoyce/medkiosk/internal/transport"
)

const version = "0.3.0"

const (
	eventBacklog   = 512
	handoffSize    = 256
	statusTimeout  = 3 * time.Second
	launchReapWait = 250 * time.Millisecond
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "station":
		os.Exit(runStationNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "doctor":
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("medkiosk version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`medkiosk - Kiosk telemetry collector and station launcher

Usage:
  medkiosk <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle and health
  station   Measurement modules the kiosk can launch
  config    Configuration and integrity

System Commands:
  system start        Run the collector in the foreground
  system status       Show whether an instance runs and its source states
  system check        Check the configuration against this machine

Station Commands:
  station list        Show the station table and whether each can launch
  station run <title> Launch one station now
  station digest <p>  Print the BLAKE3 digest of a station file

Config Commands:
  config show         Print the resolved configuration (secrets masked)
  config check        Validate configuration and host
  config lock         Record integrity hashes for the config tree

General:
  version             Show version information
  help                Show this help message

Use 'medkiosk <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runStationNoun(args []string) int {
	if len(args) < 1 {
		printStationNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printStationNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printStationListHelp()
			return 0
		}
		return runStationList(actionArgs)
	case "run":
		if hasHelpFlag(actionArgs) {
			printStationRunHelp()
			return 0
		}
		return runStationRun(actionArgs)
	case "digest":
		if hasHelpFlag(actionArgs) {
			printStationDigestHelp()
			return 0
		}
		return runStationDigest(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown station action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: medkiosk system <action>")
	fmt.Fprintln(w, "Actions: start, status, check")
}

func printStationNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: medkiosk station <action>")
	fmt.Fprintln(w, "Actions: list, run, digest")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: medkiosk config <action> [flags]")
	fmt.Fprintln(w, "Actions: show, check, lock")
}

func printSystemStartHelp() {
	fmt.Println("Usage: medkiosk system start [--config PATH]")
	fmt.Println("Run the collector in the foreground until SIGINT or SIGTERM.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: medkiosk system status [--config PATH] [--json]")
	fmt.Println("Report the lock holder and, when the API is enabled, each source's state.")
}

func printStationListHelp() {
	fmt.Println("Usage: medkiosk station list [--config PATH] [--json]")
	fmt.Println("Show every station and the outcome a launch would have.")
}

func printStationRunHelp() {
	fmt.Println("Usage: medkiosk station run <title> [--config PATH]")
	fmt.Println("Launch one station detached from this process.")
}

func printStationDigestHelp() {
	fmt.Println("Usage: medkiosk station digest <path>")
	fmt.Println("Print the BLAKE3 digest to pin in the station table.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: medkiosk config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize the current configuration by regenerating integrity hashes.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: medkiosk config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, devices, stations and integrity.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: medkiosk config show [--config PATH] [--json]")
	fmt.Println("Print the resolved configuration with credentials masked.")
}

// splitPositional separates the first non-flag argument so flags may follow
// it, as in 'medkiosk station run Height --config x'.
func splitPositional(args []string, flagsWithValue map[string]bool) (string, []string) {
	var positional string
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			rest = append(rest, arg)
			if flagsWithValue[arg] && i+1 < len(args) {
				i++
				rest = append(rest, args[i])
			}
			continue
		}
		if positional == "" {
			positional = arg
			continue
		}
		rest = append(rest, arg)
	}
	return positional, rest
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigPath()
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	p, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(p)
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithFormat(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	logger := log.WithComponent("main")
	logger.Info("medkiosk starting", "version", version, "config", *configPath)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	stations, err := buildStations(cfg, log.WithComponent("station"))
	if err != nil {
		logger.Error("failed to build station table", "error", err)
		return 1
	}
	logger.Info("station table loaded", "stations", len(stations.Titles()))

	handoff := transport.NewHandoff(handoffSize)
	sources, err := buildSources(cfg, handoff, log.WithComponent("transport"))
	if err != nil {
		logger.Error("failed to build sources", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(eventBacklog)
	m := metrics.New()
	m.RegisterEventDropsGauge(func() float64 { return float64(hub.Dropped()) })

	var history api.History
	var journalDone <-chan struct{}
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		store := journal.NewStore(db)
		m.RegisterJournalGauge(func() float64 {
			n, err := store.Count(context.Background())
			if err != nil {
				return 0
			}
			return float64(n)
		})
		rec := journal.NewRecorder(store, cfg.Journal.Retention, log.WithComponent("journal"))
		journalDone = rec.Start(ctx, hub)
		history = store
		logger.Info("journal opened", "path", cfg.Journal.Path, "retention", cfg.Journal.Retention)
	}

	ctrl, err := controller.New(controller.Options{
		PollInterval: cfg.Service.PollInterval,
		Handoff:      handoff,
	}, sources, hub, stations, m, log.Get())
	if err != nil {
		logger.Error("failed to create controller", "error", err)
		return 1
	}

	errCh := make(chan error, 2)
	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()

	if cfg.API.Enabled {
		server := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, api.Deps{
			Controller: ctrl,
			Stations:   stations,
			History:    history,
			Events:     hub,
			Metrics:    m.Handler(),
		}, log.WithComponent("api"))
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("medkiosk running (press Ctrl+C to stop)", "sources", len(sources))

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		code = exitCode(<-runDone)
	case err := <-runDone:
		code = exitCode(err)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		stop()
		<-runDone
		code = 1
	}
	stop()

	if journalDone != nil {
		<-journalDone
	}
	logger.Info("medkiosk stopped")
	return code
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var fatal *controller.FatalError
	if errors.As(err, &fatal) {
		fmt.Fprintf(os.Stderr, "Source %s could not be opened: %v\n", fatal.SourceID, fatal.Err)
	} else {
		fmt.Fprintf(os.Stderr, "Controller stopped: %v\n", err)
	}
	return 1
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	report := statusReport{LockPath: cfg.Service.LockPath}
	report.Running, err = lock.Held(cfg.Service.LockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock check failed: %v\n", err)
		return 1
	}
	if report.Running {
		if pid, err := lock.ReadHolder(cfg.Service.LockPath); err == nil {
			report.PID = pid
		}
	}
	if report.Running && cfg.API.Enabled {
		report.Health, report.Sources, err = fetchStatus(cfg.API)
		if err != nil {
			report.APIError = err.Error()
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		printStatus(report)
	}
	if !report.Running {
		return 3
	}
	return 0
}

type statusReport struct {
	Running  bool                 `json:"running"`
	PID      int                  `json:"pid,omitempty"`
	LockPath string               `json:"lock_path"`
	Health   *api.HealthzResponse `json:"health,omitempty"`
	Sources  *api.SourcesResponse `json:"sources,omitempty"`
	APIError string               `json:"api_error,omitempty"`
}

func printStatus(r statusReport) {
	if !r.Running {
		fmt.Printf("medkiosk is not running (lock %s is free)\n", r.LockPath)
		return
	}
	if r.PID > 0 {
		fmt.Printf("medkiosk is running (pid %d)\n", r.PID)
	} else {
		fmt.Println("medkiosk is running")
	}
	if r.APIError != "" {
		fmt.Printf("  API unreachable: %s\n", r.APIError)
		return
	}
	if r.Health != nil {
		fmt.Printf("  status: %s, up %s, %d/%d sources connected, %d stations\n",
			r.Health.Status, (time.Duration(r.Health.UptimeSeconds) * time.Second).String(),
			r.Health.SourcesConnected, r.Health.Sources, r.Health.Stations)
	}
	if r.Sources != nil {
		for _, s := range r.Sources.Sources {
			line := fmt.Sprintf("  %-16s %s", s.SourceID, s.State)
			if s.LastError != "" {
				line += "  (" + s.LastError + ")"
			}
			if s.NextRetryAt != nil {
				line += fmt.Sprintf("  retry %d in %s", s.RetryCount, formatAge(time.Until(*s.NextRetryAt)))
			}
			fmt.Println(line)
		}
	}
}

func fetchStatus(cfg config.APIConfig) (*api.HealthzResponse, *api.SourcesResponse, error) {
	client := &http.Client{Timeout: statusTimeout}
	base := "http://" + cfg.Listen

	var health api.HealthzResponse
	if err := getJSON(client, base+"/healthz", "", &health); err != nil {
		return nil, nil, err
	}
	var sources api.SourcesResponse
	if err := getJSON(client, base+"/sources", cfg.APIKey, &sources); err != nil {
		return &health, nil, err
	}
	return &health, &sources, nil
}

func getJSON(client *http.Client, url, key string, into any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func runStationList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	log.SetupWithFormat("error", "text", os.Stderr)
	stations, err := buildStations(cfg, log.Get())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Station table error: %v\n", err)
		return 1
	}

	summaries := make([]api.StationSummary, 0, len(stations.Titles()))
	for _, title := range stations.Titles() {
		desc, _ := stations.Descriptor(title)
		check := stations.Verify(title)
		summaries = append(summaries, api.StationSummary{
			Title:   title,
			Kind:    desc.Kind,
			Path:    desc.ExecPath,
			Ready:   check.Outcome == "",
			Outcome: check.Outcome,
			Reason:  check.Reason,
		})
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(api.StationsResponse{Stations: summaries}, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(summaries) == 0 {
		fmt.Println("No stations configured.")
		return 0
	}
	for _, s := range summaries {
		state := "ready"
		if !s.Ready {
			state = string(s.Outcome)
			if s.Reason != "" {
				state += ": " + s.Reason
			}
		}
		fmt.Printf("%-12s %-11s %-40s %s\n", s.Title, s.Kind, s.Path, state)
	}
	return 0
}

func runStationRun(args []string) int {
	title, rest := splitPositional(args, map[string]bool{"--config": true, "-config": true})

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if title == "" {
		fmt.Fprintln(os.Stderr, "Usage: medkiosk station run <title> [--config PATH]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	log.SetupWithFormat(cfg.Service.LogLevel, "text", os.Stderr)
	stations, err := buildStations(cfg, log.WithStation(title))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Station table error: %v\n", err)
		return 1
	}

	res := stations.Dispatch(context.Background(), title)
	data, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(data))
	if res.Outcome != station.OutcomeLaunched {
		return 1
	}
	// The child is reaped by a goroutine; give it a moment so an immediate
	// exit is logged before this process goes away.
	time.Sleep(launchReapWait)
	return 0
}

func runStationDigest(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: medkiosk station digest <path>")
		return 1
	}
	digest, err := station.Digest(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Digest failed: %v\n", err)
		return 1
	}
	fmt.Printf("%s  %s\n", digest, args[0])
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	shown := redacted(cfg)
	if *jsonOut {
		data, _ := json.MarshalIndent(shown, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(shown)
		fmt.Print(string(data))
	}
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	log.SetupWithFormat("error", "text", os.Stderr)
	var verifier doctor.StationVerifier
	if stations, err := buildStations(cfg, log.Get()); err == nil {
		verifier = stations
	}

	result := doctor.New(cfg, verifier).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report, err := config.LockConfig(resolved, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if isVerbose {
		for _, f := range report.Files {
			fmt.Printf("  HASH %s: %s\n", f.Path, f.Hash)
		}
	}
	for _, manifest := range report.Manifests {
		if dryRun {
			fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", manifest)
		} else if isVerbose {
			fmt.Printf("  WROTE .checksums: %s\n", manifest)
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d file(s) (no files written)\n", len(report.Files))
	} else {
		fmt.Printf("Successfully locked configuration (%d file(s), %d manifest(s))\n", len(report.Files), len(report.Manifests))
	}
	return 0
}
