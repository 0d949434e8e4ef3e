// Package doctor checks a medkiosk configuration against the machine it will
// run on: device nodes, station files and broker settings.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/medkiosk/internal/config"
	"github.com/mattjoyce/medkiosk/internal/station"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// StationVerifier runs pre-launch checks without launching.
type StationVerifier interface {
	Titles() []string
	Verify(title string) station.Result
}

// Doctor validates configuration against the host.
type Doctor struct {
	cfg      *config.Config
	stations StationVerifier
	stat     func(string) (os.FileInfo, error)
}

// New creates a Doctor. stations may be nil when the table failed to build.
func New(cfg *config.Config, stations StationVerifier) *Doctor {
	return &Doctor{cfg: cfg, stations: stations, stat: os.Stat}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateSources(r)
	d.validateStations(r)
	d.validateAPIConfig(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Service.PollInterval <= 0 {
		d.addError(r, "service", "service.poll_interval", "poll_interval must be positive")
	}
	if d.cfg.Service.LockPath == "" {
		d.addWarning(r, "service", "service.lock_path", "no lock_path; a second instance could share the serial devices")
	}
	if d.cfg.Journal.Enabled && d.cfg.Journal.Path == "" {
		d.addError(r, "service", "journal.path", "journal.path is required when the journal is enabled")
	}
}

// validateSources checks ids, device nodes and broker settings.
func (d *Doctor) validateSources(r *Result) {
	if len(d.cfg.Sources) == 0 {
		d.addWarning(r, "sources", "sources", "no sources configured; the kiosk will show no readings")
	}

	seen := make(map[string]int)
	devices := make(map[string]int)
	for i, src := range d.cfg.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if prev, dup := seen[src.ID]; dup {
			d.addError(r, "sources", field+".id",
				fmt.Sprintf("source id %q duplicates sources[%d]", src.ID, prev))
		}
		seen[src.ID] = i

		switch src.Type {
		case config.SourceSerial:
			d.checkDevice(r, field+".device", src.Device)
			if prev, dup := devices[src.Device]; dup {
				d.addError(r, "sources", field+".device",
					fmt.Sprintf("device %s is already read by sources[%d]", src.Device, prev))
			}
			devices[src.Device] = i
			for _, f := range src.Formats {
				if _, ok := knownFormat(f); !ok {
					d.addError(r, "sources", field+".formats", fmt.Sprintf("unknown serial format %q", f))
				}
			}
		case config.SourceMQTT:
			if src.Broker == "" {
				d.addError(r, "sources", field+".broker", "broker is required")
			}
			if src.QoS > 0 {
				d.addWarning(r, "sources", field+".qos",
					"clean sessions drop queued messages on reconnect, so qos above 0 only covers the live connection")
			}
		case config.SourceNATS:
			u, err := url.Parse(src.URL)
			if err != nil || (u.Scheme != "nats" && u.Scheme != "tls") {
				d.addError(r, "sources", field+".url", fmt.Sprintf("url %q must be nats:// or tls://", src.URL))
			}
		default:
			d.addError(r, "sources", field+".type", fmt.Sprintf("unknown source type %q", src.Type))
		}
	}
}

// checkDevice warns when a serial device node is absent or not a character
// device. USB adapters often appear only once plugged in.
func (d *Doctor) checkDevice(r *Result, field, device string) {
	if device == "" {
		d.addError(r, "sources", field, "device is required")
		return
	}
	info, err := d.stat(device)
	if err != nil {
		d.addWarning(r, "devices", field, fmt.Sprintf("device %s: %v", device, err))
		return
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		d.addWarning(r, "devices", field, fmt.Sprintf("%s is not a character device", device))
	}
}

func knownFormat(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "height", "weight":
		return n, true
	}
	return n, false
}

// validateStations reports every station that would fail to launch.
func (d *Doctor) validateStations(r *Result) {
	if d.stations == nil {
		if len(d.cfg.Stations.Table) > 0 {
			d.addError(r, "stations", "stations.table", "station table could not be built")
		}
		return
	}
	for _, title := range d.stations.Titles() {
		res := d.stations.Verify(title)
		if res.Outcome == "" {
			continue
		}
		msg := fmt.Sprintf("station %q: %s", title, res.Outcome)
		if res.Reason != "" {
			msg += ": " + res.Reason
		}
		d.addError(r, "stations", "stations.table", msg)
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
		return
	}
	if d.cfg.API.APIKey != "" {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.api_key", "API listens beyond loopback without an api_key; anyone on the network can launch stations")
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, v string) {
		for _, m := range envVarRe.FindAllStringSubmatch(v, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	check("api.api_key", d.cfg.API.APIKey)
	for i, src := range d.cfg.Sources {
		check(fmt.Sprintf("sources[%d].password", i), src.Password)
		check(fmt.Sprintf("sources[%d].token", i), src.Token)
	}
	if v, ok := d.cfg.Environment["DISPLAY"]; ok && v == "" {
		d.addWarning(r, "env_vars", "environment.DISPLAY", "DISPLAY is empty; graphical stations will not open")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
