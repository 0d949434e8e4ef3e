// Package station resolves measurement modules by title and launches them as
// detached processes.
package station

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// Kind says how a station is started.
type Kind string

const (
	// KindInterpreted stations are scripts run by the configured interpreter.
	KindInterpreted Kind = "interpreted"
	// KindNative stations are executables run directly.
	KindNative Kind = "native"
)

// Descriptor is one entry of the station table.
type Descriptor struct {
	Title    string `json:"title"`
	ExecPath string `json:"exec_path"`
	Kind     Kind   `json:"kind"`
	// Digest is an optional BLAKE3 hex digest of the file at ExecPath.
	Digest string `json:"digest,omitempty"`
}

// Outcome classifies a dispatch.
type Outcome string

const (
	OutcomeLaunched         Outcome = "launched"
	OutcomeNotFound         Outcome = "not_found"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeLaunchFailed     Outcome = "launch_failed"
)

// Result is created once per dispatch request.
type Result struct {
	RequestID string    `json:"request_id"`
	Title     string    `json:"title"`
	Outcome   Outcome   `json:"outcome"`
	PID       int       `json:"pid,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Path      string    `json:"path,omitempty"`
	At        time.Time `json:"at"`
}

// Options configures a Dispatcher.
type Options struct {
	// BaseDir anchors relative ExecPaths. Empty means the working directory.
	BaseDir string
	// Interpreter runs interpreted stations. Bare names are looked up in PATH.
	Interpreter string
	// Env is passed to every station, overriding inherited values.
	Env map[string]string
}

// Dispatcher owns the station table and nothing else.
type Dispatcher struct {
	table    map[string]Descriptor
	titles   []string
	opts     Options
	launcher Launcher
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher validates the table and returns a dispatcher. Titles must be
// unique and kinds known.
func NewDispatcher(table []Descriptor, opts Options, launcher Launcher, logger *slog.Logger) (*Dispatcher, error) {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}

	d := &Dispatcher{
		table:    make(map[string]Descriptor, len(table)),
		opts:     opts,
		launcher: launcher,
		logger:   logger,
		now:      time.Now,
	}
	for _, desc := range table {
		if desc.Title == "" {
			return nil, errors.New("station with empty title")
		}
		if desc.ExecPath == "" {
			return nil, fmt.Errorf("station %q: path is empty", desc.Title)
		}
		switch desc.Kind {
		case KindInterpreted, KindNative:
		default:
			return nil, fmt.Errorf("station %q: unknown kind %q", desc.Title, desc.Kind)
		}
		if _, dup := d.table[desc.Title]; dup {
			return nil, fmt.Errorf("station %q: duplicate title", desc.Title)
		}
		d.table[desc.Title] = desc
		d.titles = append(d.titles, desc.Title)
	}
	sort.Strings(d.titles)
	return d, nil
}

// Titles returns the station titles in sorted order.
func (d *Dispatcher) Titles() []string {
	return append([]string(nil), d.titles...)
}

// Descriptor returns the table entry for title.
func (d *Dispatcher) Descriptor(title string) (Descriptor, bool) {
	desc, ok := d.table[title]
	return desc, ok
}

// Dispatch resolves, checks and launches the station called title. It never
// waits on the launched process.
func (d *Dispatcher) Dispatch(ctx context.Context, title string) Result {
	res, spec := d.prepare(title)
	if res.Outcome != "" {
		d.logResult(res)
		return res
	}

	pid, err := d.launcher.Launch(ctx, spec)
	if err != nil {
		res.Outcome = OutcomeLaunchFailed
		res.Reason = err.Error()
		d.logResult(res)
		return res
	}
	res.Outcome = OutcomeLaunched
	res.PID = pid
	d.logResult(res)
	return res
}

// Verify runs every pre-launch check for title without launching. A
// zero Outcome means the station would be launched.
func (d *Dispatcher) Verify(title string) Result {
	res, _ := d.prepare(title)
	return res
}

// prepare returns a result with Outcome set when a check failed, or a launch
// spec when the station is ready.
func (d *Dispatcher) prepare(title string) (Result, LaunchSpec) {
	res := Result{RequestID: uuid.NewString(), Title: title, At: d.now().UTC()}

	desc, ok := d.table[title]
	if !ok {
		res.Outcome = OutcomeNotFound
		res.Reason = "unknown station"
		return res, LaunchSpec{}
	}

	path, err := d.resolve(desc.ExecPath)
	if err != nil {
		res.Outcome = OutcomeLaunchFailed
		res.Reason = err.Error()
		return res, LaunchSpec{}
	}
	res.Path = path

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		res.Outcome = OutcomeNotFound
		res.Reason = "path does not exist"
		return res, LaunchSpec{}
	case errors.Is(err, fs.ErrPermission):
		res.Outcome = OutcomePermissionDenied
		res.Reason = err.Error()
		return res, LaunchSpec{}
	case err != nil:
		res.Outcome = OutcomeLaunchFailed
		res.Reason = err.Error()
		return res, LaunchSpec{}
	case info.IsDir():
		res.Outcome = OutcomeNotFound
		res.Reason = "path is a directory"
		return res, LaunchSpec{}
	}

	if desc.Kind == KindNative {
		if err := unix.Access(path, unix.X_OK); err != nil {
			res.Outcome = OutcomePermissionDenied
			res.Reason = "not executable"
			return res, LaunchSpec{}
		}
	}

	if desc.Digest != "" {
		if err := VerifyDigest(path, desc.Digest); err != nil {
			res.Outcome = OutcomeLaunchFailed
			res.Reason = fmt.Sprintf("integrity check failed: %v", err)
			return res, LaunchSpec{}
		}
	}

	// Interpreted stations inherit the kiosk's working directory.
	spec := LaunchSpec{Env: d.envList()}
	if desc.Kind == KindInterpreted {
		interp, err := exec.LookPath(d.opts.Interpreter)
		if err != nil {
			res.Outcome = OutcomeLaunchFailed
			res.Reason = fmt.Sprintf("interpreter %q: %v", d.opts.Interpreter, err)
			return res, LaunchSpec{}
		}
		spec.Path = interp
		spec.Args = []string{path}
	} else {
		spec.Path = path
		spec.Dir = filepath.Dir(path)
	}
	return res, spec
}

func (d *Dispatcher) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) && d.opts.BaseDir != "" {
		p = filepath.Join(d.opts.BaseDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return abs, nil
}

func (d *Dispatcher) envList() []string {
	if len(d.opts.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d.opts.Env))
	for k := range d.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+d.opts.Env[k])
	}
	return out
}

func (d *Dispatcher) logResult(res Result) {
	logger := d.logger.With("station", res.Title, "request_id", res.RequestID)
	switch res.Outcome {
	case OutcomeLaunched:
		logger.Info("station launched", "pid", res.PID, "path", res.Path)
	default:
		logger.Warn("station dispatch failed", "outcome", string(res.Outcome), "reason", res.Reason)
	}
}

// Digest computes the BLAKE3 hex digest of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyDigest checks the file at path against an expected BLAKE3 hex digest.
func VerifyDigest(path, expected string) error {
	actual, err := Digest(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("digest mismatch for %s: expected %s, got %s", filepath.Base(path), expected, actual)
	}
	return nil
}
