package station

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

//go:generate mockgen -destination=mocks/mock_launcher.go -package=mocks github.com/mattjoyce/medkiosk/internal/station Launcher

// LaunchSpec is everything needed to start a station process.
type LaunchSpec struct {
	Path string
	Args []string
	Dir  string
	// Env entries (KEY=value) override the inherited environment.
	Env []string
}

// Launcher starts a detached process and reports its pid. Implementations do
// not wait for the process.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (int, error)
}

// ExecLauncher starts stations with os/exec in their own session, with stdio
// on /dev/null. Children are reaped in the background and never observed.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	// Not CommandContext: the station must outlive the request.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// mergeEnv returns base with every KEY=value in overrides replacing the
// matching key, or appended when absent.
func mergeEnv(base, overrides []string) []string {
	if len(overrides) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		index[envKey(kv)] = len(out)
		out = append(out, kv)
	}
	for _, kv := range overrides {
		if i, ok := index[envKey(kv)]; ok {
			out[i] = kv
			continue
		}
		index[envKey(kv)] = len(out)
		out = append(out, kv)
	}
	return out
}

func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}
