package supervisor

import (
	"errors"
	"log/slog"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/smazurov/taskmaster/internal/config"
)

// ExitEvent is the structured record of one child termination. Spawn
// failures are delivered through the same type with SpawnErr set, so the
// state machine consumes them exactly like an early exit.
type ExitEvent struct {
	Key      WorkerKey
	PID      int
	Signaled bool
	Status   int // exit code, or signal number when Signaled
	SpawnErr error
	At       time.Time
}

// Launcher spawns child processes. It is stateless: the caller owns the
// worker record and receives exactly one ExitEvent per successful spawn
// on the provided channel.
type Launcher interface {
	Spawn(prog *config.Program, key WorkerKey, exits chan<- ExitEvent) (pid int, err error)
	Signal(pid int, sig syscall.Signal) error
}

// execLauncher is the real Launcher backed by fork/exec.
type execLauncher struct {
	logger *slog.Logger
}

// NewLauncher returns the process launcher used outside of tests.
func NewLauncher(logger *slog.Logger) Launcher {
	return &execLauncher{logger: logger}
}

// Spawn forks a child for one replica of prog. The child runs in its own
// process group (so stop signals reach descendants), with the spec's
// working directory, umask, environment, and sink bindings. The parent's
// sink descriptors are closed as soon as the fork completes.
func (l *execLauncher) Spawn(prog *config.Program, key WorkerKey, exits chan<- ExitEvent) (int, error) {
	sinks, err := openSinks(prog)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(prog.Command.Path(), prog.Command.Args()...)
	cmd.Dir = prog.WorkingDir
	cmd.Env = environ(prog.Env)
	cmd.Stdout = sinks.stdout
	cmd.Stderr = sinks.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Spawns only happen on the core goroutine, so flipping the
	// process-wide umask around the fork cannot race another spawn.
	if prog.Umask != nil {
		old := syscall.Umask(int(*prog.Umask))
		defer syscall.Umask(old)
	}

	startErr := cmd.Start()
	sinks.Close()
	if startErr != nil {
		return 0, startErr
	}

	pid := cmd.Process.Pid
	l.logger.Info("Spawned child", "program", key.Program, "replica", key.Replica, "pid", pid, "command", prog.Command.String())

	go func() {
		waitErr := cmd.Wait()
		exits <- classifyExit(key, pid, waitErr)
	}()

	return pid, nil
}

// Signal delivers sig to the child's process group.
func (l *execLauncher) Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// classifyExit converts a Wait result into an ExitEvent: a normal exit
// carries the exit code, a signal death carries the signal number.
func classifyExit(key WorkerKey, pid int, waitErr error) ExitEvent {
	ev := ExitEvent{Key: key, PID: pid, At: time.Now()}
	if waitErr == nil {
		return ev
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				ev.Signaled = true
				ev.Status = int(ws.Signal())
				return ev
			}
			ev.Status = ws.ExitStatus()
			return ev
		}
		ev.Status = exitErr.ExitCode()
		return ev
	}
	// Wait itself failed; treat as an unexpected non-zero exit.
	ev.Status = 1
	return ev
}

// environ renders the spec's env mapping as a deterministic KEY=value
// slice. The child gets exactly this environment, nothing inherited.
func environ(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
