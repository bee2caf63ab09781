package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/smazurov/taskmaster/internal/config"
	"github.com/smazurov/taskmaster/internal/events"
)

// Options configures a Supervisor.
type Options struct {
	// Config is the initial validated configuration (required).
	Config *config.Config

	// Reload loads a fresh configuration for the reload command. If
	// nil, reload reports an error and changes nothing.
	Reload func() (*config.Config, error)

	// Launcher spawns children. If nil, the real fork/exec launcher
	// is used.
	Launcher Launcher

	// Bus receives supervision events (optional).
	Bus *events.Bus

	// Logger for core operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Supervisor owns every worker record and runs the serialized event
// loop. All state mutation happens on the Run goroutine; the reaper
// goroutines and the control plane only feed its channels.
type Supervisor struct {
	cfg      *config.Config
	reload   func() (*config.Config, error)
	launcher Launcher
	bus      *events.Bus
	logger   *slog.Logger

	workers  map[WorkerKey]*worker
	timers   *timerService
	exits    chan ExitEvent
	commands chan Command

	shuttingDown    bool
	shutdownWaiters []chan Result

	initial *config.Config
	done    chan struct{}
}

// New creates a Supervisor. Run must be called for anything to happen.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = NewLauncher(logger)
	}
	return &Supervisor{
		cfg:      &config.Config{Programs: map[string]*config.Program{}},
		reload:   opts.Reload,
		launcher: launcher,
		bus:      opts.Bus,
		logger:   logger,
		workers:  make(map[WorkerKey]*worker),
		timers:   newTimerService(),
		exits:    make(chan ExitEvent, 64),
		commands: make(chan Command),
		done:     make(chan struct{}),
		initial:  opts.Config,
	}
}

// Run executes the event loop until shutdown completes. Exit events are
// always observed before timer expirations, and those before control
// commands, within one loop turn.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)

	summary := s.applyConfig(s.initial)
	s.publish(summary)
	s.logger.Info("Supervision started", "programs", len(s.cfg.Programs), "workers", len(s.workers))

	ctxDone := ctx.Done()
	for {
		if s.shuttingDown && s.allTerminal() {
			break
		}

		// Exits preempt everything else queued this turn.
		select {
		case ev := <-s.exits:
			s.handleExit(ev)
			continue
		default:
		}
		// Then timers preempt commands.
		select {
		case ev := <-s.exits:
			s.handleExit(ev)
			continue
		case exp := <-s.timers.expiries:
			s.handleTimer(exp)
			continue
		default:
		}

		select {
		case ev := <-s.exits:
			s.handleExit(ev)
		case exp := <-s.timers.expiries:
			s.handleTimer(exp)
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		case <-ctxDone:
			ctxDone = nil
			s.beginShutdown("context cancelled")
		}
	}

	for _, reply := range s.shutdownWaiters {
		reply <- Result{Text: "shutdown complete"}
	}
	s.shutdownWaiters = nil
	s.logger.Info("Supervision stopped")
	return nil
}

// --- event handling -------------------------------------------------

func (s *Supervisor) handleExit(ev ExitEvent) {
	w, ok := s.workers[ev.Key]
	if !ok || w.pid != ev.PID {
		s.logger.Warn("Reaped unexpected pid", "worker", ev.Key, "pid", ev.PID)
		return
	}

	w.lastExit = &ev
	w.pid = 0
	expected := !ev.Signaled && w.prog.Expected(ev.Status)
	exited := events.WorkerExitedEvent{
		Program:  ev.Key.Program,
		Replica:  ev.Key.Replica,
		PID:      ev.PID,
		Kind:     events.ExitKindExited,
		Code:     ev.Status,
		Expected: expected,
	}
	if ev.Signaled {
		exited.Kind = events.ExitKindSignaled
		exited.Code = 0
		exited.Signal = ev.Status
	}
	s.publish(exited)
	s.logger.Info("Child exited",
		"program", ev.Key.Program, "replica", ev.Key.Replica, "pid", ev.PID,
		"signaled", ev.Signaled, "status", ev.Status, "state", w.state)

	switch w.state {
	case StateStarting:
		// Died inside the startup grace window: failed start.
		s.timers.Cancel(w.key, timerStartup)
		s.startFailed(w)

	case StateRunning:
		if !s.shuttingDown && s.shouldRestart(w, ev, expected) {
			// Autorestart does not consume retry budget.
			s.spawn(w)
			return
		}
		s.transition(w, StateExited)
		s.finishIfDoomed(w)

	case StateStopping:
		s.timers.Cancel(w.key, timerStop)
		s.transition(w, StateStopped)
		s.logger.Info("Worker stopped",
			"program", w.key.Program, "replica", w.key.Replica, "requested_by", w.stopRequestedBy)
		w.stopRequestedBy = ""
		if s.finishIfDoomed(w) {
			return
		}
		if w.pendingStart && !s.shuttingDown {
			w.pendingStart = false
			w.startAttempts = 0
			s.spawn(w)
		}

	default:
		s.logger.Warn("Exit in unexpected state", "worker", w.key, "state", w.state)
	}
}

func (s *Supervisor) shouldRestart(w *worker, ev ExitEvent, expected bool) bool {
	switch w.prog.AutoRestart {
	case config.RestartAlways:
		return true
	case config.RestartUnexpected:
		return ev.Signaled || !expected
	default:
		return false
	}
}

func (s *Supervisor) handleTimer(exp timerExpiry) {
	if !s.timers.Valid(exp) {
		return
	}
	w, ok := s.workers[exp.Key]
	if !ok {
		return
	}

	switch exp.Purpose {
	case timerStartup:
		if w.state != StateStarting {
			return
		}
		// Survived the grace window: successfully started.
		w.startAttempts = 0
		s.transition(w, StateRunning)

	case timerStop:
		if w.state != StateStopping || w.pid == 0 {
			return
		}
		// Grace expired; the group gets SIGKILL and we keep waiting
		// for the exit event. No further timer.
		s.logger.Warn("Stop deadline passed, killing process group",
			"program", w.key.Program, "replica", w.key.Replica, "pid", w.pid)
		if err := s.launcher.Signal(w.pid, syscall.SIGKILL); err != nil {
			s.logger.Error("SIGKILL failed", "pid", w.pid, "error", err)
		}

	case timerBackoff:
		if w.state != StateBackoff || s.shuttingDown {
			return
		}
		s.spawn(w)
	}
}

// --- state machine actions ------------------------------------------

// spawn moves a worker to STARTING and launches its child. A launcher
// error is consumed here as a failed start; it never escapes the loop.
func (s *Supervisor) spawn(w *worker) {
	s.transition(w, StateStarting)

	pid, err := s.launcher.Spawn(w.prog, w.key, s.exits)
	if err != nil {
		s.logger.Error("Spawn failed",
			"program", w.key.Program, "replica", w.key.Replica, "error", err)
		w.lastExit = &ExitEvent{Key: w.key, SpawnErr: err, At: time.Now()}
		s.startFailed(w)
		return
	}

	w.pid = pid
	w.spawnedAt = time.Now()
	s.publish(events.WorkerSpawnedEvent{Program: w.key.Program, Replica: w.key.Replica, PID: pid})
	s.timers.Arm(w.key, timerStartup, w.prog.StartGrace())
}

// startFailed charges one start attempt and either backs off or goes
// fatal once the retry budget is spent.
func (s *Supervisor) startFailed(w *worker) {
	w.startAttempts++
	if w.startAttempts >= w.prog.MaxStartRetries() {
		s.logger.Error("Giving up on worker",
			"program", w.key.Program, "replica", w.key.Replica, "attempts", w.startAttempts)
		s.transition(w, StateFatal)
		s.finishIfDoomed(w)
		return
	}
	delay := w.backoffDelay()
	s.logger.Warn("Start failed, backing off",
		"program", w.key.Program, "replica", w.key.Replica,
		"attempts", w.startAttempts, "delay", delay)
	s.transition(w, StateBackoff)
	s.timers.Arm(w.key, timerBackoff, delay)
}

// stopWorker initiates a graceful stop. pending marks the worker for a
// fresh start once the stop completes.
func (s *Supervisor) stopWorker(w *worker, by string, pending bool) error {
	switch w.state {
	case StateStarting, StateRunning:
		w.stopRequestedBy = by
		w.pendingStart = pending
		s.timers.Cancel(w.key, timerStartup)
		s.transition(w, StateStopping)
		if err := s.launcher.Signal(w.pid, w.prog.StopSignal.Sig); err != nil {
			s.logger.Error("Stop signal failed", "pid", w.pid, "error", err)
		}
		s.timers.Arm(w.key, timerStop, w.prog.StopGrace())
		return nil

	case StateStopping:
		if pending {
			w.pendingStart = true
		}
		return nil

	case StateBackoff:
		s.timers.Cancel(w.key, timerBackoff)
		s.transition(w, StateStopped)
		if s.finishIfDoomed(w) {
			return nil
		}
		if pending && !s.shuttingDown {
			w.startAttempts = 0
			s.spawn(w)
		}
		return nil

	default:
		return fmt.Errorf("not running")
	}
}

// startWorker begins a user-requested start from a terminal state.
func (s *Supervisor) startWorker(w *worker) error {
	switch w.state {
	case StateStopped, StateExited, StateFatal:
		w.startAttempts = 0
		s.spawn(w)
		return nil
	case StateBackoff:
		return fmt.Errorf("start already pending (backoff)")
	default:
		return fmt.Errorf("already running")
	}
}

// transition moves the worker and publishes the change.
func (s *Supervisor) transition(w *worker, to State) {
	now := time.Now()
	from := w.setState(to, now)
	if from == to {
		return
	}
	s.publish(events.WorkerStateChangedEvent{
		Program: w.key.Program,
		Replica: w.key.Replica,
		From:    string(from),
		To:      string(to),
		PID:     w.pid,
	})
	s.logger.Debug("Worker state changed",
		"program", w.key.Program, "replica", w.key.Replica, "from", from, "to", to)
}

// finishIfDoomed deletes a worker slated for removal once it settles.
func (s *Supervisor) finishIfDoomed(w *worker) bool {
	if !w.doomed || !w.state.Terminal() {
		return false
	}
	s.timers.CancelAll(w.key)
	delete(s.workers, w.key)
	s.logger.Info("Worker removed", "program", w.key.Program, "replica", w.key.Replica)
	return true
}

// --- command handling -----------------------------------------------

func (s *Supervisor) handleCommand(cmd Command) {
	switch cmd.Kind {
	case CmdStatus:
		s.answer(cmd, s.statusText(cmd.Name))

	case CmdStart, CmdStop, CmdRestart:
		s.answer(cmd, s.applyVerb(cmd.Kind, cmd.Name))

	case CmdReload:
		s.answer(cmd, s.reloadConfig())

	case CmdShutdown:
		if cmd.reply != nil {
			s.shutdownWaiters = append(s.shutdownWaiters, cmd.reply)
		}
		s.beginShutdown("requested")

	case cmdEscalate:
		s.escalate()
		s.answer(cmd, Result{Text: "killed"})
	}
}

func (s *Supervisor) answer(cmd Command, r Result) {
	if cmd.reply != nil {
		cmd.reply <- r
	}
}

// applyVerb runs start/stop/restart on every replica of a program, or of
// all programs for the name "all".
func (s *Supervisor) applyVerb(kind CommandKind, name string) Result {
	var targets []*worker
	if name == "all" {
		targets = s.allWorkers()
	} else {
		if _, ok := s.cfg.Programs[name]; !ok {
			return Result{Err: fmt.Errorf("unknown program %q", name)}
		}
		targets = s.workersOf(name)
	}
	if len(targets) == 0 {
		return Result{Err: fmt.Errorf("no workers for %q", name)}
	}

	acted := 0
	var firstErr error
	for _, w := range targets {
		var err error
		switch kind {
		case CmdStart:
			err = s.startWorker(w)
		case CmdStop:
			err = s.stopWorker(w, stopByUser, false)
		case CmdRestart:
			if w.state.Terminal() {
				err = s.startWorker(w)
			} else {
				err = s.stopWorker(w, stopByUser, true)
			}
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", w.key, err)
			}
			continue
		}
		acted++
	}
	if acted == 0 && firstErr != nil {
		return Result{Err: firstErr}
	}

	verb := map[CommandKind]string{CmdStart: "starting", CmdStop: "stopping", CmdRestart: "restarting"}[kind]
	return Result{Text: fmt.Sprintf("%s %d worker(s)", verb, acted)}
}

func (s *Supervisor) reloadConfig() Result {
	if s.reload == nil {
		return Result{Err: fmt.Errorf("reload not available")}
	}
	newCfg, err := s.reload()
	if err != nil {
		// The previous configuration and running set are untouched.
		return Result{Err: fmt.Errorf("reload rejected: %w", err)}
	}
	summary := s.applyConfig(newCfg)
	s.publish(summary)
	return Result{Text: fmt.Sprintf(
		"reloaded: %d added, %d removed, %d changed, %d unchanged",
		len(summary.Added), len(summary.Removed), len(summary.Changed), len(summary.Unchanged))}
}

// statusText renders the status table for one program or all of them.
func (s *Supervisor) statusText(name string) Result {
	var targets []*worker
	if name == "" {
		targets = s.allWorkers()
	} else {
		if _, ok := s.cfg.Programs[name]; !ok {
			return Result{Err: fmt.Errorf("unknown program %q", name)}
		}
		targets = s.workersOf(name)
	}
	if len(targets) == 0 {
		return Result{Text: "no programs configured"}
	}

	now := time.Now()
	var b strings.Builder
	for i, w := range targets {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := w.key.Program
		if w.prog.NumProcs > 1 {
			label = fmt.Sprintf("%s:%d", w.key.Program, w.key.Replica)
		}
		fmt.Fprintf(&b, "%-24s %-9s", label, w.state)
		if w.pid != 0 {
			fmt.Fprintf(&b, " pid %-7d", w.pid)
		} else {
			fmt.Fprintf(&b, " %-11s", "")
		}
		fmt.Fprintf(&b, " uptime %-6s attempts %d",
			fmt.Sprintf("%ds", int(w.secondsInState(now))), w.startAttempts)
	}
	return Result{Text: b.String()}
}

// --- shutdown -------------------------------------------------------

func (s *Supervisor) beginShutdown(reason string) {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.publish(events.ShutdownEvent{Reason: reason})
	s.logger.Info("Shutting down", "reason", reason)

	for _, w := range s.allWorkers() {
		w.pendingStart = false
		switch {
		case w.state.Alive():
			_ = s.stopWorker(w, stopByShutdown, false)
		case w.state == StateBackoff:
			s.timers.Cancel(w.key, timerBackoff)
			s.transition(w, StateStopped)
		}
	}
}

func (s *Supervisor) escalate() {
	for _, w := range s.allWorkers() {
		if w.pid != 0 {
			s.logger.Warn("Escalating to SIGKILL", "program", w.key.Program, "replica", w.key.Replica, "pid", w.pid)
			_ = s.launcher.Signal(w.pid, syscall.SIGKILL)
		}
	}
}

func (s *Supervisor) allTerminal() bool {
	for _, w := range s.workers {
		if !w.state.Terminal() {
			return false
		}
	}
	return true
}

// --- helpers --------------------------------------------------------

func (s *Supervisor) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// allWorkers returns every worker sorted by program then replica.
func (s *Supervisor) allWorkers() []*worker {
	out := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.Program != out[j].key.Program {
			return out[i].key.Program < out[j].key.Program
		}
		return out[i].key.Replica < out[j].key.Replica
	})
	return out
}

// workersOf returns the workers of one program sorted by replica.
func (s *Supervisor) workersOf(name string) []*worker {
	var out []*worker
	for _, w := range s.workers {
		if w.key.Program == name {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Replica < out[j].key.Replica })
	return out
}
