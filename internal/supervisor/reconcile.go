package supervisor

import (
	"sort"
	"time"

	"github.com/smazurov/taskmaster/internal/config"
	"github.com/smazurov/taskmaster/internal/events"
)

// applyConfig reconciles the managed worker set against a new, already
// validated configuration. Each program is classified as added, removed,
// changed (fingerprint differs: respawn required), or unchanged (at most
// monitoring fields differ: workers keep running). The new configuration
// is installed before any worker is touched, so every spawn issued from
// here uses the new specs. Applying an identical configuration issues no
// process operations at all.
func (s *Supervisor) applyConfig(newCfg *config.Config) events.ConfigReloadedEvent {
	oldCfg := s.cfg
	s.cfg = newCfg

	summary := events.ConfigReloadedEvent{}

	for _, name := range newCfg.Names() {
		newProg := newCfg.Programs[name]
		oldProg, exists := oldCfg.Programs[name]
		switch {
		case !exists:
			summary.Added = append(summary.Added, name)
			s.addProgram(newProg)
		case oldProg.SameImage(newProg):
			summary.Unchanged = append(summary.Unchanged, name)
			s.updateProgram(newProg, false)
		default:
			summary.Changed = append(summary.Changed, name)
			s.updateProgram(newProg, true)
		}
	}

	var removed []string
	for name := range oldCfg.Programs {
		if _, ok := newCfg.Programs[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	for _, name := range removed {
		summary.Removed = append(summary.Removed, name)
		s.removeProgram(name)
	}

	return summary
}

// addProgram creates the program's worker records and autostarts them if
// configured.
func (s *Supervisor) addProgram(prog *config.Program) {
	now := time.Now()
	for i := 0; i < prog.NumProcs; i++ {
		key := WorkerKey{Program: prog.Name, Replica: i}
		if old, ok := s.workers[key]; ok {
			// Still winding down from an earlier removal; reclaim it.
			old.doomed = false
			old.prog = prog
			if old.state.Alive() {
				old.pendingStart = prog.Autostart()
			}
			continue
		}
		w := newWorker(prog, i, now)
		s.workers[key] = w
		if prog.Autostart() && !s.shuttingDown {
			s.spawn(w)
		}
	}
	s.logger.Info("Program added", "program", prog.Name, "numprocs", prog.NumProcs, "autostart", prog.Autostart())
}

// removeProgram stops every worker of a program and marks them for
// deletion; records disappear as each reaches a terminal state.
func (s *Supervisor) removeProgram(name string) {
	s.logger.Info("Program removed", "program", name)
	for _, w := range s.workersOf(name) {
		w.doomed = true
		w.pendingStart = false
		if w.state.Terminal() {
			s.finishIfDoomed(w)
			continue
		}
		_ = s.stopWorker(w, stopByReload, false)
	}
}

// updateProgram swaps the active spec under a program's workers.
// With respawn unset only monitoring fields changed, so running workers
// are left alone. With respawn set every live worker is stopped and
// restarted onto the new spec. numprocs growth adds replicas; shrink
// retires the highest replica indexes.
func (s *Supervisor) updateProgram(prog *config.Program, respawn bool) {
	now := time.Now()
	existing := s.workersOf(prog.Name)

	for _, w := range existing {
		if w.key.Replica >= prog.NumProcs {
			// Shrunk away: retire once terminal.
			w.doomed = true
			w.pendingStart = false
			if w.state.Terminal() {
				s.finishIfDoomed(w)
			} else {
				_ = s.stopWorker(w, stopByReload, false)
			}
			continue
		}

		w.prog = prog
		w.doomed = false
		if !respawn {
			continue
		}
		switch {
		case w.state.Alive():
			_ = s.stopWorker(w, stopByReload, true)
		case w.state == StateBackoff:
			// Retry immediately on the new image with a fresh budget.
			s.timers.Cancel(w.key, timerBackoff)
			w.startAttempts = 0
			s.spawn(w)
		case w.state == StateExited || w.state == StateFatal:
			if prog.Autostart() && !s.shuttingDown {
				w.startAttempts = 0
				s.spawn(w)
			}
		}
		// STOPPED workers stay stopped: the user parked them.
	}

	for i := len(existing); i < prog.NumProcs; i++ {
		w := newWorker(prog, i, now)
		s.workers[w.key] = w
		if prog.Autostart() && !s.shuttingDown {
			s.spawn(w)
		}
	}
}
