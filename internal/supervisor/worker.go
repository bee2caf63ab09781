package supervisor

import (
	"time"

	"github.com/smazurov/taskmaster/internal/config"
)

// Stop requesters, recorded so exit handling knows whether a death was
// asked for and by whom.
const (
	stopByUser     = "user"
	stopByReload   = "reload"
	stopByShutdown = "shutdown"
)

// worker is the record for one replica of one program. It is owned
// exclusively by the core loop; nothing else reads or writes it.
type worker struct {
	key  WorkerKey
	prog *config.Program

	state      State
	pid        int
	spawnedAt  time.Time
	stateSince time.Time

	startAttempts int
	lastExit      *ExitEvent

	// pendingStart makes the stop-completing exit event issue a fresh
	// start: the restart command and fingerprint respawns both ride it.
	pendingStart bool

	// doomed workers are deleted once they reach a terminal state
	// (program removed, or numprocs shrank below this replica index).
	doomed bool

	stopRequestedBy string
}

func newWorker(prog *config.Program, replica int, now time.Time) *worker {
	return &worker{
		key:        WorkerKey{Program: prog.Name, Replica: replica},
		prog:       prog,
		state:      StateStopped,
		stateSince: now,
	}
}

// setState moves the worker and stamps the transition time.
func (w *worker) setState(s State, now time.Time) (from State) {
	from = w.state
	w.state = s
	w.stateSince = now
	return from
}

// secondsInState is the worker's uptime for RUNNING, otherwise the time
// spent in its current state.
func (w *worker) secondsInState(now time.Time) float64 {
	if w.state == StateRunning && !w.spawnedAt.IsZero() {
		return now.Sub(w.spawnedAt).Seconds()
	}
	return now.Sub(w.stateSince).Seconds()
}

// backoffDelay is the wait before the next start attempt: exponential
// from 1s, capped. Monotonic non-decreasing within one run of failures.
func (w *worker) backoffDelay() time.Duration {
	const maxBackoff = 8 * time.Second
	if w.startAttempts <= 1 {
		return time.Second
	}
	if w.startAttempts > 4 {
		return maxBackoff
	}
	return time.Second << (w.startAttempts - 1)
}
