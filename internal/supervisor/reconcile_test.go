package supervisor

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/taskmaster/internal/config"
)

// reloadSource lets a test swap the document the supervisor reloads.
type reloadSource struct {
	mu  sync.Mutex
	doc string
}

func (r *reloadSource) set(doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = doc
}

func (r *reloadSource) load() (*config.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == "" {
		return nil, fmt.Errorf("no document")
	}
	return config.Parse("test.yaml", []byte(r.doc))
}

const twoPrograms = `
programs:
  alpha:
    command: ["/bin/sleep", "300"]
    starttime: 0
  beta:
    command: ["/bin/sleep", "600"]
    starttime: 0
`

func TestReloadIdempotent(t *testing.T) {
	src := &reloadSource{doc: twoPrograms}
	h := startHarness(t, twoPrograms, src.load)

	h.waitState(t, "alpha", 0, StateRunning)
	h.waitState(t, "beta", 0, StateRunning)
	alphaPID := h.launcher.livePID("alpha", 0)
	betaPID := h.launcher.livePID("beta", 0)

	res := h.sup.Post(CmdReload, "")
	if res.Err != nil {
		t.Fatalf("reload failed: %v", res.Err)
	}
	if !strings.Contains(res.Text, "2 unchanged") {
		t.Errorf("reload summary = %q, want 2 unchanged", res.Text)
	}

	time.Sleep(100 * time.Millisecond)
	if got := h.launcher.spawns("alpha") + h.launcher.spawns("beta"); got != 2 {
		t.Errorf("spawns after identical reload = %d, want 2", got)
	}
	if len(h.launcher.sentSignals()) != 0 {
		t.Errorf("signals after identical reload = %v, want none", h.launcher.sentSignals())
	}
	if h.launcher.livePID("alpha", 0) != alphaPID || h.launcher.livePID("beta", 0) != betaPID {
		t.Error("pids changed across an identical reload")
	}
}

func TestReloadSelectiveRespawn(t *testing.T) {
	src := &reloadSource{}
	h := startHarness(t, twoPrograms, src.load)

	h.waitState(t, "alpha", 0, StateRunning)
	h.waitState(t, "beta", 0, StateRunning)
	betaPID := h.launcher.livePID("beta", 0)
	alphaPID := h.launcher.livePID("alpha", 0)

	src.set(`
programs:
  alpha:
    command: ["/bin/sleep", "900"]
    starttime: 0
  beta:
    command: ["/bin/sleep", "600"]
    starttime: 0
`)
	res := h.sup.Post(CmdReload, "")
	if res.Err != nil {
		t.Fatalf("reload failed: %v", res.Err)
	}
	if !strings.Contains(res.Text, "1 changed") || !strings.Contains(res.Text, "1 unchanged") {
		t.Errorf("reload summary = %q", res.Text)
	}

	// alpha is stopped and respawned onto the new image.
	h.waitState(t, "alpha", 0, StateStopped)
	h.waitState(t, "alpha", 0, StateRunning)

	if pid := h.launcher.livePID("alpha", 0); pid == alphaPID || pid == 0 {
		t.Errorf("alpha pid not replaced: %d", pid)
	}
	if pid := h.launcher.livePID("beta", 0); pid != betaPID {
		t.Errorf("beta pid changed to %d, want untouched %d", pid, betaPID)
	}
	if got := h.launcher.spawns("beta"); got != 1 {
		t.Errorf("beta spawns = %d, want 1", got)
	}
}

func TestReloadMonitoringFieldsOnly(t *testing.T) {
	src := &reloadSource{}
	h := startHarness(t, twoPrograms, src.load)

	h.waitState(t, "alpha", 0, StateRunning)
	alphaPID := h.launcher.livePID("alpha", 0)

	src.set(`
programs:
  alpha:
    command: ["/bin/sleep", "300"]
    starttime: 30
    startretries: 9
    autorestart: never
    exitcodes: [0, 1, 2]
  beta:
    command: ["/bin/sleep", "600"]
    starttime: 0
`)
	res := h.sup.Post(CmdReload, "")
	if res.Err != nil {
		t.Fatalf("reload failed: %v", res.Err)
	}
	if !strings.Contains(res.Text, "2 unchanged") {
		t.Errorf("reload summary = %q, want 2 unchanged", res.Text)
	}
	if pid := h.launcher.livePID("alpha", 0); pid != alphaPID {
		t.Errorf("alpha respawned for a monitoring-only change: %d", pid)
	}

	// The new policy is live: an expected exit must not restart now.
	h.launcher.exit(t, "alpha", 0, 1)
	h.waitState(t, "alpha", 0, StateExited)
	if got := h.launcher.spawns("alpha"); got != 1 {
		t.Errorf("alpha spawns = %d, want 1", got)
	}
}

func TestReloadAddAndRemove(t *testing.T) {
	src := &reloadSource{}
	h := startHarness(t, twoPrograms, src.load)

	h.waitState(t, "alpha", 0, StateRunning)
	h.waitState(t, "beta", 0, StateRunning)

	src.set(`
programs:
  beta:
    command: ["/bin/sleep", "600"]
    starttime: 0
  gamma:
    command: ["/bin/sleep", "60"]
    starttime: 0
`)
	res := h.sup.Post(CmdReload, "")
	if res.Err != nil {
		t.Fatalf("reload failed: %v", res.Err)
	}
	if !strings.Contains(res.Text, "1 added") || !strings.Contains(res.Text, "1 removed") {
		t.Errorf("reload summary = %q", res.Text)
	}

	h.waitState(t, "gamma", 0, StateRunning)
	h.waitState(t, "alpha", 0, StateStopped)

	// The removed program's records are gone once terminal.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if res := h.sup.Post(CmdStatus, "alpha"); res.Err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("alpha still known after removal")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReloadNumprocsGrow(t *testing.T) {
	src := &reloadSource{}
	h := startHarness(t, `
programs:
  pool:
    command: ["/bin/sleep", "300"]
    starttime: 0
`, src.load)

	h.waitState(t, "pool", 0, StateRunning)
	firstPID := h.launcher.livePID("pool", 0)

	src.set(`
programs:
  pool:
    command: ["/bin/sleep", "300"]
    starttime: 0
    numprocs: 3
`)
	if res := h.sup.Post(CmdReload, ""); res.Err != nil {
		t.Fatalf("reload failed: %v", res.Err)
	}

	h.waitState(t, "pool", 1, StateRunning)
	h.waitState(t, "pool", 2, StateRunning)
	if pid := h.launcher.livePID("pool", 0); pid != firstPID {
		t.Errorf("existing replica respawned on numprocs growth: %d", pid)
	}
}

func TestReloadNumprocsShrink(t *testing.T) {
	src := &reloadSource{}
	h := startHarness(t, `
programs:
  pool:
    command: ["/bin/sleep", "300"]
    starttime: 0
    numprocs: 3
`, src.load)

	for i := 0; i < 3; i++ {
		h.waitState(t, "pool", i, StateRunning)
	}
	keepPID := h.launcher.livePID("pool", 0)

	src.set(`
programs:
  pool:
    command: ["/bin/sleep", "300"]
    starttime: 0
    numprocs: 1
`)
	if res := h.sup.Post(CmdReload, ""); res.Err != nil {
		t.Fatalf("reload failed: %v", res.Err)
	}

	h.waitState(t, "pool", 2, StateStopped)
	if pid := h.launcher.livePID("pool", 0); pid != keepPID {
		t.Errorf("replica 0 disturbed by shrink: %d", pid)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status := h.status(t, "pool")
		if !strings.Contains(status, "pool:2") && !strings.Contains(status, "pool:1") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("shrunk replicas still listed: %q", status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReloadErrorKeepsRunningSet(t *testing.T) {
	src := &reloadSource{doc: twoPrograms}
	h := startHarness(t, twoPrograms, src.load)

	h.waitState(t, "alpha", 0, StateRunning)
	alphaPID := h.launcher.livePID("alpha", 0)

	src.set("programs: {{{")
	res := h.sup.Post(CmdReload, "")
	if res.Err == nil {
		t.Fatal("expected reload error")
	}

	if pid := h.launcher.livePID("alpha", 0); pid != alphaPID {
		t.Errorf("running set disturbed by rejected reload: %d", pid)
	}
	if !strings.Contains(h.status(t, "alpha"), "RUNNING") {
		t.Error("alpha no longer running after rejected reload")
	}
}
