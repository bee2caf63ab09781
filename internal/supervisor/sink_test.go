package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/taskmaster/internal/config"
)

func TestOpenSinksDiscard(t *testing.T) {
	prog := launcherProgram(t, `
programs:
  quiet:
    command: ["/bin/true"]
`)
	s, err := openSinks(prog)
	if err != nil {
		t.Fatalf("openSinks failed: %v", err)
	}
	defer s.Close()
	if s.stdout != nil || s.stderr != nil {
		t.Error("discard sinks should be nil (exec maps nil to /dev/null)")
	}
}

func TestOpenSinksInherit(t *testing.T) {
	prog := launcherProgram(t, `
programs:
  loud:
    command: ["/bin/true"]
    stdout: inherit
    stderr: inherit
`)
	s, err := openSinks(prog)
	if err != nil {
		t.Fatalf("openSinks failed: %v", err)
	}
	defer s.Close()
	if s.stdout != os.Stdout || s.stderr != os.Stderr {
		t.Error("inherit sinks must be the supervisor's own streams")
	}
	if len(s.owned) != 0 {
		t.Error("inherited streams must not be owned (closing them would be fatal)")
	}
}

func TestOpenSinksTruncateVsAppend(t *testing.T) {
	dir := t.TempDir()
	truncPath := filepath.Join(dir, "trunc.log")
	appendPath := filepath.Join(dir, "append.log")

	if err := os.WriteFile(truncPath, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(appendPath, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	prog := launcherProgram(t, `
programs:
  logger:
    command: ["/bin/true"]
    stdout: { path: `+truncPath+`, mode: truncate }
    stderr: { path: `+appendPath+`, mode: append }
`)
	s, err := openSinks(prog)
	if err != nil {
		t.Fatalf("openSinks failed: %v", err)
	}
	if _, err := s.stderr.WriteString("new\n"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	truncData, _ := os.ReadFile(truncPath)
	if len(truncData) != 0 {
		t.Errorf("truncate sink kept old content: %q", truncData)
	}
	appendData, _ := os.ReadFile(appendPath)
	if string(appendData) != "old\nnew\n" {
		t.Errorf("append sink = %q, want old content preserved", appendData)
	}
}

func TestOpenSinksCombinedSharesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "both.log")
	prog := launcherProgram(t, `
programs:
  both:
    command: ["/bin/true"]
    stdout: { path: `+path+` }
    stderr: stdout
`)
	s, err := openSinks(prog)
	if err != nil {
		t.Fatalf("openSinks failed: %v", err)
	}
	defer s.Close()
	if s.stdout == nil || s.stdout != s.stderr {
		t.Error("combined stderr must share the stdout *os.File")
	}
	if len(s.owned) != 1 {
		t.Errorf("owned = %d files, want exactly 1 for a shared sink", len(s.owned))
	}
}

func TestOpenSinksUnwritablePathFails(t *testing.T) {
	prog := launcherProgram(t, `
programs:
  blocked:
    command: ["/bin/true"]
    stdout: { path: /nonexistent-dir-taskmaster/x.log }
`)
	if _, err := openSinks(prog); err == nil {
		t.Fatal("expected error for unwritable sink path")
	}
}

func TestOpenSinksStderrFailureFails(t *testing.T) {
	dir := t.TempDir()
	prog := launcherProgram(t, `
programs:
  half:
    command: ["/bin/true"]
    stdout: { path: `+filepath.Join(dir, "ok.log")+` }
    stderr: { path: /nonexistent-dir-taskmaster/x.log }
`)
	if _, err := openSinks(prog); err == nil {
		t.Fatal("expected error when the stderr sink cannot open")
	}
}

func TestStreamKindsRoundTrip(t *testing.T) {
	prog := launcherProgram(t, `
programs:
  mix:
    command: ["/bin/true"]
    stdout: { path: /tmp/x.log, mode: append }
    stderr: discard
`)
	if prog.Stdout.Kind != config.StreamFile || prog.Stdout.Mode != config.ModeAppend {
		t.Errorf("stdout = %+v", prog.Stdout)
	}
	if prog.Stderr.Kind != config.StreamDiscard {
		t.Errorf("stderr = %+v", prog.Stderr)
	}
}
