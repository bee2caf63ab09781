package supervisor

import (
	"fmt"
	"os"

	"github.com/smazurov/taskmaster/internal/config"
)

// sinkFiles holds the stdout/stderr bindings for one spawn. Files opened
// here belong to the parent and are closed right after the fork; the
// child keeps its own descriptors.
type sinkFiles struct {
	stdout *os.File // nil means /dev/null
	stderr *os.File
	owned  []*os.File
}

// openSinks opens the configured sinks for a spawn. File sinks are
// opened fresh on every spawn so truncate mode truncates per run. A
// combined stderr shares the stdout *os.File, so both child descriptors
// refer to one open file description and writes interleave in order.
func openSinks(p *config.Program) (*sinkFiles, error) {
	s := &sinkFiles{}

	stdout, err := openSink(p.Stdout, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("stdout sink: %w", err)
	}
	if stdout != nil && p.Stdout.Kind == config.StreamFile {
		s.owned = append(s.owned, stdout)
	}
	s.stdout = stdout

	if p.Stderr.Kind == config.StreamCombined {
		s.stderr = stdout
		return s, nil
	}

	stderr, err := openSink(p.Stderr, os.Stderr)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("stderr sink: %w", err)
	}
	if stderr != nil && p.Stderr.Kind == config.StreamFile {
		s.owned = append(s.owned, stderr)
	}
	s.stderr = stderr

	return s, nil
}

func openSink(stream config.Stream, inherit *os.File) (*os.File, error) {
	switch stream.Kind {
	case config.StreamDiscard:
		return nil, nil
	case config.StreamInherit:
		return inherit, nil
	case config.StreamFile:
		flags := os.O_WRONLY | os.O_CREATE
		if stream.Mode == config.ModeTruncate {
			flags |= os.O_TRUNC
		} else {
			flags |= os.O_APPEND
		}
		return os.OpenFile(stream.Path, flags, 0o644)
	default:
		return nil, fmt.Errorf("unhandled sink kind")
	}
}

// Close closes the parent's copies of file sinks. Inherited streams are
// the supervisor's own and are left alone.
func (s *sinkFiles) Close() {
	for _, f := range s.owned {
		_ = f.Close()
	}
	s.owned = nil
}
