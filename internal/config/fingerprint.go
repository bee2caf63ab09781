package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint digests the fields that shape the child process image:
// command, env, workingdir, umask, stopsignal, and the stream bindings.
// Monitoring fields (autostart, autorestart, exitcodes, startretries,
// starttime, stoptime) are excluded, so they can change across a reload
// without despawning running workers. numprocs is excluded too: it sizes
// the worker set, it does not alter any single process image.
func (p *Program) Fingerprint() string {
	h := sha256.New()

	fmt.Fprintf(h, "command:%d\n", len(p.Command))
	for _, arg := range p.Command {
		fmt.Fprintf(h, "arg:%s\x00", arg)
	}

	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "env:%s=%s\x00", k, p.Env[k])
	}

	fmt.Fprintf(h, "workingdir:%s\n", p.WorkingDir)
	if p.Umask != nil {
		fmt.Fprintf(h, "umask:%s\n", p.Umask)
	}
	fmt.Fprintf(h, "stopsignal:%s\n", p.StopSignal)
	fmt.Fprintf(h, "stdout:%s\n", p.Stdout)
	fmt.Fprintf(h, "stderr:%s\n", p.Stderr)

	return hex.EncodeToString(h.Sum(nil))
}

// SameImage reports whether two specifications would produce the same
// child process image, i.e. a reload can swap p for other under a running
// worker without a respawn.
func (p *Program) SameImage(other *Program) bool {
	return p.Fingerprint() == other.Fingerprint()
}

// Describe renders a one-line summary for logs.
func (p *Program) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s numprocs=%d autostart=%t autorestart=%s", p.Name, p.Command, p.NumProcs, p.Autostart(), p.AutoRestart)
	return b.String()
}
