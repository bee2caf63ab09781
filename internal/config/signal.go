package config

import (
	"fmt"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

// Signal is a POSIX signal named in the configuration file.
type Signal struct {
	Name string
	Sig  syscall.Signal
}

var signalsByName = map[string]syscall.Signal{
	"TERM": syscall.SIGTERM,
	"KILL": syscall.SIGKILL,
	"INT":  syscall.SIGINT,
	"HUP":  syscall.SIGHUP,
	"QUIT": syscall.SIGQUIT,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

// SignalTerm is the default stop signal.
func SignalTerm() Signal {
	return Signal{Name: "TERM", Sig: syscall.SIGTERM}
}

// ParseSignal resolves a signal name. Both "TERM" and "SIGTERM" forms
// are accepted, case-insensitively.
func ParseSignal(name string) (Signal, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	upper = strings.TrimPrefix(upper, "SIG")
	sig, ok := signalsByName[upper]
	if !ok {
		return Signal{}, fmt.Errorf("unknown signal %q", name)
	}
	return Signal{Name: upper, Sig: sig}, nil
}

// UnmarshalYAML resolves the configured signal name.
func (s *Signal) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	sig, err := ParseSignal(name)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

func (s Signal) String() string {
	if s.Name == "" {
		return "TERM"
	}
	return s.Name
}
