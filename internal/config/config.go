// Package config loads and validates the program configuration file.
//
// The file is a YAML document whose top-level `programs` mapping maps
// program name to program spec. Parsing and
// validation are strict: unknown fields, bad signal names, and impossible
// values are reported before any worker is touched, so a reload can be
// atomic.
package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// AutoRestart controls what happens when a running worker exits.
type AutoRestart string

// Autorestart policies.
const (
	RestartNever      AutoRestart = "never"
	RestartAlways     AutoRestart = "always"
	RestartUnexpected AutoRestart = "unexpected"
)

// Defaults applied to absent optional fields.
const (
	DefaultNumProcs     = 1
	DefaultStartTime    = 1
	DefaultStartRetries = 3
	DefaultStopTime     = 10
)

// Program is the immutable specification of one supervised program.
// starttime, startretries and stoptime are pointers so an explicit zero
// survives the defaulting pass. numprocs is a plain int: an explicit 0 is
// treated as absent and gets the default.
type Program struct {
	Name         string            `yaml:"-"`
	Command      Command           `yaml:"command"`
	NumProcs     int               `yaml:"numprocs"`
	AutoStart    *bool             `yaml:"autostart"`
	AutoRestart  AutoRestart       `yaml:"autorestart"`
	ExitCodes    []int             `yaml:"exitcodes"`
	StartTime    *int              `yaml:"starttime"`
	StartRetries *int              `yaml:"startretries"`
	StopTime     *int              `yaml:"stoptime"`
	StopSignal   Signal            `yaml:"stopsignal"`
	WorkingDir   string            `yaml:"workingdir"`
	Umask        *Umask            `yaml:"umask"`
	Env          map[string]string `yaml:"env"`
	Stdout       Stream            `yaml:"stdout"`
	Stderr       Stream            `yaml:"stderr"`
}

// Config is the validated content of one configuration file.
type Config struct {
	Programs map[string]*Program
}

// ParseError reports a malformed configuration document.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a well-formed document with impossible values.
type ValidationError struct {
	Program string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Program == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("program %q: %s: %s", e.Program, e.Field, e.Reason)
}

type document struct {
	Programs map[string]*Program `yaml:"programs"`
}

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse parses and validates a configuration document. The path is used
// only for error reporting.
func Parse(path string, data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if doc.Programs == nil {
		return nil, &ValidationError{Reason: "missing top-level 'programs' mapping"}
	}

	cfg := &Config{Programs: make(map[string]*Program, len(doc.Programs))}
	for name, prog := range doc.Programs {
		if prog == nil {
			return nil, &ValidationError{Program: name, Field: "programs", Reason: "empty program spec"}
		}
		prog.Name = name
		prog.applyDefaults()
		if err := prog.validate(); err != nil {
			return nil, err
		}
		cfg.Programs[name] = prog
	}
	return cfg, nil
}

// Names returns the program names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Programs))
	for name := range c.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Program) applyDefaults() {
	if p.NumProcs == 0 {
		p.NumProcs = DefaultNumProcs
	}
	if p.AutoStart == nil {
		p.AutoStart = boolPtr(true)
	}
	if p.AutoRestart == "" {
		p.AutoRestart = RestartUnexpected
	}
	if p.ExitCodes == nil {
		p.ExitCodes = []int{0}
	}
	if p.StartTime == nil {
		p.StartTime = intPtr(DefaultStartTime)
	}
	if p.StartRetries == nil {
		p.StartRetries = intPtr(DefaultStartRetries)
	}
	if p.StopTime == nil {
		p.StopTime = intPtr(DefaultStopTime)
	}
	if p.StopSignal.Sig == 0 {
		p.StopSignal = SignalTerm()
	}
	if p.Env == nil {
		p.Env = map[string]string{}
	}
}

func (p *Program) validate() error {
	if len(p.Command) == 0 {
		return &ValidationError{Program: p.Name, Field: "command", Reason: "must not be empty"}
	}
	if p.NumProcs < 1 {
		return &ValidationError{Program: p.Name, Field: "numprocs", Reason: "must be a positive integer"}
	}
	if *p.StartTime < 0 {
		return &ValidationError{Program: p.Name, Field: "starttime", Reason: "must be >= 0"}
	}
	if *p.StartRetries < 0 {
		return &ValidationError{Program: p.Name, Field: "startretries", Reason: "must be >= 0"}
	}
	if *p.StopTime < 0 {
		return &ValidationError{Program: p.Name, Field: "stoptime", Reason: "must be >= 0"}
	}
	switch p.AutoRestart {
	case RestartNever, RestartAlways, RestartUnexpected:
	default:
		return &ValidationError{Program: p.Name, Field: "autorestart", Reason: fmt.Sprintf("unknown policy %q", p.AutoRestart)}
	}
	if err := p.Stdout.validate(); err != nil {
		return &ValidationError{Program: p.Name, Field: "stdout", Reason: err.Error()}
	}
	if err := p.Stderr.validate(); err != nil {
		return &ValidationError{Program: p.Name, Field: "stderr", Reason: err.Error()}
	}
	if p.Stdout.Kind == StreamCombined {
		return &ValidationError{Program: p.Name, Field: "stdout", Reason: "only stderr may be combined with stdout"}
	}
	if p.Stderr.Kind == StreamCombined && p.Stdout.Kind != StreamFile {
		return &ValidationError{Program: p.Name, Field: "stderr", Reason: "combined stderr requires a file stdout sink"}
	}
	return nil
}

// Expected reports whether an exit code is in the program's expected set.
func (p *Program) Expected(code int) bool {
	for _, c := range p.ExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Autostart reports whether the program starts on load.
func (p *Program) Autostart() bool {
	return p.AutoStart != nil && *p.AutoStart
}

// StartGrace is the duration a worker must stay alive after spawn to be
// considered successfully started.
func (p *Program) StartGrace() time.Duration {
	return time.Duration(*p.StartTime) * time.Second
}

// StopGrace is the interval between the stop signal and forced SIGKILL.
func (p *Program) StopGrace() time.Duration {
	return time.Duration(*p.StopTime) * time.Second
}

// MaxStartRetries is the number of consecutive failed starts tolerated
// before the worker goes fatal.
func (p *Program) MaxStartRetries() int {
	return *p.StartRetries
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
