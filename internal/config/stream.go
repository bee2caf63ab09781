package config

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// StreamKind selects how a child's stdout or stderr is bound.
type StreamKind int

// Sink kinds.
const (
	StreamDiscard StreamKind = iota // /dev/null
	StreamInherit                   // supervisor's own stream
	StreamFile                      // regular file
	StreamCombined                  // stderr duplexed onto the stdout sink
)

// StreamMode selects how a file sink is opened on each spawn.
type StreamMode string

// File open modes.
const (
	ModeTruncate StreamMode = "truncate"
	ModeAppend   StreamMode = "append"
)

// Stream is one stdout/stderr binding. In YAML it is the string
// "discard", "inherit", or "stdout" (stderr only, meaning combined), or
// a mapping {path, mode}.
type Stream struct {
	Kind StreamKind
	Path string
	Mode StreamMode
}

// UnmarshalYAML accepts the scalar and mapping forms.
func (s *Stream) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var word string
		if err := node.Decode(&word); err != nil {
			return err
		}
		switch word {
		case "discard":
			*s = Stream{Kind: StreamDiscard}
		case "inherit":
			*s = Stream{Kind: StreamInherit}
		case "stdout":
			*s = Stream{Kind: StreamCombined}
		default:
			return fmt.Errorf("unknown sink %q (want discard, inherit, stdout, or {path, mode})", word)
		}
		return nil
	case yaml.MappingNode:
		var raw struct {
			Path string     `yaml:"path"`
			Mode StreamMode `yaml:"mode"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		if raw.Mode == "" {
			raw.Mode = ModeAppend
		}
		*s = Stream{Kind: StreamFile, Path: raw.Path, Mode: raw.Mode}
		return nil
	default:
		return fmt.Errorf("sink must be a string or a {path, mode} mapping")
	}
}

func (s *Stream) validate() error {
	switch s.Kind {
	case StreamFile:
		if s.Path == "" {
			return fmt.Errorf("file sink requires a path")
		}
		if s.Mode != ModeTruncate && s.Mode != ModeAppend {
			return fmt.Errorf("unknown mode %q (want truncate or append)", s.Mode)
		}
	case StreamDiscard, StreamInherit, StreamCombined:
	default:
		return fmt.Errorf("unknown sink kind")
	}
	return nil
}

func (s Stream) String() string {
	switch s.Kind {
	case StreamDiscard:
		return "discard"
	case StreamInherit:
		return "inherit"
	case StreamCombined:
		return "stdout"
	default:
		return fmt.Sprintf("%s(%s)", s.Mode, s.Path)
	}
}

// Umask is an octal creation mask. The YAML scalar is always read in
// base 8, so `umask: "022"` and `umask: 0o22` mean the same mask.
type Umask uint32

// UnmarshalYAML parses the raw scalar as octal.
func (u *Umask) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("umask must be an octal scalar")
	}
	raw := node.Value
	if len(raw) > 1 && (raw[0:2] == "0o" || raw[0:2] == "0O") {
		raw = raw[2:]
	}
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return fmt.Errorf("invalid umask %q: %w", node.Value, err)
	}
	*u = Umask(v)
	return nil
}

func (u Umask) String() string {
	return fmt.Sprintf("%03o", uint32(u))
}
