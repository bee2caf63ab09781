package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Command is a program's argv. In YAML it is either a list of strings or
// a single string that is tokenized shell-style (quotes and backslash
// escapes, no expansion).
type Command []string

// UnmarshalYAML accepts both the list and the string form.
func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return err
		}
		*c = argv
		return nil
	case yaml.ScalarNode:
		var line string
		if err := node.Decode(&line); err != nil {
			return err
		}
		argv, err := SplitCommand(line)
		if err != nil {
			return err
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("command must be a string or a list of strings")
	}
}

// Path returns the executable path (first argv element).
func (c Command) Path() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Args returns the arguments after the executable path.
func (c Command) Args() []string {
	if len(c) < 2 {
		return nil
	}
	return c[1:]
}

// String renders the argv for status output and logs.
func (c Command) String() string {
	return strings.Join(c, " ")
}

// SplitCommand tokenizes a command line into argv. Single and double
// quotes group words, a backslash escapes the next rune. There is no
// variable or glob expansion.
func SplitCommand(line string) ([]string, error) {
	var argv []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	hasToken := false

	runes := []rune(strings.TrimSpace(line))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
				hasToken = true
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if hasToken {
				argv = append(argv, current.String())
				current.Reset()
				hasToken = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			hasToken = true
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}
	if hasToken {
		argv = append(argv, current.String())
	}
	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	return argv, nil
}
