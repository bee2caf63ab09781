package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "TASKMASTER_"

// Options holds the supervisor's own settings, distinct from the program
// configuration the -f flag points at. Values are bound with precedence
// CLI args > TASKMASTER_* env vars > TOML settings file.
type Options struct {
	Settings string `help:"Path to supervisor settings file" default:"taskmaster.toml"`

	// Logging settings
	LoggingLevel  string `help:"Log level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Log format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingFile   string `help:"Rotating log file (empty logs to stderr)" default:"" toml:"logging.file" env:"LOGGING_FILE"`

	// Observability settings
	MetricsAddr string `help:"Prometheus listener address (empty disables)" default:"" toml:"metrics.addr" env:"METRICS_ADDR"`

	// Reload settings
	Watch bool `help:"Reload automatically when the config file changes" default:"true" toml:"reload.watch" env:"WATCH"`
}

// binding ties one settings field to the places a value for it may come
// from. The set of bindings is derived from the Options struct tags, so
// adding a field needs nothing beyond its tags.
type binding struct {
	field    reflect.Value
	flagName string
	tomlPath string
	envKey   string
}

// LoadSettings resolves every tagged field of opts: a flag the user set
// on the command line is final; otherwise the TASKMASTER_* environment
// wins over the TOML settings file, and an untouched field keeps its
// flag default. Each field is assigned at most once, from whichever
// source won.
func LoadSettings(opts any, cmd *cobra.Command) error {
	bindings, settingsPath := bindingsOf(opts)

	fileValues, err := settingsFileValues(settingsPath)
	if err != nil {
		return err
	}
	locked := lockedFlags(cmd)

	for _, b := range bindings {
		if locked[b.flagName] {
			continue
		}
		if raw := os.Getenv(envPrefix + b.envKey); b.envKey != "" && raw != "" {
			assignString(b.field, raw)
			continue
		}
		if v, ok := fileValues[b.tomlPath]; ok && b.tomlPath != "" {
			assign(b.field, v)
		}
	}
	return nil
}

// bindingsOf walks the options struct once, collecting a binding per
// tagged field and the settings-file path from the Settings field.
func bindingsOf(opts any) ([]binding, string) {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	var bindings []binding
	var settingsPath string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "Settings" {
			settingsPath = v.Field(i).String()
			continue
		}
		bindings = append(bindings, binding{
			field:    v.Field(i),
			flagName: flagNameFor(f.Name),
			tomlPath: f.Tag.Get("toml"),
			envKey:   f.Tag.Get("env"),
		})
	}
	return bindings, settingsPath
}

// lockedFlags returns the flags the user set explicitly on the command
// line; those never get overwritten by lower-precedence sources.
func lockedFlags(cmd *cobra.Command) map[string]bool {
	locked := make(map[string]bool)
	if cmd == nil {
		return locked
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		locked[f.Name] = true
	})
	return locked
}

// settingsFileValues reads the TOML settings file and flattens it into
// dotted paths ("logging.level"). A missing file is not an error, the
// settings file is optional.
func settingsFileValues(path string) (map[string]any, error) {
	flat := make(map[string]any)
	if path == "" {
		return flat, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return flat, nil
	}
	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	flattenTree("", tree, flat)
	return flat, nil
}

func flattenTree(prefix string, tree map[string]any, out map[string]any) {
	for key, value := range tree {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if sub, ok := value.(map[string]any); ok {
			flattenTree(path, sub, out)
			continue
		}
		out[path] = value
	}
}

// flagNameFor derives the CLI flag name for a settings field:
// upper-case boundaries become dashes ("LoggingLevel" -> "logging-level").
func flagNameFor(fieldName string) string {
	var b strings.Builder
	for i, r := range fieldName {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// assign stores a decoded TOML value into a settings field.
func assign(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		switch i := value.(type) {
		case int64:
			field.SetInt(i)
		case int:
			field.SetInt(int64(i))
		}
	}
}

// assignString stores an environment value, parsing it per field kind.
func assignString(field reflect.Value, raw string) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Int:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(i)
		}
	}
}
