// Package control implements the interactive control plane: a
// line-oriented REPL on the controlling terminal that posts commands to
// the supervisor core and prints the replies.
package control

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/smazurov/taskmaster/internal/supervisor"
)

const usage = `commands:
  status [name]    show worker states
  start <name>     start all replicas of a program (or "all")
  stop <name>      stop all replicas of a program (or "all")
  restart <name>   stop, then start again
  reload           re-read the configuration file
  help             show this help
  exit | quit      stop everything and leave`

// Poster is the slice of the supervisor core the REPL needs.
type Poster interface {
	Post(kind supervisor.CommandKind, name string) supervisor.Result
}

// REPL reads commands line by line and relays them to the core. The
// input is an interface so tests can script a session.
type REPL struct {
	core   Poster
	in     io.Reader
	out    io.Writer
	prompt string
	logger *slog.Logger
}

// New creates a REPL reading from in and writing to out.
func New(core Poster, in io.Reader, out io.Writer, logger *slog.Logger) *REPL {
	return &REPL{
		core:   core,
		in:     in,
		out:    out,
		prompt: "taskmaster> ",
		logger: logger,
	}
}

// Run loops until exit/quit or EOF. Both post a shutdown command and
// return once the core confirms every worker is down.
func (r *REPL) Run() {
	fmt.Fprintln(r.out, `taskmaster control shell, type "help" for commands`)
	scanner := bufio.NewScanner(r.in)

	for {
		fmt.Fprint(r.out, r.prompt)
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			r.shutdown("eof")
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if done := r.handle(line); done {
			return
		}
	}
}

// handle dispatches one line; it reports true when the session is over.
func (r *REPL) handle(line string) bool {
	fields := strings.Fields(line)
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "status":
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		r.print(r.core.Post(supervisor.CmdStatus, name))

	case "start", "stop", "restart":
		if len(args) != 1 {
			fmt.Fprintf(r.out, "usage: %s <name>\n", verb)
			return false
		}
		kinds := map[string]supervisor.CommandKind{
			"start":   supervisor.CmdStart,
			"stop":    supervisor.CmdStop,
			"restart": supervisor.CmdRestart,
		}
		r.print(r.core.Post(kinds[verb], args[0]))

	case "reload":
		r.print(r.core.Post(supervisor.CmdReload, ""))

	case "help":
		fmt.Fprintln(r.out, usage)

	case "exit", "quit":
		r.shutdown(verb)
		return true

	default:
		fmt.Fprintf(r.out, "unknown command %q, type \"help\" for commands\n", verb)
	}
	return false
}

func (r *REPL) shutdown(why string) {
	r.logger.Info("Control shell closing", "reason", why)
	res := r.core.Post(supervisor.CmdShutdown, "")
	if res.Text != "" {
		fmt.Fprintln(r.out, res.Text)
	}
}

func (r *REPL) print(res supervisor.Result) {
	if res.Err != nil {
		fmt.Fprintf(r.out, "error: %v\n", res.Err)
		return
	}
	if res.Text != "" {
		fmt.Fprintln(r.out, res.Text)
	}
}
