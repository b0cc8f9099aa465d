// pattern: Functional Core
package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
)

// ErrUnknownCommand is returned by Execute for an unregistered command name.
var ErrUnknownCommand = errors.New("unknown command")

// ErrUsage is returned by commands called with the wrong arguments.
var ErrUsage = errors.New("invalid usage")

// serveCommand is the command that launches the server; it is also the
// default when no command is given.
const serveCommand = "serve"

// Command represents a single CLI command with its metadata and handler.
type Command struct {
	Name             string
	Summary          string
	Usage            string
	RequiresInstance bool
	Run              func(args []string) error
}

// App represents the top-level CLI application.
type App struct {
	commands map[string]*Command
	version  string
	stderr   io.Writer
}

// NewApp creates a new CLI application with the given version.
// Help and usage text go to stderr.
func NewApp(version string, stderr io.Writer) *App {
	return &App{
		commands: make(map[string]*Command),
		version:  version,
		stderr:   stderr,
	}
}

// AddCommand registers a command.
func (a *App) AddCommand(cmd *Command) {
	a.commands[cmd.Name] = cmd
}

// Execute dispatches the CLI arguments to the appropriate command.
// It returns serve=true when the server should be launched instead.
func (a *App) Execute(args []string) (serve bool, err error) {
	if len(args) == 0 {
		return true, nil
	}

	cmdName := args[0]
	if cmdName == "help" || cmdName == "--help" || cmdName == "-h" {
		a.PrintHelp(a.stderr)
		return false, nil
	}

	if cmdName == serveCommand {
		if hasHelpFlag(args[1:]) {
			fmt.Fprintf(a.stderr, "Usage: dashing serve\n")
			return false, nil
		}
		return true, nil
	}

	cmd, ok := a.commands[cmdName]
	if !ok {
		a.PrintHelp(a.stderr)
		return false, fmt.Errorf("%w: %q", ErrUnknownCommand, cmdName)
	}

	if hasHelpFlag(args[1:]) {
		fmt.Fprintf(a.stderr, "%s\n", cmd.Usage)
		return false, nil
	}

	if err := cmd.Run(args[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintf(a.stderr, "%s\n", cmd.Usage)
		}
		return false, err
	}
	return false, nil
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// PrintHelp prints the top-level help text.
func (a *App) PrintHelp(w io.Writer) {
	fmt.Fprintf(w, "Usage: dashing [options] [command]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  %-10s %s\n", serveCommand, "Run the dashboard event server (default)")

	names := slices.Sorted(maps.Keys(a.commands))
	for _, name := range names {
		cmd := a.commands[name]
		summary := cmd.Summary
		if cmd.RequiresInstance {
			summary += " (requires running instance)"
		}
		fmt.Fprintf(w, "  %-10s %s\n", cmd.Name, summary)
	}

	fmt.Fprintf(w, "\nUse \"dashing <command> --help\" for command details.\n\n")
	fmt.Fprintf(w, "Options:\n")
}
