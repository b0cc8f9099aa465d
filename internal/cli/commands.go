// pattern: Imperative Shell
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dashing/internal/instance"
)

// Env is what commands read from and write to.
type Env struct {
	DataDir  string
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Discover func(dataDir string) (string, error) // instance.Discover when nil
}

// ResolveDataDir returns the data directory for lock/URL files.
// An explicit data_dir wins, then configDir, then ~/.config/dashing.
func ResolveDataDir(configDir, dataDir string) string {
	if dataDir != "" {
		return dataDir
	}
	if configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "dashing")
	}
	return filepath.Join(home, ".config", "dashing")
}

// BuildApp creates and configures the CLI application with all commands.
func BuildApp(version string, env Env) *App {
	if env.Discover == nil {
		env.Discover = instance.Discover
	}
	app := NewApp(version, env.Stderr)

	app.AddCommand(&Command{
		Name:             "publish",
		Summary:          "Send a JSON payload to a widget",
		Usage:            "Usage: dashing publish <widget-id> [json]\n\nReads the payload from stdin when json is omitted or \"-\".",
		RequiresInstance: true,
		Run: func(args []string) error {
			return runPublishCommand(env, args)
		},
	})

	app.AddCommand(&Command{
		Name:             "history",
		Summary:          "Print the latest payload of every widget as JSON",
		Usage:            "Usage: dashing history",
		RequiresInstance: true,
		Run: func(args []string) error {
			return runFetchCommand(env, (*instance.Client).History)
		},
	})

	app.AddCommand(&Command{
		Name:             "stats",
		Summary:          "Print subscriber and broadcast counters as JSON",
		Usage:            "Usage: dashing stats",
		RequiresInstance: true,
		Run: func(args []string) error {
			return runFetchCommand(env, (*instance.Client).Stats)
		},
	})

	app.AddCommand(&Command{
		Name:    "cleanup",
		Summary: "Remove stale lock/URL files from a crashed instance",
		Usage:   "Usage: dashing cleanup",
		Run: func(args []string) error {
			return runCleanupCommand(env)
		},
	})

	app.AddCommand(&Command{
		Name:    "version",
		Summary: "Print version and exit",
		Usage:   "Usage: dashing version",
		Run: func(args []string) error {
			fmt.Fprintln(env.Stdout, version)
			return nil
		},
	})

	return app
}

// runPublishCommand posts a payload to the running instance.
func runPublishCommand(env Env, args []string) error {
	if len(args) < 1 || len(args) > 2 || args[0] == "" {
		return fmt.Errorf("%w: publish needs a widget id", ErrUsage)
	}

	var payload []byte
	if len(args) == 2 && args[1] != "-" {
		payload = []byte(args[1])
	} else {
		data, err := io.ReadAll(env.Stdin)
		if err != nil {
			return fmt.Errorf("reading payload from stdin: %w", err)
		}
		payload = data
	}

	baseURL, err := env.Discover(env.DataDir)
	if err != nil {
		return err
	}
	return instance.NewClient(baseURL).Publish(args[0], payload)
}

// runFetchCommand delegates a read to the running instance via HTTP and
// copies the JSON response to stdout.
func runFetchCommand(env Env, fetch func(*instance.Client) ([]byte, error)) error {
	baseURL, err := env.Discover(env.DataDir)
	if err != nil {
		return err
	}

	data, err := fetch(instance.NewClient(baseURL))
	if err != nil {
		return err
	}

	_, err = env.Stdout.Write(data)
	return err
}

// runCleanupCommand removes stale lock and URL files from a crashed instance.
func runCleanupCommand(env Env) error {
	if err := instance.RemoveStale(env.DataDir); err != nil {
		return err
	}
	fmt.Fprintln(env.Stdout, "Cleaned up stale lock and URL files.")
	return nil
}
