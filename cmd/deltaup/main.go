package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"deltaup/internal/config"
	appErrors "deltaup/internal/errors"
	"deltaup/internal/history"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// rootOptions carries the global flags and output streams to subcommands.
type rootOptions struct {
	configPath string
	verbose    bool
	stdout     io.Writer
	stderr     io.Writer
}

// exitError ends the process with code after the message has been printed.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return int(appErrors.ExitCodeOf(err))
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "deltaup",
		Short: "Build and apply delta update packages",
		Long: `deltaup keeps an installed application tree up to date with binary deltas.

The builder side diffs two releases of the tree into a versioned package that
is published on a plain file server. The client side lists the versions on
that server and merges every newer package into the local installation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "settings file (default: "+config.FileName+" in the working directory or a parent)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "echo log lines to stderr")

	root.AddCommand(
		newBuildCmd(opts),
		newInspectCmd(opts),
		newVersionsCmd(opts),
		newUpdateCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// openStore opens the settings file named by --config, or looks it up from
// the working directory.
func (o *rootOptions) openStore() (*config.Store, error) {
	if o.configPath != "" {
		return config.Open(config.WithConfigFile(o.configPath))
	}
	return config.Open()
}

// historyPath places the journal next to the update log, a location full
// updates never wipe.
func historyPath(inst config.Installation) string {
	return filepath.Join(filepath.Dir(inst.LogPath), history.FileName)
}
