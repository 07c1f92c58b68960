package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"deltaup/internal/config"
	"deltaup/internal/debug"
	appErrors "deltaup/internal/errors"
	"deltaup/internal/history"
	"deltaup/internal/process"
	"deltaup/internal/update"
)

type updateOptions struct {
	listingOptions
	launch bool
	plain  bool
	noStop bool
}

func newUpdateCmd(root *rootOptions) *cobra.Command {
	opts := &updateOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply every newer published version to the installation",
		Long: `Update reads the installation settings, lists the versions published on the
update server and applies each newer package in turn. The installed version is
saved after every package, so an interrupted run resumes where it stopped.

The result code is written to update.exit_code: 0 success, 1 application
missing, 2 server listing failed, 3 package download failed, 4 other failures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), root, opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.launch, "launch", false, "start the application once the installation is up to date")
	f.BoolVar(&opts.plain, "plain", false, "print plain log lines instead of the interactive display")
	f.BoolVar(&opts.noStop, "no-stop", false, "do not stop the running application before applying")
	opts.register(cmd)
	return cmd
}

func runUpdate(ctx context.Context, root *rootOptions, opts *updateOptions) error {
	store, err := root.openStore()
	if err != nil {
		return err
	}
	inst, err := store.Installation()
	if err != nil {
		return err
	}

	if err := debug.Init(inst.LogPath); err != nil {
		_, _ = fmt.Fprintf(root.stderr, "Warning: %v\n", err)
	}
	defer debug.Close()
	if root.verbose {
		debug.SetEcho(root.stderr)
		defer debug.SetEcho(nil)
	}

	updaterOpts := []update.UpdaterOption{update.WithDiscoveryStrategy(opts.strategy())}
	if !opts.noStop {
		updaterOpts = append(updaterOpts, update.WithStopper(process.NewKiller()))
	}
	journal, err := history.Open(ctx, historyPath(inst))
	if err != nil {
		debug.Logf("history disabled: %v", err)
	} else {
		defer func() { _ = journal.Close() }()
		updaterOpts = append(updaterOpts, update.WithJournal(journal))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var display *UpdateDisplay
	if opts.plain || !isTerminal(root.stdout) {
		updaterOpts = append(updaterOpts, update.WithSink(newLineSink(root.stdout)))
	} else {
		display = NewUpdateDisplay(root.stdout, cancel)
		updaterOpts = append(updaterOpts, update.WithSink(display))
	}

	res, runErr := update.NewUpdater(store, updaterOpts...).Run(runCtx)
	if display != nil {
		display.Stop()
	}
	printResult(root.stdout, res)
	if runErr != nil {
		return exitError{code: int(res.ExitCode), err: runErr}
	}

	if opts.launch {
		return launchApplication(store, inst)
	}
	return nil
}

// launchApplication starts the updated application. A missing executable is
// recorded as the run's result.
func launchApplication(store *config.Store, inst config.Installation) error {
	if inst.Application == "" {
		return fmt.Errorf("%s is not set", config.KeyApplication)
	}
	target := filepath.Join(inst.Root, filepath.FromSlash(inst.Application))
	err := process.Launch(target, inst.Root)
	if err == nil {
		debug.Logf("launched %s", target)
		return nil
	}
	if errors.Is(err, process.ErrNotFound) {
		err = appErrors.New(appErrors.CodeTargetMissing, fmt.Sprintf("application %s not found", target), err)
	}
	return recordFailure(store, err)
}

// recordFailure persists the exit code of err and returns it as the process
// result.
func recordFailure(store *config.Store, err error) error {
	code := appErrors.ExitCodeOf(err)
	if serr := store.SetExitCode(int(code)); serr != nil {
		debug.Logf("record exit code %d: %v", code, serr)
	}
	debug.Logf("%v", err)
	return exitError{code: int(code), err: err}
}

func printResult(w io.Writer, res update.Result) {
	switch res.Status {
	case update.StatusUpToDate:
		_, _ = fmt.Fprintf(w, "%s %s\n", successStyle.Render("up to date"), dimStyle.Render(res.Current))
	case update.StatusUpdated:
		_, _ = fmt.Fprintf(w, "%s %s\n", successStyle.Render("updated"),
			dimStyle.Render(fmt.Sprintf("%s → %s", res.Current, res.Applied[len(res.Applied)-1])))
	default:
		msg := fmt.Sprintf("failed (exit code %d)", res.ExitCode)
		if len(res.Applied) > 0 {
			msg += fmt.Sprintf(", applied %v", res.Applied)
		}
		_, _ = fmt.Fprintln(w, errorStyle.Render(msg))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
