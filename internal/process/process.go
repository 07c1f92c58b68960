// Package process stops the maintained application before an update and
// starts it again afterwards.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotFound reports that the application to launch does not exist.
var ErrNotFound = errors.New("application not found")

// Stopper makes sure no instance of an application is running.
type Stopper interface {
	Stop(ctx context.Context, application string) error
}

// StopperFunc adapts a function to Stopper.
type StopperFunc func(ctx context.Context, application string) error

// Stop calls f.
func (f StopperFunc) Stop(ctx context.Context, application string) error {
	return f(ctx, application)
}

// Killer terminates every process whose image name matches the application's
// base name, with pkill on Unix and taskkill on Windows.
type Killer struct {
	goos    string
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewKiller creates a Killer for the running platform.
func NewKiller() *Killer {
	return &Killer{goos: runtime.GOOS, command: exec.CommandContext}
}

// Stop kills the application. Finding nothing to kill is not an error.
func (k *Killer) Stop(ctx context.Context, application string) error {
	name := filepath.Base(strings.TrimSpace(application))
	if name == "" || name == "." {
		return nil
	}

	cmd := k.command(ctx, k.program(), k.args(name)...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && k.noMatch(exitErr.ExitCode(), string(out)) {
		return nil
	}
	return fmt.Errorf("stop %s: %w: %s", name, err, strings.TrimSpace(string(out)))
}

func (k *Killer) program() string {
	if k.goos == "windows" {
		return "taskkill"
	}
	return "pkill"
}

func (k *Killer) args(name string) []string {
	if k.goos == "windows" {
		return []string{"/IM", name, "/F"}
	}
	return []string{"-x", name}
}

// noMatch recognises the "nothing running" results: pkill exits 1, taskkill
// exits 128 and prints a "not found" message.
func (k *Killer) noMatch(code int, output string) bool {
	if k.goos == "windows" {
		return code == 128 || strings.Contains(strings.ToLower(output), "not found")
	}
	return code == 1
}

// Launch starts path detached from the updater. dir becomes the working
// directory of the new process.
func Launch(path, dir string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	//nolint:gosec // G204: launching the configured application is the point
	cmd := exec.Command(path)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	return cmd.Process.Release()
}
