package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"deltaup/internal/builder"
	"deltaup/internal/config"
	"deltaup/internal/debug"
	"deltaup/internal/manifest"
	"deltaup/internal/update"
)

type buildOptions struct {
	outDir      string
	name        string
	version     string
	description string
	full        bool
	ignore      []string
	concurrency int
	stagingDir  string
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build OLD_DIR NEW_DIR",
		Short: "Diff two release trees into an update package",
		Long: `Build compares OLD_DIR with NEW_DIR and writes the package of the new
version to OUT/<name><version>/<name><version>.zip, ready to be served.

Files changed between the trees are shipped as binary deltas, files and
directories only present in NEW_DIR are shipped verbatim. Files only present
in OLD_DIR are left alone on the clients.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, root, opts, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.outDir, "out", "o", ".", "directory the package is published to")
	f.StringVarP(&opts.name, "name", "n", "", "program name prefixing package names (required)")
	f.StringVar(&opts.version, "version", "", "version of NEW_DIR (required)")
	f.StringVarP(&opts.description, "description", "d", "", "release notes (markdown)")
	f.BoolVar(&opts.full, "full", false, "mark the package as a full update that wipes the installation first")
	f.StringSliceVar(&opts.ignore, "ignore", nil, "names skipped at every level, added to the updater's own files")
	f.IntVar(&opts.concurrency, "concurrency", 0, "deltas computed in parallel (default: GOMAXPROCS)")
	f.StringVar(&opts.stagingDir, "staging", "", "keep the unpacked package in this directory")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func runBuild(cmd *cobra.Command, root *rootOptions, opts *buildOptions, oldDir, newDir string) error {
	if _, err := update.ParseVersion(opts.version); err != nil {
		return err
	}
	if root.verbose {
		debug.SetEcho(root.stderr)
		defer debug.SetEcho(nil)
	}

	staging := opts.stagingDir
	if staging == "" {
		tmp, err := os.MkdirTemp("", "deltaup-build-*")
		if err != nil {
			return fmt.Errorf("create staging directory: %w", err)
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		staging = tmp
	}

	ignore := append(append([]string{}, config.DefaultIgnore...), opts.ignore...)
	ts := time.Now()
	buildOpts := []builder.Option{
		builder.WithIgnore(ignore...),
		builder.WithVersion(opts.version),
		builder.WithDescription(opts.description),
		builder.WithIncremental(!opts.full),
		builder.WithTimestamp(ts),
		builder.WithLogger(debug.Logf),
	}
	if opts.concurrency > 0 {
		buildOpts = append(buildOpts, builder.WithConcurrency(opts.concurrency))
	}

	m, err := builder.Build(cmd.Context(), oldDir, newDir, staging, buildOpts...)
	if err != nil {
		return fmt.Errorf("build %s: %w", opts.version, err)
	}
	archive, err := builder.Pack(staging, opts.outDir, opts.name, opts.version, ts)
	if err != nil {
		return fmt.Errorf("pack %s: %w", opts.version, err)
	}

	patches, copies := countEntries(m)
	_, _ = fmt.Fprintf(root.stdout, "%s %s\n", titleStyle.Render(builder.PackageName(opts.name, opts.version)), dimStyle.Render(modeLabel(m)))
	_, _ = fmt.Fprintf(root.stdout, "  %d entries: %d patched, %d copied\n", len(m.Files), patches, copies)
	_, _ = fmt.Fprintf(root.stdout, "  %s\n", archive)
	return nil
}

func countEntries(m *manifest.Manifest) (patches, copies int) {
	for _, e := range m.Files {
		if e.Patch {
			patches++
		} else {
			copies++
		}
	}
	return patches, copies
}

func modeLabel(m *manifest.Manifest) string {
	if m.IncUpdateFlag {
		return "incremental"
	}
	return "full"
}
