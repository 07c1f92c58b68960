package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"deltaup/internal/delta"
	"deltaup/internal/fsutil"
	"deltaup/internal/manifest"
	"deltaup/internal/update"
)

type inspectOptions struct {
	style  string
	width  int
	verify bool
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect PACKAGE",
		Short: "Show the manifest of a package archive or staging directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(root, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.style, "style", "dark", "release notes style (dark, light, notty, plain)")
	f.IntVar(&opts.width, "width", 80, "wrap width of the release notes")
	f.BoolVar(&opts.verify, "verify", false, "check every entry against its md5")
	return cmd
}

func runInspect(root *rootOptions, opts *inspectOptions, pkg string) error {
	dir := pkg
	if !fsutil.IsDir(pkg) {
		tmp, err := os.MkdirTemp("", "deltaup-inspect-*")
		if err != nil {
			return fmt.Errorf("create staging directory: %w", err)
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		if err := update.Extract(pkg, tmp); err != nil {
			return fmt.Errorf("extract %s: %w", pkg, err)
		}
		dir = tmp
	}

	m, err := manifest.Read(dir)
	if err != nil {
		return err
	}
	renderManifest(root.stdout, m, markdownRenderer(opts.style, opts.width))

	if !opts.verify {
		return nil
	}
	failed := 0
	for _, e := range m.Files {
		if e.MD5 == "" {
			continue
		}
		blob := manifest.Join(dir, e.Path)
		if e.Patch {
			blob = manifest.Join(dir, e.PatchFile)
		}
		if err := delta.VerifyMD5(blob, e.MD5); err != nil {
			failed++
			_, _ = fmt.Fprintf(root.stdout, "%s %s: %v\n", errorStyle.Render("FAIL"), e.Path, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed verification", failed, len(m.Files))
	}
	_, _ = fmt.Fprintln(root.stdout, successStyle.Render("all entries verified"))
	return nil
}

func renderManifest(w io.Writer, m *manifest.Manifest, render func(string) string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", titleStyle.Render("version "+m.Version), dimStyle.Render(modeLabel(m)))
	_, _ = fmt.Fprintf(w, "%s %s\n", dimStyle.Render("packaged"), m.PackageTime)
	if strings.TrimSpace(m.Description) != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", render(m.Description))
	}
	_, _ = fmt.Fprintln(w)

	patches, copies := countEntries(m)
	_, _ = fmt.Fprintln(w, textStyle.Render(fmt.Sprintf("%d entries: %d patched, %d copied", len(m.Files), patches, copies)))
	for _, e := range m.Files {
		action := "copy "
		if e.Patch {
			action = "patch"
		}
		line := fmt.Sprintf("  %s %s", action, e.Path)
		if e.MD5 != "" {
			line += " " + dimStyle.Render(e.MD5)
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
