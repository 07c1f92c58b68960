package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"deltaup/internal/debug"
	"deltaup/internal/update"
)

type listingOptions struct {
	jsonListing bool
}

func (o *listingOptions) strategy() update.DiscoveryStrategy {
	if o.jsonListing {
		return update.JSONListing{}
	}
	return update.HTMLListing{}
}

func (o *listingOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.jsonListing, "json-listing", false, "the server answers with a JSON version list instead of an HTML index")
}

func newVersionsCmd(root *rootOptions) *cobra.Command {
	opts := &listingOptions{}
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the versions published on the update server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			inst, err := store.Installation()
			if err != nil {
				return err
			}
			if root.verbose {
				debug.SetEcho(root.stderr)
				defer debug.SetEcho(nil)
			}

			locator := update.NewLocator(inst.ServerURL, inst.ProgramName,
				update.WithStrategy(opts.strategy()), update.WithLocatorLogger(debug.Logf))
			versions, err := locator.Discover(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := update.Newer(versions, inst.Version)
			if err != nil {
				return err
			}
			printVersions(root.stdout, versions, inst.Version, len(pending))
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

// printVersions lists versions newest first. The leading pending entries
// are the ones an update would apply.
func printVersions(w io.Writer, versions []string, current string, pending int) {
	_, _ = fmt.Fprintf(w, "%s %s\n", dimStyle.Render("installed"), titleStyle.Render(current))
	if len(versions) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("no versions published"))
		return
	}
	for i, v := range versions {
		o, err := update.Compare(v, current)
		switch {
		case i < pending:
			_, _ = fmt.Fprintf(w, "  %s %s\n", successStyle.Render("*"), v)
		case err == nil && o == update.Equal:
			_, _ = fmt.Fprintf(w, "  %s %s\n", titleStyle.Render("="), v)
		default:
			_, _ = fmt.Fprintf(w, "    %s\n", dimStyle.Render(v))
		}
	}
	if pending == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("up to date"))
	} else {
		_, _ = fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d pending", pending)))
	}
}
