// Package update discovers published versions and brings an installation up
// to date with them.
//
// This package handles:
//   - Comparing dotted numeric versions
//   - Scraping a file server listing (HTML index or JSON) for versions
//   - Downloading update packages with progress reporting
//   - Sequencing fetch, extract and apply for every pending version
//
// The package is designed to be isolated from UI concerns. Progress and log
// lines go to an EventSink that the UI implements however it wants.
//
// Example usage:
//
//	store, err := config.Open()
//	if err != nil {
//	    // handle error
//	}
//	u := update.NewUpdater(store, update.WithSink(sink))
//	res, err := u.Run(ctx)
//	if err != nil {
//	    // res.ExitCode tells discovery and fetch failures apart
//	}
package update
