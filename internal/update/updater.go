package update

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"deltaup/internal/config"
	"deltaup/internal/debug"
	appErrors "deltaup/internal/errors"
	"deltaup/internal/manifest"
	"deltaup/internal/patch"
	"deltaup/internal/process"
)

// Settings is the installation state the updater reads and advances.
// Writes must be visible to the next Installation call.
type Settings interface {
	Installation() (config.Installation, error)
	SetVersion(version string) error
	SetExitCode(code int) error
}

// Applier merges one extracted package into the installation.
type Applier interface {
	Apply(ctx context.Context, installRoot string, ignore []string, m *manifest.Manifest, stagingDir string) error
	LastApplied() string
}

// Journal records each version attempt.
type Journal interface {
	Begin(ctx context.Context, version string) (int64, error)
	Finish(ctx context.Context, id int64, lastEntry string, cause error) error
}

// Status summarizes a run.
type Status int

const (
	StatusFailed Status = iota
	StatusUpToDate
	StatusUpdated
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusUpToDate:
		return "up-to-date"
	case StatusUpdated:
		return "updated"
	default:
		return "failed"
	}
}

// Result describes what a run did.
type Result struct {
	Status   Status
	Current  string   // version installed when the run started
	Pending  []string // versions newer than Current, in application order
	Applied  []string
	ExitCode appErrors.ExitCode
}

// Updater sequences discovery, download and apply for every pending version.
// Runs are strictly sequential; an Updater is not safe for concurrent use.
type Updater struct {
	settings   Settings
	sink       EventSink
	stopper    process.Stopper
	journal    Journal
	applier    Applier
	fetcher    *Fetcher
	httpClient *http.Client
	strategy   DiscoveryStrategy
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithSink sets the receiver of run events.
func WithSink(sink EventSink) UpdaterOption {
	return func(u *Updater) {
		u.sink = sink
	}
}

// WithStopper sets how the application is stopped before applying.
func WithStopper(s process.Stopper) UpdaterOption {
	return func(u *Updater) {
		u.stopper = s
	}
}

// WithJournal records attempts in j.
func WithJournal(j Journal) UpdaterOption {
	return func(u *Updater) {
		u.journal = j
	}
}

// WithApplier replaces the default patch applier.
func WithApplier(a Applier) UpdaterOption {
	return func(u *Updater) {
		u.applier = a
	}
}

// WithUpdaterHTTPClient sets the HTTP client used for discovery and downloads.
func WithUpdaterHTTPClient(client *http.Client) UpdaterOption {
	return func(u *Updater) {
		u.httpClient = client
	}
}

// WithDiscoveryStrategy sets how the server listing is parsed.
func WithDiscoveryStrategy(s DiscoveryStrategy) UpdaterOption {
	return func(u *Updater) {
		u.strategy = s
	}
}

// NewUpdater creates an updater for the installation described by settings.
func NewUpdater(settings Settings, opts ...UpdaterOption) *Updater {
	u := &Updater{
		settings: settings,
		sink:     NopSink{},
		strategy: HTMLListing{},
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.applier == nil {
		u.applier = patch.New(patch.WithLogger(u.logf))
	}
	if u.httpClient != nil {
		u.fetcher = NewFetcher(WithFetcherHTTPClient(u.httpClient))
	} else {
		u.fetcher = NewFetcher()
	}
	return u
}

// Run brings the installation up to date. The result code is persisted and
// the sink receives Completed in every case. Cancellation is honoured between
// versions only.
func (u *Updater) Run(ctx context.Context) (Result, error) {
	res, err := u.run(ctx)
	res.ExitCode = appErrors.ExitCodeOf(err)
	if err != nil {
		res.Status = StatusFailed
		u.logf("update failed (%s): %v", appErrors.KindOf(err), err)
	}
	if serr := u.settings.SetExitCode(int(res.ExitCode)); serr != nil {
		u.logf("record exit code %d: %v", res.ExitCode, serr)
	}
	u.sink.Completed(err == nil)
	return res, err
}

func (u *Updater) run(ctx context.Context) (Result, error) {
	inst, err := u.settings.Installation()
	if err != nil {
		return Result{}, err
	}
	res := Result{Current: inst.Version}
	u.sink.CurrentVersion(inst.Version)
	u.logf("current version: %s", inst.Version)

	u.logf("loading file server %s", inst.ServerURL)
	locator := u.locator(inst)
	versions, err := locator.Discover(ctx)
	if err != nil {
		return res, err
	}
	pending, err := Newer(versions, inst.Version)
	if err != nil {
		return res, err
	}
	res.Pending = pending
	u.logf("update list: %v", pending)

	if len(pending) == 0 {
		u.logf("no new version")
		res.Status = StatusUpToDate
		return res, nil
	}
	u.sink.NewestVersion(newest(pending))
	u.logf("newest version: %s", newest(pending))

	if u.stopper != nil && inst.Application != "" {
		if err := u.stopper.Stop(ctx, inst.Application); err != nil {
			return res, fmt.Errorf("stop application: %w", err)
		}
		u.logf("stopped %s", inst.Application)
	}

	for _, v := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// Paths may change between versions if a package ships new settings.
		if inst, err = u.settings.Installation(); err != nil {
			return res, err
		}
		if err := u.applyVersion(ctx, inst, locator, v); err != nil {
			return res, err
		}
		res.Applied = append(res.Applied, v)
	}
	res.Status = StatusUpdated
	return res, nil
}

func (u *Updater) locator(inst config.Installation) *Locator {
	opts := []LocatorOption{WithStrategy(u.strategy), WithLocatorLogger(u.logf)}
	if u.httpClient != nil {
		opts = append(opts, WithHTTPClient(u.httpClient))
	}
	return NewLocator(inst.ServerURL, inst.ProgramName, opts...)
}

// applyVersion owns the archive and staging directory of one version and
// removes both on every path.
func (u *Updater) applyVersion(ctx context.Context, inst config.Installation, locator *Locator, version string) (err error) {
	name := inst.ProgramName + version
	lastEntry := ""
	archive := filepath.Join(inst.StagingDir, name+".zip")
	staging := filepath.Join(inst.StagingDir, name)
	defer func() {
		_ = os.RemoveAll(staging)
		_ = os.Remove(archive)
		// Only succeeds once empty, leaving unrelated content alone.
		_ = os.Remove(inst.StagingDir)
	}()

	if u.journal != nil {
		id, jerr := u.journal.Begin(ctx, version)
		if jerr != nil {
			u.logf("history: %v", jerr)
		} else {
			defer func() {
				// The attempt is recorded even when ctx is already cancelled.
				if ferr := u.journal.Finish(context.WithoutCancel(ctx), id, lastEntry, err); ferr != nil {
					u.logf("history: %v", ferr)
				}
			}()
		}
	}

	u.logf("fetching package %s", version)
	// Fetch and apply run to completion once started.
	work := context.WithoutCancel(ctx)
	if err := u.fetcher.Fetch(work, locator.PackageURL(version), archive, ProgressFunc(u.sink.Progress)); err != nil {
		return err
	}

	u.logf("merging package %s", version)
	if err := os.RemoveAll(staging); err != nil {
		return appErrors.New(appErrors.CodeFilesystem, fmt.Sprintf("clear %s: %v", staging, err), err)
	}
	if err := Extract(archive, staging); err != nil {
		return appErrors.New(appErrors.CodePatchApply, fmt.Sprintf("extract %s: %v", filepath.Base(archive), err), err)
	}
	m, err := manifest.Read(staging)
	if err != nil {
		return appErrors.New(appErrors.CodePatchApply, fmt.Sprintf("package %s: %v", version, err), err)
	}
	u.logf("version %s: %q packaged %s, %d entries, incremental=%t",
		version, m.Description, m.PackageTime, len(m.Files), m.IncUpdateFlag)
	installed := installedVersion(version, m.Version)
	if installed != version {
		u.logf("package %s declares version %s", version, installed)
	}

	// The staging root may live inside the installation under any name.
	ignore := append(append([]string{}, inst.Ignore...), inst.StagingDir)
	err = u.applier.Apply(work, inst.Root, ignore, m, staging)
	lastEntry = u.applier.LastApplied()
	if err != nil {
		if lastEntry != "" {
			u.logf("last applied entry: %s", lastEntry)
		}
		return err
	}
	if err := u.settings.SetVersion(installed); err != nil {
		return err
	}
	u.logf("version %s updated", installed)
	return nil
}

func (u *Updater) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	debug.Log(line)
	u.sink.Log(line)
}

// installedVersion is the version a package brings the installation to: the
// manifest's own version, or the listed one when the manifest has none or
// carries one that cannot be compared.
func installedVersion(listed, declared string) string {
	if declared == "" {
		return listed
	}
	if _, err := ParseVersion(declared); err != nil {
		return listed
	}
	return declared
}

// newest returns the greatest of the pending versions.
func newest(pending []string) string {
	best := pending[0]
	for _, v := range pending[1:] {
		if o, err := Compare(v, best); err == nil && o == Greater {
			best = v
		}
	}
	return best
}
