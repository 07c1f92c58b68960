// Package builder compares an old and a new application tree and produces the
// staging directory of an update package: a manifest plus the binary deltas
// and new files it references.
package builder

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"deltaup/internal/delta"
	"deltaup/internal/fsutil"
	"deltaup/internal/manifest"
)

// Option configures Build.
type Option func(*config)

type config struct {
	ignore      map[string]struct{}
	version     string
	description string
	incremental bool
	timestamp   time.Time
	concurrency int
	logf        func(format string, args ...any)
}

// WithIgnore skips entries with these base names at every directory level.
func WithIgnore(names ...string) Option {
	return func(c *config) {
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n != "" {
				c.ignore[n] = struct{}{}
			}
		}
	}
}

// WithVersion sets the version recorded in the manifest.
func WithVersion(v string) Option {
	return func(c *config) {
		c.version = v
	}
}

// WithDescription sets the manifest description.
func WithDescription(d string) Option {
	return func(c *config) {
		c.description = d
	}
}

// WithIncremental sets incUpdateFlag. Packages are incremental by default;
// a full package makes the client wipe the installation before copying, so
// it ignores oldRoot and ships every entry of newRoot.
func WithIncremental(inc bool) Option {
	return func(c *config) {
		c.incremental = inc
	}
}

// WithTimestamp sets a specific packaging time for deterministic output.
func WithTimestamp(t time.Time) Option {
	return func(c *config) {
		c.timestamp = t
	}
}

// WithConcurrency bounds the number of deltas computed in parallel.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// WithLogger routes progress lines to logf.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(c *config) {
		c.logf = logf
	}
}

// deltaJob computes the blob of one patch entry once the walk is done.
type deltaJob struct {
	index     int
	oldPath   string
	newPath   string
	patchPath string
}

type walker struct {
	ctx        context.Context
	cfg        *config
	oldRoot    string
	newRoot    string
	stagingDir string
	m          *manifest.Manifest
	jobs       []deltaJob
}

// Build diffs oldRoot against newRoot and fills stagingDir with the patch
// blobs, the copied new entries and the manifest file. The returned manifest
// lists entries in traversal order: per directory the changed files, then the
// entries only present in newRoot, then the common subdirectories, each group
// sorted by name.
func Build(ctx context.Context, oldRoot, newRoot, stagingDir string, opts ...Option) (*manifest.Manifest, error) {
	cfg := &config{
		ignore:      make(map[string]struct{}),
		incremental: true,
		timestamp:   time.Now(),
		concurrency: runtime.GOMAXPROCS(0),
		logf:        func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	for _, dir := range []string{oldRoot, newRoot} {
		if !fsutil.IsDir(dir) {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
	}
	//nolint:gosec // G301: staging directory is shipped publicly
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	m := manifest.New(cfg.version, cfg.description, cfg.timestamp)
	m.IncUpdateFlag = cfg.incremental

	cfg.logf("left base path: %s", oldRoot)
	cfg.logf("right base path: %s", newRoot)

	w := &walker{
		ctx:        ctx,
		cfg:        cfg,
		oldRoot:    oldRoot,
		newRoot:    newRoot,
		stagingDir: stagingDir,
		m:          m,
	}
	if err := w.walk("."); err != nil {
		return nil, err
	}
	if err := w.computeDeltas(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := manifest.Write(stagingDir, m); err != nil {
		return nil, err
	}
	return m, nil
}

type dirListing struct {
	names []string
	isDir map[string]bool
}

func (w *walker) list(root, rel string) (dirListing, error) {
	dir := filepath.Join(root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dirListing{}, fmt.Errorf("read dir %s: %w", dir, err)
	}
	l := dirListing{isDir: make(map[string]bool, len(entries))}
	for _, e := range entries {
		name := e.Name()
		if _, skip := w.cfg.ignore[name]; skip {
			continue
		}
		// Stat follows symlinks so a linked directory is compared as a directory.
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return dirListing{}, fmt.Errorf("stat %s: %w", filepath.Join(dir, name), err)
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		l.names = append(l.names, name)
		l.isDir[name] = info.IsDir()
	}
	// No need to sort; ReadDir returns entries already sorted by name.
	return l, nil
}

func (w *walker) walk(rel string) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	left := dirListing{isDir: map[string]bool{}}
	if w.cfg.incremental {
		var err error
		if left, err = w.list(w.oldRoot, rel); err != nil {
			return err
		}
	}
	right, err := w.list(w.newRoot, rel)
	if err != nil {
		return err
	}

	var differ, rightOnly, subdirs []string
	for _, name := range right.names {
		leftIsDir, inLeft := left.isDir[name]
		rightIsDir := right.isDir[name]
		switch {
		case !inLeft || leftIsDir != rightIsDir:
			rightOnly = append(rightOnly, name)
		case rightIsDir:
			subdirs = append(subdirs, name)
		default:
			same, err := delta.SameContent(w.oldPath(rel, name), w.newPath(rel, name))
			if err != nil {
				return fmt.Errorf("compare %s: %w", path.Join(rel, name), err)
			}
			if !same {
				differ = append(differ, name)
			}
		}
	}
	sort.Strings(differ)
	sort.Strings(rightOnly)
	sort.Strings(subdirs)

	staged := make(map[string]struct{}, len(differ)+len(rightOnly)+len(subdirs))
	for _, group := range [][]string{differ, rightOnly, subdirs} {
		for _, name := range group {
			staged[name] = struct{}{}
		}
	}

	for _, name := range differ {
		p := path.Join(rel, name)
		if _, clash := staged[name+manifest.PatchSuffix]; clash {
			return fmt.Errorf("delta for %s: %s%s is also shipped: %w",
				manifest.Rel(p), manifest.Rel(p), manifest.PatchSuffix, manifest.ErrBlobCollision)
		}
		w.cfg.logf("differ: %s", manifest.Rel(p))
		entry := manifest.FileEntry{
			Patch:     true,
			Path:      manifest.Rel(p),
			PatchFile: manifest.Rel(p + manifest.PatchSuffix),
		}
		w.jobs = append(w.jobs, deltaJob{
			index:     len(w.m.Files),
			oldPath:   w.oldPath(rel, name),
			newPath:   w.newPath(rel, name),
			patchPath: manifest.Join(w.stagingDir, entry.PatchFile),
		})
		w.m.Add(entry)
	}

	for _, name := range rightOnly {
		p := path.Join(rel, name)
		w.cfg.logf("only in right: %s", manifest.Rel(p))
		src := w.newPath(rel, name)
		dst := manifest.Join(w.stagingDir, p)
		entry := manifest.FileEntry{Path: manifest.Rel(p)}
		if right.isDir[name] {
			if err := fsutil.CopyTree(src, dst); err != nil {
				return fmt.Errorf("stage directory %s: %w", p, err)
			}
		} else {
			sum, err := delta.FileMD5(src)
			if err != nil {
				return fmt.Errorf("checksum %s: %w", p, err)
			}
			entry.MD5 = sum
			if err := fsutil.CopyFile(src, dst); err != nil {
				return fmt.Errorf("stage file %s: %w", p, err)
			}
		}
		w.m.Add(entry)
	}

	for _, name := range subdirs {
		if err := w.walk(path.Join(rel, name)); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) oldPath(rel, name string) string {
	return filepath.Join(w.oldRoot, filepath.FromSlash(rel), name)
}

func (w *walker) newPath(rel, name string) string {
	return filepath.Join(w.newRoot, filepath.FromSlash(rel), name)
}

// computeDeltas runs the bsdiff jobs on a bounded group. Each job only writes
// its own manifest slot, so the entry order never depends on scheduling.
func (w *walker) computeDeltas() error {
	g, ctx := errgroup.WithContext(w.ctx)
	g.SetLimit(w.cfg.concurrency)
	for _, job := range w.jobs {
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := delta.Diff(job.oldPath, job.newPath, job.patchPath); err != nil {
				return fmt.Errorf("delta for %s: %w", w.m.Files[job.index].Path, err)
			}
			sum, err := delta.FileMD5(job.patchPath)
			if err != nil {
				return fmt.Errorf("checksum patch for %s: %w", w.m.Files[job.index].Path, err)
			}
			w.m.Files[job.index].MD5 = sum
			return nil
		})
	}
	return g.Wait()
}
