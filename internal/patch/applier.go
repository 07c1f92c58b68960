// Package patch merges an extracted update package into a live installation.
package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	update "github.com/inconshreveable/go-update"

	"deltaup/internal/delta"
	"deltaup/internal/fsutil"
	"deltaup/internal/manifest"
)

var (
	ErrTargetMissing = errors.New("patch target does not exist")
	ErrTargetIsDir   = errors.New("patch target is a directory")
	ErrBlobMissing   = errors.New("package entry missing from staging directory")
	ErrMD5Missing    = errors.New("file entry has no md5")

	// ErrDeltaInFullUpdate reports a delta whose target the full-update wipe
	// would delete before it is patched.
	ErrDeltaInFullUpdate = errors.New("full update patches an unprotected file")
)

// Option configures an Applier.
type Option func(*Applier)

// WithLogger routes progress lines to logf.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(a *Applier) {
		a.logf = logf
	}
}

// Applier replays manifests against an installation. Entries are applied in
// order with no rollback: a failure leaves the entries before it in place.
// An Applier is not safe for concurrent use.
type Applier struct {
	logf        func(format string, args ...any)
	lastApplied string
}

// New creates an Applier.
func New(opts ...Option) *Applier {
	a := &Applier{logf: func(string, ...any) {}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LastApplied returns the path of the last entry the most recent Apply
// completed, or "" when none was.
func (a *Applier) LastApplied() string {
	return a.lastApplied
}

// Apply brings installRoot from the manifest's predecessor version to
// m.Version using the package extracted in stagingDir. Every checksum is
// verified before the installation is touched. A full package
// (incUpdateFlag false) first wipes installRoot except for the ignored
// entries. ctx is only consulted before the first mutation.
func (a *Applier) Apply(ctx context.Context, installRoot string, ignore []string, m *manifest.Manifest, stagingDir string) error {
	a.lastApplied = ""

	if err := m.Validate(); err != nil {
		return applyError(manifest.FileName, "", err)
	}
	root, err := filepath.Abs(installRoot)
	if err != nil {
		return filesystemError("resolve", installRoot, "", err)
	}
	protected := newIgnoreSet(root, ignore)
	if !m.IncUpdateFlag {
		for _, entry := range m.Files {
			if entry.Patch && !protected.covers(root, manifest.Join(root, entry.Path)) {
				return applyError(entry.Path, "", ErrDeltaInFullUpdate)
			}
		}
	}
	if err := a.verify(m, stagingDir); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !m.IncUpdateFlag {
		a.logf("full update: cleaning %s", root)
		if err := wipe(root, protected, a.logf); err != nil {
			return filesystemError("clean", root, "", err)
		}
	}

	for _, entry := range m.Files {
		if entry.Patch {
			if err := a.applyDelta(root, stagingDir, entry); err != nil {
				return err
			}
		} else {
			src := manifest.Join(stagingDir, entry.Path)
			dst := manifest.Join(root, entry.Path)
			if err := fsutil.Copy(src, dst); err != nil {
				return filesystemError("copy", entry.Path, a.lastApplied, err)
			}
			a.logf("copy: %s", entry.Path)
		}
		a.lastApplied = entry.Path
	}
	return nil
}

// verify checks that every referenced blob exists and matches its md5. Only
// directory entries go without a checksum.
func (a *Applier) verify(m *manifest.Manifest, stagingDir string) error {
	for _, entry := range m.Files {
		src := manifest.Join(stagingDir, entry.Path)
		if entry.Patch {
			src = manifest.Join(stagingDir, entry.PatchFile)
		}
		info, err := os.Stat(src)
		if err != nil {
			return checksumError(entry.Path, fmt.Errorf("%w: %v", ErrBlobMissing, err))
		}
		if info.IsDir() {
			continue
		}
		if entry.MD5 == "" {
			return checksumError(entry.Path, ErrMD5Missing)
		}
		if err := delta.VerifyMD5(src, entry.MD5); err != nil {
			return checksumError(entry.Path, err)
		}
	}
	return nil
}

// applyDelta rewrites the target in place. go-update writes the patched file
// next to the target and swaps it in, so a failed patch leaves the old file.
func (a *Applier) applyDelta(root, stagingDir string, entry manifest.FileEntry) error {
	target := manifest.Join(root, entry.Path)
	info, err := os.Stat(target)
	if err != nil {
		return applyError(entry.Path, a.lastApplied, fmt.Errorf("%w: %v", ErrTargetMissing, err))
	}
	if info.IsDir() {
		return applyError(entry.Path, a.lastApplied, ErrTargetIsDir)
	}

	//nolint:gosec // G304: blob path comes from a validated manifest
	blob, err := os.Open(manifest.Join(stagingDir, entry.PatchFile))
	if err != nil {
		return applyError(entry.Path, a.lastApplied, err)
	}
	defer func() { _ = blob.Close() }()

	err = update.Apply(blob, update.Options{
		TargetPath: target,
		TargetMode: info.Mode().Perm(),
		Patcher:    update.NewBSDiffPatcher(),
	})
	if err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return applyError(entry.Path, a.lastApplied, fmt.Errorf("%w (restore failed: %v)", err, rerr))
		}
		return applyError(entry.Path, a.lastApplied, err)
	}
	a.logf("patch: %s", entry.Path)
	return nil
}
