// Package manifest defines the version description file shipped inside every
// update package and the JSON codec used to read and write it.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// FileName is the fixed name of the manifest inside a staging directory.
	FileName = "version"
	// TimeLayout is the layout of PackageTime ("YYYY-MM-DD HH:MM:SS").
	TimeLayout = "2006-01-02 15:04:05"
	// PatchSuffix is appended to a path to name its delta blob.
	PatchSuffix = ".patch"
)

var (
	ErrDuplicatePath   = errors.New("duplicate path in manifest")
	ErrPatchFileNeeded = errors.New("patch entry has no patchFile")
	ErrUnexpectedPatch = errors.New("copy entry carries a patchFile")
	ErrUnsafePath      = errors.New("path escapes the package root")
	ErrBlobCollision   = errors.New("patchFile collides with another entry")
)

// FileEntry describes how one file or directory is brought up to date.
type FileEntry struct {
	Patch     bool   `json:"patch"`
	Path      string `json:"path"`
	PatchFile string `json:"patchFile,omitempty"`
	MD5       string `json:"md5,omitempty"`
}

// Manifest lists the changes of one version relative to its predecessor.
// Files are replayed in list order.
type Manifest struct {
	Version       string      `json:"version"`
	Description   string      `json:"description"`
	PackageTime   string      `json:"packageTime"`
	IncUpdateFlag bool        `json:"incUpdateFlag"`
	Files         []FileEntry `json:"files"`
}

// New returns an empty incremental manifest stamped with t.
func New(version, description string, t time.Time) *Manifest {
	return &Manifest{
		Version:       version,
		Description:   description,
		PackageTime:   t.Format(TimeLayout),
		IncUpdateFlag: true,
		Files:         []FileEntry{},
	}
}

// Add appends an entry, keeping traversal order.
func (m *Manifest) Add(entry FileEntry) {
	m.Files = append(m.Files, entry)
}

// Validate checks the manifest invariants: patchFile is present exactly for
// patch entries, paths are unique and no path leaves the package root. A
// patchFile may not name another entry's path or blob, since both live in
// the same staging directory.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Files))
	for i, f := range m.Files {
		clean := Clean(f.Path)
		if err := checkRelative(f.Path); err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		if _, dup := seen[clean]; dup {
			return fmt.Errorf("file %d (%s): %w", i, f.Path, ErrDuplicatePath)
		}
		seen[clean] = struct{}{}

		switch {
		case f.Patch && strings.TrimSpace(f.PatchFile) == "":
			return fmt.Errorf("file %d (%s): %w", i, f.Path, ErrPatchFileNeeded)
		case !f.Patch && f.PatchFile != "":
			return fmt.Errorf("file %d (%s): %w", i, f.Path, ErrUnexpectedPatch)
		}
		if f.Patch {
			if err := checkRelative(f.PatchFile); err != nil {
				return fmt.Errorf("file %d: %w", i, err)
			}
		}
	}

	blobs := make(map[string]struct{})
	for i, f := range m.Files {
		if !f.Patch {
			continue
		}
		blob := Clean(f.PatchFile)
		_, isPath := seen[blob]
		_, isBlob := blobs[blob]
		if isPath || isBlob {
			return fmt.Errorf("file %d (%s): %s: %w", i, f.Path, f.PatchFile, ErrBlobCollision)
		}
		blobs[blob] = struct{}{}
	}
	return nil
}

// PackagedAt parses PackageTime in the local time zone.
func (m *Manifest) PackagedAt() (time.Time, error) {
	return time.ParseInLocation(TimeLayout, m.PackageTime, time.Local)
}

// Clean normalizes a manifest path to a slash-separated relative path without
// the leading "./".
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

// Rel formats a slash-separated relative path the way manifests store it.
func Rel(p string) string {
	return "./" + Clean(p)
}

// Join resolves a manifest path under root using OS separators.
func Join(root, p string) string {
	return filepath.Join(root, filepath.FromSlash(Clean(p)))
}

func checkRelative(p string) error {
	clean := Clean(p)
	if clean == "." || clean == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%q: %w", p, ErrUnsafePath)
	}
	return nil
}

// Marshal encodes the manifest as indented JSON.
func Marshal(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a manifest.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Write stores the manifest as dir/version.
func Write(dir string, m *Manifest) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	//nolint:gosec // G301: staging directory must be readable by the packager
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	//nolint:gosec // G306: manifest is shipped publicly
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Read loads dir/version.
func Read(dir string) (*Manifest, error) {
	//nolint:gosec // G304: reading the manifest of a staging directory we extracted
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Unmarshal(data)
}
