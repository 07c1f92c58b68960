// Package fsutil holds the file and directory copy helpers shared by the
// package builder and the patch applier.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrSymlinkLoop reports a symlink that points back into a directory being
// copied.
var ErrSymlinkLoop = errors.New("symlink loop")

// CopyFile copies src to dst, creating parent directories and overwriting dst.
// The file mode of src is preserved.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		return fmt.Errorf("copy %s: is a directory", src)
	}

	//nolint:gosec // G301: installed directories need standard permissions
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}

	//nolint:gosec // G304: src is inside a tree we own
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G304: dst is inside a tree we own
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	// OpenFile only applies the mode when it creates the file.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}

// CopyTree recursively copies the directory src into dst. Existing files in
// dst are overwritten; files only present in dst are left alone. Symlinks are
// followed, and a link back into a directory being copied is an error.
func CopyTree(src, dst string) error {
	return copyTree(src, dst, map[string]struct{}{})
}

func copyTree(src, dst string, active map[string]struct{}) error {
	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", src, err)
	}
	if _, loop := active[resolved]; loop {
		return fmt.Errorf("copy %s: %w", src, ErrSymlinkLoop)
	}
	active[resolved] = struct{}{}
	defer delete(active, resolved)

	// Walking the resolved path lets src itself be a link.
	return filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(target, info.Mode().Perm()|0700); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// WalkDir does not descend into linked directories.
			if IsDir(path) {
				return copyTree(path, target, active)
			}
			return CopyFile(path, target)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return CopyFile(path, target)
	})
}

// Copy copies src to dst whether src is a file or a directory.
func Copy(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		// A file in the way of a directory must go first.
		if di, err := os.Lstat(dst); err == nil && !di.IsDir() {
			if err := os.Remove(dst); err != nil {
				return fmt.Errorf("replace %s: %w", dst, err)
			}
		}
		return CopyTree(src, dst)
	}
	if di, err := os.Lstat(dst); err == nil && di.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("replace %s: %w", dst, err)
		}
	}
	return CopyFile(src, dst)
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
