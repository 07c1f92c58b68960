package builder

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"deltaup/internal/fsutil"
)

// PackageName returns the file server name of a version: <programName><version>.
func PackageName(programName, version string) string {
	return programName + version
}

// ArchiveName returns the zip name of a version: <programName><version>.zip.
func ArchiveName(programName, version string) string {
	return PackageName(programName, version) + ".zip"
}

// Pack zips stagingDir into outDir/<programName><version>/<programName><version>.zip,
// the layout the client downloads from. Entries are stored with forward slashes
// relative to the staging root, directories included, in lexical walk order and
// stamped with ts so that repeated packs of the same tree are identical.
func Pack(stagingDir, outDir, programName, version string, ts time.Time) (string, error) {
	if !fsutil.IsDir(stagingDir) {
		return "", fmt.Errorf("%s is not a directory", stagingDir)
	}
	stagingDir, err := filepath.Abs(stagingDir)
	if err != nil {
		return "", fmt.Errorf("resolve staging path: %w", err)
	}
	pkgDir, err := filepath.Abs(filepath.Join(outDir, PackageName(programName, version)))
	if err != nil {
		return "", fmt.Errorf("resolve package path: %w", err)
	}
	//nolint:gosec // G301: published package directory
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		return "", fmt.Errorf("create package directory: %w", err)
	}
	absPath := filepath.Join(pkgDir, ArchiveName(programName, version))

	//nolint:gosec // G304: archive path is built from the output directory
	f, err := os.Create(absPath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	zw := zip.NewWriter(f)
	walkErr := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// Never pack the archive into itself when outDir is inside the staging dir.
		if path == absPath || path == pkgDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return addZipEntry(zw, path, filepath.ToSlash(rel), info, ts)
	})
	if walkErr != nil {
		_ = zw.Close()
		_ = f.Close()
		return "", fmt.Errorf("write archive: %w", walkErr)
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("finish archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return absPath, nil
}

func addZipEntry(zw *zip.Writer, path, name string, info fs.FileInfo, ts time.Time) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", name, err)
	}
	header.Name = name
	header.Modified = ts
	if info.IsDir() {
		header.Name += "/"
		header.Method = zip.Store
		_, err := zw.CreateHeader(header)
		return err
	}
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	//nolint:gosec // G304: reading files of the staging directory
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
