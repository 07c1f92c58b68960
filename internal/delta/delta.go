// Package delta produces and applies bsdiff binary deltas between two versions
// of a file and computes the checksums recorded for them.
package delta

import (
	"bufio"
	"bytes"
	"crypto/md5" //nolint:gosec // G501: md5 is the manifest checksum format
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kr/binarydist"
)

var (
	ErrChecksumMismatch = errors.New("checksum verification failed")
	ErrCorruptPatch     = binarydist.ErrCorrupt
)

// Diff writes a bsdiff delta transforming oldPath into newPath to patchPath,
// creating parent directories as needed.
func Diff(oldPath, newPath, patchPath string) error {
	//nolint:gosec // G304: paths come from the trees being compared
	oldFile, err := os.Open(oldPath)
	if err != nil {
		return fmt.Errorf("open old file: %w", err)
	}
	defer func() { _ = oldFile.Close() }()

	//nolint:gosec // G304: paths come from the trees being compared
	newFile, err := os.Open(newPath)
	if err != nil {
		return fmt.Errorf("open new file: %w", err)
	}
	defer func() { _ = newFile.Close() }()

	//nolint:gosec // G301: staging directory is shipped publicly
	if err := os.MkdirAll(filepath.Dir(patchPath), 0755); err != nil {
		return fmt.Errorf("create patch directory: %w", err)
	}
	//nolint:gosec // G304: patch path is inside the staging directory
	out, err := os.Create(patchPath)
	if err != nil {
		return fmt.Errorf("create patch file: %w", err)
	}

	w := bufio.NewWriter(out)
	if err := binarydist.Diff(oldFile, newFile, w); err != nil {
		_ = out.Close()
		return fmt.Errorf("compute delta: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("write patch file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close patch file: %w", err)
	}
	return nil
}

// Patch applies a bsdiff delta to old and writes the result to dst.
func Patch(old io.Reader, dst io.Writer, patch io.Reader) error {
	if err := binarydist.Patch(old, dst, patch); err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	return nil
}

// PatchBytes applies a delta to an in-memory buffer.
func PatchBytes(old, patch []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := Patch(bytes.NewReader(old), &out, bytes.NewReader(patch)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// FileMD5 returns the hex md5 digest of the file at path.
func FileMD5(path string) (string, error) {
	//nolint:gosec // G304: Path comes from caller; this is intentional for checksum computation
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := md5.New() //nolint:gosec // G401: see import
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyMD5 verifies a file against an expected md5 checksum.
func VerifyMD5(path, expected string) error {
	actual, err := FileMD5(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksumMismatch, filepath.Base(path), expected, actual)
	}
	return nil
}

// SameContent reports whether two files hold identical bytes.
func SameContent(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}

	//nolint:gosec // G304: comparing files of the trees being diffed
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer func() { _ = fa.Close() }()
	//nolint:gosec // G304: comparing files of the trees being diffed
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer func() { _ = fb.Close() }()

	ra, rb := bufio.NewReader(fa), bufio.NewReader(fb)
	bufA, bufB := make([]byte, 32*1024), make([]byte, 32*1024)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		doneB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA && doneB, nil
		}
	}
}
