package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ignoreSet protects installation entries from the full-update wipe. Names
// containing a separator are paths relative to the install root; bare names
// also match that base name at any depth.
type ignoreSet struct {
	abs   map[string]struct{}
	names map[string]struct{}
}

func newIgnoreSet(root string, ignore []string) ignoreSet {
	s := ignoreSet{
		abs:   make(map[string]struct{}, len(ignore)),
		names: make(map[string]struct{}, len(ignore)),
	}
	for _, entry := range ignore {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.ContainsAny(entry, `/\`) {
			s.names[entry] = struct{}{}
		}
		p := filepath.FromSlash(strings.ReplaceAll(entry, `\`, "/"))
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		s.abs[filepath.Clean(p)] = struct{}{}
	}
	return s
}

func (s ignoreSet) protects(path string) bool {
	if _, ok := s.abs[path]; ok {
		return true
	}
	_, ok := s.names[filepath.Base(path)]
	return ok
}

// covers reports whether path or one of its ancestors below root is
// protected, i.e. whether path survives the wipe.
func (s ignoreSet) covers(root, path string) bool {
	for p := filepath.Clean(path); p != root; {
		if s.protects(p) {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return false
}

// wipe removes everything under root that the ignore set does not protect.
// Protected directories survive with their whole subtree; a directory with a
// protected descendant survives holding only that descendant.
func wipe(root string, ignore ignoreSet, logf func(string, ...any)) error {
	_, err := wipeDir(root, ignore, logf)
	return err
}

func wipeDir(dir string, ignore ignoreSet, logf func(string, ...any)) (kept bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if ignore.protects(p) {
			kept = true
			continue
		}
		if e.IsDir() {
			sub, err := wipeDir(p, ignore, logf)
			if err != nil {
				return kept, err
			}
			if sub {
				kept = true
				continue
			}
			if err := os.RemoveAll(p); err != nil {
				return kept, fmt.Errorf("remove %s: %w", p, err)
			}
			logf("removed directory %s", p)
			continue
		}
		if err := os.Remove(p); err != nil {
			return kept, fmt.Errorf("remove %s: %w", p, err)
		}
		logf("removed %s", p)
	}
	return kept, nil
}
