package update

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	appErrors "deltaup/internal/errors"
)

// Ordering is the result of comparing two versions.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// String returns the string representation of an Ordering.
func (o Ordering) String() string {
	switch o {
	case Less:
		return "LESS"
	case Greater:
		return "GREATER"
	default:
		return "EQUAL"
	}
}

// Version is a parsed dotted version such as "1.2" or "2.0.13".
type Version struct {
	Segments []uint64
	Raw      string
}

// ParseVersion parses a dot-separated sequence of unsigned integers.
// Leading zeros are accepted, so "1.01" parses to the same segments as "1.1".
func ParseVersion(s string) (Version, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, invalidVersion(raw, "empty version string", nil)
	}

	parts := strings.Split(s, ".")
	segments := make([]uint64, len(parts))
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return Version{}, invalidVersion(raw, fmt.Sprintf("segment %d (%q) is not an unsigned integer", i, part), nil)
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Version{}, invalidVersion(raw, fmt.Sprintf("segment %d (%q) out of range", i, part), err)
		}
		segments[i] = n
	}

	return Version{Segments: segments, Raw: raw}, nil
}

func invalidVersion(raw, reason string, err error) error {
	return appErrors.New(appErrors.CodeVersionParse, fmt.Sprintf("invalid version %q: %s", raw, reason), err)
}

// String returns the version as originally written.
func (v Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}
	parts := make([]string, len(v.Segments))
	for i, seg := range v.Segments {
		parts[i] = strconv.FormatUint(seg, 10)
	}
	return strings.Join(parts, ".")
}

// Compare compares two versions segment by segment.
// The shorter version is padded with zeros, so "1.0" equals "1.0.0".
func (v Version) Compare(other Version) Ordering {
	n := len(v.Segments)
	if len(other.Segments) > n {
		n = len(other.Segments)
	}
	for i := 0; i < n; i++ {
		a, b := segmentAt(v.Segments, i), segmentAt(other.Segments, i)
		if a < b {
			return Less
		}
		if a > b {
			return Greater
		}
	}
	return Equal
}

// LessThan returns true if v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) == Less
}

// GreaterThan returns true if v > other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) == Greater
}

// Equal returns true if v == other.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == Equal
}

func segmentAt(segments []uint64, i int) uint64 {
	if i < len(segments) {
		return segments[i]
	}
	return 0
}

// Compare parses and compares two version strings.
func Compare(a, b string) (Ordering, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return Equal, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return Equal, err
	}
	return va.Compare(vb), nil
}

// SortDescending returns the versions ordered from newest to oldest.
// Equal versions keep their input order. Duplicates are preserved.
func SortDescending(versions []string) ([]string, error) {
	parsed := make([]Version, len(versions))
	for i, s := range versions {
		v, err := ParseVersion(s)
		if err != nil {
			return nil, err
		}
		parsed[i] = v
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].GreaterThan(parsed[j])
	})
	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Raw
	}
	return out, nil
}

// Newer filters versions strictly greater than current, preserving input order.
func Newer(versions []string, current string) ([]string, error) {
	cur, err := ParseVersion(current)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, s := range versions {
		v, err := ParseVersion(s)
		if err != nil {
			return nil, err
		}
		if v.GreaterThan(cur) {
			pending = append(pending, s)
		}
	}
	return pending, nil
}
