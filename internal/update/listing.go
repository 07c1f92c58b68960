package update

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ListingScanner receives the text nodes of a listing one at a time.
type ListingScanner interface {
	OnToken(text string)
}

// DiscoveryStrategy extracts the published versions of programName from a
// listing body. The returned slice is unsorted and may hold duplicates.
type DiscoveryStrategy interface {
	Versions(body []byte, programName string) ([]string, error)
}

// NameScanner collects the versions of every text node that starts with the
// program name immediately followed by a dotted number, as in "app1.0".
type NameScanner struct {
	programName string
	pattern     *regexp.Regexp
	versions    []string
}

// NewNameScanner creates a scanner for programName.
func NewNameScanner(programName string) *NameScanner {
	return &NameScanner{
		programName: programName,
		pattern:     regexp.MustCompile(`^` + regexp.QuoteMeta(programName) + `\d+(\.\d+)*`),
	}
}

// OnToken records the version carried by text, if any.
func (s *NameScanner) OnToken(text string) {
	match := s.pattern.FindString(text)
	if match == "" {
		return
	}
	s.versions = append(s.versions, match[len(s.programName):])
}

// Versions returns the versions seen so far in document order.
func (s *NameScanner) Versions() []string {
	return s.versions
}

// HTMLListing reads a web server directory index.
type HTMLListing struct{}

// Versions tokenizes body and feeds every text node to a NameScanner.
func (HTMLListing) Versions(body []byte, programName string) ([]string, error) {
	scanner := NewNameScanner(programName)
	if err := ScanHTML(bytes.NewReader(body), scanner); err != nil {
		return nil, err
	}
	return scanner.Versions(), nil
}

// ScanHTML hands each text node of r to scanner.
func ScanHTML(r io.Reader, scanner ListingScanner) error {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return fmt.Errorf("parse listing: %w", z.Err())
		case html.TextToken:
			text := strings.TrimSpace(string(z.Text()))
			if text != "" {
				scanner.OnToken(text)
			}
		}
	}
}

// JSONListing reads a structured index. Accepted bodies are
// {"versions": ["1.0", ...]}, a bare array of version strings, or an array
// of objects whose "name" holds the package name ("app1.0").
type JSONListing struct{}

type jsonIndex struct {
	Versions []string `json:"versions"`
}

type jsonEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Versions decodes body.
func (JSONListing) Versions(body []byte, programName string) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '{' {
		var idx jsonIndex
		if err := json.Unmarshal(trimmed, &idx); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		return idx.Versions, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	scanner := NewNameScanner(programName)
	var versions []string
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			versions = append(versions, s)
			continue
		}
		var entry jsonEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			return nil, fmt.Errorf("decode listing entry: %w", err)
		}
		switch {
		case entry.Version != "":
			versions = append(versions, entry.Version)
		case entry.Name != "":
			scanner.OnToken(entry.Name)
		}
	}
	return append(versions, scanner.Versions()...), nil
}
