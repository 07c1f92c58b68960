package update

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNameScanner(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   []string
	}{
		{"basic", []string{"app1.0", "app2.3", "otherapp9.9"}, []string{"1.0", "2.3"}},
		{"suffix ignored", []string{"app1.2.3/", "app4.zip"}, []string{"1.2.3", "4"}},
		{"no digits", []string{"app", "app.1", "apple1.0"}, nil},
		{"anchored", []string{"my app1.0", " app1.0"}, nil},
		{"trailing dot", []string{"app1."}, []string{"1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewNameScanner("app")
			for _, tok := range tt.tokens {
				s.OnToken(tok)
			}
			if diff := cmp.Diff(tt.want, s.Versions()); diff != "" {
				t.Errorf("Versions() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNameScannerQuotesProgramName(t *testing.T) {
	s := NewNameScanner("my.app")
	s.OnToken("my.app1.0")
	s.OnToken("myxapp2.0")
	if diff := cmp.Diff([]string{"1.0"}, s.Versions()); diff != "" {
		t.Errorf("Versions() mismatch (-want +got):\n%s", diff)
	}
}

type recordingScanner struct {
	tokens []string
}

func (r *recordingScanner) OnToken(text string) {
	r.tokens = append(r.tokens, text)
}

func TestScanHTMLFeedsTextNodes(t *testing.T) {
	rec := &recordingScanner{}
	err := ScanHTML(strings.NewReader(`<ul><li><a href="app1.0/">app1.0</a></li>
<li>  <b>app2.3</b></li></ul>`), rec)
	if err != nil {
		t.Fatalf("ScanHTML() error: %v", err)
	}
	if diff := cmp.Diff([]string{"app1.0", "app2.3"}, rec.tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestHTMLListingVersions(t *testing.T) {
	got, err := HTMLListing{}.Versions([]byte(`<a>app1.0</a><a>app2.3</a><a>otherapp9.9</a>`), "app")
	if err != nil {
		t.Fatalf("Versions() error: %v", err)
	}
	sorted, err := SortDescending(got)
	if err != nil {
		t.Fatalf("SortDescending() error: %v", err)
	}
	if diff := cmp.Diff([]string{"2.3", "1.0"}, sorted); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONListingRejectsGarbage(t *testing.T) {
	if _, err := (JSONListing{}).Versions([]byte(`{"versions": 3}`), "app"); err == nil {
		t.Error("expected error for malformed object")
	}
	if _, err := (JSONListing{}).Versions([]byte(`[1, 2]`), "app"); err == nil {
		t.Error("expected error for numeric entries")
	}
}
