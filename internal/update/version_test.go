package update

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	appErrors "deltaup/internal/errors"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []uint64
		wantErr bool
	}{
		{name: "single segment", input: "3", want: []uint64{3}},
		{name: "two segments", input: "1.2", want: []uint64{1, 2}},
		{name: "many segments", input: "2.0.13.7", want: []uint64{2, 0, 13, 7}},
		{name: "leading zeros", input: "1.01", want: []uint64{1, 1}},
		{name: "empty string", input: "", wantErr: true},
		{name: "empty segment", input: "1..2", wantErr: true},
		{name: "trailing dot", input: "1.2.", wantErr: true},
		{name: "letters", input: "1.2a", wantErr: true},
		{name: "v prefix", input: "v1.2", wantErr: true},
		{name: "negative", input: "1.-2", wantErr: true},
		{name: "overflow", input: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVersion(%q) expected error", tt.input)
				}
				if !appErrors.IsCode(err, appErrors.CodeVersionParse) {
					t.Fatalf("ParseVersion(%q) error code = %q, want %q", tt.input, appErrors.CodeOf(err), appErrors.CodeVersionParse)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) error: %v", tt.input, err)
			}
			if diff := cmp.Diff(tt.want, got.Segments); diff != "" {
				t.Errorf("segments mismatch (-want +got):\n%s", diff)
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want Ordering
	}{
		{"1.0", "1.0", Equal},
		{"1.0", "1.0.0", Equal},
		{"1.0.0", "1", Equal},
		{"1.2", "1.10", Less},
		{"1.10", "1.2", Greater},
		{"2.0", "1.99.99", Greater},
		{"1.0.1", "1.0", Greater},
		{"0.9", "1", Less},
		{"1.01", "1.1", Equal},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Compare error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Compare(%q, %q) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareInvalid(t *testing.T) {
	if _, err := Compare("1.x", "1.0"); err == nil {
		t.Fatal("expected error for invalid left version")
	}
	if _, err := Compare("1.0", ""); err == nil {
		t.Fatal("expected error for invalid right version")
	}
}

func TestCompareTotalOrder(t *testing.T) {
	versions := []string{"0", "0.1", "1", "1.0", "1.0.0", "1.0.1", "1.2", "1.10", "2", "2.0.0.1", "10"}

	for _, a := range versions {
		ab, _ := Compare(a, a)
		if ab != Equal {
			t.Fatalf("Compare(%q, %q) = %s, want EQUAL", a, a, ab)
		}
		for _, b := range versions {
			x, _ := Compare(a, b)
			y, _ := Compare(b, a)
			if x != -y {
				t.Fatalf("antisymmetry violated for %q, %q: %s vs %s", a, b, x, y)
			}
			for _, c := range versions {
				bc, _ := Compare(b, c)
				ac, _ := Compare(a, c)
				if x != Greater && bc != Greater && ac == Greater {
					t.Fatalf("transitivity violated for %q <= %q <= %q", a, b, c)
				}
			}
		}
	}
}

func TestSortDescending(t *testing.T) {
	got, err := SortDescending([]string{"1.0", "2.3", "1.10", "1.2", "2.3", "1.0.0"})
	if err != nil {
		t.Fatalf("SortDescending error: %v", err)
	}
	want := []string{"2.3", "2.3", "1.10", "1.2", "1.0", "1.0.0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortDescending mismatch (-want +got):\n%s", diff)
	}

	if _, err := SortDescending([]string{"1.0", "bad"}); err == nil {
		t.Error("SortDescending should fail on invalid version")
	}
}

func TestNewer(t *testing.T) {
	got, err := Newer([]string{"2.0", "1.2", "1.0"}, "1.0")
	if err != nil {
		t.Fatalf("Newer error: %v", err)
	}
	if diff := cmp.Diff([]string{"2.0", "1.2"}, got); diff != "" {
		t.Errorf("Newer mismatch (-want +got):\n%s", diff)
	}

	got, err = Newer([]string{"1.0", "0.9"}, "1.0.0")
	if err != nil {
		t.Fatalf("Newer error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Newer = %v, want empty", got)
	}
}
