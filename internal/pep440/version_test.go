package pep440_test

import (
	"testing"

	"github.com/pipwright/pipwright/internal/pep440"
)

func TestParseAndCompare(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{"equal", "1.0.0", "1.0.0", 0},
		{"simple less", "1.0.0", "1.1.0", -1},
		{"simple greater", "2.0.0", "1.9.0", 1},
		{"pre-release less than release", "1.0.0a1", "1.0.0", -1},
		{"post-release greater than release", "1.0.0.post1", "1.0.0", 1},
		{"dev less than pre-release", "1.0.0.dev1", "1.0.0a1", -1},
		{"epoch dominates release", "1!1.0.0", "2.0.0", 1},
		{"local greater than bare", "1.0.0+local", "1.0.0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := pep440.Parse(tt.a)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.a, err)
			}

			b, err := pep440.Parse(tt.b)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.b, err)
			}

			got := a.Compare(b)
			if sign(got) != sign(tt.want) {
				t.Errorf("Compare(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestIsPreRelease(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"1.0.0", false},
		{"1.0.0a1", true},
		{"1.0.0b1", true},
		{"1.0.0rc1", true},
		{"1.0.0.dev1", true},
		{"1.0.0.post1", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			v := pep440.MustParse(tt.version)
			if got := v.IsPreRelease(); got != tt.want {
				t.Errorf("IsPreRelease(%q) = %v, want %v", tt.version, got, tt.want)
			}
		})
	}
}

func TestEqualAndEqualIgnoringLocal(t *testing.T) {
	a := pep440.MustParse("1.2.0+localA")
	b := pep440.MustParse("1.2.0+localB")
	c := pep440.MustParse("1.2.0+localA")

	if a.Equal(b) {
		t.Errorf("versions with different local segments should not be Equal")
	}

	if !a.Equal(c) {
		t.Errorf("identical versions including local segment should be Equal")
	}

	if !a.EqualIgnoringLocal(b) {
		t.Errorf("versions differing only by local segment should be EqualIgnoringLocal")
	}
}

func TestWithoutLocal(t *testing.T) {
	v := pep440.MustParse("1.2.0+local.123")

	if !v.HasLocal() {
		t.Fatalf("expected HasLocal() to be true for %q", v)
	}

	stripped := v.WithoutLocal()
	if stripped.HasLocal() {
		t.Errorf("WithoutLocal() still has a local segment")
	}

	if stripped.Compare(pep440.MustParse("1.2.0")) != 0 {
		t.Errorf("WithoutLocal() = %v, want 1.2.0", stripped)
	}
}

func TestReleasePrefixMatches(t *testing.T) {
	tests := []struct {
		version string
		prefix  []int
		want    bool
	}{
		{"1.2.3", []int{1, 2}, true},
		{"1.2.3", []int{1, 3}, false},
		{"1.2.3", []int{1, 2, 3}, true},
		{"1.2.3", []int{1, 2, 3, 0}, false},
		{"1.2.3a1", []int{1, 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			v := pep440.MustParse(tt.version)
			if got := v.ReleasePrefixMatches(tt.prefix); got != tt.want {
				t.Errorf("ReleasePrefixMatches(%q, %v) = %v, want %v", tt.version, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := pep440.Parse("not-a-version!!!")
	if err == nil {
		t.Fatalf("expected an error parsing an invalid version")
	}

	var parseErr *pep440.ParseError
	if !isParseError(err, &parseErr) {
		t.Errorf("expected a *pep440.ParseError, got %T", err)
	}
}

func isParseError(err error, target **pep440.ParseError) bool {
	pe, ok := err.(*pep440.ParseError)
	if ok {
		*target = pe
	}

	return ok
}

func TestSpecifierCheck(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		specifiers []string
		want       bool
	}{
		{"no specifiers", "1.0.0", nil, true},
		{"single match", "1.5.0", []string{">=1.0"}, true},
		{"single no match", "0.9.0", []string{">=1.0"}, false},
		{"range match", "1.5.0", []string{">=1.0", "<2.0"}, true},
		{"exact match", "1.5.0", []string{"==1.5.0"}, true},
		{"not equal match", "1.6.0", []string{"!=1.5.0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := pep440.MustParse(tt.version)

			got := true
			for _, s := range tt.specifiers {
				spec, err := pep440.ParseSpecifier(s)
				if err != nil {
					t.Fatalf("ParseSpecifier(%q) error: %v", s, err)
				}

				if !spec.Check(v) {
					got = false
					break
				}
			}

			if got != tt.want {
				t.Errorf("Check(%q, %v) = %v, want %v", tt.version, tt.specifiers, got, tt.want)
			}
		})
	}
}

func TestSpecifierSetEmptyMatchesAny(t *testing.T) {
	set := pep440.MustParseSpecifierSet("")
	if !set.IsEmpty() {
		t.Fatalf("expected empty specifier set")
	}

	if !set.Check(pep440.MustParse("0.0.1")) {
		t.Errorf("empty specifier set should match any version")
	}
}
