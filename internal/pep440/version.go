// Package pep440 wraps PEP 440 version and specifier parsing for the rest of
// the resolver core. It is a thin, resolver-facing layer over
// aquasecurity/go-pep440-version: that library already implements the PEP 440
// ordering rules, so this package only adds the few operations spec.md names
// that the upstream library doesn't expose directly (release-prefix
// matching for the `==X.Y.*` star form, local-segment stripping for
// preference matching, and release-segment access for tie-break rules).
package pep440

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pep440lib "github.com/aquasecurity/go-pep440-version"
)

// Version is a parsed, totally-ordered PEP 440 version.
type Version struct {
	raw     string
	parsed  pep440lib.Version
	release []int
	local   string
}

// ParseError is returned for any malformed version string.
type ParseError struct {
	Input string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pep440: parsing version %q: %v", e.Input, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// releaseSegmentRe extracts the release segment from a raw version string
// directly, rather than through an accessor on the wrapped library. The
// library's confirmed surface (demonstrated by the teacher's own use of it)
// is limited to Parse, Compare, GreaterThan, IsPreRelease, and
// Specifiers.Check; release-segment and local-segment access are derived
// here from the input string instead of guessing at further methods.
var releaseSegmentRe = regexp.MustCompile(`^\s*v?(?:[0-9]+!)?([0-9]+(?:\.[0-9]+)*)`)

func releaseAndLocal(s string) ([]int, string) {
	trimmed := strings.ToLower(strings.TrimSpace(s))

	local := ""
	if idx := strings.IndexByte(trimmed, '+'); idx >= 0 {
		local = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}

	m := releaseSegmentRe.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, local
	}

	parts := strings.Split(m[1], ".")
	release := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, local
		}
		release[i] = n
	}

	return release, local
}

// Parse parses a PEP 440 version string.
func Parse(s string) (Version, error) {
	v, err := pep440lib.Parse(s)
	if err != nil {
		return Version{}, &ParseError{Input: s, Cause: err}
	}

	release, local := releaseAndLocal(s)

	return Version{raw: s, parsed: v, release: release, local: local}, nil
}

// MustParse parses s and panics on failure. Intended for table-test fixtures.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return v
}

// String returns the version's original textual form.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	return v.parsed.Compare(o.parsed)
}

// LessThan reports whether v < o.
func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

// GreaterThan reports whether v > o.
func (v Version) GreaterThan(o Version) bool { return v.parsed.GreaterThan(o.parsed) }

// Equal reports whether v == o, including local segment, per spec.md's
// "equality with a local segment uses the full tuple" rule.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0 && v.local == o.local
}

// EqualIgnoringLocal reports whether v and o are equal once local segments
// are stripped from both, per spec.md's "equality without a local segment
// ignores local on the candidate" rule.
func (v Version) EqualIgnoringLocal(o Version) bool {
	return v.WithoutLocal().Compare(o.WithoutLocal()) == 0
}

// IsPreRelease reports whether the version carries a pre-release or dev
// segment (used by the selector's pre-release policy, spec.md §4.5).
func (v Version) IsPreRelease() bool {
	return v.parsed.IsPreRelease()
}

// HasLocal reports whether the version carries a local version segment.
func (v Version) HasLocal() bool {
	return v.local != ""
}

// WithoutLocal returns the version with any local segment stripped, used by
// the preference-matching rule of spec.md §8 scenario 6: a preference
// pkg==1.2.0+localA matches an index entry 1.2.0+localB when compared with
// local stripped.
func (v Version) WithoutLocal() Version {
	if v.local == "" {
		return v
	}

	s := v.raw
	if idx := strings.IndexByte(s, '+'); idx >= 0 {
		s = s[:idx]
	}

	stripped, err := Parse(s)
	if err != nil {
		// Stripping a valid version's local segment never produces an
		// invalid string; fall back to v itself defensively.
		return v
	}

	return stripped
}

// ReleasePrefixMatches reports whether v's release segment starts with the
// given prefix segments, the rule behind the `==X.Y.*` star form (spec.md
// §4.1): a star match includes pre/post/dev variants, unlike plain `===`
// arbitrary equality prefix checks.
func (v Version) ReleasePrefixMatches(prefix []int) bool {
	if len(v.release) < len(prefix) {
		return false
	}

	for i, p := range prefix {
		if v.release[i] != p {
			return false
		}
	}

	return true
}

// Release returns the release segment (e.g. [3, 0, 0] for "3.0.0").
func (v Version) Release() []int {
	out := make([]int, len(v.release))
	copy(out, v.release)

	return out
}
