package pep440

import (
	"fmt"
	"strings"

	pep440lib "github.com/aquasecurity/go-pep440-version"
)

// Specifier is a single PEP 440 version specifier clause, e.g. ">=1.2,<2.0"
// or "~=1.4.2".
type Specifier struct {
	raw    string
	parsed pep440lib.Specifiers
}

// SpecifierError is returned for a malformed specifier clause.
type SpecifierError struct {
	Input string
	Cause error
}

func (e *SpecifierError) Error() string {
	return fmt.Sprintf("pep440: parsing specifier %q: %v", e.Input, e.Cause)
}

func (e *SpecifierError) Unwrap() error { return e.Cause }

// ParseSpecifier parses a single PEP 440 specifier clause.
func ParseSpecifier(s string) (Specifier, error) {
	ss, err := pep440lib.NewSpecifiers(s)
	if err != nil {
		return Specifier{}, &SpecifierError{Input: s, Cause: err}
	}

	return Specifier{raw: s, parsed: ss}, nil
}

// MustParseSpecifier parses s and panics on failure. Intended for table-test
// fixtures.
func MustParseSpecifier(s string) Specifier {
	sp, err := ParseSpecifier(s)
	if err != nil {
		panic(err)
	}

	return sp
}

// Check reports whether v satisfies the specifier.
func (s Specifier) Check(v Version) bool {
	return s.parsed.Check(v.parsed)
}

func (s Specifier) String() string {
	return s.raw
}

// SpecifierSet is a comma-joined set of specifier clauses, the form a
// requirement's version constraint takes in a PEP 508 requirement string,
// e.g. ">=1.2,!=1.5,<2.0".
type SpecifierSet struct {
	raw    string
	clause Specifier
}

// ParseSpecifierSet parses a comma-joined specifier set as a single clause:
// aquasecurity/go-pep440-version's Specifiers already accepts the full
// comma-joined form directly (the teacher passes whole constraint strings
// like ">=1.0,<2.0" straight to NewSpecifiers without splitting them), so
// this type exists only to give the resolver a name distinct from a single
// clause, not to re-implement splitting.
func ParseSpecifierSet(s string) (SpecifierSet, error) {
	if strings.TrimSpace(s) == "" {
		return SpecifierSet{raw: s}, nil
	}

	clause, err := ParseSpecifier(s)
	if err != nil {
		return SpecifierSet{}, err
	}

	return SpecifierSet{raw: s, clause: clause}, nil
}

// MustParseSpecifierSet parses s and panics on failure.
func MustParseSpecifierSet(s string) SpecifierSet {
	set, err := ParseSpecifierSet(s)
	if err != nil {
		panic(err)
	}

	return set
}

// Check reports whether v satisfies every clause in the set. An empty set
// matches any version, per spec.md's "unconstrained requirement" case.
func (s SpecifierSet) Check(v Version) bool {
	if strings.TrimSpace(s.raw) == "" {
		return true
	}

	return s.clause.Check(v)
}

func (s SpecifierSet) String() string {
	return s.raw
}

// IsEmpty reports whether the set carries no constraints.
func (s SpecifierSet) IsEmpty() bool {
	return strings.TrimSpace(s.raw) == ""
}
