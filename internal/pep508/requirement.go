// Package pep508 parses PEP 508 dependency specifier strings into their
// structured parts: distribution name, extras, version specifier, direct
// URL, and environment marker. It builds on internal/pep440 for the version
// specifier and internal/markers for the marker, generalizing the teacher's
// flat-string ParseRequirement (which only handled name/specifier/marker)
// with the extras-bracket and direct-URL grammar AlexanderEkdahl-rope's
// pep508 package demonstrates.
package pep508

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pipwright/pipwright/internal/markers"
	"github.com/pipwright/pipwright/internal/pep440"
)

// Requirement is a fully parsed PEP 508 dependency specifier.
type Requirement struct {
	Name       string // PEP 503 normalized
	Extras     []string
	Specifier  pep440.SpecifierSet
	URL        string // direct URL/VCS/path source, empty for index-resolved deps
	Marker     markers.Expr
	MarkerText string // original marker text, kept for diagnostics
}

// ParseError is returned for a malformed requirement string.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pep508: invalid requirement %q: %s", e.Input, e.Reason)
}

// ParseRequirement parses a PEP 508 requirement string.
//
// Supported forms:
//
//	flask
//	flask[async]>=3.0
//	flask[async,dotenv]>=3.0,<4.0
//	flask @ https://example.com/flask-3.0.0-py3-none-any.whl
//	importlib-metadata>=3.6.0; python_version < "3.10"
func ParseRequirement(s string) (Requirement, error) {
	marker := ""

	nameSpec, markerPart, hasMarker := strings.Cut(s, ";")
	nameSpec = strings.TrimSpace(nameSpec)

	if hasMarker {
		marker = strings.TrimSpace(markerPart)
	}

	nameEnd := strings.IndexFunc(nameSpec, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.')
	})
	if nameEnd == -1 {
		nameEnd = len(nameSpec)
	}

	name := nameSpec[:nameEnd]
	rest, found := strings.CutPrefix(strings.TrimSpace(nameSpec[nameEnd:]), "[")

	var extras []string

	if found {
		extraList, afterBracket, closed := strings.Cut(rest, "]")
		if !closed {
			return Requirement{}, &ParseError{Input: s, Reason: "unterminated extras bracket"}
		}

		extras = parseExtras(extraList)
		nameSpec = name + strings.TrimSpace(afterBracket)
	} else {
		nameSpec = name + rest
	}

	if name == "" {
		return Requirement{}, &ParseError{Input: s, Reason: "missing distribution name"}
	}

	url := ""
	specifierText := ""

	remainder := strings.TrimSpace(nameSpec[len(name):])

	if strings.HasPrefix(remainder, "@") {
		url = strings.TrimSpace(strings.TrimPrefix(remainder, "@"))
	} else {
		specifierText = strings.TrimSpace(strings.NewReplacer("(", "", ")", "").Replace(remainder))
	}

	specifierSet, err := pep440.ParseSpecifierSet(specifierText)
	if err != nil {
		return Requirement{}, &ParseError{Input: s, Reason: err.Error()}
	}

	expr, err := markers.Parse(marker)
	if err != nil {
		return Requirement{}, &ParseError{Input: s, Reason: err.Error()}
	}

	return Requirement{
		Name:       NormalizeName(name),
		Extras:     extras,
		Specifier:  specifierSet,
		URL:        url,
		Marker:     expr,
		MarkerText: marker,
	}, nil
}

// MustParseRequirement parses s and panics on failure. Intended for
// table-test fixtures.
func MustParseRequirement(s string) Requirement {
	r, err := ParseRequirement(s)
	if err != nil {
		panic(err)
	}

	return r
}

func parseExtras(s string) []string {
	var extras []string

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			extras = append(extras, NormalizeName(part))
		}
	}

	return extras
}

// NormalizeName normalizes a Python distribution name per PEP 503: lowercase,
// runs of [-_.] collapsed to a single hyphen. Kept verbatim from the
// teacher's resolver.NormalizeName.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}

// String renders the requirement back to PEP 508 text, used for diagnostics
// and lockfile output.
func (r Requirement) String() string {
	var b strings.Builder

	b.WriteString(r.Name)

	if len(r.Extras) > 0 {
		b.WriteByte('[')
		b.WriteString(strings.Join(r.Extras, ","))
		b.WriteByte(']')
	}

	if r.URL != "" {
		b.WriteString(" @ ")
		b.WriteString(r.URL)
	} else if !r.Specifier.IsEmpty() {
		b.WriteString(r.Specifier.String())
	}

	if r.MarkerText != "" {
		b.WriteString(" ; ")
		b.WriteString(r.MarkerText)
	}

	return b.String()
}
