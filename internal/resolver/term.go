package resolver

import (
	"sort"
	"strings"

	"github.com/pipwright/pipwright/internal/pep440"
	"github.com/pipwright/pipwright/internal/pep508"
)

// term is the accumulated constraint on one package name across every
// requirement that has referenced it so far: every requirer's specifier
// intersected (AND'd, via comma-joined PEP 440 specifier text — the same
// form a single requirement's own comma-separated specifier already uses),
// plus the union of extras any requirer asked for.
type term struct {
	rangeText  string // comma-joined specifier clauses, "" meaning "any version"
	extras     map[string]bool
	requiredBy []string // human-readable requirer labels, for NoSolutionError derivations

	// pinned is set the first time some requirement for this package
	// names a direct URL/VCS/path source (req.URL != ""). Once set, the
	// package is resolved through Registry.Pinned instead of
	// Listing+internal/selector, matching spec.md §3's non-registry
	// Requirement.source forms.
	pinned *pep508.Requirement
}

// isRoot reports whether any requirer of this term is a root-level
// requirement (including a requested dependency group, which spec.md §4.6
// treats as root-only), as opposed to purely a transitive dependency. This
// is how ModeLowestDirect tells which packages get ModeLowest.
func (t *term) isRoot() bool {
	for _, r := range t.requiredBy {
		if r == "root" || strings.HasPrefix(r, "group:") {
			return true
		}
	}

	return false
}

func newTerm() *term {
	return &term{extras: map[string]bool{}}
}

// intersect folds a new specifier clause into the term's accumulated range.
func (t *term) intersect(specifierText string) {
	if specifierText == "" {
		return
	}

	if t.rangeText == "" {
		t.rangeText = specifierText

		return
	}

	t.rangeText += "," + specifierText
}

func (t *term) addExtras(extras []string) {
	for _, e := range extras {
		t.extras[e] = true
	}
}

func (t *term) sortedExtras() []string {
	if len(t.extras) == 0 {
		return nil
	}

	out := make([]string, 0, len(t.extras))
	for e := range t.extras {
		out = append(out, e)
	}

	sort.Strings(out)

	return out
}

// specifierSet parses the accumulated range text, additionally excluding any
// version already ruled out by a prior failed attempt for this package.
func (t *term) specifierSet(excluded map[string]bool) (pep440.SpecifierSet, error) {
	text := t.rangeText

	for v := range excluded {
		text += ",!=" + v
	}

	return pep440.ParseSpecifierSet(text)
}
