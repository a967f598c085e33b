package index

import (
	"sort"

	"github.com/pipwright/pipwright/internal/pep440"
)

// Strategy selects how listings from multiple configured indexes are
// combined into the single universe of files a package name resolves
// against.
type Strategy string

const (
	// StrategyFirstIndex is the default: the first configured index that
	// reports any file for the package determines the whole universe for
	// that package, later indexes are never consulted for it.
	StrategyFirstIndex Strategy = "first-index"
	// StrategyUnsafeAny merges files from every index, ordered by version
	// then by index priority (earlier-configured index wins ties).
	StrategyUnsafeAny Strategy = "unsafe-any"
	// StrategyUnsafeBestMatch merges like StrategyUnsafeAny, but the
	// selector (internal/selector, C5) must consider every index's file
	// for a version when judging tag compatibility rather than stopping
	// at the first.
	StrategyUnsafeBestMatch Strategy = "unsafe-best-match"
)

// Merge combines per-index Listings for the same package name into one
// Listing, per spec.md §4.3. listings is in index-priority order: listings[0]
// is the highest-priority (first-configured) index.
func Merge(listings []Listing, strategy Strategy) Listing {
	if len(listings) == 0 {
		return Listing{}
	}

	if strategy == StrategyFirstIndex {
		for _, l := range listings {
			if len(l.Files) > 0 {
				return l
			}
		}

		return Listing{Name: listings[0].Name}
	}

	priority := make(map[string]int, len(listings))

	for i, l := range listings {
		if _, ok := priority[l.Source]; !ok {
			priority[l.Source] = i
		}
	}

	merged := Listing{Name: listings[0].Name}

	for _, l := range listings {
		merged.Files = append(merged.Files, l.Files...)
	}

	sort.SliceStable(merged.Files, func(i, j int) bool {
		vi, erri := pep440.Parse(merged.Files[i].Version)
		vj, errj := pep440.Parse(merged.Files[j].Version)

		if erri == nil && errj == nil && !vi.EqualIgnoringLocal(vj) {
			return vi.GreaterThan(vj)
		}

		return priority[merged.Files[i].Source] < priority[merged.Files[j].Source]
	})

	return merged
}
