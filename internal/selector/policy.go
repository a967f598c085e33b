package selector

import "github.com/pipwright/pipwright/internal/pep440"

// Mode controls which end of a satisfying range resolution prefers, per
// spec.md §4.5's "visit versions in resolution-mode order (descending for
// highest, ascending for lowest)".
type Mode int

const (
	// ModeHighest prefers the highest version satisfying a range. The
	// default for ordinary resolution.
	ModeHighest Mode = iota
	// ModeLowest prefers the lowest version satisfying a range, used for
	// a "lowest direct" resolution pass that checks declared lower bounds
	// are actually usable.
	ModeLowest
	// ModeLowestDirect is ModeLowest for root-level requirements and
	// ModeHighest for everything transitive, matching uv/pip's
	// "lowest-direct" resolution mode. The resolver, not this package,
	// decides which jobs are root-level; a Candidate Selector call always
	// sees one of ModeHighest or ModeLowest by the time it reaches here,
	// so Mode.better treats ModeLowestDirect the same as ModeLowest as a
	// conservative fallback if one ever does.
	ModeLowestDirect
)

// better reports whether a is preferred over b under mode.
func (m Mode) better(a, b pep440.Version) bool {
	if m == ModeHighest {
		return a.GreaterThan(b)
	}

	return a.LessThan(b)
}

// PreRelease controls whether a pre-release version may satisfy a range
// that doesn't itself pin a pre-release.
type PreRelease int

const (
	// PreReleaseIfNecessary allows a pre-release only when no stable
	// version in range exists. The default.
	PreReleaseIfNecessary PreRelease = iota
	// PreReleaseDisallow never selects a pre-release version.
	PreReleaseDisallow
	// PreReleaseAllow always allows pre-releases when they satisfy the range.
	PreReleaseAllow
	// PreReleaseExplicit allows a pre-release only when the range itself
	// names a pre-release version explicitly (e.g. `==1.0.0rc1`).
	PreReleaseExplicit
)

// allowed reports whether v may be selected given policy p, a range, and
// whether any stable (non-pre-release) version in range exists.
func (p PreRelease) allowed(v pep440.Version, rangeNamesPreRelease, anyStableInRange bool) bool {
	if !v.IsPreRelease() {
		return true
	}

	switch p {
	case PreReleaseAllow:
		return true
	case PreReleaseDisallow:
		return false
	case PreReleaseExplicit:
		return rangeNamesPreRelease
	default: // PreReleaseIfNecessary
		return rangeNamesPreRelease || !anyStableInRange
	}
}
