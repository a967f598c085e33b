// Package selector implements the Candidate Selector (C5) of spec.md §4.5:
// given a package name, an allowed version range, per-index file listings,
// installed packages, and resolver preferences, it picks the single best
// candidate version+file for the resolver to record.
package selector

import (
	"regexp"
	"sort"
	"time"

	"github.com/pipwright/pipwright/internal/index"
	"github.com/pipwright/pipwright/internal/pep440"
	"github.com/pipwright/pipwright/internal/tags"
)

// Preference is a version hint from a prior lockfile or a sibling resolver
// fork, considered before consulting the indexes.
type Preference struct {
	Version          pep440.Version
	EnvironmentMatch bool
}

// Installed describes an already-installed version of the package under
// consideration.
type Installed struct {
	Version pep440.Version
}

// Input is everything the Preference/Installed/Index phases of §4.5 need.
type Input struct {
	Name       string
	Range      pep440.SpecifierSet
	Files      []index.File // already filtered to this package, across every configured index
	Strategy   index.Strategy
	Mode       Mode
	PreRelease PreRelease
	EnvTags    []tags.Tag

	// ExcludeNewer, when non-zero, drops index files uploaded after this
	// instant before version selection runs.
	ExcludeNewer time.Time

	Preferences []Preference
	Installed   *Installed
	Upgrade     bool
	Reinstall   bool
}

// Candidate is the selector's output: a chosen version plus, when resolved
// from an index, the specific file that will be downloaded/built.
type Candidate struct {
	Version   pep440.Version
	File      *index.File // nil when the candidate came from Preference/Installed phases with no matching file
	FromIndex bool
	Installed bool
}

// Incompatible marks a candidate that could not be satisfied: every index
// file for the range was tag-incompatible or no index file existed at all.
type Incompatible struct {
	Reason string
}

func (e *Incompatible) Error() string { return e.Reason }

var prereleaseInRangeRe = regexp.MustCompile(`\d(a|b|c|rc|alpha|beta|pre|preview)\d*($|[,.+!-])|\.dev\d`)

func rangeNamesPreRelease(raw string) bool {
	return prereleaseInRangeRe.MatchString(raw)
}

// Select runs the full four-phase algorithm of spec.md §4.5 and returns the
// chosen Candidate, or an *Incompatible error if the index phase found
// nothing usable and no preference/installed candidate covers it.
func Select(in Input) (Candidate, error) {
	namesPreRelease := rangeNamesPreRelease(in.Range.String())

	if c, ok := selectFromPreferences(in, namesPreRelease); ok {
		return c, nil
	}

	var installedCandidate *Candidate

	if !in.Reinstall && in.Installed != nil && in.Range.Check(in.Installed.Version) {
		installedCandidate = &Candidate{Version: in.Installed.Version, Installed: true}
	}

	indexCandidate, indexErr := selectFromIndex(in, namesPreRelease)

	if indexErr != nil {
		if installedCandidate != nil {
			return *installedCandidate, nil
		}

		return Candidate{}, indexErr
	}

	if !in.Upgrade && installedCandidate != nil && !in.Mode.better(indexCandidate.Version, installedCandidate.Version) {
		return *installedCandidate, nil
	}

	return indexCandidate, nil
}

func selectFromPreferences(in Input, namesPreRelease bool) (Candidate, bool) {
	if len(in.Preferences) == 0 {
		return Candidate{}, false
	}

	anyStable := anyStableSatisfies(in, namesPreRelease)

	prefs := make([]Preference, len(in.Preferences))
	copy(prefs, in.Preferences)

	sort.SliceStable(prefs, func(i, j int) bool {
		if prefs[i].EnvironmentMatch != prefs[j].EnvironmentMatch {
			return prefs[i].EnvironmentMatch
		}

		return in.Mode.better(prefs[i].Version, prefs[j].Version)
	})

	for _, p := range prefs {
		if !in.Range.Check(p.Version) {
			continue
		}

		if !in.PreRelease.allowed(p.Version, namesPreRelease, anyStable) {
			continue
		}

		return Candidate{Version: p.Version}, true
	}

	return Candidate{}, false
}

func anyStableSatisfies(in Input, _ bool) bool {
	for _, f := range in.Files {
		v, err := pep440.Parse(f.Version)
		if err != nil || v.IsPreRelease() {
			continue
		}

		if in.Range.Check(v) {
			return true
		}
	}

	return false
}

// versionGroup is every file across every index for one parsed version.
type versionGroup struct {
	version pep440.Version
	files   []index.File
}

func groupByVersion(files []index.File) []versionGroup {
	order := []string{}
	groups := map[string]*versionGroup{}

	for _, f := range files {
		v, err := pep440.Parse(f.Version)
		if err != nil {
			continue
		}

		key := v.String()

		g, ok := groups[key]
		if !ok {
			g = &versionGroup{version: v}
			groups[key] = g
			order = append(order, key)
		}

		g.files = append(g.files, f)
	}

	result := make([]versionGroup, 0, len(order))
	for _, key := range order {
		result = append(result, *groups[key])
	}

	return result
}

func selectFromIndex(in Input, namesPreRelease bool) (Candidate, error) {
	selectable := index.FilterExcludeNewer(index.SelectableFiles(in.Files, pinnedVersionOf(in)), in.ExcludeNewer)
	groups := groupByVersion(selectable)

	sort.SliceStable(groups, func(i, j int) bool {
		return in.Mode.better(groups[i].version, groups[j].version)
	})

	anyStable := anyStableSatisfies(in, namesPreRelease)

	for _, g := range groups {
		if !in.Range.Check(g.version) {
			continue
		}

		if !in.PreRelease.allowed(g.version, namesPreRelease, anyStable) {
			continue
		}

		if f, ok := bestCompatibleFile(g.files, in.EnvTags); ok {
			return Candidate{Version: g.version, File: &f, FromIndex: true}, nil
		}

		if in.Strategy != index.StrategyUnsafeBestMatch {
			// first-index/unsafe-any: stop at the first version in range;
			// an incompatible file here doesn't fall through to an older one.
			return Candidate{}, &Incompatible{Reason: "no tag-compatible file for " + in.Name + " " + g.version.String()}
		}
	}

	return Candidate{}, &Incompatible{Reason: "no compatible version found for " + in.Name}
}

func pinnedVersionOf(in Input) string {
	if in.Installed != nil && in.Reinstall {
		return in.Installed.Version.String()
	}

	return ""
}

// bestCompatibleFile picks the lowest-priority (best-matching) tag-compatible
// wheel among a version's files, falling back to an sdist (always buildable,
// so always "compatible").
func bestCompatibleFile(files []index.File, envTags []tags.Tag) (index.File, bool) {
	var (
		best     index.File
		bestPrio = -1
		sdist    *index.File
	)

	for i, f := range files {
		if f.PackageType == "sdist" {
			if sdist == nil {
				sdist = &files[i]
			}

			continue
		}

		_, _, compound, err := tags.ParseWheelFilename(f.Filename)
		if err != nil {
			continue
		}

		for _, wheelTag := range tags.Expand(compound) {
			ok, prio := tags.Compatible(wheelTag, envTags)
			if ok && (bestPrio == -1 || prio < bestPrio) {
				best = f
				bestPrio = prio
			}
		}
	}

	if bestPrio != -1 {
		return best, true
	}

	if sdist != nil {
		return *sdist, true
	}

	return index.File{}, false
}
