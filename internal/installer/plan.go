package installer

import (
	"github.com/pipwright/pipwright/internal/pep508"
	"github.com/pipwright/pipwright/internal/resolver"
)

// ReinstallMode selects which resolved packages the planner forces into the
// reinstall bucket regardless of what's already on disk.
type ReinstallMode int

const (
	ReinstallNone ReinstallMode = iota
	ReinstallAll
	ReinstallPackages
)

// ReinstallPolicy is the planner's reinstall input, per spec.md §4.7.
type ReinstallPolicy struct {
	Mode     ReinstallMode
	Packages map[string]bool // normalized names; consulted only when Mode == ReinstallPackages
}

func (p ReinstallPolicy) appliesTo(normalizedName string) bool {
	switch p.Mode {
	case ReinstallAll:
		return true
	case ReinstallPackages:
		return p.Packages[normalizedName]
	default:
		return false
	}
}

// CacheLookup resolves a resolved package's already-materialized wheel, if
// any. It decouples the planner from the cache's bucket/shard layout the
// same way resolver.Registry decouples the solver from internal/index and
// sourcedist.Fetcher decouples the build pipeline from internal/downloader.
type CacheLookup interface {
	Lookup(source, filename string, hashes map[string]string) (path string, ok bool)
}

// PlannedPackage is one resolved package placed into a Plan bucket, carrying
// whatever the linker needs to install it.
type PlannedPackage struct {
	Decision   resolver.Decision
	CachedPath string // set when the wheel is already on disk (Local, or Reinstall once re-fetched)
}

// Plan is the planner's pure output: four disjoint lists over the resolution
// and the site inventory, per spec.md §4.7's Plan-disjointness invariant.
type Plan struct {
	Local      []PlannedPackage
	Remote     []PlannedPackage
	Reinstall  []PlannedPackage
	Extraneous []InstalledDist
}

// BuildPlan diffs a resolution against a site-packages inventory and a
// reinstall policy. It performs no filesystem writes — inventory is
// collected beforehand by ScanInventory and cache presence by looking
// up through lookup, both reads.
//
// Link-mode compatibility (spec.md §4.7's "if ... link-mode compatibility
// holds, omit from all lists") is approximated here as always satisfied once
// the installed version matches the resolved one: this module doesn't
// persist which link mode produced an existing install, so a version match
// is treated as sufficient to skip reinstalling it. See DESIGN.md.
func BuildPlan(decisions []resolver.Decision, inventory map[string]InstalledDist, policy ReinstallPolicy, lookup CacheLookup) Plan {
	var plan Plan

	resolvedNames := make(map[string]bool, len(decisions))

	for _, d := range decisions {
		normalized := pep508.NormalizeName(d.Name)
		resolvedNames[normalized] = true

		installed, isInstalled := inventory[normalized]

		if policy.appliesTo(normalized) {
			plan.Reinstall = append(plan.Reinstall, planFor(d, lookup))
			continue
		}

		if isInstalled && installed.Version == d.Version.String() {
			// Already present at the resolved version; link-mode
			// compatibility is assumed per the simplification above.
			continue
		}

		if isInstalled {
			plan.Reinstall = append(plan.Reinstall, planFor(d, lookup))
			continue
		}

		if d.File != nil {
			if path, ok := lookup.Lookup(d.File.Source, d.File.Filename, d.File.Hashes); ok {
				plan.Local = append(plan.Local, PlannedPackage{Decision: d, CachedPath: path})
				continue
			}
		}

		plan.Remote = append(plan.Remote, PlannedPackage{Decision: d})
	}

	for normalized, installed := range inventory {
		if !resolvedNames[normalized] {
			plan.Extraneous = append(plan.Extraneous, installed)
		}
	}

	return plan
}

func planFor(d resolver.Decision, lookup CacheLookup) PlannedPackage {
	if d.File != nil {
		if path, ok := lookup.Lookup(d.File.Source, d.File.Filename, d.File.Hashes); ok {
			return PlannedPackage{Decision: d, CachedPath: path}
		}
	}

	return PlannedPackage{Decision: d}
}
