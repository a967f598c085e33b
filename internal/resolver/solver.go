// Package resolver implements the dependency resolver (C6 in spec.md §4.6):
// given a set of root requirements, it decides one version per package name
// that satisfies every requirement transitively reachable from the roots,
// choosing among candidates with internal/selector and expanding
// dependencies (including marker-gated extras) via a Registry.
//
// This is a simplified approximation of PubGrub rather than a full
// implementation: instead of learning structured incompatibility clauses and
// backjumping directly to the decision that caused a conflict, it re-derives
// the whole dependency graph from scratch on conflict, with the offending
// version added to a per-package exclusion set each time, bounded by
// maxAttempts. No confirmed PEP 440 interval/range-set algebra library was
// available to build true incompatibility union/intersection on, and a
// comma-joined specifier-clause exclusion (`,!=<version>`) composes directly
// with internal/pep440's existing specifier grammar.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/pipwright/pipwright/internal/index"
	"github.com/pipwright/pipwright/internal/markers"
	"github.com/pipwright/pipwright/internal/pep440"
	"github.com/pipwright/pipwright/internal/pep508"
	"github.com/pipwright/pipwright/internal/selector"
	"github.com/pipwright/pipwright/internal/tags"
)

// maxAttempts bounds the restart-on-conflict loop described in the package
// doc comment.
const maxAttempts = 50

// Decision is one resolved package: its chosen version, the file the
// selector picked (nil for an already-installed candidate or a pinned
// non-registry source), and the union of extras any requirer asked of it.
type Decision struct {
	Name      string
	Version   pep440.Version
	File      *index.File
	Extras    []string
	Installed bool
	// Source is set when this package came from a direct URL/VCS/path
	// requirement rather than an index lookup, carrying the pinned
	// requirement that produced it so the installer can record its
	// provenance (PEP 610 direct_url.json).
	Source *pep508.Requirement
}

// Options configures a resolution run.
type Options struct {
	Mode         selector.Mode
	PreRelease   selector.PreRelease
	Strategy     index.Strategy
	Env          markers.Environment
	EnvTags      []tags.Tag
	Installed    map[string]pep440.Version // normalized name -> installed version
	Upgrade      bool
	Reinstall    bool
	NoDeps       bool
	ExcludeNewer time.Time
	Logger       *slog.Logger

	// Groups maps a dependency-group name to its member requirement
	// strings, per spec.md §4.6's "dependency groups ... analogous to
	// extras but only active when the group is requested at the root".
	Groups map[string][]string
	// ActiveGroups selects which of Groups this run folds into the root
	// job set. A group absent from ActiveGroups is never consulted.
	ActiveGroups []string
	// Constraints are specifier-only requirement strings (e.g.
	// "requests<3") that intersect a package's accumulated range once it
	// is otherwise selected by some real dependency edge; a constraint
	// never introduces a package into the graph by itself.
	Constraints []string
	// Overrides maps a normalized package name to a full requirement
	// string that replaces whatever any dependent requests for that
	// name, per spec.md §4.6's "Overrides replace a dependency's source
	// entirely."
	Overrides map[string]string
}

// Service runs resolution against a Registry.
type Service struct {
	registry Registry
	opts     Options
}

// New builds a resolver Service.
func New(registry Registry, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{registry: registry, opts: opts}
}

// job is one requirement still waiting to be folded into its package's term
// and, the first time its package is decided, expanded into further jobs.
type job struct {
	req        pep508.Requirement
	requiredBy string
}

// Resolve runs the full algorithm and returns one Decision per transitively
// required package name.
func (s *Service) Resolve(ctx context.Context, requirements []string) ([]Decision, error) {
	overrides, err := parseOverrides(s.opts.Overrides)
	if err != nil {
		return nil, err
	}

	constraints, err := parseConstraints(s.opts.Constraints)
	if err != nil {
		return nil, err
	}

	roots := make([]job, 0, len(requirements))

	for _, r := range requirements {
		req, err := pep508.ParseRequirement(r)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing root requirement %q", r)
		}

		if req.Marker != nil && !req.Marker.Eval(s.opts.Env) {
			continue
		}

		roots = append(roots, job{req: applyOverride(req, overrides), requiredBy: "root"})
	}

	for _, group := range s.opts.ActiveGroups {
		for _, r := range s.opts.Groups[group] {
			req, err := pep508.ParseRequirement(r)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing group %q requirement %q", group, r)
			}

			if req.Marker != nil && !req.Marker.Eval(s.opts.Env) {
				continue
			}

			roots = append(roots, job{req: applyOverride(req, overrides), requiredBy: "group:" + group})
		}
	}

	excluded := map[string]map[string]bool{}

	var lastConflict *conflict

	for attempt := 0; attempt < maxAttempts; attempt++ {
		decisions, c, err := s.attempt(ctx, roots, excluded, constraints, overrides)
		if err != nil {
			return nil, err
		}

		if c == nil {
			return decisions, nil
		}

		lastConflict = c

		set, ok := excluded[c.name]
		if !ok {
			set = map[string]bool{}
			excluded[c.name] = set
		}

		set[c.version] = true

		s.opts.Logger.Debug("resolver retrying after conflict",
			slog.String("name", c.name), slog.String("excluded_version", c.version), slog.Int("attempt", attempt+1))
	}

	reason := "resolution did not converge"
	if lastConflict != nil {
		reason = fmt.Sprintf("kept conflicting on %s after excluding %d version(s)", lastConflict.name, len(excluded[lastConflict.name]))
	}

	return nil, &NoSolutionError{Name: "<root>", Reason: reason}
}

// parseConstraints parses Options.Constraints into a normalized-name ->
// specifier-text map ready for term.intersect.
func parseConstraints(raw []string) (map[string]string, error) {
	out := map[string]string{}

	for _, c := range raw {
		req, err := pep508.ParseRequirement(c)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing constraint %q", c)
		}

		if req.Specifier.IsEmpty() {
			continue
		}

		name := pep508.NormalizeName(req.Name)
		if out[name] == "" {
			out[name] = req.Specifier.String()
			continue
		}

		out[name] += "," + req.Specifier.String()
	}

	return out, nil
}

// parseOverrides parses Options.Overrides into normalized-name -> parsed
// requirement, failing fast on malformed override text.
func parseOverrides(raw map[string]string) (map[string]pep508.Requirement, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make(map[string]pep508.Requirement, len(raw))

	for name, text := range raw {
		req, err := pep508.ParseRequirement(text)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing override for %q: %q", name, text)
		}

		out[pep508.NormalizeName(name)] = req
	}

	return out, nil
}

// applyOverride replaces req's specifier/URL/extras with the override
// registered for its name, if any, while keeping req's own marker gating —
// an override changes what is installed, not whether the edge that pulled
// it in still applies.
func applyOverride(req pep508.Requirement, overrides map[string]pep508.Requirement) pep508.Requirement {
	override, ok := overrides[pep508.NormalizeName(req.Name)]
	if !ok {
		return req
	}

	override.Marker = req.Marker
	override.MarkerText = req.MarkerText

	return override
}

// attempt runs one full forward pass: fold every requirement into its
// package's accumulated term, decide a candidate the first time a package is
// seen (or re-validate it against a tightened term), and expand the decided
// version's dependencies — per requested extra — into further jobs. It
// returns a non-nil conflict instead of an error when an already-decided
// version is invalidated by a later constraint, so Resolve can retry with
// that version excluded.
func (s *Service) attempt(ctx context.Context, roots []job, excluded map[string]map[string]bool, constraints map[string]string, overrides map[string]pep508.Requirement) ([]Decision, *conflict, error) {
	terms := map[string]*term{}
	decided := map[string]pep440.Version{}
	files := map[string]*index.File{}
	installed := map[string]bool{}
	sources := map[string]*pep508.Requirement{}
	pinnedDeps := map[string][]string{}
	expandedExtras := map[string]map[string]bool{}

	queue := append([]job{}, roots...)

	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]

		// Markers are evaluated once, at enqueue time (root filtering in
		// Resolve, extra-gated filtering in expandNewExtras), against the
		// exact environment — including extra — the job was discovered
		// under; re-testing here against the base environment would wrongly
		// drop extra-only dependencies.
		name := j.req.Name

		t, ok := terms[name]
		if !ok {
			t = newTerm()
			terms[name] = t

			if c, ok := constraints[pep508.NormalizeName(name)]; ok {
				t.intersect(c)
			}
		}

		if !j.req.Specifier.IsEmpty() {
			t.intersect(j.req.Specifier.String())
		}

		t.addExtras(j.req.Extras)
		t.requiredBy = append(t.requiredBy, j.requiredBy)

		if j.req.URL != "" && t.pinned == nil {
			pinnedReq := j.req
			t.pinned = &pinnedReq
		}

		if decidedVersion, already := decided[name]; already {
			set, err := t.specifierSet(excluded[name])
			if err != nil {
				return nil, nil, errors.Wrapf(err, "parsing accumulated range for %s", name)
			}

			if !set.Check(decidedVersion) {
				return nil, &conflict{name: name, version: decidedVersion.String()}, nil
			}

			if err := s.expandNewExtras(ctx, name, decidedVersion, t, expandedExtras, pinnedDeps, overrides, &queue); err != nil {
				return nil, nil, err
			}

			continue
		}

		var cand selector.Candidate

		if t.pinned != nil {
			pinned, deps, err := s.decidePinned(ctx, name, t)
			if err != nil {
				if incompat, ok := err.(*selector.Incompatible); ok {
					return nil, nil, &NoSolutionError{Name: name, Reason: incompat.Error(), Derivation: t.requiredBy}
				}

				return nil, nil, err
			}

			cand = pinned
			pinnedDeps[name] = deps
			sources[name] = t.pinned
		} else {
			var err error

			cand, err = s.decide(ctx, name, t, excluded[name])
			if err != nil {
				if incompat, ok := err.(*selector.Incompatible); ok {
					return nil, nil, &NoSolutionError{Name: name, Reason: incompat.Error(), Derivation: t.requiredBy}
				}

				return nil, nil, err
			}
		}

		decided[name] = cand.Version
		files[name] = cand.File
		installed[name] = cand.Installed

		if err := s.expandNewExtras(ctx, name, cand.Version, t, expandedExtras, pinnedDeps, overrides, &queue); err != nil {
			return nil, nil, err
		}
	}

	result := make([]Decision, 0, len(decided))

	for name, v := range decided {
		result = append(result, Decision{
			Name:      name,
			Version:   v,
			File:      files[name],
			Extras:    terms[name].sortedExtras(),
			Installed: installed[name],
			Source:    sources[name],
		})
	}

	return result, nil, nil
}

// decide asks the Registry for this package's listing and runs it through
// internal/selector, folding in the caller's --upgrade/--reinstall/installed
// state.
func (s *Service) decide(ctx context.Context, name string, t *term, excludedVersions map[string]bool) (selector.Candidate, error) {
	rangeSet, err := t.specifierSet(excludedVersions)
	if err != nil {
		return selector.Candidate{}, errors.Wrapf(err, "parsing accumulated range for %s", name)
	}

	listing, err := s.registry.Listing(ctx, name)
	if err != nil {
		return selector.Candidate{}, errors.Wrapf(err, "listing %s", name)
	}

	var installed *selector.Installed
	if v, ok := s.opts.Installed[name]; ok {
		installed = &selector.Installed{Version: v}
	}

	return selector.Select(selector.Input{
		Name:         name,
		Range:        rangeSet,
		Files:        listing.Files,
		Strategy:     s.opts.Strategy,
		Mode:         s.effectiveMode(t),
		PreRelease:   s.opts.PreRelease,
		EnvTags:      s.opts.EnvTags,
		Installed:    installed,
		Upgrade:      s.opts.Upgrade,
		Reinstall:    s.opts.Reinstall,
		ExcludeNewer: s.opts.ExcludeNewer,
	})
}

// effectiveMode resolves ModeLowestDirect into ModeLowest/ModeHighest per
// term, since only the resolver knows which jobs are root-level (job.req's
// own requiredBy labels, folded into term.requiredBy) — internal/selector
// itself has no notion of "direct" vs. "transitive".
func (s *Service) effectiveMode(t *term) selector.Mode {
	if s.opts.Mode != selector.ModeLowestDirect {
		return s.opts.Mode
	}

	if t.isRoot() {
		return selector.ModeLowest
	}

	return selector.ModeHighest
}

// decidePinned resolves a term carrying a direct URL/VCS/path source through
// Registry.Pinned instead of Listing+internal/selector: there is exactly one
// version to consider, the one the pinned source actually contains, so it
// only needs validating against the term's accumulated range.
func (s *Service) decidePinned(ctx context.Context, name string, t *term) (selector.Candidate, []string, error) {
	result, err := s.registry.Pinned(ctx, *t.pinned)
	if err != nil {
		return selector.Candidate{}, nil, errors.Wrapf(err, "resolving pinned source for %s", name)
	}

	rangeSet, err := t.specifierSet(nil)
	if err != nil {
		return selector.Candidate{}, nil, errors.Wrapf(err, "parsing accumulated range for %s", name)
	}

	if !rangeSet.Check(result.Version) {
		return selector.Candidate{}, nil, &selector.Incompatible{
			Reason: fmt.Sprintf("pinned source for %s resolved to %s, which does not satisfy %s", name, result.Version.String(), rangeSet.String()),
		}
	}

	return selector.Candidate{Version: result.Version}, result.Deps, nil
}

// expandNewExtras fetches and queues the decided version's dependencies,
// once for the base package (extra "") and once per extra named in t that
// hasn't been expanded yet. A pinned package's dependency list was already
// learned alongside its version (decidePinned) and is reused for every
// extra, since a metadata Requires-Dist listing always carries every extra's
// dependencies together, gated by marker rather than by a separate fetch.
func (s *Service) expandNewExtras(ctx context.Context, name string, version pep440.Version, t *term, expanded map[string]map[string]bool, pinnedDeps map[string][]string, overrides map[string]pep508.Requirement, queue *[]job) error {
	if s.opts.NoDeps {
		return nil
	}

	done, ok := expanded[name]
	if !ok {
		done = map[string]bool{}
		expanded[name] = done
	}

	contexts := append([]string{""}, t.sortedExtras()...)

	for _, extra := range contexts {
		if done[extra] {
			continue
		}

		done[extra] = true

		deps, havePinned := pinnedDeps[name]
		if !havePinned {
			var err error

			deps, err = s.registry.Dependencies(ctx, name, version)
			if err != nil {
				return errors.Wrapf(err, "fetching dependencies of %s %s", name, version.String())
			}
		}

		env := s.opts.Env.WithExtra(extra)
		label := fmt.Sprintf("%s %s", name, version.String())

		if extra != "" {
			label = fmt.Sprintf("%s[%s] %s", name, extra, version.String())
		}

		for _, dep := range deps {
			req, err := pep508.ParseRequirement(dep)
			if err != nil {
				return errors.Wrapf(err, "parsing dependency %q of %s", dep, name)
			}

			if req.Marker != nil && !req.Marker.Eval(env) {
				continue
			}

			*queue = append(*queue, job{req: applyOverride(req, overrides), requiredBy: label})
		}
	}

	return nil
}
