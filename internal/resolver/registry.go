package resolver

import (
	"context"

	"github.com/pipwright/pipwright/internal/index"
	"github.com/pipwright/pipwright/internal/pep440"
	"github.com/pipwright/pipwright/internal/pep508"
)

// Registry is everything the solver needs from the outside world: a file
// listing for a package name (already merged across every configured index,
// per internal/index.Strategy) and the dependency list for one of that
// package's resolved versions. A real Registry wraps *index.MultiIndex for
// Listing and a metadata source (wheel METADATA, sdist PKG-INFO, or a PEP 517
// prepare_metadata_for_build_wheel call through internal/buildctx) for
// Dependencies.
type Registry interface {
	Listing(ctx context.Context, name string) (index.Listing, error)
	Dependencies(ctx context.Context, name string, version pep440.Version) ([]string, error)

	// Pinned resolves a requirement carrying a direct URL/VCS/path source
	// (req.URL != "") instead of an index lookup, per spec.md §3's
	// Requirement.source union. It acquires the source the same way
	// internal/sourcedist would for a build, reads its metadata to learn
	// the concrete version and dependency list, and returns both without
	// consulting any index — a pinned source is never range-matched
	// against a listing.
	Pinned(ctx context.Context, req pep508.Requirement) (PinnedResult, error)
}

// PinnedResult is what a non-registry source resolves to: a Candidate
// Selector pass has nothing to select among (there is exactly one version,
// the one the pinned source actually contains), so the solver takes the
// version and dependency list directly instead of going through
// internal/selector.
type PinnedResult struct {
	Version pep440.Version
	Deps    []string
}
