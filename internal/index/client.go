package index

import (
	"context"
	"log/slog"
)

// Source is anything that can list a package's known files from one index.
// JSONAPIClient and SimpleClient both satisfy it.
type Source interface {
	List(ctx context.Context, name string) (Listing, error)
}

// MultiIndex combines several Sources under one index-strategy policy
// (first-index, unsafe-any, unsafe-best-match), the C3 entry point the
// selector and resolver consume. Sources are queried in priority order:
// sources[0] is the first-configured, highest-priority index.
type MultiIndex struct {
	sources  []Source
	strategy Strategy
	logger   *slog.Logger
}

// NewMultiIndex builds a MultiIndex over sources, in priority order.
func NewMultiIndex(strategy Strategy, sources ...Source) *MultiIndex {
	return &MultiIndex{sources: sources, strategy: strategy, logger: slog.Default()}
}

// List queries every configured source for name and merges the results per
// the configured Strategy. A source that errors is treated as empty rather
// than failing the whole lookup, since first-index semantics already
// tolerate an index having nothing for a package.
func (m *MultiIndex) List(ctx context.Context, name string) (Listing, error) {
	listings := make([]Listing, 0, len(m.sources))

	for _, s := range m.sources {
		l, err := s.List(ctx, name)
		if err != nil {
			m.logger.Debug("index source failed", slog.String("package", name), slog.String("error", err.Error()))

			continue
		}

		listings = append(listings, l)
	}

	return Merge(listings, m.strategy), nil
}
