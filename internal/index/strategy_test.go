package index_test

import (
	"testing"

	"github.com/pipwright/pipwright/internal/index"
)

func TestMergeFirstIndexStopsAtFirstNonEmpty(t *testing.T) {
	listings := []index.Listing{
		{Name: "flask", Source: "primary"},
		{Name: "flask", Source: "fallback", Files: []index.File{{Filename: "flask-1.0.0.tar.gz", Version: "1.0.0", Source: "fallback"}}},
	}

	merged := index.Merge(listings, index.StrategyFirstIndex)

	if merged.Source != "fallback" {
		t.Errorf("Source = %q, want fallback (primary was empty)", merged.Source)
	}
}

func TestMergeUnsafeAnySortsByVersionThenPriority(t *testing.T) {
	listings := []index.Listing{
		{
			Name: "flask", Source: "primary",
			Files: []index.File{
				{Filename: "flask-1.0.0.tar.gz", Version: "1.0.0", Source: "primary"},
			},
		},
		{
			Name: "flask", Source: "secondary",
			Files: []index.File{
				{Filename: "flask-2.0.0.tar.gz", Version: "2.0.0", Source: "secondary"},
				{Filename: "flask-1.0.0-alt.tar.gz", Version: "1.0.0", Source: "secondary"},
			},
		},
	}

	merged := index.Merge(listings, index.StrategyUnsafeAny)

	if len(merged.Files) != 3 {
		t.Fatalf("len(Files) = %d, want 3", len(merged.Files))
	}

	if merged.Files[0].Version != "2.0.0" {
		t.Errorf("Files[0].Version = %q, want 2.0.0 (highest first)", merged.Files[0].Version)
	}

	if merged.Files[1].Version != "1.0.0" || merged.Files[1].Source != "primary" {
		t.Errorf("Files[1] = %+v, want primary's 1.0.0 (priority tie-break)", merged.Files[1])
	}
}
