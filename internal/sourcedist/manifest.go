package sourcedist

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pipwright/pipwright/internal/cache"
)

// Metadata is the subset of a wheel's dist-info/METADATA the pipeline
// validates and records: just enough to catch a build backend that produced
// a wheel for the wrong project (spec.md §4.4 step 5's NameMismatch check).
type Metadata struct {
	Name    string
	Version string
}

// BuiltArtifact is a successfully built (or cache-hit) wheel.
type BuiltArtifact struct {
	Path     string // absolute path to the wheel file on disk
	Filename string
	Metadata Metadata
}

// manifestEntry is one cached build, keyed by wheel filename so multiple
// tag-compatible wheels for the same source (e.g. built once per ABI) can
// coexist in a single shard.
type manifestEntry struct {
	DiskFilename string
	Metadata     Metadata
}

// manifest is the per-shard record of every wheel already built from a
// source tree, persisted as JSON via cache.Root.WriteAtomic so a concurrent
// writer's rename always leaves readers with a complete file.
type manifest struct {
	// Freshness carries whatever the source kind needs to detect staleness:
	// a path source's mtime, a git source's resolved commit SHA. URL sources
	// don't need this field — staleness there is entirely the HTTP cache's
	// concern (§4.2), consulted before the manifest is even read.
	Freshness string
	Entries   map[string]manifestEntry // WheelFilename -> entry
}

const manifestFile = "manifest.json"

func readManifest(root *cache.Root, shard string) (manifest, bool) {
	entry := cache.Entry{Bucket: cache.BucketBuiltWheels, Shard: shard, File: manifestFile}

	data, err := root.Read(entry)
	if err != nil {
		return manifest{Entries: map[string]manifestEntry{}}, false
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{Entries: map[string]manifestEntry{}}, false
	}

	if m.Entries == nil {
		m.Entries = map[string]manifestEntry{}
	}

	return m, true
}

// writeManifest merges newEntry into the shard's manifest rather than
// overwriting it wholesale, per spec.md §4.4 step 6: "If the manifest
// already exists (concurrent writer), merge rather than overwrite." The
// merge happens under the shard's build lock (see lockPath), so this is
// read-merge-write, not a compare-and-swap.
func writeManifest(root *cache.Root, shard, freshness, wheelFilename string, e manifestEntry) error {
	m, _ := readManifest(root, shard)
	m.Freshness = freshness
	m.Entries[wheelFilename] = e

	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshaling build manifest")
	}

	entry := cache.Entry{Bucket: cache.BucketBuiltWheels, Shard: shard, File: manifestFile}

	return root.WriteAtomic(entry, data)
}

// purgeManifest drops an entire shard, per spec.md §4.4 step 2's "on
// mismatch, purge the shard" — both the stale manifest and every wheel it
// recorded become unreachable garbage, so the whole directory goes.
func purgeManifest(root *cache.Root, shard string) error {
	return root.RemoveTree(cache.BucketBuiltWheels, shard)
}

func lockPath(root *cache.Root, shard string) string {
	return filepath.Join(root.ShardDir(cache.BucketBuiltWheels, shard), ".lock")
}

func wheelPath(root *cache.Root, shard, diskFilename string) string {
	return filepath.Join(root.ShardDir(cache.BucketBuiltWheels, shard), diskFilename)
}

// pathFreshness returns a comparable freshness token for a Path source: the
// mtime of the file itself (for an archive) or of pyproject.toml/setup.py
// within it (for a directory), per spec.md §4.4 step 2.
func pathFreshness(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", path)
	}

	if !info.IsDir() {
		return info.ModTime().String(), nil
	}

	for _, candidate := range []string{"pyproject.toml", "setup.py"} {
		fi, err := os.Stat(filepath.Join(path, candidate))
		if err == nil {
			return fi.ModTime().String(), nil
		}
	}

	return info.ModTime().String(), nil
}
