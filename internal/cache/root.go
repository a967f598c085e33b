// Package cache implements the bucketed, content-addressed filesystem cache
// shared by the index client, source-distribution pipeline, and installer.
// It generalizes the teacher's single-bucket wheel cache
// (internal/cache/cache.go, a flat filename->path store) into the
// multi-bucket layout of spec.md's cache design: http-v1 (wire payloads +
// RFC 9111 policy blobs), built-wheels-v1 (per-source build manifests and
// built wheels), git-v1 (checkouts and process locks), plus
// simple-index-v1 and interpreter-v1 for parsed listings and probe
// results. Atomic writes (temp file + rename) are kept as the primitive
// from the teacher's Put; everything else — bucket/shard addressing,
// cross-process locking, and the in-flight dedup map — is new.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

// Bucket names a top-level partition of the cache root, matching spec.md's
// on-disk layout (`<bucket>-v<ver>/`).
type Bucket string

const (
	BucketHTTP        Bucket = "http-v1"
	BucketBuiltWheels Bucket = "built-wheels-v1"
	BucketGit         Bucket = "git-v1"
	BucketSimpleIndex Bucket = "simple-index-v1"
	BucketInterpreter Bucket = "interpreter-v1"
)

// Entry addresses a single file within a cache shard: bucket/shard/file.
type Entry struct {
	Bucket Bucket
	Shard  string
	File   string
}

// Option configures a Root.
type Option func(*Root)

// WithDir sets the cache root directory, overriding the platform default.
func WithDir(dir string) Option {
	return func(r *Root) {
		if dir != "" {
			r.dir = dir
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Root) {
		if l != nil {
			r.logger = l
		}
	}
}

// Root is the cache root directory plus the process-local coordination
// state (in-flight request dedup) layered over it.
type Root struct {
	dir      string
	logger   *slog.Logger
	inflight singleflight.Group
}

// New creates a Root, creating the directory if needed. If no directory is
// given via WithDir or PIPWRIGHT_CACHE_DIR, a platform-appropriate default
// is used, generalized from the teacher's defaultCacheDir.
func New(opts ...Option) (*Root, error) {
	r := &Root{logger: slog.Default()}

	for _, opt := range opts {
		opt(r)
	}

	if r.dir == "" {
		r.dir = defaultCacheDir()
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root %s: %w", r.dir, err)
	}

	return r, nil
}

// Dir returns the cache root directory.
func (r *Root) Dir() string {
	return r.dir
}

// BucketDir returns the absolute directory for a bucket. It does not create
// the directory; WriteAtomic and WriteAtomicFrom create it lazily on first
// write (spec.md: "created lazily on first write").
func (r *Root) BucketDir(b Bucket) string {
	return filepath.Join(r.dir, string(b))
}

// Shard computes the content-derived shard key for an arbitrary cache key
// (a canonicalized URL, file path, or git revision), the sha256 hex digest
// of the key text.
func Shard(key string) string {
	h := sha256.Sum256([]byte(key))

	return hex.EncodeToString(h[:])
}

// ShardDir returns the absolute directory for a bucket+shard. Like
// BucketDir, it does not create the directory.
func (r *Root) ShardDir(b Bucket, shard string) string {
	return filepath.Join(r.BucketDir(b), shard)
}

// NewEntry builds an Entry from a bucket, an un-hashed key, and a file name,
// hashing the key into a shard internally.
func (r *Root) NewEntry(b Bucket, key, file string) Entry {
	return Entry{Bucket: b, Shard: Shard(key), File: file}
}

// Path returns the entry's absolute file path.
func (r *Root) Path(e Entry) string {
	return filepath.Join(r.ShardDir(e.Bucket, e.Shard), e.File)
}

// Read reads an entry's bytes. Callers that need freshness guarantees
// should check the entry's freshness envelope (HTTP policy, path mtime, or
// resolved git SHA) before calling Read, under the entry's lock.
func (r *Root) Read(e Entry) ([]byte, error) {
	return os.ReadFile(r.Path(e))
}

// Exists reports whether an entry's file is present (and not a directory).
func (r *Root) Exists(e Entry) bool {
	info, err := os.Stat(r.Path(e))

	return err == nil && !info.IsDir()
}

// WriteAtomic writes data to the entry's path via a sibling temp file,
// fsync, then rename, the atomic-write primitive kept from the teacher's
// Put. When two processes race to write the same entry, last rename wins
// and every reader sees a complete file, never a partial one.
func (r *Root) WriteAtomic(e Entry, data []byte) error {
	dir := r.ShardDir(e.Bucket, e.Shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache shard %s: %w", dir, err)
	}

	dst := filepath.Join(dir, e.File)
	tmp := dst + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("writing cache entry: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("syncing cache entry: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("renaming cache entry: %w", err)
	}

	r.logger.Debug("cache write", slog.String("bucket", string(e.Bucket)), slog.String("shard", e.Shard), slog.String("file", e.File))

	return nil
}

// WriteAtomicFrom streams srcPath into the entry's path atomically, used
// for large downloads where buffering the whole body in memory first would
// be wasteful.
func (r *Root) WriteAtomicFrom(e Entry, srcPath string) error {
	dir := r.ShardDir(e.Bucket, e.Shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache shard %s: %w", dir, err)
	}

	dst := filepath.Join(dir, e.File)
	tmp := dst + ".tmp"

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", srcPath, err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("copying into cache: %w", err)
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("syncing cache entry: %w", err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("renaming cache entry: %w", err)
	}

	return nil
}

// RemoveTree removes a shard's entire directory, used when a build
// manifest's freshness envelope mismatches (spec.md: "invalidates the
// entry and the whole sub-directory of built artifacts for that source").
func (r *Root) RemoveTree(b Bucket, shard string) error {
	return os.RemoveAll(r.ShardDir(b, shard))
}

// Guard releases a lock acquired via Lock.
type Guard struct {
	flock *flock.Flock
}

// Unlock releases the lock. Safe to call once; the guard is meant to be
// used with `defer guard.Unlock()` immediately after Lock succeeds.
func (g *Guard) Unlock() error {
	return g.flock.Unlock()
}

// Lock acquires a cross-process advisory file lock at path, blocking until
// it's available. The lock file's parent directory is created if needed.
// Callers release it via the returned Guard, an RAII-style pattern since Go
// doesn't have destructors: `guard, err := root.Lock(p); defer guard.Unlock()`.
func (r *Root) Lock(path string) (*Guard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	return &Guard{flock: fl}, nil
}

// Inflight runs fn at most once concurrently for a given key across
// goroutines in this process (not across processes — that's what Lock is
// for), returning the shared result to every caller waiting on the same
// key. Used to dedup concurrent cache misses for the same URL/shard.
func (r *Root) Inflight(key string, fn func() (any, error)) (any, error, bool) {
	return r.inflight.Do(key, fn)
}

// defaultCacheDir returns the platform-appropriate cache directory,
// generalized from the teacher's defaultCacheDir with the new env var name.
func defaultCacheDir() string {
	if dir := os.Getenv("PIPWRIGHT_CACHE_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pipwright", "cache")
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Caches", "pipwright")
	}

	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "pipwright")
	}

	return filepath.Join(home, ".cache", "pipwright")
}
