package cache_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pipwright/pipwright/internal/cache"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing file %s: %v", path, err)
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "cache")

	_, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("cache directory not created: %v", err)
	}

	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestWriteAtomicAndRead(t *testing.T) {
	dir := t.TempDir()

	r, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	entry := r.NewEntry(cache.BucketBuiltWheels, "https://pypi.org/simple/flask/", "metadata.msgpack")

	if err := r.WriteAtomic(entry, []byte("payload")); err != nil {
		t.Fatalf("WriteAtomic() error: %v", err)
	}

	got, err := r.Read(entry)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if string(got) != "payload" {
		t.Errorf("Read() = %q, want %q", got, "payload")
	}

	entries, _ := os.ReadDir(r.ShardDir(cache.BucketBuiltWheels, cache.Shard("https://pypi.org/simple/flask/")))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file %q should not remain", e.Name())
		}
	}
}

func TestWriteAtomicOverwrites(t *testing.T) {
	dir := t.TempDir()

	r, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	entry := r.NewEntry(cache.BucketHTTP, "https://example.com/pkg", "body")

	if err := r.WriteAtomic(entry, []byte("old")); err != nil {
		t.Fatalf("WriteAtomic() error: %v", err)
	}

	if err := r.WriteAtomic(entry, []byte("new")); err != nil {
		t.Fatalf("WriteAtomic() error: %v", err)
	}

	got, err := r.Read(entry)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if string(got) != "new" {
		t.Errorf("Read() = %q, want %q", got, "new")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()

	r, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	entry := r.NewEntry(cache.BucketGit, "git@example.com/repo.git", "HEAD")

	if r.Exists(entry) {
		t.Error("expected entry to not exist yet")
	}

	if err := r.WriteAtomic(entry, []byte("sha")); err != nil {
		t.Fatalf("WriteAtomic() error: %v", err)
	}

	if !r.Exists(entry) {
		t.Error("expected entry to exist after write")
	}
}

func TestWriteAtomicFrom(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "download.whl")
	writeFile(t, srcPath, []byte("wheel bytes"))

	dir := t.TempDir()

	r, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	entry := r.NewEntry(cache.BucketBuiltWheels, "registry:flask:1.0.0", "flask-1.0.0-py3-none-any.whl")

	if err := r.WriteAtomicFrom(entry, srcPath); err != nil {
		t.Fatalf("WriteAtomicFrom() error: %v", err)
	}

	got, err := r.Read(entry)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if string(got) != "wheel bytes" {
		t.Errorf("Read() = %q, want %q", got, "wheel bytes")
	}
}

func TestRemoveTree(t *testing.T) {
	dir := t.TempDir()

	r, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	key := "file:///tmp/project"
	entry := r.NewEntry(cache.BucketBuiltWheels, key, "metadata.msgpack")

	if err := r.WriteAtomic(entry, []byte("x")); err != nil {
		t.Fatalf("WriteAtomic() error: %v", err)
	}

	if err := r.RemoveTree(cache.BucketBuiltWheels, cache.Shard(key)); err != nil {
		t.Fatalf("RemoveTree() error: %v", err)
	}

	if r.Exists(entry) {
		t.Error("expected entry to be gone after RemoveTree")
	}
}

func TestLockExcludesConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "locks", "pkg.lock")

	r, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	guard, err := r.Lock(lockPath)
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	var counter int
	var mu sync.Mutex

	done := make(chan struct{})

	go func() {
		g2, err := r.Lock(lockPath)
		if err != nil {
			t.Errorf("second Lock() error: %v", err)

			close(done)

			return
		}

		mu.Lock()
		counter++
		mu.Unlock()

		_ = g2.Unlock()

		close(done)
	}()

	mu.Lock()
	first := counter
	mu.Unlock()

	if first != 0 {
		t.Errorf("expected second locker to be blocked while first holds the lock")
	}

	if err := guard.Unlock(); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	<-done
}

func TestInflightDedupesConcurrentCalls(t *testing.T) {
	dir := t.TempDir()

	r, err := cache.New(cache.WithDir(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var calls int
	var mu sync.Mutex

	var wg sync.WaitGroup

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _, _ = r.Inflight("shared-key", func() (any, error) {
				mu.Lock()
				calls++
				mu.Unlock()

				return "result", nil
			})
		}()
	}

	wg.Wait()

	if calls != 1 {
		t.Errorf("expected the work function to run exactly once, ran %d times", calls)
	}
}

func TestNewDefaultDirWithoutEnvVar(t *testing.T) {
	t.Setenv("PIPWRIGHT_CACHE_DIR", "")

	r, err := cache.New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	entry := r.NewEntry(cache.BucketHTTP, "default-dir-check", "body")
	if err := r.WriteAtomic(entry, []byte("data")); err != nil {
		t.Fatalf("WriteAtomic() error: %v", err)
	}
}

func TestNewWithEnvVar(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env-cache")
	t.Setenv("PIPWRIGHT_CACHE_DIR", dir)

	r, err := cache.New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if r.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", r.Dir(), dir)
	}
}
