package sourcedist_test

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pipwright/pipwright/internal/buildctx"
	"github.com/pipwright/pipwright/internal/cache"
	"github.com/pipwright/pipwright/internal/sourcedist"
	"github.com/pipwright/pipwright/internal/tags"
)

type fakeSource struct {
	name, version string
	calls         int
}

func (f *fakeSource) Setup(_ context.Context, _, _, _ string) (buildctx.Handle, error) {
	return &fakeHandle{src: f}, nil
}

type fakeHandle struct{ src *fakeSource }

func (h *fakeHandle) Wheel(_ context.Context, outDir string) (string, error) {
	h.src.calls++

	filename := fmt.Sprintf("%s-%s-py3-none-any.whl", h.src.name, h.src.version)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}

	if err := writeFakeWheel(filepath.Join(outDir, filename), h.src.name, h.src.version); err != nil {
		return "", err
	}

	return filename, nil
}

func writeFakeWheel(path, name, version string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)

	w, err := zw.Create(name + "-" + version + ".dist-info/METADATA")
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "Metadata-Version: 2.1\nName: %s\nVersion: %s\n\nbody text\n", name, version); err != nil {
		return err
	}

	return zw.Close()
}

func envTags() []tags.Tag {
	return tags.BuildEnvironmentTags("cp312", "cp312", "manylinux_2_17_x86_64")
}

func newTestRoot(t *testing.T) *cache.Root {
	t.Helper()

	root, err := cache.New(cache.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("cache.New() error: %v", err)
	}

	return root
}

func TestBuildPathSourceAndReuseCache(t *testing.T) {
	root := newTestRoot(t)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "pyproject.toml"), []byte("[project]\nname=\"demo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := &fakeSource{name: "demo", version: "1.0.0"}
	svc := sourcedist.New(root, backend)

	dist := sourcedist.SourceDist{Name: "demo", Kind: sourcedist.KindPath, Path: src}

	art, err := svc.Build(context.Background(), dist, envTags())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if art.Metadata.Name != "demo" || art.Metadata.Version != "1.0.0" {
		t.Errorf("metadata = %+v, want demo 1.0.0", art.Metadata)
	}

	if _, err := os.Stat(art.Path); err != nil {
		t.Errorf("built wheel not on disk at %s: %v", art.Path, err)
	}

	if backend.calls != 1 {
		t.Fatalf("calls = %d, want 1 before cache hit", backend.calls)
	}

	art2, err := svc.Build(context.Background(), dist, envTags())
	if err != nil {
		t.Fatalf("second Build() error: %v", err)
	}

	if backend.calls != 1 {
		t.Errorf("calls = %d, want 1 (second Build should hit the manifest cache)", backend.calls)
	}

	if art2.Path != art.Path {
		t.Errorf("second Build returned a different path: %s vs %s", art2.Path, art.Path)
	}
}

func TestBuildNameMismatch(t *testing.T) {
	root := newTestRoot(t)

	src := t.TempDir()

	backend := &fakeSource{name: "other-package", version: "1.0.0"}
	svc := sourcedist.New(root, backend)

	dist := sourcedist.SourceDist{Name: "demo", Kind: sourcedist.KindPath, Path: src}

	_, err := svc.Build(context.Background(), dist, envTags())
	if err == nil {
		t.Fatal("expected a NameMismatchError")
	}

	if _, ok := err.(*sourcedist.NameMismatchError); !ok {
		t.Errorf("expected *sourcedist.NameMismatchError, got %T: %v", err, err)
	}
}

func TestBuildNoBuildPolicyWithoutCacheHit(t *testing.T) {
	root := newTestRoot(t)

	src := t.TempDir()

	backend := &fakeSource{name: "demo", version: "1.0.0"}
	svc := sourcedist.New(root, backend, sourcedist.WithNoBuild(true))

	dist := sourcedist.SourceDist{Name: "demo", Kind: sourcedist.KindPath, Path: src}

	_, err := svc.Build(context.Background(), dist, envTags())
	if err == nil {
		t.Fatal("expected a NoBuildError")
	}

	if _, ok := err.(*sourcedist.NoBuildError); !ok {
		t.Errorf("expected *sourcedist.NoBuildError, got %T: %v", err, err)
	}

	if backend.calls != 0 {
		t.Errorf("calls = %d, want 0 under --no-build", backend.calls)
	}
}
