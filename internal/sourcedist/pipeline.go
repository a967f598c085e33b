package sourcedist

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/pipwright/pipwright/internal/buildctx"
	"github.com/pipwright/pipwright/internal/cache"
	"github.com/pipwright/pipwright/internal/pep508"
	"github.com/pipwright/pipwright/internal/tags"
)

// Fetcher downloads a URL (a registry file URL or a direct archive URL) to
// a local file and returns its path. Kept as a narrow interface, the same
// way internal/resolver.Registry decouples the solver from internal/index,
// so this package doesn't need to know about internal/downloader's
// errgroup-based concurrency or internal/cache's HTTP policy directly.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (path string, err error)
}

// NoBuildError is returned when Options.NoBuild is set and no cached wheel
// satisfies the request, per spec.md §4.4: "NoBuild policy, when set,
// short-circuits step 5 with NoBuild."
type NoBuildError struct {
	Name string
}

func (e *NoBuildError) Error() string {
	return fmt.Sprintf("no cached build available for %s and --no-build is set", e.Name)
}

// NameMismatchError is returned when a built wheel's own metadata names a
// different project than the source was acquired for.
type NameMismatchError struct {
	Expected, Actual string
}

func (e *NameMismatchError) Error() string {
	return fmt.Sprintf("build produced metadata for %q, expected %q", e.Actual, e.Expected)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFetcher sets the Fetcher used for URL and registry sources.
func WithFetcher(f Fetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithNoBuild sets the --no-build policy: a build is never invoked, only a
// cache hit can satisfy a request.
func WithNoBuild(noBuild bool) Option {
	return func(s *Service) {
		s.noBuild = noBuild
	}
}

// Service runs the Source Distribution Pipeline against a cache.Root and a
// Build Context.
type Service struct {
	root    *cache.Root
	build   buildctx.Source
	fetcher Fetcher
	noBuild bool
	logger  *slog.Logger
}

// New builds a sourcedist Service.
func New(root *cache.Root, build buildctx.Source, opts ...Option) *Service {
	s := &Service{root: root, build: build, logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Build runs the full algorithm of spec.md §4.4 steps 1-6 and returns a
// BuiltArtifact, reusing a cached wheel from the shard's manifest when one
// is tag-compatible with wantTags.
func (s *Service) Build(ctx context.Context, dist SourceDist, wantTags []tags.Tag) (BuiltArtifact, error) {
	shard := dist.Shard()

	guard, err := s.root.Lock(lockPath(s.root, shard))
	if err != nil {
		return BuiltArtifact{}, errors.Wrap(err, "acquiring build lock")
	}
	defer func() { _ = guard.Unlock() }()

	freshness, err := s.freshnessToken(dist)
	if err != nil {
		return BuiltArtifact{}, err
	}

	m, ok := readManifest(s.root, shard)
	if ok && freshness != "" && m.Freshness != freshness {
		s.logger.Debug("sourcedist manifest stale, purging", slog.String("name", dist.Name), slog.String("shard", shard))

		if err := purgeManifest(s.root, shard); err != nil {
			return BuiltArtifact{}, errors.Wrap(err, "purging stale manifest")
		}

		m = manifest{Entries: map[string]manifestEntry{}}
	}

	if art, ok := findCompatible(s.root, shard, m, wantTags); ok {
		return art, nil
	}

	if s.noBuild {
		return BuiltArtifact{}, &NoBuildError{Name: dist.Name}
	}

	sourceDir, resolvedFreshness, err := s.materialize(ctx, dist, shard)
	if err != nil {
		return BuiltArtifact{}, err
	}

	if resolvedFreshness != "" {
		freshness = resolvedFreshness
	}

	handle, err := s.build.Setup(ctx, sourceDir, "", dist.Name)
	if err != nil {
		return BuiltArtifact{}, errors.Wrap(err, "setting up build context")
	}

	outDir := filepath.Join(s.root.ShardDir(cache.BucketBuiltWheels, shard), "staging")

	filename, err := handle.Wheel(ctx, outDir)
	if err != nil {
		return BuiltArtifact{}, err
	}

	meta, err := readWheelMetadata(filepath.Join(outDir, filename))
	if err != nil {
		return BuiltArtifact{}, errors.Wrap(err, "reading built wheel metadata")
	}

	if pep508.NormalizeName(meta.Name) != pep508.NormalizeName(dist.Name) {
		return BuiltArtifact{}, &NameMismatchError{Expected: dist.Name, Actual: meta.Name}
	}

	finalPath := wheelPath(s.root, shard, filename)
	if err := os.Rename(filepath.Join(outDir, filename), finalPath); err != nil {
		return BuiltArtifact{}, errors.Wrap(err, "moving built wheel into cache")
	}

	if err := writeManifest(s.root, shard, freshness, filename, manifestEntry{DiskFilename: filename, Metadata: meta}); err != nil {
		return BuiltArtifact{}, err
	}

	return BuiltArtifact{Path: finalPath, Filename: filename, Metadata: meta}, nil
}

func findCompatible(root *cache.Root, shard string, m manifest, wantTags []tags.Tag) (BuiltArtifact, bool) {
	for filename, entry := range m.Entries {
		_, _, compound, err := tags.ParseWheelFilename(filename)
		if err != nil {
			continue
		}

		for _, wheelTag := range tags.Expand(compound) {
			if ok, _ := tags.Compatible(wheelTag, wantTags); ok {
				return BuiltArtifact{
					Path:     wheelPath(root, shard, entry.DiskFilename),
					Filename: filename,
					Metadata: entry.Metadata,
				}, true
			}
		}
	}

	return BuiltArtifact{}, false
}

// freshnessToken computes the freshness value to compare against the
// manifest's stored Freshness before trusting a cache hit, per spec.md
// §4.4 step 2. A URL source returns "" — its freshness is entirely the HTTP
// cache's concern and is never compared here.
func (s *Service) freshnessToken(dist SourceDist) (string, error) {
	switch dist.Kind {
	case KindPath:
		return pathFreshness(dist.Path)
	case KindGit:
		return dist.Revision, nil
	default:
		return "", nil
	}
}

// materialize acquires dist's source tree on disk and returns the directory
// containing pyproject.toml/setup.py, plus a freshness token to persist for
// kinds where materialize itself resolves it (git's full commit SHA).
func (s *Service) materialize(ctx context.Context, dist SourceDist, shard string) (sourceDir, resolvedFreshness string, err error) {
	switch dist.Kind {
	case KindPath:
		return s.materializePath(dist, shard)
	case KindURL, KindRegistry:
		return s.materializeURL(ctx, dist, shard)
	case KindGit:
		checkoutDir := s.root.ShardDir(cache.BucketGit, shard)

		sha, tree, err := acquireGit(ctx, dist, checkoutDir)
		if err != nil {
			return "", "", err
		}

		subdir, err := gitSubdirectory(tree, dist.Subdirectory)
		if err != nil {
			return "", "", err
		}

		return subdir, sha, nil
	default:
		return "", "", errors.Errorf("unsupported source kind %v", dist.Kind)
	}
}

func (s *Service) materializePath(dist SourceDist, shard string) (string, string, error) {
	freshness, err := pathFreshness(dist.Path)
	if err != nil {
		return "", "", err
	}

	info, err := os.Stat(dist.Path)
	if err != nil {
		return "", "", errors.Wrapf(err, "stat %s", dist.Path)
	}

	if info.IsDir() {
		return withSubdirectory(dist.Path, dist.Subdirectory), freshness, nil
	}

	extractDir := filepath.Join(s.root.ShardDir(cache.BucketBuiltWheels, shard), "extracted")
	if err := extractInto(dist.Path, extractDir); err != nil {
		return "", "", err
	}

	return withSubdirectory(projectRoot(extractDir), dist.Subdirectory), freshness, nil
}

func (s *Service) materializeURL(ctx context.Context, dist SourceDist, shard string) (string, string, error) {
	if s.fetcher == nil {
		return "", "", errors.New("sourcedist: URL/registry source requires a Fetcher")
	}

	localPath, err := s.fetcher.Fetch(ctx, dist.URL)
	if err != nil {
		return "", "", errors.Wrapf(err, "fetching %s", dist.URL)
	}

	extractDir := filepath.Join(s.root.ShardDir(cache.BucketBuiltWheels, shard), "extracted")
	if err := extractInto(localPath, extractDir); err != nil {
		return "", "", err
	}

	return withSubdirectory(projectRoot(extractDir), dist.Subdirectory), "", nil
}

func withSubdirectory(dir, subdirectory string) string {
	if subdirectory == "" {
		return dir
	}

	return filepath.Join(dir, subdirectory)
}

func extractInto(archivePath, extractDir string) error {
	if err := os.RemoveAll(extractDir); err != nil {
		return errors.Wrapf(err, "clearing %s", extractDir)
	}

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", extractDir)
	}

	return extractArchive(archivePath, extractDir)
}

// projectRoot returns the single top-level directory inside an extracted
// sdist when there is exactly one (the `name-version/` convention every
// sdist tarball follows), else the extraction directory itself.
func projectRoot(extractDir string) string {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return extractDir
	}

	var onlyDir string

	dirCount := 0

	for _, e := range entries {
		if e.IsDir() {
			dirCount++
			onlyDir = e.Name()
		} else {
			dirCount = -1

			break
		}
	}

	if dirCount == 1 {
		return filepath.Join(extractDir, onlyDir)
	}

	return extractDir
}

// readWheelMetadata extracts Name/Version from a built wheel's
// <dist>.dist-info/METADATA entry. The METADATA format is RFC 822-like but
// not strictly compliant (continuation lines for the description body would
// confuse net/mail), so this is a deliberately narrow scan for just the two
// headers spec.md §4.4 step 5 needs to validate — standard library only,
// since no pack example parses wheel metadata and a two-header scan doesn't
// warrant pulling in a dedicated parser.
func readWheelMetadata(wheelPath string) (Metadata, error) {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "opening %s", wheelPath)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".dist-info/METADATA") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return Metadata{}, errors.Wrapf(err, "opening %s", f.Name)
		}

		meta, err := scanMetadata(rc)
		_ = rc.Close()

		if err != nil {
			return Metadata{}, err
		}

		return meta, nil
	}

	return Metadata{}, errors.Errorf("no dist-info/METADATA entry in %s", wheelPath)
}

func scanMetadata(r io.Reader) (Metadata, error) {
	var meta Metadata

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // blank line ends the header block, body follows
		}

		if name, ok := strings.CutPrefix(line, "Name:"); ok {
			meta.Name = strings.TrimSpace(name)
		}

		if version, ok := strings.CutPrefix(line, "Version:"); ok {
			meta.Version = strings.TrimSpace(version)
		}
	}

	if err := scanner.Err(); err != nil {
		return Metadata{}, errors.Wrap(err, "scanning METADATA")
	}

	if meta.Name == "" {
		return Metadata{}, errors.New("METADATA missing Name header")
	}

	return meta, nil
}
