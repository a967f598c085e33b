// Package installer implements the Install Planner (C7) and Linker (C8) of
// spec.md §4.7/§4.8: diffing a resolution against site state into a Plan
// (plan.go), then placing staged wheel trees into a site directory under
// one of four link modes with sticky copy fallback and cross-wheel
// collision detection (this file, linkmode.go).
package installer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/pipwright/pipwright/internal/python"
)

// Installer defines the interface for placing built/downloaded wheels into
// a site directory.
type Installer interface {
	Install(ctx context.Context, items []InstallItem) error
}

// InstallItem is one wheel to install, plus whatever provenance
// (direct_url.json) its source carries. Keeping this narrow (rather than
// accepting a downloader.Result or a resolver.Decision directly) decouples
// the linker from both the download and resolve stages, the same pattern
// used by resolver.Registry and sourcedist.Fetcher.
type InstallItem struct {
	Name      string
	Version   string
	WheelPath string
	DirectURL *DirectURL // nil for registry installs, which need no PEP 610 record
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

// WithLinkMode overrides the platform-default link mode.
func WithLinkMode(m LinkMode) Option {
	return func(s *Service) {
		s.mode = m
	}
}

// Service handles placing wheel files into site-packages.
type Service struct {
	env    *python.Environment
	mode   LinkMode
	logger *slog.Logger
}

// compile-time proof that Service implements Installer.
var _ Installer = (*Service)(nil)

// New creates a new linker targeting the given Python environment.
func New(env *python.Environment, opts ...Option) *Service {
	s := &Service{
		env:    env,
		mode:   defaultLinkMode(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Install places every item's wheel into site-packages under one link
// mode, writes RECORD/INSTALLER/console-scripts/direct_url.json for each,
// and reports any cross-wheel path collisions. The whole call is one
// install: fallback state and the collision map are per-call, matching
// spec.md §5's "the linker holds a site lock for the entire install." The
// site lock is an advisory file lock on ".lock" under the environment prefix.
func (s *Service) Install(ctx context.Context, items []InstallItem) error {
	if len(items) == 0 {
		return nil
	}

	siteLock := flock.New(filepath.Join(s.env.Prefix, ".lock"))
	if err := siteLock.Lock(); err != nil {
		return fmt.Errorf("locking site %s: %w", s.env.Prefix, err)
	}
	defer func() { _ = siteLock.Unlock() }()

	lk := newLinker(s.mode, s.logger)
	collisions := map[string][]collisionEntry{}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("installation canceled: %w", err)
		}

		if err := s.installWheel(lk, item, collisions); err != nil {
			return fmt.Errorf("installing %s: %w", item.Name, err)
		}

		s.logger.Debug("installed", slog.String("package", item.Name), slog.String("mode", s.mode.String()))
	}

	reportCollisions(s.logger, collisions)

	now := time.Now()
	if err := os.Chtimes(s.env.SitePackages, now, now); err != nil {
		s.logger.Debug("bumping site directory mtime", slog.String("error", err.Error()))
	}

	return nil
}

// installWheel stages one wheel's zip entries to a temp directory, then
// links each staged file into its final destination under lk's mode.
func (s *Service) installWheel(lk *linker, item InstallItem, collisions map[string][]collisionEntry) error {
	r, err := zip.OpenReader(item.WheelPath)
	if err != nil {
		return fmt.Errorf("opening wheel %s: %w", item.WheelPath, err)
	}
	defer func() { _ = r.Close() }()

	staging, err := os.MkdirTemp("", "pipwright-install-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	siteDir := s.env.SitePackages
	dataSuffix := ".data/"

	var records []RecordEntry
	var distInfoDir string

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		destPath, category := s.resolveDestination(f.Name, siteDir, dataSuffix)
		if destPath == "" {
			continue
		}

		base := s.baseForCategory(category, siteDir)
		if !isInsideDir(destPath, base) {
			return fmt.Errorf("zip slip detected: %s resolves outside %s", f.Name, base)
		}

		stagePath := filepath.Join(staging, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(stagePath), 0o755); err != nil {
			return fmt.Errorf("creating staging directory for %s: %w", f.Name, err)
		}

		if err := extractToStaging(f, stagePath); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		if category == categoryScripts {
			if err := os.Chmod(stagePath, 0o755); err != nil {
				return fmt.Errorf("setting executable permission on %s: %w", stagePath, err)
			}
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.Name, err)
		}

		isRecord := strings.Contains(f.Name, ".dist-info/") && strings.HasSuffix(f.Name, "/RECORD")
		if err := lk.place(stagePath, destPath, isRecord); err != nil {
			return fmt.Errorf("placing %s: %w", f.Name, err)
		}

		if strings.Contains(f.Name, ".dist-info/") {
			dir := filepath.Join(siteDir, strings.SplitN(f.Name, "/", 2)[0])
			distInfoDir = dir
		}

		relPath, err := filepath.Rel(siteDir, destPath)
		if err != nil {
			relPath = f.Name
		}

		hash, size, err := HashFile(destPath)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", destPath, err)
		}

		records = append(records, RecordEntry{Path: relPath, Hash: hash, Size: size})
		collisions[relPath] = append(collisions[relPath], collisionEntry{wheel: item.Name, path: destPath, size: size})
	}

	if distInfoDir == "" {
		return fmt.Errorf("no .dist-info directory found in %s", item.WheelPath)
	}

	if err := WriteInstaller(distInfoDir); err != nil {
		return fmt.Errorf("writing INSTALLER: %w", err)
	}

	hash, size, err := HashFile(filepath.Join(distInfoDir, "INSTALLER"))
	if err != nil {
		return fmt.Errorf("hashing INSTALLER: %w", err)
	}

	relInstaller, _ := filepath.Rel(siteDir, filepath.Join(distInfoDir, "INSTALLER"))
	records = append(records, RecordEntry{Path: relInstaller, Hash: hash, Size: size})

	if item.DirectURL != nil {
		entry, err := writeDirectURL(distInfoDir, siteDir, *item.DirectURL)
		if err != nil {
			return fmt.Errorf("writing direct_url.json: %w", err)
		}

		records = append(records, entry)
	}

	binDir := filepath.Join(s.env.Prefix, "bin")

	scriptRecords, err := InstallConsoleScripts(distInfoDir, binDir, s.env.PythonPath)
	if err != nil {
		return fmt.Errorf("installing console scripts: %w", err)
	}

	records = append(records, scriptRecords...)

	if err := WriteRecord(distInfoDir, records); err != nil {
		return fmt.Errorf("writing RECORD: %w", err)
	}

	return nil
}

// reportCollisions logs a warning for every relative path that more than
// one wheel placed with differing sizes, per spec.md §4.8.
func reportCollisions(logger *slog.Logger, collisions map[string][]collisionEntry) {
	for relPath, entries := range collisions {
		if len(entries) < 2 {
			continue
		}

		first := entries[0]

		for _, e := range entries[1:] {
			if e.size != first.size {
				logger.Warn("install path collision",
					slog.String("path", relPath),
					slog.String("wheel_a", first.wheel),
					slog.String("wheel_b", e.wheel),
				)
			}
		}
	}
}

// fileCategory describes where a wheel entry should be extracted.
type fileCategory int

const (
	categorySitePackages fileCategory = iota
	categoryScripts
	categoryData
	categorySkip
)

// resolveDestination determines the target path for a wheel entry.
// Wheel entries can be:
//   - Regular files → site-packages/
//   - .data/purelib/* → site-packages/
//   - .data/platlib/* → site-packages/
//   - .data/scripts/* → prefix/bin/
//   - .data/data/* → prefix/
//   - .data/headers/* → prefix/include/
func (s *Service) resolveDestination(name, siteDir, dataSuffix string) (string, fileCategory) {
	dataIdx := strings.Index(name, dataSuffix)
	if dataIdx == -1 {
		return filepath.Join(siteDir, name), categorySitePackages
	}

	remainder := name[dataIdx+len(dataSuffix):]

	slashIdx := strings.Index(remainder, "/")
	if slashIdx == -1 {
		return "", categorySkip
	}

	subdir := remainder[:slashIdx]
	rest := remainder[slashIdx+1:]

	if rest == "" {
		return "", categorySkip
	}

	switch subdir {
	case "purelib", "platlib":
		return filepath.Join(siteDir, rest), categorySitePackages
	case "scripts":
		return filepath.Join(s.env.Prefix, "bin", rest), categoryScripts
	case "data":
		return filepath.Join(s.env.Prefix, rest), categoryData
	case "headers":
		return filepath.Join(s.env.Prefix, "include", rest), categoryData
	default:
		return "", categorySkip
	}
}

// baseForCategory returns the expected base directory for ZipSlip validation.
func (s *Service) baseForCategory(cat fileCategory, siteDir string) string {
	switch cat {
	case categorySitePackages:
		return siteDir
	case categoryScripts, categoryData:
		return s.env.Prefix
	default:
		return siteDir
	}
}

// extractToStaging extracts a single zip entry to a plain file on disk, so
// the linker has a real source file to hardlink/reflink/symlink from.
func extractToStaging(f *zip.File, stagePath string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening zip entry: %w", err)
	}
	defer func() { _ = src.Close() }()

	mode := f.Mode()
	if mode == 0 {
		mode = 0o644
	}

	dst, err := os.OpenFile(stagePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", stagePath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return fmt.Errorf("writing %s: %w", stagePath, err)
	}

	return dst.Close()
}

// isInsideDir checks that path is inside dir once both are made absolute;
// symlinks are not resolved.
func isInsideDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	return strings.HasPrefix(absPath, absDir+string(filepath.Separator)) || absPath == absDir
}
