package main

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipwright/pipwright/internal/buildctx"
	"github.com/pipwright/pipwright/internal/cache"
	"github.com/pipwright/pipwright/internal/config"
	"github.com/pipwright/pipwright/internal/downloader"
	"github.com/pipwright/pipwright/internal/index"
	"github.com/pipwright/pipwright/internal/installer"
	"github.com/pipwright/pipwright/internal/pep440"
	"github.com/pipwright/pipwright/internal/pep508"
	"github.com/pipwright/pipwright/internal/python"
	"github.com/pipwright/pipwright/internal/resolver"
	"github.com/pipwright/pipwright/internal/sourcedist"
	"github.com/pipwright/pipwright/internal/tags"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pipwright",
		Short:         "A fast Python package installer",
		Long:          "pipwright resolves, builds, and installs Python packages concurrently, with disk-cached downloads and source builds.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "pipwright.toml", "Path to pipwright.toml")
	rootCmd.PersistentFlags().String("index-url", "", "Base URL of the package index")
	rootCmd.PersistentFlags().StringSlice("extra-index-url", nil, "Additional package index URLs")
	rootCmd.PersistentFlags().String("cache-dir", "", "Override the cache directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	installCmd := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Install Python packages",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runInstall,
	}

	installCmd.Flags().StringP("requirements", "r", "", "Install from requirements file")
	installCmd.Flags().String("python", "python3", "Python binary to use")
	installCmd.Flags().String("target", "", "Target directory (default: auto-detect site-packages)")
	installCmd.Flags().Bool("dry-run", false, "Show the plan without downloading, building, or installing")
	installCmd.Flags().Bool("no-deps", false, "Skip dependencies, install only specified packages")
	installCmd.Flags().Bool("no-build", false, "Never build from source, only accept cache hits")
	installCmd.Flags().Bool("upgrade", false, "Allow upgrading already-installed packages")
	installCmd.Flags().Bool("reinstall", false, "Reinstall every resolved package, even if already satisfied")
	installCmd.Flags().String("link-mode", "", "Override the platform-default link mode (hardlink, clone, symlink, copy)")
	installCmd.Flags().String("exclude-newer", "", "Limit resolution to files published at or before this RFC 3339 timestamp")
	installCmd.Flags().StringSlice("group", nil, "Activate a dependency group from [dependency-groups] in pipwright.toml (repeatable)")
	installCmd.Flags().StringSliceP("constraint", "c", nil, `Narrow a package's range without introducing it, e.g. -c "requests<3" (repeatable)`)
	installCmd.Flags().StringSlice("override", nil, `Replace a dependency's source entirely, e.g. --override "urllib3==2.0.0" (repeatable)`)

	syncCmd := &cobra.Command{
		Use:   "sync [packages...]",
		Short: "Install packages and remove anything else installed",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runInstall,
	}
	syncCmd.Flags().AddFlagSet(installCmd.Flags())

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the on-disk cache",
	}
	cacheCleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove everything under the cache directory",
		RunE:  runCacheClean,
	}
	cacheCmd.AddCommand(cacheCleanCmd)

	rootCmd.AddCommand(installCmd, syncCmd, cacheCmd)

	return rootCmd.Execute()
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// loadConfig layers pipwright.toml under PIPWRIGHT_* environment variables
// under whatever flags the caller passed, per SPEC_FULL.md's configuration
// section: flags always win last.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("index-url"); v != "" {
		cfg.Index.URLs = []string{v}
	}

	if v, _ := cmd.Flags().GetStringSlice("extra-index-url"); len(v) > 0 {
		cfg.Index.URLs = append(cfg.Index.URLs, v...)
	}

	if v, _ := cmd.Flags().GetString("cache-dir"); v != "" {
		cfg.Cache.Dir = v
	}

	if v, _ := cmd.Flags().GetString("link-mode"); v != "" {
		cfg.Build.LinkMode = v
	}

	if v, _ := cmd.Flags().GetBool("no-build"); v {
		cfg.Build.NoBuild = true
	}

	if v, _ := cmd.Flags().GetString("exclude-newer"); v != "" {
		cfg.Build.ExcludeNewer = v
	}

	return cfg, nil
}

// parseOverrideFlags turns --override "name==version" (or any full PEP 508
// requirement text, including a direct URL/VCS/path source) into the
// normalized-name keyed map resolver.Options.Overrides expects.
func parseOverrideFlags(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(raw))

	for _, o := range raw {
		req, err := pep508.ParseRequirement(o)
		if err != nil {
			return nil, fmt.Errorf("parsing --override %q: %w", o, err)
		}

		out[req.Name] = o
	}

	return out, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	start := time.Now()

	verbose, _ := cmd.Flags().GetBool("verbose")
	reqFile, _ := cmd.Flags().GetString("requirements")
	pythonBin, _ := cmd.Flags().GetString("python")
	targetDir, _ := cmd.Flags().GetString("target")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noDeps, _ := cmd.Flags().GetBool("no-deps")
	upgrade, _ := cmd.Flags().GetBool("upgrade")
	reinstallAll, _ := cmd.Flags().GetBool("reinstall")
	activeGroups, _ := cmd.Flags().GetStringSlice("group")
	constraints, _ := cmd.Flags().GetStringSlice("constraint")
	rawOverrides, _ := cmd.Flags().GetStringSlice("override")

	overrides, err := parseOverrideFlags(rawOverrides)
	if err != nil {
		return err
	}

	requirements, err := collectRequirements(args, reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipwright install <pkg>' or 'pipwright install -r requirements.txt'")
	}

	logger := newLogger(verbose)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := detectEnv(ctx, pythonBin, targetDir, logger)
	if err != nil {
		return err
	}

	root, err := cache.New(cache.WithDir(cfg.Cache.Dir), cache.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &cache.CachingTransport{Root: root},
	}

	multiIndex := buildMultiIndex(cfg, httpClient, logger)

	tmpDir, err := os.MkdirTemp("", "pipwright-downloads-*")
	if err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	dlManager := downloader.New(tmpDir, downloader.WithHTTPClient(httpClient), downloader.WithLogger(logger))

	build := buildctx.NewShellBackend(buildctx.WithPythonBin(pythonBin))
	sdistSvc := sourcedist.New(root, build, sourcedist.WithFetcher(dlManager), sourcedist.WithLogger(logger), sourcedist.WithNoBuild(cfg.Build.NoBuild))

	envTags := env.EnvironmentTags()

	registry := &registryAdapter{
		index:      multiIndex,
		fetcher:    dlManager,
		sourcedist: sdistSvc,
		envTags:    envTags,
		logger:     logger,
	}

	installed, err := installer.ScanInventory(env.SitePackages)
	if err != nil {
		return fmt.Errorf("scanning site-packages: %w", err)
	}

	installedVersions := make(map[string]pep440.Version, len(installed))

	for name, dist := range installed {
		if v, err := pep440.Parse(dist.Version); err == nil {
			installedVersions[name] = v
		}
	}

	fmt.Println("Resolving dependencies...")

	excludeNewer, _ := cfg.ExcludeNewerTime()

	resolverSvc := resolver.New(registry, resolver.Options{
		Mode:         cfg.SelectorMode(),
		PreRelease:   cfg.SelectorPreRelease(),
		Strategy:     cfg.IndexStrategy(),
		Env:          env.MarkerEnvironment(),
		EnvTags:      envTags,
		Installed:    installedVersions,
		Upgrade:      upgrade,
		Reinstall:    reinstallAll,
		NoDeps:       noDeps,
		ExcludeNewer: excludeNewer,
		Groups:       cfg.DependencyGroups,
		ActiveGroups: activeGroups,
		Constraints:  constraints,
		Overrides:    overrides,
		Logger:       logger,
	})

	decisions, err := resolverSvc.Resolve(ctx, requirements)
	if err != nil {
		return fmt.Errorf("resolving dependencies: %w", err)
	}

	printDecisions(decisions)

	reinstallPolicy := installer.ReinstallPolicy{}
	if reinstallAll {
		reinstallPolicy.Mode = installer.ReinstallAll
	}

	lookup := &fsCacheLookup{root: root}

	plan := installer.BuildPlan(decisions, installed, reinstallPolicy, lookup)

	if dryRun {
		printPlan(plan)

		return nil
	}

	sync := cmd.Name() == "sync"

	// Acquire every replacement before removing anything already on disk:
	// a download or build failure here must leave existing installs intact.
	items, err := acquireItems(ctx, plan, registry, dlManager, lookup, logger)
	if err != nil {
		return err
	}

	for _, p := range plan.Reinstall {
		if dist, ok := installed[pep508.NormalizeName(p.Decision.Name)]; ok {
			if err := installer.Uninstall(env.SitePackages, dist.DistInfoDir); err != nil {
				return fmt.Errorf("uninstalling %s before reinstall: %w", p.Decision.Name, err)
			}
		}
	}

	if len(items) > 0 {
		fmt.Println("\nInstalling...")

		linkMode, hasLinkMode := cfg.LinkMode()

		opts := []installer.Option{installer.WithLogger(logger)}
		if hasLinkMode {
			opts = append(opts, installer.WithLinkMode(linkMode))
		}

		inst := installer.New(env, opts...)
		if err := inst.Install(ctx, items); err != nil {
			return fmt.Errorf("installing packages: %w", err)
		}

		fmt.Printf("  ✓ %d packages installed\n", len(items))
	} else {
		fmt.Println("\nNothing to install.")
	}

	if len(plan.Extraneous) > 0 {
		if sync {
			for _, e := range plan.Extraneous {
				if err := installer.Uninstall(env.SitePackages, e.DistInfoDir); err != nil {
					return fmt.Errorf("removing extraneous package %s: %w", e.Name, err)
				}
			}

			fmt.Printf("  ✓ %d extraneous package(s) removed\n", len(plan.Extraneous))
		} else {
			fmt.Printf("  %d extraneous package(s) no longer required (not removed; re-run with 'sync' to clean up)\n", len(plan.Extraneous))
		}
	}

	fmt.Printf("\nDone in %.1fs\n", time.Since(start).Seconds())

	return nil
}

func runCacheClean(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	root, err := cache.New(cache.WithDir(cfg.Cache.Dir), cache.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}

	if err := os.RemoveAll(root.Dir()); err != nil {
		return fmt.Errorf("removing %s: %w", root.Dir(), err)
	}

	fmt.Printf("Removed %s\n", root.Dir())

	return nil
}

func detectEnv(ctx context.Context, pythonBin, targetDir string, logger *slog.Logger) (*python.Environment, error) {
	pyDetector := python.New(python.WithPythonBin(pythonBin))

	env, err := pyDetector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting Python environment: %w", err)
	}

	if targetDir != "" {
		absTarget, err := filepath.Abs(targetDir)
		if err != nil {
			return nil, fmt.Errorf("resolving target directory: %w", err)
		}

		env.SitePackages = absTarget
	}

	logger.Debug("detected Python environment",
		slog.String("prefix", env.Prefix),
		slog.String("site-packages", env.SitePackages),
		slog.String("platform", env.PlatformTag),
		slog.String("version", env.PythonVersion),
		slog.Bool("venv", env.IsVirtualEnv),
	)

	return env, nil
}

func buildMultiIndex(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) *index.MultiIndex {
	sources := make([]index.Source, 0, len(cfg.Index.URLs))

	for _, u := range cfg.Index.URLs {
		sources = append(sources, index.NewSimpleClient(u,
			index.WithSimpleHTTPClient(httpClient),
			index.WithSimpleBaseURL(u),
		))
	}

	return index.NewMultiIndex(cfg.IndexStrategy(), sources...)
}

// registryAdapter implements resolver.Registry over a MultiIndex for
// listings and, for dependencies, scans a wheel's dist-info/METADATA
// (fetching one if needed, building one from source via internal/sourcedist
// when only an sdist is available). Kept narrow, the same decoupling as
// internal/installer.CacheLookup and internal/installer.InstallItem.
type registryAdapter struct {
	index      *index.MultiIndex
	fetcher    interface {
		Fetch(ctx context.Context, url string) (string, error)
	}
	sourcedist *sourcedist.Service
	envTags    []tags.Tag
	logger     *slog.Logger
}

func (r *registryAdapter) Listing(ctx context.Context, name string) (index.Listing, error) {
	return r.index.List(ctx, name)
}

func (r *registryAdapter) Dependencies(ctx context.Context, name string, version pep440.Version) ([]string, error) {
	listing, err := r.index.List(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}

	var wheelFile, sdistFile *index.File

	for i := range listing.Files {
		f := &listing.Files[i]

		if f.Version != version.String() {
			continue
		}

		if f.PackageType == "sdist" && sdistFile == nil {
			sdistFile = f
		}

		if f.PackageType != "bdist_wheel" || wheelFile != nil {
			continue
		}

		_, _, compound, err := tags.ParseWheelFilename(f.Filename)
		if err != nil {
			continue
		}

		for _, wt := range tags.Expand(compound) {
			if ok, _ := tags.Compatible(wt, r.envTags); ok {
				wheelFile = f

				break
			}
		}
	}

	wheelPath, err := r.resolveWheelPath(ctx, name, version, wheelFile, sdistFile)
	if err != nil {
		return nil, err
	}

	return wheelRequiresDist(wheelPath)
}

// Pinned resolves a direct URL/VCS/path requirement by building it the same
// way acquireOne eventually acquires it for install, then reading the
// resulting wheel's own Name/Version/Requires-Dist the same way Dependencies
// does for a registry package — a pinned source carries its own version, so
// there is nothing to range-match against an index listing.
func (r *registryAdapter) Pinned(ctx context.Context, req pep508.Requirement) (resolver.PinnedResult, error) {
	dist := sourcedist.FromRequirementURL(req.Name, req.URL)

	artifact, err := r.sourcedist.Build(ctx, dist, r.envTags)
	if err != nil {
		return resolver.PinnedResult{}, fmt.Errorf("building %s from %s: %w", req.Name, dist.Kind, err)
	}

	version, err := pep440.Parse(artifact.Metadata.Version)
	if err != nil {
		return resolver.PinnedResult{}, fmt.Errorf("parsing version %q of %s: %w", artifact.Metadata.Version, req.Name, err)
	}

	deps, err := wheelRequiresDist(artifact.Path)
	if err != nil {
		return resolver.PinnedResult{}, err
	}

	return resolver.PinnedResult{Version: version, Deps: deps}, nil
}

func (r *registryAdapter) resolveWheelPath(ctx context.Context, name string, version pep440.Version, wheelFile, sdistFile *index.File) (string, error) {
	switch {
	case wheelFile != nil:
		path, err := r.fetcher.Fetch(ctx, wheelFile.URL)
		if err != nil {
			return "", fmt.Errorf("fetching %s: %w", wheelFile.Filename, err)
		}

		return path, nil
	case sdistFile != nil:
		dist := sourcedist.SourceDist{
			Name:    name,
			Kind:    sourcedist.KindRegistry,
			IndexID: sdistFile.Source,
			SHA256:  sdistFile.Hashes["sha256"],
			URL:     sdistFile.URL,
		}

		artifact, err := r.sourcedist.Build(ctx, dist, r.envTags)
		if err != nil {
			return "", fmt.Errorf("building %s %s from source: %w", name, version, err)
		}

		return artifact.Path, nil
	default:
		return "", fmt.Errorf("no file found for %s %s", name, version)
	}
}

// wheelRequiresDist scans a wheel's dist-info/METADATA entry for every
// Requires-Dist header and returns them as raw PEP 508 requirement strings,
// leaving marker/extra evaluation to the resolver. The same deliberately
// narrow, standard-library-only header scan as
// internal/sourcedist.scanMetadata and internal/installer.readDistInfoMetadata:
// METADATA isn't RFC 822-compliant enough for net/mail, and no pack example
// parses it structurally.
func wheelRequiresDist(wheelPath string) ([]string, error) {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", wheelPath, err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".dist-info/METADATA") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}

		var deps []string

		scanner := bufio.NewScanner(rc)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				break
			}

			if rest, ok := strings.CutPrefix(line, "Requires-Dist:"); ok {
				deps = append(deps, strings.TrimSpace(rest))
			}
		}

		err = scanner.Err()
		_ = rc.Close()

		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}

		return deps, nil
	}

	return nil, fmt.Errorf("no dist-info/METADATA entry in %s", wheelPath)
}

// fsCacheLookup implements installer.CacheLookup over a dedicated cache
// bucket of previously downloaded registry files, addressed by source and
// filename and verified against the expected hash before being trusted.
type fsCacheLookup struct {
	root *cache.Root
}

const bucketDownloadedWheels cache.Bucket = "downloaded-wheels-v1"

func (c *fsCacheLookup) Lookup(source, filename string, hashes map[string]string) (string, bool) {
	entry := c.root.NewEntry(bucketDownloadedWheels, source+"|"+filename, filename)
	if !c.root.Exists(entry) {
		return "", false
	}

	path := c.root.Path(entry)

	if expected, ok := hashes["sha256"]; ok {
		actual, _, err := installer.HashFile(path)
		if err != nil || actual != expected {
			return "", false
		}
	}

	return path, true
}

// store caches a freshly downloaded or built file for a future Lookup.
func (c *fsCacheLookup) store(source, filename, srcPath string) error {
	entry := c.root.NewEntry(bucketDownloadedWheels, source+"|"+filename, filename)

	return c.root.WriteAtomicFrom(entry, srcPath)
}

// acquireItems turns a Plan into InstallItems: Local entries are already on
// disk, Remote entries are downloaded (and cached for next time), Reinstall
// entries are downloaded or built exactly like Remote.
func acquireItems(ctx context.Context, plan installer.Plan, registry *registryAdapter, dl *downloader.Manager, lookup *fsCacheLookup, logger *slog.Logger) ([]installer.InstallItem, error) {
	var items []installer.InstallItem

	for _, p := range plan.Local {
		items = append(items, planToItem(p, p.CachedPath))
	}

	toAcquire := append(append([]installer.PlannedPackage{}, plan.Remote...), plan.Reinstall...)

	for _, p := range toAcquire {
		path, err := acquireOne(ctx, p, registry, dl, lookup, logger)
		if err != nil {
			return nil, err
		}

		items = append(items, planToItem(p, path))
	}

	return items, nil
}

func acquireOne(ctx context.Context, p installer.PlannedPackage, registry *registryAdapter, dl *downloader.Manager, lookup *fsCacheLookup, logger *slog.Logger) (string, error) {
	d := p.Decision

	if d.Source != nil {
		dist := sourcedist.FromRequirementURL(d.Name, d.Source.URL)

		artifact, err := registry.sourcedist.Build(ctx, dist, registry.envTags)
		if err != nil {
			return "", fmt.Errorf("building %s %s from %s: %w", d.Name, d.Version, dist.Kind, err)
		}

		return artifact.Path, nil
	}

	if d.File == nil {
		dist := sourcedist.SourceDist{Name: d.Name, Kind: sourcedist.KindRegistry}

		artifact, err := registry.sourcedist.Build(ctx, dist, registry.envTags)
		if err != nil {
			return "", fmt.Errorf("building %s %s from source: %w", d.Name, d.Version, err)
		}

		return artifact.Path, nil
	}

	path, err := dl.Fetch(ctx, d.File.URL)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", d.File.Filename, err)
	}

	if err := lookup.store(d.File.Source, d.File.Filename, path); err != nil {
		logger.Debug("caching downloaded file failed", slog.String("file", d.File.Filename), slog.String("error", err.Error()))
	}

	fmt.Printf("  ✓ %s\n", d.File.Filename)

	return path, nil
}

func planToItem(p installer.PlannedPackage, wheelPath string) installer.InstallItem {
	d := p.Decision

	item := installer.InstallItem{
		Name:      d.Name,
		Version:   d.Version.String(),
		WheelPath: wheelPath,
	}

	switch {
	case d.Source != nil:
		item.DirectURL = directURLForSource(*d.Source)
	case d.File != nil:
		item.DirectURL = &installer.DirectURL{
			URL: d.File.URL,
			ArchiveInfo: &installer.DirectURLArchive{
				Hash: "sha256=" + d.File.Hashes["sha256"],
			},
		}
	}

	return item
}

// directURLForSource builds the PEP 610 direct_url.json payload for a
// resolved pinned requirement, choosing the VCS/dir/archive variant the same
// way sourcedist.FromRequirementURL chose a SourceDist Kind for it.
func directURLForSource(req pep508.Requirement) *installer.DirectURL {
	dist := sourcedist.FromRequirementURL(req.Name, req.URL)

	switch dist.Kind {
	case sourcedist.KindGit:
		return &installer.DirectURL{
			URL: dist.URL,
			VCSInfo: &installer.DirectURLVCSInfo{
				VCS:               "git",
				RequestedRevision: dist.Revision,
				CommitID:          dist.Revision,
			},
		}
	case sourcedist.KindPath:
		return &installer.DirectURL{
			URL:     "file://" + dist.Path,
			DirInfo: &installer.DirectURLDir{},
		}
	default:
		return &installer.DirectURL{URL: dist.URL}
	}
}

func printDecisions(decisions []resolver.Decision) {
	fmt.Printf("Resolved %d package(s):\n", len(decisions))

	for _, d := range decisions {
		fmt.Printf("  %s %s\n", d.Name, d.Version)
	}
}

func printPlan(plan installer.Plan) {
	fmt.Printf("\nWould install %d package(s):\n", len(plan.Local)+len(plan.Remote)+len(plan.Reinstall))

	for _, p := range plan.Local {
		fmt.Printf("  %s %s (cached)\n", p.Decision.Name, p.Decision.Version)
	}

	for _, p := range plan.Remote {
		fmt.Printf("  %s %s (download)\n", p.Decision.Name, p.Decision.Version)
	}

	for _, p := range plan.Reinstall {
		fmt.Printf("  %s %s (reinstall)\n", p.Decision.Name, p.Decision.Version)
	}

	if len(plan.Extraneous) > 0 {
		fmt.Printf("\n%d extraneous package(s) would remain:\n", len(plan.Extraneous))

		for _, e := range plan.Extraneous {
			fmt.Printf("  %s %s\n", e.Name, e.Version)
		}
	}

	fmt.Println("\nDry run, no changes made.")
}

// collectRequirements merges CLI args and requirements file entries.
func collectRequirements(args []string, reqFile string) ([]string, error) {
	var requirements []string

	requirements = append(requirements, args...)

	if reqFile != "" {
		fileReqs, err := parseRequirementsFile(reqFile)
		if err != nil {
			return nil, err
		}

		requirements = append(requirements, fileReqs...)
	}

	return requirements, nil
}

// parseRequirementsFile reads a pip-compatible requirements file.
// Skips comments, empty lines, and pip options (lines starting with -).
func parseRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var reqs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		reqs = append(reqs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return reqs, nil
}
