// Package buildctx implements the Build Context (C9 in spec.md §4.9): the
// narrow boundary between the core resolver/installer pipeline and whatever
// actually turns a source tree into a wheel. The core never speaks PEP 517
// hooks directly — it hands a source directory to a Handle and gets a wheel
// filename back. ShellBackend's implementation of that boundary shells out
// to an external build frontend, grounded on internal/python/env.go's
// pattern of running a fixed command and parsing its output rather than
// linking a Python interpreter in-process.
package buildctx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Source sets up a build environment for one source tree (a source
// distribution's extracted directory, a VCS checkout, or a local path
// dependency) and returns a Handle that can build it.
type Source interface {
	Setup(ctx context.Context, sourcePath, subdirectory, name string) (Handle, error)
}

// Handle is a prepared build environment, ready to produce a wheel.
type Handle interface {
	// Wheel builds the source tree into a wheel file under outDir and
	// returns the resulting filename (not the full path).
	Wheel(ctx context.Context, outDir string) (filename string, err error)
}

// BuildError wraps a build-frontend failure with the source path and the
// frontend's captured output, matching spec.md's `Build(source, cause)`
// failure variant — build failures are never retried automatically.
type BuildError struct {
	SourcePath string
	Output     string
	Cause      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for %s: %v", e.SourcePath, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }

// CommandRunner runs an external command with a given working directory and
// returns its combined stdout+stderr. Overridable for tests, same shape as
// internal/python.CommandRunner.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Option configures a ShellBackend.
type Option func(*ShellBackend)

// WithPythonBin sets the python interpreter used to invoke the build
// frontend. Defaults to "python3".
func WithPythonBin(bin string) Option {
	return func(b *ShellBackend) {
		if bin != "" {
			b.pythonBin = bin
		}
	}
}

// WithCommandRunner overrides how external commands run, for testing.
func WithCommandRunner(fn CommandRunner) Option {
	return func(b *ShellBackend) {
		if fn != nil {
			b.runCmd = fn
		}
	}
}

// ShellBackend is a Source that shells out to `python -m build --wheel`, the
// reference PEP 517 frontend, treating it as an opaque subprocess exactly
// the way internal/python.Service treats the interpreter probe: run a fixed
// command, parse its fixed-format output, never link any Python C API.
type ShellBackend struct {
	pythonBin string
	runCmd    CommandRunner
}

// NewShellBackend builds a ShellBackend.
func NewShellBackend(opts ...Option) *ShellBackend {
	b := &ShellBackend{
		pythonBin: "python3",
		runCmd:    defaultRunCmd,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// compile-time proof that ShellBackend implements Source.
var _ Source = (*ShellBackend)(nil)

// shellHandle is the Handle a ShellBackend.Setup returns.
type shellHandle struct {
	backend     *ShellBackend
	buildDir    string // sourcePath joined with subdirectory, where pyproject.toml/setup.py lives
	packageName string
}

// Setup resolves the subdirectory (for sdists whose pyproject.toml isn't at
// the tree root) and returns a Handle bound to it. No subprocess runs yet —
// the build frontend itself discovers and prepares the backend on Wheel.
func (b *ShellBackend) Setup(_ context.Context, sourcePath, subdirectory, name string) (Handle, error) {
	buildDir := sourcePath
	if subdirectory != "" {
		buildDir = filepath.Join(sourcePath, subdirectory)
	}

	info, err := os.Stat(buildDir)
	if err != nil {
		return nil, errors.Wrapf(err, "build directory %s", buildDir)
	}

	if !info.IsDir() {
		return nil, errors.Errorf("build path %s is not a directory", buildDir)
	}

	return &shellHandle{backend: b, buildDir: buildDir, packageName: name}, nil
}

// Wheel invokes `python -m build --wheel --outdir <outDir>` and returns the
// filename of the single wheel it produced.
func (h *shellHandle) Wheel(ctx context.Context, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating build output dir %s", outDir)
	}

	before, err := listWheels(outDir)
	if err != nil {
		return "", err
	}

	output, err := h.backend.runCmd(ctx, h.buildDir, h.backend.pythonBin, "-m", "build", "--wheel", "--outdir", outDir, h.buildDir)
	if err != nil {
		return "", &BuildError{SourcePath: h.buildDir, Output: string(output), Cause: err}
	}

	filename, ok := newWheel(before, output, outDir)
	if !ok {
		after, err := listWheels(outDir)
		if err != nil {
			return "", err
		}

		filename, ok = diffNewest(before, after)
		if !ok {
			return "", &BuildError{
				SourcePath: h.buildDir,
				Output:     string(output),
				Cause:      errors.New("build frontend reported success but produced no new wheel"),
			}
		}
	}

	return filename, nil
}

func listWheels(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}

		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	out := map[string]bool{}

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".whl") {
			out[e.Name()] = true
		}
	}

	return out, nil
}

func diffNewest(before, after map[string]bool) (string, bool) {
	for name := range after {
		if !before[name] {
			return name, true
		}
	}

	return "", false
}

// newWheel extracts the produced wheel's filename from the build frontend's
// "Successfully built <name>.whl" summary line when present and the named
// file exists in outDir; otherwise it reports false and Wheel falls back to
// the before/after directory diff.
func newWheel(before map[string]bool, output []byte, outDir string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(output))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		const marker = "Successfully built "
		idx := strings.Index(line, marker)
		if idx == -1 {
			continue
		}

		candidate := strings.TrimSpace(line[idx+len(marker):])
		if !strings.HasSuffix(candidate, ".whl") {
			continue
		}

		if _, err := os.Stat(filepath.Join(outDir, candidate)); err == nil {
			return candidate, true
		}
	}

	_ = before

	return "", false
}

// defaultRunCmd runs a command with its working directory set to dir.
func defaultRunCmd(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	return cmd.CombinedOutput()
}
