package python

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pipwright/pipwright/internal/markers"
	"github.com/pipwright/pipwright/internal/tags"
)

// pythonScript is the single Python command that collects all environment
// info: both the installer-facing paths the teacher's original script
// gathered, and the full PEP 508 marker variable set plus the ABI tag
// needed to compute compatible wheel tags.
const pythonScript = `import sys, site, sysconfig, platform, os
print(sys.prefix)
print(site.getsitepackages()[0])
print(sysconfig.get_platform())
print(f'{sys.version_info.major}{sys.version_info.minor}')
print(sys.executable)
print(platform.python_version())
print(os.name)
print(sys.platform)
print(platform.machine())
print(platform.python_implementation())
print(platform.release())
print(platform.system())
print(platform.version())
print(sys.implementation.name)
print('.'.join(str(p) for p in sys.implementation.version[:3]))
print(sysconfig.get_config_var('SOABI') or '')`

// expectedOutputLines is the number of lines expected from pythonScript.
const expectedOutputLines = 16

// Detector defines the interface for detecting a Python environment.
type Detector interface {
	Detect(ctx context.Context) (*Environment, error)
}

// Environment represents a detected Python environment: both the
// installer-facing layout (Prefix/SitePackages/PythonPath) and the full
// marker/tag-building environment (everything else).
type Environment struct {
	PythonPath    string // path to the python binary
	Prefix        string // sys.prefix
	SitePackages  string // site-packages directory
	PlatformTag   string // e.g., "macosx-14.0-arm64" (sysconfig.get_platform())
	PythonVersion string // e.g., "312" (sys.version_info major+minor, no dot)
	IsVirtualEnv  bool

	PythonFullVersion  string // e.g., "3.12.1"
	OSName             string // os.name: "posix" or "nt"
	SysPlatform        string // sys.platform: "linux", "darwin", "win32"
	PlatformMachine    string // platform.machine(): "x86_64", "arm64"
	PlatformPythonImpl string // platform.python_implementation(): "CPython"
	PlatformRelease    string
	PlatformSystem     string
	PlatformVersion    string
	ImplementationName    string // sys.implementation.name: "cpython"
	ImplementationVersion string // sys.implementation.version, e.g. "3.12.1"
	ABITag                string // sysconfig SOABI, empty for pure-Python builds
}

// CommandRunner executes a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// EnvLookup looks up an environment variable.
type EnvLookup func(string) string

// Option configures a Service.
type Option func(*Service)

// WithPythonBin sets the python binary path.
// Defaults to "python3".
func WithPythonBin(bin string) Option {
	return func(s *Service) {
		if bin != "" {
			s.pythonBin = bin
		}
	}
}

// WithCommandRunner sets the command runner for executing external processes.
// Defaults to exec.CommandContext.
func WithCommandRunner(fn CommandRunner) Option {
	return func(s *Service) {
		if fn != nil {
			s.runCmd = fn
		}
	}
}

// WithEnvLookup sets the function used to read environment variables.
// Defaults to os.Getenv.
func WithEnvLookup(fn EnvLookup) Option {
	return func(s *Service) {
		if fn != nil {
			s.getenv = fn
		}
	}
}

// Service detects the active Python environment by inspecting
// environment variables and running the python binary.
type Service struct {
	pythonBin string
	runCmd    CommandRunner
	getenv    EnvLookup
}

// compile-time proof that Service implements Detector.
var _ Detector = (*Service)(nil)

// New creates a new Python environment detector.
func New(opts ...Option) *Service {
	s := &Service{
		pythonBin: "python3",
		runCmd:    defaultRunCmd,
		getenv:    os.Getenv,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Detect detects the active Python environment.
// It first checks the VIRTUAL_ENV env var, then runs the python binary
// to determine prefix, site-packages path, platform tag, version, and the
// full marker-variable/ABI set.
func (s *Service) Detect(ctx context.Context) (*Environment, error) {
	env := &Environment{}

	if venv := s.getenv("VIRTUAL_ENV"); venv != "" {
		env.IsVirtualEnv = true
	}

	output, err := s.runCmd(ctx, s.pythonBin, "-c", pythonScript)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", s.pythonBin, err)
	}

	lines := strings.Split(strings.TrimSuffix(string(output), "\n"), "\n")
	if len(lines) != expectedOutputLines {
		return nil, fmt.Errorf("unexpected output from %s: expected %d lines, got %d",
			s.pythonBin, expectedOutputLines, len(lines))
	}

	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	env.Prefix = lines[0]
	env.SitePackages = lines[1]
	env.PlatformTag = lines[2]
	env.PythonVersion = lines[3]
	env.PythonPath = lines[4]
	env.PythonFullVersion = lines[5]
	env.OSName = lines[6]
	env.SysPlatform = lines[7]
	env.PlatformMachine = lines[8]
	env.PlatformPythonImpl = lines[9]
	env.PlatformRelease = lines[10]
	env.PlatformSystem = lines[11]
	env.PlatformVersion = lines[12]
	env.ImplementationName = lines[13]
	env.ImplementationVersion = lines[14]
	env.ABITag = lines[15]

	return env, nil
}

// MarkerEnvironment converts the detected environment into the
// markers.Environment PEP 508 marker evaluation consumes.
func (e *Environment) MarkerEnvironment() markers.Environment {
	return markers.Environment{
		PythonVersion:         majorMinor(e.PythonFullVersion),
		PythonFullVersion:     e.PythonFullVersion,
		OsName:                e.OSName,
		SysPlatform:           e.SysPlatform,
		PlatformMachine:       e.PlatformMachine,
		PlatformPythonImpl:    e.PlatformPythonImpl,
		PlatformRelease:       e.PlatformRelease,
		PlatformSystem:        e.PlatformSystem,
		PlatformVersion:       e.PlatformVersion,
		ImplementationName:    e.ImplementationName,
		ImplementationVersion: e.ImplementationVersion,
	}
}

// EnvironmentTags computes the wheel tags this environment is compatible
// with, by deriving the interpreter tag from PythonVersion and the ABI tag
// from the detected SOABI (falling back to "none" for a pure-Python build).
// A CPython SOABI such as "cpython-312-x86_64-linux-gnu" becomes "cp312";
// any other SOABI is used as the ABI tag unchanged.
func (e *Environment) EnvironmentTags() []tags.Tag {
	pyTag := "cp" + e.PythonVersion
	if strings.EqualFold(e.PlatformPythonImpl, "PyPy") {
		pyTag = "pp" + e.PythonVersion
	}

	abiTag := e.ABITag
	if rest, ok := strings.CutPrefix(abiTag, "cpython-"); ok {
		abiTag = "cp" + strings.SplitN(rest, "-", 2)[0]
	}

	if abiTag == "" {
		abiTag = "none"
	}

	return tags.BuildEnvironmentTags(pyTag, abiTag, tags.NormalizeSysconfigPlatform(e.PlatformTag))
}

func majorMinor(fullVersion string) string {
	parts := strings.SplitN(fullVersion, ".", 3)
	if len(parts) < 2 {
		return fullVersion
	}

	return parts[0] + "." + parts[1]
}

// defaultRunCmd executes a command using exec.CommandContext.
func defaultRunCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
