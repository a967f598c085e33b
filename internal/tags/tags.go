// Package tags implements PEP 425/600/656 wheel compatibility tags: parsing
// a wheel filename's tag triple and deciding whether it's compatible with a
// target environment, including the numeric manylinux/musllinux glibc-version
// gate and macOS deployment-version gate that a flat string-equality check
// can't express.
package tags

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is a single PEP 425 compatibility tag triple, e.g. (cp312, cp312,
// manylinux_2_17_x86_64).
type Tag struct {
	Interpreter string
	ABI         string
	Platform    string
}

func (t Tag) String() string {
	return fmt.Sprintf("%s-%s-%s", t.Interpreter, t.ABI, t.Platform)
}

// ParseError is returned for a malformed wheel filename.
type ParseError struct {
	Filename string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tags: invalid wheel filename %q: %s", e.Filename, e.Reason)
}

// ParseWheelFilename parses a wheel filename into its name, version, and
// tag triples. A wheel filename may encode more than one tag triple by
// compounding the interpreter/ABI/platform fields with ".", meaning the
// wheel was built for any one of the cross product of those fields — the
// fields are split out here rather than expanded, since most callers want
// the compact compound form for compatibility checks.
func ParseWheelFilename(filename string) (name, version string, compound Tag, err error) {
	trimmed := strings.TrimSuffix(filename, ".whl")
	if trimmed == filename {
		return "", "", Tag{}, &ParseError{Filename: filename, Reason: "missing .whl extension"}
	}

	parts := strings.Split(trimmed, "-")
	if len(parts) < 5 {
		return "", "", Tag{}, &ParseError{Filename: filename, Reason: "expected at least 5 dash-separated components"}
	}

	compound = Tag{
		Interpreter: parts[len(parts)-3],
		ABI:         parts[len(parts)-2],
		Platform:    parts[len(parts)-1],
	}

	name = parts[0]
	version = parts[1]

	return name, version, compound, nil
}

// Expand expands a compound tag's "."-joined fields into the full set of
// concrete tag triples it represents, e.g. "py2.py3-none-any" expands to
// two triples.
func Expand(compound Tag) []Tag {
	interpreters := strings.Split(compound.Interpreter, ".")
	abis := strings.Split(compound.ABI, ".")
	platforms := strings.Split(compound.Platform, ".")

	var out []Tag
	for _, i := range interpreters {
		for _, a := range abis {
			for _, p := range platforms {
				out = append(out, Tag{Interpreter: i, ABI: a, Platform: p})
			}
		}
	}

	return out
}

// Compatible reports whether any tag triple encoded by the wheel's compound
// tag matches one of the environment's ordered candidate tags, and if so at
// what priority (lower is better; index into envTags). The environment's
// tag list is assumed already expanded (by BuildEnvironmentTags) to include
// every manylinux/musllinux/macOS fallback in priority order, so this
// function itself does only literal/numeric matching, never falling back —
// matching the teacher's SelectWheel loop structure (best i wins, 0 short
// circuits).
func Compatible(wheel Tag, envTags []Tag) (ok bool, priority int) {
	best := -1

	for _, candidate := range Expand(wheel) {
		for i, want := range envTags {
			if best != -1 && i >= best {
				break
			}

			if tagMatches(candidate, want) {
				best = i

				break
			}
		}

		if best == 0 {
			break
		}
	}

	if best == -1 {
		return false, 0
	}

	return true, best
}

func tagMatches(wheel, want Tag) bool {
	if wheel.Interpreter != want.Interpreter {
		return false
	}

	if wheel.ABI != want.ABI {
		return false
	}

	return platformMatches(wheel.Platform, want.Platform)
}

// platformMatches compares a wheel's literal platform tag against a
// concrete candidate platform tag the environment already expanded to, so
// this is exact string equality once manylinux/musllinux/macOS gating has
// already produced the candidate list — the numeric comparison itself lives
// in BuildEnvironmentTags, not here, so a wheel tagged "manylinux_2_17_x86_64"
// is matched against an environment candidate of the same literal string.
func platformMatches(wheelPlatform, wantPlatform string) bool {
	return wheelPlatform == wantPlatform
}

// manylinuxGlibc parses a "manylinux_N_M_arch" or legacy "manylinuxYYYY_arch"
// platform tag into its glibc version and arch. ok is false for non-manylinux
// platforms.
func manylinuxGlibc(platform string) (major, minor int, arch string, ok bool) {
	switch {
	case strings.HasPrefix(platform, "manylinux_"):
		rest := strings.TrimPrefix(platform, "manylinux_")
		parts := strings.SplitN(rest, "_", 3)
		if len(parts) != 3 {
			return 0, 0, "", false
		}

		maj, err1 := strconv.Atoi(parts[0])
		min, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return 0, 0, "", false
		}

		return maj, min, parts[2], true

	case strings.HasPrefix(platform, "manylinux1_"):
		return 2, 5, strings.TrimPrefix(platform, "manylinux1_"), true
	case strings.HasPrefix(platform, "manylinux2010_"):
		return 2, 12, strings.TrimPrefix(platform, "manylinux2010_"), true
	case strings.HasPrefix(platform, "manylinux2014_"):
		return 2, 17, strings.TrimPrefix(platform, "manylinux2014_"), true
	default:
		return 0, 0, "", false
	}
}

// musllinuxVersion parses a "musllinux_N_M_arch" platform tag.
func musllinuxVersion(platform string) (major, minor int, arch string, ok bool) {
	if !strings.HasPrefix(platform, "musllinux_") {
		return 0, 0, "", false
	}

	rest := strings.TrimPrefix(platform, "musllinux_")
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 {
		return 0, 0, "", false
	}

	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, "", false
	}

	return maj, min, parts[2], true
}

// macosVersion parses a "macosx_N_M_arch" platform tag.
func macosVersion(platform string) (major, minor int, arch string, ok bool) {
	if !strings.HasPrefix(platform, "macosx_") {
		return 0, 0, "", false
	}

	parts := strings.SplitN(strings.TrimPrefix(platform, "macosx_"), "_", 3)
	if len(parts) != 3 {
		return 0, 0, "", false
	}

	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, "", false
	}

	return maj, min, parts[2], true
}

func geVersion(major, minor, wantMajor, wantMinor int) bool {
	if major != wantMajor {
		return major > wantMajor
	}

	return minor >= wantMinor
}
