package tags

import (
	"fmt"
	"strings"
)

// supportedManylinux is the set of glibc-versioned manylinux generations
// pip/uv advertise, newest first. The three legacy aliases are added
// separately by legacyManylinuxAliases.
var supportedManylinux = []struct {
	major, minor int
}{
	{2, 39}, {2, 38}, {2, 37}, {2, 36}, {2, 35}, {2, 34},
	{2, 31}, {2, 28}, {2, 24}, {2, 17}, {2, 12}, {2, 5},
}

var supportedMusllinux = []struct {
	major, minor int
}{
	{1, 2}, {1, 1}, {1, 0},
}

// BuildEnvironmentTags generates the priority-ordered list of compatible
// wheel tags for a target interpreter/platform, generalizing the teacher's
// buildCompatTags/expandPlatform into full numeric manylinux/musllinux/macOS
// gating instead of a fixed string list: a manylinux_2_28 wheel is offered
// to an environment reporting glibc 2.35 because 2.35 >= 2.28, not because
// "2_28" appears in a hardcoded slice.
//
// platformTag is the environment's own concrete platform tag, e.g.
// "manylinux_2_35_x86_64", "musllinux_1_2_x86_64", "macosx_14_0_arm64", or
// "win_amd64". pyTag is the interpreter tag, e.g. "cp312". abiTag is the
// ABI tag, e.g. "cp312" or "cp312t" for free-threaded builds.
func BuildEnvironmentTags(pyTag, abiTag, platformTag string) []Tag {
	var out []Tag

	platforms := expandPlatform(platformTag)
	pyMajor := "py" + strings.TrimPrefix(pyTag, "cp")[:1]

	for _, plat := range platforms {
		out = append(out, Tag{Interpreter: pyTag, ABI: abiTag, Platform: plat})
	}

	for _, plat := range platforms {
		out = append(out, Tag{Interpreter: pyTag, ABI: "abi3", Platform: plat})
	}

	for _, plat := range platforms {
		out = append(out, Tag{Interpreter: pyTag, ABI: "none", Platform: plat})
	}

	for _, plat := range platforms {
		out = append(out, Tag{Interpreter: pyMajor, ABI: "none", Platform: plat})
	}

	out = append(out, Tag{Interpreter: pyTag, ABI: "none", Platform: "any"})
	out = append(out, Tag{Interpreter: pyMajor, ABI: "none", Platform: "any"})

	return out
}

// expandPlatform expands a concrete platform tag into every platform tag a
// wheel could be labeled with and still run here, ordered newest/most
// specific first.
func expandPlatform(platform string) []string {
	platforms := []string{platform}

	if maj, min, arch, ok := manylinuxGlibc(platform); ok {
		for _, gen := range supportedManylinux {
			if geVersion(maj, min, gen.major, gen.minor) {
				platforms = append(platforms, fmt.Sprintf("manylinux_%d_%d_%s", gen.major, gen.minor, arch))
			}
		}

		platforms = append(platforms, legacyManylinuxAliases(maj, min, arch)...)
	}

	if maj, min, arch, ok := musllinuxVersion(platform); ok {
		for _, gen := range supportedMusllinux {
			if geVersion(maj, min, gen.major, gen.minor) {
				platforms = append(platforms, fmt.Sprintf("musllinux_%d_%d_%s", gen.major, gen.minor, arch))
			}
		}
	}

	if maj, min, arch, ok := macosVersion(platform); ok {
		platforms = append(platforms, fmt.Sprintf("macosx_%d_%d_universal2", maj, min))

		minMajor := 10
		if arch == "arm64" {
			minMajor = 11
		}

		for v := maj - 1; v >= minMajor; v-- {
			minor := 0
			if v == 10 {
				minor = 9
			}

			platforms = append(platforms,
				fmt.Sprintf("macosx_%d_%d_%s", v, minor, arch),
				fmt.Sprintf("macosx_%d_%d_universal2", v, minor),
			)
		}
	}

	return platforms
}

// legacyManylinuxAliases returns the pre-PEP 600 manylinuxYYYY tags that
// correspond to a glibc version at or below what the environment offers.
func legacyManylinuxAliases(maj, min int, arch string) []string {
	var out []string

	if geVersion(maj, min, 2, 17) {
		out = append(out, "manylinux2014_"+arch)
	}

	if geVersion(maj, min, 2, 12) {
		out = append(out, "manylinux2010_"+arch)
	}

	if geVersion(maj, min, 2, 5) {
		out = append(out, "manylinux1_"+arch)
	}

	return out
}

// NormalizeSysconfigPlatform converts a sysconfig-style platform tag
// ("macosx-14.0-arm64") into wheel-tag form ("macosx_14_0_arm64"), kept
// verbatim from the teacher's wheelPlatform helper.
func NormalizeSysconfigPlatform(sysTag string) string {
	s := strings.ReplaceAll(sysTag, "-", "_")

	return strings.ReplaceAll(s, ".", "_")
}
