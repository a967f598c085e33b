package selector_test

import (
	"testing"

	"github.com/pipwright/pipwright/internal/index"
	"github.com/pipwright/pipwright/internal/pep440"
	"github.com/pipwright/pipwright/internal/selector"
	"github.com/pipwright/pipwright/internal/tags"
)

func linuxCPython312Tags() []tags.Tag {
	return tags.BuildEnvironmentTags("cp312", "cp312", "manylinux_2_17_x86_64")
}

func mustSpecSet(t *testing.T, s string) pep440.SpecifierSet {
	t.Helper()

	ss, err := pep440.ParseSpecifierSet(s)
	if err != nil {
		t.Fatalf("ParseSpecifierSet(%q) error: %v", s, err)
	}

	return ss
}

func mustVersion(t *testing.T, s string) pep440.Version {
	t.Helper()

	v, err := pep440.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", s, err)
	}

	return v
}

func TestSelectPicksHighestCompatibleWheel(t *testing.T) {
	files := []index.File{
		{Filename: "flask-1.0.0-py3-none-any.whl", Version: "1.0.0", PackageType: "bdist_wheel"},
		{Filename: "flask-2.0.0-py3-none-any.whl", Version: "2.0.0", PackageType: "bdist_wheel"},
	}

	cand, err := selector.Select(selector.Input{
		Name:     "flask",
		Range:    mustSpecSet(t, ">=1.0.0"),
		Files:    files,
		Strategy: index.StrategyFirstIndex,
		EnvTags:  linuxCPython312Tags(),
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	if cand.Version.String() != "2.0.0" {
		t.Errorf("Version = %q, want 2.0.0", cand.Version.String())
	}
}

func TestSelectSkipsPreReleaseByDefault(t *testing.T) {
	files := []index.File{
		{Filename: "flask-1.0.0-py3-none-any.whl", Version: "1.0.0", PackageType: "bdist_wheel"},
		{Filename: "flask-2.0.0rc1-py3-none-any.whl", Version: "2.0.0rc1", PackageType: "bdist_wheel"},
	}

	cand, err := selector.Select(selector.Input{
		Name:     "flask",
		Range:    mustSpecSet(t, ">=1.0.0"),
		Files:    files,
		Strategy: index.StrategyFirstIndex,
		EnvTags:  linuxCPython312Tags(),
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	if cand.Version.String() != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0 (pre-release excluded)", cand.Version.String())
	}
}

func TestSelectAllowsPreReleaseWhenExplicitlyRequested(t *testing.T) {
	files := []index.File{
		{Filename: "flask-2.0.0rc1-py3-none-any.whl", Version: "2.0.0rc1", PackageType: "bdist_wheel"},
	}

	cand, err := selector.Select(selector.Input{
		Name:     "flask",
		Range:    mustSpecSet(t, "==2.0.0rc1"),
		Files:    files,
		Strategy: index.StrategyFirstIndex,
		EnvTags:  linuxCPython312Tags(),
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	if cand.Version.String() != "2.0.0rc1" {
		t.Errorf("Version = %q, want 2.0.0rc1", cand.Version.String())
	}
}

func TestSelectPrefersInstalledWhenNotUpgrading(t *testing.T) {
	files := []index.File{
		{Filename: "flask-2.0.0-py3-none-any.whl", Version: "2.0.0", PackageType: "bdist_wheel"},
	}

	cand, err := selector.Select(selector.Input{
		Name:      "flask",
		Range:     mustSpecSet(t, ">=1.0.0"),
		Files:     files,
		Strategy:  index.StrategyFirstIndex,
		EnvTags:   linuxCPython312Tags(),
		Installed: &selector.Installed{Version: mustVersion(t, "2.0.0")},
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	if !cand.Installed {
		t.Error("expected the installed candidate to win when not upgrading and it's at least as good")
	}
}

func TestSelectUpgradePrefersIndexOverInstalled(t *testing.T) {
	files := []index.File{
		{Filename: "flask-2.0.0-py3-none-any.whl", Version: "2.0.0", PackageType: "bdist_wheel"},
	}

	cand, err := selector.Select(selector.Input{
		Name:      "flask",
		Range:     mustSpecSet(t, ">=1.0.0"),
		Files:     files,
		Strategy:  index.StrategyFirstIndex,
		EnvTags:   linuxCPython312Tags(),
		Installed: &selector.Installed{Version: mustVersion(t, "1.0.0")},
		Upgrade:   true,
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	if cand.Installed || cand.Version.String() != "2.0.0" {
		t.Errorf("expected upgrade to 2.0.0 from index, got %+v", cand)
	}
}

func TestSelectPreferenceWinsWhenSatisfying(t *testing.T) {
	files := []index.File{
		{Filename: "flask-2.0.0-py3-none-any.whl", Version: "2.0.0", PackageType: "bdist_wheel"},
	}

	cand, err := selector.Select(selector.Input{
		Name:        "flask",
		Range:       mustSpecSet(t, ">=1.0.0"),
		Files:       files,
		Strategy:    index.StrategyFirstIndex,
		EnvTags:     linuxCPython312Tags(),
		Preferences: []selector.Preference{{Version: mustVersion(t, "1.5.0")}},
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	if cand.Version.String() != "1.5.0" {
		t.Errorf("Version = %q, want 1.5.0 (locked preference)", cand.Version.String())
	}
}

func TestSelectIncompatibleWhenNoTagMatches(t *testing.T) {
	files := []index.File{
		{Filename: "flask-1.0.0-cp39-cp39-win_amd64.whl", Version: "1.0.0", PackageType: "bdist_wheel"},
	}

	_, err := selector.Select(selector.Input{
		Name:     "flask",
		Range:    mustSpecSet(t, ">=1.0.0"),
		Files:    files,
		Strategy: index.StrategyFirstIndex,
		EnvTags:  linuxCPython312Tags(),
	})
	if err == nil {
		t.Fatal("expected an Incompatible error")
	}

	var incompat *selector.Incompatible
	if !asIncompatible(err, &incompat) {
		t.Errorf("expected *selector.Incompatible, got %T: %v", err, err)
	}
}

func asIncompatible(err error, target **selector.Incompatible) bool {
	if e, ok := err.(*selector.Incompatible); ok {
		*target = e

		return true
	}

	return false
}
