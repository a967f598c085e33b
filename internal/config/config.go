// Package config loads pipwright's project configuration: an optional
// pipwright.toml file, overridden by PIPWRIGHT_* environment variables,
// overridden in turn by whatever the caller (cmd/pipwright's CLI flags)
// applies last. Grounded on clearlinux-mixer-tools' config package, which
// loads its builder.conf the same way: a flat TOML-tagged struct with
// LoadDefaults filling in sane values before the file is even read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pipwright/pipwright/internal/index"
	"github.com/pipwright/pipwright/internal/installer"
	"github.com/pipwright/pipwright/internal/selector"
)

// Config is pipwright's project configuration, as read from pipwright.toml.
type Config struct {
	Index indexConf `toml:"index"`
	Build buildConf `toml:"build"`
	Cache cacheConf `toml:"cache"`

	// DependencyGroups maps a group name to its member requirement
	// strings, e.g.:
	//
	//	[dependency-groups]
	//	test = ["pytest>=8", "pytest-cov"]
	//
	// A group is only folded into a resolve when named by --group, per
	// spec.md §4.6's "dependency groups ... only active when the group
	// is requested at the root".
	DependencyGroups map[string][]string `toml:"dependency-groups"`
}

type indexConf struct {
	URLs     []string `toml:"urls"`
	Strategy string   `toml:"strategy"` // "first-index" (default), "unsafe-any", "unsafe-best-match"
}

type buildConf struct {
	Mode         string `toml:"resolution"`   // "highest" (default), "lowest", or "lowest-direct"
	PreRelease   string `toml:"prerelease"`    // "if-necessary" (default), "disallow", "allow", "explicit"
	LinkMode     string `toml:"link-mode"`     // "" (platform default), "hardlink", "clone", "symlink", "copy"
	ExcludeNewer string `toml:"exclude-newer"` // RFC 3339 timestamp; files published after it are ignored
	NoBuild      bool   `toml:"no-build"`
}

type cacheConf struct {
	Dir string `toml:"dir"`
}

// LoadDefaults fills in Config with pipwright's built-in defaults, the way
// clearlinux-mixer-tools' MixConfig.LoadDefaults seeds builder.conf before
// any file is read.
func (c *Config) LoadDefaults() {
	c.Index.URLs = []string{"https://pypi.org/simple/"}
	c.Index.Strategy = string(index.StrategyFirstIndex)
	c.Build.Mode = "highest"
	c.Build.PreRelease = "if-necessary"
}

// Load reads path (if it exists; a missing file is not an error, matching
// the optional-project-config contract) into a Config seeded with
// LoadDefaults, then applies PIPWRIGHT_* environment overrides.
func Load(path string) (*Config, error) {
	c := &Config{}
	c.LoadDefaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, c); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	c.applyEnv()

	return c, nil
}

// applyEnv overlays PIPWRIGHT_* environment variables onto fields already
// populated from the TOML file, the same override order the teacher's CLI
// applies between its flags and defaults (flags win last, in cmd/pipwright).
func (c *Config) applyEnv() {
	if v := os.Getenv("PIPWRIGHT_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}

	if v := os.Getenv("PIPWRIGHT_INDEX_URL"); v != "" {
		c.Index.URLs = []string{v}
	}

	if v := os.Getenv("PIPWRIGHT_EXTRA_INDEX_URLS"); v != "" {
		c.Index.URLs = append(c.Index.URLs, strings.Split(v, ",")...)
	}

	if v := os.Getenv("PIPWRIGHT_INDEX_STRATEGY"); v != "" {
		c.Index.Strategy = v
	}

	if v := os.Getenv("PIPWRIGHT_LINK_MODE"); v != "" {
		c.Build.LinkMode = v
	}

	if v := os.Getenv("PIPWRIGHT_NO_BUILD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Build.NoBuild = b
		}
	}

	if v := os.Getenv("PIPWRIGHT_EXCLUDE_NEWER"); v != "" {
		c.Build.ExcludeNewer = v
	}
}

// IndexStrategy resolves the configured strategy string to an index.Strategy,
// falling back to first-index for an unrecognized value.
func (c *Config) IndexStrategy() index.Strategy {
	switch index.Strategy(c.Index.Strategy) {
	case index.StrategyUnsafeAny:
		return index.StrategyUnsafeAny
	case index.StrategyUnsafeBestMatch:
		return index.StrategyUnsafeBestMatch
	default:
		return index.StrategyFirstIndex
	}
}

// SelectorMode resolves the configured resolution mode to a selector.Mode.
func (c *Config) SelectorMode() selector.Mode {
	switch c.Build.Mode {
	case "lowest":
		return selector.ModeLowest
	case "lowest-direct":
		return selector.ModeLowestDirect
	default:
		return selector.ModeHighest
	}
}

// SelectorPreRelease resolves the configured prerelease policy to a
// selector.PreRelease.
func (c *Config) SelectorPreRelease() selector.PreRelease {
	switch c.Build.PreRelease {
	case "disallow":
		return selector.PreReleaseDisallow
	case "allow":
		return selector.PreReleaseAllow
	case "explicit":
		return selector.PreReleaseExplicit
	default:
		return selector.PreReleaseIfNecessary
	}
}

// ExcludeNewerTime parses the configured exclude-newer cutoff, if any. ok is
// false when unset or unparseable, in which case no cutoff should be applied.
func (c *Config) ExcludeNewerTime() (cutoff time.Time, ok bool) {
	if c.Build.ExcludeNewer == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, c.Build.ExcludeNewer)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// LinkMode resolves the configured link-mode override, if any. ok is false
// when the config leaves it unset and the platform default should apply.
func (c *Config) LinkMode() (mode installer.LinkMode, ok bool) {
	switch strings.ToLower(c.Build.LinkMode) {
	case "hardlink":
		return installer.LinkHardlink, true
	case "clone":
		return installer.LinkClone, true
	case "symlink":
		return installer.LinkSymlink, true
	case "copy":
		return installer.LinkCopy, true
	default:
		return 0, false
	}
}
