package installer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/pipwright/pipwright/internal/pep508"
)

// InstalledDist describes one distribution already present in a site
// directory, discovered by scanning for *.dist-info directories.
type InstalledDist struct {
	Name        string
	Version     string
	DistInfoDir string
}

// ScanInventory walks a site-packages directory and returns every installed
// distribution, keyed by normalized name. It is read-only: the install
// planner (spec.md §4.7) must never mutate site state while planning.
func ScanInventory(siteDir string) (map[string]InstalledDist, error) {
	entries, err := os.ReadDir(siteDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]InstalledDist{}, nil
		}

		return nil, errors.Wrapf(err, "reading site directory %s", siteDir)
	}

	inventory := make(map[string]InstalledDist, len(entries))

	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".dist-info") {
			continue
		}

		distInfoDir := filepath.Join(siteDir, e.Name())

		name, version, err := readDistInfoMetadata(filepath.Join(distInfoDir, "METADATA"))
		if err != nil {
			continue
		}

		inventory[pep508.NormalizeName(name)] = InstalledDist{
			Name:        name,
			Version:     version,
			DistInfoDir: distInfoDir,
		}
	}

	return inventory, nil
}

// readDistInfoMetadata scans a METADATA file's header block for its Name
// and Version fields. Deliberately narrow, mirroring
// internal/sourcedist's wheel METADATA scan: the format isn't RFC
// 822-compliant enough for net/mail, and no pack example parses it as a
// structured document.
func readDistInfoMetadata(path string) (name, version string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // header block ends at the first blank line
		}

		switch {
		case strings.HasPrefix(line, "Name:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "Version:"):
			version = strings.TrimSpace(strings.TrimPrefix(line, "Version:"))
		}

		if name != "" && version != "" {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return "", "", err
	}

	if name == "" || version == "" {
		return "", "", errors.Errorf("missing Name/Version in %s", path)
	}

	return name, version, nil
}
