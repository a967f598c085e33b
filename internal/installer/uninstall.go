package installer

import (
	"fmt"
	"os"
	"path/filepath"
)

// Uninstall removes every file an installed distribution's RECORD lists,
// then the now-empty dist-info directory itself. Used both for the
// reinstall bucket (remove before placing the replacement) and for
// explicit extraneous cleanup (spec.md §4.7: "only reported, not removed
// unless the caller asks").
func Uninstall(siteDir, distInfoDir string) error {
	entries, err := ReadRecord(distInfoDir)
	if err != nil {
		return fmt.Errorf("reading RECORD for %s: %w", distInfoDir, err)
	}

	for _, e := range entries {
		path := filepath.Join(siteDir, e.Path)

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	if err := os.RemoveAll(distInfoDir); err != nil {
		return fmt.Errorf("removing %s: %w", distInfoDir, err)
	}

	return nil
}
