//go:build !linux

package installer

import "errors"

// reflinkFile has no implementation outside Linux's FICLONE ioctl in this
// module (no macOS clonefile(2) binding, see DESIGN.md). Clone mode falls
// back to Copy on its first attempt via the sticky fallback state machine.
func reflinkFile(_, _ string) error {
	return errors.New("reflink unsupported on this platform")
}
