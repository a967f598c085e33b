package installer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// LinkMode is the filesystem mechanism used to place a file from a staged
// wheel tree into the site directory (spec.md §4.8).
type LinkMode int

const (
	LinkHardlink LinkMode = iota
	LinkClone
	LinkSymlink
	LinkCopy
)

func (m LinkMode) String() string {
	switch m {
	case LinkClone:
		return "clone"
	case LinkSymlink:
		return "symlink"
	case LinkCopy:
		return "copy"
	default:
		return "hardlink"
	}
}

// defaultLinkMode picks Clone on macOS and Hardlink elsewhere, per spec.md
// §4.8. The Clone path itself only has a real implementation on Linux
// (FICLONE, see reflink_linux.go); on Darwin it falls back to Copy on its
// first attempt via the sticky fallback below rather than shelling out to
// clonefile(2), which this module doesn't implement (see DESIGN.md).
func defaultLinkMode() LinkMode {
	if runtime.GOOS == "darwin" {
		return LinkClone
	}

	return LinkHardlink
}

// fallbackState implements spec.md §4.8's state machine: Initial moves to
// either Subsequent (on success) or UseCopyFallback (on the first failure,
// sticky); once in Subsequent, any further error is fatal.
type fallbackState int

const (
	fallbackInitial fallbackState = iota
	fallbackSubsequent
	fallbackUseCopy
)

// linker places staged files into a site directory under one link mode,
// tracking the per-install sticky-fallback state and serializing plain
// copies per destination directory (spec.md §4.8's "Copy: directory writes
// serialized per destination directory via an in-process lock").
type linker struct {
	mode    LinkMode
	state   fallbackState
	warned  bool
	logger  *slog.Logger
	dirLock sync.Map // map[string]*sync.Mutex
}

func newLinker(mode LinkMode, logger *slog.Logger) *linker {
	return &linker{mode: mode, logger: logger}
}

// place installs src at dst. RECORD entries are always copied, never
// linked, because they're rewritten after every wheel is placed.
func (l *linker) place(src, dst string, isRecord bool) error {
	if isRecord || l.state == fallbackUseCopy || l.mode == LinkCopy {
		return l.copy(src, dst)
	}

	var linkErr error

	switch l.mode {
	case LinkClone:
		linkErr = reflinkFile(src, dst)
	case LinkHardlink:
		linkErr = os.Link(src, dst)
	case LinkSymlink:
		linkErr = os.Symlink(src, dst)
	}

	if linkErr == nil {
		l.state = fallbackSubsequent
		return nil
	}

	if l.state == fallbackSubsequent {
		return fmt.Errorf("linking %s (%s mode): %w", dst, l.mode, linkErr)
	}

	l.state = fallbackUseCopy

	if !l.warned {
		l.warned = true
		l.logger.Warn("link mode unsupported, falling back to copy",
			slog.String("mode", l.mode.String()), slog.String("error", linkErr.Error()))
	}

	return l.copy(src, dst)
}

func (l *linker) copy(src, dst string) error {
	mu := l.lockFor(filepath.Dir(dst))
	mu.Lock()
	defer mu.Unlock()

	return copyFileContents(src, dst)
}

func (l *linker) lockFor(dir string) *sync.Mutex {
	v, _ := l.dirLock.LoadOrStore(dir, &sync.Mutex{})

	return v.(*sync.Mutex)
}

// copyFileContents copies src to dst, preserving src's permission bits
// (in particular the executable bit for console scripts).
func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("writing %s: %w", dst, err)
	}

	return out.Close()
}

// collisionEntry records one wheel's claim on a relative install path, for
// the cross-wheel collision detection spec.md §4.8 requires.
type collisionEntry struct {
	wheel string
	path  string
	size  int64
}
