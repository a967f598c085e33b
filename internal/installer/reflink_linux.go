//go:build linux

package installer

import (
	"os"

	"golang.org/x/sys/unix"
)

// reflinkFile clones src to dst via the FICLONE ioctl, giving a
// copy-on-write duplicate on filesystems that support it (btrfs, xfs,
// recent ext4 with reflink=1). Any error here — including a destination
// filesystem that doesn't support reflinks at all — is treated by the
// caller as "fall back to Copy", matching spec.md §4.8's EXDEV/ENOTSUP
// fallback rule.
func reflinkFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		_ = os.Remove(dst)

		return err
	}

	return nil
}
