package sourcedist

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// extractArchive extracts a source archive (sdist .tar.gz/.tar.zst, or
// occasionally a .zip) at srcPath into destDir, guarding every entry against
// path traversal the same way the teacher's isInsideDir check does for wheel
// extraction in internal/installer/installer.go.
func extractArchive(srcPath, destDir string) error {
	switch {
	case strings.HasSuffix(srcPath, ".tar.gz"), strings.HasSuffix(srcPath, ".tgz"):
		return extractTarGz(srcPath, destDir)
	case strings.HasSuffix(srcPath, ".tar.zst"):
		return extractTarZst(srcPath, destDir)
	case strings.HasSuffix(srcPath, ".zip"):
		return extractZip(srcPath, destDir)
	default:
		return errors.Errorf("unsupported source archive format: %s", srcPath)
	}
}

func extractTarGz(srcPath, destDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", srcPath)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "opening gzip stream in %s", srcPath)
	}
	defer func() { _ = gz.Close() }()

	return extractTar(tar.NewReader(gz), destDir)
}

func extractTarZst(srcPath, destDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", srcPath)
	}
	defer func() { _ = f.Close() }()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "opening zstd stream in %s", srcPath)
	}
	defer zr.Close()

	return extractTar(tar.NewReader(zr), destDir)
}

func extractTar(tr *tar.Reader, destDir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return errors.Wrap(err, "reading tar entry")
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating dir %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrapf(err, "creating dir %s", filepath.Dir(target))
			}

			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return errors.Wrapf(err, "creating file %s", target)
			}

			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // size bounded by the archive itself, same trust model as the teacher's wheel extraction
				_ = out.Close()

				return errors.Wrapf(err, "writing %s", target)
			}

			if err := out.Close(); err != nil {
				return errors.Wrapf(err, "closing %s", target)
			}
		case tar.TypeSymlink:
			// sdists are not expected to carry symlinks; skip rather than
			// follow one outside the extraction root.
			continue
		}
	}
}

func extractZip(srcPath, destDir string) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", srcPath)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating dir %s", target)
			}

			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "creating dir %s", filepath.Dir(target))
		}

		rc, err := f.Open()
		if err != nil {
			return errors.Wrapf(err, "opening zip entry %s", f.Name)
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			_ = rc.Close()

			return errors.Wrapf(err, "creating file %s", target)
		}

		_, copyErr := io.Copy(out, rc) //nolint:gosec // bounded by the archive's own entries
		_ = rc.Close()
		closeErr := out.Close()

		if copyErr != nil {
			return errors.Wrapf(copyErr, "writing %s", target)
		}

		if closeErr != nil {
			return errors.Wrapf(closeErr, "closing %s", target)
		}
	}

	return nil
}

// safeJoin joins name onto destDir, rejecting any entry that would escape
// destDir (ZipSlip), the same defense the teacher applies in
// internal/installer/installer.go's isInsideDir.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)

	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("archive entry %q escapes extraction root", name)
	}

	return target, nil
}
