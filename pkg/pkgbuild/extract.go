package pkgbuild

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

type archiveExtractor func(f *os.File, bar *progressbar.ProgressBar, destPath string) error

// IsArchive reports whether name has an extension makepkg would extract.
func IsArchive(name string) bool {
	_, err := getExtractor(name)
	return err == nil
}

// safeJoin refuses archive entries that would end up outside of destPath.
func safeJoin(destPath, item string) (string, error) {
	dest := filepath.Join(destPath, filepath.FromSlash(item))
	rel, err := filepath.Rel(destPath, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %s points outside of %s", item, destPath)
	}

	return dest, nil
}

// openExtractorDest creates the file for an archive entry.
func openExtractorDest(destPath string, item string, mode os.FileMode) (*os.File, string, error) {
	dest, err := safeJoin(destPath, item)
	if err != nil {
		return nil, "", err
	}

	if dest == destPath {
		return nil, "", nil
	}

	destParent := filepath.Dir(dest)
	err = os.MkdirAll(destParent, 0o755)
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create directory %s", destParent)
	}

	if mode == 0 {
		mode = 0o644
	}

	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func getExtractor(name string) (archiveExtractor, error) {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath)
		}, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath)
		}, nil
	case strings.HasSuffix(name, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open xz stream")
			}

			return extractTar(reader, f, bar, destPath)
		}, nil
	case strings.HasSuffix(name, ".tar"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string) error {
			return extractTar(f, f, bar, destPath)
		}, nil
	}

	return nil, eris.Errorf("archive format of %s not supported", name)
}

// Extract unpacks the archive at path into destPath.
func Extract(path, destPath string) error {
	extractor, err := getExtractor(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", path)
	}

	bar := getProgressBar(info.Size(), "      extract")
	err = extractor(f, bar, destPath)
	if err != nil {
		return eris.Wrapf(err, "failed to extract %s", path)
	}

	return bar.Finish()
}

// trackPosition moves the progress bar to the current read offset of the archive file.
func trackPosition(f *os.File, bar *progressbar.ProgressBar) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		_ = bar.Set64(pos)
	}
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "failed to open zip archive")
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		err = extractZipEntry(item, destPath)
		if err != nil {
			return err
		}

		trackPosition(f, bar)
	}

	return nil
}

func extractZipEntry(item *zip.File, destPath string) error {
	destHandle, dest, err := openExtractorDest(destPath, item.Name, item.Mode().Perm())
	if err != nil {
		return err
	}

	if destHandle == nil {
		return nil
	}
	defer destHandle.Close()

	itemHandle, err := item.Open()
	if err != nil {
		return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
	}
	defer itemHandle.Close()

	_, err = io.Copy(destHandle, itemHandle)
	if err != nil {
		return eris.Wrapf(err, "failed to write extracted file %s", dest)
	}

	return destHandle.Close()
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			dest, err := safeJoin(destPath, item.Name)
			if err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(dest), 0o755)
			if err != nil {
				return eris.Wrapf(err, "failed to create directory for %s", dest)
			}

			_ = os.Remove(dest)
			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		if item.Typeflag != tar.TypeReg {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, fi.Mode().Perm())
		if err != nil {
			return err
		}

		if destHandle == nil {
			continue
		}

		_, err = io.Copy(destHandle, archive)
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to write extracted file %s", dest)
		}

		// the umask applies to OpenFile
		err = os.Chmod(dest, fi.Mode().Perm())
		if err != nil {
			return eris.Wrapf(err, "failed to set permissions on %s", dest)
		}

		trackPosition(f, bar)
	}

	return nil
}
