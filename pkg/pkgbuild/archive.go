package pkgbuild

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mholt/archives"
	"github.com/rotisserie/eris"
)

// PkgInfoName is the metadata file at the root of every package.
const PkgInfoName = ".PKGINFO"

var compressions = map[string]archives.Compression{
	"zst": archives.Zstd{},
	"gz":  archives.Gz{},
	"xz":  archives.Xz{},
}

// PackageFileName returns <pkgname>-<version>-<arch>.pkg.tar.<compression>.
func PackageFileName(recipe *Recipe, compression string) string {
	return fmt.Sprintf("%s-%s-%s.pkg.tar.%s", recipe.PkgName, recipe.FullVersion(), recipe.PackageArch(), compression)
}

func buildDate() int64 {
	if epoch := os.Getenv("SOURCE_DATE_EPOCH"); epoch != "" {
		if value, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			return value
		}
	}

	return time.Now().Unix()
}

func installedSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})

	return size, err
}

// WritePkgInfo writes .PKGINFO into the package root.
func WritePkgInfo(recipe *Recipe, pkgDir string) error {
	size, err := installedSize(pkgDir)
	if err != nil {
		return eris.Wrapf(err, "failed to calculate the size of %s", pkgDir)
	}

	packager := os.Getenv("PACKAGER")
	if packager == "" {
		packager = "Unknown Packager"
	}

	var buf strings.Builder
	buf.WriteString("# Generated by tool makepkg\n")
	writeField := func(key string, values ...string) {
		for _, value := range values {
			fmt.Fprintf(&buf, "%s = %s\n", key, value)
		}
	}

	writeField("pkgname", recipe.PkgName)
	writeField("pkgbase", recipe.PkgName)
	writeField("pkgver", recipe.FullVersion())
	if recipe.PkgDesc != "" {
		writeField("pkgdesc", recipe.PkgDesc)
	}
	if recipe.URL != "" {
		writeField("url", recipe.URL)
	}
	writeField("builddate", strconv.FormatInt(buildDate(), 10))
	writeField("packager", packager)
	writeField("size", strconv.FormatInt(size, 10))
	writeField("arch", recipe.PackageArch())
	writeField("license", recipe.License...)
	writeField("conflict", recipe.Conflicts...)
	writeField("provides", recipe.Provides...)
	writeField("depend", recipe.Depends...)
	writeField("makedepend", recipe.MakeDepends...)

	path := filepath.Join(pkgDir, PkgInfoName)
	err = os.WriteFile(path, []byte(buf.String()), 0o644)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", path)
	}

	return nil
}

// CreatePackage archives the package root into destDir and returns the path of the archive.
func CreatePackage(ctx context.Context, recipe *Recipe, pkgDir, destDir, compression string) (string, error) {
	compressor, ok := compressions[compression]
	if !ok {
		return "", eris.Errorf("unsupported compression %s", compression)
	}

	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		pkgDir + string(filepath.Separator): "",
	})
	if err != nil {
		return "", eris.Wrapf(err, "failed to collect files in %s", pkgDir)
	}

	format := archives.CompressedArchive{
		Archival:    archives.Tar{},
		Compression: compressor,
	}

	err = os.MkdirAll(destDir, 0o755)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", destDir)
	}

	dest := filepath.Join(destDir, PackageFileName(recipe, compression))
	out, err := os.CreateTemp(destDir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", dest)
	}
	defer func() {
		out.Close()
		os.Remove(out.Name())
	}()

	err = format.Archive(ctx, out, files)
	if err != nil {
		return "", eris.Wrapf(err, "failed to write %s", dest)
	}

	err = out.Close()
	if err != nil {
		return "", eris.Wrapf(err, "failed to write %s", dest)
	}

	err = os.Rename(out.Name(), dest)
	if err != nil {
		return "", eris.Wrapf(err, "failed to move package to %s", dest)
	}

	return dest, nil
}

// WriteSrcInfo renders the recipe metadata in .SRCINFO format.
func WriteSrcInfo(w io.Writer, recipe *Recipe) error {
	var buf strings.Builder
	field := func(key string, values ...string) {
		for _, value := range values {
			fmt.Fprintf(&buf, "\t%s = %s\n", key, value)
		}
	}

	fmt.Fprintf(&buf, "pkgbase = %s\n", recipe.PkgName)
	if recipe.PkgDesc != "" {
		field("pkgdesc", recipe.PkgDesc)
	}
	field("pkgver", recipe.PkgVer)
	field("pkgrel", recipe.PkgRel)
	if recipe.Epoch != "" {
		field("epoch", recipe.Epoch)
	}
	if recipe.URL != "" {
		field("url", recipe.URL)
	}
	field("arch", recipe.Arch...)
	field("license", recipe.License...)
	field("makedepends", recipe.MakeDepends...)
	field("depends", recipe.Depends...)
	field("provides", recipe.Provides...)
	field("conflicts", recipe.Conflicts...)
	field("noextract", recipe.NoExtract...)
	field("source", recipe.Source...)
	field("sha256sums", recipe.Sha256Sums...)
	fmt.Fprintf(&buf, "\npkgname = %s\n", recipe.PkgName)

	_, err := io.WriteString(w, buf.String())
	return err
}
