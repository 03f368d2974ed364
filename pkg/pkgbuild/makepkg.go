package pkgbuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
)

// Options controls a makepkg run.
type Options struct {
	// NoExtract skips fetching and extracting sources; $srcdir is used as is.
	NoExtract bool
	// NoBuild skips build().
	NoBuild bool
	// NoArchive stops after package() and .PKGINFO.
	NoArchive bool
	// Compression selects the package compression (zst, gz or xz).
	Compression string
	// Dest is where the package archive is written. Defaults to the recipe's directory.
	Dest string
	// Timeout applies to each source download.
	Timeout time.Duration

	Stdout io.Writer
	Stderr io.Writer
}

// Result describes a finished makepkg run.
type Result struct {
	Recipe  *Recipe
	Version string
	Dirs    Dirs
	// Package is empty with NoArchive.
	Package string
}

// Make builds a package from the recipe at path the way makepkg does: sources, pkgver(),
// build(), package() and finally the archive.
func Make(ctx context.Context, path string, opts Options) (*Result, error) {
	if opts.Compression == "" {
		opts.Compression = "zst"
	}
	if _, ok := compressions[opts.Compression]; !ok {
		return nil, eris.Errorf("unsupported compression %s", opts.Compression)
	}

	recipe, err := Load(ctx, path, opts.Stdout, opts.Stderr)
	if err != nil {
		return nil, err
	}

	dirs := Dirs{
		Start: recipe.StartDir,
		Src:   filepath.Join(recipe.StartDir, "src"),
		Pkg:   filepath.Join(recipe.StartDir, "pkg", recipe.PkgName),
	}

	if !recipe.HasFunction("package") {
		return nil, eris.Errorf("%s is missing the package() function", recipe.Path)
	}

	pkg.PrintTask(fmt.Sprintf("Making package: %s %s", recipe.PkgName, recipe.FullVersion()))

	if opts.NoExtract {
		pkg.PrintTask("Using existing $srcdir/ tree")
		err = os.MkdirAll(dirs.Src, 0o755)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to create %s", dirs.Src)
		}
	} else {
		err = FetchSources(ctx, recipe, dirs, FetchOptions{Timeout: opts.Timeout})
		if err != nil {
			return nil, err
		}
	}

	if recipe.HasFunction("pkgver") {
		pkg.PrintTask("Starting pkgver()...")
		version, err := RunPkgVer(ctx, recipe, dirs)
		if err != nil {
			return nil, err
		}

		if version != recipe.PkgVer {
			pkg.PrintSubtask(fmt.Sprintf("Updated version: %s %s-%s", recipe.PkgName, version, recipe.PkgRel))
		}

		err = recipe.SetVersion(ctx, version)
		if err != nil {
			return nil, err
		}
	}

	if recipe.HasFunction("build") && !opts.NoBuild {
		pkg.PrintTask("Starting build()...")
		err = recipe.Call(ctx, "build", dirs, nil)
		if err != nil {
			return nil, err
		}
	}

	err = os.RemoveAll(dirs.Pkg)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to clean %s", dirs.Pkg)
	}

	err = os.MkdirAll(dirs.Pkg, 0o755)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", dirs.Pkg)
	}

	pkg.PrintTask("Starting package()...")
	err = recipe.Call(ctx, "package", dirs, nil)
	if err != nil {
		return nil, err
	}

	pkg.PrintTask(fmt.Sprintf("Creating package %q...", recipe.PkgName))
	pkg.PrintSubtask("Generating " + PkgInfoName + " file...")
	err = WritePkgInfo(recipe, dirs.Pkg)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Recipe:  recipe,
		Version: recipe.FullVersion(),
		Dirs:    dirs,
	}

	if !opts.NoArchive {
		dest := opts.Dest
		if dest == "" {
			dest = recipe.StartDir
		}

		pkg.PrintSubtask("Compressing package...")
		result.Package, err = CreatePackage(ctx, recipe, dirs.Pkg, dest, opts.Compression)
		if err != nil {
			return nil, err
		}
	}

	pkg.PrintTask(fmt.Sprintf("Finished making: %s %s", recipe.PkgName, recipe.FullVersion()))
	return result, nil
}

// RunPkgVer runs pkgver() and returns its trimmed output.
func RunPkgVer(ctx context.Context, recipe *Recipe, dirs Dirs) (string, error) {
	var out bytes.Buffer
	err := recipe.Call(ctx, "pkgver", dirs, &out)
	if err != nil {
		return "", err
	}

	version := strings.TrimSpace(out.String())
	if err = ValidateVersion(version); err != nil {
		return "", eris.Wrap(err, "pkgver() returned an invalid version")
	}

	return version, nil
}
