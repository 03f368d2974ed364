package pkgbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/shell"
)

// DefaultFileName is the recipe makepkg looks for.
const DefaultFileName = "PKGBUILD"

// Recipe holds the metadata of a loaded PKGBUILD and the interpreter its callbacks run in.
type Recipe struct {
	Path     string `json:"-" yaml:"-"`
	StartDir string `json:"-" yaml:"-"`

	PkgName     string   `json:"pkgname" yaml:"pkgname"`
	PkgVer      string   `json:"pkgver" yaml:"pkgver"`
	PkgRel      string   `json:"pkgrel" yaml:"pkgrel"`
	Epoch       string   `json:"epoch,omitempty" yaml:"epoch,omitempty"`
	PkgDesc     string   `json:"pkgdesc,omitempty" yaml:"pkgdesc,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	License     []string `json:"license,omitempty" yaml:"license,omitempty"`
	Arch        []string `json:"arch" yaml:"arch"`
	Depends     []string `json:"depends,omitempty" yaml:"depends,omitempty"`
	MakeDepends []string `json:"makedepends,omitempty" yaml:"makedepends,omitempty"`
	Provides    []string `json:"provides,omitempty" yaml:"provides,omitempty"`
	Conflicts   []string `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Source      []string `json:"source,omitempty" yaml:"source,omitempty"`
	Sha256Sums  []string `json:"sha256sums,omitempty" yaml:"sha256sums,omitempty"`
	NoExtract   []string `json:"noextract,omitempty" yaml:"noextract,omitempty"`
	Functions   []string `json:"functions" yaml:"functions"`

	runner *interp.Runner
	stdout io.Writer
	stderr io.Writer
}

// Dirs are the directories exported to every callback.
type Dirs struct {
	Start string
	Src   string
	Pkg   string
}

// CArch maps GOARCH to the architecture names used in PKGBUILDs.
func CArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	case "arm":
		return "armv7h"
	}

	return runtime.GOARCH
}

// Load interprets the top level of the recipe at path and collects its metadata. The callbacks
// aren't run.
func Load(ctx context.Context, path string, stdout, stderr io.Writer) (*Recipe, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	content, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", path)
	}
	defer content.Close()

	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(content, filepath.Base(path))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	startDir := filepath.Dir(path)
	recipe := &Recipe{
		Path:     path,
		StartDir: startDir,
		stdout:   stdout,
		stderr:   stderr,
	}

	dirs := Dirs{
		Start: startDir,
		Src:   filepath.Join(startDir, "src"),
		Pkg:   filepath.Join(startDir, "pkg"),
	}
	opts := append(shell.Options(startDir, stdout, stderr), interp.Env(recipeEnv(dirs)))
	recipe.runner, err = interp.New(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	for _, stmt := range file.Stmts {
		err = recipe.runner.Run(ctx, stmt)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to load %s", path)
		}

		if recipe.runner.Exited() {
			break
		}
	}

	recipe.readMetadata()
	if err = recipe.validate(); err != nil {
		return nil, eris.Wrapf(err, "invalid recipe %s", path)
	}

	pkg.Log(ctx).Debug().Str("path", path).Msgf("loaded %s %s", recipe.PkgName, recipe.FullVersion())
	return recipe, nil
}

func recipeEnv(dirs Dirs) expand.Environ {
	env := os.Environ()
	env = append(env,
		"startdir="+dirs.Start,
		"srcdir="+dirs.Src,
		"pkgdir="+dirs.Pkg,
		"CARCH="+CArch(),
	)

	return expand.ListEnviron(env...)
}

func (r *Recipe) str(name string) string {
	vr, ok := r.runner.Vars[name]
	if !ok {
		return ""
	}

	switch vr.Kind {
	case expand.String:
		return vr.Str
	case expand.Indexed:
		if len(vr.List) > 0 {
			return vr.List[0]
		}
	}

	return ""
}

func (r *Recipe) list(name string) []string {
	vr, ok := r.runner.Vars[name]
	if !ok {
		return nil
	}

	switch vr.Kind {
	case expand.String:
		return []string{vr.Str}
	case expand.Indexed:
		return append([]string(nil), vr.List...)
	}

	return nil
}

func (r *Recipe) readMetadata() {
	r.PkgName = r.str("pkgname")
	r.PkgVer = r.str("pkgver")
	r.PkgRel = r.str("pkgrel")
	r.Epoch = r.str("epoch")
	r.PkgDesc = r.str("pkgdesc")
	r.URL = r.str("url")
	r.License = r.list("license")
	r.Arch = r.list("arch")
	r.Depends = r.list("depends")
	r.MakeDepends = r.list("makedepends")
	r.Provides = r.list("provides")
	r.Conflicts = r.list("conflicts")
	r.Source = r.list("source")
	r.Sha256Sums = r.list("sha256sums")
	r.NoExtract = r.list("noextract")

	r.Functions = make([]string, 0, len(r.runner.Funcs))
	for name := range r.runner.Funcs {
		r.Functions = append(r.Functions, name)
	}
	sort.Strings(r.Functions)
}

func (r *Recipe) validate() error {
	for field, value := range map[string]string{
		"pkgname": r.PkgName,
		"pkgver":  r.PkgVer,
		"pkgrel":  r.PkgRel,
	} {
		if value == "" {
			return eris.Errorf("%s is missing", field)
		}
	}

	if err := ValidateVersion(r.PkgVer); err != nil {
		return err
	}

	if strings.HasPrefix(r.PkgName, "-") || strings.HasPrefix(r.PkgName, ".") {
		return eris.Errorf("pkgname %q may not start with a hyphen or dot", r.PkgName)
	}

	if len(r.Arch) == 0 {
		return eris.New("arch is missing")
	}

	if len(r.Sha256Sums) != len(r.Source) {
		return eris.Errorf("sha256sums has %d entries but source has %d", len(r.Sha256Sums), len(r.Source))
	}

	return nil
}

// ValidateVersion rejects characters makepkg doesn't allow in pkgver.
func ValidateVersion(version string) error {
	if version == "" {
		return eris.New("pkgver is empty")
	}

	if strings.ContainsAny(version, ":/- \t\n") {
		return eris.Errorf("pkgver %q contains invalid characters", version)
	}

	return nil
}

// HasFunction reports whether the recipe defines the named callback.
func (r *Recipe) HasFunction(name string) bool {
	_, ok := r.runner.Funcs[name]
	return ok
}

// FullVersion returns [epoch:]pkgver-pkgrel.
func (r *Recipe) FullVersion() string {
	version := r.PkgVer + "-" + r.PkgRel
	if r.Epoch != "" && r.Epoch != "0" {
		version = r.Epoch + ":" + version
	}

	return version
}

// PackageArch returns the architecture the package is built for: "any" if the recipe allows it,
// otherwise the host's.
func (r *Recipe) PackageArch() string {
	for _, arch := range r.Arch {
		if arch == "any" {
			return "any"
		}
	}

	return CArch()
}

// SetVersion replaces pkgver both in the metadata and the interpreter.
func (r *Recipe) SetVersion(ctx context.Context, version string) error {
	if err := ValidateVersion(version); err != nil {
		return err
	}

	r.PkgVer = version
	return r.runScript(ctx, "pkgver="+quote(version))
}

// Call runs the named callback in dir with errexit. If stdout is non-nil, the callback's output
// is written there instead of the recipe's stdout.
func (r *Recipe) Call(ctx context.Context, name string, dirs Dirs, stdout io.Writer) error {
	if !r.HasFunction(name) {
		return eris.Errorf("%s() is not defined", name)
	}

	if stdout != nil {
		err := interp.StdIO(nil, stdout, r.stderr)(r.runner)
		if err != nil {
			return err
		}
		defer func() {
			_ = interp.StdIO(nil, r.stdout, r.stderr)(r.runner)
		}()
	}

	script := fmt.Sprintf("export startdir=%s srcdir=%s pkgdir=%s\ncd \"$srcdir\"\n%s",
		quote(dirs.Start), quote(dirs.Src), quote(dirs.Pkg), name)

	err := r.runScript(ctx, script)
	if err != nil {
		return eris.Wrapf(err, "%s() failed", name)
	}

	return nil
}

func (r *Recipe) runScript(ctx context.Context, script string) error {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(script), "makepkg")
	if err != nil {
		return eris.Wrap(err, "failed to parse internal script")
	}

	for _, stmt := range file.Stmts {
		err = r.runner.Run(ctx, stmt)
		if err != nil {
			return err
		}
	}

	return nil
}

func quote(value string) string {
	quoted, err := syntax.Quote(value, syntax.LangBash)
	if err != nil {
		// only strings containing null bytes can't be quoted
		return "''"
	}

	return quoted
}
