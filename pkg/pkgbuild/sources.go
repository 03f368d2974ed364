package pkgbuild

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/posix"
)

// SkipChecksum disables verification for a source.
const SkipChecksum = "SKIP"

// SourceKind tells how a source is retrieved.
type SourceKind int

const (
	LocalSource SourceKind = iota
	HTTPSource
	GitSource
)

// Source is one entry of the source array: [name::]url[#fragment].
type Source struct {
	Name     string
	URL      string
	Fragment string
	Kind     SourceKind
}

// ParseSource splits a source entry into its parts.
func ParseSource(entry string) Source {
	var src Source

	if pos := strings.Index(entry, "::"); pos > -1 {
		src.Name = entry[:pos]
		entry = entry[pos+2:]
	}

	switch {
	case strings.HasPrefix(entry, "git+"):
		src.Kind = GitSource
		entry = entry[4:]
		if pos := strings.LastIndex(entry, "#"); pos > -1 {
			src.Fragment = entry[pos+1:]
			entry = entry[:pos]
		}
	case strings.HasPrefix(entry, "http://"), strings.HasPrefix(entry, "https://"):
		src.Kind = HTTPSource
	default:
		src.Kind = LocalSource
	}

	src.URL = entry
	if src.Name == "" {
		src.Name = path.Base(strings.TrimSuffix(entry, "/"))
		if src.Kind == GitSource {
			src.Name = strings.TrimSuffix(src.Name, ".git")
		}
	}

	return src
}

// FetchOptions controls source retrieval.
type FetchOptions struct {
	Timeout time.Duration
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// FetchSources retrieves, verifies and extracts every source of the recipe into dirs.Src.
// Downloads are kept in dirs.Start so that repeated runs don't fetch them again.
func FetchSources(ctx context.Context, recipe *Recipe, dirs Dirs, opts FetchOptions) error {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Minute
	}

	err := os.MkdirAll(dirs.Src, 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dirs.Src)
	}

	noExtract := make(map[string]bool, len(recipe.NoExtract))
	for _, name := range recipe.NoExtract {
		noExtract[name] = true
	}

	client := &http.Client{
		Timeout: opts.Timeout,
	}

	pkg.PrintTask("Retrieving sources...")
	for idx, entry := range recipe.Source {
		src := ParseSource(entry)

		checksum := SkipChecksum
		if len(recipe.Sha256Sums) > idx {
			checksum = strings.ToLower(recipe.Sha256Sums[idx])
		}

		if src.Kind == GitSource {
			err = cloneSource(ctx, src, filepath.Join(dirs.Src, src.Name))
			if err != nil {
				return err
			}
			continue
		}

		local := filepath.Join(dirs.Start, src.Name)
		if src.Kind == HTTPSource {
			err = download(ctx, client, src, local)
			if err != nil {
				return err
			}
		} else {
			if _, err = os.Stat(local); err != nil {
				return eris.Wrapf(err, "source %s not found", src.Name)
			}
			pkg.PrintSubtask("Found " + src.Name)
		}

		err = verifyChecksum(local, checksum)
		if err != nil {
			return err
		}

		dest := filepath.Join(dirs.Src, src.Name)
		if filepath.Clean(dest) != filepath.Clean(local) {
			err = posix.Install([]string{local}, dest, posix.InstallOptions{Mode: 0o644})
			if err != nil {
				return eris.Wrapf(err, "failed to copy %s into %s", src.Name, dirs.Src)
			}
		}

		if IsArchive(src.Name) && !noExtract[src.Name] {
			pkg.PrintSubtask("Extracting " + src.Name)
			err = Extract(local, dirs.Src)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func verifyChecksum(file, expected string) error {
	if expected == SkipChecksum {
		return nil
	}

	handle, err := os.Open(file)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", file)
	}
	defer handle.Close()

	hash := sha256.New()
	_, err = io.Copy(hash, handle)
	if err != nil {
		return eris.Wrapf(err, "failed to calculate checksum for %s", file)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != expected {
		return eris.Errorf("checksum check failed for %s: expected %s but got %s", filepath.Base(file), expected, digest)
	}

	pkg.PrintSubtask(filepath.Base(file) + " ... Passed")
	return nil
}

func download(ctx context.Context, client *http.Client, src Source, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		pkg.PrintSubtask("Found " + src.Name)
		return nil
	}

	pkg.PrintSubtask("Downloading " + src.Name + "...")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return eris.Wrapf(err, "invalid source URL %s", src.URL)
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to start download for %s", src.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("failed to download %s: %s", src.URL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+src.Name+".part*")
	if err != nil {
		return eris.Wrapf(err, "failed to create temporary file for %s", src.Name)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	bar := getProgressBar(resp.ContentLength, "     download")
	_, err = io.Copy(io.MultiWriter(tmp, bar), resp.Body)
	if err != nil {
		return eris.Wrapf(err, "failed during download of %s", src.URL)
	}
	_ = bar.Finish()

	err = tmp.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", tmp.Name())
	}

	err = os.Rename(tmp.Name(), dest)
	if err != nil {
		return eris.Wrapf(err, "failed to move download to %s", dest)
	}

	return nil
}

// gitTarget is what the fragment of a git+ source selects. Both fields are empty for the default
// branch.
type gitTarget struct {
	ref    plumbing.ReferenceName
	commit string
}

func parseGitFragment(src Source) (gitTarget, error) {
	key, value, _ := strings.Cut(src.Fragment, "=")
	switch key {
	case "":
		return gitTarget{}, nil
	case "branch":
		return gitTarget{ref: plumbing.NewBranchReferenceName(value)}, nil
	case "tag":
		return gitTarget{ref: plumbing.NewTagReferenceName(value)}, nil
	case "commit":
		return gitTarget{commit: value}, nil
	}

	return gitTarget{}, eris.Errorf("unsupported fragment %s for source %s", src.Fragment, src.Name)
}

// cloneSource clones a git+ source, checking out the branch, tag or commit named in its fragment.
// Existing clones are fetched again and moved to the current state of that target.
func cloneSource(ctx context.Context, src Source, dest string) error {
	target, err := parseGitFragment(src)
	if err != nil {
		return err
	}

	if _, err = os.Stat(filepath.Join(dest, ".git")); err == nil {
		return updateSource(ctx, src, dest, target)
	}

	pkg.PrintSubtask("Cloning " + src.Name + " git repo...")
	opts := &git.CloneOptions{URL: src.URL}
	if target.ref != "" {
		opts.ReferenceName = target.ref
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		return eris.Wrapf(err, "failed to clone %s", src.URL)
	}

	if target.commit != "" {
		worktree, err := repo.Worktree()
		if err != nil {
			return eris.Wrapf(err, "failed to open worktree of %s", src.Name)
		}

		err = worktree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(target.commit)})
		if err != nil {
			return eris.Wrapf(err, "failed to check out %s in %s", target.commit, src.Name)
		}
	}

	return nil
}

func updateSource(ctx context.Context, src Source, dest string, target gitTarget) error {
	pkg.PrintSubtask("Updating " + src.Name + " git repo...")
	repo, err := git.PlainOpen(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", dest)
	}

	fetchOpts := &git.FetchOptions{RemoteName: git.DefaultRemoteName, Force: true}
	if target.ref.IsTag() {
		fetchOpts.RefSpecs = []config.RefSpec{config.RefSpec("+" + target.ref + ":" + target.ref)}
	}

	err = repo.FetchContext(ctx, fetchOpts)
	if err != nil && !eris.Is(err, git.NoErrAlreadyUpToDate) {
		return eris.Wrapf(err, "failed to fetch %s", src.URL)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return eris.Wrapf(err, "failed to open worktree of %s", src.Name)
	}

	// tags and commits are checked out detached
	if target.commit != "" || target.ref.IsTag() {
		var hash plumbing.Hash
		if target.commit != "" {
			hash = plumbing.NewHash(target.commit)
		} else {
			resolved, err := repo.ResolveRevision(plumbing.Revision(target.ref))
			if err != nil {
				return eris.Wrapf(err, "failed to resolve %s in %s", target.ref.Short(), src.Name)
			}
			hash = *resolved
		}

		err = worktree.Checkout(&git.CheckoutOptions{Hash: hash, Force: true})
		if err != nil {
			return eris.Wrapf(err, "failed to check out %s in %s", hash, src.Name)
		}
		return nil
	}

	head, err := repo.Head()
	if err != nil {
		return eris.Wrapf(err, "failed to read HEAD of %s", src.Name)
	}

	branch := target.ref
	if branch == "" {
		if !head.Name().IsBranch() {
			return eris.Errorf("%s has a detached HEAD, remove it or name a branch in the source", dest)
		}
		branch = head.Name()
	}

	upstream, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch.Short()), true)
	if err != nil {
		return eris.Wrapf(err, "branch %s not found in %s", branch.Short(), src.URL)
	}

	if head.Name() != branch {
		_, missing := repo.Reference(branch, false)
		opts := &git.CheckoutOptions{Branch: branch, Force: true}
		if missing != nil {
			opts.Create = true
			opts.Hash = upstream.Hash()
		}

		err = worktree.Checkout(opts)
		if err != nil {
			return eris.Wrapf(err, "failed to check out %s in %s", branch.Short(), src.Name)
		}
	}

	err = worktree.Reset(&git.ResetOptions{Commit: upstream.Hash(), Mode: git.HardReset})
	if err != nil {
		return eris.Wrapf(err, "failed to reset %s to %s", src.Name, upstream.Hash())
	}

	return nil
}
