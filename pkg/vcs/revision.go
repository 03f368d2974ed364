// Package vcs answers the questions package versioning asks of the project's git history
// without requiring a git binary.
package vcs

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rotisserie/eris"
)

// ShortHashLength matches git's default abbreviation.
const ShortHashLength = 7

// ErrNotARepository is returned when no git repository contains the requested directory.
var ErrNotARepository = eris.New("not a git repository")

// Revision describes a commit by its hash and the number of commits reachable from it.
type Revision struct {
	Hash  plumbing.Hash
	Count int
}

// ShortHash returns the abbreviated commit id, like `git rev-parse --short`.
func (r Revision) ShortHash() string {
	return r.Hash.String()[:ShortHashLength]
}

// Repository wraps an opened git repository.
type Repository struct {
	repo *git.Repository
}

// Open finds the repository containing dir, searching parent directories like git does.
func Open(dir string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if eris.Is(err, git.ErrRepositoryNotExists) {
			return nil, eris.Wrapf(ErrNotARepository, "%s", dir)
		}
		return nil, eris.Wrapf(err, "failed to open repository at %s", dir)
	}

	return &Repository{repo: repo}, nil
}

// Resolve returns the full hash for rev (HEAD, a branch, a tag or a hash prefix).
func (r *Repository) Resolve(rev string) (plumbing.Hash, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, eris.Wrapf(err, "failed to resolve revision %s", rev)
	}

	return *hash, nil
}

// CountCommits returns the number of commits reachable from rev, like `git rev-list --count`.
func (r *Repository) CountCommits(rev string) (int, error) {
	hash, err := r.Resolve(rev)
	if err != nil {
		return 0, err
	}

	iter, err := r.repo.Log(&git.LogOptions{From: hash})
	if err != nil {
		return 0, eris.Wrapf(err, "failed to walk history of %s", rev)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "failed to walk history of %s", rev)
	}

	return count, nil
}

// Describe resolves rev and counts its history.
func (r *Repository) Describe(rev string) (Revision, error) {
	hash, err := r.Resolve(rev)
	if err != nil {
		return Revision{}, err
	}

	count, err := r.CountCommits(hash.String())
	if err != nil {
		return Revision{}, err
	}

	return Revision{Hash: hash, Count: count}, nil
}

// Describe opens the repository containing dir and describes its HEAD.
func Describe(dir string) (Revision, error) {
	repo, err := Open(dir)
	if err != nil {
		return Revision{}, err
	}

	return repo.Describe("HEAD")
}

// FormatVersion renders the package version <base>.r<count>.g<short hash>.
func FormatVersion(base string, rev Revision) string {
	return fmt.Sprintf("%s.r%d.g%s", base, rev.Count, rev.ShortHash())
}
