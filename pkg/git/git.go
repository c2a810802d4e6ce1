// Copyright (C) 2021 Toitware ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// ErrRefNotFound is returned when a ref can't be resolved in a mirror.
var ErrRefNotFound = errors.New("git ref not found")

var commitIDRegexp = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsCommitID returns whether ref looks like a full commit id.
func IsCommitID(ref string) bool {
	return commitIDRegexp.MatchString(ref)
}

type MirrorOptions struct {
	URL string
	// Fetch updates an existing mirror. A new mirror is always fetched.
	Fetch   bool
	SSHPath string
}

// Repo is a bare mirror of a remote repository.
type Repo struct {
	url           string
	path          string
	repository    *gogit.Repository
	auth          transport.AuthMethod
	defaultBranch string
}

var fetchRefSpecs = []config.RefSpec{
	"+refs/heads/*:refs/heads/*",
	"+refs/tags/*:refs/tags/*",
}

func convertURLToSSH(str string) (string, error) {
	u, err := url.Parse(str)
	if err != nil {
		return "", err
	}
	return "ssh://git@" + u.Host + ":" + u.Path + ".git", nil
}

// NormalizeURL returns the URL go-git should use for the given repository
// address. Local paths are kept as is.
func NormalizeURL(u string) string {
	if filepath.IsAbs(u) || strings.Contains(u, "://") || strings.HasPrefix(u, "git@") {
		return u
	}
	return "https://" + u
}

// Mirror opens the bare mirror in [dir], creating it if necessary, and
// fetches all branches and tags from the remote.
func Mirror(ctx context.Context, dir string, options MirrorOptions) (*Repo, error) {
	r := &Repo{
		url:  NormalizeURL(options.URL),
		path: dir,
	}
	if options.SSHPath != "" {
		auth, err := ssh.NewPublicKeysFromFile("git", options.SSHPath, "")
		if err != nil {
			return nil, err
		}
		r.auth = auth
	}

	repository, err := gogit.PlainOpen(dir)
	isNew := false
	if err == gogit.ErrRepositoryNotExists {
		isNew = true
		repository, err = gogit.PlainInit(dir, true)
		if err == nil {
			_, err = repository.CreateRemote(&config.RemoteConfig{
				Name:  gogit.DefaultRemoteName,
				URLs:  []string{r.url},
				Fetch: fetchRefSpecs,
			})
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git mirror '%s': %w", dir, err)
	}
	r.repository = repository

	if isNew || options.Fetch {
		if err := r.fetch(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Repo) fetch(ctx context.Context) error {
	fetchOptions := &gogit.FetchOptions{
		RemoteName: gogit.DefaultRemoteName,
		RefSpecs:   fetchRefSpecs,
		Tags:       gogit.AllTags,
		Force:      true,
		Auth:       r.auth,
	}
	err := r.repository.FetchContext(ctx, fetchOptions)
	if err == transport.ErrAuthenticationRequired && r.auth == nil {
		// Try to download the repository with ssh, but without authentication.
		if sshURL, errURL := convertURLToSSH(r.url); errURL == nil {
			fetchOptions.RemoteURL = sshURL
			err = r.repository.FetchContext(ctx, fetchOptions)
		}
	}
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to fetch '%s': %w", r.url, err)
	}
	return nil
}

// URL returns the address of the remote.
func (r *Repo) URL() string {
	return r.url
}

// DefaultBranch returns the branch the remote's HEAD points to.
func (r *Repo) DefaultBranch(ctx context.Context) (string, error) {
	if r.defaultBranch != "" {
		return r.defaultBranch, nil
	}
	remote, err := r.repository.Remote(gogit.DefaultRemoteName)
	if err != nil {
		return "", err
	}
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: r.auth})
	if err != nil {
		return "", fmt.Errorf("failed to list refs of '%s': %w", r.url, err)
	}
	var headHash plumbing.Hash
	for _, ref := range refs {
		if ref.Name() != plumbing.HEAD {
			continue
		}
		if ref.Type() == plumbing.SymbolicReference {
			r.defaultBranch = ref.Target().Short()
			return r.defaultBranch, nil
		}
		headHash = ref.Hash()
	}
	for _, ref := range refs {
		if ref.Name().IsBranch() && !headHash.IsZero() && ref.Hash() == headHash {
			r.defaultBranch = ref.Name().Short()
			return r.defaultBranch, nil
		}
	}
	return "", fmt.Errorf("cannot determine default branch of '%s'", r.url)
}

// ResolveRef returns the commit id for the given branch, tag, or commit.
// An empty ref resolves to the head of the default branch.
func (r *Repo) ResolveRef(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		branch, err := r.DefaultBranch(ctx)
		if err != nil {
			return "", err
		}
		ref = branch
	}
	if IsCommitID(ref) {
		if _, err := r.repository.CommitObject(plumbing.NewHash(ref)); err != nil {
			return "", fmt.Errorf("%w: commit %s in '%s'", ErrRefNotFound, ref, r.url)
		}
		return ref, nil
	}
	for _, candidate := range []string{
		plumbing.NewBranchReferenceName(ref).String(),
		plumbing.NewTagReferenceName(ref).String(),
		ref,
	} {
		hash, err := r.repository.ResolveRevision(plumbing.Revision(candidate))
		if err == nil {
			return hash.String(), nil
		}
	}
	return "", fmt.Errorf("%w: '%s' in '%s'", ErrRefNotFound, ref, r.url)
}

func (r *Repo) commitTree(commitID string) (*object.Tree, error) {
	commit, err := r.repository.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s in '%s'", ErrRefNotFound, commitID, r.url)
	}
	return commit.Tree()
}

// ReadFile returns the content of the file at [p] in the given commit.
// Returns os.ErrNotExist if there is no such file.
func (r *Repo) ReadFile(commitID string, p string) ([]byte, error) {
	tree, err := r.commitTree(commitID)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(p)
	if err == object.ErrFileNotFound || err == object.ErrDirectoryNotFound || err == object.ErrEntryNotFound {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}
