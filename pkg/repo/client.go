// Package repo checks out fabric repositories at a pinned ref and exposes
// the manifests they carry. Checkouts are ephemeral working copies; callers
// own their lifetime and must Close them.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/crypto/ssh"

	"github.com/openfabric/fabricsync/pkg/engine"
)

// Credentials holds one fabric's repository access material.
type Credentials struct {
	Username      string
	Password      string
	SSHPrivateKey []byte
	SSHPassphrase string
}

// CredentialProvider resolves a credential handle to usable credentials.
// Implementations must never log the material they return.
type CredentialProvider interface {
	Resolve(ctx context.Context, handle string) (*Credentials, error)
}

// Checkout is a working copy rooted in a temporary directory.
type Checkout struct {
	dir      string
	revision string
}

// Root returns the checkout directory.
func (c *Checkout) Root() string { return c.dir }

// Revision returns the commit id the checkout resolved to.
func (c *Checkout) Revision() string { return c.revision }

// Close removes the working directory.
func (c *Checkout) Close() error {
	if c.dir == "" {
		return nil
	}
	return os.RemoveAll(c.dir)
}

// ListManifests walks subdir under the checkout root and returns the
// relative paths of all YAML manifests, skipping git internals.
func (c *Checkout) ListManifests(subdir string) ([]string, error) {
	root := c.dir
	if subdir != "" {
		root = filepath.Join(c.dir, subdir)
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewConfigurationError(fmt.Sprintf("manifest subdirectory not found: %s", subdir), nil)
		}
		return nil, fmt.Errorf("stat manifest root: %w", err)
	}

	var manifests []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		manifests = append(manifests, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk manifest root: %w", err)
	}
	return manifests, nil
}

// GitClient clones fabric repositories with go-git.
type GitClient struct {
	credentials CredentialProvider
	workdirBase string
}

// NewGitClient creates a client that places checkouts under workdirBase,
// or the system temp directory when workdirBase is empty.
func NewGitClient(credentials CredentialProvider, workdirBase string) *GitClient {
	return &GitClient{credentials: credentials, workdirBase: workdirBase}
}

// CheckoutRef clones the repository at the pinned ref into a fresh
// temporary directory. The ref is tried as a branch first, then as a tag.
func (g *GitClient) CheckoutRef(ctx context.Context, spec engine.CheckoutSpec) (engine.RepoCheckout, error) {
	if spec.URL == "" {
		return nil, engine.NewConfigurationError("repository URL is not configured", nil).
			WithCode(engine.ErrCodeNotConfigured)
	}
	ref := spec.Ref
	if ref == "" {
		ref = "main"
	}

	auth, err := g.resolveAuth(ctx, spec)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(g.workdirBase, "fabricsync-checkout-*")
	if err != nil {
		return nil, fmt.Errorf("create checkout dir: %w", err)
	}

	opts := &git.CloneOptions{
		URL:           spec.URL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(ref),
		SingleBranch:  true,
		Depth:         1,
	}
	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil && isRefNotFound(err) {
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		repo, err = git.PlainCloneContext(ctx, dir, false, opts)
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, classifyGitError(err, spec.URL, ref, "checkout")
	}

	head, err := repo.Head()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	return &Checkout{dir: dir, revision: head.Hash().String()}, nil
}

// TestConnection verifies the repository is reachable and the pinned ref
// exists. It lists the remote's advertised refs without cloning and mutates
// nothing, neither locally nor on the remote. On success it returns the
// commit id the ref currently points at.
func (g *GitClient) TestConnection(ctx context.Context, spec engine.CheckoutSpec) (string, error) {
	if spec.URL == "" {
		return "", engine.NewConfigurationError("repository URL is not configured", nil).
			WithCode(engine.ErrCodeNotConfigured)
	}
	ref := spec.Ref
	if ref == "" {
		ref = "main"
	}

	auth, err := g.resolveAuth(ctx, spec)
	if err != nil {
		return "", err
	}

	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{spec.URL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return "", classifyGitError(err, spec.URL, ref, "test-connection")
	}

	revision, ok := findRemoteRef(refs, ref)
	if !ok {
		return "", engine.NewConfigurationError(fmt.Sprintf("repository ref not found: %s", ref), nil).
			WithCode(engine.ErrCodeRefNotFound).
			WithOperation("test-connection")
	}
	return revision, nil
}

// findRemoteRef resolves ref against an advertised ref list, trying it as a
// branch first, then as a tag.
func findRemoteRef(refs []*plumbing.Reference, ref string) (string, bool) {
	branch := plumbing.NewBranchReferenceName(ref)
	tag := plumbing.NewTagReferenceName(ref)
	var tagHash string
	for _, r := range refs {
		switch r.Name() {
		case branch:
			return r.Hash().String(), true
		case tag:
			tagHash = r.Hash().String()
		}
	}
	if tagHash != "" {
		return tagHash, true
	}
	return "", false
}

func (g *GitClient) resolveAuth(ctx context.Context, spec engine.CheckoutSpec) (transport.AuthMethod, error) {
	if spec.CredentialHandle == "" {
		return nil, nil
	}
	if g.credentials == nil {
		return nil, engine.NewConfigurationError("credential handle set but no credential provider available", nil)
	}
	creds, err := g.credentials.Resolve(ctx, spec.CredentialHandle)
	if err != nil {
		return nil, engine.NewAuthenticationError(fmt.Sprintf("resolve credentials %q", spec.CredentialHandle), err)
	}

	if len(creds.SSHPrivateKey) > 0 {
		var signer ssh.Signer
		if creds.SSHPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(creds.SSHPrivateKey, []byte(creds.SSHPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(creds.SSHPrivateKey)
		}
		if err != nil {
			return nil, engine.NewAuthenticationError("parse SSH private key", err)
		}
		user := creds.Username
		if user == "" {
			user = "git"
		}
		return &gitssh.PublicKeys{User: user, Signer: signer}, nil
	}

	if creds.Password != "" {
		user := creds.Username
		if user == "" {
			user = "token"
		}
		return &githttp.BasicAuth{Username: user, Password: creds.Password}, nil
	}

	return nil, nil
}

func isRefNotFound(err error) bool {
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "couldn't find remote ref")
}

// classifyGitError maps go-git failures onto sync error classes. Auth and
// missing-ref failures are terminal; network trouble is retryable.
func classifyGitError(err error, url, ref, op string) error {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return engine.NewAuthenticationError(fmt.Sprintf("repository authentication failed: %s", url), err).
			WithCode(engine.ErrCodeAuthFailed).
			WithOperation(op)
	}
	if isRefNotFound(err) {
		return engine.NewConfigurationError(fmt.Sprintf("repository ref not found: %s", ref), err).
			WithCode(engine.ErrCodeRefNotFound).
			WithOperation(op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransientError(fmt.Sprintf("repository %s timed out: %s", op, url), err).
			WithCode(engine.ErrCodeTimeout).
			WithOperation(op)
	}
	if isNetworkError(err) {
		return engine.NewTransientError(fmt.Sprintf("repository unreachable: %s", url), err).
			WithCode(engine.ErrCodeNetwork).
			WithOperation(op)
	}
	return engine.NewTransientError(fmt.Sprintf("repository %s failed: %s", op, url), err).
		WithOperation(op)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
