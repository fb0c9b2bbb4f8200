// Package gitrepo materializes repositories on disk with the local
// git CLI.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/pkg/models"
)

// GitError reports a failed git invocation with the tool's own
// diagnostic output.
type GitError struct {
	Args   []string
	Dir    string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git command failed (git %s) in %s: %s",
		strings.Join(e.Args, " "), e.Dir, strings.TrimSpace(e.Stderr))
}

func (e *GitError) Unwrap() error { return e.Err }

// CommandRunner runs a git subcommand in a directory and returns its
// stderr output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs git via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// Manager owns the directory under which all clones live.
type Manager struct {
	Root   string
	Runner CommandRunner
}

// New creates a Manager rooted at dir, creating it eagerly so
// permission problems surface at construction time.
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{Root: dir, Runner: ExecRunner{}}, nil
}

// RepoPath returns the local path for a repo id.
func (m *Manager) RepoPath(repoID string) string {
	return filepath.Join(m.Root, repoID)
}

// CloneOrUpdate clones the repository if it is not present locally,
// otherwise fetches and fast-forwards it. It returns the local path
// and the branch actually checked out; a checkout of the requested
// branch that fails falls back to master once.
func (m *Manager) CloneOrUpdate(ctx context.Context, repo models.Repo, branch string) (string, string, error) {
	path := m.RepoPath(repo.ID)
	target := branch
	if target == "" {
		target = repo.DefaultBranch
	}
	if target == "" {
		target = "main"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Clone with cwd at the root and a relative target directory
		// so the root can never end up nested inside itself.
		if err := m.git(ctx, m.Root, "clone", "--origin", "origin", repo.GitURL, repo.ID); err != nil {
			return "", "", err
		}
	} else {
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			return "", "", fmt.Errorf("expected %s to be a git repository (missing .git)", path)
		}
		if err := m.git(ctx, path, "fetch", "origin"); err != nil {
			return "", "", err
		}
	}

	if err := m.git(ctx, path, "checkout", target); err != nil {
		// Older repositories still use master as the default branch.
		if target == "master" {
			return "", "", err
		}
		log.Debug().Str("repo", repo.ID).Str("branch", target).Msg("checkout failed, falling back to master")
		if err := m.git(ctx, path, "checkout", "master"); err != nil {
			return "", "", err
		}
		target = "master"
	}

	if err := m.git(ctx, path, "pull", "origin", target); err != nil {
		return "", "", err
	}
	return path, target, nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) error {
	stderr, err := m.Runner.Run(ctx, dir, args...)
	if err != nil {
		return &GitError{Args: args, Dir: dir, Stderr: stderr, Err: err}
	}
	return nil
}
