package configservice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// gitRepo is the git checkout enclosing a directory.
type gitRepo struct {
	Root     string // directory holding .git
	MainRoot string // for a linked worktree, the main checkout; otherwise ""
}

// findGitRepo walks up from start to the nearest .git entry. It returns
// nil outside any repository. No git binary is run.
func findGitRepo(start string) (*gitRepo, error) {
	for dir := start; ; {
		info, err := os.Stat(filepath.Join(dir, ".git"))
		if err == nil {
			repo := &gitRepo{Root: dir}
			if info.Mode().IsRegular() {
				if repo.MainRoot, err = worktreeMainRoot(dir); err != nil {
					return nil, err
				}
			}
			return repo, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking %s: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// worktreeMainRoot follows the "gitdir:" line of root/.git to the
// worktree's private git dir and from there to the shared one, whose
// parent is the main checkout. Submodules, which also use a .git file,
// yield "".
func worktreeMainRoot(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, ".git"))
	if err != nil {
		return "", fmt.Errorf("reading .git file: %w", err)
	}
	gitdir, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return "", nil
	}
	gitdir = joinIfRelative(root, strings.TrimSpace(gitdir))

	var common string
	if data, err := os.ReadFile(filepath.Join(gitdir, "commondir")); err == nil {
		common = joinIfRelative(gitdir, strings.TrimSpace(string(data)))
	} else if parent := filepath.Dir(gitdir); filepath.Base(parent) == "worktrees" {
		common = filepath.Dir(parent)
	} else {
		return "", nil
	}
	return filepath.Dir(common), nil
}

func joinIfRelative(base, p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}
