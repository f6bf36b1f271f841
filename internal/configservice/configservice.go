// Package configservice locates the .beads workspace directory and loads
// its configuration.
package configservice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"beads-engine/internal/config"
	"beads-engine/internal/config/yamlstore"
	"beads-engine/internal/workspace"
)

// ResolvePaths finds the workspace for the current directory.
// Discovery order: BEADS_DIR env var > walk up from CWD (stopping at git root, with worktree fallback).
func ResolvePaths() (config.Paths, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.Paths{}, fmt.Errorf("cannot get current directory: %w", err)
	}
	return ResolvePathsFrom(cwd)
}

// ResolvePathsFrom is ResolvePaths starting at dir instead of the working
// directory.
func ResolvePathsFrom(start string) (config.Paths, error) {
	// 1. BEADS_DIR env var
	if envDir := os.Getenv(config.EnvBeadsDir); envDir != "" {
		normalized, err := NormalizeBasePath(envDir)
		if err != nil {
			return config.Paths{}, err
		}
		return ResolveFromBase(normalized)
	}

	// 2. Walk up, stopping at git root
	configDir, found, err := findWorkspaceUpward(start)
	if err != nil {
		return config.Paths{}, err
	}

	// 3. A linked worktree shares the main checkout's workspace
	if !found {
		if repo, rerr := findGitRepo(start); rerr == nil && repo != nil && repo.MainRoot != "" {
			configDir, found, err = findWorkspaceUpward(repo.MainRoot)
			if err != nil {
				return config.Paths{}, err
			}
		}
	}

	if !found {
		return config.Paths{}, missingWorkspaceErr(filepath.Join(start, workspace.DirName))
	}
	return PathsFor(configDir), nil
}

// ResolveFromBase resolves Paths from a known .beads directory path,
// following its redirect file if present.
func ResolveFromBase(basePath string) (config.Paths, error) {
	redirected, err := ReadRedirect(basePath)
	if err != nil {
		return config.Paths{}, err
	}
	if redirected != "" {
		basePath = redirected
	}

	info, err := os.Stat(basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Paths{}, missingWorkspaceErr(basePath)
		}
		return config.Paths{}, fmt.Errorf("cannot access beads directory %s: %w", basePath, err)
	}
	if !info.IsDir() {
		return config.Paths{}, fmt.Errorf("beads path is not a directory: %s", basePath)
	}
	if !IsWorkspaceDir(basePath) {
		return config.Paths{}, missingWorkspaceErr(basePath)
	}
	return PathsFor(basePath), nil
}

// PathsForInit returns the paths a new workspace under root would use,
// honouring BEADS_DIR.
func PathsForInit(root string) (config.Paths, error) {
	dir := filepath.Join(root, workspace.DirName)
	if envDir := os.Getenv(config.EnvBeadsDir); envDir != "" {
		var err error
		if dir, err = NormalizeBasePath(envDir); err != nil {
			return config.Paths{}, err
		}
	}
	return PathsFor(dir), nil
}

// PathsFor returns the paths inside the .beads directory configDir.
func PathsFor(configDir string) config.Paths {
	return config.Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, config.FileName),
	}
}

// NormalizeBasePath makes path absolute and appends .beads unless it
// already names one.
func NormalizeBasePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if filepath.Base(absPath) != workspace.DirName {
		absPath = filepath.Join(absPath, workspace.DirName)
	}
	return absPath, nil
}

// findWorkspaceUpward walks from start toward the filesystem root and
// returns the first .beads directory holding metadata (after redirects).
// The walk ends at the enclosing git repository's root.
func findWorkspaceUpward(start string) (string, bool, error) {
	stop := ""
	if repo, err := findGitRepo(start); err == nil && repo != nil {
		stop = repo.Root
	}

	for dir := start; ; {
		candidate := filepath.Join(dir, workspace.DirName)
		info, err := os.Stat(candidate)
		switch {
		case err == nil && info.IsDir():
			target, err := ReadRedirect(candidate)
			if err != nil {
				return "", false, err
			}
			if target != "" {
				if !IsWorkspaceDir(target) {
					return "", false, fmt.Errorf("redirect target has no %s: %s", workspace.MetadataFile, target)
				}
				return target, true, nil
			}
			if IsWorkspaceDir(candidate) {
				return candidate, true, nil
			}
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", false, fmt.Errorf("checking workspace: %w", err)
		}

		parent := filepath.Dir(dir)
		if dir == stop || parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// redirectFile names a .beads entry that points at another .beads
// directory, for checkouts that share one workspace.
const redirectFile = "redirect"

// ReadRedirect returns the target named by beadsDir's redirect file, or ""
// when there is none. The first non-blank line that is not a # comment is
// the target; relative targets resolve against beadsDir. A target must be
// an existing directory and may not redirect again.
func ReadRedirect(beadsDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(beadsDir, redirectFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading redirect file: %w", err)
	}

	target := ""
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			target = line
			break
		}
	}
	if target == "" {
		return "", nil
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(beadsDir, target)
	}
	target = filepath.Clean(target)

	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("redirect target does not exist: %s", target)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("redirect target is not a directory: %s", target)
	}
	if _, err := os.Stat(filepath.Join(target, redirectFile)); err == nil {
		return "", fmt.Errorf("redirect target %s redirects again", target)
	}
	return target, nil
}

// IsWorkspaceDir reports whether dir holds workspace metadata.
func IsWorkspaceDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, workspace.MetadataFile))
	return err == nil && !info.IsDir()
}

// OpenStore opens the config file for paths and applies environment
// overrides in memory.
func OpenStore(paths config.Paths) (config.Store, error) {
	store, err := yamlstore.New(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	config.ApplyEnvOverrides(store)
	return store, nil
}

// LoadSettings opens the config store for paths and returns its typed
// settings. The config file is optional.
func LoadSettings(paths config.Paths) (config.Store, config.Settings, error) {
	store, err := OpenStore(paths)
	if err != nil {
		return nil, config.Settings{}, err
	}
	settings, err := config.Load(store)
	if err != nil {
		return nil, config.Settings{}, fmt.Errorf("%s: %w", paths.ConfigFile, err)
	}
	return store, settings, nil
}

func missingWorkspaceErr(dir string) error {
	return fmt.Errorf("no beads workspace at %s: %w", dir, workspace.ErrNotInitialized)
}
