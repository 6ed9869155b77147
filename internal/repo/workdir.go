package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that escape the work dir.
var ErrOutsideRoot = errors.New("path must stay within the work dir")

// ResolveWorkDir returns <project>/repo when that directory exists, else the project path itself.
func ResolveWorkDir(projectPath string) string {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		abs = projectPath
	}
	candidate := filepath.Join(abs, "repo")
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}
	return abs
}

// Resolve turns path (absolute or relative to root) into an absolute path inside root.
func Resolve(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	path = strings.TrimPrefix(path, "file://")
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	abs = filepath.Clean(abs)
	if !within(root, abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

// ResolveReal is Resolve followed by symlink evaluation; the target must exist and stay inside root.
func ResolveReal(root, path string) (string, error) {
	abs, err := Resolve(root, path)
	if err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	if !within(realRoot, target) {
		return "", fmt.Errorf("%w: %s links outside", ErrOutsideRoot, path)
	}
	return target, nil
}

func within(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Relative renders path relative to root when it lies inside it.
func Relative(root, path string) string {
	if root == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
