package repo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveWorkDirPrefersRepoSubdir(t *testing.T) {
	project := t.TempDir()
	if got := ResolveWorkDir(project); got != project {
		t.Fatalf("expected %s, got %s", project, got)
	}
	repoDir := filepath.Join(project, "repo")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if got := ResolveWorkDir(project); got != repoDir {
		t.Fatalf("expected %s, got %s", repoDir, got)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	if _, err := Resolve(root, "../etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	if _, err := Resolve(root, "/etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot for absolute path, got %v", err)
	}
	got, err := Resolve(root, "file://"+filepath.Join(root, "a.txt"))
	if err != nil || got != filepath.Join(root, "a.txt") {
		t.Fatalf("unexpected resolve %q (%v)", got, err)
	}
	if Relative(root, filepath.Join(root, "src", "main.go")) != "src/main.go" {
		t.Fatalf("expected relative path")
	}
}

func TestReadTextWindowAndLimits(t *testing.T) {
	root := t.TempDir()
	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, truncated, err := ReadText(root, "notes.txt", 0, 0, 0)
	if err != nil || truncated || got != content {
		t.Fatalf("unexpected full read %q %v %v", got, truncated, err)
	}
	got, _, err = ReadText(root, "notes.txt", 2, 2, 0)
	if err != nil || got != "two\nthree\n" {
		t.Fatalf("unexpected window %q (%v)", got, err)
	}
	got, truncated, err = ReadText(root, "notes.txt", 0, 0, 5)
	if err != nil || !truncated || got != "one\nt" {
		t.Fatalf("unexpected truncation %q %v (%v)", got, truncated, err)
	}
}

func TestReadTextHonorsDenylist(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadText(root, ".env", 0, 0, 0); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
}

func TestReadTextFollowsSymlinksOnlyInsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("top-secret\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "real.txt"), []byte("fine\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	symlink(t, filepath.Join(outside, "secret.txt"), filepath.Join(root, "notes.txt"))
	symlink(t, filepath.Join(root, ".env"), filepath.Join(root, "config.txt"))
	symlink(t, "real.txt", filepath.Join(root, "alias.txt"))

	if got, _, err := ReadText(root, "notes.txt", 0, 0, 0); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot for a link leaving the root, got %q %v", got, err)
	}
	if got, _, err := ReadText(root, "config.txt", 0, 0, 0); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for a link to .env, got %q %v", got, err)
	}
	got, _, err := ReadText(root, "alias.txt", 0, 0, 0)
	if err != nil || got != "fine\n" {
		t.Fatalf("expected the link inside root to be served, got %q %v", got, err)
	}
}

func TestReadTextTruncatesOnRuneBoundary(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "utf8.txt"), []byte("ab\nhéllo\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, truncated, err := ReadText(root, "utf8.txt", 0, 0, 5)
	if err != nil || !truncated || got != "ab\nh" {
		t.Fatalf("unexpected truncation %q %v (%v)", got, truncated, err)
	}
	got, truncated, err = ReadText(root, "utf8.txt", 0, 0, 3)
	if err != nil || !truncated || got != "ab\n" {
		t.Fatalf("unexpected truncation at a line end %q %v (%v)", got, truncated, err)
	}
}

func TestIsDenylisted(t *testing.T) {
	for _, path := range []string{".env.local", "certs/server.pem", "id_rsa.pub", ".npmrc", "home/.aws/credentials", "/home/u/.qwen/settings.json", "repo/.git/config", ".git-credentials"} {
		if !IsDenylisted(path) {
			t.Fatalf("expected %s to be denylisted", path)
		}
	}
	if IsDenylisted(strings.Join([]string{"src", "main.go"}, "/")) {
		t.Fatalf("did not expect main.go to be denylisted")
	}
}
