package repo

import (
	"path/filepath"
	"strings"
)

var (
	deniedPrefixes = []string{".env", "id_rsa", "id_ed25519", "id_ecdsa"}
	deniedSuffixes = []string{".pem", ".key", ".p12", ".pfx", ".keystore"}
	deniedNames    = map[string]bool{
		".npmrc":           true,
		".pypirc":          true,
		".netrc":           true,
		".git-credentials": true,
		"oauth_creds.json": true,
	}
	// matched against the slash-separated lowercase path
	deniedFragments = []string{
		".aws/credentials",
		".docker/config.json",
		".qwen/",
		".ssh/",
		".git/config",
	}
)

// IsDenylisted reports whether the file must never be served to the external tool.
func IsDenylisted(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	base := strings.ToLower(filepath.Base(path))

	if deniedNames[base] {
		return true
	}
	for _, p := range deniedPrefixes {
		if strings.HasPrefix(base, p) {
			return true
		}
	}
	for _, s := range deniedSuffixes {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	for _, f := range deniedFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}
