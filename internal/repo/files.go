package repo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xunmengshe2x/Claudable/internal/util"
)

// DefaultMaxReadBytes caps file reads served to the external tool.
const DefaultMaxReadBytes = 256 * 1024

// ErrDenied is returned for files on the denylist.
var ErrDenied = errors.New("file is denylisted")

// ReadText reads a text file inside root. line is 1-based; zero reads from the start.
// limit caps the number of lines, maxBytes the returned size.
// Both the requested path and its symlink target must be inside root and off the denylist.
func ReadText(root, path string, line, limit, maxBytes int) (string, bool, error) {
	abs, err := Resolve(root, path)
	if err != nil {
		return "", false, err
	}
	if IsDenylisted(abs) {
		return "", false, fmt.Errorf("%w: %s", ErrDenied, path)
	}
	target, err := ResolveReal(root, abs)
	if err != nil {
		return "", false, err
	}
	if IsDenylisted(target) {
		return "", false, fmt.Errorf("%w: %s", ErrDenied, path)
	}
	file, err := os.Open(target)
	if err != nil {
		return "", false, err
	}
	defer file.Close()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxReadBytes
	}
	reader := bufio.NewReader(file)
	var b strings.Builder
	current := 0
	taken := 0
	truncated := false
	for {
		text, err := reader.ReadString('\n')
		if text != "" {
			current++
			if current >= line && (limit <= 0 || taken < limit) {
				if b.Len()+len(text) > maxBytes {
					if room := maxBytes - b.Len(); room > 0 {
						part, _ := util.TruncateBytes(text, room)
						b.WriteString(part)
					}
					truncated = true
					break
				}
				b.WriteString(text)
				taken++
			}
			if limit > 0 && taken >= limit {
				break
			}
		}
		if err != nil {
			break
		}
	}
	return b.String(), truncated, nil
}
