package approval

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
)

// ComputeHash returns the SHA-256 hex digest of content.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether content hashes to expected, using a constant-time
// comparison of the hex digests.
func Verify(content, expected string) bool {
	got := ComputeHash(content)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// BodyContent returns everything after the frontmatter's closing "---" of
// the file at path, with leading newlines trimmed.
func BodyContent(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return bodyFromContent(string(raw)), nil
}

func bodyFromContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return strings.TrimLeft(content, "\n")
	}
	rest := content[len("---"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return strings.TrimLeft(content, "\n")
	}
	after := rest[idx+len("\n---"):]
	return strings.TrimLeft(after, "\n")
}

// ExtractHash scans the file at path for its `integrity_hash:` frontmatter
// line.
func ExtractHash(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "integrity_hash:") {
			v := strings.TrimSpace(strings.TrimPrefix(trimmed, "integrity_hash:"))
			return strings.Trim(v, `"`), nil
		}
	}
	return "", nil
}
