package filetransfer

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
)

// validateFileName rejects names that are unsafe to use as a local file
// path component: the FileStart pipe delimiter, null bytes and control
// characters, path separators, and directory traversal. Names are NFC
// normalized first so a visually-identical but differently-encoded name
// can't slip past the same checks applied to the receiver's on-disk
// comparison.
func validateFileName(name string) (string, error) {
	if name == "" {
		return "", cryptcaterr.Wrap(cryptcaterr.Malformed, "file name is empty")
	}

	normalized := norm.NFC.String(name)

	if containsDangerousChars(normalized) {
		return "", cryptcaterr.Wrap(cryptcaterr.Malformed, "file name contains dangerous characters")
	}
	if strings.ContainsRune(normalized, '|') {
		return "", cryptcaterr.Wrap(cryptcaterr.Malformed, "file name must not contain '|'")
	}

	base := filepath.Base(normalized)
	if base != normalized || base == "." || base == ".." {
		return "", cryptcaterr.Wrap(cryptcaterr.Malformed, "file name must not contain path separators or traversal")
	}

	return base, nil
}

// containsDangerousChars reports null bytes and control characters other
// than common whitespace.
func containsDangerousChars(s string) bool {
	for _, r := range s {
		if r == 0 {
			return true
		}
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
