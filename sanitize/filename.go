// Package sanitize implements the filename-sanitization contract spec.md §6
// treats as an external collaborator. The core never persists a file
// itself — it calls a save(filename, bytes) callback — but it is
// responsible for sanitizing the name it passes to that callback.
package sanitize

import "strings"

// MaxLength is the maximum sanitized filename length.
const MaxLength = 255

const allowedChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.-_"

// Filename strips any leading path components, rejects ".." segments,
// restricts the remainder to a whitelist of characters (alphanumerics,
// dot, dash, underscore), and truncates to MaxLength. It returns ("", false)
// when the result would be empty, ".", or "..".
func Filename(name string) (string, bool) {
	// Strip leading path components from both slash conventions; a mesh
	// peer is untrusted and may send an absolute or traversal-laden path.
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(allowedChars, r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > MaxLength {
		out = out[:MaxLength]
	}

	if out == "" || out == "." || out == ".." {
		return "", false
	}
	return out, true
}
