package unpak

import (
	"fmt"
	"strconv"
	"strings"
)

// SanitizePath converts a container entry name to a relative,
// slash-separated path that cannot leave the extraction root.
//
// It performs the following transformations:
//   - Converts backslashes to slashes: `dir\file` → "dir/file"
//   - Strips leading slashes: "/etc/passwd" → "etc/passwd"
//   - Strips drive prefixes after them: "/C:/dir/file" → "dir/file"
//   - Drops empty, "." and ".." segments: "../../etc/passwd" → "etc/passwd"
//
// The result may be empty when nothing usable remains. Names containing a
// NUL byte are rejected with ErrInvalidEntry.
func SanitizePath(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: name %q contains NUL", ErrInvalidEntry, name)
	}
	p := strings.TrimLeft(strings.ReplaceAll(name, `\`, "/"), "/")
	if hasDrivePrefix(p) {
		p = p[2:]
	}

	parts := strings.Split(p, "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		switch strings.TrimSpace(part) {
		case "", ".", "..":
			continue
		}
		result = append(result, part)
	}
	return strings.Join(result, "/"), nil
}

// destinationPath returns the sanitized destination for entry i and whether
// the entry is a directory.
func destinationPath(i int, name string, dir bool) (string, bool, error) {
	p, err := SanitizePath(name)
	if err != nil {
		return "", dir, err
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, `\`) {
		dir = true
	}
	if p == "" {
		p = "unnamed_" + strconv.Itoa(i)
	}
	return p, dir, nil
}

func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
