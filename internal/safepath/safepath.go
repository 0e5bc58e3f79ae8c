// Package safepath maps untrusted file names onto a storage root.
package safepath

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a name cannot be safely placed under the root.
var ErrPathTraversal = errors.New("path escapes storage root")

// Resolve joins name onto root and returns the cleaned result. It rejects
// names that are empty, contain a NUL byte, are absolute, resolve to root
// itself, or land outside root after normalization. It performs no I/O.
func Resolve(root, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ErrPathTraversal
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", ErrPathTraversal
	}

	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, filepath.FromSlash(name))

	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}
