package file

import (
	"path/filepath"
	"strings"
)

// Stem returns the base name of path without its final extension.
// Dotfiles such as ".env" keep their full name.
func Stem(path string) string {
	name := filepath.Base(strings.ReplaceAll(path, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}

	lastDot := strings.LastIndex(name, ".")
	if lastDot <= 0 {
		return name
	}
	return name[:lastDot]
}
