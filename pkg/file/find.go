package file

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FindRecentAfter walks dir and returns regular files modified after
// startTime that satisfy keep (nil keeps everything), sorted by path.
func FindRecentAfter(dir string, startTime time.Time, keep func(path string) bool) ([]string, error) {
	var recentFiles []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.ModTime().After(startTime) {
			return nil
		}
		if keep != nil && !keep(path) {
			return nil
		}
		recentFiles = append(recentFiles, path)
		return nil
	})

	sort.Strings(recentFiles)
	return recentFiles, err
}
