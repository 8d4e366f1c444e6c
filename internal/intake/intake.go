// Package intake turns raw file blobs into candidates for a batch. Only
// images make it through; everything else is dropped before an item exists.
package intake

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// File is one captured blob with its original name and declared type.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func IsImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// Validate reports why f cannot become a batch item.
func Validate(f File) error {
	if strings.TrimSpace(f.Name) == "" {
		return apperr.New(apperr.ErrValidation, "file name is required")
	}
	if !IsImage(f.ContentType) {
		return apperr.New(apperr.ErrValidation, "not an image").
			WithContext("name", f.Name).
			WithContext("content_type", f.ContentType)
	}
	if len(f.Data) == 0 {
		return apperr.New(apperr.ErrValidation, "empty file").WithContext("name", f.Name)
	}
	return nil
}

// Accept keeps the files that pass Validate, preserving order. Rejected
// files are only logged.
func Accept(files []File) []File {
	ret := make([]File, 0, len(files))
	for _, f := range files {
		if err := Validate(f); err != nil {
			log.Debug("Skipping %s: %v", f.Name, err)
			continue
		}
		ret = append(ret, f)
	}
	return ret
}

// DetectContentType guesses a media type from the file extension, falling
// back to sniffing the first bytes.
func DetectContentType(name string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

// ReadPaths loads files from fsys. Directories contribute their direct
// regular-file children in name order.
func ReadPaths(fsys billy.Filesystem, paths []string) ([]File, error) {
	ret := make([]File, 0, len(paths))
	for _, p := range paths {
		info, err := fsys.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}

		if !info.IsDir() {
			f, err := readFile(fsys, p)
			if err != nil {
				return nil, err
			}
			ret = append(ret, f)
			continue
		}

		entries, err := fsys.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", p, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			if entry.IsDir() || !entry.Mode().IsRegular() {
				continue
			}
			f, err := readFile(fsys, fsys.Join(p, entry.Name()))
			if err != nil {
				return nil, err
			}
			ret = append(ret, f)
		}
	}
	return ret, nil
}

func readFile(fsys billy.Filesystem, p string) (File, error) {
	data, err := util.ReadFile(fsys, p)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", p, err)
	}
	name := path.Base(strings.ReplaceAll(p, "\\", "/"))
	log.Debug("Captured %s (%s)", name, humanize.Bytes(uint64(len(data))))
	return File{
		Name:        name,
		ContentType: DetectContentType(name, data),
		Data:        data,
	}, nil
}
