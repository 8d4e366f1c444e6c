// Package save hands finished blobs to the user's storage.
package save

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// Saver persists a named blob. Implementations must not keep a reference to
// data after Save returns.
type Saver interface {
	Save(ctx context.Context, name string, data []byte) error
}

// FS saves into the root of a billy filesystem.
type FS struct {
	fs   billy.Filesystem
	perm os.FileMode
}

func NewFS(fs billy.Filesystem) *FS {
	return &FS{fs: fs, perm: 0o644}
}

// NewDir saves into dir on the local disk, creating it when missing.
func NewDir(dir string) (*FS, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return NewFS(osfs.New(dir)), nil
}

func (s *FS) Root() string {
	return s.fs.Root()
}

// Save writes data to name through a temporary file so a partial write never
// replaces an earlier download.
func (s *FS) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}

	tmp := name + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, s.perm); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}

	log.Info("Saved %s (%s) to %s", name, humanize.Bytes(uint64(len(data))), s.fs.Root())
	return nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.ErrValidation, "file name is required")
	}
	if strings.ContainsAny(name, `/\`) || name != path.Base(name) || name == "." || name == ".." {
		return apperr.New(apperr.ErrValidation, "file name must not contain a path").
			WithContext("name", name)
	}
	return nil
}
