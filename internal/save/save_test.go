package save

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
)

func TestFS_Save(t *testing.T) {
	fs := memfs.New()
	s := NewFS(fs)

	require.NoError(t, s.Save(context.Background(), "photo.png", []byte("png")))

	got, err := util.ReadFile(fs, "photo.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)

	_, err = fs.Stat("photo.png.tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFS_Save_Overwrites(t *testing.T) {
	fs := memfs.New()
	s := NewFS(fs)

	require.NoError(t, s.Save(context.Background(), "a.png", []byte("first")))
	require.NoError(t, s.Save(context.Background(), "a.png", []byte("second")))

	got, err := util.ReadFile(fs, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestFS_Save_RejectsPaths(t *testing.T) {
	s := NewFS(memfs.New())

	for _, name := range []string{"", "  ", "../x.png", "dir/x.png", `dir\x.png`, ".."} {
		err := s.Save(context.Background(), name, []byte("x"))
		require.Error(t, err, name)
		assert.True(t, apperr.IsType(err, apperr.ErrValidation), name)
	}
}

func TestFS_Save_Cancelled(t *testing.T) {
	fs := memfs.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewFS(fs).Save(ctx, "a.png", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := fs.Stat("a.png")
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewDir_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")

	s, err := NewDir(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "a.zip", []byte("zip")))

	got, err := os.ReadFile(filepath.Join(dir, "a.zip"))
	require.NoError(t, err)
	assert.Equal(t, "zip", string(got))
}
