package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/internal/archive"
	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
	"github.com/mohamurshid/AutoRemoveAi/internal/config"
	"github.com/mohamurshid/AutoRemoveAi/internal/intake"
	"github.com/mohamurshid/AutoRemoveAi/internal/removal"
	"github.com/mohamurshid/AutoRemoveAi/internal/save"
)

type stubRemover struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
	block chan struct{}
}

func newStubRemover() *stubRemover {
	return &stubRemover{fail: make(map[string]error)}
}

func (r *stubRemover) Remove(ctx context.Context, img removal.Image) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, img.Name)
	err := r.fail[img.Name]
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte("png:" + img.Name), nil
}

type recordingSaver struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (s *recordingSaver) Save(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[name] = data
	return nil
}

func png(name string) intake.File {
	return intake.File{Name: name, ContentType: "image/png", Data: []byte("raw:" + name)}
}

func TestSession_RenameThenDownload(t *testing.T) {
	saver := &recordingSaver{}
	s := NewSession(newStubRemover(), saver)

	added, err := s.AddFiles([]intake.File{png("a.jpg")})
	require.NoError(t, err)
	id := added[0].ID

	item, err := s.Process(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusDone, item.Status)

	_, err = s.Rename(id, "photo")
	require.NoError(t, err)

	name, err := s.Download(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", name)
	assert.Equal(t, []byte("png:a.jpg"), saver.saved["photo.png"])
}

func TestSession_DownloadRequiresResult(t *testing.T) {
	saver := &recordingSaver{}
	s := NewSession(newStubRemover(), saver)
	added, _ := s.AddFiles([]intake.File{png("a.jpg")})

	_, err := s.Download(context.Background(), added[0].ID)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrValidation))
	assert.Empty(t, saver.saved)

	_, err = s.Download(context.Background(), "item-999")
	assert.ErrorIs(t, err, batch.ErrNotFound)
}

func TestSession_AddFilesFiltersNonImages(t *testing.T) {
	s := NewSession(newStubRemover(), &recordingSaver{})

	added, err := s.AddFiles([]intake.File{
		png("a.png"),
		{Name: "notes.txt", ContentType: "text/plain", Data: []byte("x")},
	})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "a-removed", added[0].OutputName)
	assert.Len(t, s.Items(), 1)
}

func TestSession_AddPaths(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "in/b.png", []byte("b"), 0o644))
	require.NoError(t, util.WriteFile(fs, "in/a.jpg", []byte("a"), 0o644))
	require.NoError(t, util.WriteFile(fs, "in/readme.md", []byte("# hi"), 0o644))

	s := NewSession(newStubRemover(), &recordingSaver{})
	added, err := s.AddPaths(fs, []string{"in"})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "a.jpg", added[0].SourceName)
	assert.Equal(t, "b.png", added[1].SourceName)
}

func TestSession_ProcessAllAndDownloadAll(t *testing.T) {
	remover := newStubRemover()
	remover.fail["b.png"] = apperr.New(apperr.ErrAuthorization, removal.MsgInsufficientCredits).WithStatus(402)
	saver := &recordingSaver{}
	s := NewSession(remover, saver, WithArchiveName("out.zip"))

	_, err := s.DownloadAll(context.Background())
	assert.ErrorIs(t, err, archive.ErrNothingToArchive)

	_, _ = s.AddFiles([]intake.File{png("a.png"), png("b.png"), png("c.png")})
	summary, err := s.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, batch.Summary{Total: 3, Succeeded: 2, Failed: 1}, summary)

	bundle, err := s.DownloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a-removed.png", "c-removed.png"}, bundle.Entries)
	assert.Equal(t, bundle.Data, saver.saved["out.zip"])
	assert.Equal(t, "out.zip", s.ArchiveName())
}

func TestSession_DownloadSaveFailure(t *testing.T) {
	saver := &recordingSaver{err: errors.New("read-only")}
	s := NewSession(newStubRemover(), saver)
	added, _ := s.AddFiles([]intake.File{png("a.png")})
	_, err := s.Process(context.Background(), added[0].ID)
	require.NoError(t, err)

	_, err = s.Download(context.Background(), added[0].ID)
	assert.EqualError(t, err, "read-only")

	item, _ := s.Item(added[0].ID)
	assert.Equal(t, batch.StatusDone, item.Status)
}

func TestSession_ProcessRejectsInFlightItem(t *testing.T) {
	remover := newStubRemover()
	remover.block = make(chan struct{})
	s := NewSession(remover, &recordingSaver{})
	added, _ := s.AddFiles([]intake.File{png("a.png")})
	id := added[0].ID

	done := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background(), id)
		done <- err
	}()
	require.Eventually(t, func() bool {
		item, _ := s.Item(id)
		return item.Status == batch.StatusProcessing
	}, time.Second, 5*time.Millisecond)

	_, err := s.Process(context.Background(), id)
	assert.ErrorIs(t, err, batch.ErrStatusConflict)

	close(remover.block)
	assert.NoError(t, <-done)
}

func TestSession_StartProcessAll(t *testing.T) {
	remover := newStubRemover()
	remover.block = make(chan struct{})
	s := NewSession(remover, &recordingSaver{})
	_, _ = s.AddFiles([]intake.File{png("a.png")})

	result := make(chan batch.Summary, 1)
	require.NoError(t, s.StartProcessAll(context.Background(), func(sum batch.Summary, _ error) {
		result <- sum
	}))
	assert.True(t, s.InProgress())
	assert.ErrorIs(t, s.StartProcessAll(context.Background(), nil), batch.ErrBatchInProgress)

	close(remover.block)
	assert.Equal(t, 1, (<-result).Succeeded)
	assert.Equal(t, 1, s.Progress().Succeeded)
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	remover := newStubRemover()
	remover.block = make(chan struct{})
	s := NewSession(remover, &recordingSaver{})
	added, _ := s.AddFiles([]intake.File{png("a.png"), png("b.png")})

	done := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background(), added[0].ID)
		done <- err
	}()
	require.Eventually(t, func() bool {
		item, _ := s.Item(added[0].ID)
		return item.Status == batch.StatusProcessing
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	close(remover.block)
	assert.ErrorIs(t, <-done, batch.ErrNotFound)

	assert.Empty(t, s.Items())
	stats := s.handles.Stats()
	assert.Equal(t, 0, stats.Live)
	assert.Equal(t, stats.Created, stats.Revoked)

	_, err := s.AddFiles([]intake.File{png("c.png")})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSession_DownloadWritesToFilesystem(t *testing.T) {
	fs := memfs.New()
	s := NewSession(newStubRemover(), save.NewFS(fs))
	added, _ := s.AddFiles([]intake.File{png("a.png")})
	_, err := s.Process(context.Background(), added[0].ID)
	require.NoError(t, err)

	_, err = s.Download(context.Background(), added[0].ID)
	require.NoError(t, err)
	got, err := util.ReadFile(fs, "a-removed.png")
	require.NoError(t, err)
	assert.Equal(t, "png:a.png", string(got))
}

func TestNewSessionFromConfig(t *testing.T) {
	cfg := &config.Config{
		Removal: config.RemovalConfig{APIKey: "k", APIURL: removal.DefaultAPIURL, Timeout: 5},
		Batch:   config.BatchConfig{Concurrency: 2, ArchiveName: "x.zip", OutputDir: filepath.Join(t.TempDir(), "out")},
	}

	s, err := NewSessionFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "x.zip", s.ArchiveName())
	assert.DirExists(t, cfg.Batch.OutputDir)

	cfg.Removal.APIKey = ""
	_, err = NewSessionFromConfig(cfg)
	assert.Error(t, err)
}
