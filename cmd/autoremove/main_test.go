package main

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamurshid/AutoRemoveAi/internal/config"
)

type fakeScheduler struct {
	called bool
}

func (f *fakeScheduler) Schedule(context.Context) error {
	f.called = true
	return nil
}

type fakeCron struct {
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.stopped = true
	return context.Background()
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func runUntilCancelled(t *testing.T, sched scheduler, engine *fakeCron) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.Config{HTTP: config.HTTPConfig{Addr: "127.0.0.1:0"}}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, cfg, sched, engine, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}
}

func TestRunWithComponents_StartsCronAndHTTP(t *testing.T) {
	scheduler := &fakeScheduler{}
	cronEngine := &fakeCron{}

	runUntilCancelled(t, scheduler, cronEngine)

	assert.True(t, scheduler.called)
	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
}

func TestRunWithComponents_WithoutWatcher(t *testing.T) {
	cronEngine := &fakeCron{}

	runUntilCancelled(t, nil, cronEngine)

	assert.False(t, cronEngine.started)
}

// removalAPI answers like the remote service: PNG bytes on success, 402 for
// files named in noCredits.
func removalAPI(t *testing.T, noCredits ...string) *httptest.Server {
	t.Helper()
	refuse := make(map[string]bool)
	for _, name := range noCredits {
		refuse[name] = true
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		files := r.MultipartForm.File["image_file"]
		if len(files) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if refuse[files[0].Filename] {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n" + files[0].Filename))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func setupEnv(t *testing.T, apiURL string) {
	t.Helper()
	for _, key := range []string{"REMOVAL_SIZE", "REMOVAL_TIMEOUT", "BATCH_CONCURRENCY", "ARCHIVE_NAME", "OUTPUT_DIR", "WATCH_DIR", "CRON_EXPR", "HTTP_ADDR", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	t.Setenv("REMOVAL_API_KEY", "test-key")
	t.Setenv("REMOVAL_API_URL", apiURL)
	t.Setenv("AUTOREMOVE_CONFIG", filepath.Join(t.TempDir(), "none.toml"))
}

func inputDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("raw"), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProcessCmd_SavesEachResult(t *testing.T) {
	setupEnv(t, removalAPI(t).URL)
	in := inputDir(t, "a.jpg", "b.png", "notes.txt")
	out := filepath.Join(t.TempDir(), "out")

	stdout, err := execute(t, "process", in, "--out", out, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Queued 2 image(s)")
	assert.Contains(t, stdout, "2 done, 0 failed")

	got, err := os.ReadFile(filepath.Join(out, "a-removed.png"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\na.jpg", string(got))
	assert.FileExists(t, filepath.Join(out, "b-removed.png"))
	assert.NoFileExists(t, filepath.Join(out, "notes-removed.png"))
}

func TestProcessCmd_Archive(t *testing.T) {
	setupEnv(t, removalAPI(t).URL)
	t.Setenv("ARCHIVE_NAME", "cutouts.zip")
	in := inputDir(t, "a.jpg", "b.jpg")
	out := t.TempDir()

	_, err := execute(t, "process", filepath.Join(in, "a.jpg"), filepath.Join(in, "b.jpg"), "--archive", "--out", out, "--concurrency", "2")
	require.NoError(t, err)

	zr, err := zip.OpenReader(filepath.Join(out, "cutouts.zip"))
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"a-removed.png", "b-removed.png"}, names)
	assert.NoFileExists(t, filepath.Join(out, "a-removed.png"))
}

func TestProcessCmd_PartialFailure(t *testing.T) {
	setupEnv(t, removalAPI(t, "b.jpg").URL)
	in := inputDir(t, "a.jpg", "b.jpg")
	out := t.TempDir()

	stdout, err := execute(t, "process", in, "--out", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 image(s) failed")
	assert.Contains(t, stdout, "failed b.jpg: Insufficient credits.")
	assert.FileExists(t, filepath.Join(out, "a-removed.png"))
	assert.NoFileExists(t, filepath.Join(out, "b-removed.png"))
}

func TestProcessCmd_Errors(t *testing.T) {
	setupEnv(t, removalAPI(t).URL)

	_, err := execute(t, "process")
	assert.Error(t, err)

	_, err = execute(t, "process", inputDir(t, "notes.txt"), "--out", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no images found")

	t.Setenv("REMOVAL_API_KEY", "")
	_, err = execute(t, "process", inputDir(t, "a.jpg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOVAL_API_KEY")
}

func TestProcessCmd_LogFile(t *testing.T) {
	setupEnv(t, removalAPI(t).URL)
	logFile := filepath.Join(t.TempDir(), "logs", "autoremove.log")

	_, err := execute(t, "process", inputDir(t, "a.jpg"), "--out", t.TempDir(), "--log-file", logFile, "--log-level", "debug")
	require.NoError(t, err)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[INFO]")
}
