// Package service wires the batch pieces into a single user session and runs
// the scheduled folder watcher on top of it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/internal/archive"
	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
	"github.com/mohamurshid/AutoRemoveAi/internal/config"
	"github.com/mohamurshid/AutoRemoveAi/internal/handles"
	"github.com/mohamurshid/AutoRemoveAi/internal/intake"
	"github.com/mohamurshid/AutoRemoveAi/internal/removal"
	"github.com/mohamurshid/AutoRemoveAi/internal/save"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// ErrClosed is returned by mutating calls after Close.
var ErrClosed = errors.New("session closed")

// Session owns every item, handle and batch run for one user.
type Session struct {
	handles      *handles.Manager
	store        *batch.Store
	runner       *batch.Runner
	orchestrator *batch.Orchestrator
	assembler    *archive.Assembler
	saver        save.Saver
	archiveName  string

	mu     sync.RWMutex
	closed bool
}

type options struct {
	concurrency int
	callTimeout time.Duration
	archiveName string
	writer      archive.Writer
	onProgress  batch.ProgressCallback
}

type Option func(*options)

func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

func WithArchiveName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.archiveName = name
		}
	}
}

func WithArchiveWriter(w archive.Writer) Option {
	return func(o *options) { o.writer = w }
}

func WithProgressCallback(fn batch.ProgressCallback) Option {
	return func(o *options) { o.onProgress = fn }
}

func NewSession(remover removal.Remover, saver save.Saver, opts ...Option) *Session {
	o := options{
		concurrency: batch.DefaultConcurrency,
		archiveName: config.DefaultArchiveName,
		writer:      archive.ZipWriter{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := handles.NewManager()
	store := batch.NewStore(h)
	var runnerOpts []batch.RunnerOption
	if o.callTimeout > 0 {
		runnerOpts = append(runnerOpts, batch.WithCallTimeout(o.callTimeout))
	}
	runner := batch.NewRunner(store, h, remover, runnerOpts...)

	return &Session{
		handles: h,
		store:   store,
		runner:  runner,
		orchestrator: batch.NewOrchestrator(store, runner,
			batch.WithConcurrency(o.concurrency),
			batch.WithProgressCallback(o.onProgress),
		),
		assembler:   archive.NewAssembler(store, o.writer),
		saver:       saver,
		archiveName: o.archiveName,
	}
}

// NewSessionFromConfig builds a session backed by the HTTP removal client and
// the configured output directory.
func NewSessionFromConfig(cfg *config.Config, opts ...Option) (*Session, error) {
	client, err := removal.NewClient(cfg.RemovalClient())
	if err != nil {
		return nil, err
	}
	saver, err := save.NewDir(cfg.Batch.OutputDir)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithConcurrency(cfg.Batch.Concurrency),
		WithArchiveName(cfg.Batch.ArchiveName),
	}
	return NewSession(client, saver, append(base, opts...)...), nil
}

func (s *Session) ArchiveName() string { return s.archiveName }

func (s *Session) Items() []batch.Item {
	return s.store.List()
}

func (s *Session) Item(id string) (batch.Item, error) {
	item, ok := s.store.Get(id)
	if !ok {
		return batch.Item{}, fmt.Errorf("%w: %s", batch.ErrNotFound, id)
	}
	return item, nil
}

// Subscribe forwards store events to fn until cancel is called.
func (s *Session) Subscribe(fn func(batch.Event)) (cancel func()) {
	return s.store.Subscribe(fn)
}

// ResolveBlob dereferences a live preview or result handle.
func (s *Session) ResolveBlob(id string) ([]byte, bool) {
	return s.handles.Resolve(id)
}

// AddFiles appends the image files; everything else is dropped.
func (s *Session) AddFiles(files []intake.File) ([]batch.Item, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.Add(files), nil
}

// AddPaths reads files and directories from fsys and adds the images.
func (s *Session) AddPaths(fsys billy.Filesystem, paths []string) ([]batch.Item, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	files, err := intake.ReadPaths(fsys, paths)
	if err != nil {
		return nil, err
	}
	return s.store.Add(files), nil
}

// Process runs one item now, whatever its status, unless it is already
// processing.
func (s *Session) Process(ctx context.Context, id string) (batch.Item, error) {
	if err := s.checkOpen(); err != nil {
		return batch.Item{}, err
	}
	if _, err := s.Item(id); err != nil {
		return batch.Item{}, err
	}

	outcome := s.runner.Run(ctx, id)
	item, err := s.Item(id)
	if err != nil {
		return batch.Item{}, err
	}
	if outcome == batch.OutcomeSkipped {
		return item, fmt.Errorf("%w: %s is %s", batch.ErrStatusConflict, id, item.Status)
	}
	return item, nil
}

func (s *Session) ProcessAll(ctx context.Context) (batch.Summary, error) {
	if err := s.checkOpen(); err != nil {
		return batch.Summary{}, err
	}
	return s.orchestrator.ProcessAll(ctx)
}

// StartProcessAll snapshots the queue and processes it in the background.
func (s *Session) StartProcessAll(ctx context.Context, done func(batch.Summary, error)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.orchestrator.Start(ctx, done)
}

func (s *Session) InProgress() bool { return s.orchestrator.InProgress() }

func (s *Session) Progress() batch.Progress { return s.orchestrator.Progress() }

func (s *Session) Rename(id, name string) (batch.Item, error) {
	if err := s.checkOpen(); err != nil {
		return batch.Item{}, err
	}
	return s.store.Rename(id, name)
}

func (s *Session) Delete(id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.store.Remove(id)
}

func (s *Session) Clear() int {
	return s.store.Clear()
}

// Result returns the download name and bytes of a done item.
func (s *Session) Result(id string) (string, []byte, error) {
	item, err := s.Item(id)
	if err != nil {
		return "", nil, err
	}
	if item.Status != batch.StatusDone || !item.HasResult() {
		return "", nil, apperr.New(apperr.ErrValidation, "Nothing to download yet").
			WithContext("item", id).
			WithContext("status", string(item.Status))
	}
	return item.OutputName + batch.OutputExt, item.Result, nil
}

// Download saves one result as "<outputName>.png" and returns that name.
func (s *Session) Download(ctx context.Context, id string) (string, error) {
	name, data, err := s.Result(id)
	if err != nil {
		return "", err
	}
	if err := s.saver.Save(ctx, name, data); err != nil {
		return "", err
	}
	return name, nil
}

// Archive bundles every done item.
func (s *Session) Archive(ctx context.Context) (archive.Bundle, error) {
	return s.assembler.Build(ctx)
}

// DownloadAll saves the bundle under the archive name and returns the bundle.
func (s *Session) DownloadAll(ctx context.Context) (archive.Bundle, error) {
	bundle, err := s.Archive(ctx)
	if err != nil {
		return archive.Bundle{}, err
	}
	if err := s.saver.Save(ctx, s.archiveName, bundle.Data); err != nil {
		return archive.Bundle{}, err
	}
	return bundle, nil
}

// Close ends the session: every item is dropped and every handle released.
// In-flight removal calls finish on their own and their results are
// discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	cleared := s.store.Clear()
	leaked := s.handles.RevokeAll()
	stats := s.handles.Stats()
	log.Info("Session closed: %d item(s) cleared, %d stray handle(s), %d created / %d revoked",
		cleared, leaked, stats.Created, stats.Revoked)
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
