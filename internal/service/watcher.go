package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
	"github.com/mohamurshid/AutoRemoveAi/internal/intake"
	"github.com/mohamurshid/AutoRemoveAi/pkg/file"
	"github.com/mohamurshid/AutoRemoveAi/pkg/icron"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// ScanResult reports one watcher pass.
type ScanResult struct {
	Found   int           `json:"found"`
	Added   int           `json:"added"`
	Summary batch.Summary `json:"summary"`
	Saved   []string      `json:"saved"`
}

// Watcher periodically picks up new images from a directory, processes the
// queue and saves every finished result.
type Watcher struct {
	session  *Session
	dir      string
	cronExpr string
	cron     *cron.Cron
	group    singleflight.Group

	mu    sync.Mutex
	since time.Time
	// saved maps item id to the result handle id written last.
	saved map[string]string
}

// NewWatcher prepares a watcher on dir. The first pass picks up files
// modified since the schedule's previous firing.
func NewWatcher(session *Session, dir, cronExpr string, c *cron.Cron) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory %s is not a directory", dir)
	}

	trigger, err := icron.GetTriggerInfo(cronExpr, time.Now())
	if err != nil {
		return nil, err
	}
	since := trigger.Last
	if since.IsZero() {
		since = time.Now().Add(-trigger.TimeUntilNext)
	}

	return &Watcher{
		session:  session,
		dir:      dir,
		cronExpr: cronExpr,
		cron:     c,
		since:    since,
		saved:    make(map[string]string),
	}, nil
}

// Schedule registers the scan on the cron. Ticks that arrive while a scan is
// still running share its result instead of starting another one.
func (w *Watcher) Schedule(ctx context.Context) error {
	log.Info("Watching %s on %q", w.dir, w.cronExpr)
	_, err := w.cron.AddFunc(w.cronExpr, func() {
		if _, err := w.Trigger(ctx); err != nil {
			log.Error("Watch pass on %s failed: %v", w.dir, err)
		}
	})
	return err
}

func (w *Watcher) Trigger(ctx context.Context) (ScanResult, error) {
	v, err, _ := w.group.Do("scan", func() (any, error) {
		return w.scan(ctx)
	})
	if v == nil {
		return ScanResult{}, err
	}
	return v.(ScanResult), err
}

func (w *Watcher) scan(ctx context.Context) (ScanResult, error) {
	w.mu.Lock()
	since := w.since
	w.mu.Unlock()
	startedAt := time.Now()

	var result ScanResult
	paths, err := file.FindRecentAfter(w.dir, since, isImagePath)
	if err != nil {
		return result, fmt.Errorf("failed to find recent files: %w", err)
	}
	result.Found = len(paths)
	log.Info("Found %d new image(s) in %s since %s", len(paths), w.dir, since.Format(time.RFC3339))

	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(w.dir, p)
		if err != nil {
			return result, err
		}
		rel = append(rel, r)
	}
	added, err := w.session.AddPaths(osfs.New(w.dir), rel)
	if err != nil {
		return result, err
	}
	result.Added = len(added)

	w.mu.Lock()
	w.since = startedAt
	w.mu.Unlock()

	result.Summary, err = w.session.ProcessAll(ctx)
	switch {
	case errors.Is(err, batch.ErrBatchInProgress):
		log.Info("A batch is already running; new items wait for the next pass")
	case err != nil:
		return result, err
	}

	result.Saved, err = w.saveFinished(ctx)
	return result, err
}

// saveFinished writes every done item whose current result has not been
// written yet.
func (w *Watcher) saveFinished(ctx context.Context) ([]string, error) {
	items := w.session.Items()
	defer w.forgetMissing(items)

	var saved []string
	for _, item := range items {
		if item.Status != batch.StatusDone || !item.HasResult() {
			continue
		}
		w.mu.Lock()
		written := w.saved[item.ID] == item.ResultHandle.ID()
		w.mu.Unlock()
		if written {
			continue
		}

		name, err := w.session.Download(ctx, item.ID)
		if errors.Is(err, batch.ErrNotFound) {
			continue
		}
		if err != nil {
			return saved, err
		}
		w.mu.Lock()
		w.saved[item.ID] = item.ResultHandle.ID()
		w.mu.Unlock()
		saved = append(saved, name)
	}
	return saved, nil
}

// forgetMissing drops saved entries for items that were deleted or cleared.
func (w *Watcher) forgetMissing(items []batch.Item) {
	live := make(map[string]struct{}, len(items))
	for _, item := range items {
		live[item.ID] = struct{}{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.saved {
		if _, ok := live[id]; !ok {
			delete(w.saved, id)
		}
	}
}

func isImagePath(p string) bool {
	return intake.IsImage(mime.TypeByExtension(strings.ToLower(filepath.Ext(p))))
}
