package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// DefaultConcurrency keeps one removal call in flight at a time.
const DefaultConcurrency = 1

// Progress is a snapshot of the current or last batch run.
type Progress struct {
	Running    bool      `json:"running"`
	Total      int       `json:"total"`
	Settled    int       `json:"settled"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type ProgressCallback func(Progress)

// Orchestrator runs every pending or failed item through the Runner with a
// bounded number of concurrent removal calls.
type Orchestrator struct {
	store       *Store
	runner      *Runner
	concurrency int
	onProgress  ProgressCallback

	running  atomic.Bool
	mu       sync.RWMutex
	progress Progress
}

type OrchestratorOption func(*Orchestrator)

func WithConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithProgressCallback(fn ProgressCallback) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

func NewOrchestrator(store *Store, runner *Runner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		runner:      runner,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InProgress reports whether a ProcessAll run is active.
func (o *Orchestrator) InProgress() bool {
	return o.running.Load()
}

func (o *Orchestrator) Progress() Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}

// snapshot returns the ids ProcessAll would pick right now, in insertion order.
func (o *Orchestrator) snapshot() []string {
	items := o.store.Select(func(item Item) bool {
		return item.Status == StatusPending || item.Status == StatusError
	})
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// ProcessAll snapshots the pending and failed items and processes them.
// Items added after the snapshot wait for the next run. Individual failures
// never abort the run; a cancelled ctx stops new items from starting.
func (o *Orchestrator) ProcessAll(ctx context.Context) (Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Summary{}, ErrBatchInProgress
	}
	defer o.running.Store(false)
	return o.process(ctx, o.begin())
}

// Start takes the snapshot synchronously, then processes it in the
// background and reports the result to done, which may be nil. It returns
// ErrBatchInProgress without starting anything when a batch is running.
func (o *Orchestrator) Start(ctx context.Context, done func(Summary, error)) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrBatchInProgress
	}
	ids := o.begin()
	go func() {
		summary, err := o.process(ctx, ids)
		o.running.Store(false)
		if done != nil {
			done(summary, err)
		}
	}()
	return nil
}

func (o *Orchestrator) begin() []string {
	ids := o.snapshot()
	o.reset(len(ids))
	log.Info("Processing %d item(s) with concurrency %d", len(ids), o.concurrency)
	return ids
}

func (o *Orchestrator) process(ctx context.Context, ids []string) (Summary, error) {
	if o.concurrency <= 1 {
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			o.record(o.runner.RunQueued(ctx, id))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.concurrency)
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				o.record(o.runner.RunQueued(ctx, id))
				return nil
			})
		}
		_ = g.Wait()
	}

	p := o.finish()
	log.Info("Batch finished: %d done, %d failed, %d skipped", p.Succeeded, p.Failed, p.Skipped)
	return Summary{
		Total:     p.Total,
		Succeeded: p.Succeeded,
		Failed:    p.Failed,
		Skipped:   p.Skipped,
	}, ctx.Err()
}

func (o *Orchestrator) reset(total int) {
	o.mu.Lock()
	o.progress = Progress{Running: true, Total: total, StartedAt: time.Now()}
	p := o.progress
	o.mu.Unlock()
	o.notify(p)
}

func (o *Orchestrator) record(outcome Outcome) {
	o.mu.Lock()
	o.progress.Settled++
	switch outcome {
	case OutcomeDone:
		o.progress.Succeeded++
	case OutcomeFailed:
		o.progress.Failed++
	default:
		o.progress.Skipped++
	}
	p := o.progress
	o.mu.Unlock()
	o.notify(p)
}

func (o *Orchestrator) finish() Progress {
	o.mu.Lock()
	o.progress.Running = false
	o.progress.FinishedAt = time.Now()
	p := o.progress
	o.mu.Unlock()
	o.notify(p)
	return p
}

func (o *Orchestrator) notify(p Progress) {
	if o.onProgress != nil {
		o.onProgress(p)
	}
}
