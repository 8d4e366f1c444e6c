package batch

import (
	"context"
	"errors"
	"time"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/internal/handles"
	"github.com/mohamurshid/AutoRemoveAi/internal/removal"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

type Outcome int

const (
	// OutcomeSkipped means the run was rejected or its result discarded,
	// e.g. the item was already processing or got deleted mid-call.
	OutcomeSkipped Outcome = iota
	OutcomeDone
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

var (
	manualStart = []Status{StatusPending, StatusError, StatusDone}
	queuedStart = []Status{StatusPending, StatusError}
	inFlight    = []Status{StatusProcessing}
)

// Runner performs one removal attempt per call and owns every status
// transition of an item.
type Runner struct {
	store   *Store
	handles *handles.Manager
	remover removal.Remover
	timeout time.Duration
}

type RunnerOption func(*Runner)

// WithCallTimeout bounds each removal call. Zero means no bound beyond the
// caller's context.
func WithCallTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

func NewRunner(store *Store, h *handles.Manager, remover removal.Remover, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:   store,
		handles: h,
		remover: remover,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run (re)processes an item on explicit request. Items already processing
// are left untouched. Run never panics and never returns an error: every
// failure ends up as the item's status.
func (r *Runner) Run(ctx context.Context, id string) Outcome {
	return r.run(ctx, id, manualStart)
}

// RunQueued is Run restricted to pending and error items; a batch uses it so
// an item finished by a manual run in the meantime is not processed twice.
func (r *Runner) RunQueued(ctx context.Context, id string) Outcome {
	return r.run(ctx, id, queuedStart)
}

func (r *Runner) run(ctx context.Context, id string, from []Status) (outcome Outcome) {
	item, err := r.store.Update(id, Patch{
		Status:      ptr(StatusProcessing),
		ClearError:  true,
		ClearResult: true,
		From:        from,
	})
	if err != nil {
		log.Debug("Not starting %s: %v", id, err)
		return OutcomeSkipped
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Removal of %s panicked: %v", id, rec)
			outcome = r.fail(id, "Failed")
		}
	}()

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log.Info("Removing background of %s (%s)", item.SourceName, id)
	out, err := r.remover.Remove(callCtx, removal.Image{
		Name:        item.SourceName,
		ContentType: item.ContentType,
		Data:        item.Source,
	})
	if err != nil {
		log.Warn("Removal of %s failed: %v", id, err)
		return r.fail(id, apperr.UserMessage(err))
	}
	if len(out) == 0 {
		return r.fail(id, removal.MsgMalformedResponse)
	}

	h := r.handles.Create(id, out)
	if _, err := r.store.Update(id, Patch{
		Status: ptr(StatusDone),
		Result: &Result{Blob: out, Handle: h},
		From:   inFlight,
	}); err != nil {
		r.handles.Revoke(id, h)
		r.logDiscard(id, err)
		return OutcomeSkipped
	}
	log.Info("Finished %s", id)
	return OutcomeDone
}

func (r *Runner) fail(id, msg string) Outcome {
	if msg == "" {
		msg = "Failed"
	}
	if _, err := r.store.Update(id, Patch{
		Status:    ptr(StatusError),
		LastError: &msg,
		From:      inFlight,
	}); err != nil {
		r.logDiscard(id, err)
		return OutcomeSkipped
	}
	return OutcomeFailed
}

func (r *Runner) logDiscard(id string, err error) {
	if errors.Is(err, ErrNotFound) {
		log.Debug("Discarding outcome of %s: item was removed", id)
		return
	}
	log.Error("Discarding outcome of %s: %v", id, err)
}
