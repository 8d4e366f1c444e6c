package batch

import (
	"context"
	"sync"

	"github.com/mohamurshid/AutoRemoveAi/internal/handles"
	"github.com/mohamurshid/AutoRemoveAi/internal/intake"
	"github.com/mohamurshid/AutoRemoveAi/internal/removal"
)

// fakeRemover scripts the removal operation per source file name.
type fakeRemover struct {
	mu          sync.Mutex
	calls       []string
	fail        map[string]error
	panicOn     string
	inflight    int
	maxInflight int

	// started receives the image name once a call begins; block holds every
	// call until it is closed.
	started chan string
	block   chan struct{}
}

func newFakeRemover() *fakeRemover {
	return &fakeRemover{fail: make(map[string]error)}
}

func (f *fakeRemover) setFailure(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, name)
		return
	}
	f.fail[name] = err
}

func (f *fakeRemover) Remove(ctx context.Context, img removal.Image) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, img.Name)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	err := f.fail[img.Name]
	panicOn := f.panicOn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- img.Name
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if img.Name == panicOn {
		panic("remover exploded")
	}
	if err != nil {
		return nil, err
	}
	return []byte("png:" + img.Name), nil
}

func (f *fakeRemover) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemover) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

func img(name string) intake.File {
	return intake.File{Name: name, ContentType: "image/png", Data: []byte("raw:" + name)}
}

type fixture struct {
	handles *handles.Manager
	store   *Store
	remover *fakeRemover
	runner  *Runner
}

func newFixture() *fixture {
	h := handles.NewManager()
	store := NewStore(h)
	remover := newFakeRemover()
	return &fixture{
		handles: h,
		store:   store,
		remover: remover,
		runner:  NewRunner(store, h, remover),
	}
}
