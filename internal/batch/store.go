package batch

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohamurshid/AutoRemoveAi/internal/handles"
	"github.com/mohamurshid/AutoRemoveAi/internal/intake"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// Store is the ordered, single source of truth for batch items. All state
// changes go through Add, Update, Remove and Clear.
type Store struct {
	handles *handles.Manager

	mu        sync.RWMutex
	order     []string
	items     map[string]*Item
	idCounter uint64
	// seq numbers every published change; guarded by mu.
	seq uint64

	subsMu  sync.RWMutex
	subs    map[uint64]func(Event)
	nextSub uint64

	// Events go out strictly in seq order.
	deliverMu   sync.Mutex
	deliverCond *sync.Cond
	delivered   uint64
}

func NewStore(h *handles.Manager) *Store {
	s := &Store{
		handles: h,
		items:   make(map[string]*Item),
		subs:    make(map[uint64]func(Event)),
	}
	s.deliverCond = sync.NewCond(&s.deliverMu)
	return s
}

// Add creates a pending item per accepted image file. Non-image files are
// dropped without an item ever existing.
func (s *Store) Add(files []intake.File) []Item {
	accepted := intake.Accept(files)
	if len(accepted) == 0 {
		return nil
	}

	now := time.Now()
	added := make([]Item, 0, len(accepted))

	s.mu.Lock()
	for _, f := range accepted {
		id := fmt.Sprintf("item-%d", atomic.AddUint64(&s.idCounter, 1))
		item := &Item{
			ID:          id,
			SourceName:  f.Name,
			ContentType: f.ContentType,
			Source:      f.Data,
			Preview:     s.handles.Create(id, f.Data),
			OutputName:  DefaultOutputName(f.Name),
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.items[id] = item
		s.order = append(s.order, id)
		added = append(added, *item)
	}
	seq := s.nextSeq()
	s.mu.Unlock()

	events := make([]Event, 0, len(added))
	for _, item := range added {
		log.Debug("Added %s as %s", item.SourceName, item.ID)
		events = append(events, Event{Kind: EventAdded, Item: item})
	}
	s.publish(seq, events...)
	return added
}

// Update merges p into the item. A stale result handle replaced or cleared
// by the patch is revoked once the new state is in place.
func (s *Store) Update(id string, p Patch) (Item, error) {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(p.From) > 0 && !slices.Contains(p.From, item.Status) {
		current := item.Status
		s.mu.Unlock()
		return Item{}, fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, current)
	}

	next := *item
	var stale handles.Handle
	if p.ClearResult || p.Result != nil {
		stale = next.ResultHandle
		next.Result = nil
		next.ResultHandle = handles.Handle{}
	}
	if p.Result != nil {
		next.Result = p.Result.Blob
		next.ResultHandle = p.Result.Handle
		if stale == p.Result.Handle {
			stale = handles.Handle{}
		}
	}
	if p.ClearError {
		next.LastError = ""
	}
	if p.LastError != nil {
		next.LastError = *p.LastError
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.OutputName != nil {
		next.OutputName = *p.OutputName
	}

	if err := validate(next); err != nil {
		s.mu.Unlock()
		return Item{}, fmt.Errorf("%w: %s: %v", ErrInvariant, id, err)
	}
	next.UpdatedAt = time.Now()
	*item = next
	seq := s.nextSeq()
	s.mu.Unlock()

	s.handles.Revoke(id, stale)
	s.publish(seq, Event{Kind: EventUpdated, Item: next})
	return next, nil
}

// Rename sets the user facing output name.
func (s *Store) Rename(id, name string) (Item, error) {
	normalized, err := NormalizeOutputName(name)
	if err != nil {
		return Item{}, err
	}
	return s.Update(id, Patch{OutputName: &normalized})
}

// Remove takes the item out of the store and then revokes its handles.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	if idx := slices.Index(s.order, id); idx >= 0 {
		s.order = slices.Delete(s.order, idx, idx+1)
	}
	removed := *item
	seq := s.nextSeq()
	s.mu.Unlock()

	s.release(removed)
	s.publish(seq, Event{Kind: EventRemoved, Item: removed})
	return nil
}

// Clear removes every item and returns how many there were.
func (s *Store) Clear() int {
	s.mu.Lock()
	removed := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok {
			removed = append(removed, *item)
		}
	}
	s.items = make(map[string]*Item)
	s.order = nil
	seq := s.nextSeq()
	s.mu.Unlock()

	for _, item := range removed {
		s.release(item)
	}
	s.publish(seq, Event{Kind: EventCleared})
	return len(removed)
}

func (s *Store) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// List returns copies of all items in insertion order.
func (s *Store) List() []Item {
	return s.Select(nil)
}

// Select returns copies of the items matching keep, in insertion order.
func (s *Store) Select(keep func(Item) bool) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		item := s.items[id]
		if keep == nil || keep(*item) {
			ret = append(ret, *item)
		}
	}
	return ret
}

// Subscribe registers fn for store events. Callbacks run synchronously on
// the mutating goroutine, in the order the changes were applied. They must
// not block or mutate the store.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.subsMu.Lock()
	s.nextSub++
	key := s.nextSub
	s.subs[key] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, key)
		s.subsMu.Unlock()
	}
}

// nextSeq must be called with mu held.
func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// publish waits until every change numbered before seq has been delivered,
// then hands evs to the subscribers.
func (s *Store) publish(seq uint64, evs ...Event) {
	s.deliverMu.Lock()
	for s.delivered+1 != seq {
		s.deliverCond.Wait()
	}
	s.deliverMu.Unlock()
	defer func() {
		s.deliverMu.Lock()
		s.delivered = seq
		s.deliverCond.Broadcast()
		s.deliverMu.Unlock()
	}()

	s.subsMu.RLock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, ev := range evs {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (s *Store) release(item Item) {
	s.handles.Revoke(item.ID, item.Preview)
	s.handles.Revoke(item.ID, item.ResultHandle)
}

func validate(item Item) error {
	if item.Preview.IsZero() {
		return fmt.Errorf("preview handle missing")
	}
	if item.OutputName == "" {
		return fmt.Errorf("output name empty")
	}

	hasBlob := item.Result != nil
	hasHandle := !item.ResultHandle.IsZero()
	if hasBlob != hasHandle {
		return fmt.Errorf("result blob and handle must be set together")
	}

	switch item.Status {
	case StatusDone:
		if !hasBlob {
			return fmt.Errorf("done without result")
		}
	case StatusPending, StatusProcessing, StatusError:
		if hasBlob {
			return fmt.Errorf("%s with result", item.Status)
		}
	default:
		return fmt.Errorf("unknown status %q", item.Status)
	}

	if (item.Status == StatusError) != (item.LastError != "") {
		return fmt.Errorf("last error must be set exactly when status is error")
	}
	return nil
}
