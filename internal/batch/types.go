package batch

import (
	"errors"
	"time"

	"github.com/mohamurshid/AutoRemoveAi/internal/handles"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

var (
	ErrNotFound        = errors.New("item not found")
	ErrStatusConflict  = errors.New("item status does not allow this change")
	ErrInvariant       = errors.New("update would break item invariants")
	ErrBatchInProgress = errors.New("batch already in progress")
)

// Item is one submitted image and its processing state. Values handed out
// by the Store are copies; Source and Result are shared but never mutated.
type Item struct {
	ID           string
	SourceName   string
	ContentType  string
	Source       []byte
	Preview      handles.Handle
	Result       []byte
	ResultHandle handles.Handle
	OutputName   string
	Status       Status
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (i Item) HasResult() bool {
	return i.Result != nil || !i.ResultHandle.IsZero()
}

// Result is a produced blob together with the handle referencing it.
type Result struct {
	Blob   []byte
	Handle handles.Handle
}

// Patch is a partial update. Only set fields are merged. When From is not
// empty the update applies only if the item's current status is listed.
type Patch struct {
	Status      *Status
	OutputName  *string
	Result      *Result
	ClearResult bool
	LastError   *string
	ClearError  bool
	From        []Status
}

type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
)

// Event is delivered to store subscribers after a mutation is visible.
// Item is the zero value for EventCleared.
type Event struct {
	Kind EventKind
	Item Item
}

func ptr[T any](v T) *T {
	return &v
}
