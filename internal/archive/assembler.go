// Package archive bundles every finished result into a single downloadable
// blob.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// ErrNothingToArchive is returned when no item has a result yet.
var ErrNothingToArchive = errors.New("nothing to archive")

// Entry is one named file inside a bundle.
type Entry struct {
	Name string
	Data []byte
}

// Writer is the bundle serialization capability.
type Writer interface {
	Write(ctx context.Context, entries []Entry) ([]byte, error)
	ContentType() string
}

type Bundle struct {
	Data        []byte
	ContentType string
	Entries     []string
}

type itemLister interface {
	Select(keep func(batch.Item) bool) []batch.Item
}

type Assembler struct {
	items  itemLister
	writer Writer
}

func NewAssembler(items itemLister, writer Writer) *Assembler {
	return &Assembler{items: items, writer: writer}
}

// Build packages the results of every done item. It never mutates items and
// can be called any number of times.
func (a *Assembler) Build(ctx context.Context) (Bundle, error) {
	done := a.items.Select(func(item batch.Item) bool {
		return item.Status == batch.StatusDone && item.Result != nil
	})
	if len(done) == 0 {
		return Bundle{}, ErrNothingToArchive
	}

	entries := Entries(done)
	data, err := a.writer.Write(ctx, entries)
	if err != nil {
		return Bundle{}, apperr.Wrap(err, apperr.ErrAssembly, "failed to build archive").
			WithContext("entries", len(entries))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	log.Info("Built archive with %d entries (%s)", len(entries), humanize.Bytes(uint64(len(data))))
	return Bundle{Data: data, ContentType: a.writer.ContentType(), Entries: names}, nil
}

// Entries maps items to "<outputName>.png" entries. Repeated names get a
// numeric suffix in item order: photo.png, photo-2.png, photo-3.png.
func Entries(items []batch.Item) []Entry {
	used := make(map[string]struct{}, len(items))
	ret := make([]Entry, 0, len(items))
	for _, item := range items {
		name := uniqueName(item.OutputName, used)
		used[strings.ToLower(name)] = struct{}{}
		ret = append(ret, Entry{Name: name, Data: item.Result})
	}
	return ret
}

func uniqueName(base string, used map[string]struct{}) string {
	candidate := base + batch.OutputExt
	for n := 2; ; n++ {
		if _, taken := used[strings.ToLower(candidate)]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", base, n, batch.OutputExt)
	}
}
