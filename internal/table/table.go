// Package table binds the data table widget to the remote dataset of the
// active map.
package table

import (
	"context"
	"fmt"

	"github.com/joeblew999/geoview/internal/event"
	"github.com/joeblew999/geoview/internal/search"
)

// Row is one dataset record keyed by column.
type Row map[string]any

// Dataset is a fetched table.
type Dataset struct {
	URL     string   `json:"url"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Result is a completed fetch tagged with the generation that requested it.
type Result struct {
	Gen     uint64
	Dataset Dataset
	Err     error
}

// Widget is the generic table display.
type Widget interface {
	Loading(url string)
	Bind(ds Dataset)
	Failed(url string, err error)
	Focus(key string, value string)
}

// Fetcher retrieves a dataset.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Dataset, error)
}

// Binding connects a Fetcher to a Widget. Reload runs the fetch off the
// session loop; the result comes back through post and is raised on
// OnLoaded so the owner can check its generation before calling Apply.
type Binding struct {
	fetcher Fetcher
	widget  Widget
	post    func(func())
	key     string

	bound   *Dataset
	pending string
	loaded  event.Emitter[Result]
}

// NewBinding creates a binding. post schedules a function on the owning
// event loop; key is the column matched against search item ids.
func NewBinding(f Fetcher, w Widget, post func(func()), key string) *Binding {
	if key == "" {
		key = "id"
	}
	return &Binding{fetcher: f, widget: w, post: post, key: key}
}

// OnLoaded registers fn to receive completed fetches.
func (b *Binding) OnLoaded(fn func(Result)) {
	b.loaded.Subscribe(fn)
}

// Reload clears the table and fetches url for generation gen. An empty url
// binds an empty dataset.
func (b *Binding) Reload(ctx context.Context, gen uint64, url string) {
	b.bound = nil
	b.pending = ""
	b.widget.Loading(url)

	if url == "" {
		b.loaded.Emit(Result{Gen: gen, Dataset: Dataset{}})
		return
	}

	go func() {
		ds, err := b.fetcher.Fetch(ctx, url)
		if err != nil {
			err = fmt.Errorf("fetch %s: %w", url, err)
		}
		res := Result{Gen: gen, Dataset: ds, Err: err}
		b.post(func() { b.loaded.Emit(res) })
	}()
}

// Apply binds a current result or puts the widget in its failed state.
// The failure is not retried.
func (b *Binding) Apply(res Result) {
	if res.Err != nil {
		b.widget.Failed(res.Dataset.URL, res.Err)
		return
	}
	ds := res.Dataset
	b.bound = &ds
	b.widget.Bind(ds)
	if b.pending != "" {
		b.widget.Focus(b.key, b.pending)
		b.pending = ""
	}
}

// FocusRow focuses the row for item, or remembers it until rows are bound.
func (b *Binding) FocusRow(item search.Item) {
	if b.bound == nil {
		b.pending = item.ID
		return
	}
	b.widget.Focus(b.key, item.ID)
}

// Bound returns the dataset currently displayed, if any.
func (b *Binding) Bound() (Dataset, bool) {
	if b.bound == nil {
		return Dataset{}, false
	}
	return *b.bound, true
}
