package search

import (
	"errors"
	"fmt"

	"github.com/joeblew999/geoview/internal/event"
)

// ErrUnknownItem is returned when a selected id is not in the index.
var ErrUnknownItem = errors.New("unknown search item")

// Control is the typeahead search box: it answers suggestions and raises a
// selection event when the user picks an item.
type Control struct {
	index    *Index
	selected event.Emitter[Item]
}

// NewControl wraps an index.
func NewControl(index *Index) *Control {
	return &Control{index: index}
}

// OnSelect registers fn to receive picked items.
func (c *Control) OnSelect(fn func(Item)) {
	c.selected.Subscribe(fn)
}

// Suggest proxies Index.Suggest.
func (c *Control) Suggest(query string, limit int) []Item {
	return c.index.Suggest(query, limit)
}

// Select looks up id and emits it.
func (c *Control) Select(id string) (Item, error) {
	item, ok := c.index.Get(id)
	if !ok {
		return Item{}, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	c.selected.Emit(item)
	return item, nil
}
