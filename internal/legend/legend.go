// Package legend owns the legend entries of the active map and their
// enabled state.
package legend

import (
	"errors"
	"fmt"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/event"
	"github.com/joeblew999/geoview/internal/style"
)

// ErrUnknownEntry is returned by Toggle for an id the legend does not hold.
var ErrUnknownEntry = errors.New("unknown legend entry")

// Entry is one toggleable classification.
type Entry struct {
	ID      string       `json:"id"`
	Label   string       `json:"label"`
	Color   string       `json:"color"`
	Enabled bool         `json:"enabled"`
	Filter  style.Filter `json:"-"`
}

// Snapshot is the full legend state at one instant.
type Snapshot struct {
	MapID   string  `json:"mapId"`
	Field   string  `json:"field"`
	Entries []Entry `json:"entries"`
}

// StyleEntries converts the snapshot for style.Compute.
func (s Snapshot) StyleEntries() []style.Entry {
	out := make([]style.Entry, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = style.Entry{Filter: e.Filter, Color: e.Color, Enabled: e.Enabled}
	}
	return out
}

// Controller holds legend state for the currently active map only.
type Controller struct {
	mapID   string
	field   string
	entries []Entry
	index   map[string]int
	changed event.Emitter[Snapshot]
}

// New returns an empty legend.
func New() *Controller {
	return &Controller{index: map[string]int{}}
}

// OnChange registers fn to receive the full snapshot after every toggle.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.changed.Subscribe(fn)
}

// Reload replaces every entry from spec. Nothing from the previous map
// survives. Reload does not raise a change event.
func (c *Controller) Reload(mapID string, spec catalog.LegendSpec) {
	c.mapID = mapID
	c.field = spec.Field
	c.entries = make([]Entry, 0, len(spec.Entries))
	c.index = make(map[string]int, len(spec.Entries))

	for i, es := range spec.Entries {
		id := es.ID
		if id == "" {
			id = catalog.GenerateID(es.Label)
		}
		if _, dup := c.index[id]; dup || id == "" {
			id = fmt.Sprintf("%s-%d", id, i)
		}
		var filter style.Filter
		if es.Min != nil || es.Max != nil {
			filter = style.Range(spec.Field, es.Min, es.Max)
		} else {
			filter = style.Match(spec.Field, es.Value)
		}
		c.index[id] = len(c.entries)
		c.entries = append(c.entries, Entry{
			ID:      id,
			Label:   es.Label,
			Color:   es.Color,
			Enabled: !es.Disabled,
			Filter:  filter,
		})
	}
}

// Toggle flips one entry and raises the change event.
func (c *Controller) Toggle(id string) error {
	i, ok := c.index[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntry, id)
	}
	c.entries[i].Enabled = !c.entries[i].Enabled
	c.changed.Emit(c.Snapshot())
	return nil
}

// SetAll enables or disables every entry and raises the change event.
func (c *Controller) SetAll(enabled bool) {
	for i := range c.entries {
		c.entries[i].Enabled = enabled
	}
	c.changed.Emit(c.Snapshot())
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		MapID:   c.mapID,
		Field:   c.field,
		Entries: append([]Entry(nil), c.entries...),
	}
}

// Len returns the number of entries.
func (c *Controller) Len() int {
	return len(c.entries)
}
