// Package search builds the typeahead index of searchable geographic units
// and the control that emits a selection.
package search

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Item is one searchable unit.
type Item struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Label  string    `json:"label"`
	Extent orb.Bound `json:"-"`
}

// BBox returns the extent as [minLng, minLat, maxLng, maxLat].
func (it Item) BBox() [4]float64 {
	return [4]float64{it.Extent.Min.Lon(), it.Extent.Min.Lat(), it.Extent.Max.Lon(), it.Extent.Max.Lat()}
}

// MarshalJSON adds the bbox to the JSON form.
func (it Item) MarshalJSON() ([]byte, error) {
	type plain Item
	return json.Marshal(struct {
		plain
		BBox [4]float64 `json:"bbox"`
	}{plain(it), it.BBox()})
}

// Index is immutable once built.
type Index struct {
	items  []Item
	byID   map[string]int
	folded []string // folded "name id" per item
}

// Build derives items from rows of [id, name, minLng, minLat, maxLng, maxLat].
func Build(rows [][]any) (*Index, error) {
	ix := &Index{byID: make(map[string]int, len(rows))}
	for i, row := range rows {
		item, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("search row %d: %w", i, err)
		}
		if _, dup := ix.byID[item.ID]; dup {
			return nil, fmt.Errorf("search row %d: duplicate id %q", i, item.ID)
		}
		ix.byID[item.ID] = len(ix.items)
		ix.items = append(ix.items, item)
		ix.folded = append(ix.folded, Fold(item.Name+" "+item.ID))
	}
	return ix, nil
}

// Get returns the item with id.
func (ix *Index) Get(id string) (Item, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return Item{}, false
	}
	return ix.items[i], true
}

// Len returns the number of items.
func (ix *Index) Len() int {
	return len(ix.items)
}

// Suggest returns up to limit items matching query, ignoring case and
// accents. Items whose name or id starts with the query rank before items
// that only contain it; ties keep index order.
func (ix *Index) Suggest(query string, limit int) []Item {
	q := Fold(query)
	if q == "" {
		return nil
	}

	type hit struct {
		pos  int
		rank int
	}
	var hits []hit
	for i, f := range ix.folded {
		switch {
		case strings.HasPrefix(f, q) || strings.HasPrefix(Fold(ix.items[i].ID), q):
			hits = append(hits, hit{i, 0})
		case hasWordPrefix(f, q):
			hits = append(hits, hit{i, 1})
		case strings.Contains(f, q):
			hits = append(hits, hit{i, 2})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].rank < hits[b].rank })

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Item, len(hits))
	for i, h := range hits {
		out[i] = ix.items[h.pos]
	}
	return out
}

// Fold lower-cases s and strips diacritics, so "Lévis" matches "levis".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func hasWordPrefix(s, q string) bool {
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '\''
	}) {
		if strings.HasPrefix(w, q) {
			return true
		}
	}
	return false
}

func parseRow(row []any) (Item, error) {
	if len(row) < 6 {
		return Item{}, fmt.Errorf("expected 6 columns, got %d", len(row))
	}
	id := toString(row[0])
	if id == "" {
		return Item{}, fmt.Errorf("empty id")
	}
	name := toString(row[1])

	var c [4]float64
	for i := range c {
		v, err := toFloat(row[2+i])
		if err != nil {
			return Item{}, fmt.Errorf("column %d: %w", 2+i, err)
		}
		c[i] = v
	}

	b := orb.Bound{Min: orb.Point{c[0], c[1]}, Max: orb.Point{c[0], c[1]}}
	b = b.Extend(orb.Point{c[2], c[3]})

	return Item{
		ID:     id,
		Name:   name,
		Label:  fmt.Sprintf("%s (%s)", name, id),
		Extent: b,
	}, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
