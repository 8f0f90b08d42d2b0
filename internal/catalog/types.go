// Package catalog loads the map configuration: map definitions, the search
// table, bookmarks and credentials. Everything here is loaded once at startup
// and treated as immutable afterwards.
package catalog

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Config is the application configuration file.
type Config struct {
	BaseURL     string          `yaml:"baseUrl" json:"baseUrl"`
	Locale      string          `yaml:"locale" json:"locale"`
	Maps        []MapDefinition `yaml:"maps" json:"maps"`
	Search      SearchConfig    `yaml:"search" json:"search"`
	Bookmarks   []Bookmark      `yaml:"bookmarks" json:"bookmarks"`
	Credentials Credentials     `yaml:"credentials" json:"credentials"`
}

// MapDefinition describes one selectable map.
type MapDefinition struct {
	ID                string       `yaml:"id" json:"id"`
	Title             string       `yaml:"title" json:"title"`
	Subtitle          string       `yaml:"subtitle" json:"subtitle,omitempty"`
	StyleRef          string       `yaml:"style" json:"style"`
	DataSources       []DataSource `yaml:"sources" json:"sources"`
	Layers            []Layer      `yaml:"layers" json:"layers"`
	Legend            LegendSpec   `yaml:"legend" json:"legend"`
	Fields            []Field      `yaml:"fields" json:"fields"`
	ClickableLayerIDs []string     `yaml:"clickable" json:"clickable,omitempty"`
	TableURL          string       `yaml:"table" json:"table,omitempty"`
	Home              *View        `yaml:"home" json:"home,omitempty"`
}

// DataSource is a named GeoJSON feature collection. Data is resolved at load
// time from File or Inline; URL is what the browser fetches when set.
type DataSource struct {
	Name          string         `yaml:"name" json:"name"`
	File          string         `yaml:"file" json:"file,omitempty"`
	URL           string         `yaml:"url" json:"url,omitempty"`
	Inline        map[string]any `yaml:"data" json:"-"`
	Clustered     bool           `yaml:"cluster" json:"cluster"`
	ClusterRadius int            `yaml:"clusterRadius" json:"clusterRadius,omitempty"`

	Data *geojson.FeatureCollection `yaml:"-" json:"-"`
}

// Layer is a render layer drawn from a DataSource.
type Layer struct {
	ID     string         `yaml:"id" json:"id"`
	Source string         `yaml:"source" json:"source"`
	Type   string         `yaml:"type" json:"type"` // fill, line, circle, symbol
	Paint  map[string]any `yaml:"paint" json:"paint,omitempty"`
	// Static layers keep their configured paint; only opacity follows the
	// global opacity level.
	Static bool `yaml:"static" json:"static,omitempty"`
}

// LegendSpec classifies features of a map by one property.
type LegendSpec struct {
	Field   string            `yaml:"field" json:"field"`
	Entries []LegendEntrySpec `yaml:"entries" json:"entries"`
}

// LegendEntrySpec is either an exact Value match or a [Min, Max) range.
type LegendEntrySpec struct {
	ID       string   `yaml:"id" json:"id,omitempty"`
	Label    string   `yaml:"label" json:"label"`
	Color    string   `yaml:"color" json:"color"`
	Value    any      `yaml:"value" json:"value,omitempty"`
	Min      *float64 `yaml:"min" json:"min,omitempty"`
	Max      *float64 `yaml:"max" json:"max,omitempty"`
	Disabled bool     `yaml:"disabled" json:"disabled,omitempty"`
}

// Field describes one feature property shown in popups and table columns.
type Field struct {
	ID     string `yaml:"id" json:"id"`
	Label  string `yaml:"label" json:"label"`
	Type   string `yaml:"type" json:"type,omitempty"` // string, number, percent, currency
	Unit   string `yaml:"unit" json:"unit,omitempty"`
	Digits int    `yaml:"digits" json:"digits,omitempty"`
}

// View is a camera position, center as [lng, lat].
type View struct {
	Center [2]float64 `yaml:"center" json:"center"`
	Zoom   float64    `yaml:"zoom" json:"zoom"`
}

// Point returns the center as an orb point.
func (v View) Point() orb.Point {
	return orb.Point{v.Center[0], v.Center[1]}
}

// SearchConfig holds the raw search table and how a selection is drawn.
type SearchConfig struct {
	Layer   string  `yaml:"layer" json:"layer"`
	Field   string  `yaml:"field" json:"field"`
	Color   string  `yaml:"color" json:"color"`
	Padding int     `yaml:"padding" json:"padding"`
	Rows    [][]any `yaml:"rows" json:"rows"`
}

// Bookmark is a named extent, optionally tied to a map.
type Bookmark struct {
	ID     string     `yaml:"id" json:"id"`
	Label  string     `yaml:"label" json:"label"`
	MapID  string     `yaml:"map" json:"map,omitempty"`
	Extent [4]float64 `yaml:"extent" json:"extent"` // minLng, minLat, maxLng, maxLat
}

// Bound returns the bookmark extent.
func (b Bookmark) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Extent[0], b.Extent[1]},
		Max: orb.Point{b.Extent[2], b.Extent[3]},
	}
}

// Credentials for the map provider.
type Credentials struct {
	AccessToken string `yaml:"accessToken" json:"-"`
}

// Default search presentation.
const (
	DefaultSearchColor   = "#ffd400"
	DefaultSearchPadding = 30
)

// LayerIDs returns every layer id of the map in render order.
func (m *MapDefinition) LayerIDs() []string {
	ids := make([]string, 0, len(m.Layers))
	for _, l := range m.Layers {
		ids = append(ids, l.ID)
	}
	return ids
}

// StyledLayerIDs returns the layers that follow the legend directive.
func (m *MapDefinition) StyledLayerIDs() []string {
	var ids []string
	for _, l := range m.Layers {
		if !l.Static {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// StaticLayerIDs returns the layers that keep their configured paint.
func (m *MapDefinition) StaticLayerIDs() []string {
	var ids []string
	for _, l := range m.Layers {
		if l.Static {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// HasLayer reports whether id names one of the map's layers.
func (m *MapDefinition) HasLayer(id string) bool {
	for _, l := range m.Layers {
		if l.ID == id {
			return true
		}
	}
	return false
}

// FieldIDs returns the property keys of Fields in order.
func (m *MapDefinition) FieldIDs() []string {
	ids := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		ids = append(ids, f.ID)
	}
	return ids
}
