package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMap is returned when a map id is not in the catalog.
var ErrUnknownMap = errors.New("unknown map")

// Catalog maps identifiers to map definitions, preserving file order.
type Catalog struct {
	order []string
	maps  map[string]*MapDefinition
}

// New builds a catalog. It rejects an empty list, missing ids and duplicates.
func New(defs []MapDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("catalog has no maps")
	}
	c := &Catalog{maps: make(map[string]*MapDefinition, len(defs))}
	for i := range defs {
		def := defs[i]
		if def.ID == "" {
			def.ID = GenerateID(def.Title)
		}
		if def.ID == "" {
			return nil, fmt.Errorf("map %d has no id", i)
		}
		if _, exists := c.maps[def.ID]; exists {
			return nil, fmt.Errorf("map with ID %q already exists", def.ID)
		}
		c.maps[def.ID] = &def
		c.order = append(c.order, def.ID)
	}
	return c, nil
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (*MapDefinition, bool) {
	def, ok := c.maps[id]
	return def, ok
}

// First returns the first map of the configuration.
func (c *Catalog) First() *MapDefinition {
	return c.maps[c.order[0]]
}

// Resolve returns the definition for id, or the first map when id is
// unknown. The boolean reports whether id itself was found.
func (c *Catalog) Resolve(id string) (*MapDefinition, bool) {
	if def, ok := c.maps[id]; ok {
		return def, true
	}
	return c.First(), false
}

// IDs returns the map ids in configuration order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// List returns the definitions in configuration order.
func (c *Catalog) List() []*MapDefinition {
	out := make([]*MapDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.maps[id])
	}
	return out
}

// Len returns the number of maps.
func (c *Catalog) Len() int {
	return len(c.order)
}

// GenerateID creates a URL-safe ID from a name.
func GenerateID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	// Remove any characters that aren't alphanumeric, underscore or dash
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
