// Package style computes styling directives: the ordered (filter, color,
// alpha) rules that the render engine applies verbatim to a layer.
//
// Directives are pure functions of their inputs. The same legend state and
// opacity always produce byte-identical JSON, so replaying a recomputation is
// harmless.
package style

import (
	"encoding/json"
	"math"
)

// Transparent is the color used for hidden features.
const Transparent = "rgba(0,0,0,0)"

// Filter is a MapLibre filter expression.
type Filter []any

// Match selects features whose field equals value.
func Match(field string, value any) Filter {
	return Filter{"==", Filter{"to-string", Filter{"get", field}}, toString(value)}
}

// Range selects features whose numeric field lies in [min, max). A nil bound
// is open.
func Range(field string, min, max *float64) Filter {
	f := Filter{"all"}
	if min != nil {
		f = append(f, Filter{">=", Filter{"to-number", Filter{"get", field}}, *min})
	}
	if max != nil {
		f = append(f, Filter{"<", Filter{"to-number", Filter{"get", field}}, *max})
	}
	if len(f) == 1 {
		return Always()
	}
	return f
}

// Always matches every feature.
func Always() Filter {
	return Filter{"literal", true}
}

// Rule is one (filter, color, alpha) tuple.
type Rule struct {
	Filter Filter  `json:"filter"`
	Color  string  `json:"color"`
	Alpha  float64 `json:"alpha"`
}

// Directive is an ordered rule list; the first matching rule wins.
type Directive struct {
	Rules []Rule `json:"rules"`
}

// Entry is the styling-relevant part of a legend entry.
type Entry struct {
	Filter  Filter
	Color   string
	Enabled bool
}

// Compute builds the legend directive at the given global opacity. Every
// entry produces a rule; disabled entries are fully transparent so features
// they previously colored disappear. A trailing transparent rule hides
// features no entry matches.
func Compute(entries []Entry, opacity float64) Directive {
	alpha := round(clamp(opacity))
	rules := make([]Rule, 0, len(entries)+1)
	for _, e := range entries {
		if e.Enabled {
			rules = append(rules, Rule{Filter: e.Filter, Color: e.Color, Alpha: alpha})
		} else {
			rules = append(rules, Rule{Filter: e.Filter, Color: Transparent, Alpha: 0})
		}
	}
	rules = append(rules, Rule{Filter: Always(), Color: Transparent, Alpha: 0})
	return Directive{Rules: rules}
}

// Highlight builds the two-rule search directive: the selected unit in the
// highlight color, everything else transparent.
func Highlight(field, id, color string) Directive {
	return Directive{Rules: []Rule{
		{Filter: Match(field, id), Color: color, Alpha: 1},
		{Filter: Always(), Color: Transparent, Alpha: 0},
	}}
}

// JSON returns the canonical encoding of d.
func (d Directive) JSON() []byte {
	b, _ := json.Marshal(d)
	return b
}

// Paint translates d into MapLibre paint properties for a layer type.
func (d Directive) Paint(layerType string) map[string]any {
	colorProp, opacityProp := paintProps(layerType)
	if len(d.Rules) == 0 {
		return map[string]any{}
	}

	last := d.Rules[len(d.Rules)-1]
	if len(d.Rules) == 1 {
		return map[string]any{colorProp: last.Color, opacityProp: last.Alpha}
	}

	colors := []any{"case"}
	alphas := []any{"case"}
	for _, r := range d.Rules[:len(d.Rules)-1] {
		colors = append(colors, []any(r.Filter), r.Color)
		alphas = append(alphas, []any(r.Filter), r.Alpha)
	}
	colors = append(colors, last.Color)
	alphas = append(alphas, last.Alpha)
	return map[string]any{colorProp: colors, opacityProp: alphas}
}

// OpacityProperty returns the paint property carrying a layer's opacity.
func OpacityProperty(layerType string) string {
	_, p := paintProps(layerType)
	return p
}

func paintProps(layerType string) (string, string) {
	switch layerType {
	case "line":
		return "line-color", "line-opacity"
	case "circle":
		return "circle-color", "circle-opacity"
	case "symbol":
		return "text-color", "text-opacity"
	default:
		return "fill-color", "fill-opacity"
	}
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func toString(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
