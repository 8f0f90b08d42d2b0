// Package popup turns the properties of a clicked feature into the HTML
// fragment shown in the map popup.
package popup

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/locale"
)

// Normalizer cleans a raw property value. ok is false when the value is
// missing and should show the not-available placeholder.
type Normalizer interface {
	Normalize(v any) (value any, ok bool)
}

// Renderer renders a named HTML template.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// DefaultNormalizer trims strings, parses numeric strings and treats blank,
// "null", "NA" and NaN as missing.
type DefaultNormalizer struct{}

// Normalize implements Normalizer.
func (DefaultNormalizer) Normalize(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "", "null", "na", "n/a", "nan":
			return nil, false
		}
		if f, ok := parseNumber(s); ok {
			return f, true
		}
		return s, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String(), true
		}
		return f, true
	case float64:
		if math.IsNaN(t) {
			return nil, false
		}
		return t, true
	case float32:
		return float64(t), !math.IsNaN(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return v, true
	}
}

// parseNumber accepts plain decimal numbers and numbers whose integer part
// is grouped by thousands with commas, as in "1,234.5". Any other comma,
// such as a decimal comma or a list, leaves the value as text.
func parseNumber(s string) (float64, bool) {
	if !looksNumeric(s) {
		return 0, false
	}
	if strings.Contains(s, ",") {
		intPart := strings.TrimLeft(s, "+-")
		if i := strings.IndexAny(intPart, ".eE"); i >= 0 {
			if strings.Contains(intPart[i:], ",") {
				return 0, false
			}
			intPart = intPart[:i]
		}
		groups := strings.Split(intPart, ",")
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return 0, false
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return 0, false
			}
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func looksNumeric(s string) bool {
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
		case (r == '-' || r == '+') && i == 0:
		case r == 'e' || r == 'E':
		default:
			return false
		}
	}
	return true
}

// Line is one labelled value in the popup.
type Line struct {
	Label string
	Value string
}

// Formatter formats feature properties against a map's field list.
type Formatter struct {
	Locale     *locale.Locale
	Normalizer Normalizer
	Renderer   Renderer
}

// Lines formats every field, in field order.
func (f *Formatter) Lines(props map[string]any, fields []catalog.Field) []Line {
	norm := f.Normalizer
	if norm == nil {
		norm = DefaultNormalizer{}
	}
	out := make([]Line, 0, len(fields))
	for _, field := range fields {
		label := field.Label
		if label == "" {
			label = field.ID
		}
		v, ok := norm.Normalize(props[field.ID])
		if !ok {
			out = append(out, Line{Label: label, Value: f.Locale.T(locale.NotAvailable)})
			continue
		}
		out = append(out, Line{Label: label, Value: f.value(v, field)})
	}
	return out
}

// Format renders the popup fragment.
func (f *Formatter) Format(props map[string]any, fields []catalog.Field) (string, error) {
	html, err := f.Renderer.Render("popup", f.Lines(props, fields))
	if err != nil {
		return "", fmt.Errorf("format popup: %w", err)
	}
	return html, nil
}

func (f *Formatter) value(v any, field catalog.Field) string {
	n, isNum := v.(float64)
	if !isNum {
		return withUnit(fmt.Sprint(v), field.Unit)
	}
	switch field.Type {
	case "percent":
		return withUnit(f.Locale.Number(n, digitsOr(field.Digits, 1)), "%")
	case "currency":
		return withUnit(f.Locale.Number(n, digitsOr(field.Digits, 2)), field.Unit)
	case "string":
		return withUnit(strconv.FormatFloat(n, 'f', -1, 64), field.Unit)
	default:
		return withUnit(f.Locale.Number(n, field.Digits), field.Unit)
	}
}

func digitsOr(d, fallback int) int {
	if d > 0 {
		return d
	}
	return fallback
}

func withUnit(s, unit string) string {
	if unit == "" {
		return s
	}
	return s + " " + unit
}
