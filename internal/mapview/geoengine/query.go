package geoengine

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/geoview/internal/mapview"
)

// QueryFeatures returns the features of layerIDs under p, topmost layer
// first and, within a layer, last-drawn feature first.
func (e *Engine) QueryFeatures(p orb.Point, layerIDs []string) []mapview.Feature {
	e.mu.Lock()
	defer e.mu.Unlock()

	tol := e.opts.TolerancePx * degreesPerPixel(e.zoom())

	var out []mapview.Feature
	for i := len(e.layers) - 1; i >= 0; i-- {
		l := e.layers[i]
		if !slices.Contains(layerIDs, l.def.ID) {
			continue
		}
		src, ok := e.sources[l.def.Source]
		if !ok {
			continue
		}
		fc := src.fc
		for j := len(fc.Features) - 1; j >= 0; j-- {
			f := fc.Features[j]
			if f.Geometry == nil || !hits(f.Geometry, p, tol) {
				continue
			}
			out = append(out, mapview.Feature{
				LayerID:    l.def.ID,
				ID:         f.ID,
				Properties: copyProps(f.Properties),
				Geometry:   f.Geometry,
			})
		}
	}
	return out
}

func (e *Engine) zoom() float64 {
	if e.camera == nil {
		return 0
	}
	return e.camera.Zoom
}

// hits reports whether p falls inside a polygon or within tol of a point or line.
func hits(g orb.Geometry, p orb.Point, tol float64) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p)
	case orb.Ring:
		return planar.RingContains(geom, p)
	case orb.Bound:
		return geom.Contains(p)
	case orb.Point:
		return planar.Distance(geom, p) <= tol
	case orb.MultiPoint, orb.LineString, orb.MultiLineString:
		return planar.DistanceFrom(geom, p) <= tol
	case orb.Collection:
		for _, c := range geom {
			if hits(c, p, tol) {
				return true
			}
		}
	}
	return false
}

// degreesPerPixel approximates the width of a 512px-tile pixel at zoom.
func degreesPerPixel(zoom float64) float64 {
	return 360 / (512 * math.Pow(2, zoom))
}

// zoomForBound estimates the zoom at which b fills a 1024px viewport.
func zoomForBound(b orb.Bound) float64 {
	w := math.Max(b.Max.Lon()-b.Min.Lon(), b.Max.Lat()-b.Min.Lat())
	if w <= 0 {
		return 16
	}
	z := math.Log2(360 * 1024 / (512 * w))
	return math.Max(0, math.Min(z, 22))
}

func copyProps(p geojson.Properties) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
