package geoengine

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

// Cluster groups the point features of fc by the tile containing them at
// zoom. Each group becomes a point at the group centroid carrying
// point_count. Non-point features are skipped.
func Cluster(fc *geojson.FeatureCollection, zoom int) *geojson.FeatureCollection {
	type group struct {
		tile  maptile.Tile
		sumX  float64
		sumY  float64
		count int
	}
	groups := make(map[maptile.Tile]*group)

	for _, f := range fc.Features {
		for _, p := range points(f.Geometry) {
			t := maptile.At(p, maptile.Zoom(zoom))
			g, ok := groups[t]
			if !ok {
				g = &group{tile: t}
				groups[t] = g
			}
			g.sumX += p.Lon()
			g.sumY += p.Lat()
			g.count++
		}
	}

	// stable output order for replay and tests
	keys := make([]maptile.Tile, 0, len(groups))
	for t := range groups {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})

	out := geojson.NewFeatureCollection()
	for _, t := range keys {
		g := groups[t]
		n := float64(g.count)
		f := geojson.NewFeature(orb.Point{g.sumX / n, g.sumY / n})
		f.Properties["point_count"] = g.count
		f.Properties["cluster"] = g.count > 1
		out.Append(f)
	}
	return out
}

func points(g orb.Geometry) []orb.Point {
	switch geom := g.(type) {
	case orb.Point:
		return []orb.Point{geom}
	case orb.MultiPoint:
		return geom
	default:
		return nil
	}
}
