package geoengine

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/mapview"
)

type recorder struct{ cmds []Command }

func (r *recorder) Send(c Command) { r.cmds = append(r.cmds, c) }

func (r *recorder) ops() []string {
	out := make([]string, len(r.cmds))
	for i, c := range r.cmds {
		out[i] = c.Op
	}
	return out
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func regions() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(square(0, 0, 10, 10))
	a.Properties["id"] = "a"
	b := geojson.NewFeature(square(5, 5, 15, 15))
	b.Properties["id"] = "b"
	fc.Append(a)
	fc.Append(b)
	return fc
}

func loaded(t *testing.T, r *recorder) *Engine {
	t.Helper()
	e := New(r, Options{})
	var got error = errors.New("not called")
	e.LoadStyle(context.Background(), 1, "style.json", func(err error) { got = err })
	if err := e.Acknowledge(1, nil); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if got != nil {
		t.Fatalf("expected done(nil), got %v", got)
	}
	return e
}

func TestEngine_acknowledgeOnlyCurrent(t *testing.T) {
	e := New(&recorder{}, Options{})
	var calls []uint64
	e.LoadStyle(context.Background(), 1, "a", func(error) { calls = append(calls, 1) })
	e.LoadStyle(context.Background(), 2, "b", func(error) { calls = append(calls, 2) })

	if err := e.Acknowledge(1, nil); !errors.Is(err, ErrUnknownGeneration) {
		t.Fatalf("expected superseded load to be unknown, got %v", err)
	}
	if err := e.Acknowledge(2, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.Acknowledge(2, nil); err == nil {
		t.Fatalf("expected second acknowledge to fail")
	}
	if len(calls) != 1 || calls[0] != 2 {
		t.Fatalf("unexpected completions %v", calls)
	}
}

func TestEngine_autoAcknowledge(t *testing.T) {
	e := New(&recorder{}, Options{AutoAcknowledge: true})
	done := make(chan error, 1)
	e.LoadStyle(context.Background(), 3, "a", func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestEngine_queryTopmostFirst(t *testing.T) {
	r := &recorder{}
	e := loaded(t, r)
	if err := e.AddSource(catalog.DataSource{Name: "regions", Data: regions()}); err != nil {
		t.Fatal(err)
	}
	if err := e.AddLayer(catalog.Layer{ID: "fill", Source: "regions", Type: "fill"}); err != nil {
		t.Fatal(err)
	}
	if err := e.AddLayer(catalog.Layer{ID: "hidden", Source: "regions", Type: "line"}); err != nil {
		t.Fatal(err)
	}

	got := e.QueryFeatures(orb.Point{7, 7}, []string{"fill"})
	if len(got) != 2 || got[0].Properties["id"] != "b" || got[1].Properties["id"] != "a" {
		t.Fatalf("unexpected hits %+v", got)
	}
	if got := e.QueryFeatures(orb.Point{20, 20}, []string{"fill"}); len(got) != 0 {
		t.Fatalf("expected no hits, got %+v", got)
	}
	if got := e.QueryFeatures(orb.Point{7, 7}, nil); len(got) != 0 {
		t.Fatalf("expected no hits without layers, got %+v", got)
	}
}

func TestEngine_pointTolerance(t *testing.T) {
	e := loaded(t, &recorder{})
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{-73.5, 45.5}))
	_ = e.AddSource(catalog.DataSource{Name: "pts", Data: fc})
	_ = e.AddLayer(catalog.Layer{ID: "dots", Source: "pts", Type: "circle"})
	e.Track(mapview.Camera{Center: orb.Point{-73.5, 45.5}, Zoom: 10})

	if got := e.QueryFeatures(orb.Point{-73.5001, 45.5}, []string{"dots"}); len(got) != 1 {
		t.Fatalf("expected near click to hit, got %d", len(got))
	}
	if got := e.QueryFeatures(orb.Point{-73.6, 45.5}, []string{"dots"}); len(got) != 0 {
		t.Fatalf("expected far click to miss, got %d", len(got))
	}
}

func TestEngine_setPaintAndSnapshot(t *testing.T) {
	r := &recorder{}
	e := loaded(t, r)
	_ = e.AddSource(catalog.DataSource{Name: "regions", Data: regions()})
	_ = e.AddLayer(catalog.Layer{ID: "fill", Source: "regions", Type: "fill", Paint: map[string]any{"fill-color": "#fff"}})

	if err := e.SetPaint("nope", map[string]any{}); !errors.Is(err, mapview.ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer, got %v", err)
	}
	if err := e.SetPaint("fill", map[string]any{"fill-opacity": 0.5}); err != nil {
		t.Fatal(err)
	}
	paint, _ := e.Paint("fill")
	if paint["fill-color"] != "#fff" || paint["fill-opacity"] != 0.5 {
		t.Fatalf("expected merged paint, got %v", paint)
	}
	_ = e.ShowPopup(orb.Point{1, 1}, "<p>x</p>")

	snap := e.Snapshot()
	want := []string{OpSetStyle, OpAddSource, OpAddLayer, OpShowPopup}
	if len(snap) != len(want) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	for i, op := range want {
		if snap[i].Op != op {
			t.Fatalf("snapshot[%d] = %s, want %s", i, snap[i].Op, op)
		}
	}
	if l := snap[2].Args.(catalog.Layer); l.Paint["fill-opacity"] != 0.5 {
		t.Fatalf("expected replayed layer to carry current paint, got %v", l.Paint)
	}

	_ = e.HidePopup()
	if ops := r.ops(); ops[len(ops)-1] != OpHidePopup {
		t.Fatalf("expected hidePopup last, got %v", ops)
	}
}

func TestEngine_loadStyleResetsSurface(t *testing.T) {
	e := loaded(t, &recorder{})
	_ = e.AddSource(catalog.DataSource{Name: "regions", Data: regions()})
	e.LoadStyle(context.Background(), 2, "other.json", func(error) {})

	if err := e.AddLayer(catalog.Layer{ID: "fill", Source: "regions"}); !errors.Is(err, mapview.ErrUnknownSource) {
		t.Fatalf("expected sources to be cleared, got %v", err)
	}
}

func TestCluster_groupsByTile(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{-73.50, 45.50}))
	fc.Append(geojson.NewFeature(orb.Point{-73.52, 45.52}))
	fc.Append(geojson.NewFeature(orb.Point{2.35, 48.85}))
	fc.Append(geojson.NewFeature(square(0, 0, 1, 1)))

	out := Cluster(fc, 6)
	if len(out.Features) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(out.Features))
	}
	total := 0
	for _, f := range out.Features {
		total += f.Properties["point_count"].(int)
	}
	if total != 3 {
		t.Fatalf("expected 3 clustered points, got %d", total)
	}
}
