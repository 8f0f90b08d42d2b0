package mapview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/style"
)

type fakeEngine struct {
	refs   []string
	done   map[uint64]func(error)
	paints map[string]map[string]any
	fits   []FitOptions
	moves  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{done: map[uint64]func(error){}, paints: map[string]map[string]any{}}
}

func (f *fakeEngine) LoadStyle(_ context.Context, gen uint64, ref string, done func(error)) {
	f.refs = append(f.refs, ref)
	f.done[gen] = done
}
func (f *fakeEngine) AddSource(catalog.DataSource) error         { return nil }
func (f *fakeEngine) AddClusterOverlay(catalog.DataSource) error { return nil }
func (f *fakeEngine) AddLayer(catalog.Layer) error               { return nil }
func (f *fakeEngine) SetPaint(id string, p map[string]any) error {
	f.paints[id] = p
	return nil
}
func (f *fakeEngine) FitBounds(_ orb.Bound, o FitOptions) error {
	f.fits = append(f.fits, o)
	return nil
}
func (f *fakeEngine) JumpTo(Camera) error                          { return nil }
func (f *fakeEngine) Track(Camera)                                 { f.moves++ }
func (f *fakeEngine) QueryFeatures(orb.Point, []string) []Feature { return nil }
func (f *fakeEngine) ShowPopup(orb.Point, string) error            { return nil }
func (f *fakeEngine) HidePopup() error                             { return nil }

func newController(t *testing.T, eng Engine, stale *int) *Controller {
	t.Helper()
	c, err := New(eng, Options{
		AccessToken: "tok en",
		Logger:      zerolog.Nop(),
		OnStale:     func() { *stale++ },
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestNew_requiresAccessToken(t *testing.T) {
	if _, err := New(newFakeEngine(), Options{AccessToken: "  "}); !errors.Is(err, ErrMissingAccessToken) {
		t.Fatalf("expected ErrMissingAccessToken, got %v", err)
	}
}

func TestSetStyle_rejectsBeforeReady(t *testing.T) {
	eng := newFakeEngine()
	var stale int
	c := newController(t, eng, &stale)

	var ready []uint64
	c.OnStyleReady(func(g uint64) { ready = append(ready, g) })

	gen := c.SetStyle(context.Background(), "https://tiles/style.json?key={accessToken}")
	if !strings.HasSuffix(eng.refs[0], "key=tok+en") {
		t.Fatalf("expected token substitution, got %s", eng.refs[0])
	}

	if err := c.AddSource(catalog.DataSource{Name: "s"}); !errors.Is(err, ErrStyleNotReady) {
		t.Fatalf("expected ErrStyleNotReady, got %v", err)
	}
	if err := c.ApplyStyling([]string{"l"}, style.Directive{}); !errors.Is(err, ErrStyleNotReady) {
		t.Fatalf("expected ErrStyleNotReady, got %v", err)
	}
	if err := c.SetOpacity([]string{"l"}, 0.5); !errors.Is(err, ErrStyleNotReady) {
		t.Fatalf("expected ErrStyleNotReady, got %v", err)
	}
	if err := c.FitBounds(orb.Bound{}, FitOptions{Padding: 30}); err != nil {
		t.Fatalf("expected FitBounds to work before ready, got %v", err)
	}

	eng.done[gen](nil)
	if !c.Ready() || len(ready) != 1 || ready[0] != gen {
		t.Fatalf("expected ready for gen %d, got %v", gen, ready)
	}
}

func TestSetStyle_staleCompletionDiscarded(t *testing.T) {
	eng := newFakeEngine()
	var stale int
	c := newController(t, eng, &stale)
	var ready []uint64
	c.OnStyleReady(func(g uint64) { ready = append(ready, g) })

	g1 := c.SetStyle(context.Background(), "a")
	g2 := c.SetStyle(context.Background(), "b")
	eng.done[g1](nil)
	if c.Ready() || len(ready) != 0 || stale != 1 {
		t.Fatalf("expected stale completion to be discarded (ready=%v stale=%d)", ready, stale)
	}
	eng.done[g2](errors.New("404"))
	if c.Ready() {
		t.Fatalf("expected failed load to stay not ready")
	}
}

func TestAddLayer_requiresSourceAndStyles(t *testing.T) {
	eng := newFakeEngine()
	var stale int
	c := newController(t, eng, &stale)
	gen := c.SetStyle(context.Background(), "a")
	eng.done[gen](nil)

	if err := c.AddLayer(catalog.Layer{ID: "l", Source: "missing"}); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	_ = c.AddSource(catalog.DataSource{Name: "pts"})
	_ = c.AddClusterOverlay(catalog.DataSource{Name: "pts"})
	if err := c.AddLayer(catalog.Layer{ID: "clusters", Source: ClusterSourceName("pts"), Type: "circle"}); err != nil {
		t.Fatalf("expected cluster source to be usable, got %v", err)
	}

	err := c.SetOpacity([]string{"clusters", "ghost"}, 0.4)
	if !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer for ghost, got %v", err)
	}
	if eng.paints["clusters"]["circle-opacity"] != 0.4 {
		t.Fatalf("expected opacity applied to known layer, got %v", eng.paints["clusters"])
	}
}

func TestHandleMoveAndClick(t *testing.T) {
	eng := newFakeEngine()
	var stale int
	c := newController(t, eng, &stale)

	var pans, zooms, clicks int
	c.OnPanSettled(func(orb.Point) { pans++ })
	c.OnZoomSettled(func(float64) { zooms++ })
	c.OnClicked(func(orb.Point) { clicks++ })

	c.HandleMove(Camera{Center: orb.Point{1, 2}, Zoom: 5})
	c.HandleMove(Camera{Center: orb.Point{1, 2}, Zoom: 6})
	c.HandleMove(Camera{Center: orb.Point{3, 2}, Zoom: 6})
	if pans != 2 || zooms != 2 {
		t.Fatalf("expected 2 pans and 2 zooms, got %d and %d", pans, zooms)
	}

	c.HandleClick(orb.Point{})
	c.EnableHitTesting()
	c.HandleClick(orb.Point{})
	if clicks != 1 {
		t.Fatalf("expected click only while hit-testing, got %d", clicks)
	}
	c.SetStyle(context.Background(), "b")
	c.HandleClick(orb.Point{})
	if clicks != 1 {
		t.Fatalf("expected style switch to disable hit-testing")
	}
}

func TestHandlePanAndZoom_reportOnlyTheirPart(t *testing.T) {
	eng := newFakeEngine()
	var stale int
	c := newController(t, eng, &stale)

	var centers []orb.Point
	var zooms []float64
	c.OnPanSettled(func(p orb.Point) { centers = append(centers, p) })
	c.OnZoomSettled(func(z float64) { zooms = append(zooms, z) })

	c.HandlePan(orb.Point{-73.5, 45.5})
	if len(centers) != 1 || len(zooms) != 0 {
		t.Fatalf("expected a center-only report, got centers=%v zooms=%v", centers, zooms)
	}
	if _, ok := c.Camera(); ok {
		t.Fatalf("expected camera to be incomplete without a zoom")
	}
	if eng.moves != 0 {
		t.Fatalf("expected no engine tracking of a partial camera, got %d", eng.moves)
	}

	c.HandleZoom(11)
	c.HandleZoom(11)
	c.HandlePan(orb.Point{-73.5, 45.5})
	if len(centers) != 1 || len(zooms) != 1 || zooms[0] != 11 {
		t.Fatalf("expected unchanged reports to be ignored, got centers=%v zooms=%v", centers, zooms)
	}
	cam, ok := c.Camera()
	if !ok || cam.Zoom != 11 || !cam.Center.Equal(orb.Point{-73.5, 45.5}) {
		t.Fatalf("unexpected camera %+v (complete=%v)", cam, ok)
	}
	if eng.moves != 1 {
		t.Fatalf("expected engine to track the completed camera once, got %d", eng.moves)
	}
}
