package viewsync

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/legend"
	"github.com/joeblew999/geoview/internal/locale"
	"github.com/joeblew999/geoview/internal/mapview"
	"github.com/joeblew999/geoview/internal/mapview/geoengine"
	"github.com/joeblew999/geoview/internal/popup"
	"github.com/joeblew999/geoview/internal/search"
	"github.com/joeblew999/geoview/internal/store"
	"github.com/joeblew999/geoview/internal/style"
	"github.com/joeblew999/geoview/internal/table"
	"github.com/joeblew999/geoview/internal/templates"
	"github.com/joeblew999/geoview/internal/ui"
	"github.com/joeblew999/geoview/internal/viewstate"
)

// --- fakes ---

type recorder struct {
	mu   sync.Mutex
	cmds []geoengine.Command
}

func (r *recorder) Send(c geoengine.Command) {
	r.mu.Lock()
	r.cmds = append(r.cmds, c)
	r.mu.Unlock()
}

func (r *recorder) since(n int) []geoengine.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]geoengine.Command(nil), r.cmds[n:]...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

type widget struct {
	loading []string
	bound   []table.Dataset
	failed  []string
	focused []string
}

func (w *widget) Loading(url string)         { w.loading = append(w.loading, url) }
func (w *widget) Bind(ds table.Dataset)      { w.bound = append(w.bound, ds) }
func (w *widget) Failed(url string, _ error) { w.failed = append(w.failed, url) }
func (w *widget) Focus(_ string, v string)   { w.focused = append(w.focused, v) }

type fetcher struct{}

func (fetcher) Fetch(_ context.Context, url string) (table.Dataset, error) {
	return table.Dataset{URL: url, Columns: []string{"id"}, Rows: []table.Row{{"id": "2410"}}}, nil
}

type surface struct{ cmds []ui.Command }

func (s *surface) Dispatch(c ui.Command) { s.cmds = append(s.cmds, c) }

// --- fixtures ---

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func regions() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(square(-74, 45, -73, 46))
	a.Properties = geojson.Properties{"id": "2410", "bracket": "low", "pop": 69025}
	b := geojson.NewFeature(square(-73, 45, -72, 46))
	b.Properties = geojson.Properties{"id": "2411", "bracket": "mid", "pop": 12000}
	fc.Append(a)
	fc.Append(b)
	return fc
}

func ptr(v float64) *float64 { return &v }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	fc := regions()
	cat, err := catalog.New([]catalog.MapDefinition{
		{
			ID:          "a",
			Title:       "Income",
			StyleRef:    "https://tiles.example/a.json?key={accessToken}",
			DataSources: []catalog.DataSource{{Name: "regions", Data: fc}},
			Layers: []catalog.Layer{
				{ID: "a-fill", Source: "regions", Type: "fill"},
				{ID: "a-base", Source: "regions", Type: "line", Static: true},
				{ID: "search-outline", Source: "regions", Type: "line"},
				{ID: "orphan", Source: "nowhere", Type: "fill"},
			},
			Legend: catalog.LegendSpec{Field: "bracket", Entries: []catalog.LegendEntrySpec{
				{Label: "Low", Color: "#fee5d9", Value: "low"},
				{Label: "Mid", Color: "#fb6a4a", Value: "mid", Disabled: true},
				{Label: "High", Color: "#a50f15", Value: "high"},
			}},
			Fields:            []catalog.Field{{ID: "id", Label: "Code", Type: "string"}, {ID: "pop", Label: "Population"}},
			ClickableLayerIDs: []string{"a-fill"},
			TableURL:          "/a.json",
			Home:              &catalog.View{Center: [2]float64{-73.5, 45.5}, Zoom: 7},
		},
		{
			ID:          "b",
			Title:       "Population",
			StyleRef:    "https://tiles.example/b.json",
			DataSources: []catalog.DataSource{{Name: "regions", Data: fc}},
			Layers:      []catalog.Layer{{ID: "b-fill", Source: "regions", Type: "fill"}},
			Legend: catalog.LegendSpec{Field: "pop", Entries: []catalog.LegendEntrySpec{
				{Label: "Small", Color: "#eee", Max: ptr(20000)},
				{Label: "Large", Color: "#333", Min: ptr(20000)},
			}},
			TableURL: "/b.json",
		},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

type harness struct {
	t      *testing.T
	store  *store.Memory
	sink   *recorder
	eng    *geoengine.Engine
	m      *mapview.Controller
	leg    *legend.Controller
	widget *widget
	search *search.Control
	ui     *surface
	posts  chan func()
	ctl    *Controller
}

type option func(*harness, *Deps)

func withStored(key, value string) option {
	return func(h *harness, _ *Deps) { _ = h.store.Set(context.Background(), key, value) }
}

func withoutMap() option {
	return func(_ *harness, d *Deps) { d.Map = nil }
}

// heldEngine keeps style completions until the test releases them.
type heldEngine struct {
	*geoengine.Engine
	done map[uint64]func(error)
}

func (e *heldEngine) LoadStyle(ctx context.Context, gen uint64, ref string, done func(error)) {
	e.done[gen] = done
	e.Engine.LoadStyle(ctx, gen, ref, func(error) {})
}

func withHeldStyleLoads(done map[uint64]func(error)) option {
	return func(h *harness, d *Deps) {
		m, err := mapview.New(&heldEngine{Engine: h.eng, done: done}, mapview.Options{AccessToken: "pk.test", Logger: zerolog.Nop()})
		if err != nil {
			h.t.Fatal(err)
		}
		h.m = m
		d.Map = m
	}
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  store.NewMemory(),
		sink:   &recorder{},
		leg:    legend.New(),
		widget: &widget{},
		ui:     &surface{},
		posts:  make(chan func(), 16),
	}
	h.eng = geoengine.New(h.sink, geoengine.Options{})
	m, err := mapview.New(h.eng, mapview.Options{AccessToken: "pk.test", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	h.m = m

	idx, err := search.Build([][]any{{"2410", "Granby", -74, 45, -73, 46}})
	if err != nil {
		t.Fatal(err)
	}
	h.search = search.NewControl(idx)

	r, err := templates.Default()
	if err != nil {
		t.Fatal(err)
	}

	d := Deps{
		Catalog:   testCatalog(t),
		Map:       h.m,
		Legend:    h.leg,
		Table:     table.NewBinding(fetcher{}, h.widget, func(fn func()) { h.posts <- fn }, "id"),
		Search:    h.search,
		Popup:     &popup.Formatter{Locale: locale.New("en"), Renderer: r},
		UI:        h.ui,
		Highlight: catalog.SearchConfig{Layer: "search-outline", Field: "id"},
		Bookmarks: []catalog.Bookmark{{ID: "pop", MapID: "b", Extent: [4]float64{-74, 45, -72, 46}}},
		Logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(h, &d)
	}

	st, err := viewstate.Load(context.Background(), h.store, viewstate.ViewState{})
	if err != nil {
		t.Fatal(err)
	}
	d.State = st
	h.ctl = New(d)
	return h
}

// ack completes the pending style load.
func (h *harness) ack() {
	h.t.Helper()
	if err := h.eng.Acknowledge(h.eng.Generation(), nil); err != nil {
		h.t.Fatalf("acknowledge: %v", err)
	}
}

// settle runs n posted table completions.
func (h *harness) settle(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		select {
		case fn := <-h.posts:
			fn()
		case <-time.After(2 * time.Second):
			h.t.Fatalf("timed out waiting for completion %d", i+1)
		}
	}
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.ctl.Start(); err != nil {
		h.t.Fatalf("start: %v", err)
	}
	h.settle(1)
	h.ack()
}

func (h *harness) paintJSON(layer string) string {
	h.t.Helper()
	p, ok := h.eng.Paint(layer)
	if !ok {
		h.t.Fatalf("layer %s not attached", layer)
	}
	b, err := json.Marshal(p)
	if err != nil {
		h.t.Fatal(err)
	}
	return string(b)
}

// --- properties ---

func TestDirective_idempotent(t *testing.T) {
	h := newHarness(t)
	h.start()

	snap := h.leg.Snapshot()
	a := Directive(snap, 0.6).JSON()
	b := Directive(snap, 0.6).JSON()
	if !bytes.Equal(a, b) {
		t.Fatalf("expected byte-identical directives:\n%s\n%s", a, b)
	}

	h.ctl.OnOpacityChanged(0.6)
	first := h.paintJSON("a-fill")
	h.ctl.OnOpacityChanged(0.6)
	if second := h.paintJSON("a-fill"); first != second {
		t.Fatalf("expected re-applying to leave paint unchanged:\n%s\n%s", first, second)
	}
}

func TestMapSwitch_rebuildsLegend(t *testing.T) {
	h := newHarness(t)
	h.start()

	if err := h.leg.Toggle("low"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.search.Select("2410"); err != nil {
		t.Fatal(err)
	}

	_ = h.ctl.OnMapSelected("b")
	h.settle(1)
	_ = h.ctl.OnMapSelected("a")
	h.settle(1)

	fresh := legend.New()
	fresh.Reload("a", h.ctl.Current().Legend)
	if !reflect.DeepEqual(h.leg.Snapshot(), fresh.Snapshot()) {
		t.Fatalf("expected fresh legend for a:\n%+v\n%+v", h.leg.Snapshot(), fresh.Snapshot())
	}
	if _, ok := h.ctl.Selection(); ok {
		t.Fatalf("expected search selection to be cleared by map switch")
	}

	h.ack()
	if p := h.paintJSON("search-outline"); strings.Contains(p, catalog.DefaultSearchColor) {
		t.Fatalf("expected highlight not to carry over, got %s", p)
	}
}

func TestTableCompletion_staleDiscarded(t *testing.T) {
	h := newHarness(t)
	if err := h.ctl.Start(); err != nil {
		t.Fatal(err)
	}
	_ = h.ctl.OnMapSelected("b")
	h.settle(2)

	if len(h.widget.bound) != 1 || h.widget.bound[0].URL != "/b.json" {
		t.Fatalf("expected only b's dataset to bind, got %+v", h.widget.bound)
	}
	if len(h.widget.loading) != 2 {
		t.Fatalf("expected two loading states, got %v", h.widget.loading)
	}
}

func TestSearchSelected_highlightFocusFit(t *testing.T) {
	h := newHarness(t)
	h.start()

	mark := h.sink.len()
	item := search.Item{ID: "2410", Extent: orb.Bound{Min: orb.Point{-74, 45}, Max: orb.Point{-73, 46}}}
	h.ctl.OnSearchSelected(item)

	if len(h.widget.focused) != 1 || h.widget.focused[0] != "2410" {
		t.Fatalf("expected row 2410 focused, got %v", h.widget.focused)
	}

	var paints, fits []geoengine.Command
	for _, c := range h.sink.since(mark) {
		switch c.Op {
		case geoengine.OpSetPaint:
			paints = append(paints, c)
		case geoengine.OpFitBounds:
			fits = append(fits, c)
		}
	}

	if len(fits) != 1 {
		t.Fatalf("expected one fitBounds, got %d", len(fits))
	}
	args := fits[0].Args.(map[string]any)
	if opts := args["options"].(mapview.FitOptions); opts.Padding != 30 || opts.Animate {
		t.Fatalf("expected padding 30 without animation, got %+v", opts)
	}
	if b := args["bounds"].([2][2]float64); b != [2][2]float64{{-74, 45}, {-73, 46}} {
		t.Fatalf("unexpected bounds %v", b)
	}

	if len(paints) != 1 {
		t.Fatalf("expected exactly one layer styled, got %d", len(paints))
	}
	pa := paints[0].Args.(map[string]any)
	if pa["layer"] != "search-outline" {
		t.Fatalf("expected search layer, got %v", pa["layer"])
	}
	want := style.Highlight("id", "2410", catalog.DefaultSearchColor).Paint("line")
	if !reflect.DeepEqual(pa["paint"], want) {
		t.Fatalf("unexpected highlight paint %v", pa["paint"])
	}
	if d := style.Highlight("id", "2410", catalog.DefaultSearchColor); len(d.Rules) != 2 {
		t.Fatalf("expected two-rule highlight, got %d", len(d.Rules))
	}
}

func TestOpacityAndLegend_commute(t *testing.T) {
	h1 := newHarness(t)
	h1.start()
	h1.ctl.OnOpacityChanged(0.3)
	_ = h1.leg.Toggle("high")

	h2 := newHarness(t)
	h2.start()
	_ = h2.leg.Toggle("high")
	h2.ctl.OnOpacityChanged(0.3)

	if a, b := h1.paintJSON("a-fill"), h2.paintJSON("a-fill"); a != b {
		t.Fatalf("expected same paint regardless of order:\n%s\n%s", a, b)
	}
}

func TestStart_unknownStoredMapFallsBack(t *testing.T) {
	h := newHarness(t, withStored(viewstate.KeyActiveMap, "retired"))
	h.start()

	if got := h.ctl.Current().ID; got != "a" {
		t.Fatalf("expected first catalog map, got %q", got)
	}
	if v, _ := h.store.Get(context.Background(), viewstate.KeyActiveMap); v != "a" {
		t.Fatalf("expected fallback to be persisted, got %q", v)
	}
}

func TestLegend_disabledEntriesStayAsTransparentRules(t *testing.T) {
	h := newHarness(t)
	h.start()

	d := Directive(h.leg.Snapshot(), 0.75)
	if len(d.Rules) != 4 {
		t.Fatalf("expected 3 entries plus fallback, got %d rules", len(d.Rules))
	}
	if d.Rules[1].Color != style.Transparent || d.Rules[1].Alpha != 0 {
		t.Fatalf("expected disabled Mid to be transparent, got %+v", d.Rules[1])
	}

	p, _ := h.eng.Paint("a-fill")
	colors := p["fill-color"].([]any)
	// case, 3 x (filter, color), fallback
	if len(colors) != 8 || colors[4] != style.Transparent {
		t.Fatalf("expected disabled rule in paint, got %v", colors)
	}
}

// --- other behavior ---

func TestLegendChange_deferredUntilStyleReady(t *testing.T) {
	h := newHarness(t)
	if err := h.ctl.Start(); err != nil {
		t.Fatal(err)
	}
	h.settle(1)

	if err := h.leg.Toggle("low"); err != nil {
		t.Fatal(err)
	}
	h.ctl.OnOpacityChanged(0.5)
	h.ack()

	want := h.ctl.Current().StyledLayerIDs()
	if len(want) == 0 {
		t.Fatal("no styled layers")
	}
	got := h.paintJSON("a-fill")
	exp, _ := json.Marshal(Directive(h.leg.Snapshot(), 0.5).Paint("fill"))
	if got != string(exp) {
		t.Fatalf("expected latest legend and opacity after ready:\n%s\n%s", got, exp)
	}
	if p, _ := h.eng.Paint("a-base"); p["line-opacity"] != 0.5 {
		t.Fatalf("expected static layer opacity 0.5, got %v", p)
	}
	if _, ok := h.eng.Paint("orphan"); ok {
		t.Fatalf("expected layer without source to be skipped")
	}
}

func TestLegendChange_otherMapIgnored(t *testing.T) {
	h := newHarness(t)
	h.start()
	mark := h.sink.len()
	h.ctl.OnLegendChanged(legend.Snapshot{MapID: "b"})
	if n := len(h.sink.since(mark)); n != 0 {
		t.Fatalf("expected no render commands, got %d", n)
	}
}

func TestUnknownMap_isNoop(t *testing.T) {
	h := newHarness(t)
	h.start()
	gen := h.ctl.Generation()
	if err := h.ctl.OnMapSelected("zzz"); err == nil {
		t.Fatalf("expected error for unknown map")
	}
	if h.ctl.Generation() != gen || h.ctl.Current().ID != "a" {
		t.Fatalf("expected state unchanged")
	}
}

func TestFeatureClicked_showsPopup(t *testing.T) {
	h := newHarness(t)
	h.start()

	mark := h.sink.len()
	h.m.HandleClick(orb.Point{-73.5, 45.5})
	cmds := h.sink.since(mark)
	if len(cmds) != 1 || cmds[0].Op != geoengine.OpShowPopup {
		t.Fatalf("expected a popup, got %+v", cmds)
	}
	b, _ := json.Marshal(cmds[0].Args)
	if !strings.Contains(string(b), "69,025") || !strings.Contains(string(b), "2410") {
		t.Fatalf("unexpected popup %s", b)
	}

	mark = h.sink.len()
	h.m.HandleClick(orb.Point{10, 10})
	if n := len(h.sink.since(mark)); n != 0 {
		t.Fatalf("expected empty hit-test to do nothing, got %d commands", n)
	}
}

func TestPanZoom_persisted(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.m.HandleMove(mapview.Camera{Center: orb.Point{-71.2, 46.8}, Zoom: 9})

	reloaded, err := viewstate.Load(context.Background(), h.store, viewstate.ViewState{})
	if err != nil {
		t.Fatal(err)
	}
	st := reloaded.State()
	if st.CenterLat != 46.8 || st.CenterLng != -71.2 || st.ZoomLevel != 9 || !st.HasCamera {
		t.Fatalf("unexpected persisted camera %+v", st)
	}
}

func TestMenuAndBookmark(t *testing.T) {
	h := newHarness(t)
	h.start()

	if err := h.ctl.OnMenu(ui.Help); err != nil {
		t.Fatal(err)
	}
	if last := h.ui.cmds[len(h.ui.cmds)-1]; last.Kind != ui.OpenHelp {
		t.Fatalf("expected help command, got %+v", last)
	}
	if err := h.ctl.OnMenu(ui.Maps); err != nil {
		t.Fatal(err)
	}

	if err := h.ctl.OnBookmarkSelected("pop"); err != nil {
		t.Fatal(err)
	}
	if h.ctl.Current().ID != "b" {
		t.Fatalf("expected bookmark to switch map")
	}
	if err := h.ctl.OnBookmarkSelected("nope"); err == nil {
		t.Fatalf("expected unknown bookmark error")
	}
	h.settle(1)
}

func TestWithoutMap_restOfViewWorks(t *testing.T) {
	h := newHarness(t, withoutMap())
	if err := h.ctl.Start(); err != nil {
		t.Fatal(err)
	}
	h.settle(1)

	h.ctl.OnOpacityChanged(2)
	if _, err := h.search.Select("2410"); err != nil {
		t.Fatal(err)
	}
	if len(h.widget.bound) != 1 || len(h.widget.focused) != 1 {
		t.Fatalf("expected table to work without a map, got %+v", h.widget)
	}
	if v, _ := h.store.Get(context.Background(), viewstate.KeyOpacity); v != "1" {
		t.Fatalf("expected clamped opacity persisted, got %q", v)
	}
}

func TestRapidSwitch_lateStyleOfPreviousMapDiscarded(t *testing.T) {
	held := map[uint64]func(error){}
	h := newHarness(t, withHeldStyleLoads(held))
	if err := h.ctl.Start(); err != nil {
		t.Fatal(err)
	}
	if err := h.ctl.OnMapSelected("b"); err != nil {
		t.Fatal(err)
	}
	h.settle(2)
	mark := h.sink.len()

	held[1](nil)
	if h.m.Ready() {
		t.Fatalf("expected a's late style completion not to ready b")
	}
	if got := h.sink.since(mark); len(got) != 0 {
		t.Fatalf("expected nothing attached for a's style, got %+v", got)
	}

	held[2](nil)
	var layers []string
	for _, c := range h.sink.since(mark) {
		if c.Op == geoengine.OpAddLayer {
			layers = append(layers, c.Args.(catalog.Layer).ID)
		}
	}
	if !reflect.DeepEqual(layers, []string{"b-fill"}) {
		t.Fatalf("expected only b's layers, got %v", layers)
	}
	if _, ok := h.eng.Paint("a-fill"); ok {
		t.Fatalf("expected a-fill not to be attached")
	}
}

func TestRedraw_reattachesAfterAcknowledge(t *testing.T) {
	h := newHarness(t)
	h.start()
	if _, err := h.search.Select("2410"); err != nil {
		t.Fatal(err)
	}
	gen := h.ctl.Generation()
	mark := h.sink.len()

	h.ctl.Redraw()
	for _, c := range h.sink.since(mark) {
		if c.Op != geoengine.OpSetStyle {
			t.Fatalf("expected only a style load before acknowledgement, got %s", c.Op)
		}
	}
	if h.m.Ready() {
		t.Fatalf("expected redraw to wait for the new style")
	}

	h.ack()
	if h.ctl.Generation() != gen {
		t.Fatalf("expected map generation %d to be kept, got %d", gen, h.ctl.Generation())
	}
	if _, ok := h.ctl.Selection(); !ok {
		t.Fatalf("expected search selection to survive a redraw")
	}
	if p := h.paintJSON("search-outline"); !strings.Contains(p, catalog.DefaultSearchColor) {
		t.Fatalf("expected highlight re-applied, got %s", p)
	}
	if _, ok := h.eng.Paint("a-fill"); !ok {
		t.Fatalf("expected a-fill attached again")
	}
}
