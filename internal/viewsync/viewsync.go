// Package viewsync keeps the map, legend, search highlight, data table and
// persisted view state of one session consistent while user interactions
// and async completions arrive in any order.
//
// Every handler runs on the session Loop. Async work (style loads, dataset
// fetches) captures the generation that started it and posts its
// completion back; completions for an older generation are dropped.
package viewsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/legend"
	"github.com/joeblew999/geoview/internal/mapview"
	"github.com/joeblew999/geoview/internal/metrics"
	"github.com/joeblew999/geoview/internal/popup"
	"github.com/joeblew999/geoview/internal/search"
	"github.com/joeblew999/geoview/internal/style"
	"github.com/joeblew999/geoview/internal/table"
	"github.com/joeblew999/geoview/internal/ui"
	"github.com/joeblew999/geoview/internal/viewstate"
)

// ErrUnknownBookmark is returned by OnBookmarkSelected.
var ErrUnknownBookmark = errors.New("unknown bookmark")

// Deps are the collaborators of a Controller. Map may be nil when the map
// could not be constructed; the rest of the view keeps working.
type Deps struct {
	Ctx       context.Context
	Catalog   *catalog.Catalog
	State     *viewstate.Persisted
	Map       *mapview.Controller
	Legend    *legend.Controller
	Table     *table.Binding
	Search    *search.Control
	Popup     *popup.Formatter
	UI        ui.Surface
	Highlight catalog.SearchConfig
	Bookmarks []catalog.Bookmark
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Controller is the view state synchronization controller of one session.
type Controller struct {
	ctx context.Context
	cat *catalog.Catalog
	st  *viewstate.Persisted
	m   *mapview.Controller
	leg *legend.Controller
	tbl *table.Binding
	pop *popup.Formatter
	ui  ui.Surface
	hl  catalog.SearchConfig
	bms []catalog.Bookmark
	met *metrics.Metrics
	log zerolog.Logger

	current  *catalog.MapDefinition
	gen      uint64 // bumped on every map selection
	styleGen uint64
	attached map[string]bool // layers added for the current style
	selected *search.Item    // highlight of the current generation
}

// New wires a controller to its collaborators' events.
func New(d Deps) *Controller {
	ctx := d.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Controller{
		ctx:      ctx,
		cat:      d.Catalog,
		st:       d.State,
		m:        d.Map,
		leg:      d.Legend,
		tbl:      d.Table,
		pop:      d.Popup,
		ui:       d.UI,
		hl:       d.Highlight,
		bms:      d.Bookmarks,
		met:      d.Metrics,
		log:      d.Logger.With().Str("component", "viewsync").Logger(),
		attached: map[string]bool{},
	}
	if c.hl.Color == "" {
		c.hl.Color = catalog.DefaultSearchColor
	}
	if c.hl.Padding <= 0 {
		c.hl.Padding = catalog.DefaultSearchPadding
	}

	if c.m != nil {
		c.m.OnStyleReady(c.OnStyleReady)
		c.m.OnPanSettled(c.OnPanSettled)
		c.m.OnZoomSettled(c.OnZoomSettled)
		c.m.OnClicked(c.OnFeatureClicked)
	}
	c.leg.OnChange(c.OnLegendChanged)
	c.tbl.OnLoaded(c.OnTableLoaded)
	if d.Search != nil {
		d.Search.OnSelect(c.OnSearchSelected)
	}
	return c
}

// Current returns the active map, nil before Start.
func (c *Controller) Current() *catalog.MapDefinition { return c.current }

// Generation returns the map selection generation.
func (c *Controller) Generation() uint64 { return c.gen }

// Selection returns the highlighted search item of the current map.
func (c *Controller) Selection() (search.Item, bool) {
	if c.selected == nil {
		return search.Item{}, false
	}
	return *c.selected, true
}

// Start restores the persisted view: camera first, then the active map,
// falling back to the first catalog entry when the stored id is unknown.
func (c *Controller) Start() error {
	st := c.st.State()
	def, found := c.cat.Resolve(st.ActiveMapID)
	if !found && st.ActiveMapID != "" {
		c.log.Info().Str("stored", st.ActiveMapID).Str("map", def.ID).Msg("stored map unknown, using first map")
	}

	if c.m != nil {
		var err error
		switch {
		case st.HasCamera:
			err = c.m.JumpTo(mapview.Camera{Center: orb.Point{st.CenterLng, st.CenterLat}, Zoom: st.ZoomLevel})
		case def.Home != nil:
			err = c.m.JumpTo(mapview.Camera{Center: def.Home.Point(), Zoom: def.Home.Zoom})
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("restore camera")
		}
	}
	return c.OnMapSelected(def.ID)
}

// OnMapSelected switches the active map. An unknown id is logged and
// otherwise ignored.
func (c *Controller) OnMapSelected(id string) error {
	c.met.IncEvent("map")
	def, ok := c.cat.Get(id)
	if !ok {
		c.log.Warn().Str("map", id).Msg("ignoring unknown map")
		return fmt.Errorf("%w: %q", catalog.ErrUnknownMap, id)
	}

	if c.m != nil {
		if err := c.m.HidePopup(); err != nil {
			c.log.Warn().Err(err).Msg("hide popup")
		}
	}
	if err := c.st.SetActiveMap(c.ctx, def.ID); err != nil {
		c.log.Error().Err(err).Msg("persist active map")
	}

	c.current = def
	c.gen++
	c.selected = nil
	c.attached = map[string]bool{}

	if c.m != nil {
		c.styleGen = c.m.SetStyle(c.ctx, def.StyleRef)
	}
	c.tbl.Reload(c.ctx, c.gen, def.TableURL)
	c.leg.Reload(def.ID, def.Legend)

	c.dispatch(ui.Command{Kind: ui.ShowTitle, Data: map[string]string{"title": def.Title, "subtitle": def.Subtitle}})
	c.dispatch(ui.Command{Kind: ui.ShowLegend, Data: c.leg.Snapshot()})

	c.log.Info().Str("map", def.ID).Uint64("gen", c.gen).Msg("map selected")
	return nil
}

// OnStyleReady attaches the current map's sources and layers to a freshly
// loaded style and applies all styling, including a pending search
// highlight.
func (c *Controller) OnStyleReady(gen uint64) {
	c.met.IncEvent("styleReady")
	if c.m == nil || c.current == nil || gen != c.styleGen {
		c.met.IncStale("style")
		c.log.Debug().Uint64("gen", gen).Uint64("current", c.styleGen).Msg("discarding stale style")
		return
	}

	c.m.EnableHitTesting()
	for _, src := range c.current.DataSources {
		if err := c.m.AddSource(src); err != nil {
			c.log.Warn().Err(err).Str("source", src.Name).Msg("add source")
			continue
		}
		if src.Clustered {
			if err := c.m.AddClusterOverlay(src); err != nil {
				c.log.Warn().Err(err).Str("source", src.Name).Msg("add cluster overlay")
			}
		}
	}
	for _, l := range c.current.Layers {
		if !c.m.HasSource(l.Source) {
			c.log.Debug().Str("layer", l.ID).Str("source", l.Source).Msg("skipping layer without source")
			continue
		}
		if err := c.m.AddLayer(l); err != nil {
			c.log.Warn().Err(err).Str("layer", l.ID).Msg("add layer")
			continue
		}
		c.attached[l.ID] = true
	}

	c.restyle()
	c.highlight()
}

// Redraw reloads the current map's style for a surface that lost it, such
// as a reloaded page. Sources, layers and styling are attached again by
// OnStyleReady; the map generation, legend and search selection are kept.
func (c *Controller) Redraw() {
	if c.m == nil || c.current == nil {
		return
	}
	c.attached = map[string]bool{}
	c.styleGen = c.m.SetStyle(c.ctx, c.current.StyleRef)
	c.log.Debug().Str("map", c.current.ID).Uint64("style", c.styleGen).Msg("redraw")
}

// OnLegendChanged restyles the current map. Snapshots of another map are
// ignored.
func (c *Controller) OnLegendChanged(snap legend.Snapshot) {
	c.met.IncEvent("legend")
	if c.current == nil || snap.MapID != c.current.ID {
		return
	}
	c.dispatch(ui.Command{Kind: ui.ShowLegend, Data: snap})
	c.restyle()
}

// OnOpacityChanged persists the clamped level and restyles.
func (c *Controller) OnOpacityChanged(level float64) {
	c.met.IncEvent("opacity")
	if err := c.st.SetOpacity(c.ctx, level); err != nil {
		c.log.Error().Err(err).Msg("persist opacity")
	}
	c.restyle()
}

// OnSearchSelected highlights item on the search layer, focuses its table
// row and fits the camera to its extent. The selection is not persisted.
func (c *Controller) OnSearchSelected(item search.Item) {
	c.met.IncEvent("search")
	c.selected = &item
	c.highlight()
	c.tbl.FocusRow(item)

	if c.m == nil {
		return
	}
	if err := c.m.FitBounds(item.Extent, mapview.FitOptions{Padding: c.hl.Padding, Animate: false}); err != nil {
		c.log.Warn().Err(err).Str("item", item.ID).Msg("fit bounds")
	}
}

// OnPanSettled persists the map center.
func (c *Controller) OnPanSettled(center orb.Point) {
	c.met.IncEvent("pan")
	if err := c.st.SetCenter(c.ctx, center.Lat(), center.Lon()); err != nil {
		c.log.Error().Err(err).Msg("persist center")
	}
}

// OnZoomSettled persists the zoom level.
func (c *Controller) OnZoomSettled(level float64) {
	c.met.IncEvent("zoom")
	if err := c.st.SetZoom(c.ctx, level); err != nil {
		c.log.Error().Err(err).Msg("persist zoom")
	}
}

// OnFeatureClicked shows a popup for the topmost clickable feature at p.
func (c *Controller) OnFeatureClicked(p orb.Point) {
	c.met.IncEvent("click")
	if c.m == nil || c.current == nil || len(c.current.ClickableLayerIDs) == 0 {
		return
	}
	features := c.m.QueryFeaturesAt(p, c.current.ClickableLayerIDs)
	if len(features) == 0 {
		return
	}

	html, err := c.pop.Format(features[0].Properties, c.current.Fields)
	if err != nil {
		c.log.Error().Err(err).Str("layer", features[0].LayerID).Msg("format popup")
		return
	}
	if err := c.m.ShowPopup(p, html); err != nil {
		c.log.Warn().Err(err).Msg("show popup")
	}
}

// OnTableLoaded binds a dataset fetched for the current generation.
func (c *Controller) OnTableLoaded(res table.Result) {
	c.met.IncEvent("table")
	if res.Gen != c.gen {
		c.met.IncStale("table")
		c.log.Debug().Uint64("gen", res.Gen).Uint64("current", c.gen).Msg("discarding stale table")
		return
	}
	if res.Err != nil {
		c.met.IncTableFailure()
		c.log.Warn().Err(res.Err).Msg("table fetch failed")
	}
	c.tbl.Apply(res)
}

// OnMenu handles a menu button.
func (c *Controller) OnMenu(b ui.Button) error {
	c.met.IncEvent("menu")
	switch b {
	case ui.Home:
		if c.m == nil || c.current == nil || c.current.Home == nil {
			return nil
		}
		return c.m.JumpTo(mapview.Camera{Center: c.current.Home.Point(), Zoom: c.current.Home.Zoom})
	case ui.Maps:
		c.dispatch(ui.Command{Kind: ui.OpenMaps, Data: c.cat.List()})
	case ui.Bookmarks:
		c.dispatch(ui.Command{Kind: ui.OpenBookmarks, Data: c.bms})
	case ui.Help:
		c.dispatch(ui.Command{Kind: ui.OpenHelp})
	default:
		return fmt.Errorf("unknown menu button %q", b)
	}
	return nil
}

// OnBookmarkSelected switches to the bookmark's map when it names another
// one, then fits the camera to its extent.
func (c *Controller) OnBookmarkSelected(id string) error {
	c.met.IncEvent("bookmark")
	var bm *catalog.Bookmark
	for i := range c.bms {
		if c.bms[i].ID == id {
			bm = &c.bms[i]
			break
		}
	}
	if bm == nil {
		return fmt.Errorf("%w: %q", ErrUnknownBookmark, id)
	}

	if bm.MapID != "" && (c.current == nil || bm.MapID != c.current.ID) {
		if err := c.OnMapSelected(bm.MapID); err != nil {
			return err
		}
	}
	if c.m == nil {
		return nil
	}
	return c.m.FitBounds(bm.Bound(), mapview.FitOptions{Padding: c.hl.Padding, Animate: true})
}

// restyle applies the legend directive to the legend-driven layers and the
// opacity to static layers. Before the style is ready it does nothing;
// OnStyleReady applies the latest state.
func (c *Controller) restyle() {
	if !c.ready() {
		return
	}
	opacity := c.st.State().OpacityLevel
	snap := c.leg.Snapshot()
	styled := c.attachedOf(c.styledLayers())

	var err error
	if len(snap.Entries) == 0 {
		err = c.m.SetOpacity(styled, opacity)
	} else {
		err = c.m.ApplyStyling(styled, Directive(snap, opacity))
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("apply styling")
	}
	if err := c.m.SetOpacity(c.attachedOf(c.current.StaticLayerIDs()), opacity); err != nil {
		c.log.Warn().Err(err).Msg("apply opacity")
	}
}

// highlight draws the selection on the search layer, or clears the layer
// when nothing is selected.
func (c *Controller) highlight() {
	if !c.ready() || c.hl.Layer == "" || !c.attached[c.hl.Layer] {
		return
	}
	d := style.Compute(nil, 0)
	if c.selected != nil {
		d = style.Highlight(c.hl.Field, c.selected.ID, c.hl.Color)
	}
	if err := c.m.ApplyStyling([]string{c.hl.Layer}, d); err != nil {
		c.log.Warn().Err(err).Msg("apply search highlight")
	}
}

// styledLayers are the non-static layers of the current map other than the
// search layer.
func (c *Controller) styledLayers() []string {
	var ids []string
	for _, id := range c.current.StyledLayerIDs() {
		if id != c.hl.Layer {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Controller) attachedOf(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if c.attached[id] {
			out = append(out, id)
		}
	}
	return out
}

func (c *Controller) ready() bool {
	return c.m != nil && c.current != nil && c.m.Ready() && c.m.Generation() == c.styleGen
}

func (c *Controller) dispatch(cmd ui.Command) {
	if c.ui != nil {
		c.ui.Dispatch(cmd)
	}
}

// Directive is the styling directive for a legend snapshot at opacity.
func Directive(snap legend.Snapshot, opacity float64) style.Directive {
	return style.Compute(snap.StyleEntries(), viewstate.ClampOpacity(opacity))
}
