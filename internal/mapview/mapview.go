// Package mapview adapts a render engine into the map surface the view
// controller drives. It tracks style generations, rejects styling calls
// made before the current style is ready, and raises camera and click
// events.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/event"
	"github.com/joeblew999/geoview/internal/style"
)

var (
	// ErrStyleNotReady is returned by source, layer and styling calls made
	// before the engine finished loading the current style.
	ErrStyleNotReady = errors.New("map style not ready")
	// ErrMissingAccessToken is returned by New without credentials.
	ErrMissingAccessToken = errors.New("map access token missing")
	// ErrUnknownLayer is returned for a layer that was never added.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrUnknownSource is returned for a layer whose source was never added.
	ErrUnknownSource = errors.New("unknown source")
)

// AccessTokenPlaceholder is substituted in style references.
const AccessTokenPlaceholder = "{accessToken}"

// ClusterSourceName names the overlay source built from a clustered source.
// Layers may draw from it once AddClusterOverlay succeeded.
func ClusterSourceName(name string) string {
	return name + "-clusters"
}

// Feature is a hit-test result.
type Feature struct {
	LayerID    string         `json:"layer"`
	ID         any            `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
	Geometry   orb.Geometry   `json:"-"`
}

// FitOptions controls FitBounds.
type FitOptions struct {
	Padding int     `json:"padding"`
	Animate bool    `json:"animate"`
	MaxZoom float64 `json:"maxZoom,omitempty"`
}

// Camera is a map position.
type Camera struct {
	Center orb.Point `json:"center"`
	Zoom   float64   `json:"zoom"`
}

// Engine is the render surface. LoadStyle must eventually call done exactly
// once, from any goroutine, unless a later LoadStyle supersedes it.
type Engine interface {
	LoadStyle(ctx context.Context, gen uint64, ref string, done func(error))
	AddSource(src catalog.DataSource) error
	AddClusterOverlay(src catalog.DataSource) error
	AddLayer(layer catalog.Layer) error
	SetPaint(layerID string, paint map[string]any) error
	FitBounds(b orb.Bound, opts FitOptions) error
	JumpTo(cam Camera) error
	Track(cam Camera)
	QueryFeatures(p orb.Point, layerIDs []string) []Feature
	ShowPopup(at orb.Point, html string) error
	HidePopup() error
}

// Options configures a Controller.
type Options struct {
	AccessToken string
	// Post schedules fn on the owning event loop.
	Post   func(fn func())
	Logger zerolog.Logger
	// OnStale is called for every discarded style completion.
	OnStale func()
}

// Controller is the map surface for one session. All methods except the
// engine's done callback run on the owning loop.
type Controller struct {
	engine Engine
	opts   Options
	log    zerolog.Logger

	gen        uint64
	ready      bool
	hitTesting bool
	sources    map[string]bool
	layers     map[string]string // id -> type
	camera     Camera
	hasCenter  bool
	hasZoom    bool

	styleReady  event.Emitter[uint64]
	panSettled  event.Emitter[orb.Point]
	zoomSettled event.Emitter[float64]
	clicked     event.Emitter[orb.Point]
}

// New creates a controller. It fails when no access token is configured.
func New(engine Engine, opts Options) (*Controller, error) {
	if strings.TrimSpace(opts.AccessToken) == "" {
		return nil, ErrMissingAccessToken
	}
	if opts.Post == nil {
		opts.Post = func(fn func()) { fn() }
	}
	return &Controller{
		engine:  engine,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "mapview").Logger(),
		sources: map[string]bool{},
		layers:  map[string]string{},
	}, nil
}

// OnStyleReady registers fn for style load completions of the current generation.
func (c *Controller) OnStyleReady(fn func(gen uint64)) { c.styleReady.Subscribe(fn) }

// OnPanSettled registers fn for camera center changes.
func (c *Controller) OnPanSettled(fn func(center orb.Point)) { c.panSettled.Subscribe(fn) }

// OnZoomSettled registers fn for zoom changes.
func (c *Controller) OnZoomSettled(fn func(zoom float64)) { c.zoomSettled.Subscribe(fn) }

// OnClicked registers fn for clicks while hit-testing is enabled.
func (c *Controller) OnClicked(fn func(p orb.Point)) { c.clicked.Subscribe(fn) }

// SetStyle starts loading ref and returns its generation. Sources, layers
// and hit-testing are cleared until the new style is ready.
func (c *Controller) SetStyle(ctx context.Context, ref string) uint64 {
	c.gen++
	gen := c.gen
	c.ready = false
	c.hitTesting = false
	c.sources = map[string]bool{}
	c.layers = map[string]string{}

	resolved := strings.ReplaceAll(ref, AccessTokenPlaceholder, url.QueryEscape(c.opts.AccessToken))
	c.engine.LoadStyle(ctx, gen, resolved, func(err error) {
		c.opts.Post(func() { c.styleLoaded(gen, err) })
	})
	return gen
}

func (c *Controller) styleLoaded(gen uint64, err error) {
	if gen != c.gen {
		c.log.Debug().Uint64("gen", gen).Uint64("current", c.gen).Msg("discarding stale style load")
		if c.opts.OnStale != nil {
			c.opts.OnStale()
		}
		return
	}
	if err != nil {
		c.log.Error().Err(err).Uint64("gen", gen).Msg("style load failed")
		return
	}
	c.ready = true
	c.styleReady.Emit(gen)
}

// Generation returns the current style generation.
func (c *Controller) Generation() uint64 { return c.gen }

// Ready reports whether the current style finished loading.
func (c *Controller) Ready() bool { return c.ready }

// EnableHitTesting lets clicks through to OnClicked.
func (c *Controller) EnableHitTesting() { c.hitTesting = true }

// AddSource adds a data source to the loaded style.
func (c *Controller) AddSource(src catalog.DataSource) error {
	if !c.ready {
		return ErrStyleNotReady
	}
	if err := c.engine.AddSource(src); err != nil {
		return fmt.Errorf("add source %s: %w", src.Name, err)
	}
	c.sources[src.Name] = true
	return nil
}

// AddClusterOverlay adds the cluster rendering for a point source.
func (c *Controller) AddClusterOverlay(src catalog.DataSource) error {
	if !c.ready {
		return ErrStyleNotReady
	}
	if !c.sources[src.Name] {
		return fmt.Errorf("cluster overlay %s: %w", src.Name, ErrUnknownSource)
	}
	if err := c.engine.AddClusterOverlay(src); err != nil {
		return fmt.Errorf("cluster overlay %s: %w", src.Name, err)
	}
	c.sources[ClusterSourceName(src.Name)] = true
	return nil
}

// HasSource reports whether name was added to the current style.
func (c *Controller) HasSource(name string) bool { return c.sources[name] }

// AddLayer adds a layer whose source is already present.
func (c *Controller) AddLayer(layer catalog.Layer) error {
	if !c.ready {
		return ErrStyleNotReady
	}
	if !c.sources[layer.Source] {
		return fmt.Errorf("layer %s: %w %q", layer.ID, ErrUnknownSource, layer.Source)
	}
	if err := c.engine.AddLayer(layer); err != nil {
		return fmt.Errorf("add layer %s: %w", layer.ID, err)
	}
	c.layers[layer.ID] = layer.Type
	return nil
}

// ApplyStyling applies d to each of layerIDs.
func (c *Controller) ApplyStyling(layerIDs []string, d style.Directive) error {
	if !c.ready {
		return ErrStyleNotReady
	}
	var errs []error
	for _, id := range layerIDs {
		typ, ok := c.layers[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownLayer, id))
			continue
		}
		if err := c.engine.SetPaint(id, d.Paint(typ)); err != nil {
			errs = append(errs, fmt.Errorf("style layer %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SetOpacity sets the opacity paint property of each of layerIDs.
func (c *Controller) SetOpacity(layerIDs []string, level float64) error {
	if !c.ready {
		return ErrStyleNotReady
	}
	var errs []error
	for _, id := range layerIDs {
		typ, ok := c.layers[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownLayer, id))
			continue
		}
		if err := c.engine.SetPaint(id, map[string]any{style.OpacityProperty(typ): level}); err != nil {
			errs = append(errs, fmt.Errorf("opacity layer %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// FitBounds moves the camera to show b.
func (c *Controller) FitBounds(b orb.Bound, opts FitOptions) error {
	return c.engine.FitBounds(b, opts)
}

// JumpTo moves the camera without animation.
func (c *Controller) JumpTo(cam Camera) error {
	c.camera = cam
	c.hasCenter, c.hasZoom = true, true
	c.engine.Track(cam)
	return c.engine.JumpTo(cam)
}

// QueryFeaturesAt hit-tests layerIDs at p, topmost first.
func (c *Controller) QueryFeaturesAt(p orb.Point, layerIDs []string) []Feature {
	return c.engine.QueryFeatures(p, layerIDs)
}

// ShowPopup shows html anchored at p.
func (c *Controller) ShowPopup(p orb.Point, html string) error {
	return c.engine.ShowPopup(p, html)
}

// HidePopup removes any open popup.
func (c *Controller) HidePopup() error {
	return c.engine.HidePopup()
}

// HandleMove records a full camera reported by the surface and raises pan
// and zoom events for the parts that changed.
func (c *Controller) HandleMove(cam Camera) {
	c.HandlePan(cam.Center)
	c.HandleZoom(cam.Zoom)
}

// HandlePan records a settled center and raises a pan event when it
// changed. The zoom is left as it was.
func (c *Controller) HandlePan(center orb.Point) {
	if c.hasCenter && c.camera.Center.Equal(center) {
		return
	}
	c.camera.Center = center
	c.hasCenter = true
	c.track()
	c.panSettled.Emit(center)
}

// HandleZoom records a settled zoom level and raises a zoom event when it
// changed. The center is left as it was.
func (c *Controller) HandleZoom(zoom float64) {
	if c.hasZoom && c.camera.Zoom == zoom {
		return
	}
	c.camera.Zoom = zoom
	c.hasZoom = true
	c.track()
	c.zoomSettled.Emit(zoom)
}

// track hands the camera to the engine once both parts are known.
func (c *Controller) track() {
	if c.hasCenter && c.hasZoom {
		c.engine.Track(c.camera)
	}
}

// HandleClick raises a click when hit-testing is enabled.
func (c *Controller) HandleClick(p orb.Point) {
	if !c.hitTesting {
		return
	}
	c.clicked.Emit(p)
}

// Camera returns the last known camera and whether both its center and
// zoom are known.
func (c *Controller) Camera() (Camera, bool) { return c.camera, c.hasCenter && c.hasZoom }
