// Package geoengine is the in-process render engine behind a browser map.
// It keeps the GeoJSON sources and layers of the loaded style so features
// can be hit-tested on the server, and forwards every render change as a
// Command to a Sink (normally the session's SSE stream).
package geoengine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/mapview"
)

// Command operations.
const (
	OpSetStyle          = "setStyle"
	OpAddSource         = "addSource"
	OpAddClusterOverlay = "addClusterOverlay"
	OpAddLayer          = "addLayer"
	OpSetPaint          = "setPaint"
	OpFitBounds         = "fitBounds"
	OpJumpTo            = "jumpTo"
	OpShowPopup         = "showPopup"
	OpHidePopup         = "hidePopup"
)

// ErrUnknownGeneration is returned by Acknowledge for a generation that has
// no pending load.
var ErrUnknownGeneration = errors.New("no pending style load for generation")

// Command is one render instruction for the browser map.
type Command struct {
	Op   string `json:"op"`
	Gen  uint64 `json:"gen,omitempty"`
	Args any    `json:"args,omitempty"`
}

// Sink receives commands.
type Sink interface {
	Send(cmd Command)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Command)

// Send implements Sink.
func (f SinkFunc) Send(cmd Command) { f(cmd) }

// Options configures an Engine.
type Options struct {
	// AutoAcknowledge completes style loads immediately, for sessions with
	// no browser attached.
	AutoAcknowledge bool
	// TolerancePx is the click radius for point and line features.
	TolerancePx float64
	// ClusterZoom is the grid zoom used for cluster overlays.
	ClusterZoom int
}

type source struct {
	def     catalog.DataSource
	fc      *geojson.FeatureCollection
	overlay bool // cluster overlay of def
}

type layer struct {
	def   catalog.Layer
	paint map[string]any
}

type popup struct {
	At   orb.Point `json:"at"`
	HTML string    `json:"html"`
}

// Engine implements mapview.Engine.
type Engine struct {
	mu      sync.Mutex
	sink    Sink
	opts    Options
	gen     uint64
	style   string
	pending map[uint64]func(error)
	sources map[string]*source
	order   []string // source names in add order
	layers  []*layer // bottom to top
	camera  *mapview.Camera
	popup   *popup
}

// New creates an engine that writes to sink.
func New(sink Sink, opts Options) *Engine {
	if opts.TolerancePx <= 0 {
		opts.TolerancePx = 6
	}
	if opts.ClusterZoom <= 0 {
		opts.ClusterZoom = 8
	}
	return &Engine{
		sink:    sink,
		opts:    opts,
		pending: map[uint64]func(error){},
		sources: map[string]*source{},
	}
}

// LoadStyle resets the surface and asks the browser to load ref. done runs
// when Acknowledge reports the generation loaded.
func (e *Engine) LoadStyle(ctx context.Context, gen uint64, ref string, done func(error)) {
	e.mu.Lock()
	e.gen = gen
	e.style = ref
	e.sources = map[string]*source{}
	e.order = nil
	e.layers = nil
	e.popup = nil
	// superseded loads never complete
	e.pending = map[uint64]func(error){gen: done}
	e.mu.Unlock()

	e.sink.Send(Command{Op: OpSetStyle, Gen: gen, Args: map[string]any{"style": ref}})

	if e.opts.AutoAcknowledge {
		go func() {
			if err := ctx.Err(); err != nil {
				_ = e.Acknowledge(gen, err)
				return
			}
			_ = e.Acknowledge(gen, nil)
		}()
	}
}

// Acknowledge completes the style load of gen with loadErr.
func (e *Engine) Acknowledge(gen uint64, loadErr error) error {
	e.mu.Lock()
	done, ok := e.pending[gen]
	delete(e.pending, gen)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownGeneration, gen)
	}
	done(loadErr)
	return nil
}

// Generation returns the generation of the last requested style.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// AddSource registers src. Sources with a URL are fetched by the browser;
// only inline data is hit-tested.
func (e *Engine) AddSource(src catalog.DataSource) error {
	fc := src.Data
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	e.mu.Lock()
	if _, dup := e.sources[src.Name]; dup {
		e.mu.Unlock()
		return fmt.Errorf("source %q already added", src.Name)
	}
	e.sources[src.Name] = &source{def: src, fc: fc}
	e.order = append(e.order, src.Name)
	e.mu.Unlock()

	e.sink.Send(sourceCommand(src, fc))
	return nil
}

// AddClusterOverlay aggregates the point features of a source on a tile
// grid and adds the result as its own source.
func (e *Engine) AddClusterOverlay(src catalog.DataSource) error {
	e.mu.Lock()
	s, ok := e.sources[src.Name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w %q", mapview.ErrUnknownSource, src.Name)
	}
	name := mapview.ClusterSourceName(src.Name)
	clusters := Cluster(s.fc, e.opts.ClusterZoom)
	e.sources[name] = &source{def: src, fc: clusters, overlay: true}
	e.order = append(e.order, name)
	e.mu.Unlock()

	e.sink.Send(clusterCommand(src, clusters))
	return nil
}

// AddLayer stacks layer on top of the existing ones.
func (e *Engine) AddLayer(l catalog.Layer) error {
	e.mu.Lock()
	if _, ok := e.sources[l.Source]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w %q", mapview.ErrUnknownSource, l.Source)
	}
	for _, existing := range e.layers {
		if existing.def.ID == l.ID {
			e.mu.Unlock()
			return fmt.Errorf("layer %q already added", l.ID)
		}
	}
	e.layers = append(e.layers, &layer{def: l, paint: maps.Clone(l.Paint)})
	e.mu.Unlock()

	e.sink.Send(Command{Op: OpAddLayer, Args: l})
	return nil
}

// SetPaint merges paint into the layer's paint properties.
func (e *Engine) SetPaint(layerID string, paint map[string]any) error {
	e.mu.Lock()
	l := e.findLayer(layerID)
	if l == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", mapview.ErrUnknownLayer, layerID)
	}
	if l.paint == nil {
		l.paint = map[string]any{}
	}
	maps.Copy(l.paint, paint)
	e.mu.Unlock()

	e.sink.Send(Command{Op: OpSetPaint, Args: map[string]any{"layer": layerID, "paint": paint}})
	return nil
}

// Paint returns a copy of the current paint of a layer.
func (e *Engine) Paint(layerID string) (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.findLayer(layerID)
	if l == nil {
		return nil, false
	}
	return maps.Clone(l.paint), true
}

// FitBounds asks the browser to show b.
func (e *Engine) FitBounds(b orb.Bound, opts mapview.FitOptions) error {
	e.mu.Lock()
	e.camera = &mapview.Camera{Center: b.Center(), Zoom: zoomForBound(b)}
	e.mu.Unlock()

	e.sink.Send(Command{Op: OpFitBounds, Args: map[string]any{
		"bounds":  [2][2]float64{{b.Min.Lon(), b.Min.Lat()}, {b.Max.Lon(), b.Max.Lat()}},
		"options": opts,
	}})
	return nil
}

// JumpTo asks the browser to move the camera.
func (e *Engine) JumpTo(cam mapview.Camera) error {
	e.Track(cam)
	e.sink.Send(Command{Op: OpJumpTo, Args: cam})
	return nil
}

// Track records the camera without sending anything.
func (e *Engine) Track(cam mapview.Camera) {
	e.mu.Lock()
	e.camera = &cam
	e.mu.Unlock()
}

// ShowPopup opens a popup at p.
func (e *Engine) ShowPopup(at orb.Point, html string) error {
	p := &popup{At: at, HTML: html}
	e.mu.Lock()
	e.popup = p
	e.mu.Unlock()

	e.sink.Send(Command{Op: OpShowPopup, Args: p})
	return nil
}

// HidePopup closes the popup.
func (e *Engine) HidePopup() error {
	e.mu.Lock()
	e.popup = nil
	e.mu.Unlock()

	e.sink.Send(Command{Op: OpHidePopup})
	return nil
}

// Snapshot returns the commands that rebuild the current surface on a
// freshly connected browser.
func (e *Engine) Snapshot() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.style == "" {
		return nil
	}
	cmds := []Command{{Op: OpSetStyle, Gen: e.gen, Args: map[string]any{"style": e.style}}}
	for _, name := range e.order {
		s := e.sources[name]
		if s.overlay {
			cmds = append(cmds, clusterCommand(s.def, s.fc))
			continue
		}
		cmds = append(cmds, sourceCommand(s.def, s.fc))
	}
	for _, l := range e.layers {
		def := l.def
		def.Paint = maps.Clone(l.paint)
		cmds = append(cmds, Command{Op: OpAddLayer, Args: def})
	}
	if e.camera != nil {
		cmds = append(cmds, Command{Op: OpJumpTo, Args: *e.camera})
	}
	if e.popup != nil {
		p := *e.popup
		cmds = append(cmds, Command{Op: OpShowPopup, Args: &p})
	}
	return cmds
}

func (e *Engine) findLayer(id string) *layer {
	for _, l := range e.layers {
		if l.def.ID == id {
			return l
		}
	}
	return nil
}

func sourceCommand(src catalog.DataSource, fc *geojson.FeatureCollection) Command {
	args := map[string]any{"name": src.Name}
	if src.URL != "" {
		args["url"] = src.URL
	} else {
		args["data"] = fc
	}
	return Command{Op: OpAddSource, Args: args}
}

func clusterCommand(src catalog.DataSource, clusters *geojson.FeatureCollection) Command {
	return Command{Op: OpAddClusterOverlay, Args: map[string]any{
		"source": src.Name,
		"name":   mapview.ClusterSourceName(src.Name),
		"radius": src.ClusterRadius,
		"data":   clusters,
	}}
}

var _ mapview.Engine = (*Engine)(nil)
