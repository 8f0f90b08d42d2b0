// Package session owns the per-browser view sessions. A session bundles
// one view controller with its event loop, render engine, widgets and SSE
// frame bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/event"
	"github.com/joeblew999/geoview/internal/legend"
	"github.com/joeblew999/geoview/internal/locale"
	"github.com/joeblew999/geoview/internal/mapview"
	"github.com/joeblew999/geoview/internal/mapview/geoengine"
	"github.com/joeblew999/geoview/internal/popup"
	"github.com/joeblew999/geoview/internal/search"
	"github.com/joeblew999/geoview/internal/store"
	"github.com/joeblew999/geoview/internal/table"
	"github.com/joeblew999/geoview/internal/ui"
	"github.com/joeblew999/geoview/internal/viewstate"
	"github.com/joeblew999/geoview/internal/viewsync"
)

// ErrNoMap is returned by map interactions of a session running without a
// live map.
var ErrNoMap = errors.New("session has no live map")

// Session is one browser's view.
type Session struct {
	ID     string
	Locale *locale.Locale

	log      zerolog.Logger
	loop     *viewsync.Loop
	ctl      *viewsync.Controller
	engine   *geoengine.Engine
	mapCtl   *mapview.Controller
	legend   *legend.Controller
	search   *search.Control
	state    *viewstate.Persisted
	bus      *event.Bus[Frame]
	table    *tableWidget
	surface  *surface
	cancel   context.CancelFunc
	lastSeen atomic.Int64
	mapSeq   atomic.Uint64
}

// State is a point-in-time view of a session.
type State struct {
	ID         string              `json:"id"`
	MapID      string              `json:"mapId"`
	Generation uint64              `json:"generation"`
	View       viewstate.ViewState `json:"view"`
	Legend     legend.Snapshot     `json:"legend"`
	Selection  *search.Item        `json:"selection,omitempty"`
	MapReady   bool                `json:"mapReady"`
	LiveMap    bool                `json:"liveMap"`
}

func newSession(ctx context.Context, id string, cfg *Config, acceptLanguage string) (*Session, error) {
	log := cfg.Logger.With().Str("session", id).Logger()
	loc := cfg.Locale
	if acceptLanguage != "" {
		loc = locale.New(acceptLanguage)
	}

	st, err := viewstate.Load(ctx, store.Prefixed(cfg.Store, id+":"), viewstate.ViewState{})
	if err != nil {
		// unreadable values fall back to defaults
		log.Warn().Err(err).Msg("load view state")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     id,
		Locale: loc,
		log:    log,
		loop:   viewsync.NewLoop(log),
		legend: legend.New(),
		search: search.NewControl(cfg.Search),
		state:  st,
		bus:    event.NewBus[Frame](64),
		cancel: cancel,
	}
	s.touch()

	pub := &publisher{bus: s.bus, renderer: cfg.Renderer, log: log, onDrop: cfg.Metrics.AddDroppedFrames}
	base := "/api/v1/sessions/" + id
	s.table = &tableWidget{pub: pub, loc: loc}
	s.surface = &surface{
		pub:       pub,
		loc:       loc,
		base:      base,
		maps:      cfg.Catalog.List(),
		bookmarks: cfg.Bookmarks,
	}

	s.engine = geoengine.New(geoengine.SinkFunc(func(cmd geoengine.Command) {
		pub.publish(s.mapFrame(cmd))
	}), geoengine.Options{AutoAcknowledge: cfg.Headless})

	mc, err := mapview.New(s.engine, mapview.Options{
		AccessToken: cfg.AccessToken,
		Post:        s.loop.Post,
		Logger:      log,
		OnStale:     func() { cfg.Metrics.IncStale("style") },
	})
	if err != nil {
		log.Error().Err(err).Msg("map unavailable, continuing without a live map")
	}
	s.mapCtl = mc

	binding := table.NewBinding(cfg.Fetcher, s.table, s.loop.Post, cfg.Highlight.Field)

	s.ctl = viewsync.New(viewsync.Deps{
		Ctx:       runCtx,
		Catalog:   cfg.Catalog,
		State:     st,
		Map:       mc,
		Legend:    s.legend,
		Table:     binding,
		Search:    s.search,
		Popup:     &popup.Formatter{Locale: loc, Renderer: cfg.Renderer},
		UI:        s.surface,
		Highlight: cfg.Highlight,
		Bookmarks: cfg.Bookmarks,
		Metrics:   cfg.Metrics,
		Logger:    log,
	})

	go s.loop.Run(runCtx)
	if err := s.loop.Do(ctx, s.ctl.Start); err != nil {
		cancel()
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}
	return s, nil
}

// Close stops the session loop.
func (s *Session) Close() {
	s.cancel()
}

// Done is closed once the session loop exited.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last interaction.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	s.touch()
	return s.loop.Do(ctx, fn)
}

// SelectMap switches the active map.
func (s *Session) SelectMap(ctx context.Context, id string) error {
	return s.do(ctx, func() error { return s.ctl.OnMapSelected(id) })
}

// ToggleLegend flips one legend entry.
func (s *Session) ToggleLegend(ctx context.Context, entry string) error {
	return s.do(ctx, func() error { return s.legend.Toggle(entry) })
}

// SetLegend enables or disables every legend entry.
func (s *Session) SetLegend(ctx context.Context, enabled bool) error {
	return s.do(ctx, func() error {
		s.legend.SetAll(enabled)
		return nil
	})
}

// SetOpacity changes the global layer opacity.
func (s *Session) SetOpacity(ctx context.Context, level float64) error {
	return s.do(ctx, func() error {
		s.ctl.OnOpacityChanged(level)
		return nil
	})
}

// SelectSearch picks a search item by id.
func (s *Session) SelectSearch(ctx context.Context, itemID string) (search.Item, error) {
	var item search.Item
	err := s.do(ctx, func() error {
		var err error
		item, err = s.search.Select(itemID)
		return err
	})
	return item, err
}

// Pan reports a settled camera center.
func (s *Session) Pan(ctx context.Context, center orb.Point) error {
	return s.do(ctx, func() error {
		if s.mapCtl == nil {
			return ErrNoMap
		}
		s.mapCtl.HandlePan(center)
		return nil
	})
}

// Zoom reports a settled zoom level.
func (s *Session) Zoom(ctx context.Context, level float64) error {
	return s.do(ctx, func() error {
		if s.mapCtl == nil {
			return ErrNoMap
		}
		s.mapCtl.HandleZoom(level)
		return nil
	})
}

// Click reports a map click.
func (s *Session) Click(ctx context.Context, p orb.Point) error {
	return s.do(ctx, func() error {
		if s.mapCtl == nil {
			return ErrNoMap
		}
		s.mapCtl.HandleClick(p)
		return nil
	})
}

// Menu handles a menu button.
func (s *Session) Menu(ctx context.Context, b ui.Button) error {
	return s.do(ctx, func() error { return s.ctl.OnMenu(b) })
}

// Bookmark jumps to a bookmark.
func (s *Session) Bookmark(ctx context.Context, id string) error {
	return s.do(ctx, func() error { return s.ctl.OnBookmarkSelected(id) })
}

// StyleLoaded is the browser's report that the style of gen finished
// loading, or failed with loadErr.
func (s *Session) StyleLoaded(gen uint64, loadErr error) error {
	s.touch()
	err := s.engine.Acknowledge(gen, loadErr)
	if errors.Is(err, geoengine.ErrUnknownGeneration) {
		// a replayed or superseded load
		s.log.Debug().Uint64("gen", gen).Msg("ignoring style acknowledgement")
		return nil
	}
	return err
}

// State returns the current session state.
func (s *Session) State(ctx context.Context) (State, error) {
	var out State
	err := s.do(ctx, func() error {
		out = State{
			ID:         s.ID,
			Generation: s.ctl.Generation(),
			View:       s.state.State(),
			Legend:     s.legend.Snapshot(),
			LiveMap:    s.mapCtl != nil,
		}
		if cur := s.ctl.Current(); cur != nil {
			out.MapID = cur.ID
		}
		if item, ok := s.ctl.Selection(); ok {
			out.Selection = &item
		}
		if s.mapCtl != nil {
			out.MapReady = s.mapCtl.Ready()
		}
		return nil
	})
	return out, err
}

// Subscribe returns a frame channel plus the frames that bring a new
// subscriber up to date. The snapshot is taken on the loop so no frame is
// lost or duplicated between the two.
//
// A new subscriber is a browser map without any style, so the current
// style is loaded again under a new generation: the replay carries only the
// setStyle and camera, and sources and layers follow on the channel once
// that generation is acknowledged. Other subscribers redraw as well.
func (s *Session) Subscribe(ctx context.Context) (chan Frame, []Frame, error) {
	var ch chan Frame
	var replay []Frame
	err := s.do(ctx, func() error {
		if s.mapCtl != nil {
			s.ctl.Redraw()
		}
		ch = s.bus.Subscribe()
		for _, cmd := range s.engine.Snapshot() {
			replay = append(replay, s.mapFrame(cmd))
		}
		replay = append(replay, s.surface.frames()...)
		if f, err := s.table.frame(); err == nil {
			replay = append(replay, f)
		}
		return nil
	})
	return ch, replay, err
}

// mapFrame wraps a render command. The sequence number lets the page tell
// consecutive commands apart even when they are equal.
func (s *Session) mapFrame(cmd geoengine.Command) Frame {
	return signals(map[string]any{"mapCommand": cmd, "mapSeq": s.mapSeq.Add(1)})
}

// Unsubscribe releases a channel from Subscribe.
func (s *Session) Unsubscribe(ch chan Frame) {
	s.bus.Unsubscribe(ch)
}

// Suggest answers a typeahead query and pushes the suggestion list to the
// page.
func (s *Session) Suggest(query string, limit int) []search.Item {
	s.touch()
	items := s.search.Suggest(query, limit)
	s.surface.pub.render("#search-suggestions", "suggestions", map[string]any{"Items": items, "Base": s.surface.base})
	return items
}
