package session

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/event"
	"github.com/joeblew999/geoview/internal/legend"
	"github.com/joeblew999/geoview/internal/locale"
	"github.com/joeblew999/geoview/internal/table"
	"github.com/joeblew999/geoview/internal/templates"
	"github.com/joeblew999/geoview/internal/ui"
)

// publisher renders fragments and publishes them to the session bus.
type publisher struct {
	bus      *event.Bus[Frame]
	renderer *templates.Renderer
	log      zerolog.Logger
	onDrop   func(int)
}

func (p *publisher) publish(f Frame) {
	if n := p.bus.Publish(f); n > 0 && p.onDrop != nil {
		p.onDrop(n)
	}
}

func (p *publisher) render(selector, name string, data any) {
	html, err := p.renderer.Render(name, data)
	if err != nil {
		p.log.Error().Err(err).Str("template", name).Msg("render fragment")
		return
	}
	p.publish(elements(selector, html))
}

// tableWidget renders the data table. It keeps the last view so a fresh
// SSE subscriber can be brought up to date.
type tableWidget struct {
	pub  *publisher
	loc  *locale.Locale
	view tableView
}

type tableView struct {
	State   string
	Message string
	Columns []string
	Rows    []table.Row
	Key     string
	Focus   string
}

func (w *tableWidget) Loading(string) {
	w.view = tableView{State: "loading", Message: w.loc.T(locale.TableLoading)}
	w.flush()
}

func (w *tableWidget) Bind(ds table.Dataset) {
	w.view = tableView{State: "loaded", Columns: ds.Columns, Rows: ds.Rows, Message: w.loc.T(locale.TableEmpty)}
	w.flush()
}

func (w *tableWidget) Failed(string, error) {
	w.view = tableView{State: "failed", Message: w.loc.T(locale.TableFailed)}
	w.flush()
}

func (w *tableWidget) Focus(key, value string) {
	w.view.Key, w.view.Focus = key, value
	w.flush()
	w.pub.publish(signals(map[string]any{"focusedRow": value}))
}

func (w *tableWidget) flush() {
	w.pub.render("#data-table", "table", w.view)
}

func (w *tableWidget) frame() (Frame, error) {
	html, err := w.pub.renderer.Render("table", w.view)
	if err != nil {
		return Frame{}, err
	}
	return elements("#data-table", html), nil
}

// surface is the page chrome: title, legend panel, menus.
type surface struct {
	pub       *publisher
	loc       *locale.Locale
	base      string
	maps      []*catalog.MapDefinition
	bookmarks []catalog.Bookmark
	legend    *legend.Snapshot
	title     map[string]string
}

type panelItem struct {
	Label  string
	Action string
}

type panelView struct {
	Kind  string
	Title string
	Items []panelItem
}

func (s *surface) Dispatch(cmd ui.Command) {
	switch cmd.Kind {
	case ui.ShowTitle:
		if t, ok := cmd.Data.(map[string]string); ok {
			s.title = t
		}
		s.pub.publish(signals(map[string]any{"title": s.title["title"], "subtitle": s.title["subtitle"]}))
	case ui.ShowLegend:
		snap, ok := cmd.Data.(legend.Snapshot)
		if !ok {
			return
		}
		s.legend = &snap
		s.pub.render("#legend", "legend", s.legendView())
	case ui.OpenMaps:
		items := make([]panelItem, 0, len(s.maps))
		for _, m := range s.maps {
			items = append(items, panelItem{Label: m.Title, Action: fmt.Sprintf("%s/map/%s", s.base, m.ID)})
		}
		s.pub.render("#panel", "panel", panelView{Kind: "maps", Title: s.loc.T(locale.MenuMaps), Items: items})
	case ui.OpenBookmarks:
		items := make([]panelItem, 0, len(s.bookmarks))
		for _, b := range s.bookmarks {
			items = append(items, panelItem{Label: b.Label, Action: fmt.Sprintf("%s/bookmark/%s", s.base, b.ID)})
		}
		s.pub.render("#panel", "panel", panelView{Kind: "bookmarks", Title: s.loc.T(locale.MenuBooks), Items: items})
	case ui.OpenHelp:
		s.pub.publish(signals(map[string]any{"help": true}))
	}
}

func (s *surface) legendView() map[string]any {
	return map[string]any{"MapID": s.legend.MapID, "Entries": s.legend.Entries, "Base": s.base}
}

func (s *surface) frames() []Frame {
	var out []Frame
	if s.title != nil {
		out = append(out, signals(map[string]any{"title": s.title["title"], "subtitle": s.title["subtitle"]}))
	}
	if s.legend != nil {
		if html, err := s.pub.renderer.Render("legend", s.legendView()); err == nil {
			out = append(out, elements("#legend", html))
		}
	}
	return out
}
