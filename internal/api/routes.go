// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/humastar"
	"github.com/joeblew999/geoview/internal/legend"
	"github.com/joeblew999/geoview/internal/search"
	"github.com/joeblew999/geoview/internal/session"
	"github.com/joeblew999/geoview/internal/viewsync"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Types

type IDInput struct {
	ID string `path:"id" doc:"Map ID" example:"income"`
}

type PageInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Page size"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// MapSummary is the list form of a map definition.
type MapSummary struct {
	ID       string `json:"id" doc:"Map ID"`
	Title    string `json:"title" doc:"Display title"`
	Subtitle string `json:"subtitle,omitempty" doc:"Display subtitle"`
	Layers   int    `json:"layers" doc:"Number of layers"`
	Legend   int    `json:"legend" doc:"Number of legend entries"`
	HasTable bool   `json:"hasTable" doc:"Whether the map has a data table"`
}

// APIHandler holds the REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	humastar.Handler
	sessions *session.Manager
	info     InfoBody
	log      zerolog.Logger
}

func NewAPIHandler(sessions *session.Manager, info InfoBody, log zerolog.Logger) *APIHandler {
	if info.Version == "" {
		info.Version = Version
	}
	return &APIHandler{sessions: sessions, info: info, log: log}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterMaps registers catalog routes.
func (h *APIHandler) RegisterMaps(api huma.API) {
	huma.Get(api, "/api/v1/maps", h.GetMaps, huma.OperationTags("maps"))
	huma.Get(api, "/api/v1/maps/{id}", h.GetMap, huma.OperationTags("maps"))
}

// RegisterBookmarks registers bookmark routes.
func (h *APIHandler) RegisterBookmarks(api huma.API) {
	huma.Get(api, "/api/v1/bookmarks", h.GetBookmarks, huma.OperationTags("bookmarks"))
}

// RegisterSearch registers the typeahead route.
func (h *APIHandler) RegisterSearch(api huma.API) {
	huma.Get(api, humastar.SearchPath, h.Search, huma.OperationTags("search"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: h.info.Version}}, nil
}

func (h *APIHandler) GetMaps(ctx context.Context, input *PageInput) (*struct {
	Body humastar.PageBody[MapSummary]
}, error) {
	defs := h.sessions.Catalog().List()
	all := make([]MapSummary, 0, len(defs))
	for _, d := range defs {
		all = append(all, MapSummary{
			ID:       d.ID,
			Title:    d.Title,
			Subtitle: d.Subtitle,
			Layers:   len(d.Layers),
			Legend:   len(d.Legend.Entries),
			HasTable: d.TableURL != "",
		})
	}
	return &struct {
		Body humastar.PageBody[MapSummary]
	}{Body: humastar.Page(all, input.Offset, input.Limit)}, nil
}

func (h *APIHandler) GetMap(ctx context.Context, input *IDInput) (*struct{ Body catalog.MapDefinition }, error) {
	def, ok := h.sessions.Catalog().Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("map not found")
	}
	return &struct{ Body catalog.MapDefinition }{Body: *def}, nil
}

func (h *APIHandler) GetBookmarks(ctx context.Context, input *struct{}) (*struct{ Body []catalog.Bookmark }, error) {
	bms := h.sessions.Bookmarks()
	if bms == nil {
		bms = []catalog.Bookmark{}
	}
	return &struct{ Body []catalog.Bookmark }{Body: bms}, nil
}

type SearchInput struct {
	Q string `query:"q" doc:"Typeahead query" example:"mont"`
	PageInput
}

func (h *APIHandler) Search(ctx context.Context, input *SearchInput) (*struct {
	Body humastar.PageBody[search.Item]
}, error) {
	all := h.sessions.Search().Suggest(input.Q, 0)
	return &struct {
		Body humastar.PageBody[search.Item]
	}{Body: humastar.Page(all, input.Offset, input.Limit)}, nil
}

// problem maps domain errors to HTTP errors.
func problem(err error) error {
	var se huma.StatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return err
	case errors.Is(err, session.ErrNotFound):
		return huma.Error404NotFound("session not found", err)
	case errors.Is(err, catalog.ErrUnknownMap),
		errors.Is(err, legend.ErrUnknownEntry),
		errors.Is(err, search.ErrUnknownItem),
		errors.Is(err, viewsync.ErrUnknownBookmark):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, session.ErrNoMap):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, viewsync.ErrLoopStopped):
		return huma.NewError(http.StatusGone, "session closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request cancelled", err)
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
