package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterInfo registers the service info route.
func (h *APIHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	DataDir    string   `json:"data_dir" doc:"Data directory path"`
	Store      string   `json:"store" doc:"View state store backend"`
	LiveMap    bool     `json:"live_map" doc:"Whether a map access token is configured"`
	Maps       int      `json:"maps" doc:"Number of configured maps"`
	Searchable int      `json:"searchable" doc:"Number of searchable units"`
	Sessions   int      `json:"sessions" doc:"Live view sessions"`
	Features   []string `json:"features" doc:"Available features"`
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	info := h.info
	if info.Name == "" {
		info.Name = "geoview"
	}
	info.Maps = h.sessions.Catalog().Len()
	info.Searchable = h.sessions.Search().Len()
	info.Sessions = h.sessions.Len()
	if info.Features == nil {
		info.Features = []string{"legend", "search", "table", "popup", "bookmarks", "sse"}
	}
	return &struct{ Body InfoBody }{Body: info}, nil
}
