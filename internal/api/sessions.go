package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/geoview/internal/humastar"
	"github.com/joeblew999/geoview/internal/session"
	"github.com/joeblew999/geoview/internal/ui"
)

const sessionsPath = "/api/v1/sessions"

// sessionActions are advertised as Link headers on the session state.
var sessionActions = []humastar.ActionDef{
	{Rel: "events", Pattern: sessionsPath + "/%s/events", Method: http.MethodGet, Title: "Render stream"},
	{Rel: "opacity", Pattern: sessionsPath + "/%s/opacity", Method: http.MethodPost, Title: "Set layer opacity"},
	{Rel: "legend", Pattern: sessionsPath + "/%s/legend", Method: http.MethodPost, Title: "Enable or disable all legend entries"},
	{Rel: "pan", Pattern: sessionsPath + "/%s/pan", Method: http.MethodPost, Title: "Report camera center"},
	{Rel: "zoom", Pattern: sessionsPath + "/%s/zoom", Method: http.MethodPost, Title: "Report zoom level"},
	{Rel: "click", Pattern: sessionsPath + "/%s/click", Method: http.MethodPost, Title: "Report map click"},
	{Rel: "suggest", Pattern: sessionsPath + "/%s/suggest", Method: http.MethodGet, Title: "Typeahead suggestions"},
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type CreateSessionInput struct {
	ID             string `query:"id" doc:"Resume this session ID instead of creating a random one"`
	AcceptLanguage string `header:"Accept-Language" doc:"Preferred languages for labels and numbers"`
}

type CreatedSessionBody struct {
	ID     string `json:"id" doc:"Session ID"`
	Events string `json:"events" doc:"SSE stream URL"`
}

// StateBody is the session state plus its state-dependent actions.
type StateBody struct {
	session.State
}

// Actions implements humastar.Actor.
func (b StateBody) Actions() []humastar.Action {
	acts := humastar.ActionsFor(b.ID, sessionActions)
	for _, e := range b.Legend.Entries {
		acts = append(acts, humastar.Action{
			Rel:    "toggle-legend",
			Href:   fmt.Sprintf("%s/%s/legend/%s", sessionsPath, b.ID, e.ID),
			Method: http.MethodPost,
			Title:  e.Label,
		})
	}
	return acts
}

type PathArgInput struct {
	ID  string `path:"id" doc:"Session ID"`
	Arg string `path:"arg" doc:"Map, legend entry, search item, menu button or bookmark ID"`
}

type SignalsActionInput struct {
	ID      string `path:"id" doc:"Session ID"`
	RawBody []byte `contentType:"application/json"`
}

type SuggestInput struct {
	ID    string `path:"id" doc:"Session ID"`
	Q     string `query:"q" doc:"Typeahead query"`
	Limit int    `query:"limit" minimum:"1" maximum:"50" default:"8"`
}

// RegisterSessions registers the view session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Post(api, sessionsPath, h.CreateSession, tags, func(o *huma.Operation) {
		o.DefaultStatus = http.StatusCreated
	})
	huma.Get(api, sessionsPath+"/{id}/state", h.GetState, tags)
	huma.Delete(api, sessionsPath+"/{id}", h.DeleteSession, tags)
	huma.Get(api, sessionsPath+"/{id}/events", h.Events, tags)
	huma.Get(api, sessionsPath+"/{id}/suggest", h.Suggest, tags)

	huma.Post(api, sessionsPath+"/{id}/map/{arg}", h.pathAction(func(ctx context.Context, s *session.Session, id string) error {
		return s.SelectMap(ctx, id)
	}), tags, opID("select-map"))
	huma.Post(api, sessionsPath+"/{id}/legend/{arg}", h.pathAction(func(ctx context.Context, s *session.Session, id string) error {
		return s.ToggleLegend(ctx, id)
	}), tags, opID("toggle-legend"))
	huma.Post(api, sessionsPath+"/{id}/search/{arg}", h.pathAction(func(ctx context.Context, s *session.Session, id string) error {
		_, err := s.SelectSearch(ctx, id)
		return err
	}), tags, opID("select-search"))
	huma.Post(api, sessionsPath+"/{id}/menu/{arg}", h.pathAction(func(ctx context.Context, s *session.Session, name string) error {
		b, err := ui.ParseButton(name)
		if err != nil {
			return huma.Error400BadRequest(err.Error())
		}
		return s.Menu(ctx, b)
	}), tags, opID("menu"))
	huma.Post(api, sessionsPath+"/{id}/bookmark/{arg}", h.pathAction(func(ctx context.Context, s *session.Session, id string) error {
		return s.Bookmark(ctx, id)
	}), tags, opID("select-bookmark"))

	huma.Post(api, sessionsPath+"/{id}/legend", h.signalsAction(func(ctx context.Context, s *session.Session, sig humastar.Signals) error {
		if !sig.Has("enabled") {
			return huma.Error422UnprocessableEntity("signal enabled is required")
		}
		return s.SetLegend(ctx, sig.Bool("enabled"))
	}), tags, opID("set-legend"))
	huma.Post(api, sessionsPath+"/{id}/opacity", h.signalsAction(func(ctx context.Context, s *session.Session, sig humastar.Signals) error {
		v, ok := sig.Float("opacity")
		if !ok {
			return huma.Error422UnprocessableEntity("signal opacity must be a number")
		}
		return s.SetOpacity(ctx, v)
	}), tags, opID("set-opacity"))
	huma.Post(api, sessionsPath+"/{id}/pan", h.signalsAction(func(ctx context.Context, s *session.Session, sig humastar.Signals) error {
		p, err := point(sig)
		if err != nil {
			return err
		}
		return s.Pan(ctx, p)
	}), tags, opID("pan"))
	huma.Post(api, sessionsPath+"/{id}/zoom", h.signalsAction(func(ctx context.Context, s *session.Session, sig humastar.Signals) error {
		z, ok := sig.Float("zoom")
		if !ok {
			return huma.Error422UnprocessableEntity("signal zoom must be a number")
		}
		return s.Zoom(ctx, z)
	}), tags, opID("zoom"))
	huma.Post(api, sessionsPath+"/{id}/click", h.signalsAction(func(ctx context.Context, s *session.Session, sig humastar.Signals) error {
		p, err := point(sig)
		if err != nil {
			return err
		}
		return s.Click(ctx, p)
	}), tags, opID("click"))
	huma.Post(api, sessionsPath+"/{id}/style-ready", h.signalsAction(func(ctx context.Context, s *session.Session, sig humastar.Signals) error {
		gen, ok := sig.Float("gen")
		if !ok || gen < 0 {
			return huma.Error422UnprocessableEntity("signal gen must be a style generation")
		}
		var loadErr error
		if msg := sig.String("error"); msg != "" {
			loadErr = errors.New(msg)
		}
		return s.StyleLoaded(uint64(gen), loadErr)
	}), tags, opID("style-ready"))
}

func (h *APIHandler) CreateSession(ctx context.Context, input *CreateSessionInput) (*struct {
	Location string `header:"Location"`
	Body     CreatedSessionBody
}, error) {
	s, err := h.sessions.Create(ctx, input.ID, input.AcceptLanguage)
	if err != nil {
		return nil, problem(err)
	}
	out := &struct {
		Location string `header:"Location"`
		Body     CreatedSessionBody
	}{Location: fmt.Sprintf("%s/%s/state", sessionsPath, s.ID)}
	out.Body = CreatedSessionBody{ID: s.ID, Events: fmt.Sprintf("%s/%s/events", sessionsPath, s.ID)}
	return out, nil
}

func (h *APIHandler) GetState(ctx context.Context, input *SessionInput) (*struct{ Body StateBody }, error) {
	s, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, problem(err)
	}
	st, err := s.State(ctx)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body StateBody }{Body: StateBody{st}}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if err := h.sessions.Close(input.ID); err != nil {
		return nil, problem(err)
	}
	return &struct{}{}, nil
}

type Suggestion struct {
	ID    string `json:"id" doc:"Search item ID"`
	Label string `json:"label" doc:"Display label"`
}

// Suggest answers a typeahead query and pushes the suggestion list to the
// session's event stream.
func (h *APIHandler) Suggest(ctx context.Context, input *SuggestInput) (*struct{ Body []Suggestion }, error) {
	s, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, problem(err)
	}
	items := s.Suggest(input.Q, input.Limit)
	out := make([]Suggestion, 0, len(items))
	for _, it := range items {
		out = append(out, Suggestion{ID: it.ID, Label: it.Label})
	}
	return &struct{ Body []Suggestion }{Body: out}, nil
}

func (h *APIHandler) pathAction(fn func(ctx context.Context, s *session.Session, arg string) error) func(context.Context, *PathArgInput) (*struct{}, error) {
	return func(ctx context.Context, input *PathArgInput) (*struct{}, error) {
		s, err := h.sessions.Get(input.ID)
		if err != nil {
			return nil, problem(err)
		}
		if err := fn(ctx, s, input.Arg); err != nil {
			return nil, problem(err)
		}
		return &struct{}{}, nil
	}
}

func (h *APIHandler) signalsAction(fn func(ctx context.Context, s *session.Session, sig humastar.Signals) error) func(context.Context, *SignalsActionInput) (*struct{}, error) {
	return func(ctx context.Context, input *SignalsActionInput) (*struct{}, error) {
		s, err := h.sessions.Get(input.ID)
		if err != nil {
			return nil, problem(err)
		}
		sig, err := humastar.ParseSignals(input.RawBody)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
		}
		if err := fn(ctx, s, sig); err != nil {
			return nil, problem(err)
		}
		return &struct{}{}, nil
	}
}

func opID(id string) func(*huma.Operation) {
	return func(o *huma.Operation) { o.OperationID = id }
}

func point(sig humastar.Signals) (orb.Point, error) {
	lng, okLng := sig.Float("lng")
	lat, okLat := sig.Float("lat")
	if !okLng || !okLat {
		return orb.Point{}, huma.Error422UnprocessableEntity("signals lng and lat must be numbers")
	}
	return orb.Point{lng, lat}, nil
}

// Events streams the session's render commands and fragments.
func (h *APIHandler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	s, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return h.Stream(func(sse humastar.SSE) {
		ch, replay, err := s.Subscribe(ctx)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		defer s.Unsubscribe(ch)

		for _, f := range replay {
			if err := send(sse, f); err != nil {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.Done():
				return
			case f, ok := <-ch:
				if !ok {
					return
				}
				if err := send(sse, f); err != nil {
					h.log.Debug().Err(err).Str("session", s.ID).Msg("event stream closed")
					return
				}
			}
		}
	}), nil
}

func send(sse humastar.SSE, f session.Frame) error {
	switch f.Kind {
	case session.FrameSignals:
		return sse.Signals(f.Signals)
	case session.FrameElements:
		return sse.Replace(f.HTML, f.Selector)
	}
	return nil
}
