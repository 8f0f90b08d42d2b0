// Package server assembles the geoview HTTP server: chi router and
// middleware, the Huma API, the viewer page and the Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/joeblew999/geoview/internal/api"
	"github.com/joeblew999/geoview/internal/catalog"
	"github.com/joeblew999/geoview/internal/humastar"
	"github.com/joeblew999/geoview/internal/locale"
	"github.com/joeblew999/geoview/internal/metrics"
	"github.com/joeblew999/geoview/internal/search"
	"github.com/joeblew999/geoview/internal/session"
	"github.com/joeblew999/geoview/internal/store"
	"github.com/joeblew999/geoview/internal/table"
	"github.com/joeblew999/geoview/internal/templates"
	"github.com/joeblew999/geoview/internal/viewstate"
)

// SessionCookie remembers the viewer's session across page loads.
const SessionCookie = "geoview_session"

// Config holds the server configuration.
type Config struct {
	Host     string
	Port     string
	DataDir  string
	WebDir   string // optional: static/ served under /static/, fragments/ overrides templates
	StoreDSN string // view state backend, see store.Open
	Headless bool   // acknowledge map styles without a browser
	Idle     time.Duration
}

// Server is the geoview HTTP server.
type Server struct {
	config   Config
	router   *chi.Mux
	humaAPI  huma.API
	links    *humastar.Links
	sessions *session.Manager
	store    store.Store
	renderer *templates.Renderer
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a server for an application configuration.
func New(ctx context.Context, cfg Config, app *catalog.Config, log zerolog.Logger) (*Server, error) {
	cat, err := catalog.New(app.Maps)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	ix, err := search.Build(app.Search.Rows)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	st, err := store.Open(ctx, cfg.StoreDSN, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("view state store: %w", err)
	}
	fragments := ""
	if cfg.WebDir != "" {
		fragments = filepath.Join(cfg.WebDir, "fragments")
	}
	renderer, err := templates.WithOverrides(fragments)
	if err != nil {
		st.Close()
		return nil, err
	}
	met := metrics.New()

	sessions, err := session.NewManager(session.Config{
		Catalog:     cat,
		Search:      ix,
		Highlight:   app.Search,
		Bookmarks:   app.Bookmarks,
		AccessToken: app.Credentials.AccessToken,
		Locale:      locale.New(app.Locale),
		Store:       st,
		Fetcher:     table.NewHTTPFetcher(app.BaseURL),
		Renderer:    renderer,
		Metrics:     met,
		Logger:      log,
		Headless:    cfg.Headless,
		IdleTimeout: cfg.Idle,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		sessions: sessions,
		store:    st,
		renderer: renderer,
		metrics:  met,
		log:      log,
	}
	s.humaAPI, s.links = newAPI(s.router, cfg, api.NewAPIHandler(sessions, api.InfoBody{
		DataDir: cfg.DataDir,
		Store:   storeKind(cfg.StoreDSN),
		LiveMap: app.Credentials.AccessToken != "",
	}, log), s.middleware)
	s.routes()
	return s, nil
}

// Spec returns the API description without any configuration, for
// export.
func Spec() *huma.OpenAPI {
	a, _ := newAPI(chi.NewRouter(), Config{Host: "localhost", Port: "8086"}, api.NewAPIHandler(nil, api.InfoBody{}, zerolog.Nop()), nil)
	return a.OpenAPI()
}

func newAPI(router *chi.Mux, cfg Config, h *api.APIHandler, mw func(chi.Router)) (huma.API, *humastar.Links) {
	if mw != nil {
		mw(router)
	}

	humaConfig := huma.DefaultConfig("geoview API", api.Version)
	humaConfig.Info.Description = "Server-driven map explorer: map catalog, typeahead search and per-session view synchronization over Datastar SSE."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	links := &humastar.Links{}
	humaConfig.Transformers = append(humaConfig.Transformers, func(ctx huma.Context, status string, v any) (any, error) {
		return links.Transformer()(ctx, status, v)
	})

	humaAPI := humachi.New(router, humaConfig)
	huma.AutoRegister(humaAPI, h)
	*links = *humastar.AutoLinks(humaAPI, "sessions")
	return humaAPI, links
}

func (s *Server) middleware(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// no middleware.Timeout: it would cut the SSE streams
	r.Use(s.accessLog)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (s *Server) routes() {
	s.router.Handle("/metrics", s.metrics.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	s.router.Get("/", s.handleViewer)
	s.router.Get("/viewer", s.handleViewer)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run sweeps idle sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.sessions.Run(ctx)
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// OpenAPI returns this server's API description.
func (s *Server) OpenAPI() *huma.OpenAPI { return s.humaAPI.OpenAPI() }

// Close stops every session and closes the store.
func (s *Server) Close() error {
	s.sessions.Shutdown()
	return s.store.Close()
}

type viewerPage struct {
	Lang    string
	Title   string
	Base    string
	Opacity float64
	Menu    struct{ Home, Maps, Bookmarks, Help string }
}

// handleViewer resumes the session named by the cookie, or starts one, and
// renders the page shell that connects to its event stream.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	id := ""
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	sess, err := s.sessions.Create(r.Context(), id, r.Header.Get("Accept-Language"))
	if err != nil {
		s.log.Error().Err(err).Msg("create session")
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	page := viewerPage{
		Lang:    sess.Locale.Tag().String(),
		Title:   "geoview",
		Base:    "/api/v1/sessions/" + sess.ID,
		Opacity: viewstate.DefaultOpacity,
	}
	if st, err := sess.State(r.Context()); err == nil {
		page.Opacity = st.View.OpacityLevel
	}
	page.Menu.Home = sess.Locale.T(locale.MenuHome)
	page.Menu.Maps = sess.Locale.T(locale.MenuMaps)
	page.Menu.Bookmarks = sess.Locale.T(locale.MenuBooks)
	page.Menu.Help = sess.Locale.T(locale.MenuHelp)

	for _, link := range s.links.Root() {
		w.Header().Add("Link", link)
	}
	html, err := s.renderer.Render("viewer", page)
	if err != nil {
		s.log.Error().Err(err).Msg("render viewer")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

func storeKind(dsn string) string {
	scheme, _, _ := strings.Cut(dsn, ":")
	if scheme == "" {
		return "memory"
	}
	return strings.ToLower(scheme)
}

var errNoMaps = errors.New("configuration has no maps")

// LoadConfig reads the application configuration file.
func LoadConfig(path string) (*catalog.Config, error) {
	cfg, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	if len(cfg.Maps) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errNoMaps)
	}
	return cfg, nil
}
