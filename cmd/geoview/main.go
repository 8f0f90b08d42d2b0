package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/geoview/internal/logging"
	"github.com/joeblew999/geoview/internal/search"
	"github.com/joeblew999/geoview/internal/server"
)

// Options defines all CLI flags and env vars for the geoview server.
// Flags: --host, --port, --config, --data-dir, --store, --web-dir, --log-level, --headless, --idle-minutes
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_CONFIG, SERVICE_DATA_DIR, ...
type Options struct {
	Host        string `doc:"Host to bind to" default:"0.0.0.0"`
	Port        int    `doc:"Port to listen on" short:"p" default:"8086"`
	Config      string `doc:"Map configuration file (YAML or JSON)" short:"c" default:"geoview.yaml"`
	DataDir     string `doc:"Directory for view state databases" default:".data"`
	Store       string `doc:"View state store: memory:, file:<path>, duckdb:<name>, sqlite:<name>, postgres://..., redis://..." default:"duckdb:viewstate"`
	WebDir      string `doc:"Optional directory with static/ assets and fragments/ template overrides"`
	LogLevel    string `doc:"Log level" default:"info"`
	Headless    bool   `doc:"Acknowledge map styles without a browser"`
	IdleMinutes int    `doc:"Close sessions idle for this many minutes" default:"30"`
}

func newServer(ctx context.Context, opts *Options) (*server.Server, error) {
	log := logging.New(opts.LogLevel)
	app, err := server.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	return server.New(ctx, server.Config{
		Host:     opts.Host,
		Port:     fmt.Sprintf("%d", opts.Port),
		DataDir:  opts.DataDir,
		WebDir:   opts.WebDir,
		StoreDSN: opts.Store,
		Headless: opts.Headless,
		Idle:     time.Duration(opts.IdleMinutes) * time.Minute,
	}, app, log)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, cancel := context.WithCancel(context.Background())
		var httpSrv *http.Server
		var srv *server.Server

		hooks.OnStart(func() {
			var err error
			srv, err = newServer(ctx, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			go srv.Run(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("geoview server starting...\n")
			fmt.Printf("  Viewer:  %s/\n", baseURL)
			fmt.Printf("  Config:  %s\n", opts.Config)
			fmt.Printf("  Store:   %s\n", opts.Store)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			cancel()
			if httpSrv != nil {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = httpSrv.Shutdown(shutdownCtx)
			}
			if srv != nil {
				_ = srv.Close()
			}
		})
	})

	cli.Root().Use = "geoview"
	cli.Root().Short = "Server-driven map explorer with synchronized legend, search and table"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			spec := server.Spec()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// search subcommand: run the typeahead against the configured index
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the search index of the configuration file",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			app, err := server.LoadConfig(opts.Config)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			ix, err := search.Build(app.Search.Rows)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			for _, it := range ix.Suggest(args[0], limit) {
				b := it.BBox()
				fmt.Printf("%-12s %-40s [%g %g %g %g]\n", it.ID, it.Name, b[0], b[1], b[2], b[3])
			}
		}),
	}
	searchCmd.Flags().IntP("limit", "n", 10, "Maximum number of results")
	cli.Root().AddCommand(searchCmd)

	cli.Run()
}
