package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/terediX/internal/api"
	"github.com/shaharia-lab/terediX/internal/discovery"
	"github.com/shaharia-lab/terediX/internal/logging"
	"github.com/shaharia-lab/terediX/internal/source"
	"github.com/shaharia-lab/terediX/internal/worker"
)

var discoverOnce bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run scheduled discovery",
	Long: `Run every configured source on its schedule, store the discovered
resources and rebuild relations periodically.

The query API is served on api.listen and Prometheus metrics on
metrics.listen until SIGINT or SIGTERM.`,
	Example: `  teredix discover --config config.yaml    # Run until interrupted
  teredix discover --once                   # Scan every source once and exit`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().BoolVar(&discoverOnce, "once", false, "Scan every source once, build relations and exit")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx, configFile, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error().Err(err).Msg("shutdown")
		}
	}()

	scanners, err := source.Default().BuildAll(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}

	d, err := discovery.New(a.cfg, a.store, scanners, a.metrics, a.logger)
	if err != nil {
		return err
	}

	if discoverOnce {
		results, err := d.RunOnce(ctx)
		printResults(cmd.OutOrStdout(), results)
		return err
	}

	return serve(ctx, a, d)
}

// serve runs discovery, the API server and the metrics server until a signal arrives
// or one of them fails.
func serve(ctx context.Context, a *app, d *discovery.Discovery) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	apiServer := api.NewHTTPServer(a.cfg.API.Listen,
		api.NewServer(a.store, func() any { return d.Health() }, logging.Component(a.logger, "api")).Handler())
	g.Add(httpActor(a, "api", apiServer))

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.provider.Handler())
	g.Add(httpActor(a, "metrics", api.NewHTTPServer(a.cfg.Metrics.Listen, mux)))

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		a.logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

func httpActor(a *app, name string, srv *http.Server) (func() error, func(error)) {
	execute := func() error {
		a.logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}
	interrupt := func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Str("server", name).Msg("server shutdown")
		}
	}
	return execute, interrupt
}

func printResults(w io.Writer, results []worker.Result) {
	fmt.Fprintf(w, "%-24s %-18s %-8s %10s %12s\n", "SOURCE", "KIND", "STATUS", "RESOURCES", "DURATION")
	for _, r := range results {
		fmt.Fprintf(w, "%-24s %-18s %-8s %10d %12s\n", r.Source, r.Kind, r.Status(), r.Resources, r.Duration.Round(time.Millisecond))
		if r.Error != nil {
			fmt.Fprintf(w, "  error: %v\n", r.Error)
		}
	}
}
