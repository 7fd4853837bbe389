// Command paeon keeps local copies of the Austrian COVID-19 datasets in
// step with their origins.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/olekukonko/tablewriter"

	"github.com/gampnico/paeon/cachedir"
	"github.com/gampnico/paeon/dataset"
	"github.com/gampnico/paeon/store/metadb"
	"github.com/gampnico/paeon/sync"
	"github.com/gampnico/paeon/telemetry"
)

var version = "dev"

type cli struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)." enum:"debug,info,warn,error" default:"info"`
	LogFormat string `name:"log-format" help:"Log format (text, json)." enum:"text,json" default:"text"`
	DataRoot  string `name:"data-root" help:"Directory the cached datasets and metadata live in." default:"data" type:"path"`
	Config    string `name:"config" help:"YAML file with extra dataset descriptors." optional:"" type:"path"`

	Sync    syncCmd          `cmd:"" help:"Check the configured datasets against their origins and refresh stale ones."`
	Status  statusCmd        `cmd:"" help:"Show what is cached and when it was last verified."`
	Version kong.VersionFlag `help:"Print version and exit."`
}

type appEnv struct {
	logger   *slog.Logger
	dataRoot string
	config   string
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("paeon"),
		kong.Description("Synchroniser for the AGES and ECDC COVID-19 datasets."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(c.LogLevel, c.LogFormat)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(&appEnv{
		logger:   logger,
		dataRoot: c.DataRoot,
		config:   c.Config,
	})
	kctx.FatalIfErrorf(err)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// descriptors loads the builtin datasets, merged with the config file
// when one is given, then narrows to the requested IDs.
func (app *appEnv) descriptors(ids []string) ([]*dataset.Descriptor, error) {
	descs := dataset.Builtin()
	if app.config != "" {
		loaded, err := dataset.LoadDescriptors(app.config)
		if err != nil {
			return nil, fmt.Errorf("loading dataset config: %w", err)
		}
		descs = loaded
	}
	if len(ids) == 0 {
		return descs, nil
	}
	selected := make([]*dataset.Descriptor, 0, len(ids))
	for _, id := range ids {
		desc, err := dataset.Find(descs, id)
		if err != nil {
			return nil, err
		}
		selected = append(selected, desc)
	}
	return selected, nil
}

func (app *appEnv) openStores() (*cachedir.Dir, *metadb.BoltDB, error) {
	cache, err := cachedir.New(filepath.Join(app.dataRoot, "cache"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache directory: %w", err)
	}
	meta := metadb.NewBoltDB(metadb.WithLogger(app.logger))
	if err := meta.Open(filepath.Join(app.dataRoot, "paeon.db")); err != nil {
		return nil, nil, fmt.Errorf("opening metadata db: %w", err)
	}
	return cache, meta, nil
}

type syncCmd struct {
	Datasets     []string      `name:"dataset" help:"Dataset IDs to check. Defaults to every configured dataset."`
	Timeout      time.Duration `help:"Overall time budget for the run." default:"10m"`
	ServeMetrics string        `name:"serve-metrics" help:"Expose Prometheus metrics on this address for the duration of the run." placeholder:"ADDR"`
}

func (c *syncCmd) Run(app *appEnv) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "paeon",
		ServiceVersion:   version,
		EnablePrometheus: c.ServeMetrics != "",
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			app.logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	if c.ServeMetrics != "" {
		srv := startMetricsServer(c.ServeMetrics, app.logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	descs, err := app.descriptors(c.Datasets)
	if err != nil {
		return err
	}

	cache, meta, err := app.openStores()
	if err != nil {
		return err
	}
	defer meta.Close() //nolint:errcheck

	s := sync.New(cache, meta, sync.WithLogger(app.logger))

	failed := 0
	for _, desc := range descs {
		outcome, err := s.VerifyUpdate(ctx, desc)
		switch {
		case err != nil:
			failed++
			attrs := []any{"dataset", desc.ID, "error", err}
			if outcome != nil {
				attrs = append(attrs, "result", outcome.Result.String())
			}
			app.logger.Error("dataset check failed", attrs...)
		case outcome.Result == sync.Updated:
			app.logger.Info("dataset updated",
				"dataset", desc.ID,
				"bytes", outcome.Downloaded,
				"digest", outcome.Entry.Digest.ShortString())
		default:
			app.logger.Info("dataset up to date", "dataset", desc.ID)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d datasets failed", failed, len(descs))
	}
	return nil
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.PrometheusHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

type statusCmd struct{}

func (c *statusCmd) Run(app *appEnv) error {
	ctx := context.Background()

	_, meta, err := app.openStores()
	if err != nil {
		return err
	}
	defer meta.Close() //nolint:errcheck

	entries, err := meta.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("listing datasets: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("no datasets cached yet, run: paeon sync")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Dataset", "Size", "Digest", "Fetched", "Updated"})
	for _, e := range entries {
		err := table.Append([]string{
			e.DatasetID,
			strconv.FormatInt(e.Size, 10),
			e.Digest.ShortString(),
			e.FetchedAt.Local().Format(time.RFC3339),
			e.UpdatedAt.Local().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("building status table: %w", err)
		}
	}
	return table.Render()
}
