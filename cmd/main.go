package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/TFMV/findash"
	"github.com/TFMV/findash/api"
	"github.com/TFMV/findash/config"
	"github.com/TFMV/findash/db"
	"github.com/TFMV/findash/flight"
	"github.com/TFMV/findash/storage"
	"github.com/TFMV/findash/table"
	"github.com/docopt/docopt.go"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const version = "findash version 1.0.0"

const usage = `findash: financial dataset dashboard.

Usage:
  findash describe <source> [--age-min=<n>] [--age-max=<n>] [--segment=<label>...] [--config=<file>]
  findash rows <source> [--age-min=<n>] [--age-max=<n>] [--segment=<label>...] [--limit=<n>] [--config=<file>]
  findash charts <source> [--age-min=<n>] [--age-max=<n>] [--segment=<label>...] [--bins=<n>] [--config=<file>]
  findash export <source> <out> [--format=<fmt>] [--codec=<codec>] [--config=<file>]
  findash serve [--config=<file>]
  findash init-config <out>
  findash (-h | --help)
  findash --version

Options:
  -h --help          Show this screen.
  --version          Show version.
  --age-min=<n>      Lowest Age to include.
  --age-max=<n>      Highest Age to include.
  --segment=<label>  Customer segment to include; repeat for several.
  --limit=<n>        Maximum rows to print [default: 20].
  --bins=<n>         Histogram bin count.
  --format=<fmt>     Export format: ipc or parquet; guessed from <out> when omitted.
  --codec=<codec>    Parquet compression codec.
  --config=<file>    YAML configuration file.
`

func main() {
	arguments, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	if out, _ := arguments.String("<out>"); out != "" {
		if ok, _ := arguments.Bool("init-config"); ok {
			if err := config.Save(config.Default(), out); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	cfgFile, _ := arguments.String("--config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize zap logger.
	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, arguments, cfg, logger, os.Stdout); err != nil {
		logger.Error("command failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, arguments docopt.Opts, cfg *config.Config, logger *zap.Logger, w io.Writer) error {
	if ok, _ := arguments.Bool("serve"); ok {
		return serve(ctx, cfg, logger)
	}

	source, _ := arguments.String("<source>")
	opts := cfg.DBOptions(logger)
	// One-shot commands read the source once.
	opts.Watch = false
	dash, err := findash.Open(source, opts)
	if err != nil {
		return err
	}
	defer dash.Close()

	if ok, _ := arguments.Bool("export"); ok {
		return export(ctx, arguments, cfg, dash.DB(), source)
	}

	sel, err := selection(arguments)
	if err != nil {
		return err
	}
	view, err := dash.View(ctx, sel)
	if err != nil {
		return err
	}
	defer view.Release()
	logger.Debug("view selected",
		zap.Int("rows", view.Rows.NumRows()),
		zap.Int("total", view.Total),
		zap.Float64("age_min", view.Filter.AgeMin),
		zap.Float64("age_max", view.Filter.AgeMax),
		zap.Strings("segments", view.Filter.Segments),
	)

	switch {
	case boolArg(arguments, "describe"):
		fmt.Fprintf(w, "%d of %d rows\n", view.Rows.NumRows(), view.Total)
		view.Summary().Render(w)
		return nil
	case boolArg(arguments, "rows"):
		limit, err := arguments.Int("--limit")
		if err != nil {
			return fmt.Errorf("--limit: %w", err)
		}
		printRows(w, view.Rows, limit)
		return nil
	case boolArg(arguments, "charts"):
		bins := cfg.Bins
		if raw, _ := arguments.String("--bins"); raw != "" {
			if bins, err = strconv.Atoi(raw); err != nil {
				return fmt.Errorf("--bins: %w", err)
			}
		}
		charts, err := view.Charts(bins)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(charts)
	}
	return errors.New("unknown command")
}

func boolArg(arguments docopt.Opts, key string) bool {
	ok, _ := arguments.Bool(key)
	return ok
}

// selection reads the filter flags. Absent flags keep the dataset defaults.
func selection(arguments docopt.Opts) (findash.Selection, error) {
	var sel findash.Selection
	for _, p := range []struct {
		flag string
		dst  **float64
	}{{"--age-min", &sel.AgeMin}, {"--age-max", &sel.AgeMax}} {
		raw, _ := arguments.String(p.flag)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return findash.Selection{}, fmt.Errorf("%s: %w", p.flag, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return findash.Selection{}, fmt.Errorf("%s: %q is not a finite number", p.flag, raw)
		}
		*p.dst = findash.Float(v)
	}
	if labels, ok := arguments["--segment"].([]string); ok && len(labels) > 0 {
		sel.Segments = labels
	}
	return sel, nil
}

func printRows(w io.Writer, t *table.Table, limit int) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(t.Columns())
	tw.SetAutoFormatHeaders(false)
	n := t.NumRows()
	if limit > 0 && limit < n {
		n = limit
	}
	cols := t.Columns()
	for i := 0; i < n; i++ {
		row := t.Row(i)
		cells := make([]string, len(cols))
		for c, name := range cols {
			if v := row[name]; v != nil {
				cells[c] = fmt.Sprint(v)
			}
		}
		tw.Append(cells)
	}
	tw.Render()
	if n < t.NumRows() {
		fmt.Fprintf(w, "... %d more rows\n", t.NumRows()-n)
	}
}

func export(ctx context.Context, arguments docopt.Opts, cfg *config.Config, database *db.DB, source string) error {
	out, _ := arguments.String("<out>")
	format, _ := arguments.String("--format")
	codecName, _ := arguments.String("--codec")
	if codecName == "" {
		codecName = cfg.Codec
	}
	codec, err := storage.ParseCodec(codecName)
	if err != nil {
		return err
	}
	return storage.NewStorage(database).Export(ctx, source, out, format, codec)
}

// serve runs the HTTP API and the Flight service until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	database, err := db.Open(cfg.DBOptions(logger))
	if err != nil {
		return err
	}
	defer database.Close()

	dash := findash.New(database, cfg.DataPath)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(dash, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	flightServer, err := flight.NewServer(cfg.FlightAddr, flight.NewService(database, flight.ServiceOptions{
		DefaultSource: cfg.DataPath,
		Sources:       cfg.FlightSources,
		Roles:         cfg.Roles(),
		Logger:        logger,
	}))
	if err != nil {
		return err
	}

	logger.Info("Starting findash",
		zap.String("data_path", cfg.DataPath),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("flight_addr", flightServer.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(flightServer.Serve)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		flightServer.Shutdown()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
