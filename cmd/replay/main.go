// Command replay runs the triple-signal engine over a CSV of bars against
// the paper executor, optionally sweeping the optimizer grid.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evdnx/trisignal/config"
	"github.com/evdnx/trisignal/executor"
	"github.com/evdnx/trisignal/feed"
	"github.com/evdnx/trisignal/logger"
	"github.com/evdnx/trisignal/metrics"
	"github.com/evdnx/trisignal/position"
	"github.com/evdnx/trisignal/strategy"
	"github.com/evdnx/trisignal/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	csvPath := flag.String("csv", "", "Path to CSV (time,open,high,low,close,volume)")
	cfgPath := flag.String("config", "", "YAML parameter file (recommended values when empty)")
	symbol := flag.String("symbol", "BTCUSDT", "Instrument symbol")
	equity := flag.Float64("equity", 10_000, "Starting paper equity")
	level := flag.String("log-level", "info", "Log level (debug shows every rejected entry)")
	logFile := flag.String("log-file", "", "Write logs to this file (rotated) instead of stderr")
	metricsAddr := flag.String("metrics", "", "Serve prometheus metrics on this address, e.g. :9102")
	sweep := flag.Bool("grid", false, "Replay every point of the optimizer grid and print a summary line per point")
	flag.Parse()

	var (
		log logger.Logger
		err error
	)
	if *logFile != "" {
		var closeLog func() error
		log, closeLog, err = logger.NewFileLogger(*level, *logFile, 100)
		if err == nil {
			defer func() { _ = closeLog() }()
		}
	} else {
		log, err = logger.NewZapLogger(*level)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *csvPath == "" {
		log.Error("missing_flag", logger.String("flag", "csv"))
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		srv := serveMetrics(*metricsAddr, log)
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	params := config.Recommended()
	if *cfgPath != "" {
		if params, err = config.Load(*cfgPath); err != nil {
			log.Error("config_load_failed", logger.Err(err))
			return 1
		}
	}
	bars, err := feed.Load(*csvPath)
	if err != nil {
		log.Error("feed_load_failed", logger.Err(err))
		return 1
	}
	log.Info("bars_loaded", logger.String("path", *csvPath), logger.Int("bars", len(bars)))

	if *sweep {
		err = runGrid(ctx, *symbol, params, bars, *equity, log)
	} else {
		_, err = runOnce(ctx, *symbol, params, bars, *equity, log)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("replay_failed", logger.Err(err))
		return 1
	}
	return 0
}

type summary struct {
	Bars   int
	Opens  int
	Closes int
	Equity float64
}

func runOnce(ctx context.Context, symbol string, p config.Params, bars []types.Bar, equity float64, log logger.Logger) (summary, error) {
	exec := executor.NewPaperExecutor(equity, log)
	eng, err := strategy.NewTripleSignal(symbol, p, exec, log)
	if err != nil {
		return summary{}, err
	}
	var sum summary
	err = eng.Replay(ctx, bars, func(st strategy.Step) {
		sum.Bars++
		switch {
		case st.Decision.IsOpen():
			sum.Opens++
		case st.Decision.IsClose():
			sum.Closes++
		}
	})
	if err != nil {
		return sum, err
	}
	if eng.Position().Side != position.Flat && len(bars) > 0 {
		if _, err := eng.Close(bars[len(bars)-1].Close, "end_of_data"); err != nil {
			return sum, err
		}
		sum.Closes++
	}
	sum.Equity = exec.Equity()
	metrics.EquityGauge.Set(sum.Equity)
	log.Info("replay_done",
		logger.String("run_id", eng.RunID),
		logger.Int("bars", sum.Bars),
		logger.Int("opens", sum.Opens),
		logger.Int("closes", sum.Closes),
		logger.Float64("equity", sum.Equity),
	)
	return sum, nil
}

func runGrid(ctx context.Context, symbol string, base config.Params, bars []types.Bar, equity float64, log logger.Logger) error {
	grid := config.DefaultGrid()
	sweepID := uuid.NewString()
	log.Info("grid_started", logger.String("sweep_id", sweepID), logger.Int("points", grid.Size()))
	quiet := logger.NewNop()
	n := 0
	return grid.Each(base, func(p config.Params) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum, err := runOnce(ctx, symbol, p, bars, equity, quiet)
		if err != nil {
			return err
		}
		n++
		fields := []logger.Field{
			logger.String("sweep_id", sweepID),
			logger.Int("point", n),
			logger.Int("opens", sum.Opens),
			logger.Float64("equity", sum.Equity),
		}
		values := p.ToMap()
		for _, r := range grid {
			fields = append(fields, logger.Float64(r.Name, values[r.Name]))
		}
		log.Info("grid_point", fields...)
		return nil
	})
}

func serveMetrics(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics_listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics_server_failed", logger.Err(err))
		}
	}()
	return srv
}
