// speedboard is a terminal dashboard for running repeatable speed tests
// against ndt7 servers. It renders a live gauge while a test runs and
// keeps a short history of completed results on disk.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/gaugelab/speedboard/config"
	"github.com/gaugelab/speedboard/dashboard"
	"github.com/gaugelab/speedboard/history"
	"github.com/gaugelab/speedboard/logging"
	"github.com/gaugelab/speedboard/probe/ndt7"
	"github.com/gaugelab/speedboard/scheduler"
)

var (
	configFile     = flag.String("config", "", "Path to the YAML config file")
	historyFile    = flag.String("history.file", "", "Where to persist completed results (overrides the config file)")
	logFile        = flag.String("log.file", "", "Append structured logs to this file instead of stderr")
	locateURL      = flag.String("ndt7.locate-url", "", "ndt7 server discovery endpoint (overrides the config file)")
	serverURL      = flag.String("ndt7.server-url", "", "Pin one ndt7 server and skip discovery")
	ticksPerSecond = flag.Int("dashboard.ticks-per-second", 0, "Dashboard refresh rate (overrides the config file)")
	debugAddr      = flag.String("listen.debug", "", "Serve /metrics and /history on this address")

	// Context for the whole dashboard. Tests cancel this to shut main down.
	ctx, cancel = context.WithCancel(context.Background())
)

// applyFlagOverrides lets explicit flags win over the config file.
func applyFlagOverrides(cfg *config.Config) {
	if *historyFile != "" {
		cfg.HistoryFile = *historyFile
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *locateURL != "" {
		cfg.LocateURL = *locateURL
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *ticksPerSecond > 0 {
		cfg.TicksPerSecond = *ticksPerSecond
	}
	if *debugAddr != "" {
		cfg.DebugAddr = *debugAddr
	}
}

// startDebugServer serves Prometheus metrics and a read-only history
// snapshot for troubleshooting. It stops when the main context does.
func startDebugServer(store *history.Store, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(store.Snapshot()); err != nil {
			logging.Logger.WithError(err).Warn("could not write history snapshot")
		}
	})
	srv := &http.Server{
		Addr:         addr,
		Handler:      logging.MakeAccessLogHandler(mux),
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
	rtx.Must(httpx.ListenAndServeAsync(srv), "Could not start debug server")
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
}

func main() {
	defer cancel()
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	cfg, err := config.Load(*configFile)
	rtx.Must(err, "Could not load config")
	applyFlagOverrides(&cfg)

	// The dashboard owns the terminal, so interactive sessions log to a
	// file. Piped runs keep stderr unless a file is configured.
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if cfg.LogFile == "" && interactive {
		cfg.LogFile = config.DefaultLogPath()
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		rtx.Must(err, "Could not open log file")
		defer f.Close()
		logging.SetOutput(f)
	}
	logging.Logger.WithField("commit", prometheusx.GitShortCommit).Info("speedboard starting")

	store := history.New(cfg.HistoryFile)
	if _, err := store.Load(); err != nil {
		logging.Logger.WithError(err).Warn("starting with empty history")
	}

	if cfg.DebugAddr != "" {
		startDebugServer(store, cfg.DebugAddr)
	}

	provider := &ndt7.Provider{
		LocateURL: cfg.LocateURL,
		ServerURL: cfg.ServerURL,
	}

	// Raw mode delivers keys as they are typed. When stdin is not a
	// terminal the dashboard still runs; input just arrives line-buffered.
	if interactive {
		fd := int(os.Stdin.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			logging.Logger.WithError(err).Warn("could not enter raw mode")
		} else {
			defer term.Restore(fd, state)
		}
	}

	ctrl := dashboard.New(dashboard.Options{
		Provider:         provider,
		History:          store,
		Out:              os.Stdout,
		MaxGaugeMbps:     cfg.MaxGaugeMbps,
		AnalyzerCapacity: cfg.AnalyzerCapacity,
	})

	sched := scheduler.New(cfg.TicksPerSecond)
	schedCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	go sched.Run(schedCtx, ctrl.OnTick)

	if err := ctrl.Run(ctx, dashboard.ReadKeys(os.Stdin)); err != nil && !errors.Is(err, context.Canceled) {
		logging.Logger.WithError(err).Error("dashboard exited")
	}
}
