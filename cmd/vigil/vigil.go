package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/eventdb"
	"github.com/cyclopcam/vigil/server/httpapi"
	"github.com/cyclopcam/vigil/server/perception"
	"github.com/cyclopcam/vigil/server/pipeline"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Print progress to stdout, at most once per second, until the run is done
func printProgress(watcher chan pipeline.Progress, done chan bool) {
	lastPrint := time.Time{}
	for msg := range watcher {
		if msg.Warning != "" {
			fmt.Printf("Warning: %v\n", msg.Warning)
		}
		if msg.Done {
			break
		}
		if msg.Stats == nil || time.Since(lastPrint) < time.Second {
			continue
		}
		lastPrint = time.Now()
		total := "?"
		if msg.TotalFrames != 0 {
			total = fmt.Sprintf("%v", msg.TotalFrames)
		}
		fmt.Printf("Frame %v/%v (%.1fs), %v entities, %v anomalies\n", msg.Frame, total, msg.Time.Seconds(), msg.Stats.UniqueEntities, msg.Events)
	}
	close(done)
}

func writeReport(report *pipeline.Report, filename string) error {
	out := os.Stdout
	if filename != "" {
		f, err := os.Create(filename)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func main() {
	parser := argparse.NewParser("vigil", "Detect anomalies in precomputed video perception results")
	input := parser.String("i", "input", &argparse.Options{Help: "Perception replay file (JSON lines)", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Write the JSON report to this file instead of stdout", Default: ""})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (JSON or YAML)", Default: ""})
	dbFile := parser.String("", "db", &argparse.Options{Help: "Store anomalies in this SQLite database", Default: ""})
	stride := parser.Int("", "stride", &argparse.Options{Help: "Analyze every N'th frame (overrides config)", Default: 0})
	window := parser.Int("", "window", &argparse.Options{Help: "Temporal smoothing window (overrides config)", Default: 0})
	httpAddr := parser.String("", "http", &argparse.Options{Help: "Serve progress and controls over HTTP, eg :8080", Default: ""})
	noOverlays := parser.Flag("", "nooverlays", &argparse.Options{Help: "Don't apply overlay heuristics to replayed objects", Default: false})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log per-entity details", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}
	if *stride != 0 {
		cfg.SampleStride = *stride
	}
	if *window != 0 {
		cfg.WindowSize = *window
	}
	if *verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	replay, err := perception.OpenReplay(*input, perception.ReplayOptions{FlagOverlays: !*noOverlays})
	if err != nil {
		logger.Errorf("Failed to open %v: %v", *input, err)
		os.Exit(1)
	}
	defer replay.Close()

	var db *eventdb.EventDB
	var run *eventdb.Run
	var sink pipeline.EventSink
	if *dbFile != "" {
		db, err = eventdb.Open(logger, *dbFile)
		if err != nil {
			logger.Errorf("Failed to open event database: %v", err)
			os.Exit(1)
		}
		defer db.Close()
		run, err = db.StartRun(*input, &cfg)
		check(err)
		sink = db.Writer(run.ID)
		logger.Infof("Storing anomalies in %v (run %v)", *dbFile, run.UUID)
	}

	p := pipeline.New(logger, replay.Adapters(), sink)
	check(p.Configure(cfg))

	var httpServer *httpapi.Server
	if *httpAddr != "" {
		httpServer = httpapi.NewServer(logger, p)
		go func() {
			if err := httpServer.ListenHTTP(*httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("HTTP server failed: %v", err)
			}
		}()
	}

	// The first signal cancels the run, which still produces a partial report
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range signals {
			logger.Infof("Received OS signal '%v'. Cancelling run", sig.String())
			p.Cancel()
		}
	}()

	watcher := p.AddWatcher()
	progressDone := make(chan bool)
	go printProgress(watcher, progressDone)

	report, runErr := p.Run(context.Background(), replay)

	select {
	case <-progressDone:
	case <-time.After(time.Second):
	}
	p.RemoveWatcher(watcher)
	signal.Stop(signals)

	if db != nil {
		if err := db.FinishRun(run.ID, report.Stats, report.Cancelled); err != nil {
			logger.Errorf("Failed to finish run in event database: %v", err)
		}
	}
	if err := writeReport(report, *output); err != nil {
		logger.Errorf("Failed to write report: %v", err)
		os.Exit(1)
	}
	if httpServer != nil {
		httpServer.Shutdown()
	}
	if runErr != nil {
		logger.Errorf("%v", runErr)
		os.Exit(1)
	}
}
