package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/firewatch-data/hotspot.report/internal/api"
	"github.com/firewatch-data/hotspot.report/internal/archive"
	"github.com/firewatch-data/hotspot.report/internal/config"
	"github.com/firewatch-data/hotspot.report/internal/firms"
	"github.com/firewatch-data/hotspot.report/internal/source"
	"github.com/firewatch-data/hotspot.report/internal/timeutil"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "fire_events.db", "Path to the archive database")
	configPath = flag.String("config", "", "Path to a tuning config JSON file (defaults to built-in tuning)")
)

// processOnce fetches one batch from the feed and runs it through the
// pipeline as the current hourly window.
func processOnce(ctx context.Context, p *firms.Pipeline, fetcher source.Fetcher, clock timeutil.Clock) (firms.WindowSummary, error) {
	records, err := fetcher.Fetch(ctx)
	if err != nil {
		return firms.WindowSummary{}, err
	}
	windowTime := clock.Now().UTC().Truncate(time.Hour)
	return p.ProcessWindow(records, windowTime)
}

func logSummary(summary firms.WindowSummary) {
	log.Printf("window %s: %d detections (%d malformed, %d dup, %d outside region), %d clusters, %d noise; %d created, %d continued, %d reactivated, %d merged, %d closed",
		summary.WindowTime.Format(time.RFC3339), summary.Detections,
		summary.Malformed, summary.Duplicates, summary.OutOfRegion,
		summary.Clusters, summary.Noise, summary.Created, summary.Continued,
		summary.Reactivated, summary.Merged, summary.Closed)
}

// firmsSourceFromEnv builds the live feed fetcher from environment
// variables. Returns nil when FIRMS_MAP_KEY is unset.
func firmsSourceFromEnv(region string) source.Fetcher {
	mapKey := os.Getenv("FIRMS_MAP_KEY")
	if mapKey == "" {
		return nil
	}

	cfg := source.FIRMSConfig{
		MapKey:  mapKey,
		Dataset: os.Getenv("FIRMS_DATASET"),
		Area:    os.Getenv("FIRMS_AREA"),
	}
	if cfg.Dataset == "" {
		cfg.Dataset = "VIIRS_SNPP_NRT"
	}
	if cfg.Area == "" && region != "" {
		cfg.Area = region
	}
	if raw := os.Getenv("FIRMS_DAY_RANGE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DayRange = v
		}
	}
	return source.NewFIRMSSource(cfg, nil)
}

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}

	var cfg *config.TuningConfig
	var err error
	if *configPath != "" {
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	db, err := archive.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open archive: %v", err)
	}
	defer db.Close()

	pipeline, err := firms.PipelineFromTuning(cfg, db)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	restored, err := db.LoadOpenEvents(pipeline.Store())
	if err != nil {
		log.Fatalf("failed to restore events: %v", err)
	}
	log.Printf("restored %d open events from %s", restored, *dbFile)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}

	// Schedule feed refreshes when a map key is configured; without one the
	// service still serves queries and accepts windows over the API.
	if fetcher := firmsSourceFromEnv(cfg.GetRegionBBox()); fetcher != nil {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.GetRefreshSchedule(), func() {
			summary, err := processOnce(ctx, pipeline, fetcher, clock)
			if err != nil {
				log.Printf("refresh failed: %v", err)
				return
			}
			logSummary(summary)
		})
		if err != nil {
			log.Fatalf("bad refresh schedule %q: %v", cfg.GetRefreshSchedule(), err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("feed refresh scheduled: %s", cfg.GetRefreshSchedule())
	} else {
		log.Print("FIRMS_MAP_KEY not set; feed refresh disabled")
	}

	server := api.NewServer(pipeline, cfg)
	httpServer := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(server.ServeMux()),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("shutdown complete")
}
