package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/edge-scanner-api/internal/api"
	"github.com/edge-scanner-api/internal/config"
	"github.com/edge-scanner-api/internal/metrics"
	"github.com/edge-scanner-api/internal/ranges"
	"github.com/edge-scanner-api/internal/sampler"
	"github.com/edge-scanner-api/internal/scanner"
	"github.com/edge-scanner-api/internal/snapshot"
	"github.com/edge-scanner-api/internal/storage"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	log.Infof("Starting Edge Scanner Service v%s", version)

	// Load configuration
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set log level
	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	// Set GOMAXPROCS to use all available CPUs
	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)
	log.Infof("GOMAXPROCS set to %d", numCPU)

	// Initialize metrics
	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace)

	// Initialize storage
	store, err := storage.NewStorage(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize snapshot manager
	snapshotMgr := snapshot.NewManager(store, cfg.Storage.PersistIntervalSeconds)

	// Load last completed scan from storage
	if err := snapshotMgr.LoadFromStorage(); err != nil {
		log.Warnf("Failed to load existing snapshot: %v (starting fresh)", err)
	}

	// Initialize the scan pipeline
	fetcher := ranges.NewFetcher(cfg.Ranges, metricsCollector)
	smp := sampler.New(rand.NewSource(time.Now().UnixNano()))
	scn := scanner.NewScanner(cfg.Scanner, cfg.Prober, fetcher, smp, metricsCollector)

	// Persist each completed scan
	scn.OnComplete(func(session *scanner.ScanSession) {
		summary := session.Aggregator.Summarize(int64(cfg.Thresholds.DefaultMs))
		snapshotMgr.Update(session.Aggregator.Results(), storage.Stats{
			Candidates:   summary.Total,
			Succeeded:    summary.Succeeded,
			Failed:       summary.Failed,
			FoundCount:   summary.FoundCount,
			AvgLatencyMs: summary.AvgLatencyMs,
			Stopped:      session.Stopped(),
			DurationMs:   session.Elapsed().Milliseconds(),
			FinishedAt:   time.Now(),
		})
		metricsCollector.SetCleanEndpoints(summary.FoundCount)
	})

	// Start API server
	apiServer := api.NewServer(cfg, scn, snapshotMgr, metricsCollector)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Infof("Service started successfully on %s", cfg.API.Addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	scn.StopScan()
	snapshotMgr.Close()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
