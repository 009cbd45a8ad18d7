package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lmoreira/aquaflow/internal/config"
	"github.com/lmoreira/aquaflow/internal/entities"
	"github.com/lmoreira/aquaflow/internal/integration"
	"github.com/lmoreira/aquaflow/internal/repository"
	"github.com/lmoreira/aquaflow/internal/usecases"
	"github.com/robfig/cron/v3"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting aquaflow collector...")

	importPath := flag.String("import", "", "import a CSV export from the old prototype and exit")
	flag.Parse()

	cfg := config.Load()

	// Initialize repository
	repo, err := repository.NewSQLiteReadingRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// Initialize use case; scan buckets follow the poll cadence so serial
	// and poller samples land in the same balance bucket
	detector := usecases.NewLeakDetector(cfg.LeakThresholdLPS, cfg.MinWindowSamples)
	detector.BucketSize = cfg.PollInterval
	forecaster := usecases.NewForecaster(cfg.HorizonDays, cfg.MovingAvgDays)
	useCase := usecases.NewFlowUseCase(repo, detector, forecaster, cfg.TariffBRLPerM3)

	// One-shot import mode
	if *importPath != "" {
		importer := &integration.CSVImporter{}
		readings, err := importer.ImportFile(*importPath)
		if err != nil {
			log.Fatalf("CSV import failed: %v", err)
		}
		if err := useCase.IngestReadings(readings); err != nil {
			log.Fatalf("Failed to ingest imported readings: %v", err)
		}
		log.Printf("Imported %d readings from %s", len(readings), *importPath)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Serial collector for the mains meter
	serialCollector := integration.NewSerialCollector(cfg.SerialPort, cfg.SerialBaud)
	go func() {
		for {
			err := serialCollector.Run(ctx, func(reading entities.FlowReading) {
				if err := useCase.IngestReadings([]entities.FlowReading{reading}); err != nil {
					log.Printf("Failed to ingest serial reading: %v", err)
				}
			})
			if ctx.Err() != nil {
				return
			}
			log.Printf("Serial collector stopped: %v, reopening in 5s", err)
			time.Sleep(5 * time.Second)
		}
	}()

	// Device poller for the branch sensors
	poller := integration.NewDevicePoller(cfg.DeviceURL, cfg.PollInterval)
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				readings, err := poller.Poll()
				if err != nil {
					log.Printf("Device poll failed: %v", err)
					continue
				}
				if err := useCase.IngestReadings(readings); err != nil {
					log.Printf("Failed to ingest branch readings: %v", err)
				}
			}
		}
	}()

	// Leak scan covers the window since the previous scan. The mutex keeps
	// an overdue cron invocation from racing the next one over lastScan.
	var scanMu sync.Mutex
	lastScan := time.Now()
	runLeakScan := func() {
		scanMu.Lock()
		defer scanMu.Unlock()

		now := time.Now()
		events, err := useCase.ScanForLeaks(lastScan, now)
		if err != nil {
			log.Printf("Leak scan failed: %v", err)
			return
		}
		lastScan = now
		if len(events) > 0 {
			log.Printf("Leak scan stored %d event(s)", len(events))
		}
	}

	// Set up cron scheduler for periodic jobs
	c := cron.New()

	// Scan for leaks every 5 minutes
	_, err = c.AddFunc("*/5 * * * *", runLeakScan)
	if err != nil {
		log.Fatalf("Failed to set up leak scan job: %v", err)
	}

	// Refresh forecasts hourly
	_, err = c.AddFunc("0 * * * *", func() {
		if err := useCase.RefreshForecasts(cfg.TrainingDays); err != nil {
			log.Printf("Forecast refresh failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to set up forecast job: %v", err)
	}

	// Prune old readings nightly
	_, err = c.AddFunc("30 3 * * *", func() {
		if err := useCase.PruneOldReadings(cfg.RetentionDays); err != nil {
			log.Printf("Retention prune failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to set up retention job: %v", err)
	}

	// Run the forecast refresh immediately on startup
	if err := useCase.RefreshForecasts(cfg.TrainingDays); err != nil {
		log.Printf("Initial forecast refresh failed: %v", err)
	}

	log.Println("Collector jobs have been scheduled")
	c.Start()

	// Keep the program running
	select {}
}
