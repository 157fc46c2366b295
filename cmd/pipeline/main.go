package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"plant-monitor/internal/config"
	"plant-monitor/internal/plantsapi"
	"plant-monitor/internal/repository"
	"plant-monitor/internal/services"
	"plant-monitor/pkg/database"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	startID := flag.Int("start", -1, "First plant id to fetch (overrides config)")
	count := flag.Int("count", 0, "Number of plant ids to fetch (overrides config)")
	workers := flag.Int("workers", 0, "Worker pool size (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *startID >= 0 {
		cfg.Pipeline.StartID = *startID
	}
	if *count > 0 {
		cfg.Pipeline.PlantCount = *count
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}

	logger := logging.NewStructuredLogger("plant-pipeline", version, logging.ParseLevel(cfg.Logging.Level))

	runID := fmt.Sprintf("run-%d", time.Now().UTC().Unix())
	ctx := logging.WithRunID(context.Background(), runID)

	logger.Info(ctx, "[PIPELINE_INIT] Starting plant pipeline", logging.Fields{
		"version":  version,
		"base_url": cfg.API.BaseURL,
		"start_id": cfg.Pipeline.StartID,
		"count":    cfg.Pipeline.PlantCount,
		"workers":  cfg.Pipeline.Workers,
	})

	metricsCollector := metrics.NewCollector("plant_pipeline", nil)

	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime(),
	}

	// The store connection is the only fatal dependency: without it nothing
	// can be loaded, so the run exits nonzero.
	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewPlantRepository(db, logger, metricsCollector)
	loader := services.NewLoadService(repo, logger, metricsCollector)
	fetcher := plantsapi.NewClient(cfg.API, logger, metricsCollector)
	pipeline := services.NewPipelineService(fetcher, loader, logger, metricsCollector, cfg.Pipeline.Workers)

	result := pipeline.Run(ctx, cfg.Pipeline.StartID, cfg.Pipeline.PlantCount)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PIPELINE RUN COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:                 %s\n", runID)
	fmt.Printf("Requested IDs:          %d\n", result.Requested)
	fmt.Printf("Fetched:                %d\n", result.Fetched)
	fmt.Printf("Missing (no record):    %d\n", result.Missing)
	fmt.Printf("Fetch failures:         %d\n", result.FetchFailures)
	fmt.Printf("Dropped (malformed):    %d\n", result.DroppedMalformed)
	fmt.Printf("Dropped (out of range): %d\n", result.DroppedInvalid)
	fmt.Printf("Rows loaded:            %d\n", result.LoadedRows)
	fmt.Printf("Duration:               %v\n", result.Duration)
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Botanists inserted:     %d\n", result.Load.BotanistsInserted)
	fmt.Printf("Locations inserted:     %d\n", result.Load.LocationsInserted)
	fmt.Printf("Plants inserted:        %d\n", result.Load.PlantsInserted)
	fmt.Printf("Events inserted:        %d\n", result.Load.EventsInserted)
	fmt.Printf("Unresolved locations:   %d\n", result.Load.UnresolvedLocations)
	fmt.Printf("Unresolved plants:      %d\n", result.Load.UnresolvedPlants)
	fmt.Printf("Unresolved botanists:   %d\n", result.Load.UnresolvedBotanists)
	if len(result.Load.FailedPhases) > 0 {
		fmt.Printf("Failed phases:          %s\n", strings.Join(result.Load.FailedPhases, ", "))
	}
	if len(result.Load.SkippedPhases) > 0 {
		fmt.Printf("Skipped phases:         %s\n", strings.Join(result.Load.SkippedPhases, ", "))
	}

	logger.Info(ctx, "[PIPELINE_EXIT] Pipeline run finished", logging.Fields{
		"loaded_rows":      result.LoadedRows,
		"events_inserted":  result.Load.EventsInserted,
		"duration_seconds": result.Duration.Seconds(),
	})
}
