package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"plant-monitor/internal/config"
	"plant-monitor/internal/repository"
	"plant-monitor/internal/services"
	"plant-monitor/pkg/database"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	windowHours := flag.Int("window-hours", 0, "Lookback window in hours (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *windowHours > 0 {
		cfg.Vitals.WindowHours = *windowHours
	}

	logger := logging.NewStructuredLogger("plant-vitals", version, logging.ParseLevel(cfg.Logging.Level))
	ctx := context.Background()

	metricsCollector := metrics.NewCollector("plant_vitals", nil)

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

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[VITALS_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewPlantRepository(db, logger, metricsCollector)
	vitals := services.NewVitalsService(repo, logger, cfg.Vitals)

	report, err := vitals.Run(ctx)
	if err != nil {
		logger.Fatal(ctx, "[VITALS_ERROR] Vitals check failed", logging.Fields{}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PLANT VITALS REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Window:          %v\n", report.Window)
	fmt.Printf("Plants checked:  %d\n", report.PlantsChecked)
	fmt.Printf("Unhealthy:       %d\n", len(report.Unhealthy))

	for _, plant := range report.Unhealthy {
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("Plant:           %s (id %d, %s)\n", plant.Name, plant.PlantID, plant.Continent)
		fmt.Printf("Botanist:        %s\n", plant.BotanistEmail)
		fmt.Printf("Avg temperature: %.2f over %d readings\n", plant.AvgTemperature, plant.Readings)
		fmt.Printf("Avg moisture:    %.2f\n", plant.AvgSoilMoisture)
		for _, problem := range plant.Problems {
			fmt.Printf("  - %s\n", problem)
		}
	}
}
