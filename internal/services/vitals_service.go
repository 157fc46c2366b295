package services

import (
	"context"
	"fmt"
	"time"

	"plant-monitor/internal/config"
	"plant-monitor/internal/repository"
	"plant-monitor/pkg/logging"
)

// PlantVitals is the rolling average of one plant's recent readings,
// evaluated against the configured health policy.
type PlantVitals struct {
	PlantID         int64
	Name            string
	Continent       string
	BotanistEmail   string
	Readings        int
	AvgTemperature  float64
	AvgSoilMoisture float64
	Problems        []string
}

// VitalsReport summarizes one health-check pass.
type VitalsReport struct {
	Window        time.Duration
	PlantsChecked int
	Unhealthy     []*PlantVitals
}

// VitalsService is the periodic health-check job: it reads recent recording
// events through the same store boundary the dashboard uses, averages each
// plant's measurements over the window, and flags plants outside the policy
// thresholds. Thresholds are configuration, not code.
type VitalsService struct {
	repo   repository.PlantRepository
	logger *logging.StructuredLogger
	policy config.VitalsConfig
}

// NewVitalsService creates a new vitals service
func NewVitalsService(repo repository.PlantRepository, logger *logging.StructuredLogger, policy config.VitalsConfig) *VitalsService {
	return &VitalsService{
		repo:   repo,
		logger: logger,
		policy: policy,
	}
}

// Run performs one health-check pass over the configured window.
func (s *VitalsService) Run(ctx context.Context) (*VitalsReport, error) {
	window := s.policy.Window()
	since := time.Now().UTC().Add(-window)

	s.logger.Info(ctx, "[VITALS_START] Starting plant vitals check", logging.Fields{
		"window_hours": s.policy.WindowHours,
		"since":        since.Format(time.RFC3339),
	})

	recordings, err := s.repo.ListRecentRecordings(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent recordings: %w", err)
	}

	type accumulator struct {
		vitals      *PlantVitals
		temperature float64
		moisture    float64
	}

	byPlant := make(map[int64]*accumulator)
	order := make([]int64, 0)
	for _, rec := range recordings {
		acc, ok := byPlant[rec.PlantID]
		if !ok {
			acc = &accumulator{vitals: &PlantVitals{
				PlantID:       rec.PlantID,
				Name:          rec.Name,
				Continent:     rec.Continent,
				BotanistEmail: rec.Email,
			}}
			byPlant[rec.PlantID] = acc
			order = append(order, rec.PlantID)
		}
		acc.vitals.Readings++
		acc.temperature += rec.Temperature
		acc.moisture += rec.SoilMoisture
	}

	report := &VitalsReport{
		Window:        window,
		PlantsChecked: len(byPlant),
	}

	for _, plantID := range order {
		acc := byPlant[plantID]
		v := acc.vitals
		n := float64(v.Readings)
		v.AvgTemperature = acc.temperature / n
		v.AvgSoilMoisture = acc.moisture / n

		if tempRange, ok := s.policy.TemperatureRanges[v.Continent]; ok {
			if v.AvgTemperature < tempRange.Min || v.AvgTemperature > tempRange.Max {
				v.Problems = append(v.Problems, fmt.Sprintf(
					"average temperature %.2f outside healthy range [%.1f, %.1f] for %s",
					v.AvgTemperature, tempRange.Min, tempRange.Max, v.Continent))
			}
		}
		if v.AvgSoilMoisture < s.policy.MoistureMin || v.AvgSoilMoisture > s.policy.MoistureMax {
			v.Problems = append(v.Problems, fmt.Sprintf(
				"average soil moisture %.2f outside healthy range [%.1f, %.1f]",
				v.AvgSoilMoisture, s.policy.MoistureMin, s.policy.MoistureMax))
		}

		if len(v.Problems) > 0 {
			report.Unhealthy = append(report.Unhealthy, v)
			s.logger.Warn(ctx, "[VITALS_UNHEALTHY] Plant outside healthy thresholds", logging.Fields{
				"plant_id":          v.PlantID,
				"name":              v.Name,
				"continent":         v.Continent,
				"botanist_email":    v.BotanistEmail,
				"avg_temperature":   v.AvgTemperature,
				"avg_soil_moisture": v.AvgSoilMoisture,
				"readings":          v.Readings,
				"problems":          v.Problems,
			})
		}
	}

	s.logger.Info(ctx, "[VITALS_COMPLETE] Plant vitals check completed", logging.Fields{
		"plants_checked": report.PlantsChecked,
		"unhealthy":      len(report.Unhealthy),
	})

	return report, nil
}
