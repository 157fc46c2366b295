package services

import (
	"context"

	"plant-monitor/internal/models"
	"plant-monitor/internal/repository"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

// LoadResult contains per-table outcomes of one load pass.
type LoadResult struct {
	BotanistsInserted   int
	LocationsInserted   int
	PlantsInserted      int
	EventsInserted      int
	UnresolvedLocations int
	UnresolvedPlants    int
	UnresolvedBotanists int
	FailedPhases        []string
	SkippedPhases       []string
}

// LoadService drives the four ordered load phases. Phases run strictly
// sequentially on one store connection: later phases resolve identifiers
// written by earlier ones, so concurrent phase execution is unsafe. A failed
// phase is logged and its rows dropped for this run; phases that depend on
// it are skipped, independent ones proceed.
type LoadService struct {
	repo    repository.PlantRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLoadService creates a new load service
func NewLoadService(repo repository.PlantRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *LoadService {
	return &LoadService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Load upserts the cleaned reading table into the four related tables.
// Candidate entities are deduplicated by their documented natural keys
// before the store comparison, so the outcome is independent of row order.
func (s *LoadService) Load(ctx context.Context, readings []models.Reading) *LoadResult {
	result := &LoadResult{}

	botanistsOK := s.loadBotanists(ctx, readings, result)
	locationsOK := s.loadLocations(ctx, readings, result)

	plantsOK := false
	if botanistsOK && locationsOK {
		plantsOK = s.loadPlants(ctx, readings, result)
	} else {
		result.SkippedPhases = append(result.SkippedPhases, "plant")
		s.logger.Warn(ctx, "[LOAD_SKIP] Skipping plant phase, prerequisite phase failed", logging.Fields{
			"botanists_ok": botanistsOK,
			"locations_ok": locationsOK,
		})
	}

	if botanistsOK && plantsOK {
		s.loadEvents(ctx, readings, result)
	} else {
		result.SkippedPhases = append(result.SkippedPhases, "recording_event")
		s.logger.Warn(ctx, "[LOAD_SKIP] Skipping recording event phase, prerequisite phase failed", logging.Fields{
			"botanists_ok": botanistsOK,
			"plants_ok":    plantsOK,
		})
	}

	s.logger.Info(ctx, "[LOAD_COMPLETE] Load pass finished", logging.Fields{
		"botanists_inserted":   result.BotanistsInserted,
		"locations_inserted":   result.LocationsInserted,
		"plants_inserted":      result.PlantsInserted,
		"events_inserted":      result.EventsInserted,
		"unresolved_locations": result.UnresolvedLocations,
		"unresolved_plants":    result.UnresolvedPlants,
		"unresolved_botanists": result.UnresolvedBotanists,
		"failed_phases":        result.FailedPhases,
	})

	return result
}

func (s *LoadService) loadBotanists(ctx context.Context, readings []models.Reading, result *LoadResult) bool {
	inserted, err := s.repo.InsertBotanists(ctx, uniqueBotanists(readings))
	if err != nil {
		s.failPhase(ctx, "botanist", err, result)
		return false
	}
	result.BotanistsInserted = inserted
	return true
}

func (s *LoadService) loadLocations(ctx context.Context, readings []models.Reading, result *LoadResult) bool {
	inserted, err := s.repo.InsertOriginLocations(ctx, uniqueLocations(readings))
	if err != nil {
		s.failPhase(ctx, "origin_location", err, result)
		return false
	}
	result.LocationsInserted = inserted
	return true
}

func (s *LoadService) loadPlants(ctx context.Context, readings []models.Reading, result *LoadResult) bool {
	phase, err := s.repo.InsertPlants(ctx, uniquePlants(readings))
	if err != nil {
		s.failPhase(ctx, "plant", err, result)
		return false
	}
	result.PlantsInserted = phase.Inserted
	result.UnresolvedLocations = phase.UnresolvedLocations
	return true
}

func (s *LoadService) loadEvents(ctx context.Context, readings []models.Reading, result *LoadResult) bool {
	phase, err := s.repo.InsertRecordingEvents(ctx, readings)
	if err != nil {
		s.failPhase(ctx, "recording_event", err, result)
		return false
	}
	result.EventsInserted = phase.Inserted
	result.UnresolvedPlants = phase.UnresolvedPlants
	result.UnresolvedBotanists = phase.UnresolvedBotanists
	return true
}

// failPhase records a caught phase failure. A failed phase never aborts the
// run; its rows are dropped and the next scheduled run is the retry.
func (s *LoadService) failPhase(ctx context.Context, phase string, err error, result *LoadResult) {
	result.FailedPhases = append(result.FailedPhases, phase)
	s.metrics.RecordLoadPhaseError(phase)
	s.logger.Error(ctx, "[LOAD_PHASE_ERROR] Load phase failed", logging.Fields{
		"phase": phase,
	}, err)
}

// uniqueBotanists deduplicates botanist candidates by the full
// (first_name, last_name, email, phone_number) tuple, preserving first-seen
// order.
func uniqueBotanists(readings []models.Reading) []models.Botanist {
	seen := make(map[models.Botanist]struct{}, len(readings))
	candidates := make([]models.Botanist, 0, len(readings))
	for i := range readings {
		b := readings[i].Botanist()
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		candidates = append(candidates, b)
	}
	return candidates
}

// uniqueLocations deduplicates location candidates by the full attribute
// tuple, preserving first-seen order.
func uniqueLocations(readings []models.Reading) []models.OriginLocation {
	seen := make(map[models.OriginLocation]struct{}, len(readings))
	candidates := make([]models.OriginLocation, 0, len(readings))
	for i := range readings {
		loc := readings[i].Location()
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		candidates = append(candidates, loc)
	}
	return candidates
}

// uniquePlants deduplicates plant candidates by name, the plant natural key.
// The first occurrence wins; a later occurrence with different coordinates
// contributes its location through the location phase but not a second
// plant row.
func uniquePlants(readings []models.Reading) []models.PlantCandidate {
	seen := make(map[string]struct{}, len(readings))
	candidates := make([]models.PlantCandidate, 0, len(readings))
	for i := range readings {
		if _, ok := seen[readings[i].Name]; ok {
			continue
		}
		seen[readings[i].Name] = struct{}{}
		candidates = append(candidates, readings[i].PlantCandidate())
	}
	return candidates
}
