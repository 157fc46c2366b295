package repository

import (
	"context"
	"fmt"
	"time"

	"plant-monitor/internal/models"
	"plant-monitor/pkg/database"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

// PlantRepository provides store access for the four load phases and the
// read-side queries used by collaborators. All inserts are insert-if-absent:
// existing rows are skipped, never updated.
type PlantRepository interface {
	// Load phases, each committed as its own transaction.
	InsertBotanists(ctx context.Context, candidates []models.Botanist) (int, error)
	InsertOriginLocations(ctx context.Context, candidates []models.OriginLocation) (int, error)
	InsertPlants(ctx context.Context, candidates []models.PlantCandidate) (*PlantInsertResult, error)
	InsertRecordingEvents(ctx context.Context, readings []models.Reading) (*EventInsertResult, error)

	// Read side.
	ListRecentRecordings(ctx context.Context, since time.Time) ([]*models.RecordingReport, error)

	HealthCheck(ctx context.Context) error
}

// PlantInsertResult reports the outcome of the plant phase.
type PlantInsertResult struct {
	Inserted            int
	UnresolvedLocations int
}

// EventInsertResult reports the outcome of the recording-event phase.
type EventInsertResult struct {
	Inserted            int
	UnresolvedPlants    int
	UnresolvedBotanists int
}

// nameKey is the botanist natural key.
type nameKey struct {
	first string
	last  string
}

// coordKey is the origin-location natural key, compared as float64 exactly.
type coordKey struct {
	longitude float64
	latitude  float64
}

// plantRepository implements PlantRepository
type plantRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPlantRepository creates a new plant repository
func NewPlantRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) PlantRepository {
	return &plantRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// InsertBotanists inserts candidate botanists whose (first_name, last_name)
// pair is not already present in the store. Candidates are expected to be
// deduplicated by the caller; the returned count is the number inserted.
func (r *plantRepository) InsertBotanists(ctx context.Context, candidates []models.Botanist) (int, error) {
	timer := r.metrics.NewTimer(r.metrics.LoadPhaseDuration.WithLabelValues("botanist"))
	defer timer.ObserveDuration()

	if len(candidates) == 0 {
		return 0, nil
	}

	var existing []models.Botanist
	err := r.db.SelectContext(ctx, "existing_botanists", &existing,
		`SELECT first_name, last_name FROM botanist`)
	if err != nil {
		return 0, fmt.Errorf("failed to query existing botanists: %w", err)
	}

	known := make(map[nameKey]struct{}, len(existing))
	for _, b := range existing {
		known[nameKey{b.FirstName, b.LastName}] = struct{}{}
	}

	insert := make([]models.Botanist, 0, len(candidates))
	for _, b := range candidates {
		if _, ok := known[nameKey{b.FirstName, b.LastName}]; ok {
			continue
		}
		insert = append(insert, b)
	}

	if len(insert) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin botanist transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO botanist (first_name, last_name, email, phone_number)
		VALUES (:first_name, :last_name, :email, :phone_number)
	`, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to insert botanists: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit botanist transaction: %w", err)
	}

	r.metrics.RecordInserted("botanist", len(insert))
	r.logger.Debug(ctx, "[REPO_BOTANISTS] Botanists inserted", logging.Fields{
		"candidates": len(candidates),
		"inserted":   len(insert),
	})

	return len(insert), nil
}

// InsertOriginLocations inserts candidate locations whose
// (longitude, latitude) pair is not already present.
func (r *plantRepository) InsertOriginLocations(ctx context.Context, candidates []models.OriginLocation) (int, error) {
	timer := r.metrics.NewTimer(r.metrics.LoadPhaseDuration.WithLabelValues("origin_location"))
	defer timer.ObserveDuration()

	if len(candidates) == 0 {
		return 0, nil
	}

	var existing []models.OriginLocation
	err := r.db.SelectContext(ctx, "existing_locations", &existing,
		`SELECT longitude, latitude FROM origin_location`)
	if err != nil {
		return 0, fmt.Errorf("failed to query existing locations: %w", err)
	}

	known := make(map[coordKey]struct{}, len(existing))
	for _, loc := range existing {
		known[coordKey{loc.Longitude, loc.Latitude}] = struct{}{}
	}

	insert := make([]models.OriginLocation, 0, len(candidates))
	for _, loc := range candidates {
		if _, ok := known[coordKey{loc.Longitude, loc.Latitude}]; ok {
			continue
		}
		insert = append(insert, loc)
	}

	if len(insert) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin location transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO origin_location (longitude, latitude, town, country, country_abbreviation, continent)
		VALUES (:longitude, :latitude, :town, :country, :country_abbreviation, :continent)
	`, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to insert locations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit location transaction: %w", err)
	}

	r.metrics.RecordInserted("origin_location", len(insert))
	r.logger.Debug(ctx, "[REPO_LOCATIONS] Origin locations inserted", logging.Fields{
		"candidates": len(candidates),
		"inserted":   len(insert),
	})

	return len(insert), nil
}

// InsertPlants resolves each candidate's origin location by coordinate
// match against the committed location table, drops candidates whose
// coordinates resolve to no stored location, skips names already present,
// and inserts the rest. Depends on the location phase having committed.
func (r *plantRepository) InsertPlants(ctx context.Context, candidates []models.PlantCandidate) (*PlantInsertResult, error) {
	timer := r.metrics.NewTimer(r.metrics.LoadPhaseDuration.WithLabelValues("plant"))
	defer timer.ObserveDuration()

	result := &PlantInsertResult{}
	if len(candidates) == 0 {
		return result, nil
	}

	var locations []models.OriginLocation
	err := r.db.SelectContext(ctx, "location_ids", &locations,
		`SELECT origin_location_id, longitude, latitude FROM origin_location`)
	if err != nil {
		return nil, fmt.Errorf("failed to query location ids: %w", err)
	}

	locationByCoord := make(map[coordKey]int64, len(locations))
	for _, loc := range locations {
		locationByCoord[coordKey{loc.Longitude, loc.Latitude}] = loc.OriginLocationID
	}

	var existing []models.Plant
	err = r.db.SelectContext(ctx, "existing_plants", &existing,
		`SELECT name FROM plant`)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing plants: %w", err)
	}

	knownNames := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		knownNames[p.Name] = struct{}{}
	}

	insert := make([]models.Plant, 0, len(candidates))
	for _, c := range candidates {
		locationID, ok := locationByCoord[coordKey{c.Longitude, c.Latitude}]
		if !ok {
			result.UnresolvedLocations++
			r.metrics.RecordDrop(metrics.DropUnresolvedLocation)
			r.logger.Warn(ctx, "[REPO_PLANTS] Dropping plant with unresolved location", logging.Fields{
				"name":      c.Name,
				"longitude": c.Longitude,
				"latitude":  c.Latitude,
			})
			continue
		}
		if _, ok := knownNames[c.Name]; ok {
			continue
		}
		insert = append(insert, models.Plant{
			Name:             c.Name,
			ScientificName:   c.ScientificName,
			OriginLocationID: locationID,
			ImageURL:         c.ImageURL,
		})
	}

	if len(insert) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin plant transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO plant (name, scientific_name, origin_location_id, image_url)
		VALUES (:name, :scientific_name, :origin_location_id, :image_url)
	`, insert)
	if err != nil {
		return nil, fmt.Errorf("failed to insert plants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plant transaction: %w", err)
	}

	result.Inserted = len(insert)
	r.metrics.RecordInserted("plant", len(insert))
	r.logger.Debug(ctx, "[REPO_PLANTS] Plants inserted", logging.Fields{
		"candidates": len(candidates),
		"inserted":   len(insert),
		"unresolved": result.UnresolvedLocations,
	})

	return result, nil
}

// eventRow is the insert shape for the recording_event table.
type eventRow struct {
	PlantID        int64     `db:"plant_id"`
	BotanistID     int64     `db:"botanist_id"`
	SoilMoisture   float64   `db:"soil_moisture"`
	Temperature    float64   `db:"temperature"`
	RecordingTaken time.Time `db:"recording_taken"`
	LastWatered    time.Time `db:"last_watered"`
}

// InsertRecordingEvents resolves the plant by exact name and the botanist by
// exact (first_name, last_name) against current store contents, using maps
// built once for the phase. A reading whose plant or botanist cannot be
// resolved is a counted row-level failure; the remaining rows are inserted
// with no deduplication. Depends on the botanist and plant phases.
func (r *plantRepository) InsertRecordingEvents(ctx context.Context, readings []models.Reading) (*EventInsertResult, error) {
	timer := r.metrics.NewTimer(r.metrics.LoadPhaseDuration.WithLabelValues("recording_event"))
	defer timer.ObserveDuration()

	result := &EventInsertResult{}
	if len(readings) == 0 {
		return result, nil
	}

	var plants []models.Plant
	err := r.db.SelectContext(ctx, "plant_ids", &plants,
		`SELECT plant_id, name FROM plant`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plant ids: %w", err)
	}

	plantByName := make(map[string]int64, len(plants))
	for _, p := range plants {
		plantByName[p.Name] = p.PlantID
	}

	var botanists []models.Botanist
	err = r.db.SelectContext(ctx, "botanist_ids", &botanists,
		`SELECT botanist_id, first_name, last_name FROM botanist`)
	if err != nil {
		return nil, fmt.Errorf("failed to query botanist ids: %w", err)
	}

	botanistByName := make(map[nameKey]int64, len(botanists))
	for _, b := range botanists {
		botanistByName[nameKey{b.FirstName, b.LastName}] = b.BotanistID
	}

	insert := make([]eventRow, 0, len(readings))
	for _, reading := range readings {
		plantID, ok := plantByName[reading.Name]
		if !ok {
			result.UnresolvedPlants++
			r.metrics.RecordDrop(metrics.DropUnresolvedPlant)
			r.logger.Warn(ctx, "[REPO_EVENTS] Dropping reading with unresolved plant", logging.Fields{
				"name": reading.Name,
			})
			continue
		}
		botanistID, ok := botanistByName[nameKey{reading.FirstName, reading.LastName}]
		if !ok {
			result.UnresolvedBotanists++
			r.metrics.RecordDrop(metrics.DropUnresolvedBotanist)
			r.logger.Warn(ctx, "[REPO_EVENTS] Dropping reading with unresolved botanist", logging.Fields{
				"first_name": reading.FirstName,
				"last_name":  reading.LastName,
			})
			continue
		}
		insert = append(insert, eventRow{
			PlantID:        plantID,
			BotanistID:     botanistID,
			SoilMoisture:   reading.SoilMoisture,
			Temperature:    reading.Temperature,
			RecordingTaken: reading.RecordingTaken,
			LastWatered:    reading.LastWatered,
		})
	}

	if len(insert) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO recording_event (plant_id, botanist_id, soil_moisture, temperature, recording_taken, last_watered)
		VALUES (:plant_id, :botanist_id, :soil_moisture, :temperature, :recording_taken, :last_watered)
	`, insert)
	if err != nil {
		return nil, fmt.Errorf("failed to insert recording events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event transaction: %w", err)
	}

	result.Inserted = len(insert)
	r.metrics.RecordInserted("recording_event", len(insert))
	r.logger.Debug(ctx, "[REPO_EVENTS] Recording events inserted", logging.Fields{
		"readings":             len(readings),
		"inserted":             len(insert),
		"unresolved_plants":    result.UnresolvedPlants,
		"unresolved_botanists": result.UnresolvedBotanists,
	})

	return result, nil
}

// ListRecentRecordings returns recording events taken after the given
// instant, joined across the four tables. This is the boundary exposed to
// the dashboard and health-check collaborators.
func (r *plantRepository) ListRecentRecordings(ctx context.Context, since time.Time) ([]*models.RecordingReport, error) {
	query := `
		SELECT recording_event.recording_event_id,
		       plant.plant_id, plant.name,
		       origin_location.continent, origin_location.country,
		       botanist.first_name, botanist.last_name, botanist.email,
		       recording_event.soil_moisture, recording_event.temperature,
		       recording_event.recording_taken
		FROM recording_event
		JOIN plant ON plant.plant_id = recording_event.plant_id
		JOIN botanist ON botanist.botanist_id = recording_event.botanist_id
		JOIN origin_location ON origin_location.origin_location_id = plant.origin_location_id
		WHERE recording_event.recording_taken > $1
		ORDER BY recording_event.recording_taken DESC
	`

	var reports []*models.RecordingReport
	err := r.db.SelectContext(ctx, "recent_recordings", &reports, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent recordings: %w", err)
	}

	return reports, nil
}

// HealthCheck performs a repository health check
func (r *plantRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
