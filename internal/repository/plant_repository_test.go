package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-monitor/internal/models"
	"plant-monitor/pkg/database"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

func newMockRepo(t *testing.T) (PlantRepository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := logging.NewStructuredLogger("repository-test", "0.0.0", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	collector := metrics.NewCollector("repository_test", prometheus.NewRegistry())

	db := database.Wrap(sqlx.NewDb(mockDB, "postgres"), logger, collector)
	return NewPlantRepository(db, logger, collector), mock
}

func strPtr(s string) *string { return &s }

func TestInsertBotanists(t *testing.T) {
	candidates := []models.Botanist{
		{FirstName: "Eliza", LastName: "Andrews", Email: "eliza@example.org", PhoneNumber: "000"},
		{FirstName: "Carl", LastName: "Linnaeus", Email: "carl@example.org", PhoneNumber: "111"},
	}

	t.Run("skips existing name pairs", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT first_name, last_name FROM botanist").
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name"}).
				AddRow("Eliza", "Andrews"))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO botanist").
			WithArgs("Carl", "Linnaeus", "carl@example.org", "111").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inserted, err := repo.InsertBotanists(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inserts everything into an empty store", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT first_name, last_name FROM botanist").
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name"}))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO botanist").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		inserted, err := repo.InsertBotanists(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no transaction when everything exists", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT first_name, last_name FROM botanist").
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name"}).
				AddRow("Eliza", "Andrews").
				AddRow("Carl", "Linnaeus"))

		inserted, err := repo.InsertBotanists(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no queries for an empty candidate list", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		inserted, err := repo.InsertBotanists(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates insert failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT first_name, last_name FROM botanist").
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name"}))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO botanist").
			WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		_, err := repo.InsertBotanists(context.Background(), candidates)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert botanists")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInsertOriginLocations(t *testing.T) {
	candidates := []models.OriginLocation{
		{Longitude: 17.94979, Latitude: -94.91386, Town: "Acayucan", Country: "Mexico_City", CountryAbbreviation: "MX", Continent: "America"},
		{Longitude: -41.25, Latitude: 96.71, Town: "Split", Country: "Zagreb", CountryAbbreviation: "HR", Continent: "Europe"},
	}

	t.Run("skips existing coordinate pairs", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT longitude, latitude FROM origin_location").
			WillReturnRows(sqlmock.NewRows([]string{"longitude", "latitude"}).
				AddRow(17.94979, -94.91386))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO origin_location").
			WithArgs(-41.25, 96.71, "Split", "Zagreb", "HR", "Europe").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inserted, err := repo.InsertOriginLocations(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("coordinates must match exactly", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		// Off by the last digit: not the same natural key.
		mock.ExpectQuery("SELECT longitude, latitude FROM origin_location").
			WillReturnRows(sqlmock.NewRows([]string{"longitude", "latitude"}).
				AddRow(17.94979, -94.91387))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO origin_location").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		inserted, err := repo.InsertOriginLocations(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInsertPlants(t *testing.T) {
	candidates := []models.PlantCandidate{
		{Name: "Crassula Ovata", ScientificName: strPtr("Crassula ovata"), Longitude: 17.94979, Latitude: -94.91386},
		{Name: "Ghost Plant", Longitude: 99.9, Latitude: 99.9},
	}

	t.Run("resolves locations and drops unresolved candidates", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT origin_location_id, longitude, latitude FROM origin_location").
			WillReturnRows(sqlmock.NewRows([]string{"origin_location_id", "longitude", "latitude"}).
				AddRow(int64(7), 17.94979, -94.91386))
		mock.ExpectQuery("SELECT name FROM plant").
			WillReturnRows(sqlmock.NewRows([]string{"name"}))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO plant").
			WithArgs("Crassula Ovata", "Crassula ovata", int64(7), nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := repo.InsertPlants(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Inserted)
		assert.Equal(t, 1, result.UnresolvedLocations)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips existing names without a transaction", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT origin_location_id, longitude, latitude FROM origin_location").
			WillReturnRows(sqlmock.NewRows([]string{"origin_location_id", "longitude", "latitude"}).
				AddRow(int64(7), 17.94979, -94.91386).
				AddRow(int64(8), 99.9, 99.9))
		mock.ExpectQuery("SELECT name FROM plant").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).
				AddRow("Crassula Ovata").
				AddRow("Ghost Plant"))

		result, err := repo.InsertPlants(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 0, result.UnresolvedLocations)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInsertRecordingEvents(t *testing.T) {
	taken := time.Date(2023, 12, 21, 10, 29, 12, 0, time.UTC)
	watered := time.Date(2023, 12, 20, 14, 2, 15, 0, time.UTC)

	readings := []models.Reading{
		{Name: "Crassula Ovata", FirstName: "Eliza", LastName: "Andrews",
			SoilMoisture: 28.46, Temperature: 9.39, RecordingTaken: taken, LastWatered: watered},
		{Name: "Unknown Plant", FirstName: "Eliza", LastName: "Andrews",
			SoilMoisture: 30, Temperature: 10, RecordingTaken: taken, LastWatered: watered},
		{Name: "Crassula Ovata", FirstName: "Nemo", LastName: "Nobody",
			SoilMoisture: 30, Temperature: 10, RecordingTaken: taken, LastWatered: watered},
	}

	t.Run("counts unresolved plants and botanists per row", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT plant_id, name FROM plant").
			WillReturnRows(sqlmock.NewRows([]string{"plant_id", "name"}).
				AddRow(int64(1), "Crassula Ovata"))
		mock.ExpectQuery("SELECT botanist_id, first_name, last_name FROM botanist").
			WillReturnRows(sqlmock.NewRows([]string{"botanist_id", "first_name", "last_name"}).
				AddRow(int64(2), "Eliza", "Andrews"))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO recording_event").
			WithArgs(int64(1), int64(2), 28.46, 9.39, taken, watered).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := repo.InsertRecordingEvents(context.Background(), readings)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Inserted)
		assert.Equal(t, 1, result.UnresolvedPlants)
		assert.Equal(t, 1, result.UnresolvedBotanists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no transaction when nothing resolves", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectQuery("SELECT plant_id, name FROM plant").
			WillReturnRows(sqlmock.NewRows([]string{"plant_id", "name"}))
		mock.ExpectQuery("SELECT botanist_id, first_name, last_name FROM botanist").
			WillReturnRows(sqlmock.NewRows([]string{"botanist_id", "first_name", "last_name"}))

		result, err := repo.InsertRecordingEvents(context.Background(), readings)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 3, result.UnresolvedPlants)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeated readings are never deduplicated", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		duplicate := []models.Reading{readings[0], readings[0]}

		mock.ExpectQuery("SELECT plant_id, name FROM plant").
			WillReturnRows(sqlmock.NewRows([]string{"plant_id", "name"}).
				AddRow(int64(1), "Crassula Ovata"))
		mock.ExpectQuery("SELECT botanist_id, first_name, last_name FROM botanist").
			WillReturnRows(sqlmock.NewRows([]string{"botanist_id", "first_name", "last_name"}).
				AddRow(int64(2), "Eliza", "Andrews"))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO recording_event").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		result, err := repo.InsertRecordingEvents(context.Background(), duplicate)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListRecentRecordings(t *testing.T) {
	repo, mock := newMockRepo(t)

	since := time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC)
	taken := time.Date(2023, 12, 21, 10, 29, 12, 0, time.UTC)

	columns := []string{
		"recording_event_id", "plant_id", "name", "continent", "country",
		"first_name", "last_name", "email", "soil_moisture", "temperature",
		"recording_taken",
	}
	mock.ExpectQuery("SELECT recording_event.recording_event_id").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(10), int64(1), "Crassula Ovata", "America", "Mexico_City",
				"Eliza", "Andrews", "eliza@example.org", 28.46, 9.39, taken))

	reports, err := repo.ListRecentRecordings(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Crassula Ovata", reports[0].Name)
	assert.Equal(t, "America", reports[0].Continent)
	assert.Equal(t, 9.39, reports[0].Temperature)
	assert.NoError(t, mock.ExpectationsWereMet())
}
