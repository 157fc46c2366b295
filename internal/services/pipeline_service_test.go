package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-monitor/internal/config"
	"plant-monitor/internal/models"
	"plant-monitor/internal/plantsapi"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("services-test", "0.0.0", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func testCollector() *metrics.Collector {
	return metrics.NewCollector("services_test", prometheus.NewRegistry())
}

// captureLoader records the cleaned table handed to the load stage.
type captureLoader struct {
	rows []models.Reading
}

func (c *captureLoader) Load(ctx context.Context, readings []models.Reading) *LoadResult {
	c.rows = readings
	return &LoadResult{EventsInserted: len(readings)}
}

// plantPayload builds one well-formed raw record for a fake API.
func plantPayload(id int, temperature float64) map[string]interface{} {
	return map[string]interface{}{
		"plant_id":        id,
		"name":            fmt.Sprintf("Plant %d", id),
		"scientific_name": []string{fmt.Sprintf("Plantus %d", id)},
		"botanist": map[string]interface{}{
			"name":  "Eliza Andrews",
			"email": "eliza.andrews@example.org",
			"phone": "000",
		},
		"origin_location": []string{"17.94979", "-94.91386", "Acayucan", "MX", "America/Mexico_City"},
		"recording_taken": "2023-12-21 10:29:12",
		"last_watered":    "Wed, 20 Dec 2023 14:02:15 GMT",
		"soil_moisture":   28.46,
		"temperature":     temperature,
	}
}

// newFakeAPI serves well-formed records for every id, with per-id overrides:
// ids in missing return an error object, ids in broken return garbage.
func newFakeAPI(t *testing.T, missing, broken map[int]bool, temperature float64) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc("/plants/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(mux.Vars(r)["id"])
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case missing[id]:
			fmt.Fprintf(w, `{"error":"plant not found","plant_id":%d}`, id)
		case broken[id]:
			w.Write([]byte(`not json at all`))
		default:
			require.NoError(t, json.NewEncoder(w).Encode(plantPayload(id, temperature)))
		}
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newTestPipeline(server *httptest.Server, loader recordLoader, workers int) *PipelineService {
	logger := testLogger()
	collector := testCollector()
	fetcher := plantsapi.NewClient(config.APIConfig{
		BaseURL:        server.URL,
		TimeoutSeconds: 5,
	}, logger, collector)
	return NewPipelineService(fetcher, loader, logger, collector, workers)
}

func TestPartitionSegments(t *testing.T) {
	tests := []struct {
		name    string
		start   int
		count   int
		workers int
		want    []segment
	}{
		{
			name:  "fifty ids across four workers",
			start: 0, count: 50, workers: 4,
			want: []segment{{0, 13}, {13, 26}, {26, 39}, {39, 50}},
		},
		{
			name:  "thirteen ids across four workers",
			start: 0, count: 13, workers: 4,
			want: []segment{{0, 4}, {4, 8}, {8, 12}, {12, 13}},
		},
		{
			name:  "fewer ids than workers",
			start: 0, count: 3, workers: 4,
			want: []segment{{0, 1}, {1, 2}, {2, 3}},
		},
		{
			name:  "non-zero start offset",
			start: 5, count: 10, workers: 2,
			want: []segment{{5, 10}, {10, 15}},
		},
		{
			name:  "empty id space",
			start: 0, count: 0, workers: 4,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := partitionSegments(tt.start, tt.count, tt.workers)
			assert.Equal(t, tt.want, got)

			// Segments must be contiguous, non-overlapping, and cover the space.
			covered := 0
			for i, seg := range got {
				covered += seg.end - seg.start
				if i > 0 {
					assert.Equal(t, got[i-1].end, seg.start)
				}
			}
			assert.Equal(t, tt.count, covered)
		})
	}
}

func TestCleanReadings(t *testing.T) {
	readings := []models.Reading{
		{Name: "kept", Temperature: 9.39, SoilMoisture: 28.46},
		{Name: "temp at zero", Temperature: 0, SoilMoisture: 50},
		{Name: "temp at thirty", Temperature: 30, SoilMoisture: 50},
		{Name: "temp too hot", Temperature: 50, SoilMoisture: 50},
		{Name: "moisture at zero", Temperature: 15, SoilMoisture: 0},
		{Name: "moisture at hundred", Temperature: 15, SoilMoisture: 100},
		{Name: "also kept", Temperature: 29.99, SoilMoisture: 0.01},
	}

	kept, dropped := CleanReadings(readings)

	assert.Equal(t, 5, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "kept", kept[0].Name)
	assert.Equal(t, "also kept", kept[1].Name)
}

func TestPipelineRunSkipsMissingPlants(t *testing.T) {
	server := newFakeAPI(t, map[int]bool{5: true, 7: true}, nil, 9.39)
	loader := &captureLoader{}
	pipeline := newTestPipeline(server, loader, 4)

	result := pipeline.Run(context.Background(), 0, 13)

	assert.Equal(t, 13, result.Requested)
	assert.Equal(t, 11, result.Fetched)
	assert.Equal(t, 2, result.Missing)
	assert.Equal(t, 0, result.FetchFailures)
	assert.Equal(t, 0, result.DroppedMalformed)
	assert.Equal(t, 0, result.DroppedInvalid)
	assert.Equal(t, 11, result.LoadedRows)
	assert.Len(t, loader.rows, 11)
}

func TestPipelineRunIsolatesItemFailures(t *testing.T) {
	server := newFakeAPI(t, nil, map[int]bool{3: true}, 9.39)
	loader := &captureLoader{}
	pipeline := newTestPipeline(server, loader, 2)

	result := pipeline.Run(context.Background(), 0, 10)

	// The broken id costs exactly one row; the rest of its segment survives.
	assert.Equal(t, 1, result.FetchFailures)
	assert.Equal(t, 9, result.Fetched)
	assert.Len(t, loader.rows, 9)
}

func TestPipelineRunExcludesOutOfRangeTemperature(t *testing.T) {
	t.Run("temperature 50 is excluded", func(t *testing.T) {
		server := newFakeAPI(t, nil, nil, 50)
		loader := &captureLoader{}
		pipeline := newTestPipeline(server, loader, 1)

		result := pipeline.Run(context.Background(), 49, 1)

		assert.Equal(t, 1, result.Fetched)
		assert.Equal(t, 1, result.DroppedInvalid)
		assert.Equal(t, 0, result.LoadedRows)
		assert.Empty(t, loader.rows)
		assert.Equal(t, 0, result.Load.EventsInserted)
	})

	t.Run("temperature 9.39 is retained", func(t *testing.T) {
		server := newFakeAPI(t, nil, nil, 9.39)
		loader := &captureLoader{}
		pipeline := newTestPipeline(server, loader, 1)

		result := pipeline.Run(context.Background(), 49, 1)

		assert.Equal(t, 1, result.Fetched)
		assert.Equal(t, 0, result.DroppedInvalid)
		assert.Equal(t, 1, result.LoadedRows)
		require.Len(t, loader.rows, 1)
		assert.Equal(t, "Plant 49", loader.rows[0].Name)
		assert.Equal(t, 1, result.Load.EventsInserted)
	})
}

func TestPipelineRunEndToEnd(t *testing.T) {
	t.Run("out-of-range temperature loads nothing", func(t *testing.T) {
		server := newFakeAPI(t, nil, nil, 50)
		repo := newFakePlantRepo()
		loader := NewLoadService(repo, testLogger(), testCollector())
		pipeline := newTestPipeline(server, loader, 1)

		pipeline.Run(context.Background(), 49, 1)

		assert.Empty(t, repo.events)
	})

	t.Run("in-range temperature loads one event row", func(t *testing.T) {
		server := newFakeAPI(t, nil, nil, 9.39)
		repo := newFakePlantRepo()
		loader := NewLoadService(repo, testLogger(), testCollector())
		pipeline := newTestPipeline(server, loader, 1)

		result := pipeline.Run(context.Background(), 49, 1)

		require.Len(t, repo.events, 1)
		assert.Len(t, repo.plants, 1)
		assert.Len(t, repo.botanists, 1)
		assert.Len(t, repo.locations, 1)
		assert.Equal(t, 1, result.Load.EventsInserted)
	})
}

func TestPipelineRunDropsMalformedRecords(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/plants/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(mux.Vars(r)["id"])
		payload := plantPayload(id, 9.39)
		if id == 1 {
			delete(payload, "botanist")
		}
		json.NewEncoder(w).Encode(payload)
	})
	server := httptest.NewServer(router)
	defer server.Close()

	loader := &captureLoader{}
	pipeline := newTestPipeline(server, loader, 2)

	result := pipeline.Run(context.Background(), 0, 4)

	assert.Equal(t, 4, result.Fetched)
	assert.Equal(t, 1, result.DroppedMalformed)
	assert.Len(t, loader.rows, 3)
}
