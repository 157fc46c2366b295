package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"plant-monitor/internal/models"
	"plant-monitor/internal/plantsapi"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

// plantFetcher retrieves one raw record per plant id.
type plantFetcher interface {
	FetchPlant(ctx context.Context, id int) (map[string]interface{}, error)
}

// recordLoader persists a cleaned reading table.
type recordLoader interface {
	Load(ctx context.Context, readings []models.Reading) *LoadResult
}

// RunResult contains the per-run summary aggregated across all workers and
// load phases.
type RunResult struct {
	Requested        int
	Fetched          int
	Missing          int
	FetchFailures    int
	DroppedMalformed int
	DroppedInvalid   int
	LoadedRows       int
	Load             *LoadResult
	Duration         time.Duration
}

// PipelineService orchestrates one batch pass: fan the identifier space out
// across a fixed-size worker pool, merge the normalized per-worker tables,
// clean the merged table, and hand it to the loader.
type PipelineService struct {
	fetcher plantFetcher
	loader  recordLoader
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	workers int
}

// NewPipelineService creates a new pipeline service with the given worker
// pool size.
func NewPipelineService(fetcher plantFetcher, loader recordLoader, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, workers int) *PipelineService {
	if workers <= 0 {
		workers = 4
	}
	return &PipelineService{
		fetcher: fetcher,
		loader:  loader,
		logger:  logger,
		metrics: metricsCollector,
		workers: workers,
	}
}

// segment is a contiguous sub-range [start, end) of plant ids assigned to
// one worker.
type segment struct {
	start int
	end   int
}

// segmentResult is one worker's private output. Workers share no mutable
// state: each writes only its own slot.
type segmentResult struct {
	rows          []models.Reading
	fetched       int
	missing       int
	fetchFailures int
	malformed     int
}

// Run executes one complete pipeline pass over ids [startID, startID+count).
// It always runs to completion: per-item failures are counted, never fatal.
func (s *PipelineService) Run(ctx context.Context, startID, count int) *RunResult {
	startTime := time.Now()

	segments := partitionSegments(startID, count, s.workers)

	s.logger.Info(ctx, "[PIPELINE_START] Starting pipeline run", logging.Fields{
		"start_id": startID,
		"count":    count,
		"workers":  len(segments),
	})

	results := make([]segmentResult, len(segments))

	var wg sync.WaitGroup
	for i, seg := range segments {
		wg.Add(1)
		go func(worker int, seg segment) {
			defer wg.Done()
			results[worker] = s.runSegment(ctx, worker, seg)
		}(i, seg)
	}
	wg.Wait()

	result := &RunResult{Requested: count}
	var merged []models.Reading
	for i := range results {
		merged = append(merged, results[i].rows...)
		result.Fetched += results[i].fetched
		result.Missing += results[i].missing
		result.FetchFailures += results[i].fetchFailures
		result.DroppedMalformed += results[i].malformed
	}

	cleaned, droppedInvalid := CleanReadings(merged)
	result.DroppedInvalid = droppedInvalid
	result.LoadedRows = len(cleaned)
	s.metrics.RecordDrops(metrics.DropOutOfRange, droppedInvalid)

	result.Load = s.loader.Load(ctx, cleaned)

	result.Duration = time.Since(startTime)
	s.metrics.PipelineDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[PIPELINE_COMPLETE] Pipeline run completed", logging.Fields{
		"requested":         result.Requested,
		"fetched":           result.Fetched,
		"missing":           result.Missing,
		"fetch_failures":    result.FetchFailures,
		"dropped_malformed": result.DroppedMalformed,
		"dropped_invalid":   result.DroppedInvalid,
		"loaded_rows":       result.LoadedRows,
		"duration_seconds":  result.Duration.Seconds(),
	})

	return result
}

// runSegment fetches and normalizes one worker's id range sequentially.
// Every failure is isolated to its own id: the segment always runs to its
// end, so one bad record never costs the rest of the range.
func (s *PipelineService) runSegment(ctx context.Context, worker int, seg segment) segmentResult {
	log := s.logger.WithFields(logging.Fields{
		"worker":        worker,
		"segment_start": seg.start,
		"segment_end":   seg.end,
	})

	var result segmentResult
	for id := seg.start; id < seg.end; id++ {
		raw, err := s.fetcher.FetchPlant(ctx, id)
		if errors.Is(err, plantsapi.ErrPlantNotFound) {
			result.missing++
			s.metrics.RecordDrop(metrics.DropMissing)
			continue
		}
		if err != nil {
			result.fetchFailures++
			s.metrics.RecordDrop(metrics.DropFetchError)
			log.Warn(ctx, "[FETCH_ERROR] Failed to fetch plant", logging.Fields{
				"plant_id": id,
				"error":    err.Error(),
			})
			continue
		}
		result.fetched++
		s.metrics.RecordsFetchedTotal.Inc()

		reading, err := models.NormalizeRecord(raw)
		if err != nil {
			result.malformed++
			s.metrics.RecordDrop(metrics.DropMalformed)
			log.Debug(ctx, "[NORMALIZE_DROP] Dropping malformed record", logging.Fields{
				"plant_id": id,
				"reason":   err.Error(),
			})
			continue
		}
		result.rows = append(result.rows, *reading)
	}

	log.Debug(ctx, "[SEGMENT_COMPLETE] Worker finished segment", logging.Fields{
		"fetched":        result.fetched,
		"missing":        result.missing,
		"fetch_failures": result.fetchFailures,
		"malformed":      result.malformed,
	})

	return result
}

// CleanReadings removes rows whose measurements fall outside the plausible
// bounds. Both filters are exclusive and commutative, so the result does not
// depend on evaluation order.
func CleanReadings(readings []models.Reading) ([]models.Reading, int) {
	kept := make([]models.Reading, 0, len(readings))
	dropped := 0
	for i := range readings {
		if !readings[i].InRange() {
			dropped++
			continue
		}
		kept = append(kept, readings[i])
	}
	return kept, dropped
}

// partitionSegments splits [start, start+count) into at most workers
// contiguous, non-overlapping segments.
func partitionSegments(start, count, workers int) []segment {
	if count <= 0 || workers <= 0 {
		return nil
	}
	size := (count + workers - 1) / workers

	var segments []segment
	for lo := start; lo < start+count; lo += size {
		hi := lo + size
		if hi > start+count {
			hi = start + count
		}
		segments = append(segments, segment{start: lo, end: hi})
	}
	return segments
}
