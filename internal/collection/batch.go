package collection

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aevon-lab/meterflow/internal/core/meter"
)

type meterResult struct {
	meter   meter.Meter
	reading meter.Reading
	err     error
}

// tickOutcome is what one tick hands to the stats tracker.
type tickOutcome struct {
	attempts    int
	succeeded   int
	failed      int
	batches     int
	lastFailure string
	readings    []meter.Reading
}

// partitionBatches splits meters into consecutive slices of at most size.
func partitionBatches(meters []meter.Meter, size int) [][]meter.Meter {
	if size <= 0 {
		size = defaultBatchSize
	}
	batches := make([][]meter.Meter, 0, (len(meters)+size-1)/size)
	for start := 0; start < len(meters); start += size {
		end := min(start+size, len(meters))
		batches = append(batches, meters[start:end])
	}
	return batches
}

// collectBatches reads every batch in order. Meters inside a batch are read
// concurrently and awaited as a group before the next batch starts.
func (s *Scheduler) collectBatches(ctx context.Context, meters []meter.Meter) tickOutcome {
	batches := partitionBatches(meters, s.cfg.BatchSize)
	out := tickOutcome{attempts: len(meters), batches: len(batches)}

	for i, batch := range batches {
		for _, r := range s.collectBatch(ctx, batch) {
			if r.err != nil {
				out.failed++
				out.lastFailure = r.err.Error()
				continue
			}
			out.succeeded++
			out.readings = append(out.readings, r.reading)
		}

		if i < len(batches)-1 && s.cfg.BatchPause > 0 {
			select {
			case <-time.After(s.cfg.BatchPause):
			case <-ctx.Done():
			}
		}
	}
	return out
}

func (s *Scheduler) collectBatch(ctx context.Context, batch []meter.Meter) []meterResult {
	results := make([]meterResult, len(batch))

	// Goroutines never return an error: a failed meter is recorded in its
	// own slot and must not cancel its siblings.
	var g errgroup.Group
	for i, m := range batch {
		g.Go(func() error {
			reading, err := s.collector.Collect(ctx, m)
			results[i] = meterResult{meter: m, reading: reading, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
