// cmd/eventlog/eventlog_test.go
package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typerace/typerace/internal/cache"
)

// collectorService builds a service whose persist function records batches
// in memory instead of writing to Postgres.
func collectorService(batchSize int) (*EventLogService, func() [][]cache.ResultEventRecord) {
	var mu sync.Mutex
	var flushed [][]cache.ResultEventRecord

	ctx, cancel := context.WithCancel(context.Background())
	es := &EventLogService{
		batchSize:  batchSize,
		flushDelay: 50 * time.Millisecond,
		inactivity: time.Hour,
		batch:      make([]cache.ResultEventRecord, 0, batchSize),
		ctx:        ctx,
		cancelFn:   cancel,
		persist: func(ctx context.Context, batch []cache.ResultEventRecord) error {
			mu.Lock()
			defer mu.Unlock()
			flushed = append(flushed, batch)
			return nil
		},
	}
	return es, func() [][]cache.ResultEventRecord {
		mu.Lock()
		defer mu.Unlock()
		out := make([][]cache.ResultEventRecord, len(flushed))
		copy(out, flushed)
		return out
	}
}

func TestAppendToBatchFlushesAtThreshold(t *testing.T) {
	es, flushes := collectorService(2)
	defer es.Stop()

	done := make(chan struct{})
	go func() {
		es.appendToBatch(cache.ResultEventRecord{EventIndex: 1})
		es.appendToBatch(cache.ResultEventRecord{EventIndex: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("appendToBatch must return when it flushes a full batch")
	}

	got := flushes()
	require.Len(t, got, 1, "hitting the threshold flushes exactly once")
	require.Len(t, got[0], 2)
	assert.Equal(t, 1, got[0][0].EventIndex)
	assert.Equal(t, 2, got[0][1].EventIndex)

	es.batchMu.Lock()
	assert.Empty(t, es.batch, "flushed records leave the batch")
	es.batchMu.Unlock()
}

func TestFlushBatchToDBBelowThreshold(t *testing.T) {
	es, flushes := collectorService(10)
	defer es.Stop()

	es.appendToBatch(cache.ResultEventRecord{EventIndex: 1})
	assert.Empty(t, flushes(), "below the threshold nothing flushes")

	es.flushBatchToDB()
	got := flushes()
	require.Len(t, got, 1, "the periodic flush drains partial batches")
	assert.Len(t, got[0], 1)

	// Empty batches are a no-op.
	es.flushBatchToDB()
	assert.Len(t, flushes(), 1)
}
