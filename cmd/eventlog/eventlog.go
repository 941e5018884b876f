// cmd/eventlog/eventlog.go is an asynchronous consumer that pops result event
// records from the Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/typerace/typerace/internal/cache"
	"github.com/typerace/typerace/internal/database"
)

// EventLogService encapsulates the Redis + DB logic for capturing competition
// events and marking competitions abandoned when their event stream goes
// quiet. A session evicted mid-competition leaves an 'active' row behind;
// this service is what eventually reaps it.
type EventLogService struct {
	redisClient  *redis.Client
	batchSize    int
	flushDelay   time.Duration
	inactivity   time.Duration
	lastActivity sync.Map // map[uuid.UUID]time.Time per competition

	batchMu  sync.Mutex
	batch    []cache.ResultEventRecord
	ctx      context.Context
	cancelFn context.CancelFunc

	// persist writes one drained batch. Defaults to the pgx transaction
	// writer; tests substitute a collector.
	persist func(ctx context.Context, batch []cache.ResultEventRecord) error
}

// NewEventLogService constructs the service from environment variables or defaults.
func NewEventLogService() *EventLogService {
	batchSize := getEnvInt("EVENT_BATCH_SIZE", 20)
	flushMs := getEnvInt("EVENT_FLUSH_MS", 500)
	inactivitySec := getEnvInt("COMPETITION_INACTIVITY_TIMEOUT_SEC", 3600) // default 1 hour

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &EventLogService{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		inactivity:  time.Duration(inactivitySec) * time.Second,
		batch:       make([]cache.ResultEventRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
		persist:     persistBatch,
	}
}

// Run starts the two main loops:
//  1. A loop that reads from the Redis queue, accumulates records in a batch, and flushes them to the DB.
//  2. A periodic check that marks event-silent competitions as abandoned.
func (es *EventLogService) Run() {
	database.ConnectDB()

	go es.readRedisLoop()
	go es.inactivityLoop()

	log.Println("typerace-eventlog service started.")
	<-es.ctx.Done()
	log.Println("typerace-eventlog shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve records from the Redis queue.
func (es *EventLogService) readRedisLoop() {
	ticker := time.NewTicker(es.flushDelay)
	defer ticker.Stop()

	queueName := getEnv("EVENT_QUEUE_NAME", cache.DefaultQueueName)

	for {
		select {
		case <-es.ctx.Done():
			return

		case <-ticker.C:
			es.flushBatchToDB()

		default:
			// BLPop with a short timeout so context cancellation is handled.
			res, err := es.redisClient.BLPop(es.ctx, 3*time.Second, queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record cache.ResultEventRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid event record: %v\n", err)
				continue
			}

			es.lastActivity.Store(record.CompetitionID, time.Now())
			es.appendToBatch(record)
		}
	}
}

// appendToBatch adds a record to the in-memory batch and flushes if the
// threshold is reached. batchMu is not reentrant, so the threshold path
// goes through flushLocked rather than flushBatchToDB.
func (es *EventLogService) appendToBatch(record cache.ResultEventRecord) {
	es.batchMu.Lock()
	defer es.batchMu.Unlock()

	es.batch = append(es.batch, record)
	if len(es.batch) >= es.batchSize {
		es.flushLocked()
	}
}

// flushBatchToDB flushes the current batch to the database in a single transaction.
func (es *EventLogService) flushBatchToDB() {
	es.batchMu.Lock()
	defer es.batchMu.Unlock()
	es.flushLocked()
}

// flushLocked drains the batch and hands it to the persist function.
// Assumes batchMu is held.
func (es *EventLogService) flushLocked() {
	if len(es.batch) == 0 {
		return
	}
	batchCopy := make([]cache.ResultEventRecord, len(es.batch))
	copy(batchCopy, es.batch)
	es.batch = es.batch[:0]

	if err := es.persist(context.Background(), batchCopy); err != nil {
		log.Printf("[ERROR] flushBatchToDB: %v\n", err)
	} else {
		log.Printf("Flushed %d events to DB.\n", len(batchCopy))
	}
}

// persistBatch inserts a drained batch within a single transaction.
func persistBatch(ctx context.Context, batch []cache.ResultEventRecord) error {
	return beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batch {
			if err := insertEventTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertEventTx: %w", err)
			}
		}
		return nil
	})
}

// inactivityLoop periodically checks whether any competition's event stream
// has been silent beyond the configured threshold, and marks such competitions
// as abandoned.
func (es *EventLogService) inactivityLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-es.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			es.lastActivity.Range(func(key, val interface{}) bool {
				competitionID, ok1 := key.(uuid.UUID)
				last, ok2 := val.(time.Time)
				if ok1 && ok2 && now.Sub(last) > es.inactivity {
					es.markCompetitionAbandoned(competitionID)
					es.lastActivity.Delete(competitionID)
				}
				return true
			})
		}
	}
}

// markCompetitionAbandoned marks a competition 'abandoned' if it never
// reached 'completed'. Completed rows carry final rankings and are left alone.
func (es *EventLogService) markCompetitionAbandoned(competitionID uuid.UUID) {
	ctx := context.Background()
	err := beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE competitions
			SET status = 'abandoned'
			WHERE id = $1 AND status = 'active'
		`
		_, e := tx.Exec(ctx, q, competitionID)
		return e
	})
	if err != nil {
		log.Printf("failed to mark competition %v abandoned: %v", competitionID, err)
	} else {
		log.Printf("Marked competition %v as 'abandoned' due to inactivity.", competitionID)
	}
}

// insertEventTx inserts a single event record into the competition_events table.
func insertEventTx(ctx context.Context, tx pgx.Tx, rec cache.ResultEventRecord) error {
	jsonPayload, err := json.Marshal(rec.EventPayload)
	if err != nil {
		return err
	}

	q := `
		INSERT INTO competition_events (
			competition_id, event_index, actor_handle, event_type, event_payload, recorded_at
		) VALUES ($1, $2, $3, $4, $5, to_timestamp($6 / 1000.0))
		ON CONFLICT (competition_id, event_index) DO NOTHING
	`
	_, err = tx.Exec(ctx, q,
		rec.CompetitionID, rec.EventIndex, rec.ActorHandle, rec.EventType, jsonPayload, rec.Timestamp,
	)
	return err
}

// beginTxFunc starts a transaction on the pool, calls f with it, and commits
// or rolls back as needed.
func beginTxFunc(ctx context.Context, pool *pgxpool.Pool, txOptions pgx.TxOptions, f func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Stop gracefully stops the service.
func (es *EventLogService) Stop() {
	es.cancelFn()
}

func main() {
	es := NewEventLogService()
	go es.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	es.Stop()
	log.Println("Event log shutdown complete.")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt parses an integer environment variable or returns a default.
func getEnvInt(key string, defVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defVal
}
