// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) name for competition event logs.
var DefaultQueueName = "typerace_events"

// codeCacheTTL bounds how long a join-code -> competition ID mapping stays
// cached before the resolver falls back to Postgres again.
const codeCacheTTL = 24 * time.Hour

// ResultEventRecord holds the minimal info offline analytics consumers need
// to replay a session's submission and lifecycle history.
type ResultEventRecord struct {
	CompetitionID uuid.UUID              `json:"competition_id"`
	EventIndex    int                    `json:"event_index"`
	ActorHandle   uuid.UUID              `json:"actor_handle"`
	EventType     string                 `json:"event_type"`
	EventPayload  map[string]interface{} `json:"event_payload"`
	Timestamp     int64                  `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// PublishResultEvent serializes the given record to JSON, then pushes it to
// the Redis queue. This does not block the calling logic (other than a quick
// network send).
func PublishResultEvent(ctx context.Context, record ResultEventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ResultEventRecord: %w", err)
	}

	queueName := getEnv("EVENT_QUEUE_NAME", DefaultQueueName)
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

// CacheCompetitionCode stores a join-code -> competition ID mapping so the
// resolver can skip Postgres on the hot join path.
func CacheCompetitionCode(ctx context.Context, code string, competitionID uuid.UUID) error {
	if Rdb == nil {
		return nil
	}
	return Rdb.Set(ctx, codeKey(code), competitionID.String(), codeCacheTTL).Err()
}

// LookupCompetitionCode resolves a cached join code. The second return is
// false on a cache miss; any Redis error is treated as a miss so the caller
// falls through to the durable store.
func LookupCompetitionCode(ctx context.Context, code string) (uuid.UUID, bool) {
	if Rdb == nil {
		return uuid.Nil, false
	}
	val, err := Rdb.Get(ctx, codeKey(code)).Result()
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func codeKey(code string) string {
	return "typerace:code:" + code
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
