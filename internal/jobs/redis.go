package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// maxPutRetries bounds optimistic-lock retries when concurrent writers race on a job.
const maxPutRetries = 5

// listPageSize is how many index entries List reads per round trip.
const listPageSize = 100

// RedisStore implements Store on go-redis/v9. Each job is a JSON string under
// JobKey with an optional TTL; IndexKey orders ids by creation time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisLogger sets the logger used for best-effort index maintenance.
func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(s *RedisStore) { s.logger = logger }
}

// NewRedisStore creates a RedisStore from a Redis URL. ttl <= 0 keeps jobs forever.
func NewRedisStore(redisURL string, ttl time.Duration, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	s := &RedisStore{client: redis.NewClient(redisOpts), ttl: ttl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Put(ctx context.Context, job *models.Job) error {
	key := JobKey(job.ID)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}

	txf := func(tx *redis.Tx) error {
		prev, err := decodeJob(tx.Get(ctx, key).Bytes())
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := CheckTransition(prev, job); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.ZAdd(ctx, IndexKey(), redis.Z{Score: float64(job.CreatedAt.UnixMicro()), Member: job.ID.String()})
			return nil
		})
		return err
	}

	for i := 0; i < maxPutRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("put job %s: too much contention", job.ID)
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return decodeJob(s.client.Get(ctx, JobKey(id)).Bytes())
}

// List walks the index newest first, one page at a time, until limit matches
// are found. Ids whose record expired are pruned as they are found.
func (s *RedisStore) List(ctx context.Context, filter ListFilter) ([]*models.Job, error) {
	limit := filter.MaxResults()
	var out []*models.Job
	for offset := int64(0); len(out) < limit; offset += listPageSize {
		ids, err := s.client.ZRevRange(ctx, IndexKey(), offset, offset+listPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("read job index: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		page, stale, err := s.readPage(ctx, ids, filter, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(stale) > 0 {
			if err := s.client.ZRem(ctx, IndexKey(), stale...).Err(); err != nil {
				s.logger.Warn("pruning expired job ids", zap.Int("count", len(stale)), zap.Error(err))
			} else {
				// Pruned ids shift the rest of the index up.
				offset -= int64(len(stale))
			}
		}
		if int64(len(ids)) < listPageSize {
			break
		}
	}
	return out, nil
}

// readPage fetches the records for ids and returns up to want matches plus the
// ids whose record no longer exists.
func (s *RedisStore) readPage(ctx context.Context, ids []string, filter ListFilter, want int) ([]*models.Job, []any, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKeyPrefix + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("read jobs: %w", err)
	}

	var (
		out   []*models.Job
		stale []any
	)
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		if len(out) >= want {
			continue
		}
		var j models.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		if filter.matches(&j) {
			out = append(out, &j)
		}
	}
	return out, stale, nil
}

func decodeJob(data []byte, err error) (*models.Job, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j models.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

var _ Store = (*RedisStore)(nil)
