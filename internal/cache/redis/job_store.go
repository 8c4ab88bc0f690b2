package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// DefaultJobTTL bounds how long finished job records stay queryable.
const DefaultJobTTL = 24 * time.Hour

// JobStore implements domain.JobStore as JSON strings with a TTL.
type JobStore struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore. A non-positive ttl uses DefaultJobTTL.
func NewJobStore(c *Client, ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &JobStore{c: c, rdb: c.Underlying(), ttl: ttl}
}

func (s *JobStore) jobKey(id string) string {
	return s.c.Key("job", id)
}

// Save writes the job record, refreshing its TTL.
func (s *JobStore) Save(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis: marshal job %s: %w", job.ID, err)
	}
	if err := s.rdb.Set(ctx, s.jobKey(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a job record. Unknown or expired ids return domain.ErrJobNotFound.
func (s *JobStore) Get(ctx context.Context, id string) (domain.Job, error) {
	data, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("redis: get job %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, fmt.Errorf("redis: unmarshal job %s: %w", id, err)
	}
	return job, nil
}
