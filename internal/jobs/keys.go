package jobs

import (
	"github.com/google/uuid"
)

const jobKeyPrefix = "job:"

// JobKey is the Redis key holding a job's JSON record.
func JobKey(id uuid.UUID) string {
	return jobKeyPrefix + id.String()
}

// IndexKey is the sorted set of job ids scored by creation time.
func IndexKey() string {
	return "jobs:index"
}
