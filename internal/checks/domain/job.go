package checks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound = errors.New("checks: job not found")
	ErrJobRunning  = errors.New("checks: job already running")
	ErrUnknownKind = errors.New("checks: unknown job kind")
)

// Kind selects what a job runs.
type Kind string

const (
	KindTests    Kind = "tests"
	KindCoverage Kind = "coverage"
)

// ParseKind validates a job kind name.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case KindTests, KindCoverage:
		return Kind(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
	}
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job is one background test or coverage run.
type Job struct {
	ID           string
	Kind         Kind
	Status       Status
	Error        string
	LogPath      string
	ArtifactPath string
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Duration returns the run time of a finished job.
func (j *Job) Duration() time.Duration {
	if j == nil || j.StartedAt == nil || j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(*j.StartedAt)
}

// JobStore persists jobs. Implementations are safe for concurrent use.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns the most recently created jobs first.
	List(ctx context.Context, limit int) ([]*Job, error)
}
