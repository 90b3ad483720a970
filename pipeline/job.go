package pipeline

import (
	"errors"
	"fmt"
	"time"

	"nuuslees/fetcher"

	"github.com/cenkalti/backoff/v4"
)

type JobState int

const (
	JobPending JobState = iota
	JobFetching
	JobBackoff
	JobStoring
	JobDone
	JobFailed
	JobCanceled
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobFetching:
		return "fetching"
	case JobBackoff:
		return "backoff"
	case JobStoring:
		return "storing"
	case JobDone:
		return "done"
	case JobFailed:
		return "failed"
	case JobCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the job will not change state again
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCanceled
}

// FetchJob is one fetch cycle of a single feed. It only lives in memory
// while the cycle runs.
type FetchJob struct {
	FeedURL      string
	State        JobState
	Attempt      int
	MaxAttempts  int
	NextEligible time.Time
	LastErr      error

	backoff backoff.BackOff
}

func newFetchJob(feedURL string, cfg Config) *FetchJob {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffInitial
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // The attempt ceiling ends the job, not elapsed time
	b.Reset()

	return &FetchJob{
		FeedURL:     feedURL,
		State:       JobPending,
		MaxAttempts: cfg.MaxAttempts,
		backoff:     b,
	}
}

// begin starts the next fetch attempt
func (j *FetchJob) begin() {
	j.State = JobFetching
	j.Attempt++
	j.NextEligible = time.Time{}
}

// fail records a failed attempt and moves to Backoff when another attempt
// is allowed, to Failed otherwise. Only temporary fetch errors are retried.
func (j *FetchJob) fail(err error, now time.Time) JobState {
	j.LastErr = err

	if !retryable(err) || j.Attempt >= j.MaxAttempts {
		j.State = JobFailed
		return j.State
	}

	delay := j.backoff.NextBackOff()
	if delay == backoff.Stop {
		j.State = JobFailed
		return j.State
	}

	j.State = JobBackoff
	j.NextEligible = now.Add(delay)
	return j.State
}

func (j *FetchJob) store() {
	j.State = JobStoring
}

func (j *FetchJob) done() {
	j.State = JobDone
	j.LastErr = nil
}

func (j *FetchJob) failed(err error) {
	j.State = JobFailed
	j.LastErr = err
}

func (j *FetchJob) cancel(err error) {
	j.State = JobCanceled
	j.LastErr = err
}

func retryable(err error) bool {
	var fetchErr *fetcher.Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Temporary()
	}
	return false
}
