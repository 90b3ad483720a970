package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"nuuslees/fetcher"

	"github.com/stretchr/testify/assert"
)

func testJobConfig() Config {
	return Config{
		MaxAttempts:    3,
		BackoffInitial: time.Second,
		BackoffMax:     4 * time.Second,
	}.withDefaults()
}

func TestFetchJobRetriesUntilCeiling(t *testing.T) {
	job := newFetchJob("https://example.com/rss", testJobConfig())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	timeout := &fetcher.Error{Kind: fetcher.KindTimeout, URL: job.FeedURL}

	assert.Equal(t, JobPending, job.State)

	job.begin()
	assert.Equal(t, JobFetching, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, JobBackoff, job.fail(timeout, now))
	assert.True(t, job.NextEligible.After(now))

	job.begin()
	assert.Equal(t, 2, job.Attempt)
	assert.True(t, job.NextEligible.IsZero())
	assert.Equal(t, JobBackoff, job.fail(timeout, now))

	job.begin()
	assert.Equal(t, JobFailed, job.fail(timeout, now))
	assert.True(t, job.State.Terminal())
	assert.Equal(t, 3, job.Attempt)
	assert.ErrorIs(t, job.LastErr, timeout)
}

func TestFetchJobBackoffGrowsWithinBounds(t *testing.T) {
	cfg := testJobConfig()
	cfg.MaxAttempts = 10
	job := newFetchJob("https://example.com/rss", cfg)
	now := time.Now()
	unavailable := &fetcher.Error{Kind: fetcher.KindHTTPStatus, StatusCode: 503}

	for i := 0; i < 6; i++ {
		job.begin()
		assert.Equal(t, JobBackoff, job.fail(unavailable, now))
		delay := job.NextEligible.Sub(now)
		assert.Greater(t, delay, time.Duration(0))
		// Randomization may push a delay up to half past the cap
		assert.LessOrEqual(t, delay, cfg.BackoffMax+cfg.BackoffMax/2)
	}
}

func TestFetchJobDoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", &fetcher.Error{Kind: fetcher.KindHTTPStatus, StatusCode: 404}},
		{"too large", &fetcher.Error{Kind: fetcher.KindTooLarge}},
		{"canceled", &fetcher.Error{Kind: fetcher.KindCanceled, Err: context.Canceled}},
		{"plain error", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newFetchJob("https://example.com/rss", testJobConfig())
			job.begin()
			assert.Equal(t, JobFailed, job.fail(tt.err, time.Now()))
			assert.Equal(t, 1, job.Attempt)
		})
	}
}

func TestFetchJobCompletion(t *testing.T) {
	job := newFetchJob("https://example.com/rss", testJobConfig())
	job.begin()
	job.fail(&fetcher.Error{Kind: fetcher.KindConnection}, time.Now())
	job.begin()
	job.store()
	assert.Equal(t, JobStoring, job.State)
	assert.False(t, job.State.Terminal())

	job.done()
	assert.Equal(t, JobDone, job.State)
	assert.NoError(t, job.LastErr)
	assert.Equal(t, "done", job.State.String())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BackoffInitial: time.Minute, BackoffMax: time.Second}.withDefaults()
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 4, cfg.MaxExtractions)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Interval)
	assert.Equal(t, time.Minute, cfg.BackoffMax)
}
