package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"nuuslees/extract"
	"nuuslees/feeds"
	"nuuslees/fetcher"
	"nuuslees/models"
	"nuuslees/parser"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Fetcher retrieves a URL once
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Store is the part of the database the scheduler writes to
type Store interface {
	CommitCycle(ctx context.Context, feedURL string, items []models.Item, outcome models.FetchOutcome) ([]models.Item, error)
	RecordFetchOutcome(ctx context.Context, feedURL string, outcome models.FetchOutcome) error
	AttachExtractedContent(ctx context.Context, content models.ExtractedContent) error
	Item(ctx context.Context, key string) (*models.ItemView, error)
}

// ContentExtractor turns an article page into readable text
type ContentExtractor interface {
	Extract(body []byte, sourceURL string) (*extract.Article, error)
}

type Config struct {
	Interval       time.Duration
	MaxConcurrent  int
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	EagerExtract   bool
	// MaxExtractions bounds concurrent article extractions, defaults to MaxConcurrent
	MaxExtractions int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 2 * time.Second
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.MaxExtractions <= 0 {
		c.MaxExtractions = c.MaxConcurrent
	}
	return c
}

// CycleResult summarizes one finished fetch cycle
type CycleResult struct {
	FeedURL  string
	State    JobState
	Attempts int
	NewItems int
	Skipped  int
	Err      error
}

// Scheduler runs fetch cycles for every registered feed on an interval and
// on demand. At most one job per feed is in flight, and at most
// MaxConcurrent jobs run at once. Every job reports its progress on the
// notification channel, which must be drained by the caller.
type Scheduler struct {
	registry  *feeds.Registry
	fetcher   Fetcher
	store     Store
	extractor ContentExtractor
	cfg       Config
	now       func() time.Time

	gate        *semaphore.Weighted
	extractGate *semaphore.Weighted

	notifications chan models.Notification
	wake          chan struct{}

	mu             sync.Mutex
	inFlight       map[string]*FetchJob
	extracting     map[string]struct{}
	pendingAll     bool
	pendingFeeds   []string
	pendingExtract []string

	jobs        sync.WaitGroup
	extractions sync.WaitGroup
}

type Option func(*Scheduler)

func WithExtractor(extractor ContentExtractor) Option {
	return func(s *Scheduler) {
		s.extractor = extractor
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithNotificationBuffer(size int) Option {
	return func(s *Scheduler) {
		s.notifications = make(chan models.Notification, size)
	}
}

func New(registry *feeds.Registry, f Fetcher, store Store, cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()

	s := &Scheduler{
		registry:      registry,
		fetcher:       f,
		store:         store,
		extractor:     &extract.Extractor{},
		cfg:           cfg,
		now:           time.Now,
		gate:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		extractGate:   semaphore.NewWeighted(int64(cfg.MaxExtractions)),
		notifications: make(chan models.Notification, 64),
		wake:          make(chan struct{}, 1),
		inFlight:      make(map[string]*FetchJob),
		extracting:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notifications delivers job progress. Events of one feed arrive in the
// order its job stages complete. The channel is never closed.
func (s *Scheduler) Notifications() <-chan models.Notification {
	return s.notifications
}

// Run starts a cycle for every feed immediately and then on every tick,
// plus whatever Refresh and Extract request. It returns once ctx is done
// and every job has observed the cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"feeds":    s.registry.Len(),
		"interval": s.cfg.Interval,
		"workers":  s.cfg.MaxConcurrent,
	}).Info("Starting scheduler")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.dispatch(ctx, s.registry.URLs())
	s.drainPending(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler shutting down")
			s.jobs.Wait()
			s.extractions.Wait()
			return nil
		case <-ticker.C:
			s.dispatch(ctx, s.registry.URLs())
		case <-s.wake:
			s.drainPending(ctx)
		}
	}
}

// Refresh asks the running scheduler to start cycles for the given feeds,
// or for every feed when none are given. It never blocks.
func (s *Scheduler) Refresh(urls ...string) {
	s.mu.Lock()
	if len(urls) == 0 {
		s.pendingAll = true
	} else {
		s.pendingFeeds = append(s.pendingFeeds, urls...)
	}
	s.mu.Unlock()
	s.signal()
}

// Extract asks the running scheduler to extract the content of an item.
// Items that already have an extraction result are left alone.
func (s *Scheduler) Extract(itemKey string) {
	s.mu.Lock()
	s.pendingExtract = append(s.pendingExtract, itemKey)
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainPending(ctx context.Context) {
	s.mu.Lock()
	all, urls, keys := s.pendingAll, s.pendingFeeds, s.pendingExtract
	s.pendingAll, s.pendingFeeds, s.pendingExtract = false, nil, nil
	s.mu.Unlock()

	if all {
		urls = s.registry.URLs()
	}
	if len(urls) > 0 {
		s.dispatch(ctx, urls)
	}
	for _, key := range keys {
		s.startExtraction(ctx, key, "")
	}
}

// InFlight returns the feeds that have a queued or running job
func (s *Scheduler) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, len(s.inFlight))
	for url := range s.inFlight {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// RefreshNow runs one cycle for the given feeds, or all feeds, and waits
// for them and for any extraction they started. Feeds that already have a
// job in flight are not part of the result.
func (s *Scheduler) RefreshNow(ctx context.Context, urls ...string) []CycleResult {
	if len(urls) == 0 {
		urls = s.registry.URLs()
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []CycleResult
	)
	for _, url := range urls {
		job, ok := s.claim(url)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := s.runJob(ctx, job)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}()
	}
	wg.Wait()
	s.extractions.Wait()

	order := make(map[string]int, len(urls))
	for i, url := range urls {
		order[url] = i
	}
	sort.Slice(results, func(i, j int) bool {
		return order[results[i].FeedURL] < order[results[j].FeedURL]
	})
	return results
}

// dispatch starts a job for every feed without one, returning how many started
func (s *Scheduler) dispatch(ctx context.Context, urls []string) int {
	started := 0
	for _, url := range urls {
		job, ok := s.claim(url)
		if !ok {
			continue
		}
		started++
		s.jobs.Add(1)
		go func() {
			defer s.jobs.Done()
			s.runJob(ctx, job)
		}()
	}
	return started
}

// claim registers a job for the feed unless one is already in flight
func (s *Scheduler) claim(url string) (*FetchJob, bool) {
	if _, ok := s.registry.Lookup(url); !ok {
		log.WithFields(log.Fields{
			"feed": url,
		}).Warn("Ignoring refresh of unknown feed")
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[url]; busy {
		log.WithFields(log.Fields{
			"feed": url,
		}).Debug("Feed already in flight, skipping")
		return nil, false
	}

	job := newFetchJob(url, s.cfg)
	s.inFlight[url] = job
	inflightJobs.Inc()
	return job, true
}

func (s *Scheduler) release(job *FetchJob) {
	s.mu.Lock()
	delete(s.inFlight, job.FeedURL)
	s.mu.Unlock()
	inflightJobs.Dec()
}

// emit delivers a notification unless ctx is done first
func (s *Scheduler) emit(ctx context.Context, n models.Notification) bool {
	select {
	case s.notifications <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *FetchJob) CycleResult {
	defer s.release(job)

	if err := s.gate.Acquire(ctx, 1); err != nil {
		job.cancel(err)
		return s.result(job, 0, 0)
	}
	defer s.gate.Release(1)

	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	logger := log.WithFields(log.Fields{
		"feed": job.FeedURL,
	})
	s.emit(ctx, models.Notification{Kind: models.CycleStarted, FeedURL: job.FeedURL})

	var resp *fetcher.Response
	for {
		job.begin()
		var err error
		resp, err = s.fetcher.Fetch(ctx, job.FeedURL)
		if err == nil {
			fetchAttempts.WithLabelValues("success").Inc()
			break
		}

		if ctx.Err() != nil {
			fetchAttempts.WithLabelValues("canceled").Inc()
			job.cancel(ctx.Err())
			cyclesTotal.WithLabelValues("canceled").Inc()
			return s.result(job, 0, 0)
		}

		fetchAttempts.WithLabelValues("failure").Inc()
		next := job.fail(err, s.now())
		logger.WithFields(log.Fields{
			"attempt": job.Attempt,
			"next":    next,
			"error":   err,
		}).Warn("Fetch attempt failed")

		s.emit(ctx, models.Notification{
			Kind:      models.AttemptFailed,
			FeedURL:   job.FeedURL,
			Attempt:   job.Attempt,
			WillRetry: next == JobBackoff,
			Err:       err,
		})

		if next == JobFailed {
			return s.finishFailed(ctx, job, err, 0)
		}

		if !s.wait(ctx, job.NextEligible) {
			job.cancel(ctx.Err())
			cyclesTotal.WithLabelValues("canceled").Inc()
			return s.result(job, 0, 0)
		}
	}

	job.store()
	parsed, err := parser.Parse(resp.Body, job.FeedURL)
	if err != nil {
		logger.WithFields(log.Fields{
			"error": err,
		}).Warn("Feed document could not be parsed")
		return s.finishFailed(ctx, job, err, 0)
	}
	if parsed.Skipped > 0 {
		logger.WithFields(log.Fields{
			"skipped": parsed.Skipped,
		}).Warn("Skipped feed entries without guid or link")
	}

	items := make([]models.Item, 0, len(parsed.Items))
	for _, candidate := range parsed.Items {
		items = append(items, models.Item{
			FeedURL:   job.FeedURL,
			GUID:      candidate.GUID,
			Link:      candidate.Link,
			Title:     candidate.Title,
			Summary:   candidate.Summary,
			Published: candidate.Published,
		})
	}

	inserted, err := s.store.CommitCycle(ctx, job.FeedURL, items, models.FetchOutcome{At: s.now()})
	if err != nil {
		if ctx.Err() != nil {
			job.cancel(ctx.Err())
			cyclesTotal.WithLabelValues("canceled").Inc()
			return s.result(job, 0, 0)
		}
		logger.WithFields(log.Fields{
			"error": err,
		}).Error("Storing fetch cycle failed, results dropped")
		return s.finishFailed(ctx, job, err, parsed.Skipped)
	}

	job.done()
	itemsInserted.Add(float64(len(inserted)))
	cyclesTotal.WithLabelValues("success").Inc()
	logger.WithFields(log.Fields{
		"new":      len(inserted),
		"received": len(items),
		"attempts": job.Attempt,
	}).Info("Fetch cycle completed")

	s.emit(ctx, models.Notification{
		Kind:     models.CycleCompleted,
		FeedURL:  job.FeedURL,
		Attempt:  job.Attempt,
		NewItems: len(inserted),
		Skipped:  parsed.Skipped,
	})

	if s.cfg.EagerExtract {
		for _, item := range inserted {
			s.startExtraction(ctx, item.Key, item.Link)
		}
	}

	return s.result(job, len(inserted), parsed.Skipped)
}

// finishFailed records the failure on the feed and reports the end of the cycle
func (s *Scheduler) finishFailed(ctx context.Context, job *FetchJob, err error, skipped int) CycleResult {
	job.failed(err)
	cyclesTotal.WithLabelValues("failure").Inc()

	if recordErr := s.store.RecordFetchOutcome(ctx, job.FeedURL, models.FetchOutcome{At: s.now(), Err: err}); recordErr != nil {
		log.WithFields(log.Fields{
			"feed":  job.FeedURL,
			"error": recordErr,
		}).Error("Could not record fetch failure")
	}

	s.emit(ctx, models.Notification{
		Kind:    models.CycleCompleted,
		FeedURL: job.FeedURL,
		Attempt: job.Attempt,
		Skipped: skipped,
		Err:     err,
	})
	return s.result(job, 0, skipped)
}

func (s *Scheduler) result(job *FetchJob, newItems, skipped int) CycleResult {
	return CycleResult{
		FeedURL:  job.FeedURL,
		State:    job.State,
		Attempts: job.Attempt,
		NewItems: newItems,
		Skipped:  skipped,
		Err:      job.LastErr,
	}
}

// wait sleeps until the given time, returning false when ctx ends first
func (s *Scheduler) wait(ctx context.Context, until time.Time) bool {
	delay := until.Sub(s.now())
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var errNoLink = errors.New("item has no link")

// startExtraction extracts an item's article in the background unless an
// extraction for it is already running. link may be empty when unknown.
func (s *Scheduler) startExtraction(ctx context.Context, key, link string) {
	s.mu.Lock()
	if _, busy := s.extracting[key]; busy {
		s.mu.Unlock()
		return
	}
	s.extracting[key] = struct{}{}
	s.mu.Unlock()

	s.extractions.Add(1)
	go func() {
		defer s.extractions.Done()
		defer func() {
			s.mu.Lock()
			delete(s.extracting, key)
			s.mu.Unlock()
		}()
		s.extractItem(ctx, key)
	}()
}

func (s *Scheduler) extractItem(ctx context.Context, key string) {
	if err := s.extractGate.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.extractGate.Release(1)

	item, err := s.store.Item(ctx, key)
	if err != nil {
		log.WithFields(log.Fields{
			"item":  key,
			"error": err,
		}).Warn("Cannot extract unknown item")
		s.emit(ctx, models.Notification{Kind: models.ExtractionCompleted, ItemKey: key, Err: err})
		return
	}
	if item.Extraction.Attempted() {
		// Already extracted, tell the caller so it can reload
		s.emit(ctx, models.Notification{Kind: models.ExtractionCompleted, FeedURL: item.FeedURL, ItemKey: key})
		return
	}

	content := models.ExtractedContent{ItemKey: key}
	extractErr := s.extractArticle(ctx, item.Link, &content)
	if ctx.Err() != nil {
		return
	}

	if extractErr != nil {
		content.Status = models.ExtractionFailed
		content.Error = extractErr.Error()
		extractionsTotal.WithLabelValues("failed").Inc()
		log.WithFields(log.Fields{
			"item":  key,
			"link":  item.Link,
			"error": extractErr,
		}).Info("Content extraction failed")
	} else {
		content.Status = models.ExtractionSuccess
		extractionsTotal.WithLabelValues("success").Inc()
	}
	content.ExtractedAt = s.now()

	if err := s.store.AttachExtractedContent(ctx, content); err != nil {
		log.WithFields(log.Fields{
			"item":  key,
			"error": err,
		}).Error("Storing extracted content failed")
		extractErr = err
	}

	s.emit(ctx, models.Notification{
		Kind:    models.ExtractionCompleted,
		FeedURL: item.FeedURL,
		ItemKey: key,
		Err:     extractErr,
	})
}

func (s *Scheduler) extractArticle(ctx context.Context, link string, content *models.ExtractedContent) error {
	if link == "" {
		return errNoLink
	}

	resp, err := s.fetcher.Fetch(ctx, link)
	if err != nil {
		return err
	}

	article, err := s.extractor.Extract(resp.Body, resp.URL)
	if err != nil {
		return fmt.Errorf("%s: %w", link, err)
	}

	content.Title = article.Title
	content.Body = article.Text
	content.Links = article.Links
	return nil
}
