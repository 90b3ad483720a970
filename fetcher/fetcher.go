package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nuuslees_fetch_duration_seconds",
		Help:    "Duration of single HTTP retrievals",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"result"})

	fetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nuuslees_fetch_bytes_total",
		Help: "Total number of response body bytes read",
	})
)

const (
	DefaultTimeout      = 20 * time.Second
	DefaultMaxBodyBytes = 8 << 20
	DefaultUserAgent    = "nuuslees/0.1"

	acceptHeader = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.9, text/html;q=0.8, */*;q=0.5"
)

type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// Client overrides the HTTP client, mainly for tests
	Client *http.Client
}

// Fetcher performs single-attempt HTTP GETs. Retrying is up to the caller.
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	userAgent    string
	maxBodyBytes int64
}

type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

func New(config Config) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}

	client := config.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost:   2,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: config.Timeout,
			},
		}
	}

	return &Fetcher{
		client:       client,
		timeout:      config.Timeout,
		userAgent:    config.UserAgent,
		maxBodyBytes: config.MaxBodyBytes,
	}
}

// Fetch retrieves url once, bounded by the configured timeout and by ctx
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	start := time.Now()
	resp, err := f.fetch(ctx, url)

	result := "ok"
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		result = fetchErr.Kind.String()
	}
	fetchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	if err != nil {
		log.WithFields(log.Fields{
			"url":   url,
			"error": err,
		}).Debug("Fetch failed")
		return nil, err
	}

	log.WithFields(log.Fields{
		"url":    url,
		"status": resp.StatusCode,
		"bytes":  len(resp.Body),
		"took":   time.Since(start),
	}).Debug("Fetched")

	return resp, nil
}

func (f *Fetcher) fetch(parent context.Context, url string) (*Response, error) {
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindConnection, URL: url, Err: fmt.Errorf("invalid request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(parent, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: KindHTTPStatus, URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	fetchBytes.Add(float64(len(body)))
	if err != nil {
		return nil, classify(parent, url, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &Error{Kind: KindTooLarge, URL: url}
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// classify maps a transport error onto an error kind. Cancellation by the
// caller wins over a timeout that fired at the same time.
func classify(parent context.Context, url string, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return &Error{Kind: KindCanceled, URL: url, Err: parent.Err()}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}

	return &Error{Kind: KindConnection, URL: url, Err: err}
}
