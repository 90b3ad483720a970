package models

import "time"

// Feed is a subscribed source as persisted by the store
type Feed struct {
	URL         string     `json:"url"`
	Label       string     `json:"label"`
	Group       string     `json:"group,omitempty"`
	Description string     `json:"description,omitempty"`
	Position    int        `json:"position"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Failing reports whether the most recent fetch attempt failed
func (f Feed) Failing() bool {
	return f.LastError != ""
}

// FeedSummary is a feed together with its item counters
type FeedSummary struct {
	Feed
	ItemCount   int `json:"itemCount"`
	UnreadCount int `json:"unreadCount"`
}

// Item is one syndicated entry. Key is the dedup key derived from the feed
// URL and the GUID (or normalized link when the entry has no GUID).
type Item struct {
	Key       string     `json:"key"`
	FeedURL   string     `json:"feedUrl"`
	GUID      string     `json:"guid,omitempty"`
	Link      string     `json:"link,omitempty"`
	Title     string     `json:"title"`
	Summary   string     `json:"summary,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	FetchedAt time.Time  `json:"fetchedAt"`
}

// SortTime is the timestamp used to order items, the publish time when known
func (i Item) SortTime() time.Time {
	if i.Published != nil {
		return *i.Published
	}
	return i.FetchedAt
}

// ItemView is an item joined with its read state and extraction status
type ItemView struct {
	Item
	FeedLabel  string           `json:"feedLabel"`
	Read       bool             `json:"read"`
	Starred    bool             `json:"starred"`
	Extraction ExtractionStatus `json:"extraction,omitempty"`
}

type ExtractionStatus string

const (
	// ExtractionNone means no extraction was attempted yet (no row)
	ExtractionNone    ExtractionStatus = ""
	ExtractionPending ExtractionStatus = "pending"
	ExtractionSuccess ExtractionStatus = "success"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Attempted reports whether extraction finished, successfully or not
func (s ExtractionStatus) Attempted() bool {
	return s == ExtractionSuccess || s == ExtractionFailed
}

// ExtractedContent is the readable text attached to an item
type ExtractedContent struct {
	ItemKey     string           `json:"itemKey"`
	Status      ExtractionStatus `json:"status"`
	Title       string           `json:"title,omitempty"`
	Body        string           `json:"body,omitempty"`
	Links       []string         `json:"links,omitempty"`
	Error       string           `json:"error,omitempty"`
	ExtractedAt time.Time        `json:"extractedAt"`
}

type ReadState struct {
	ItemKey string `json:"itemKey"`
	Read    bool   `json:"read"`
	Starred bool   `json:"starred"`
}

// FetchOutcome is the result of one fetch cycle as recorded on the feed
type FetchOutcome struct {
	At  time.Time
	Err error
}

func (o FetchOutcome) Succeeded() bool {
	return o.Err == nil
}

// ItemFilter selects items for QueryItems. Zero value means all items.
type ItemFilter struct {
	FeedURL     string
	Group       string
	UnreadOnly  bool
	StarredOnly bool
	Limit       int
}
