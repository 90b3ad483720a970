package models

import "fmt"

type NotificationKind int

const (
	// CycleStarted is sent when a fetch job is admitted and starts fetching
	CycleStarted NotificationKind = iota
	// AttemptFailed is sent for every failed fetch attempt of a job
	AttemptFailed
	// CycleCompleted is the last notification of a job, successful or not
	CycleCompleted
	// ExtractionCompleted is sent when an item's content extraction finished
	ExtractionCompleted
)

func (k NotificationKind) String() string {
	switch k {
	case CycleStarted:
		return "cycle-started"
	case AttemptFailed:
		return "attempt-failed"
	case CycleCompleted:
		return "cycle-completed"
	case ExtractionCompleted:
		return "extraction-completed"
	default:
		return fmt.Sprintf("notification(%d)", int(k))
	}
}

// Notification is a pipeline event delivered to the interface loop.
// Events for a single feed arrive in the order its job stages complete.
type Notification struct {
	Kind      NotificationKind
	FeedURL   string
	ItemKey   string
	Attempt   int
	WillRetry bool
	NewItems  int
	Skipped   int
	Err       error
}
