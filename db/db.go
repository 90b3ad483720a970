package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// UpdatePolicy decides what happens when a fetch returns an item that is already stored
type UpdatePolicy int

const (
	// KeepFirstSeen leaves stored items untouched
	KeepFirstSeen UpdatePolicy = iota
	// RefreshMutable rewrites title, summary, link and publish time from the latest fetch
	RefreshMutable
)

// ParseUpdatePolicy maps the item_updates configuration value to a policy
func ParseUpdatePolicy(value string) (UpdatePolicy, error) {
	switch value {
	case "", "keep":
		return KeepFirstSeen, nil
	case "refresh":
		return RefreshMutable, nil
	default:
		return KeepFirstSeen, fmt.Errorf("unknown item update policy %q", value)
	}
}

// Store is the local database. All writes go through a single connection,
// reads use a separate read-only pool.
type Store struct {
	path   string
	writer *sql.DB
	reader *sql.DB
	policy UpdatePolicy
	now    func() time.Time
}

type Option func(*Store)

func WithItemUpdates(policy UpdatePolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (creating if needed) and migrates the database at path
func Open(path string, opts ...Option) (*Store, error) {
	writer, err := writerConnection(path)
	if err != nil {
		return nil, storeErr("open", err)
	}

	if err := migrateUp(writer); err != nil {
		writer.Close()
		return nil, storeErr("migrate", err)
	}

	reader, err := readerConnection(path)
	if err != nil {
		writer.Close()
		return nil, storeErr("open", err)
	}

	store := &Store{
		path:   path,
		writer: writer,
		reader: reader,
		policy: KeepFirstSeen,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	log.WithFields(log.Fields{
		"path": path,
	}).Debug("Opened store")

	return store, nil
}

func (s *Store) Close() error {
	return errors.Join(s.reader.Close(), s.writer.Close())
}

func (s *Store) Path() string {
	return s.path
}

// inTx runs fn in a write transaction, rolling back on any error
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithFields(log.Fields{
				"op":    op,
				"error": rbErr,
			}).Error("Rollback failed")
		}
		return storeErr(op, err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
