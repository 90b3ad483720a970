package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy removes read, unstarred items whose publish (or fetch) time is at or
// before olderThan. Their extracted content and read state go with them.
func (s *Store) Tidy(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := toMillis(olderThan)

	readStates := sqlbuilder.SQLite.NewSelectBuilder()
	readStates.Select("item_key").From("read_states").Where(
		readStates.Equal("read", 1),
		readStates.Equal("starred", 0),
	)

	deleteItems := sqlbuilder.SQLite.NewDeleteBuilder()
	deleteItems.DeleteFrom("items").Where(
		deleteItems.LessEqualThan("COALESCE(published_at, fetched_at)", cutoff),
		deleteItems.In("item_key", readStates),
	)
	query, args := deleteItems.Build()

	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Debug("Tidying database")

	var deleted int64
	err := s.inTx(ctx, "tidy", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"deleted": deleted,
		"cutoff":  olderThan.Format(time.RFC3339),
	}).Info("Tidied database")

	return deleted, nil
}
