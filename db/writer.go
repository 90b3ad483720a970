package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"nuuslees/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertFeed creates the feed or updates its registry attributes. Fetch
// state is never touched by this call.
func (s *Store) UpsertFeed(ctx context.Context, feed models.Feed) error {
	_, err := upsertFeed(ctx, s.writer, feed, s.now().UnixMilli())
	return storeErr("upsert feed", err)
}

// SyncFeeds makes the stored feed list match the registry. Feeds missing
// from the registry are marked inactive, their items stay in the database.
func (s *Store) SyncFeeds(ctx context.Context, feeds []models.Feed) error {
	now := s.now().UnixMilli()
	return s.inTx(ctx, "sync feeds", func(tx *sql.Tx) error {
		ub := sqlbuilder.SQLite.NewUpdateBuilder()
		query, args := ub.Update("feeds").Set(ub.Assign("active", 0)).Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}

		for _, feed := range feeds {
			if _, err := upsertFeed(ctx, tx, feed, now); err != nil {
				return fmt.Errorf("feed %s: %w", feed.URL, err)
			}
		}
		return nil
	})
}

func upsertFeed(ctx context.Context, db execer, feed models.Feed, now int64) (sql.Result, error) {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("feeds").
		Cols("url", "label", "group_name", "description", "position", "active", "created_at").
		Values(feed.URL, feed.Label, feed.Group, feed.Description, feed.Position, 1, now)
	ib.SQL(`ON CONFLICT(url) DO UPDATE SET
		label = excluded.label,
		group_name = excluded.group_name,
		description = excluded.description,
		position = excluded.position,
		active = 1`)

	query, args := ib.Build()
	return db.ExecContext(ctx, query, args...)
}

// RecordFetchOutcome stores the result of a fetch cycle on the feed. A
// success moves the last success time forward only, a failure sets the
// error and leaves the last success time alone.
func (s *Store) RecordFetchOutcome(ctx context.Context, feedURL string, outcome models.FetchOutcome) error {
	return storeErr("record outcome", recordOutcome(ctx, s.writer, feedURL, outcome))
}

func recordOutcome(ctx context.Context, db execer, feedURL string, outcome models.FetchOutcome) error {
	at := toMillis(outcome.At)

	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("feeds")
	if outcome.Succeeded() {
		ub.Set(
			fmt.Sprintf("last_success_at = MAX(COALESCE(last_success_at, 0), %s)", ub.Var(at)),
			ub.Assign("last_attempt_at", at),
			ub.Assign("last_error", ""),
		)
	} else {
		ub.Set(
			ub.Assign("last_attempt_at", at),
			ub.Assign("last_error", outcome.Err.Error()),
		)
	}
	ub.Where(ub.Equal("url", feedURL))

	query, args := ub.Build()
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownFeed, feedURL)
	}
	return nil
}

// UpsertItems stores the items of a feed, returning those that were not known before
func (s *Store) UpsertItems(ctx context.Context, feedURL string, items []models.Item) ([]models.Item, error) {
	var inserted []models.Item
	err := s.inTx(ctx, "upsert items", func(tx *sql.Tx) error {
		var err error
		inserted, err = s.upsertItems(ctx, tx, feedURL, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// CommitCycle stores the items and the fetch outcome of one cycle in a
// single transaction. Either everything is stored or nothing is.
func (s *Store) CommitCycle(ctx context.Context, feedURL string, items []models.Item, outcome models.FetchOutcome) ([]models.Item, error) {
	var inserted []models.Item
	err := s.inTx(ctx, "commit cycle", func(tx *sql.Tx) error {
		var err error
		inserted, err = s.upsertItems(ctx, tx, feedURL, items)
		if err != nil {
			return err
		}
		return recordOutcome(ctx, tx, feedURL, outcome)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"feed":     feedURL,
		"received": len(items),
		"inserted": len(inserted),
	}).Debug("Committed fetch cycle")

	return inserted, nil
}

func (s *Store) upsertItems(ctx context.Context, tx *sql.Tx, feedURL string, items []models.Item) ([]models.Item, error) {
	if err := feedExists(ctx, tx, feedURL); err != nil {
		return nil, err
	}

	fetchedAt := s.now()
	var inserted []models.Item

	for _, item := range items {
		item.FeedURL = feedURL
		item.Key = ItemKey(feedURL, item.GUID, item.Link)
		if item.Key == "" {
			log.WithFields(log.Fields{
				"feed":  feedURL,
				"title": item.Title,
			}).Warn("Dropping item without guid or link")
			continue
		}
		if item.FetchedAt.IsZero() {
			item.FetchedAt = fetchedAt
		}

		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertIgnoreInto("items").
			Cols("item_key", "feed_url", "guid", "link", "title", "summary", "published_at", "fetched_at").
			Values(item.Key, feedURL, item.GUID, item.Link, item.Title, item.Summary, nullMillis(item.Published), toMillis(item.FetchedAt))

		query, args := ib.Build()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("insert item %s: %w", item.Key, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected > 0 {
			inserted = append(inserted, item)
			continue
		}

		if s.policy == RefreshMutable {
			if err := refreshItem(ctx, tx, item); err != nil {
				return nil, err
			}
		}
	}

	return inserted, nil
}

func refreshItem(ctx context.Context, tx *sql.Tx, item models.Item) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("items").Set(
		ub.Assign("title", item.Title),
		ub.Assign("summary", item.Summary),
		ub.Assign("link", item.Link),
		fmt.Sprintf("published_at = COALESCE(%s, published_at)", ub.Var(nullMillis(item.Published))),
	).Where(ub.Equal("item_key", item.Key))

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("refresh item %s: %w", item.Key, err)
	}
	return nil
}

func feedExists(ctx context.Context, db execer, feedURL string) error {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	query, args := sb.Select("1").From("feeds").Where(sb.Equal("url", feedURL)).Build()

	var one int
	err := db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrUnknownFeed, feedURL)
	}
	return err
}

func itemExists(ctx context.Context, db execer, key string) error {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	query, args := sb.Select("1").From("items").Where(sb.Equal("item_key", key)).Build()

	var one int
	err := db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrUnknownItem, key)
	}
	return err
}

// AttachExtractedContent stores the extraction result of an item,
// replacing any earlier result.
func (s *Store) AttachExtractedContent(ctx context.Context, content models.ExtractedContent) error {
	if content.ExtractedAt.IsZero() {
		content.ExtractedAt = s.now()
	}
	links, err := json.Marshal(content.Links)
	if err != nil {
		return storeErr("attach content", err)
	}
	if content.Links == nil {
		links = []byte("[]")
	}

	return s.inTx(ctx, "attach content", func(tx *sql.Tx) error {
		if err := itemExists(ctx, tx, content.ItemKey); err != nil {
			return err
		}

		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("item_contents").
			Cols("item_key", "status", "title", "body", "links", "error", "extracted_at").
			Values(content.ItemKey, string(content.Status), content.Title, content.Body, string(links), content.Error, toMillis(content.ExtractedAt))
		ib.SQL(`ON CONFLICT(item_key) DO UPDATE SET
			status = excluded.status,
			title = excluded.title,
			body = excluded.body,
			links = excluded.links,
			error = excluded.error,
			extracted_at = excluded.extracted_at`)

		query, args := ib.Build()
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// SetReadState persists the read and starred flags of an item
func (s *Store) SetReadState(ctx context.Context, state models.ReadState) error {
	now := s.now().UnixMilli()
	return s.inTx(ctx, "set read state", func(tx *sql.Tx) error {
		if err := itemExists(ctx, tx, state.ItemKey); err != nil {
			return err
		}

		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("read_states").
			Cols("item_key", "read", "starred", "updated_at").
			Values(state.ItemKey, state.Read, state.Starred, now)
		ib.SQL(`ON CONFLICT(item_key) DO UPDATE SET
			read = excluded.read,
			starred = excluded.starred,
			updated_at = excluded.updated_at`)

		query, args := ib.Build()
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// MarkFeedRead marks every item of the feed as read, or every item when
// feedURL is empty. Starred flags are kept. Returns the number of rows touched.
func (s *Store) MarkFeedRead(ctx context.Context, feedURL string) (int64, error) {
	now := s.now().UnixMilli()

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("item_key", "1", "0", sb.Var(now)).From("items")
	if feedURL != "" {
		sb.Where(sb.Equal("feed_url", feedURL))
	} else {
		// Upsert from SELECT needs a WHERE clause to parse
		sb.Where("1 = 1")
	}
	selectSQL, args := sb.Build()

	query := `INSERT INTO read_states (item_key, read, starred, updated_at) ` + selectSQL + `
		ON CONFLICT(item_key) DO UPDATE SET read = 1, updated_at = excluded.updated_at`

	var affected int64
	err := s.inTx(ctx, "mark feed read", func(tx *sql.Tx) error {
		if feedURL != "" {
			if err := feedExists(ctx, tx, feedURL); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}
