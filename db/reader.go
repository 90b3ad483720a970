package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"nuuslees/models"
	"nuuslees/query"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

var itemColumns = []string{
	"items.item_key",
	"items.feed_url",
	"items.guid",
	"items.link",
	"items.title",
	"items.summary",
	"items.published_at",
	"items.fetched_at",
	"feeds.label",
	"COALESCE(read_states.read, 0)",
	"COALESCE(read_states.starred, 0)",
	"COALESCE(item_contents.status, '')",
}

func newItemSelect() *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(itemColumns...).From("items")
	sb.Join("feeds", "feeds.url = items.feed_url")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "read_states", "read_states.item_key = items.item_key")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "item_contents", "item_contents.item_key = items.item_key")
	return sb
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemView(row rowScanner) (models.ItemView, error) {
	var (
		view      models.ItemView
		published sql.NullInt64
		fetched   int64
		status    string
	)
	err := row.Scan(
		&view.Key,
		&view.FeedURL,
		&view.GUID,
		&view.Link,
		&view.Title,
		&view.Summary,
		&published,
		&fetched,
		&view.FeedLabel,
		&view.Read,
		&view.Starred,
		&status,
	)
	if err != nil {
		return models.ItemView{}, err
	}

	view.Published = fromNullMillis(published)
	view.FetchedAt = time.UnixMilli(fetched)
	view.Extraction = models.ExtractionStatus(status)
	return view, nil
}

// QueryItems returns the items selected by filter, newest first. Items
// without a publish time are ordered by the time they were first fetched.
func (s *Store) QueryItems(ctx context.Context, filter models.ItemFilter) ([]models.ItemView, error) {
	sb := newItemSelect()
	query.Apply(sb, query.FromItemFilter(filter)...)
	sb.OrderBy("COALESCE(items.published_at, items.fetched_at) DESC", "items.rowid DESC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}

	q, args := sb.Build()
	rows, err := s.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("query items", err)
	}
	defer rows.Close()

	var items []models.ItemView
	for rows.Next() {
		item, err := scanItemView(rows)
		if err != nil {
			return nil, storeErr("query items", fmt.Errorf("scan error: %w", err))
		}
		items = append(items, item)
	}

	return items, storeErr("query items", rows.Err())
}

// Item returns a single item with its read state and extraction status
func (s *Store) Item(ctx context.Context, key string) (*models.ItemView, error) {
	sb := newItemSelect()
	sb.Where(sb.Equal("items.item_key", key))

	q, args := sb.Build()
	item, err := scanItemView(s.reader.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, key)
	}
	if err != nil {
		return nil, storeErr("item", err)
	}
	return &item, nil
}

var feedColumns = []string{
	"feeds.url",
	"feeds.label",
	"feeds.group_name",
	"feeds.description",
	"feeds.position",
	"feeds.last_success_at",
	"feeds.last_attempt_at",
	"feeds.last_error",
}

// FeedSummaries returns the subscribed feeds in registry order with item counters
func (s *Store) FeedSummaries(ctx context.Context) ([]models.FeedSummary, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	columns := append([]string{}, feedColumns...)
	columns = append(columns,
		"COUNT(items.item_key)",
		"COALESCE(SUM(CASE WHEN items.item_key IS NOT NULL AND COALESCE(read_states.read, 0) = 0 THEN 1 ELSE 0 END), 0)",
	)
	sb.Select(columns...).From("feeds")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "items", "items.feed_url = feeds.url")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "read_states", "read_states.item_key = items.item_key")
	sb.Where(sb.Equal("feeds.active", 1))
	sb.GroupBy("feeds.url")
	sb.OrderBy("feeds.position ASC", "feeds.url ASC")

	q, args := sb.Build()
	rows, err := s.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("feed summaries", err)
	}
	defer rows.Close()

	var summaries []models.FeedSummary
	for rows.Next() {
		var (
			summary     models.FeedSummary
			lastSuccess sql.NullInt64
			lastAttempt sql.NullInt64
		)
		err := rows.Scan(
			&summary.URL,
			&summary.Label,
			&summary.Group,
			&summary.Description,
			&summary.Position,
			&lastSuccess,
			&lastAttempt,
			&summary.LastError,
			&summary.ItemCount,
			&summary.UnreadCount,
		)
		if err != nil {
			return nil, storeErr("feed summaries", fmt.Errorf("scan error: %w", err))
		}
		summary.LastSuccess = fromNullMillis(lastSuccess)
		summary.LastAttempt = fromNullMillis(lastAttempt)
		summaries = append(summaries, summary)
	}

	return summaries, storeErr("feed summaries", rows.Err())
}

// Feed returns a stored feed, active or not
func (s *Store) Feed(ctx context.Context, feedURL string) (*models.Feed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").Where(sb.Equal("feeds.url", feedURL))

	var (
		feed        models.Feed
		lastSuccess sql.NullInt64
		lastAttempt sql.NullInt64
	)
	q, args := sb.Build()
	err := s.reader.QueryRowContext(ctx, q, args...).Scan(
		&feed.URL,
		&feed.Label,
		&feed.Group,
		&feed.Description,
		&feed.Position,
		&lastSuccess,
		&lastAttempt,
		&feed.LastError,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedURL)
	}
	if err != nil {
		return nil, storeErr("feed", err)
	}

	feed.LastSuccess = fromNullMillis(lastSuccess)
	feed.LastAttempt = fromNullMillis(lastAttempt)
	return &feed, nil
}

// Content returns the extraction result of an item, or nil when extraction
// was never attempted.
func (s *Store) Content(ctx context.Context, key string) (*models.ExtractedContent, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("item_key", "status", "title", "body", "links", "error", "extracted_at").
		From("item_contents").
		Where(sb.Equal("item_key", key))

	var (
		content     models.ExtractedContent
		status      string
		links       string
		extractedAt int64
	)
	q, args := sb.Build()
	err := s.reader.QueryRowContext(ctx, q, args...).Scan(
		&content.ItemKey,
		&status,
		&content.Title,
		&content.Body,
		&links,
		&content.Error,
		&extractedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("content", err)
	}

	content.Status = models.ExtractionStatus(status)
	content.ExtractedAt = time.UnixMilli(extractedAt)
	if err := json.Unmarshal([]byte(links), &content.Links); err != nil {
		return nil, storeErr("content", fmt.Errorf("decode links: %w", err))
	}
	return &content, nil
}

// ReadState returns the flags of an item, unread and unstarred when never set
func (s *Store) ReadState(ctx context.Context, key string) (models.ReadState, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("read", "starred").From("read_states").Where(sb.Equal("item_key", key))

	state := models.ReadState{ItemKey: key}
	q, args := sb.Build()
	err := s.reader.QueryRowContext(ctx, q, args...).Scan(&state.Read, &state.Starred)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return models.ReadState{}, storeErr("read state", err)
	}
	return state, nil
}
