package db_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nuuslees/db"
	"nuuslees/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	feedA = "https://a.example.com/rss"
	feedB = "https://b.example.com/atom.xml"
)

func openStore(t *testing.T, path string, opts ...db.Option) *db.Store {
	t.Helper()
	store, err := db.Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newStore(t *testing.T, opts ...db.Option) *db.Store {
	t.Helper()
	store := openStore(t, filepath.Join(t.TempDir(), "nuuslees.db"), opts...)
	require.NoError(t, store.SyncFeeds(context.Background(), []models.Feed{
		{URL: feedA, Label: "A", Group: "One", Position: 0},
		{URL: feedB, Label: "B", Group: "Two", Position: 1},
	}))
	return store
}

func ptr(t time.Time) *time.Time {
	return &t
}

func success(at time.Time) models.FetchOutcome {
	return models.FetchOutcome{At: at}
}

func TestCommitCycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	items := []models.Item{
		{GUID: "1", Link: "https://a.example.com/1", Title: "One"},
		{GUID: "2", Link: "https://a.example.com/2", Title: "Two"},
		{Link: "https://a.example.com/3", Title: "Three"},
	}

	inserted, err := store.CommitCycle(ctx, feedA, items, success(time.Now()))
	require.NoError(t, err)
	assert.Len(t, inserted, 3)
	for _, item := range inserted {
		assert.Equal(t, db.ItemKey(feedA, item.GUID, item.Link), item.Key)
		assert.Equal(t, feedA, item.FeedURL)
	}

	inserted, err = store.CommitCycle(ctx, feedA, items, success(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, inserted)

	stored, err := store.QueryItems(ctx, models.ItemFilter{FeedURL: feedA})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestSameGUIDInDifferentFeedsAreDistinct(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	item := models.Item{GUID: "shared", Title: "Shared"}
	_, err := store.CommitCycle(ctx, feedA, []models.Item{item}, success(time.Now()))
	require.NoError(t, err)
	inserted, err := store.CommitCycle(ctx, feedB, []models.Item{item}, success(time.Now()))
	require.NoError(t, err)
	assert.Len(t, inserted, 1)

	all, err := store.QueryItems(ctx, models.ItemFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestItemUpdatePolicies(t *testing.T) {
	tests := []struct {
		name          string
		policy        db.UpdatePolicy
		expectedTitle string
	}{
		{"keep first seen", db.KeepFirstSeen, "First title"},
		{"refresh mutable", db.RefreshMutable, "Second title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, db.WithItemUpdates(tt.policy))

			first := models.Item{GUID: "g", Link: "https://a.example.com/g", Title: "First title", Summary: "first"}
			_, err := store.CommitCycle(ctx, feedA, []models.Item{first}, success(time.Now()))
			require.NoError(t, err)

			second := first
			second.Title = "Second title"
			second.Summary = "second"
			inserted, err := store.CommitCycle(ctx, feedA, []models.Item{second}, success(time.Now()))
			require.NoError(t, err)
			assert.Empty(t, inserted, "an update is never reported as a new item")

			item, err := store.Item(ctx, db.ItemKey(feedA, "g", ""))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedTitle, item.Title)

			items, err := store.QueryItems(ctx, models.ItemFilter{FeedURL: feedA})
			require.NoError(t, err)
			assert.Len(t, items, 1)
		})
	}
}

func TestLastSuccessOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	t1 := time.UnixMilli(1_700_000_000_000)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)
	t4 := t3.Add(time.Hour)

	require.NoError(t, store.RecordFetchOutcome(ctx, feedA, success(t2)))
	require.NoError(t, store.RecordFetchOutcome(ctx, feedA, success(t1)))

	feed, err := store.Feed(ctx, feedA)
	require.NoError(t, err)
	require.NotNil(t, feed.LastSuccess)
	assert.True(t, feed.LastSuccess.Equal(t2), "an older success must not regress the timestamp")

	require.NoError(t, store.RecordFetchOutcome(ctx, feedA, models.FetchOutcome{At: t3, Err: errors.New("connection refused")}))

	feed, err = store.Feed(ctx, feedA)
	require.NoError(t, err)
	assert.True(t, feed.LastSuccess.Equal(t2))
	assert.True(t, feed.LastAttempt.Equal(t3))
	assert.Equal(t, "connection refused", feed.LastError)
	assert.True(t, feed.Failing())

	require.NoError(t, store.RecordFetchOutcome(ctx, feedA, success(t4)))
	feed, err = store.Feed(ctx, feedA)
	require.NoError(t, err)
	assert.True(t, feed.LastSuccess.Equal(t4))
	assert.Empty(t, feed.LastError)
}

func TestUnknownFeed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.CommitCycle(ctx, "https://unknown.example/rss", []models.Item{{GUID: "x"}}, success(time.Now()))
	assert.ErrorIs(t, err, db.ErrUnknownFeed)

	err = store.RecordFetchOutcome(ctx, "https://unknown.example/rss", success(time.Now()))
	assert.ErrorIs(t, err, db.ErrUnknownFeed)

	_, err = store.Feed(ctx, "https://unknown.example/rss")
	assert.ErrorIs(t, err, db.ErrUnknownFeed)
}

func TestReadStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nuuslees.db")

	store, err := db.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.UpsertFeed(ctx, models.Feed{URL: feedA, Label: "A"}))
	inserted, err := store.CommitCycle(ctx, feedA, []models.Item{{GUID: "1"}, {GUID: "2"}}, success(time.Now()))
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	// Absence of a row means unread
	state, err := store.ReadState(ctx, inserted[0].Key)
	require.NoError(t, err)
	assert.False(t, state.Read)

	require.NoError(t, store.SetReadState(ctx, models.ReadState{ItemKey: inserted[0].Key, Read: true, Starred: true}))
	require.NoError(t, store.Close())

	store = openStore(t, path)
	state, err = store.ReadState(ctx, inserted[0].Key)
	require.NoError(t, err)
	assert.True(t, state.Read)
	assert.True(t, state.Starred)

	unread, err := store.QueryItems(ctx, models.ItemFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, inserted[1].Key, unread[0].Key)

	starred, err := store.QueryItems(ctx, models.ItemFilter{StarredOnly: true})
	require.NoError(t, err)
	require.Len(t, starred, 1)
	assert.Equal(t, inserted[0].Key, starred[0].Key)
}

func TestSetReadStateUnknownItem(t *testing.T) {
	store := newStore(t)
	err := store.SetReadState(context.Background(), models.ReadState{ItemKey: "missing", Read: true})
	assert.ErrorIs(t, err, db.ErrUnknownItem)
}

func TestConcurrentCommitsNeverDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	var items []models.Item
	for i := 0; i < 20; i++ {
		items = append(items, models.Item{GUID: fmt.Sprintf("guid-%d", i), Title: fmt.Sprintf("Item %d", i)})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			// Every worker sees an overlapping window of the same items
			window := items[offset : offset+13]
			got, err := store.CommitCycle(ctx, feedA, window, success(time.Now()))
			assert.NoError(t, err)
			mu.Lock()
			inserted += len(got)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	stored, err := store.QueryItems(ctx, models.ItemFilter{FeedURL: feedA})
	require.NoError(t, err)
	assert.Len(t, stored, 20)
	assert.Equal(t, 20, inserted)
}

func TestConcurrentCommitsAcrossFeeds(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	var wg sync.WaitGroup
	for _, feedURL := range []string{feedA, feedB} {
		for cycle := 0; cycle < 4; cycle++ {
			wg.Add(1)
			go func(feedURL string, cycle int) {
				defer wg.Done()
				var items []models.Item
				for i := 0; i < 5; i++ {
					items = append(items, models.Item{
						GUID:  fmt.Sprintf("%d-%d", cycle, i),
						Title: fmt.Sprintf("%s %d-%d", feedURL, cycle, i),
					})
				}
				_, err := store.CommitCycle(ctx, feedURL, items, success(time.Now()))
				assert.NoError(t, err)
			}(feedURL, cycle)
		}
	}
	wg.Wait()

	for _, feedURL := range []string{feedA, feedB} {
		stored, err := store.QueryItems(ctx, models.ItemFilter{FeedURL: feedURL})
		require.NoError(t, err)
		assert.Len(t, stored, 20)
		for _, item := range stored {
			assert.Equal(t, feedURL, item.FeedURL)
			assert.Contains(t, item.Title, feedURL)
		}

		feed, err := store.Feed(ctx, feedURL)
		require.NoError(t, err)
		assert.NotNil(t, feed.LastSuccess)
	}

	all, err := store.QueryItems(ctx, models.ItemFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 40)
}

func TestDedupWithoutGUIDUsesNormalizedLink(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.CommitCycle(ctx, feedA, []models.Item{
		{Link: "https://a.example.com/a", Title: "A"},
		{GUID: "known", Title: "Known"},
	}, success(time.Now()))
	require.NoError(t, err)

	inserted, err := store.CommitCycle(ctx, feedA, []models.Item{
		{Link: "HTTPS://A.example.com/a/?utm_source=rss#top", Title: "A again"},
		{Link: "https://a.example.com/a", Title: "A duplicate in same document"},
		{GUID: "known", Title: "Known"},
		{GUID: "new", Title: "New"},
	}, success(time.Now()))
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "new", inserted[0].GUID)

	item, err := store.Item(ctx, db.ItemKey(feedA, "", "https://a.example.com/a"))
	require.NoError(t, err)
	assert.Equal(t, "A", item.Title)
}

func TestItemsWithoutIdentityAreDropped(t *testing.T) {
	store := newStore(t)
	inserted, err := store.CommitCycle(context.Background(), feedA, []models.Item{{Title: "No guid, no link"}}, success(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, inserted)
}

func TestQueryItemsOrdering(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	store := newStore(t, db.WithClock(func() time.Time { return now }))

	_, err := store.CommitCycle(ctx, feedA, []models.Item{
		{GUID: "old", Published: ptr(now.Add(-48 * time.Hour))},
		{GUID: "undated"},
		{GUID: "recent", Published: ptr(now.Add(-time.Hour))},
	}, success(now))
	require.NoError(t, err)

	items, err := store.QueryItems(ctx, models.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "undated", items[0].GUID, "undated items sort by fetch time")
	assert.Equal(t, "recent", items[1].GUID)
	assert.Equal(t, "old", items[2].GUID)
	assert.Nil(t, items[0].Published)
	assert.Equal(t, "A", items[0].FeedLabel)

	limited, err := store.QueryItems(ctx, models.ItemFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestExtractedContent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	inserted, err := store.CommitCycle(ctx, feedA, []models.Item{{GUID: "1"}}, success(time.Now()))
	require.NoError(t, err)
	key := inserted[0].Key

	content, err := store.Content(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, content, "no row means extraction was never attempted")

	require.NoError(t, store.AttachExtractedContent(ctx, models.ExtractedContent{
		ItemKey: key,
		Status:  models.ExtractionFailed,
		Error:   "no content",
	}))
	content, err = store.Content(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, content.Status)
	assert.Empty(t, content.Links)

	require.NoError(t, store.AttachExtractedContent(ctx, models.ExtractedContent{
		ItemKey: key,
		Status:  models.ExtractionSuccess,
		Title:   "Article",
		Body:    "Readable text",
		Links:   []string{"https://example.com/ref"},
	}))
	content, err = store.Content(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionSuccess, content.Status)
	assert.Equal(t, "Readable text", content.Body)
	assert.Equal(t, []string{"https://example.com/ref"}, content.Links)
	assert.Empty(t, content.Error)

	item, err := store.Item(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionSuccess, item.Extraction)

	err = store.AttachExtractedContent(ctx, models.ExtractedContent{ItemKey: "missing", Status: models.ExtractionSuccess})
	assert.ErrorIs(t, err, db.ErrUnknownItem)
}

func TestMarkFeedReadKeepsStars(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	inserted, err := store.CommitCycle(ctx, feedA, []models.Item{{GUID: "1"}, {GUID: "2"}, {GUID: "3"}}, success(time.Now()))
	require.NoError(t, err)
	_, err = store.CommitCycle(ctx, feedB, []models.Item{{GUID: "b"}}, success(time.Now()))
	require.NoError(t, err)

	require.NoError(t, store.SetReadState(ctx, models.ReadState{ItemKey: inserted[0].Key, Starred: true}))

	affected, err := store.MarkFeedRead(ctx, feedA)
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	state, err := store.ReadState(ctx, inserted[0].Key)
	require.NoError(t, err)
	assert.True(t, state.Read)
	assert.True(t, state.Starred)

	summaries, err := store.FeedSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, feedA, summaries[0].URL)
	assert.Equal(t, 3, summaries[0].ItemCount)
	assert.Equal(t, 0, summaries[0].UnreadCount)
	assert.Equal(t, 1, summaries[1].UnreadCount)

	_, err = store.MarkFeedRead(ctx, "")
	require.NoError(t, err)
	unread, err := store.QueryItems(ctx, models.ItemFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestSyncFeedsDeactivatesRemovedFeeds(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.CommitCycle(ctx, feedB, []models.Item{{GUID: "b"}}, success(time.Now()))
	require.NoError(t, err)

	require.NoError(t, store.SyncFeeds(ctx, []models.Feed{{URL: feedA, Label: "Renamed", Position: 0}}))

	summaries, err := store.FeedSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Renamed", summaries[0].Label)

	items, err := store.QueryItems(ctx, models.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items, "items of inactive feeds are hidden")

	// The feed row is kept and comes back on the next sync
	_, err = store.Feed(ctx, feedB)
	require.NoError(t, err)
}

func TestTidy(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	store := newStore(t, db.WithClock(func() time.Time { return now }))

	inserted, err := store.CommitCycle(ctx, feedA, []models.Item{
		{GUID: "old-read", Published: ptr(now.Add(-60 * 24 * time.Hour))},
		{GUID: "old-starred", Published: ptr(now.Add(-60 * 24 * time.Hour))},
		{GUID: "old-unread", Published: ptr(now.Add(-60 * 24 * time.Hour))},
		{GUID: "new-read", Published: ptr(now.Add(-time.Hour))},
	}, success(now))
	require.NoError(t, err)
	require.Len(t, inserted, 4)

	require.NoError(t, store.SetReadState(ctx, models.ReadState{ItemKey: inserted[0].Key, Read: true}))
	require.NoError(t, store.SetReadState(ctx, models.ReadState{ItemKey: inserted[1].Key, Read: true, Starred: true}))
	require.NoError(t, store.SetReadState(ctx, models.ReadState{ItemKey: inserted[3].Key, Read: true}))

	deleted, err := store.Tidy(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.Item(ctx, inserted[0].Key)
	assert.ErrorIs(t, err, db.ErrUnknownItem)

	state, err := store.ReadState(ctx, inserted[0].Key)
	require.NoError(t, err)
	assert.False(t, state.Read, "read state is removed with the item")
}
