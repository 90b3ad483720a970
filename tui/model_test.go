package tui

import (
	"context"
	"testing"

	"nuuslees/models"
	"nuuslees/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingScheduler struct {
	refreshed     [][]string
	extracted     []string
	notifications chan models.Notification
}

func (r *recordingScheduler) Refresh(urls ...string) { r.refreshed = append(r.refreshed, urls) }
func (r *recordingScheduler) Extract(key string)     { r.extracted = append(r.extracted, key) }
func (r *recordingScheduler) Notifications() <-chan models.Notification {
	return r.notifications
}

type recordingWriter struct {
	states []models.ReadState
}

func (r *recordingWriter) SetReadState(ctx context.Context, state models.ReadState) error {
	r.states = append(r.states, state)
	return nil
}

func (r *recordingWriter) MarkFeedRead(ctx context.Context, feedURL string) (int64, error) {
	return 0, nil
}

type staticStore struct{}

func (staticStore) FeedSummaries(ctx context.Context) ([]models.FeedSummary, error) {
	return []models.FeedSummary{{Feed: models.Feed{URL: "https://example.com/rss", Label: "Example"}, ItemCount: 1, UnreadCount: 1}}, nil
}

func (staticStore) QueryItems(ctx context.Context, filter models.ItemFilter) ([]models.ItemView, error) {
	return []models.ItemView{{Item: models.Item{Key: "k1", FeedURL: "https://example.com/rss", Title: "Hello"}, FeedLabel: "Example"}}, nil
}

func (staticStore) Item(ctx context.Context, key string) (*models.ItemView, error) {
	return &models.ItemView{Item: models.Item{Key: "k1", FeedURL: "https://example.com/rss", Title: "Hello"}, FeedLabel: "Example"}, nil
}

func (staticStore) Content(ctx context.Context, key string) (*models.ExtractedContent, error) {
	return nil, nil
}

func newTestModel(t *testing.T) (*Model, *recordingScheduler, *recordingWriter) {
	t.Helper()
	scheduler := &recordingScheduler{notifications: make(chan models.Notification, 1)}
	writer := &recordingWriter{}
	controller := ui.NewController(staticStore{}, ui.Options{MarkReadOnOpen: true})
	m := NewModel(context.Background(), controller, scheduler, writer)
	m.Init()
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 12})
	return m, scheduler, writer
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// run executes a command the way the program would, expanding batches
func run(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if batch, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range batch {
			run(c)
		}
	}
}

func TestKeyLookup(t *testing.T) {
	keys := defaultKeyMap()
	assert.Equal(t, ui.KeyDown, keys.lookup(keyMsg("j")))
	assert.Equal(t, ui.KeyRefreshAll, keys.lookup(keyMsg("R")))
	assert.Equal(t, ui.KeySelect, keys.lookup(keyMsg("enter")))
	assert.Equal(t, ui.KeyBack, keys.lookup(keyMsg("esc")))
	assert.Equal(t, ui.KeyNone, keys.lookup(keyMsg("z")))
}

func TestRefreshKeyTriggersScheduler(t *testing.T) {
	m, scheduler, _ := newTestModel(t)

	m.Update(keyMsg("R"))
	require.Len(t, scheduler.refreshed, 1)
	assert.Empty(t, scheduler.refreshed[0])
	assert.Contains(t, m.View(), "Refreshing all feeds")
}

func TestOpeningItemWritesReadStateInCommand(t *testing.T) {
	m, scheduler, writer := newTestModel(t)

	m.Update(keyMsg("enter"))
	_, cmd := m.Update(keyMsg("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"k1"}, scheduler.extracted)

	// The write happens when bubbletea runs the command, not during Update
	assert.Empty(t, writer.states)
	run(cmd)
	assert.Equal(t, []models.ReadState{{ItemKey: "k1", Read: true}}, writer.states)
	assert.Contains(t, m.View(), "Hello")
}

func TestNotificationIsRenderedAndRearmed(t *testing.T) {
	m, _, _ := newTestModel(t)

	_, cmd := m.Update(notificationMsg(models.Notification{Kind: models.CycleStarted, FeedURL: "https://example.com/rss"}))
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "[refreshing]")
}

func TestQuitKey(t *testing.T) {
	m, _, _ := newTestModel(t)
	_, cmd := m.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
