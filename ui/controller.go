package ui

import (
	"context"
	"fmt"
	"strings"

	"nuuslees/models"

	"github.com/charmbracelet/x/ansi"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type Screen int

const (
	ScreenFeedList Screen = iota
	ScreenItemList
	ScreenReader
)

type overlay int

const (
	overlayNone overlay = iota
	overlayHelp
	overlayConfirmQuit
)

// StoreReader is the read side of the store the controller loads from
type StoreReader interface {
	FeedSummaries(ctx context.Context) ([]models.FeedSummary, error)
	QueryItems(ctx context.Context, filter models.ItemFilter) ([]models.ItemView, error)
	Item(ctx context.Context, key string) (*models.ItemView, error)
	Content(ctx context.Context, key string) (*models.ExtractedContent, error)
}

type Options struct {
	ConfirmQuit    bool
	MarkReadOnOpen bool
}

type rowKind int

const (
	rowAll rowKind = iota
	rowGroup
	rowFeed
)

// row is one entry of the feed list
type row struct {
	kind    rowKind
	label   string
	group   string
	feed    models.FeedSummary
	unread  int
	total   int
	members []string
}

// Controller holds all interface state. It is driven by HandleKey and
// HandleNotification from a single loop, reloads store data in Sync and
// describes the screen in Frame. It performs no terminal I/O.
type Controller struct {
	store StoreReader
	opts  Options

	width  int
	height int

	screen  Screen
	overlay overlay

	rows       []row
	feedCursor int

	scope      row
	unreadOnly bool
	items      []models.ItemView
	itemCursor int

	item    *models.ItemView
	content *models.ExtractedContent
	scroll  int

	refreshing map[string]bool
	failures   map[string]string
	extracting map[string]bool

	status string
	stale  bool
	dirty  bool
	quit   bool
}

func NewController(store StoreReader, opts Options) *Controller {
	return &Controller{
		store:      store,
		opts:       opts,
		width:      80,
		height:     24,
		refreshing: make(map[string]bool),
		failures:   make(map[string]string),
		extracting: make(map[string]bool),
		stale:      true,
		dirty:      true,
	}
}

func (c *Controller) Screen() Screen {
	return c.screen
}

// Dirty reports whether the frame changed since the last ClearDirty
func (c *Controller) Dirty() bool {
	return c.dirty
}

func (c *Controller) ClearDirty() {
	c.dirty = false
}

// Stale reports whether store data must be reloaded with Sync
func (c *Controller) Stale() bool {
	return c.stale
}

func (c *Controller) Quitting() bool {
	return c.quit
}

func (c *Controller) Resize(width, height int) {
	if width > 0 {
		c.width = width
	}
	if height > 0 {
		c.height = height
	}
	c.dirty = true
}

// SetStatus shows a message in the status line until the next one
func (c *Controller) SetStatus(format string, args ...any) {
	c.status = fmt.Sprintf(format, args...)
	c.dirty = true
}

// Invalidate marks store data stale, e.g. after a write finished
func (c *Controller) Invalidate() {
	c.stale = true
	c.dirty = true
}

// HandleNotification merges a pipeline event into the badges and marks the
// frame for redraw. It never changes the current screen.
func (c *Controller) HandleNotification(n models.Notification) {
	c.dirty = true

	switch n.Kind {
	case models.CycleStarted:
		c.refreshing[n.FeedURL] = true
	case models.AttemptFailed:
		if n.WillRetry {
			c.status = fmt.Sprintf("%s: attempt %d failed, retrying", c.feedLabel(n.FeedURL), n.Attempt)
		}
	case models.CycleCompleted:
		delete(c.refreshing, n.FeedURL)
		if n.Err != nil {
			c.failures[n.FeedURL] = n.Err.Error()
			c.status = fmt.Sprintf("%s: last fetch failed", c.feedLabel(n.FeedURL))
		} else {
			delete(c.failures, n.FeedURL)
		}
		if n.NewItems > 0 {
			c.status = fmt.Sprintf("%s: %d new", c.feedLabel(n.FeedURL), n.NewItems)
		}
		// The stored fetch outcome changed even when nothing new arrived
		c.stale = true
	case models.ExtractionCompleted:
		delete(c.extracting, n.ItemKey)
		if c.screen == ScreenReader && c.item != nil && c.item.Key == n.ItemKey {
			c.stale = true
		}
	}
}

// Refreshing reports whether any feed has a cycle running
func (c *Controller) Refreshing() bool {
	return len(c.refreshing) > 0
}

// Sync reloads whatever the current screen shows from the store
func (c *Controller) Sync(ctx context.Context) error {
	if !c.stale {
		return nil
	}
	c.stale = false
	c.dirty = true

	summaries, err := c.store.FeedSummaries(ctx)
	if err != nil {
		return fmt.Errorf("loading feeds: %w", err)
	}
	c.buildRows(summaries)

	if c.screen == ScreenFeedList {
		return nil
	}

	items, err := c.store.QueryItems(ctx, c.filter())
	if err != nil {
		return fmt.Errorf("loading items: %w", err)
	}
	c.items = items
	c.itemCursor = clamp(c.itemCursor, len(c.items))

	if c.screen != ScreenReader || c.item == nil {
		return nil
	}

	item, err := c.store.Item(ctx, c.item.Key)
	if err != nil {
		log.WithFields(log.Fields{
			"item":  c.item.Key,
			"error": err,
		}).Warn("Item disappeared while reading")
		c.screen = ScreenItemList
		c.item, c.content = nil, nil
		return nil
	}
	c.item = item

	content, err := c.store.Content(ctx, item.Key)
	if err != nil {
		return fmt.Errorf("loading content: %w", err)
	}
	c.content = content
	return nil
}

func (c *Controller) buildRows(summaries []models.FeedSummary) {
	var selected string
	if len(c.rows) > 0 {
		selected = c.rows[c.feedCursor].key()
	}

	all := row{kind: rowAll, label: "All items"}
	all.unread = lo.SumBy(summaries, func(s models.FeedSummary) int { return s.UnreadCount })
	all.total = lo.SumBy(summaries, func(s models.FeedSummary) int { return s.ItemCount })
	all.members = lo.Map(summaries, func(s models.FeedSummary, _ int) string { return s.URL })

	rows := []row{all}
	for i, summary := range summaries {
		if summary.Group != "" && (i == 0 || summaries[i-1].Group != summary.Group) {
			members := lo.Filter(summaries, func(s models.FeedSummary, _ int) bool { return s.Group == summary.Group })
			rows = append(rows, row{
				kind:    rowGroup,
				label:   summary.Group,
				group:   summary.Group,
				unread:  lo.SumBy(members, func(s models.FeedSummary) int { return s.UnreadCount }),
				total:   lo.SumBy(members, func(s models.FeedSummary) int { return s.ItemCount }),
				members: lo.Map(members, func(s models.FeedSummary, _ int) string { return s.URL }),
			})
		}
		rows = append(rows, row{
			kind:    rowFeed,
			label:   summary.Label,
			group:   summary.Group,
			feed:    summary,
			unread:  summary.UnreadCount,
			total:   summary.ItemCount,
			members: []string{summary.URL},
		})
	}

	c.rows = rows
	c.feedCursor = clamp(c.feedCursor, len(rows))
	if selected != "" {
		if _, index, ok := lo.FindIndexOf(rows, func(r row) bool { return r.key() == selected }); ok {
			c.feedCursor = index
		}
	}
}

func (r row) key() string {
	switch r.kind {
	case rowGroup:
		return "group:" + r.group
	case rowFeed:
		return "feed:" + r.feed.URL
	default:
		return "all"
	}
}

func (c *Controller) filter() models.ItemFilter {
	filter := models.ItemFilter{UnreadOnly: c.unreadOnly}
	switch c.scope.kind {
	case rowFeed:
		filter.FeedURL = c.scope.feed.URL
	case rowGroup:
		filter.Group = c.scope.group
	}
	return filter
}

// HandleKey applies one key press and returns the commands it produced
func (c *Controller) HandleKey(key Key) []Command {
	c.dirty = true

	switch c.overlay {
	case overlayHelp:
		c.overlay = overlayNone
		return nil
	case overlayConfirmQuit:
		c.overlay = overlayNone
		if key == KeyConfirm || key == KeyQuit {
			c.quit = true
			return []Command{QuitCmd{}}
		}
		c.status = ""
		return nil
	}

	switch key {
	case KeyHelp:
		c.overlay = overlayHelp
		return nil
	case KeyRefreshAll:
		c.status = "Refreshing all feeds"
		return []Command{RefreshCmd{}}
	case KeyToggleUnreadOnly:
		c.unreadOnly = !c.unreadOnly
		c.itemCursor = 0
		c.stale = true
		return nil
	}

	switch c.screen {
	case ScreenFeedList:
		return c.feedListKey(key)
	case ScreenItemList:
		return c.itemListKey(key)
	default:
		return c.readerKey(key)
	}
}

func (c *Controller) feedListKey(key Key) []Command {
	switch key {
	case KeyUp:
		c.feedCursor = clamp(c.feedCursor-1, len(c.rows))
	case KeyDown:
		c.feedCursor = clamp(c.feedCursor+1, len(c.rows))
	case KeyTop:
		c.feedCursor = 0
	case KeyBottom:
		c.feedCursor = clamp(len(c.rows)-1, len(c.rows))
	case KeyPageDown:
		c.feedCursor = clamp(c.feedCursor+c.bodyHeight(), len(c.rows))
	case KeyPageUp:
		c.feedCursor = clamp(c.feedCursor-c.bodyHeight(), len(c.rows))
	case KeySelect:
		if len(c.rows) == 0 {
			return nil
		}
		c.scope = c.rows[c.feedCursor]
		c.screen = ScreenItemList
		c.items = nil
		c.itemCursor = 0
		c.stale = true
	case KeyRefresh:
		if selected, ok := c.selectedRow(); ok {
			return []Command{c.refreshRow(selected)}
		}
	case KeyMarkFeedRead:
		if selected, ok := c.selectedRow(); ok {
			return c.markRowRead(selected)
		}
	case KeyQuit:
		if c.opts.ConfirmQuit {
			c.overlay = overlayConfirmQuit
			c.status = "Quit? (y/n)"
			return nil
		}
		c.quit = true
		return []Command{QuitCmd{}}
	}
	return nil
}

func (c *Controller) itemListKey(key Key) []Command {
	switch key {
	case KeyUp:
		c.itemCursor = clamp(c.itemCursor-1, len(c.items))
	case KeyDown:
		c.itemCursor = clamp(c.itemCursor+1, len(c.items))
	case KeyTop:
		c.itemCursor = 0
	case KeyBottom:
		c.itemCursor = clamp(len(c.items)-1, len(c.items))
	case KeyPageDown:
		c.itemCursor = clamp(c.itemCursor+c.bodyHeight(), len(c.items))
	case KeyPageUp:
		c.itemCursor = clamp(c.itemCursor-c.bodyHeight(), len(c.items))
	case KeySelect:
		if len(c.items) == 0 {
			return nil
		}
		return c.open(c.itemCursor)
	case KeyToggleRead:
		if len(c.items) > 0 {
			return c.toggle(&c.items[c.itemCursor], true)
		}
	case KeyToggleStar:
		if len(c.items) > 0 {
			return c.toggle(&c.items[c.itemCursor], false)
		}
	case KeyRefresh:
		return []Command{c.refreshRow(c.scope)}
	case KeyMarkFeedRead:
		for i := range c.items {
			c.items[i].Read = true
		}
		return c.markRowRead(c.scope)
	case KeyBack, KeyQuit:
		c.screen = ScreenFeedList
		c.items = nil
		c.stale = true
	}
	return nil
}

func (c *Controller) readerKey(key Key) []Command {
	if c.item == nil {
		c.screen = ScreenItemList
		return nil
	}

	switch key {
	case KeyDown:
		c.scrollBy(1)
	case KeyUp:
		c.scrollBy(-1)
	case KeyPageDown, KeySelect:
		c.scrollBy(c.bodyHeight())
	case KeyPageUp:
		c.scrollBy(-c.bodyHeight())
	case KeyTop:
		c.scroll = 0
	case KeyBottom:
		c.scrollBy(len(c.readerLines()))
	case KeyToggleRead:
		cmds := c.toggle(c.item, true)
		c.syncListItem()
		return cmds
	case KeyToggleStar:
		cmds := c.toggle(c.item, false)
		c.syncListItem()
		return cmds
	case KeyRefresh:
		return []Command{RefreshCmd{FeedURLs: []string{c.item.FeedURL}}}
	case KeyMarkFeedRead:
		c.item.Read = true
		c.syncListItem()
		return []Command{MarkFeedReadCmd{FeedURL: c.item.FeedURL}}
	case KeyBack, KeyQuit:
		c.screen = ScreenItemList
		c.item, c.content = nil, nil
		c.stale = true
	}
	return nil
}

// open switches to the reader for the item at index
func (c *Controller) open(index int) []Command {
	item := c.items[index]
	c.item = &item
	c.content = nil
	c.scroll = 0
	c.screen = ScreenReader
	c.stale = true

	var cmds []Command
	if c.opts.MarkReadOnOpen && !item.Read {
		c.item.Read = true
		c.items[index].Read = true
		cmds = append(cmds, SetReadStateCmd{State: models.ReadState{ItemKey: item.Key, Read: true, Starred: item.Starred}})
	}
	if !item.Extraction.Attempted() && !c.extracting[item.Key] {
		c.extracting[item.Key] = true
		cmds = append(cmds, ExtractCmd{ItemKey: item.Key})
	}
	return cmds
}

// toggle flips the read or star flag of item in place
func (c *Controller) toggle(item *models.ItemView, read bool) []Command {
	if read {
		item.Read = !item.Read
	} else {
		item.Starred = !item.Starred
	}
	c.stale = true
	return []Command{SetReadStateCmd{State: models.ReadState{ItemKey: item.Key, Read: item.Read, Starred: item.Starred}}}
}

func (c *Controller) syncListItem() {
	for i := range c.items {
		if c.items[i].Key == c.item.Key {
			c.items[i].Read = c.item.Read
			c.items[i].Starred = c.item.Starred
		}
	}
}

func (c *Controller) selectedRow() (row, bool) {
	if len(c.rows) == 0 {
		return row{}, false
	}
	return c.rows[c.feedCursor], true
}

func (c *Controller) refreshRow(r row) Command {
	if r.kind == rowAll {
		c.status = "Refreshing all feeds"
		return RefreshCmd{}
	}
	c.status = fmt.Sprintf("Refreshing %s", r.label)
	return RefreshCmd{FeedURLs: append([]string(nil), r.members...)}
}

func (c *Controller) markRowRead(r row) []Command {
	c.stale = true
	if r.kind == rowAll {
		return []Command{MarkFeedReadCmd{}}
	}
	return lo.Map(r.members, func(url string, _ int) Command { return MarkFeedReadCmd{FeedURL: url} })
}

func (c *Controller) scrollBy(delta int) {
	limit := len(c.readerLines()) - c.bodyHeight()
	c.scroll = max(0, min(c.scroll+delta, limit))
}

func (c *Controller) bodyHeight() int {
	return max(1, c.height-2)
}

func (c *Controller) feedLabel(url string) string {
	for _, r := range c.rows {
		if r.kind == rowFeed && r.feed.URL == url {
			return r.label
		}
	}
	return url
}

// Frame describes the current state. It reads no store data.
func (c *Controller) Frame() Frame {
	frame := Frame{Status: c.status, Busy: c.Refreshing()}

	if c.overlay == overlayHelp {
		frame.Title = "Help"
		for _, binding := range Help {
			frame.Lines = append(frame.Lines, Line{Text: fmt.Sprintf("%-12s %s", binding.Keys, binding.Desc)})
		}
		frame.Status = "press any key to close"
		return frame
	}

	switch c.screen {
	case ScreenFeedList:
		frame.Title = "Feeds"
		frame.Lines = c.window(c.feedLines(), c.feedCursor)
	case ScreenItemList:
		frame.Title = c.scope.label
		frame.Lines = c.window(c.itemLines(), c.itemCursor)
	case ScreenReader:
		frame.Title = c.scope.label
		lines := c.readerLines()
		end := min(len(lines), c.scroll+c.bodyHeight())
		frame.Lines = lines[min(c.scroll, end):end]
	}
	if c.unreadOnly && c.screen != ScreenReader {
		frame.Title += " (unread)"
	}
	return frame
}

// window returns the slice of lines that keeps the cursor visible
func (c *Controller) window(lines []Line, cursor int) []Line {
	height := c.bodyHeight()
	if len(lines) <= height {
		return lines
	}
	start := max(0, cursor-height/2)
	if start+height > len(lines) {
		start = len(lines) - height
	}
	return lines[start : start+height]
}

func (c *Controller) feedLines() []Line {
	lines := make([]Line, 0, len(c.rows))
	for i, r := range c.rows {
		indent := ""
		if r.kind == rowFeed && r.group != "" {
			indent = "  "
		}
		text := fmt.Sprintf("%s%s (%d/%d)", indent, r.label, r.unread, r.total)

		style := StyleNormal
		switch {
		case r.kind == rowGroup:
			style = StyleHeader
		case r.unread > 0:
			style = StyleUnread
		}

		if r.kind == rowFeed {
			if c.refreshing[r.feed.URL] {
				text += " [refreshing]"
			}
			if c.failing(r.feed) {
				text += " [last fetch failed]"
				style = StyleError
			}
		}
		if i == c.feedCursor {
			style = StyleSelected
		}
		lines = append(lines, Line{Text: c.fit(text), Style: style})
	}
	return lines
}

func (c *Controller) failing(summary models.FeedSummary) bool {
	if _, ok := c.failures[summary.URL]; ok {
		return true
	}
	return summary.Failing()
}

func (c *Controller) itemLines() []Line {
	if len(c.items) == 0 {
		return []Line{{Text: "No items", Style: StyleDim}}
	}

	lines := make([]Line, 0, len(c.items))
	for i, item := range c.items {
		flag := " "
		if !item.Read {
			flag = "N"
		}
		star := " "
		if item.Starred {
			star = "*"
		}
		text := fmt.Sprintf("%s%s %s  %s", flag, star, item.SortTime().Local().Format("2006-01-02"), item.Title)
		if c.scope.kind != rowFeed {
			text += "  (" + item.FeedLabel + ")"
		}

		style := StyleNormal
		if !item.Read {
			style = StyleUnread
		}
		if i == c.itemCursor {
			style = StyleSelected
		}
		lines = append(lines, Line{Text: c.fit(text), Style: style})
	}
	return lines
}

func (c *Controller) readerLines() []Line {
	if c.item == nil {
		return nil
	}
	item := c.item

	title := item.Title
	if c.content != nil && c.content.Status == models.ExtractionSuccess && c.content.Title != "" {
		title = c.content.Title
	}

	lines := c.wrap(title, StyleHeader)
	meta := fmt.Sprintf("%s | %s", item.FeedLabel, item.SortTime().Local().Format("2006-01-02 15:04"))
	if item.Starred {
		meta += " | starred"
	}
	lines = append(lines, c.wrap(meta, StyleDim)...)
	if item.Link != "" {
		lines = append(lines, c.wrap(item.Link, StyleDim)...)
	}
	lines = append(lines, Line{})

	switch {
	case c.content != nil && c.content.Status == models.ExtractionSuccess:
		lines = append(lines, c.wrap(c.content.Body, StyleNormal)...)
		if len(c.content.Links) > 0 {
			lines = append(lines, Line{}, Line{Text: "Links", Style: StyleHeader})
			for i, link := range c.content.Links {
				lines = append(lines, c.wrap(fmt.Sprintf("[%d] %s", i+1, link), StyleDim)...)
			}
		}
	case c.content != nil && c.content.Status == models.ExtractionFailed:
		lines = append(lines, c.wrap("Content unavailable: "+c.content.Error, StyleError)...)
		lines = append(lines, Line{})
		lines = append(lines, c.wrap(item.Summary, StyleNormal)...)
	case c.extracting[item.Key]:
		lines = append(lines, Line{Text: "Extracting…", Style: StyleDim})
		if item.Summary != "" {
			lines = append(lines, Line{})
			lines = append(lines, c.wrap(item.Summary, StyleNormal)...)
		}
	default:
		lines = append(lines, c.wrap(item.Summary, StyleNormal)...)
	}
	return lines
}

func (c *Controller) wrap(text string, style Style) []Line {
	var lines []Line
	for _, line := range strings.Split(ansi.Wrap(text, c.width, ""), "\n") {
		lines = append(lines, Line{Text: line, Style: style})
	}
	return lines
}

func (c *Controller) fit(text string) string {
	return ansi.Truncate(text, c.width, "…")
}

func clamp(index, length int) int {
	if length == 0 || index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}
