package query

import (
	"nuuslees/models"

	"github.com/huandu/go-sqlbuilder"
)

// FilterStrategy adds WHERE conditions to an item query. Queries select
// from items joined with feeds and left joined with read_states.
type FilterStrategy interface {
	// ApplyFilter adds filter conditions to the query builder
	ApplyFilter(sb *sqlbuilder.SelectBuilder)
}

// ActiveFeedsFilter hides items of feeds that are no longer subscribed
type ActiveFeedsFilter struct{}

func (ActiveFeedsFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Equal("feeds.active", 1))
}

type FeedFilter struct {
	FeedURL string
}

func (f FeedFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Equal("items.feed_url", f.FeedURL))
}

type GroupFilter struct {
	Group string
}

func (f GroupFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Equal("feeds.group_name", f.Group))
}

// UnreadFilter keeps items without a read state row or with read = 0
type UnreadFilter struct{}

func (UnreadFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where("COALESCE(read_states.read, 0) = 0")
}

type StarredFilter struct{}

func (StarredFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where("COALESCE(read_states.starred, 0) = 1")
}

// FromItemFilter returns the strategies selected by filter
func FromItemFilter(filter models.ItemFilter) []FilterStrategy {
	strategies := []FilterStrategy{ActiveFeedsFilter{}}
	if filter.FeedURL != "" {
		strategies = append(strategies, FeedFilter{FeedURL: filter.FeedURL})
	}
	if filter.Group != "" {
		strategies = append(strategies, GroupFilter{Group: filter.Group})
	}
	if filter.UnreadOnly {
		strategies = append(strategies, UnreadFilter{})
	}
	if filter.StarredOnly {
		strategies = append(strategies, StarredFilter{})
	}
	return strategies
}

// Apply runs every strategy against the builder
func Apply(sb *sqlbuilder.SelectBuilder, strategies ...FilterStrategy) {
	for _, strategy := range strategies {
		strategy.ApplyFilter(sb)
	}
}
