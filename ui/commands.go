package ui

import "nuuslees/models"

// Command is work the controller asks its host to perform. The controller
// itself never blocks or writes to the store.
type Command interface {
	command()
}

// RefreshCmd triggers fetch cycles, all feeds when FeedURLs is empty
type RefreshCmd struct {
	FeedURLs []string
}

type SetReadStateCmd struct {
	State models.ReadState
}

// MarkFeedReadCmd marks every item of a feed read, every item when FeedURL is empty
type MarkFeedReadCmd struct {
	FeedURL string
}

type ExtractCmd struct {
	ItemKey string
}

type QuitCmd struct{}

func (RefreshCmd) command()      {}
func (SetReadStateCmd) command() {}
func (MarkFeedReadCmd) command() {}
func (ExtractCmd) command()      {}
func (QuitCmd) command()         {}
