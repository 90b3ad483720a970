package ui

// Style tags a line so the terminal adapter can pick colors
type Style int

const (
	StyleNormal Style = iota
	StyleSelected
	StyleHeader
	StyleUnread
	StyleDim
	StyleError
)

type Line struct {
	Text  string
	Style Style
}

// Frame is a full description of what the terminal should show
type Frame struct {
	Title  string
	Lines  []Line
	Status string
	// Busy is set while any feed is being refreshed
	Busy bool
}
