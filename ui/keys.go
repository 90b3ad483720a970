package ui

// Key is a terminal-independent input event
type Key int

const (
	KeyNone Key = iota
	KeyUp
	KeyDown
	KeyTop
	KeyBottom
	KeyPageUp
	KeyPageDown
	KeySelect
	KeyBack
	KeyRefresh
	KeyRefreshAll
	KeyToggleRead
	KeyToggleStar
	KeyToggleUnreadOnly
	KeyMarkFeedRead
	KeyHelp
	KeyQuit
	KeyConfirm
)

// Help lists the key bindings shown in the help overlay
var Help = []struct {
	Keys string
	Desc string
}{
	{"j/k, ↓/↑", "move"},
	{"g/G", "top / bottom"},
	{"enter, l", "open"},
	{"esc, h", "back"},
	{"space/b", "page down / up in reader"},
	{"r", "refresh selected feed"},
	{"R", "refresh all feeds"},
	{"m", "toggle read"},
	{"s", "toggle star"},
	{"u", "toggle unread only"},
	{"A", "mark feed read"},
	{"?", "help"},
	{"q", "back / quit"},
}
