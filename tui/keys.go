package tui

import (
	"nuuslees/ui"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type binding struct {
	key.Binding
	target ui.Key
}

type keyMap []binding

func defaultKeyMap() keyMap {
	bind := func(target ui.Key, keys ...string) binding {
		return binding{Binding: key.NewBinding(key.WithKeys(keys...)), target: target}
	}

	return keyMap{
		bind(ui.KeyUp, "k", "up"),
		bind(ui.KeyDown, "j", "down"),
		bind(ui.KeyTop, "g", "home"),
		bind(ui.KeyBottom, "G", "end"),
		bind(ui.KeyPageDown, " ", "pgdown", "ctrl+f"),
		bind(ui.KeyPageUp, "b", "pgup", "ctrl+b"),
		bind(ui.KeySelect, "enter", "l", "right"),
		bind(ui.KeyBack, "esc", "h", "left", "n"),
		bind(ui.KeyRefresh, "r"),
		bind(ui.KeyRefreshAll, "R"),
		bind(ui.KeyToggleRead, "m"),
		bind(ui.KeyToggleStar, "s"),
		bind(ui.KeyToggleUnreadOnly, "u"),
		bind(ui.KeyMarkFeedRead, "A"),
		bind(ui.KeyHelp, "?"),
		bind(ui.KeyQuit, "q", "ctrl+c"),
		bind(ui.KeyConfirm, "y"),
	}
}

// lookup translates a terminal key press, KeyNone when unbound
func (m keyMap) lookup(msg tea.KeyMsg) ui.Key {
	for _, b := range m {
		if key.Matches(msg, b.Binding) {
			return b.target
		}
	}
	return ui.KeyNone
}
