package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	toggle    key.Binding
	next      key.Binding
	previous  key.Binding
	forward   key.Binding
	rewind    key.Binding
	request   key.Binding
	release   key.Binding
	playlists key.Binding
	enter     key.Binding
	back      key.Binding
	resync    key.Binding
	help      key.Binding
	quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		toggle:    key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		next:      key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next")),
		previous:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "previous")),
		forward:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "+10s")),
		rewind:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "-10s")),
		request:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "take control")),
		release:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "release")),
		playlists: key.NewBinding(key.WithKeys("L", "tab"), key.WithHelp("L", "playlists")),
		enter:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play")),
		back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		resync:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resync")),
		help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.toggle, k.next, k.previous, k.request, k.help, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.toggle, k.next, k.previous, k.forward, k.rewind},
		{k.request, k.release, k.playlists, k.resync},
		{k.help, k.quit},
	}
}
