package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotbridge/internal/server"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgServer MsgKind = iota
	MsgDisconnected
	MsgTick
	MsgSendFailed
)

// serverMsg is the constructor for [MsgServer]
func serverMsg(out server.Outbound) Msg {
	return Msg{kind: MsgServer, data: out}
}

// disconnectedMsg is the constructor for [MsgDisconnected]
func disconnectedMsg(err error) Msg {
	return Msg{kind: MsgDisconnected, data: err}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}

// sendFailedMsg is the constructor for [MsgSendFailed]
func sendFailedMsg(err error) Msg {
	return Msg{kind: MsgSendFailed, data: err}
}
