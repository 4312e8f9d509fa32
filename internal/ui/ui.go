package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/server"
	"github.com/desertthunder/spotbridge/internal/shared"
)

const (
	tickInterval = 250 * time.Millisecond
	seekStep     = 10_000
	minBarWidth  = 10
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	NowPlayingView ViewState = iota
	PlaylistView
)

// Model represents the monitor state.
type Model struct {
	remote   Remote
	identity string
	view     ViewState
	now      func() time.Time

	state   models.PlaybackState
	synced  bool
	lease   models.Lease
	status  string
	err     error
	seq     int
	pending map[string]string

	playlistList list.Model
	playlists    []models.Playlist

	width  int
	height int
	help   help.Model
	keys   keyMap
}

// NewModel creates a monitor reading from remote as identity.
func NewModel(remote Remote, identity string) *Model {
	return &Model{
		remote:   remote,
		identity: identity,
		view:     NowPlayingView,
		now:      time.Now,
		pending:  make(map[string]string),
		help:     help.New(),
		keys:     newKeyMap(),
		width:    80,
	}
}

// Init starts listening for server messages and the progress ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if m.playlists != nil {
			m.playlistList.SetSize(msg.Width-4, msg.Height-6)
		}
		return m, nil

	case tea.KeyMsg:
		if m.view == PlaylistView && m.playlistList.FilterState() == list.Filtering {
			return m.updateList(msg)
		}
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
		if m.view == PlaylistView {
			return m.handlePlaylistKeys(msg)
		}
		return m.handleNowPlayingKeys(msg)

	case Msg:
		switch msg.kind {
		case MsgServer:
			cmd := m.handleServer(msg.data.(server.Outbound))
			return m, tea.Batch(cmd, m.listen())
		case MsgDisconnected:
			err, _ := msg.data.(error)
			if err == nil {
				err = errors.New("connection closed by bridge")
			}
			m.err = err
			return m, nil
		case MsgTick:
			return m, m.tick()
		case MsgSendFailed:
			m.status = styles.err.Render(fmt.Sprintf("✕ %v", msg.data))
			return m, nil
		}
	}

	if m.view == PlaylistView {
		return m.updateList(msg)
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Disconnected: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case PlaylistView:
		return m.renderPlaylists()
	default:
		return m.renderNowPlaying()
	}
}

// State returns the last synchronized playback state.
func (m *Model) State() models.PlaybackState { return m.state }

func (m *Model) handleServer(out server.Outbound) tea.Cmd {
	switch out.Type {
	case server.TypeSnapshot:
		if out.State == nil {
			return nil
		}
		m.state = *out.State
		m.synced = true
		return m.ack(out.Version)

	case server.TypeDelta:
		if out.State == nil {
			return nil
		}
		var cmds []tea.Cmd
		if !m.synced || out.Version > m.state.Version+1 {
			cmds = append(cmds, m.send(server.Inbound{Type: server.TypeResync}, ""))
		}
		if out.Version > m.state.Version {
			m.state = *out.State
			cmds = append(cmds, m.ack(out.Version))
		}
		return tea.Batch(cmds...)

	case server.TypeLease:
		if out.Lease != nil {
			m.lease = *out.Lease
		}

	case server.TypeResult:
		label := m.pending[out.RequestID]
		delete(m.pending, out.RequestID)
		if label == "" {
			label = "request"
		}
		if out.OK {
			m.status = styles.ok.Render("✓ " + label)
		} else {
			m.status = styles.err.Render(fmt.Sprintf("✕ %s: %s", label, out.Error))
		}

	case server.TypeError:
		delete(m.pending, out.RequestID)
		m.status = styles.err.Render(fmt.Sprintf("✕ %s", out.Error))

	case server.TypePlaylists:
		delete(m.pending, out.RequestID)
		m.setPlaylists(out.Playlists)
		m.view = PlaylistView
		m.status = ""
	}
	return nil
}

func (m *Model) handleNowPlayingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.toggle):
		if m.state.IsPlaying {
			return m, m.command(models.Command{Kind: models.CommandPause})
		}
		return m, m.command(models.Command{Kind: models.CommandPlay})
	case key.Matches(msg, m.keys.next):
		return m, m.command(models.Command{Kind: models.CommandNext})
	case key.Matches(msg, m.keys.previous):
		return m, m.command(models.Command{Kind: models.CommandPrevious})
	case key.Matches(msg, m.keys.forward):
		return m, m.command(models.Command{Kind: models.CommandSeek, PositionMS: m.clampSeek(m.position() + seekStep)})
	case key.Matches(msg, m.keys.rewind):
		return m, m.command(models.Command{Kind: models.CommandSeek, PositionMS: m.clampSeek(m.position() - seekStep)})
	case key.Matches(msg, m.keys.request):
		return m, m.send(server.Inbound{Type: server.TypeRequestControl}, "take control")
	case key.Matches(msg, m.keys.release):
		return m, m.send(server.Inbound{Type: server.TypeReleaseControl}, "release control")
	case key.Matches(msg, m.keys.playlists):
		m.status = styles.help.Render("loading playlists…")
		return m, m.send(server.Inbound{Type: server.TypeListPlaylists}, "playlists")
	case key.Matches(msg, m.keys.resync):
		return m, m.send(server.Inbound{Type: server.TypeResync}, "")
	}
	return m, nil
}

func (m *Model) handlePlaylistKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.back):
		m.view = NowPlayingView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.playlistList.SelectedItem().(playlistItem); ok {
			m.view = NowPlayingView
			return m, m.command(models.Command{Kind: models.CommandPlayPlaylist, PlaylistID: item.playlist.ID})
		}
		return m, nil
	}
	return m.updateList(msg)
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.playlistList, cmd = m.playlistList.Update(msg)
	return m, cmd
}

func (m *Model) setPlaylists(playlists []models.Playlist) {
	m.playlists = playlists
	items := make([]list.Item, len(playlists))
	for i, pl := range playlists {
		items[i] = playlistItem{playlist: pl}
	}
	m.playlistList = list.New(items, list.NewDefaultDelegate(), 0, 0)
	m.playlistList.Title = "Playlists"
	m.playlistList.SetSize(max(m.width-4, 20), max(m.height-6, 10))
}

func (m *Model) command(cmd models.Command) tea.Cmd {
	return m.send(server.Inbound{
		Type:       server.TypeCommand,
		Command:    cmd.Kind,
		PositionMS: cmd.PositionMS,
		DeviceID:   cmd.DeviceID,
		PlaylistID: cmd.PlaylistID,
	}, string(cmd.Kind))
}

// send tags in with a request id when label is set, so the result can be reported.
func (m *Model) send(in server.Inbound, label string) tea.Cmd {
	if label != "" {
		m.seq++
		in.RequestID = strconv.Itoa(m.seq)
		m.pending[in.RequestID] = label
	}
	remote := m.remote
	return func() tea.Msg {
		if err := remote.Send(in); err != nil {
			return sendFailedMsg(err)
		}
		return nil
	}
}

func (m *Model) ack(version uint64) tea.Cmd {
	return m.send(server.Inbound{Type: server.TypeAck, Version: version}, "")
}

func (m *Model) listen() tea.Cmd {
	remote := m.remote
	return func() tea.Msg {
		out, ok := <-remote.Messages()
		if !ok {
			return disconnectedMsg(remote.Err())
		}
		return serverMsg(out)
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// position extrapolates the playback position from the state anchor.
func (m *Model) position() int {
	pos := m.state.PositionMS
	if m.state.IsPlaying && !m.state.AnchoredAt.IsZero() {
		if elapsed := m.now().Sub(m.state.AnchoredAt); elapsed > 0 {
			pos += int(elapsed.Milliseconds())
		}
	}
	if d := m.state.Track.DurationMS; d > 0 && pos > d {
		pos = d
	}
	return max(pos, 0)
}

func (m *Model) clampSeek(pos int) int {
	if d := m.state.Track.DurationMS; d > 0 && pos > d {
		return d
	}
	return max(pos, 0)
}

func (m *Model) renderNowPlaying() string {
	var b strings.Builder

	b.WriteString(styles.title.Render(fmt.Sprintf("spotbridge · %s", m.identity)))
	b.WriteString("\n")

	st := m.state
	switch {
	case !m.synced:
		b.WriteString(styles.help.Render("waiting for state…"))
	case st.Status == models.StatusIdle:
		b.WriteString(styles.warn.Render("■ No active device. Start playback in Spotify."))
	case st.Status == models.StatusDisconnected:
		b.WriteString(styles.err.Render("✕ Spotify is unreachable; retrying"))
	default:
		icon := "❚❚"
		if st.IsPlaying {
			icon = "▶"
		}
		fmt.Fprintf(&b, "%s %s\n", icon, styles.ok.Render(st.Track.Title))
		b.WriteString(shared.JoinArtists(st.Track.Artists))
		if st.Track.Album != "" {
			b.WriteString(styles.help.Render(" · " + st.Track.Album))
		}
		b.WriteString("\n\n")
		b.WriteString(progressBar(m.position(), st.Track.DurationMS, m.width-16))
		if st.DeviceName != "" {
			b.WriteString("\n" + styles.help.Render("on "+st.DeviceName))
		}
		if st.Canvas != nil && st.Canvas.Found() {
			b.WriteString("\n" + styles.help.Render(fmt.Sprintf("%s: %s", st.Canvas.Kind, st.Canvas.URL)))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(m.renderLease())
	fmt.Fprintf(&b, "  %s", styles.help.Render(fmt.Sprintf("v%d", st.Version)))
	if m.status != "" {
		b.WriteString("\n" + m.status)
	}
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderLease() string {
	switch {
	case !m.lease.Held():
		return fmt.Sprintf("control: free (%s)", m.lease.Mode)
	case m.lease.Holder == m.identity:
		return styles.ok.Render("control: you")
	default:
		return styles.warn.Render("control: " + m.lease.Holder)
	}
}

func (m *Model) renderPlaylists() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.back, m.keys.quit}
	out := fmt.Sprintf("%s\n\n%s", m.playlistList.View(), m.help.ShortHelpView(helpKeys))
	if m.status != "" {
		out += "\n" + m.status
	}
	return out
}

// progressBar draws "━━━━●────  1:02 / 3:45" scaled to width cells.
func progressBar(pos, duration, width int) string {
	width = max(width, minBarWidth)
	filled := 0
	if duration > 0 {
		filled = min(width, pos*width/duration)
	}

	bar := styles.bar.Render(strings.Repeat("━", filled)) + "●" + styles.track.Render(strings.Repeat("─", width-filled))
	return fmt.Sprintf("%s  %s / %s", bar, shared.FormatDuration(pos), shared.FormatDuration(duration))
}
