package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/call"
)

const (
	maxLogLines     = 200
	rosterRefresh   = time.Second
	defaultViewRows = 12
)

// CallController is what the call view needs from a running call.
type CallController interface {
	Events() <-chan call.Event
	Roster() []call.RosterEntry
	SendChat(text string) error
}

type callEventMsg struct {
	event call.Event
	ok    bool
}

type rosterTickMsg time.Time

// CallModel is the interactive bubbletea view of a call.
type CallModel struct {
	ctrl     CallController
	roomLink func(roomID string) string

	input   textinput.Model
	spinner spinner.Model

	room    RoomInfo
	joined  bool
	roster  []call.RosterEntry
	log     []string
	rows    int
	width   int
	ended   bool
	aborted bool
}

// NewCallModel builds the view. roomLink turns a room ID into a shareable URL.
func NewCallModel(ctrl CallController, roomLink func(string) string) *CallModel {
	ti := textinput.New()
	ti.Placeholder = "Say something… (/quit to leave)"
	ti.CharLimit = 2000
	ti.Prompt = IconChat + " "
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &CallModel{
		ctrl:     ctrl,
		roomLink: roomLink,
		input:    ti,
		spinner:  s,
		rows:     defaultViewRows,
		width:    80,
	}
}

// Aborted reports whether the user quit, as opposed to the call ending.
func (m *CallModel) Aborted() bool {
	return m.aborted
}

func waitForEvent(events <-chan call.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return callEventMsg{event: ev, ok: ok}
	}
}

func rosterTick() tea.Cmd {
	return tea.Tick(rosterRefresh, func(t time.Time) tea.Msg { return rosterTickMsg(t) })
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.ctrl.Events()), rosterTick())
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if rows := msg.Height - 10; rows > 3 {
			m.rows = rows
		}
		m.input.Width = max(10, msg.Width-6)
		return m, nil

	case callEventMsg:
		if !msg.ok {
			m.ended = true
			return m, tea.Quit
		}
		m.handleEvent(msg.event)
		return m, waitForEvent(m.ctrl.Events())

	case rosterTickMsg:
		m.roster = m.ctrl.Roster()
		return m, rosterTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *CallModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	switch text {
	case "":
		return nil
	case "/quit", "/leave":
		m.aborted = true
		return tea.Quit
	}
	if err := m.ctrl.SendChat(text); err != nil {
		m.appendLog(FormatError(err))
	}
	return nil
}

func (m *CallModel) handleEvent(ev call.Event) {
	if ev.Kind == call.EventJoined {
		m.joined = true
		m.room = RoomInfo{RoomID: ev.RoomID, Created: ev.Created}
		if m.roomLink != nil {
			m.room.RoomLink = m.roomLink(ev.RoomID)
		}
	}
	if line := FormatEvent(ev); line != "" {
		m.appendLog(line)
	}
	m.roster = m.ctrl.Roster()
}

func (m *CallModel) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *CallModel) View() string {
	if !m.joined {
		return fmt.Sprintf("%s Joining room…\n", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.room.RoomID)))
	b.WriteString(" " + StatusStyle.Render(m.connectedSummary()))
	if m.room.RoomLink != "" {
		b.WriteString("  " + MutedStyle.Render(IconLink+" "+m.room.RoomLink))
	}
	b.WriteString("\n")

	rosterWidth := 30
	chatWidth := max(20, m.width-rosterWidth-6)

	roster := PanelStyle.Width(rosterWidth).Render(m.rosterView())
	chat := ChatPanelStyle.Width(chatWidth).Render(m.logView())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, roster, chat))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if m.ended {
		b.WriteString(WarningStyle.Render("Call ended") + "\n")
	} else {
		b.WriteString(FooterStyle.Render("enter send • esc leave") + "\n")
	}
	return b.String()
}

// connectedSummary reads like "2/3 connected" over the remote participants.
func (m *CallModel) connectedSummary() string {
	var remote, connected int
	for _, entry := range m.roster {
		if entry.Self {
			continue
		}
		remote++
		if entry.State == webrtc.PeerConnectionStateConnected {
			connected++
		}
	}
	return fmt.Sprintf("%d/%d connected", connected, remote)
}

func (m *CallModel) rosterView() string {
	lines := []string{TitleStyle.Render(fmt.Sprintf("Participants (%d)", len(m.roster)))}
	for _, entry := range m.roster {
		name := TruncateString(entry.Info.Name, 16) + MediaBadges(entry.Info.Media)
		if entry.Self {
			lines = append(lines, SelfStyle.Render(name+" (you)"))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s", PeerNameStyle.Render(name), stateBadge(entry.State)))
		if entry.RTT > 0 {
			lines = append(lines, MutedStyle.Render(fmt.Sprintf("  rtt %s", entry.RTT.Round(time.Millisecond))))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *CallModel) logView() string {
	lines := m.log
	if len(lines) > m.rows {
		lines = lines[len(lines)-m.rows:]
	}
	if len(lines) == 0 {
		return MutedStyle.Render("Waiting for others to join…")
	}
	return strings.Join(lines, "\n")
}

func stateBadge(state webrtc.PeerConnectionState) string {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return SuccessStyle.Render("●")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return ErrorStyle.Render("●")
	case webrtc.PeerConnectionStateDisconnected:
		return WarningStyle.Render("●")
	default:
		return MutedStyle.Render("○")
	}
}

// FormatEvent renders an event as one log line. Connection state changes
// other than connected/failed return "".
func FormatEvent(ev call.Event) string {
	ts := MutedStyle.Render(time.Now().Format("15:04:05"))
	name := ev.Peer.Name
	if name == "" {
		name = TruncateString(ev.Peer.ID, 8)
	}

	switch ev.Kind {
	case call.EventJoined:
		verb := "Joined"
		if ev.Created {
			verb = "Created"
		}
		return fmt.Sprintf("%s %s %s room %s", ts, IconSuccess, verb, BoldStyle.Render(ev.RoomID))
	case call.EventPeerJoined:
		return fmt.Sprintf("%s %s %s joined", ts, IconPeer, PeerNameStyle.Render(name))
	case call.EventPeerLeft:
		return fmt.Sprintf("%s %s %s left", ts, IconLeave, PeerNameStyle.Render(name))
	case call.EventPeerUpdated:
		badges := MediaBadges(ev.Peer.Media)
		if badges == "" {
			badges = " muted"
		}
		return fmt.Sprintf("%s %s%s", ts, PeerNameStyle.Render(name), badges)
	case call.EventPeerState:
		switch ev.State {
		case webrtc.PeerConnectionStateConnected:
			return fmt.Sprintf("%s %s connected to %s", ts, IconConnect, PeerNameStyle.Render(name))
		case webrtc.PeerConnectionStateFailed:
			return fmt.Sprintf("%s %s connection to %s failed", ts, IconWarning, PeerNameStyle.Render(name))
		}
		return ""
	case call.EventChat:
		if ev.Chat == nil {
			return ""
		}
		style := PeerNameStyle
		if ev.Chat.Self {
			style = SelfStyle
		}
		via := ""
		if ev.Chat.Direct {
			via = MutedStyle.Render(" p2p")
		}
		return fmt.Sprintf("%s %s%s: %s", ts, style.Render(ev.Chat.Name), via, ev.Chat.Text)
	case call.EventError:
		if ev.Err == nil {
			return ""
		}
		return fmt.Sprintf("%s %s", ts, FormatError(ev.Err))
	}
	return ""
}
