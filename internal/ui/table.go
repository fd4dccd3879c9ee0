package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/text"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

// RoomsTableView renders the server's rooms using lipgloss/table.
func RoomsTableView(rooms []signaling.RoomSnapshot, now time.Time) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No active rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for _, room := range rooms {
		names := make([]string, 0, len(room.Participants))
		for _, p := range room.Participants {
			names = append(names, p.Name+MediaBadges(p.Media))
		}
		rows = append(rows, []string{
			TruncateString(room.ID, 40),
			fmt.Sprintf("%d", len(room.Participants)),
			TruncateString(strings.Join(names, ", "), 50),
			FormatDuration(now.Sub(room.CreatedAt)),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Room", "#", "Participants", "Age").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// CallSummaryView renders the hang-up report with go-pretty.
func CallSummaryView(s call.Summary) string {
	t := prettytable.NewWriter()
	t.SetTitle(fmt.Sprintf("%s Call Summary · %s", IconTime, s.RoomID))
	t.AppendHeader(prettytable.Row{"Participant", "Client", "Tracks", "Packets", "Received", "RTT", "Connected"})

	for _, p := range s.Peers {
		name := p.Name
		if name == "" {
			name = TruncateString(p.ID, 8)
		}
		rtt := "-"
		if p.RTT > 0 {
			rtt = p.RTT.Round(time.Millisecond).String()
		}
		t.AppendRow(prettytable.Row{
			name, p.ClientType, p.Tracks, p.Packets, FormatSize(int64(p.Bytes)), rtt, FormatDuration(p.Connected),
		})
	}

	t.AppendFooter(prettytable.Row{
		"Total", "", "", s.TotalPackets(), FormatSize(int64(s.TotalBytes())), "", FormatDuration(s.Duration),
	})
	t.SetCaption("chat: %d sent, %d received", s.ChatSent, s.ChatReceived)

	style := prettytable.StyleRounded
	style.Title.Align = text.AlignCenter
	t.SetStyle(style)
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	return t.Render()
}

// RoomInfo is the banner shown once a room is joined.
type RoomInfo struct {
	RoomID   string
	RoomLink string
	Created  bool
}

func (r RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	title := "Joined Room"
	if r.Created {
		title = "Room Created!"
	}
	content := fmt.Sprintf("%s %s\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconSuccess, title,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)

	return boxStyle.Render(content)
}

// MediaBadges renders the live tracks of a participant as icons.
func MediaBadges(m signaling.MediaState) string {
	var b strings.Builder
	if m.Audio {
		b.WriteString(" " + IconAudio)
	}
	if m.Video {
		b.WriteString(" " + IconVideo)
	}
	if m.Screen {
		b.WriteString(" " + IconScreen)
	}
	return b.String()
}
