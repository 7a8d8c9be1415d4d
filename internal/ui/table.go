package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/Greed71/webRTC/internal/protocol"
)

// RoomsView renders the server's rooms, one row per room.
func RoomsView(rooms []protocol.RoomInfo) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		occupants := make([]string, 0, len(r.Occupants))
		for _, id := range r.Occupants {
			occupants = append(occupants, id.String())
		}
		rows = append(rows, []string{
			r.Name,
			fmt.Sprintf("%d/2", len(r.Occupants)),
			strings.Join(occupants, ", "),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Room", "Seats", "Occupants").
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

func RenderRooms(rooms []protocol.RoomInfo) {
	printf("%s\n", RoomsView(rooms))
}

// SessionSummary describes one finished room membership.
type SessionSummary struct {
	Room     string
	Peer     string
	Duration time.Duration
	Sent     int
	Received int
	Tracks   []string
}

func SessionSummaryView(s SessionSummary) string {
	peer := s.Peer
	if peer == "" {
		peer = "-"
	}
	tracks := strings.Join(s.Tracks, ", ")
	if tracks == "" {
		tracks = "none"
	}

	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.SetTitle("Session Summary")
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Room", s.Room},
		{"Peer", peer},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Messages sent", s.Sent},
		{"Messages received", s.Received},
		{"Local tracks", tracks},
	})
	return t.Render()
}

func RenderSessionSummary(s SessionSummary) {
	printf("%s\n", SessionSummaryView(s))
}
