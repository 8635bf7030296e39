package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RoomInfo is the box shown to a caller so they can share the room ID.
type RoomInfo struct {
	RoomID   string
	RelayURL string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Room ready\n\n%s Room ID:  %s\n%s Relay:    %s\n\n%s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconConnect, MutedStyle.Render(r.RelayURL),
		MutedStyle.Render("The other participant runs: carecall answer "+r.RoomID),
	)
	return RoomBoxStyle.Render(content)
}

// ProbeSummary is the outcome of the caller's round-trip probe.
type ProbeSummary struct {
	RoomID   string
	PeerID   string
	RTTs     []time.Duration
	Sent     int
	Received int
	Min      time.Duration
	Avg      time.Duration
	Max      time.Duration
}

// ProbeTableView renders one row per answered ping with a min/avg/max footer.
func ProbeTableView(s ProbeSummary) string {
	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.SetTitle("Round-trip times")

	t.AppendHeader(prettytable.Row{"#", "RTT"})
	for i, rtt := range s.RTTs {
		t.AppendRow(prettytable.Row{i + 1, formatRTT(rtt)})
	}
	t.AppendFooter(prettytable.Row{"min / avg / max", fmt.Sprintf("%s / %s / %s", formatRTT(s.Min), formatRTT(s.Avg), formatRTT(s.Max))})
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
	})
	return t.Render()
}

// CallSummaryView renders the key facts of a finished call.
func CallSummaryView(s ProbeSummary) string {
	loss := 0.0
	if s.Sent > 0 {
		loss = float64(s.Sent-s.Received) / float64(s.Sent) * 100
	}

	rows := [][]string{
		{"Room", s.RoomID},
		{"Peer", s.PeerID},
		{"Pings answered", fmt.Sprintf("%d/%d", s.Received, s.Sent)},
		{"Loss", fmt.Sprintf("%.0f%%", loss)},
		{"Average RTT", formatRTT(s.Avg)},
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
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

func formatRTT(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}
