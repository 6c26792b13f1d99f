package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"tradingcal/internal/domain"
)

var (
	openStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	closedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	degradedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	weekendStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// styledRows renders rows for a terminal: one line per day with the state
// coloured and weekends dimmed. Cells are padded before styling so escape
// codes do not break the columns.
func styledRows(rows []domain.CalendarRow) string {
	var b strings.Builder
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("%-10s  %-3s  %-6s  %-13s  %s", "date", "dow", "state", "session", "note")))
	b.WriteByte('\n')

	for _, row := range rows {
		day := fmt.Sprintf("%-10s  %-3s", domain.FormatDate(row.Date), row.Date.Weekday().String()[:3])
		if domain.IsWeekend(row.Date) {
			day = weekendStyle.Render(day)
		}

		state := closedStyle.Render(fmt.Sprintf("%-6s", "closed"))
		if row.Open {
			state = openStyle.Render(fmt.Sprintf("%-6s", "open"))
		}

		session := dimStyle.Render(fmt.Sprintf("%-13s", sessionSpan(row.OpenTime, row.CloseTime)))

		note := ""
		if row.Degraded {
			note = degradedStyle.Render("degraded")
		}
		fmt.Fprintf(&b, "%s  %s  %s  %s\n", day, state, session, note)
	}
	return b.String()
}

func sessionSpan(open, closeAt *time.Time) string {
	if open == nil || closeAt == nil {
		return "-"
	}
	return open.Format("15:04") + "-" + closeAt.Format("15:04")
}
