// Package accesslog formats the one-line summary the server logs for every
// written response.
package accesslog

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var methodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true).Background(lipgloss.Color("12")).Width(8).Align(lipgloss.Center)

// Entry describes one finished exchange.
type Entry struct {
	RequestID string
	Method    string
	Target    string
	Status    int
	Elapsed   time.Duration
}

// Line renders e as "METHOD target status in elapsed [id]".
func Line(e Entry) string {
	return fmt.Sprintf("%s %s %d in %s%s", e.Method, e.Target, e.Status, e.Elapsed, suffix(e.RequestID))
}

// ColoredLine is Line with the method and status highlighted for a terminal.
func ColoredLine(e Entry) string {
	styledMethod := methodStyle.Render(e.Method)
	styledStatus := statusStyle(e.Status).Render(fmt.Sprintf("%d", e.Status))
	return fmt.Sprintf("%s %s %s in %s%s", styledMethod, e.Target, styledStatus, e.Elapsed, suffix(e.RequestID))
}

func suffix(id string) string {
	if id == "" {
		return ""
	}
	return " [" + id + "]"
}

func statusStyle(statusCode int) lipgloss.Style {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	case statusCode >= 300 && statusCode < 400:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	case statusCode >= 400 && statusCode < 500:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	case statusCode >= 500:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	}
}
