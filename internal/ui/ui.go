// Package ui renders the catalog and launch progress for the terminal client
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/internal/launch"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1).
			Width(34)
)

// UI provides console output helpers
type UI struct {
	out io.Writer
	err io.Writer
}

// NewWithWriters creates a UI writing to the given writers
func NewWithWriters(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.out, successStyle.Render("✓ "+msg))
}

func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

func (ui *UI) Info(msg string) {
	fmt.Fprintln(ui.out, infoStyle.Render("ℹ "+msg))
}

func (ui *UI) Subtle(msg string) {
	fmt.Fprintln(ui.out, subtleStyle.Render(msg))
}

func (ui *UI) Header(title string) {
	fmt.Fprintln(ui.out, headerStyle.Render(title))
}

// KeyValue prints a key-value pair
func (ui *UI) KeyValue(key, value string) {
	fmt.Fprintf(ui.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Catalog prints one card per OS profile, side by side
func (ui *UI) Catalog(entries []catalog.Entry) {
	ui.Header("Available workstations")

	cards := make([]string, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, card(e))
	}
	fmt.Fprintln(ui.out, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
}

func card(e catalog.Entry) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(e.Profile.Name))
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render(string(e.OS)))
	b.WriteString("\n")

	if len(e.Profile.Specs) > 0 {
		b.WriteString("\nSpecs\n")
		for _, s := range e.Profile.Specs {
			b.WriteString("  • " + s + "\n")
		}
	}
	if len(e.Profile.Apps) > 0 {
		b.WriteString("\nApps\n")
		b.WriteString("  " + strings.Join(e.Profile.Apps, ", "))
	}

	return cardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// State prints one line for a launch state transition. names supplies display names.
func (ui *UI) State(s launch.State, names catalog.Catalog) {
	switch s.Phase() {
	case launch.PhaseIdle:
		ui.Subtle("Ready to launch")
	case launch.PhasePending:
		os, _ := s.RequestedOS()
		ui.Info(fmt.Sprintf("Launching %s...", names.DisplayName(os)))
	case launch.PhaseReady:
		session, _ := s.Session()
		ui.Session(session, names)
	case launch.PhaseFailed:
		msg, _ := s.Message()
		ui.Error(msg)
	}
}

// Session prints the connection details of a ready workstation
func (ui *UI) Session(s models.SessionDescriptor, names catalog.Catalog) {
	ui.Success(fmt.Sprintf("%s workstation is ready", names.DisplayName(s.OSIdentifier)))
	ui.KeyValue("Instance", s.InstanceID)
	ui.KeyValue("Region", s.Region)
	ui.KeyValue("Status", string(s.Status))
	ui.KeyValue("Connect", s.ConnectionURL)
}
