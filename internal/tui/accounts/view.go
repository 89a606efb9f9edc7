package accounts

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles with adaptive colors for light/dark backgrounds
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "205"}).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "250"})

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "9"}).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "34", Dark: "10"}).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "205"})

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "63", Dark: "63"}).
			Padding(1, 2)

	activeInputStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "63", Dark: "205"})

	inactiveInputStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "250"})
)

// View renders the current view
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var content string

	switch m.currentView {
	case viewImport:
		content = m.viewImport()
	case viewValidation:
		content = m.viewValidation()
	case viewTasks:
		content = m.viewTasks()
	case viewHelp:
		content = m.viewHelp()
	default:
		content = m.viewList()
	}

	if m.errorMessage != "" {
		content += "\n" + errorStyle.Render("Error: "+m.errorMessage)
	} else if m.statusMessage != "" {
		content += "\n" + successStyle.Render(m.statusMessage)
	}

	if m.loading {
		content += "\n" + m.spinner.View() + " Loading..."
	}

	return content
}

// viewList renders the account list grouped by platform
func (m Model) viewList() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("🔑 Publishing Accounts") + "\n\n")

	if len(m.accounts) == 0 {
		content.WriteString("  No accounts found. Press 'i' to import cookies or run 'spub login'.\n")
	} else {
		// Accounts arrive sorted by platform
		platforms := 0
		for i, acc := range m.accounts {
			if i == 0 || m.accounts[i-1].Platform != acc.Platform {
				platforms++
			}
		}
		content.WriteString(fmt.Sprintf("  %d accounts across %d platforms\n", len(m.accounts), platforms))

		for i, acc := range m.accounts {
			if i == 0 || m.accounts[i-1].Platform != acc.Platform {
				content.WriteString(fmt.Sprintf("\n  %s:\n", acc.Platform))
			}

			cursor := "  "
			if m.cursor == i {
				cursor = "▸ "
			}

			verified := "never verified"
			if acc.LastVerifiedAt != nil {
				verified = "verified " + acc.LastVerifiedAt.Local().Format("2006-01-02 15:04")
			}

			content.WriteString(fmt.Sprintf("  %s%s %-20s %s\n",
				cursor, statusIcon(acc.Status), acc.Label, helpStyle.Render(verified)))
		}
	}

	help := "\n" + helpStyle.Render(
		"  ↑/k up • ↓/j down • i import • v validate • V validate all • d delete • e export • t tasks • r refresh • ? help • q quit",
	)

	return content.String() + help
}

// viewImport renders the import form
func (m Model) viewImport() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Import Cookies") + "\n\n")

	fields := []struct {
		label string
		view  string
	}{
		{"Cookie File Path:", m.pathInput.View()},
		{"Browser (instead of a file):", m.browserInput.View()},
		{"Platform (optional):", m.platformInput.View()},
		{"Account Label:", m.labelInput.View()},
	}
	for i, f := range fields {
		if m.importFocusedField == i {
			b.WriteString(activeInputStyle.Render("  "+f.label) + "\n")
		} else {
			b.WriteString(inactiveInputStyle.Render("  "+f.label) + "\n")
		}
		b.WriteString("  " + f.view + "\n\n")
	}

	forceBox := "[ ]"
	if m.importForce {
		forceBox = "[✓]"
	}
	line := fmt.Sprintf("  %s Overwrite existing credential", forceBox)
	if m.importFocusedField == fieldForce {
		line = activeInputStyle.Render(line)
	}
	b.WriteString(line + "\n")

	help := helpStyle.Render("  Tab next field • Enter import • Esc cancel • Space toggle checkbox")

	return boxStyle.Render(b.String()) + "\n\n" + help
}

// viewValidation renders the validation results
func (m Model) viewValidation() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Validation Results") + "\n\n")

	if len(m.validationResults) == 0 {
		b.WriteString("  No validation results available.\n")
	} else {
		counts := make(map[string]int)

		b.WriteString("  Platform     Account              Verdict   Reason\n")
		b.WriteString("  " + strings.Repeat("─", 70) + "\n")

		for _, acc := range m.accounts {
			result, ok := m.validationResults[acc.ID]
			if !ok {
				continue
			}
			counts[result.Verdict]++

			b.WriteString(fmt.Sprintf("  %-12s %-20s %s %-8s %s\n",
				acc.Platform,
				acc.Label,
				statusIcon(result.Verdict),
				result.Verdict,
				result.Reason,
			))
		}

		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  Summary: %d valid, %d invalid, %d errors\n",
			counts["valid"], counts["invalid"], counts["error"]))
	}

	help := "\n" + helpStyle.Render("  Press any key to return to list")

	return b.String() + help
}

// viewTasks renders the recent task list
func (m Model) viewTasks() string {
	help := helpStyle.Render("  r refresh • esc back")
	return m.taskList.View() + "\n" + help
}

// viewHelp renders the help screen
func (m Model) viewHelp() string {
	title := titleStyle.Render("Help")

	help := `
  Navigation:
    ↑/k        Move up
    ↓/j        Move down
    Esc        Go back / Cancel
    q          Quit

  Actions (from list view):
    i          Import cookies from a file or browser
    v          Validate selected (opens a browser, may be slow)
    V          Validate all accounts
    d          Delete selected
    e          Export selected as a Netscape cookie file
    t          Show recent publish tasks
    r          Refresh
    ?          Show this help

  Import Form:
    Tab        Next field
    Shift+Tab  Previous field
    Space      Toggle checkbox
    Enter      Import

  Tips:
    - Imported accounts start unverified; validate before publishing
    - Platform is detected from the cookie domains when left empty
    - Use 'spub login' for a QR login instead of importing cookies
`

	return title + "\n" + help + "\n" + helpStyle.Render("  Press any key to return")
}
