// Package accounts is the terminal UI for managing publishing accounts and
// watching recent tasks through the daemon API.
package accounts

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/elsanchez/smart-publish/pkg/client"
)

// API is the subset of the daemon client the TUI needs
type API interface {
	ListAccounts(ctx context.Context, platform string) ([]client.Account, error)
	ImportAccount(ctx context.Context, req *client.ImportRequest) (*client.Account, error)
	ValidateAccount(ctx context.Context, id int64) (*client.ValidateResult, error)
	ExportAccount(ctx context.Context, id int64, path string) (int, error)
	DeleteAccount(ctx context.Context, id int64) error
	ListTasks(ctx context.Context, state string, limit int) ([]client.Task, error)
}

// view represents different screens in the TUI
type view int

const (
	viewList view = iota
	viewImport
	viewValidation
	viewTasks
	viewHelp
)

// import form fields, in tab order
const (
	fieldPath = iota
	fieldBrowser
	fieldPlatform
	fieldLabel
	fieldForce
	fieldCount
)

const taskLimit = 50

// Model is the Bubbletea model for the account manager
type Model struct {
	// Navigation
	currentView view
	width       int
	height      int
	quitting    bool

	api API

	// State
	accounts []client.Account
	cursor   int

	// Components
	taskList      list.Model
	pathInput     textinput.Model
	browserInput  textinput.Model
	platformInput textinput.Model
	labelInput    textinput.Model
	spinner       spinner.Model

	// Import state
	importForce        bool
	importFocusedField int

	// Validation state
	validationResults map[int64]*client.ValidateResult

	// Export destination
	exportDir string

	// UI state
	loading       bool
	statusMessage string
	errorMessage  string
}

// NewModel creates a new account manager TUI model
func NewModel(api API) Model {
	pathInput := textinput.New()
	pathInput.Placeholder = "Path to Netscape cookie file"
	pathInput.Focus()
	pathInput.CharLimit = 256
	pathInput.Width = 60

	browserInput := textinput.New()
	browserInput.Placeholder = "Browser (chrome, firefox, ...) instead of a file"
	browserInput.CharLimit = 30
	browserInput.Width = 40

	platformInput := textinput.New()
	platformInput.Placeholder = "Platform (auto-detect if empty)"
	platformInput.CharLimit = 50
	platformInput.Width = 40

	labelInput := textinput.New()
	labelInput.Placeholder = "Account label"
	labelInput.CharLimit = 50
	labelInput.Width = 40

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	taskList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	taskList.Title = "Recent Tasks"
	taskList.SetShowStatusBar(false)
	taskList.SetFilteringEnabled(false)

	return Model{
		currentView:       viewList,
		api:               api,
		taskList:          taskList,
		pathInput:         pathInput,
		browserInput:      browserInput,
		platformInput:     platformInput,
		labelInput:        labelInput,
		spinner:           s,
		validationResults: make(map[int64]*client.ValidateResult),
		exportDir:         os.TempDir(),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		loadAccounts(m.api),
		m.spinner.Tick,
	)
}

// selected returns the account under the cursor
func (m Model) selected() (client.Account, bool) {
	if m.cursor < 0 || m.cursor >= len(m.accounts) {
		return client.Account{}, false
	}
	return m.accounts[m.cursor], true
}

// taskItem implements list.Item for the task list
type taskItem struct {
	task client.Task
}

func (i taskItem) Title() string {
	return stateIcon(i.task.State) + " " + i.task.Title + " → " + i.task.Platform
}

func (i taskItem) Description() string {
	desc := fmt.Sprintf("%s • %s • account %d", i.task.ID, i.task.State, i.task.AccountID)
	if i.task.Error != nil {
		desc += " - " + i.task.Error.Kind + ": " + i.task.Error.Reason
	} else if i.task.ScheduledAt != nil {
		desc += " • scheduled " + i.task.ScheduledAt.Local().Format("2006-01-02 15:04")
	}
	return desc
}

func (i taskItem) FilterValue() string {
	return i.task.Title + " " + i.task.ContentPath
}

func stateIcon(state string) string {
	switch state {
	case "completed":
		return "✓"
	case "failed":
		return "✗"
	case "pending":
		return "…"
	default:
		return "▸"
	}
}

func statusIcon(status string) string {
	switch status {
	case "valid":
		return "✓"
	case "invalid":
		return "✗"
	default:
		return "❓"
	}
}
