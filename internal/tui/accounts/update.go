package accounts

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/elsanchez/smart-publish/pkg/client"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Clear previous messages on keypress
		m.errorMessage = ""
		m.statusMessage = ""

		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.taskList.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case accountsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, nil
		}
		m.accounts = msg.accounts
		if m.cursor >= len(m.accounts) {
			m.cursor = max(len(m.accounts)-1, 0)
		}
		return m, nil

	case tasksLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, nil
		}
		items := make([]list.Item, len(msg.tasks))
		for i, t := range msg.tasks {
			items[i] = taskItem{task: t}
		}
		return m, m.taskList.SetItems(items)

	case importCompleteMsg:
		m.loading = false
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, nil
		}
		m.statusMessage = fmt.Sprintf("✓ Imported %s/%s (validate it before publishing)", msg.account.Platform, msg.account.Label)
		m.currentView = viewList
		m.resetImportForm()
		return m, loadAccounts(m.api)

	case validationCompleteMsg:
		m.loading = false
		m.validationResults = msg.results
		m.currentView = viewValidation
		// The daemon stores the new account status on validation
		return m, loadAccounts(m.api)

	case deleteCompleteMsg:
		m.loading = false
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, nil
		}
		m.statusMessage = "✓ Account deleted"
		return m, loadAccounts(m.api)

	case exportCompleteMsg:
		m.loading = false
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, nil
		}
		m.statusMessage = fmt.Sprintf("✓ Exported %d cookies to %s", msg.cookies, msg.path)
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Update focused component
	switch m.currentView {
	case viewImport:
		if input := m.focusedInput(); input != nil {
			*input, cmd = input.Update(msg)
			cmds = append(cmds, cmd)
		}
	case viewTasks:
		m.taskList, cmd = m.taskList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.currentView {
	case viewList:
		return m.handleListKeys(msg)
	case viewImport:
		return m.handleImportKeys(msg)
	case viewTasks:
		return m.handleTaskKeys(msg)
	case viewValidation, viewHelp:
		return m.handleDialogKeys(msg)
	}
	return m, nil
}

// handleListKeys handles keys in the list view
func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
		if m.cursor < len(m.accounts)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("i"))):
		m.currentView = viewImport
		m.importFocusedField = fieldPath
		m.updateImportFocus()
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("v"))):
		// Validate selected
		if acc, ok := m.selected(); ok {
			m.loading = true
			return m, validateAccounts(m.api, []client.Account{acc})
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("V"))):
		// Validate all (Shift+V)
		if len(m.accounts) > 0 {
			m.loading = true
			return m, validateAccounts(m.api, m.accounts)
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("d"))):
		if acc, ok := m.selected(); ok {
			m.loading = true
			return m, deleteAccount(m.api, acc.ID)
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("e"))):
		if acc, ok := m.selected(); ok {
			m.loading = true
			return m, exportAccount(m.api, acc, m.exportDir)
		}
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("r"))):
		m.loading = true
		return m, loadAccounts(m.api)

	case key.Matches(msg, key.NewBinding(key.WithKeys("t"))):
		m.currentView = viewTasks
		m.loading = true
		return m, loadTasks(m.api)

	case key.Matches(msg, key.NewBinding(key.WithKeys("?"))):
		m.currentView = viewHelp
		return m, nil
	}

	return m, nil
}

// handleTaskKeys handles keys in the task view
func (m Model) handleTaskKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+c"))):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, key.NewBinding(key.WithKeys("esc", "q"))):
		m.currentView = viewList
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("r"))):
		m.loading = true
		return m, loadTasks(m.api)
	}

	var cmd tea.Cmd
	m.taskList, cmd = m.taskList.Update(msg)
	return m, cmd
}

// handleImportKeys handles keys in the import view
func (m Model) handleImportKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, key.NewBinding(key.WithKeys("esc"))):
		m.currentView = viewList
		m.resetImportForm()
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("tab"))):
		m.importFocusedField = (m.importFocusedField + 1) % fieldCount
		m.updateImportFocus()
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys("shift+tab"))):
		m.importFocusedField--
		if m.importFocusedField < 0 {
			m.importFocusedField = fieldCount - 1
		}
		m.updateImportFocus()
		return m, nil

	case key.Matches(msg, key.NewBinding(key.WithKeys(" "))):
		if m.importFocusedField == fieldForce {
			m.importForce = !m.importForce
			return m, nil
		}

	case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
		req := &client.ImportRequest{
			FilePath: strings.TrimSpace(m.pathInput.Value()),
			Browser:  strings.TrimSpace(m.browserInput.Value()),
			Platform: strings.TrimSpace(m.platformInput.Value()),
			Label:    strings.TrimSpace(m.labelInput.Value()),
			Force:    m.importForce,
		}
		if (req.FilePath == "") == (req.Browser == "") {
			m.errorMessage = "Give either a cookie file path or a browser"
			return m, nil
		}
		if req.Label == "" {
			m.errorMessage = "Account label is required"
			return m, nil
		}

		m.loading = true
		return m, importAccount(m.api, req)
	}

	// Other keys go to the focused input
	var cmd tea.Cmd
	if input := m.focusedInput(); input != nil {
		*input, cmd = input.Update(msg)
	}
	return m, cmd
}

// handleDialogKeys handles keys in dialog views (validation, help)
func (m Model) handleDialogKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Any key returns to list
	m.currentView = viewList
	return m, nil
}

// focusedInput returns the text input with focus, or nil on the checkbox
func (m *Model) focusedInput() *textinput.Model {
	switch m.importFocusedField {
	case fieldPath:
		return &m.pathInput
	case fieldBrowser:
		return &m.browserInput
	case fieldPlatform:
		return &m.platformInput
	case fieldLabel:
		return &m.labelInput
	}
	return nil
}

// updateImportFocus updates which input field is focused
func (m *Model) updateImportFocus() {
	inputs := []*textinput.Model{&m.pathInput, &m.browserInput, &m.platformInput, &m.labelInput}
	for i, input := range inputs {
		if i == m.importFocusedField {
			input.Focus()
		} else {
			input.Blur()
		}
	}
}

func (m *Model) resetImportForm() {
	m.pathInput.SetValue("")
	m.browserInput.SetValue("")
	m.platformInput.SetValue("")
	m.labelInput.SetValue("")
	m.importForce = false
	m.importFocusedField = fieldPath
	m.updateImportFocus()
}
