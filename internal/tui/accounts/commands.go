package accounts

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/elsanchez/smart-publish/pkg/client"
)

const requestTimeout = 30 * time.Second

// Async commands that return tea.Msg

func loadAccounts(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		accounts, err := api.ListAccounts(ctx, "")
		if err != nil {
			return accountsLoadedMsg{err: err}
		}
		sort.SliceStable(accounts, func(i, j int) bool {
			if accounts[i].Platform != accounts[j].Platform {
				return accounts[i].Platform < accounts[j].Platform
			}
			return accounts[i].Label < accounts[j].Label
		})
		return accountsLoadedMsg{accounts: accounts}
	}
}

func loadTasks(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		tasks, err := api.ListTasks(ctx, "", taskLimit)
		return tasksLoadedMsg{tasks: tasks, err: err}
	}
}

func importAccount(api API, req *client.ImportRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		account, err := api.ImportAccount(ctx, req)
		return importCompleteMsg{account: account, err: err}
	}
}

// validateAccounts probes each account in turn; a probe can take a while
// because the daemon opens a browser for it
func validateAccounts(api API, accounts []client.Account) tea.Cmd {
	return func() tea.Msg {
		results := make(map[int64]*client.ValidateResult)

		for _, acc := range accounts {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			res, err := api.ValidateAccount(ctx, acc.ID)
			cancel()

			if err != nil {
				results[acc.ID] = &client.ValidateResult{Verdict: "error", Reason: err.Error()}
				continue
			}
			results[acc.ID] = res
		}

		return validationCompleteMsg{results: results}
	}
}

func deleteAccount(api API, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		return deleteCompleteMsg{err: api.DeleteAccount(ctx, id)}
	}
}

func exportAccount(api API, acc client.Account, dir string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		path := filepath.Join(dir, fmt.Sprintf("cookies_%s_%s.txt", acc.Platform, acc.Label))
		n, err := api.ExportAccount(ctx, acc.ID, path)
		return exportCompleteMsg{path: path, cookies: n, err: err}
	}
}
