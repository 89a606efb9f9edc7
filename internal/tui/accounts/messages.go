package accounts

import "github.com/elsanchez/smart-publish/pkg/client"

// Message types for async operations

type accountsLoadedMsg struct {
	accounts []client.Account
	err      error
}

type tasksLoadedMsg struct {
	tasks []client.Task
	err   error
}

type importCompleteMsg struct {
	account *client.Account
	err     error
}

type validationCompleteMsg struct {
	results map[int64]*client.ValidateResult
}

type deleteCompleteMsg struct {
	err error
}

type exportCompleteMsg struct {
	path    string
	cookies int
	err     error
}
