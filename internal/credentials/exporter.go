package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/elsanchez/smart-publish/internal/repository"
)

// CookieExporter writes stored credentials as Netscape cookie files
type CookieExporter struct {
	parser      *CookieParser
	store       *FileStore
	accountRepo repository.AccountRepository
}

// NewCookieExporter creates a new cookie exporter
func NewCookieExporter(store *FileStore, accountRepo repository.AccountRepository) *CookieExporter {
	return &CookieExporter{
		parser:      NewCookieParser(),
		store:       store,
		accountRepo: accountRepo,
	}
}

// ExportByID exports an account's credential to outputPath and returns the
// number of cookies written
func (e *CookieExporter) ExportByID(ctx context.Context, accountID int64, outputPath string) (int, error) {
	account, err := e.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("get account: %w", err)
	}

	blob, err := e.store.Load(ctx, account.CredentialRef)
	if err != nil {
		return 0, err
	}

	state, err := ParseStorageState(blob)
	if err != nil {
		return 0, err
	}

	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	cookies := state.ToNetscape()
	if err := e.parser.Write(file, cookies); err != nil {
		return 0, err
	}

	return len(cookies), nil
}
