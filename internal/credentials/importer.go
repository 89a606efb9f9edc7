package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
)

// ImportOptions selects where an account's cookies come from. Exactly one
// of FilePath (Netscape cookie file) or Browser must be set.
type ImportOptions struct {
	FilePath string
	Browser  string
	Platform string
	Label    string
	Force    bool // Overwrite the credential of an existing account
}

// cookieSource abstracts the browser extractor for tests
type cookieSource interface {
	Extract(ctx context.Context, browser, domain string) ([]NetscapeCookie, error)
}

// CookieImporter turns external cookies into a stored credential and an
// Unverified account.
type CookieImporter struct {
	parser      *CookieParser
	browser     cookieSource
	store       *FileStore
	accountRepo repository.AccountRepository
}

// NewCookieImporter creates a new cookie importer
func NewCookieImporter(store *FileStore, accountRepo repository.AccountRepository) *CookieImporter {
	return &CookieImporter{
		parser:      NewCookieParser(),
		browser:     NewBrowserExtractor(),
		store:       store,
		accountRepo: accountRepo,
	}
}

// Import stores the cookies and returns the created or updated account
func (i *CookieImporter) Import(ctx context.Context, opts ImportOptions) (*domain.Account, error) {
	if (opts.FilePath == "") == (opts.Browser == "") {
		return nil, fmt.Errorf("exactly one of file path or browser must be given")
	}
	if opts.Label == "" {
		return nil, fmt.Errorf("account label is required")
	}

	cookies, platform, err := i.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	existing, err := i.accountRepo.GetByLabel(ctx, platform, opts.Label)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check existing account: %w", err)
	}
	if existing != nil && !opts.Force {
		return nil, fmt.Errorf("account already exists: %s/%s (use force to overwrite)", platform, opts.Label)
	}

	blob, err := FromNetscape(cookies).Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode storage state: %w", err)
	}

	ref := domain.CredentialRefFor(platform, opts.Label)
	if err := i.store.Save(ctx, ref, blob); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	if existing != nil {
		// Nueva credencial: hay que volver a verificarla
		if err := i.accountRepo.UpdateStatus(ctx, existing.ID, domain.AccountUnverified); err != nil {
			return nil, fmt.Errorf("reset account status: %w", err)
		}
		existing.Status = domain.AccountUnverified
		return existing, nil
	}

	account := &domain.Account{
		Platform:      platform,
		Label:         opts.Label,
		CredentialRef: ref,
		Status:        domain.AccountUnverified,
	}

	id, err := i.accountRepo.Create(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	account.ID = id

	return account, nil
}

// collect reads cookies from the selected source and settles the platform
func (i *CookieImporter) collect(ctx context.Context, opts ImportOptions) ([]NetscapeCookie, string, error) {
	platform := opts.Platform

	if opts.FilePath != "" {
		if _, err := os.Stat(opts.FilePath); os.IsNotExist(err) {
			return nil, "", fmt.Errorf("cookie file not found: %s", opts.FilePath)
		}

		cookies, err := i.parser.ParseFile(opts.FilePath)
		if err != nil {
			return nil, "", fmt.Errorf("parse cookie file: %w", err)
		}

		if platform == "" {
			platform = i.parser.DetectPlatform(cookies)
			if platform == "" {
				return nil, "", fmt.Errorf("could not auto-detect platform, please specify one")
			}
		}
		if !domain.IsKnownPlatform(platform) {
			return nil, "", fmt.Errorf("unknown platform %q", platform)
		}
		return cookies, platform, nil
	}

	if platform == "" {
		return nil, "", fmt.Errorf("platform is required for browser import")
	}
	cfg, ok := CookiesFor(platform)
	if !ok {
		return nil, "", fmt.Errorf("unknown platform %q", platform)
	}

	cookies, err := i.browser.Extract(ctx, opts.Browser, cfg.Domain)
	if err != nil {
		return nil, "", err
	}
	return cookies, platform, nil
}
