// Package douyin automates the Douyin creator center with playwright-go.
package douyin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/playwright-community/playwright-go"

	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/domain"
)

const (
	homeURL     = "https://creator.douyin.com/"
	uploadURL   = "https://creator.douyin.com/creator-micro/content/upload"
	manageURL   = "creator.douyin.com/creator-micro/content/manage"
	publishPath = "creator-micro/content/publish"
	postPath    = "creator-micro/content/post/video"

	titleMaxRunes = 30
	pollInterval  = 2 * time.Second
	elementWaitMS = 10000
)

// ContextFactory opens isolated browser contexts from a storage-state blob.
type ContextFactory interface {
	NewContext(ctx context.Context, blob []byte) (playwright.BrowserContext, error)
}

// Adapter implements automation.PlatformAutomation for Douyin.
type Adapter struct {
	browsers ContextFactory
	log      *log.Logger
}

var _ automation.PlatformAutomation = (*Adapter)(nil)

func New(browsers ContextFactory, logger *log.Logger) *Adapter {
	return &Adapter{browsers: browsers, log: logger.With("platform", domain.PlatformDouyin)}
}

func (a *Adapter) Platform() string { return domain.PlatformDouyin }

// session is one task's browser context and page.
type session struct {
	bctx playwright.BrowserContext
	page playwright.Page

	mu        sync.Mutex
	submitted bool
	closeOnce sync.Once
	closeErr  error
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.bctx.Close() })
	return s.closeErr
}

func asSession(s automation.Session) (*session, error) {
	ds, ok := s.(*session)
	if !ok {
		return nil, fmt.Errorf("douyin: foreign session %T", s)
	}
	return ds, nil
}

func (a *Adapter) OpenSession(ctx context.Context, blob []byte) (automation.Session, error) {
	bctx, err := a.browsers.NewContext(ctx, blob)
	if err != nil {
		return nil, err
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &session{bctx: bctx, page: page}, nil
}

// ProbeAuth opens the upload page; a redirect or a login prompt means the
// blob is no longer logged in.
func (a *Adapter) ProbeAuth(ctx context.Context, blob []byte) (bool, error) {
	s, err := a.OpenSession(ctx, blob)
	if err != nil {
		return false, err
	}
	defer s.Close()
	page := s.(*session).page

	if _, err := page.Goto(uploadURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return false, fmt.Errorf("open upload page: %w", err)
	}

	err = page.WaitForURL(uploadURL, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(5000),
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	current := page.URL()
	redirected, err := redirectedAway(err, current)
	if err != nil {
		return false, err
	}
	if redirected {
		a.log.Info("credential redirected away from upload page", "url", current)
		return false, nil
	}

	for _, prompt := range []string{"手机号登录", "扫码登录"} {
		count, err := page.GetByText(prompt).Count()
		if err != nil {
			return false, fmt.Errorf("look for login prompt: %w", err)
		}
		if count > 0 {
			a.log.Info("login prompt shown", "prompt", prompt)
			return false, nil
		}
	}

	return true, ctx.Err()
}

// redirectedAway reads the outcome of waiting for the upload page. Only a
// timeout that left the page elsewhere means the session expired; a closed
// browser or context is a probe error.
func redirectedAway(waitErr error, current string) (bool, error) {
	if waitErr == nil {
		return false, nil
	}
	if errors.Is(waitErr, playwright.ErrTimeout) {
		return !strings.HasPrefix(current, uploadURL), nil
	}
	return false, fmt.Errorf("wait for upload page: %w", waitErr)
}

func (a *Adapter) SaveSession(_ context.Context, s automation.Session) ([]byte, error) {
	ds, err := asSession(s)
	if err != nil {
		return nil, err
	}
	return storageState(ds.bctx)
}

func storageState(bctx playwright.BrowserContext) ([]byte, error) {
	state, err := bctx.StorageState()
	if err != nil {
		return nil, fmt.Errorf("read storage state: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode storage state: %w", err)
	}
	return data, nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateTitle(title string) string {
	runes := []rune(strings.TrimSpace(title))
	if len(runes) > titleMaxRunes {
		runes = runes[:titleMaxRunes]
	}
	return string(runes)
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.ReplaceAll(tag, "#", ""))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
