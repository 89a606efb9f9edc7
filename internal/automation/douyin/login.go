package douyin

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/elsanchez/smart-publish/internal/automation"
)

var qrSelectors = []string{
	`img[class*="qrcode_img"]`,
	`[class*="qr"] img`,
	`img[src*="qr"]`,
}

type loginHandle struct {
	adapter  *Adapter
	sess     *session
	loginURL string
}

// OpenLogin starts an anonymous browser context for a QR login.
func (a *Adapter) OpenLogin(ctx context.Context) (automation.LoginHandle, error) {
	s, err := a.OpenSession(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &loginHandle{adapter: a, sess: s.(*session)}, nil
}

func (h *loginHandle) Challenge(ctx context.Context) (string, error) {
	page := h.sess.page
	if _, err := page.Goto(homeURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", fmt.Errorf("open login page: %w", err)
	}
	h.loginURL = page.URL()

	for _, selector := range qrSelectors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		img := page.Locator(selector).First()
		if err := img.WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(elementWaitMS),
		}); err != nil {
			continue
		}
		src, err := img.GetAttribute("src")
		if err == nil && src != "" {
			return src, nil
		}
	}

	return "", fmt.Errorf("QR code not found on %s", h.loginURL)
}

// WaitForLogin polls the page URL; any navigation away from the login page
// counts as a confirmed scan.
func (h *loginHandle) WaitForLogin(ctx context.Context) (string, error) {
	page := h.sess.page
	for {
		if page.IsClosed() {
			return "", fmt.Errorf("login page closed")
		}
		if current := page.URL(); current != h.loginURL {
			h.adapter.log.Info("login navigation detected", "url", current)
			return current, nil
		}
		if err := sleep(ctx, pollInterval/2); err != nil {
			return "", err
		}
	}
}

func (h *loginHandle) SaveSession(context.Context) ([]byte, error) {
	return storageState(h.sess.bctx)
}

func (h *loginHandle) Close() error {
	return h.sess.Close()
}
