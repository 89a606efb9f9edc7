package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/chrome"
	_ "github.com/browserutils/kooky/browser/chromium"
	_ "github.com/browserutils/kooky/browser/edge"
	_ "github.com/browserutils/kooky/browser/firefox"
	_ "github.com/browserutils/kooky/browser/opera"
)

// BrowserExtractor handles extraction of cookies from local web browsers
type BrowserExtractor struct{}

// NewBrowserExtractor creates a new browser cookie extractor
func NewBrowserExtractor() *BrowserExtractor {
	return &BrowserExtractor{}
}

// SupportedBrowsers returns a list of supported browser names
func (e *BrowserExtractor) SupportedBrowsers() []string {
	return []string{
		"chrome",
		"chromium",
		"firefox",
		"edge",
		"opera",
	}
}

// Extract reads the cookies a local browser holds for domain and its
// subdomains. An empty browser name accepts every browser.
func (e *BrowserExtractor) Extract(ctx context.Context, browser, domain string) ([]NetscapeCookie, error) {
	browser = strings.ToLower(browser)

	var filters []kooky.Filter
	if domain != "" {
		filters = append(filters, kooky.DomainHasSuffix(domain))
	}

	cookies, err := kooky.ReadCookies(ctx, filters...)
	if err != nil {
		return nil, fmt.Errorf("read cookies from browser: %w", err)
	}

	netscapeCookies := make([]NetscapeCookie, 0, len(cookies))
	for _, cookie := range cookies {
		if browser != "" && cookie.Browser != nil {
			cookieBrowser := strings.ToLower(cookie.Browser.Browser())
			if !strings.Contains(cookieBrowser, browser) {
				continue
			}
		}

		cookieDomain := cookie.Domain
		if !strings.HasPrefix(cookieDomain, ".") && cookieDomain != "" {
			cookieDomain = "." + cookieDomain
		}

		expiration := cookie.Expires.Unix()
		if cookie.Expires.IsZero() || expiration < 0 {
			expiration = 0
		}

		netscapeCookies = append(netscapeCookies, NetscapeCookie{
			Domain:     cookieDomain,
			Flag:       "TRUE",
			Path:       cookie.Path,
			Secure:     cookie.Secure,
			HTTPOnly:   cookie.HttpOnly,
			Expiration: expiration,
			Name:       cookie.Name,
			Value:      cookie.Value,
		})
	}

	if len(netscapeCookies) == 0 {
		return nil, fmt.Errorf("no cookies found for browser '%s' and domain '%s'", browser, domain)
	}

	return netscapeCookies, nil
}
