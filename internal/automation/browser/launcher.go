// Package browser owns the shared Playwright driver and hands out isolated
// browser contexts to platform adapters.
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/time/rate"
)

// Options configures the launched browser.
type Options struct {
	Headless   bool
	ChromePath string
	// SessionsPerMinute and Burst bound how fast new contexts are opened.
	SessionsPerMinute int
	Burst             int
}

var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--window-size=1920,1080",
	"--disable-infobars",
	"--disable-extensions",
	"--disable-default-apps",
	"--disable-sync",
	"--disable-translate",
}

// Launcher starts Playwright and Chromium lazily on first use. Every
// context it creates is independent; closing one never affects another.
type Launcher struct {
	opts    Options
	limiter *rate.Limiter
	log     *log.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewLauncher(opts Options, logger *log.Logger) *Launcher {
	perMinute := opts.SessionsPerMinute
	if perMinute < 1 {
		perMinute = 1
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Launcher{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		log:     logger,
	}
}

// NewContext opens a browser context seeded with the storage-state blob.
// A nil blob gives an anonymous context, as used by the login flow.
func (l *Launcher) NewContext(ctx context.Context, blob []byte) (playwright.BrowserContext, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for browser slot: %w", err)
	}

	browser, err := l.ensureBrowser()
	if err != nil {
		return nil, err
	}

	options := playwright.BrowserNewContextOptions{
		Locale:     playwright.String("zh-CN"),
		TimezoneId: playwright.String("Asia/Shanghai"),
		Viewport:   &playwright.Size{Width: 1920, Height: 1080},
	}

	if blob != nil {
		// Playwright lee el estado desde un archivo
		statePath, err := writeTempState(blob)
		if err != nil {
			return nil, err
		}
		defer os.Remove(statePath)
		options.StorageStatePath = playwright.String(statePath)
	}

	bctx, err := browser.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	bctx.SetDefaultTimeout(30000)

	return bctx, nil
}

// Close shuts down the browser and the Playwright driver.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			firstErr = fmt.Errorf("close browser: %w", err)
		}
		l.browser = nil
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop playwright: %w", err)
		}
		l.pw = nil
	}
	return firstErr
}

func (l *Launcher) ensureBrowser() (playwright.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browser != nil && l.browser.IsConnected() {
		return l.browser, nil
	}

	if l.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("start playwright: %w", err)
		}
		l.pw = pw
	}

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args:     launchArgs,
	}
	if l.opts.ChromePath != "" {
		launchOptions.ExecutablePath = playwright.String(l.opts.ChromePath)
	}

	browser, err := l.pw.Chromium.Launch(launchOptions)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	l.browser = browser
	l.log.Info("browser launched", "headless", l.opts.Headless)

	return browser, nil
}

func writeTempState(blob []byte) (string, error) {
	f, err := os.CreateTemp("", "smart-publish-state-*.json")
	if err != nil {
		return "", fmt.Errorf("create storage state file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(blob); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write storage state file: %w", err)
	}
	return f.Name(), nil
}
