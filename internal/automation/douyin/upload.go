package douyin

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/elsanchez/smart-publish/internal/automation"
)

const (
	fileInputSelector     = "div[class^='container'] input[type='file']"
	reuploadInputSelector = `div.progress-div [class^="upload-btn-input"]`
	uploadFailedSelector  = `div.progress-div > div:has-text("上传失败")`
	uploadDoneSelector    = `[class^="long-card"] div:has-text("重新上传")`
)

// UploadFile submits path on the first call and re-submits it through the
// page's retry input on later calls, then waits for the page to report
// the outcome.
func (a *Adapter) UploadFile(ctx context.Context, s automation.Session, path string) error {
	ds, err := asSession(s)
	if err != nil {
		return err
	}

	ds.mu.Lock()
	resubmit := ds.submitted
	ds.submitted = true
	ds.mu.Unlock()

	if resubmit {
		a.log.Info("re-submitting video", "path", path)
		if err := ds.page.Locator(reuploadInputSelector).First().SetInputFiles(path); err != nil {
			return fmt.Errorf("re-submit video: %w", err)
		}
	} else {
		if err := a.submit(ctx, ds.page, path); err != nil {
			return err
		}
	}

	return a.waitForUpload(ctx, ds.page)
}

func (a *Adapter) submit(ctx context.Context, page playwright.Page, path string) error {
	if _, err := page.Goto(uploadURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("open upload page: %w", err)
	}

	input := page.Locator(fileInputSelector).First()
	if err := input.WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(elementWaitMS),
	}); err != nil {
		input = page.Locator("input[type='file']").First()
		if err := input.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: playwright.Float(elementWaitMS),
		}); err != nil {
			return fmt.Errorf("file input not found: %w", err)
		}
	}

	if err := input.SetInputFiles(path); err != nil {
		return fmt.Errorf("set video file: %w", err)
	}

	// The page moves to the publish form once the file is accepted.
	for {
		url := page.URL()
		if strings.Contains(url, publishPath) || strings.Contains(url, postPath) {
			a.log.Info("publish form opened", "url", url)
			return nil
		}
		if err := sleep(ctx, pollInterval/4); err != nil {
			return err
		}
	}
}

func (a *Adapter) waitForUpload(ctx context.Context, page playwright.Page) error {
	for {
		if page.IsClosed() {
			return fmt.Errorf("page closed during upload")
		}

		if count, _ := page.Locator(uploadDoneSelector).Count(); count > 0 {
			a.log.Info("video uploaded")
			return nil
		}

		if count, _ := page.Locator(uploadFailedSelector).Count(); count > 0 {
			return fmt.Errorf("%w: page reported upload failure", automation.ErrNeedsRetry)
		}

		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}
