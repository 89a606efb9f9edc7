package douyin

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/elsanchez/smart-publish/internal/automation"
)

const (
	scheduleRadioSelector = `[class^='radio']:has-text('定时发布')`
	scheduleInputSelector = `.semi-input[placeholder="日期和时间"]`
	titleInputSelector    = `input[placeholder="填写作品标题，为作品获得更多流量"]`
	tagZoneSelector       = ".zone-container"

	scheduleLayout = "2006-01-02 15:04"
)

// SetSchedule switches the form to timed publishing at at.
func (a *Adapter) SetSchedule(ctx context.Context, s automation.Session, at time.Time) error {
	ds, err := asSession(s)
	if err != nil {
		return err
	}
	page := ds.page

	radio := page.Locator(scheduleRadioSelector).First()
	if err := radio.WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(elementWaitMS),
	}); err != nil {
		return fmt.Errorf("schedule option not found: %w", err)
	}
	if err := radio.Click(); err != nil {
		return fmt.Errorf("select timed publishing: %w", err)
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	input := page.Locator(scheduleInputSelector).First()
	if err := input.Click(); err != nil {
		return fmt.Errorf("focus schedule input: %w", err)
	}
	if err := page.Keyboard().Press("Control+KeyA"); err != nil {
		return fmt.Errorf("select schedule text: %w", err)
	}
	if err := page.Keyboard().Type(at.Format(scheduleLayout)); err != nil {
		return fmt.Errorf("type schedule time: %w", err)
	}
	if err := page.Keyboard().Press("Enter"); err != nil {
		return fmt.Errorf("confirm schedule time: %w", err)
	}

	a.log.Info("schedule set", "at", at.Format(scheduleLayout))
	return sleep(ctx, time.Second)
}

// Confirm fills title and tags, then clicks publish until the manage page
// loads or ctx ends.
func (a *Adapter) Confirm(ctx context.Context, s automation.Session, meta automation.Metadata) (automation.RemoteRef, error) {
	ds, err := asSession(s)
	if err != nil {
		return automation.RemoteRef{}, err
	}
	page := ds.page

	if err := a.fillMetadata(page, meta); err != nil {
		return automation.RemoteRef{}, err
	}

	for {
		if page.IsClosed() {
			return automation.RemoteRef{}, fmt.Errorf("page closed before publish finished")
		}

		button := page.GetByRole("button", playwright.PageGetByRoleOptions{
			Name:  "发布",
			Exact: playwright.Bool(true),
		})
		if count, _ := button.Count(); count > 0 {
			if err := button.Click(); err != nil {
				a.log.Warn("click publish failed", "err", err)
			}
		}

		if err := page.WaitForURL("**/creator-micro/content/manage**", playwright.PageWaitForURLOptions{
			Timeout: playwright.Float(3000),
		}); err == nil || strings.Contains(page.URL(), manageURL) {
			a.log.Info("video published")
			return remoteRef(page.URL()), nil
		}

		if err := sleep(ctx, pollInterval/2); err != nil {
			return automation.RemoteRef{}, err
		}
	}
}

func (a *Adapter) fillMetadata(page playwright.Page, meta automation.Metadata) error {
	if title := truncateTitle(meta.Title); title != "" {
		input := page.Locator(titleInputSelector).First()
		if err := input.WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(elementWaitMS),
		}); err != nil {
			return fmt.Errorf("title input not found: %w", err)
		}
		if err := input.Fill(title); err != nil {
			return fmt.Errorf("fill title: %w", err)
		}
	}

	tags := cleanTags(meta.Tags)
	if len(tags) == 0 {
		return nil
	}

	zone := page.Locator(tagZoneSelector).First()
	if err := zone.WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(elementWaitMS),
	}); err != nil {
		return fmt.Errorf("tag input not found: %w", err)
	}
	for _, tag := range tags {
		if err := zone.Type("#"+tag, playwright.LocatorTypeOptions{Delay: playwright.Float(100)}); err != nil {
			return fmt.Errorf("type tag %q: %w", tag, err)
		}
		if err := zone.Press("Space"); err != nil {
			return fmt.Errorf("finish tag %q: %w", tag, err)
		}
	}

	a.log.Info("metadata filled", "tags", len(tags))
	return nil
}

// remoteRef extracts the item id the manage page sometimes carries.
func remoteRef(raw string) automation.RemoteRef {
	ref := automation.RemoteRef{URL: raw}
	if u, err := url.Parse(raw); err == nil {
		for _, key := range []string{"item_id", "aweme_id"} {
			if id := u.Query().Get(key); id != "" {
				ref.ID = id
				break
			}
		}
	}
	return ref
}
