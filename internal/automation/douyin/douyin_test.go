package douyin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
)

func TestTruncateTitle(t *testing.T) {
	long := "这是一个非常非常非常非常非常非常非常非常非常非常非常长的标题需要被截断"
	got := truncateTitle(long)
	if n := len([]rune(got)); n != titleMaxRunes {
		t.Errorf("expected %d runes, got %d", titleMaxRunes, n)
	}
	if truncateTitle("  short ") != "short" {
		t.Errorf("expected trimmed title")
	}
}

func TestCleanTags(t *testing.T) {
	got := cleanTags([]string{"#travel", " food ", "", "##"})
	if len(got) != 2 || got[0] != "travel" || got[1] != "food" {
		t.Errorf("unexpected tags %v", got)
	}
}

func TestRemoteRef(t *testing.T) {
	ref := remoteRef("https://creator.douyin.com/creator-micro/content/manage?enter_from=publish&item_id=7301")
	if ref.ID != "7301" {
		t.Errorf("expected item id, got %+v", ref)
	}
	if ref := remoteRef("https://creator.douyin.com/creator-micro/content/manage"); ref.ID != "" || ref.URL == "" {
		t.Errorf("unexpected ref %+v", ref)
	}
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleep(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleep ignored cancellation")
	}
}

func TestRedirectedAway(t *testing.T) {
	timeout := fmt.Errorf("waiting for navigation: %w", playwright.ErrTimeout)

	tests := []struct {
		name      string
		err       error
		url       string
		wantGone  bool
		wantError bool
	}{
		{"stayed on upload page", nil, uploadURL, false, false},
		{"timeout on login page", timeout, "https://creator.douyin.com/login", true, false},
		{"timeout with query on upload page", timeout, uploadURL + "?from=menu", false, false},
		{"browser disconnected", errors.New("target page, context or browser has been closed"), "about:blank", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gone, err := redirectedAway(tt.err, tt.url)
			if gone != tt.wantGone || (err != nil) != tt.wantError {
				t.Errorf("redirectedAway = %v, %v; want %v, error=%v", gone, err, tt.wantGone, tt.wantError)
			}
		})
	}
}
