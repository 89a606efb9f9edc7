package credentials

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository/memory"
)

type fakeBrowser struct {
	domain  string
	cookies []NetscapeCookie
}

func (f *fakeBrowser) Extract(_ context.Context, _, domain string) ([]NetscapeCookie, error) {
	f.domain = domain
	return f.cookies, nil
}

func TestCookieImporter_FromFile(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(filepath.Join(dir, "creds"))
	repo := memory.NewAccountRepository()
	importer := NewCookieImporter(store, repo)
	ctx := context.Background()

	path := filepath.Join(dir, "cookies.txt")
	os.WriteFile(path, []byte(sampleCookies), 0600)

	acc, err := importer.Import(ctx, ImportOptions{FilePath: path, Label: "main"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if acc.Platform != domain.PlatformDouyin || acc.Status != domain.AccountUnverified {
		t.Errorf("unexpected account: %+v", acc)
	}

	blob, err := store.Load(ctx, acc.CredentialRef)
	if err != nil {
		t.Fatalf("load blob: %v", err)
	}
	state, err := ParseStorageState(blob)
	if err != nil || len(state.Cookies) != 3 {
		t.Fatalf("unexpected stored state: %v (err %v)", state, err)
	}

	// Segunda importación sin force falla
	if _, err := importer.Import(ctx, ImportOptions{FilePath: path, Label: "main"}); err == nil {
		t.Error("expected duplicate account error")
	}

	repo.MarkVerified(ctx, acc.ID, acc.CreatedAt)
	again, err := importer.Import(ctx, ImportOptions{FilePath: path, Label: "main", Force: true})
	if err != nil {
		t.Fatalf("forced import: %v", err)
	}
	if again.ID != acc.ID || again.Status != domain.AccountUnverified {
		t.Errorf("forced import must reuse the account and reset status: %+v", again)
	}
}

func TestCookieImporter_FromBrowser(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	importer := NewCookieImporter(store, memory.NewAccountRepository())
	fake := &fakeBrowser{cookies: []NetscapeCookie{{Domain: ".douyin.com", Path: "/", Name: "sessionid", Value: "v"}}}
	importer.browser = fake

	acc, err := importer.Import(context.Background(), ImportOptions{Browser: "chrome", Platform: domain.PlatformDouyin, Label: "b"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if fake.domain != "douyin.com" {
		t.Errorf("expected douyin.com filter, got %q", fake.domain)
	}
	if !store.Exists(acc.CredentialRef) {
		t.Error("credential not stored")
	}
}

func TestCookieImporter_Validation(t *testing.T) {
	importer := NewCookieImporter(nil, memory.NewAccountRepository())
	ctx := context.Background()

	_, err := importer.Import(ctx, ImportOptions{Label: "x"})
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Errorf("expected source error, got %v", err)
	}
	_, err = importer.Import(ctx, ImportOptions{Browser: "chrome", Label: "x", Platform: "myspace"})
	if err == nil || !strings.Contains(err.Error(), "unknown platform") {
		t.Errorf("expected unknown platform error, got %v", err)
	}
}

func TestCookieExporter_ExportByID(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(filepath.Join(dir, "creds"))
	repo := memory.NewAccountRepository()
	ctx := context.Background()

	path := filepath.Join(dir, "cookies.txt")
	os.WriteFile(path, []byte(sampleCookies), 0600)
	acc, err := NewCookieImporter(store, repo).Import(ctx, ImportOptions{FilePath: path, Label: "main"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	out := filepath.Join(dir, "export.txt")
	n, err := NewCookieExporter(store, repo).ExportByID(ctx, acc.ID, out)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 cookies exported, got %d", n)
	}

	cookies, err := NewCookieParser().ParseFile(out)
	if err != nil || len(cookies) != 3 {
		t.Errorf("exported file not parseable: %v", err)
	}
}
