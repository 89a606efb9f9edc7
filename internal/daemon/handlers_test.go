package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/automation/automationtest"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/logger"
	"github.com/elsanchez/smart-publish/internal/publish"
	"github.com/elsanchez/smart-publish/internal/repository/memory"
	"github.com/elsanchez/smart-publish/internal/stream"
)

const cookieFile = "# Netscape HTTP Cookie File\n" +
	".douyin.com\tTRUE\t/\tTRUE\t0\tsessionid\tabcdef0123456789abcdef\n" +
	".douyin.com\tTRUE\t/\tFALSE\t0\tttwid\t1%7Cxyz0123456789\n"

type testEnv struct {
	handler  http.Handler
	fake     *automationtest.Fake
	accounts *memory.AccountRepository
	hub      *stream.Hub
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := credentials.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fake := automationtest.New(domain.PlatformDouyin)
	registry := automation.NewRegistry(fake)
	accounts := memory.NewAccountRepository()
	hub := stream.NewHub(64)
	validator := auth.NewValidator(accounts, store, registry, time.Second, logger.Discard())

	cfg := publish.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.AuthRetryBackoff = time.Millisecond
	orch := publish.New(cfg, publish.Deps{
		Tasks:       memory.NewTaskRepository(),
		Accounts:    accounts,
		Validator:   validator,
		Credentials: store,
		Automations: registry,
		Hub:         hub,
		Logger:      logger.Discard(),
	})
	if err := orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(orch.Stop)

	logins := auth.NewLoginManager(accounts, store, registry, hub, 5*time.Second, logger.Discard())
	t.Cleanup(logins.Stop)

	h := &Handlers{
		Publisher:   orch,
		Logins:      logins,
		Validator:   validator,
		Accounts:    accounts,
		Credentials: store,
		Importer:    credentials.NewCookieImporter(store, accounts),
		Exporter:    credentials.NewCookieExporter(store, accounts),
		Hub:         hub,
		Logger:      logger.Discard(),
	}

	return &testEnv{
		handler:  NewRouter(h),
		fake:     fake,
		accounts: accounts,
		hub:      hub,
		dir:      t.TempDir(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, APIPrefix+path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) importAccount(t *testing.T, label string) *domain.Account {
	t.Helper()
	path := filepath.Join(e.dir, label+".txt")
	if err := os.WriteFile(path, []byte(cookieFile), 0600); err != nil {
		t.Fatal(err)
	}
	rec := e.do(t, http.MethodPost, "/accounts/import", ImportPayload{FilePath: path, Label: label})
	if rec.Code != http.StatusCreated {
		t.Fatalf("import: %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		Account *domain.Account `json:"account"`
	}
	decode(t, rec, &resp)
	return resp.Account
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHandlers_Ping(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/ping", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pong") {
		t.Fatalf("ping: %d %s", rec.Code, rec.Body)
	}
}

func TestHandlers_PublishLifecycle(t *testing.T) {
	env := newTestEnv(t)
	acc := env.importAccount(t, "main")
	if acc.Platform != domain.PlatformDouyin || acc.Status != domain.AccountUnverified {
		t.Fatalf("unexpected imported account %+v", acc)
	}

	video := filepath.Join(env.dir, "clip.mp4")
	os.WriteFile(video, []byte("frames"), 0644)

	rec := env.do(t, http.MethodPost, "/publish", publish.Request{ContentPath: video, AccountID: acc.ID, Title: "hola"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body)
	}
	var created taskResponse
	decode(t, rec, &created)

	var task taskResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = env.do(t, http.MethodGet, "/publish/"+created.Task.ID, nil)
		decode(t, rec, &task)
		if task.Task.State.IsTerminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if task.Task.State != domain.StateCompleted || task.Task.Result == nil {
		t.Fatalf("task did not complete: %+v", task.Task)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"cancel finished task", http.MethodPost, "/publish/" + created.Task.ID + "/cancel", nil, http.StatusConflict},
		{"unknown task", http.MethodGet, "/publish/nope", nil, http.StatusNotFound},
		{"cancel unknown task", http.MethodPost, "/publish/nope/cancel", nil, http.StatusNotFound},
		{"bad state filter", http.MethodGet, "/publish/tasks?state=bogus", nil, http.StatusBadRequest},
		{"unknown account", http.MethodPost, "/publish", publish.Request{ContentPath: video, AccountID: 99}, http.StatusNotFound},
		{"missing path", http.MethodPost, "/publish", publish.Request{AccountID: acc.ID}, http.StatusBadRequest},
		{"empty batch", http.MethodPost, "/publish/batch", publish.BatchRequest{}, http.StatusBadRequest},
		{"stats", http.MethodGet, "/stats", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
			if rec.Code >= 400 && !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("error body missing: %s", rec.Body)
			}
		})
	}

	rec = env.do(t, http.MethodGet, "/publish/tasks?state=completed&limit=10", nil)
	var list tasksResponse
	decode(t, rec, &list)
	if list.Count != 1 || list.Tasks[0].ID != created.Task.ID {
		t.Errorf("unexpected list %+v", list)
	}

	// La cuenta queda validada por la publicación
	stored, _ := env.accounts.GetByID(context.Background(), acc.ID)
	if stored.Status != domain.AccountValid {
		t.Errorf("account status = %s", stored.Status)
	}
}

func TestHandlers_PublishDuplicate(t *testing.T) {
	env := newTestEnv(t)
	acc := env.importAccount(t, "main")
	release := make(chan struct{})
	defer close(release)
	env.fake.OnUpload = func(ctx context.Context, _ int, _ string) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	}

	body := publish.Request{ContentPath: filepath.Join(env.dir, "same.mp4"), AccountID: acc.ID}
	if rec := env.do(t, http.MethodPost, "/publish", body); rec.Code != http.StatusAccepted {
		t.Fatalf("first publish: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/publish", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate publish: %d %s", rec.Code, rec.Body)
	}
	var resp taskResponse
	decode(t, rec, &resp)
	if resp.Task == nil || resp.Task.Error.Kind != domain.KindDuplicateInProgress {
		t.Errorf("duplicate must return the failed task: %s", rec.Body)
	}
}

// halfBatch lanza la primera tarea del lote y falla al crear la segunda
type halfBatch struct {
	Publisher
}

func (halfBatch) SubmitBatch(context.Context, publish.BatchRequest) ([]*domain.PublishTask, error) {
	return []*domain.PublishTask{{ID: "t1", State: domain.StatePending}}, errors.New("create task: disk full")
}

func TestHandlers_PublishBatchPartial(t *testing.T) {
	h := &Handlers{Publisher: halfBatch{}, Logger: logger.Discard()}
	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/publish/batch",
		strings.NewReader(`{"files":["/v/a.mp4","/v/b.mp4"],"account_ids":[1]}`))
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Error string               `json:"error"`
		Tasks []domain.PublishTask `json:"tasks"`
		Count int                  `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" || resp.Count != 1 || len(resp.Tasks) != 1 || resp.Tasks[0].ID != "t1" {
		t.Errorf("launched tasks missing from error response: %+v", resp)
	}
}

func TestHandlers_Accounts(t *testing.T) {
	env := newTestEnv(t)
	acc := env.importAccount(t, "main")
	id := "/accounts/" + itoa(acc.ID)

	rec := env.do(t, http.MethodPost, id+"/validate", nil)
	var validated ValidateResponse
	decode(t, rec, &validated)
	if validated.Verdict != auth.VerdictValid || validated.Account.Status != domain.AccountValid {
		t.Fatalf("unexpected validation %+v", validated)
	}

	out := filepath.Join(env.dir, "export.txt")
	rec = env.do(t, http.MethodGet, id+"/export?path="+out, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body)
	}
	data, err := os.ReadFile(out)
	if err != nil || !strings.Contains(string(data), "sessionid") {
		t.Errorf("exported file missing cookies: %v", err)
	}

	// Reimportar sin force es un conflicto de entrada
	path := filepath.Join(env.dir, "again.txt")
	os.WriteFile(path, []byte(cookieFile), 0600)
	if rec := env.do(t, http.MethodPost, "/accounts/import", ImportPayload{FilePath: path, Label: "main"}); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate import: %d", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/accounts", nil)
	var list accountsResponse
	decode(t, rec, &list)
	if list.Count != 0 {
		t.Errorf("account still listed: %+v", list)
	}

	for path, want := range map[string]int{
		id + "/validate":       http.StatusNotFound,
		"/accounts/x/validate": http.StatusBadRequest,
	} {
		if rec := env.do(t, http.MethodPost, path, nil); rec.Code != want {
			t.Errorf("%s: status %d, want %d", path, rec.Code, want)
		}
	}
	if rec := env.do(t, http.MethodGet, id+"/export", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("export without path: %d", rec.Code)
	}
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, r *bufio.Reader) (sseEvent, bool) {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return ev, false
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev, true
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandlers_LoginStream(t *testing.T) {
	env := newTestEnv(t)
	env.fake.LoginBlob = []byte(`{"cookies":[{"name":"sessionid","value":"v","domain":".douyin.com","path":"/","expires":-1}],"origins":[]}`)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + APIPrefix + "/login?platform=douyin&account=fresh")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	ev, ok := readSSE(t, reader)
	if !ok || ev.name != domain.EventChallenge || !strings.Contains(ev.data, "data:image/png") {
		t.Fatalf("expected challenge, got %+v", ev)
	}

	// Segundo login para la misma cuenta: conflicto
	conflict, err := http.Get(srv.URL + APIPrefix + "/login?platform=douyin&account=fresh")
	if err != nil {
		t.Fatal(err)
	}
	conflict.Body.Close()
	if conflict.StatusCode != http.StatusConflict {
		t.Errorf("concurrent login: %d", conflict.StatusCode)
	}

	close(env.fake.Confirmed)

	ev, ok = readSSE(t, reader)
	if !ok || ev.name != domain.EventSuccess {
		t.Fatalf("expected success, got %+v", ev)
	}
	var payload domain.LoginEvent
	json.Unmarshal([]byte(ev.data), &payload)
	if payload.AccountID == 0 {
		t.Errorf("success must carry the account id: %s", ev.data)
	}

	if _, more := readSSE(t, reader); more {
		t.Error("stream must end after the terminal event")
	}

	for _, q := range []string{"?platform=douyin", "?account=x", "?platform=myspace&account=x"} {
		r, err := http.Get(srv.URL + APIPrefix + "/login" + q)
		if err != nil {
			t.Fatal(err)
		}
		r.Body.Close()
		if r.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", q, r.StatusCode)
		}
	}
}

func TestHandlers_EventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + APIPrefix + "/events?topic=" + domain.TaskTopic("t1")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for env.hub.Subscribers() == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.hub.Publish(domain.Event{Topic: domain.TaskTopic("other"), Type: domain.EventTaskState})
	env.hub.Publish(domain.Event{
		Topic:    domain.TaskTopic("t1"),
		Type:     domain.EventTaskState,
		Terminal: true,
		Data:     domain.TaskEvent{TaskID: "t1", State: domain.StateCompleted},
	})

	var got struct {
		Topic    string           `json:"topic"`
		Terminal bool             `json:"terminal"`
		Data     domain.TaskEvent `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Topic != domain.TaskTopic("t1") || got.Data.State != domain.StateCompleted || !got.Terminal {
		t.Errorf("unexpected event %+v", got)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.hub.Subscribers() != 0 {
		t.Error("subscription not released after client closed")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
