package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elsanchez/smart-publish/internal/auth"
	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/automation/automationtest"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/dedup"
	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/logger"
	"github.com/elsanchez/smart-publish/internal/repository"
	"github.com/elsanchez/smart-publish/internal/repository/memory"
	"github.com/elsanchez/smart-publish/internal/schedule"
	"github.com/elsanchez/smart-publish/internal/stream"
)

// countingDedup cuenta las llamadas a Release por holder
type countingDedup struct {
	*dedup.Registry

	mu       sync.Mutex
	releases map[string]int
}

func (d *countingDedup) Release(fingerprint, holder string) {
	d.mu.Lock()
	d.releases[holder]++
	d.mu.Unlock()
	d.Registry.Release(fingerprint, holder)
}

func (d *countingDedup) count(holder string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases[holder]
}

type harness struct {
	orch     *Orchestrator
	fake     *automationtest.Fake
	tasks    *memory.TaskRepository
	accounts *memory.AccountRepository
	store    *credentials.FileStore
	dedup    *countingDedup
	hub      *stream.Hub
	account  *domain.Account
	dir      string
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.AuthRetryBackoff = 5 * time.Millisecond
	return cfg
}

func validBlob(t *testing.T) []byte {
	t.Helper()
	state := &credentials.StorageState{Cookies: []credentials.Cookie{
		{Name: "sessionid", Value: "0123456789abcdef0123", Domain: ".douyin.com", Path: "/", Expires: -1},
		{Name: "ttwid", Value: "1%7Cabcdefabcdef", Domain: ".douyin.com", Path: "/", Expires: -1},
	}}
	blob, err := state.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return blob
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	store, err := credentials.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		fake:     automationtest.New(domain.PlatformDouyin),
		tasks:    memory.NewTaskRepository(),
		accounts: memory.NewAccountRepository(),
		store:    store,
		dedup:    &countingDedup{Registry: dedup.NewRegistry(), releases: make(map[string]int)},
		hub:      stream.NewHub(512),
		dir:      t.TempDir(),
	}
	h.account = h.addAccount(t, "acct-1")

	registry := automation.NewRegistry(h.fake)
	h.orch = New(cfg, Deps{
		Tasks:       h.tasks,
		Accounts:    h.accounts,
		Validator:   auth.NewValidator(h.accounts, store, registry, time.Second, logger.Discard()),
		Credentials: store,
		Automations: registry,
		Dedup:       h.dedup,
		Schedule:    schedule.NewCalculator([]string{"09:00", "18:00"}),
		Hub:         h.hub,
		Logger:      logger.Discard(),
	})
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(h.orch.Stop)
	return h
}

func (h *harness) addAccount(t *testing.T, label string) *domain.Account {
	t.Helper()
	acc := &domain.Account{Platform: domain.PlatformDouyin, Label: label, CredentialRef: domain.CredentialRefFor(domain.PlatformDouyin, label)}
	id, err := h.accounts.Create(context.Background(), acc)
	if err != nil {
		t.Fatal(err)
	}
	acc.ID = id
	if err := h.store.Save(context.Background(), acc.CredentialRef, validBlob(t)); err != nil {
		t.Fatal(err)
	}
	return acc
}

func (h *harness) video(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte("frames of "+name), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, o *Orchestrator, id string, cond func(*domain.PublishTask) bool) *domain.PublishTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := o.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if cond(task) {
			return task
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s stuck in %s", id, task.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, o *Orchestrator, id string) *domain.PublishTask {
	t.Helper()
	return waitFor(t, o, id, (*domain.PublishTask).IsCompleted)
}

// statesOf lee del hub los estados de una tarea hasta el terminal
func statesOf(t *testing.T, sub *stream.Subscription, id string) []domain.TaskState {
	t.Helper()
	var states []domain.TaskState
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				t.Fatal("subscription dropped")
			}
			payload, isTask := ev.Data.(domain.TaskEvent)
			if !isTask || payload.TaskID != id {
				continue
			}
			states = append(states, payload.State)
			if ev.Terminal {
				return states
			}
		case <-timeout:
			t.Fatalf("no terminal event for %s, saw %v", id, states)
		}
	}
}

func assertPath(t *testing.T, states []domain.TaskState) {
	t.Helper()
	for i := 1; i < len(states); i++ {
		if !domain.CanTransition(states[i-1], states[i]) {
			t.Fatalf("invalid transition %s -> %s in %v", states[i-1], states[i], states)
		}
	}
}

func TestOrchestrator_PublishImmediate(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fake.SessionBlob = append(validBlob(t), ' ')
	sub := h.hub.Subscribe()
	defer sub.Close()

	task, err := h.orch.Submit(context.Background(), Request{
		ContentPath: h.video(t, "clip.mp4"),
		AccountID:   h.account.ID,
		Tags:        []string{"#travel", " ", "food"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.Title != "clip" {
		t.Errorf("title should default to the file name, got %q", task.Title)
	}

	states := statesOf(t, sub, task.ID)
	want := []domain.TaskState{
		domain.StatePending, domain.StateAuthenticating, domain.StateUploading,
		domain.StatePublishing, domain.StateCompleted,
	}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}

	done := waitDone(t, h.orch, task.ID)
	if done.Result == nil || done.Result.RemoteID != "remote-1" {
		t.Errorf("missing remote result: %+v", done.Result)
	}
	if len(done.Tags) != 2 || done.Tags[0] != "travel" {
		t.Errorf("tags not normalized: %v", done.Tags)
	}

	blob, _ := h.store.Load(context.Background(), h.account.CredentialRef)
	if string(blob) != string(h.fake.SessionBlob) {
		t.Error("refreshed session not saved back")
	}
	if h.dedup.count(task.ID) != 1 || h.dedup.Len() != 0 {
		t.Errorf("fingerprint not released exactly once: %d", h.dedup.count(task.ID))
	}
	h.orch.Stop()
	if c := h.fake.Counts(); c.Opened != c.Closed {
		t.Errorf("session leaked: opened %d closed %d", c.Opened, c.Closed)
	}
	t.Logf("✅ Task completed through %v", states)
}

func TestOrchestrator_DuplicateRace(t *testing.T) {
	h := newHarness(t, testConfig())
	gate := make(chan struct{})
	h.fake.OnUpload = func(ctx context.Context, _ int, _ string) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	video := h.video(t, "video123.mp4")
	var (
		wg    sync.WaitGroup
		tasks [2]*domain.PublishTask
		errs  [2]error
	)
	for i := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks[i], errs[i] = h.orch.Submit(context.Background(), Request{ContentPath: video, AccountID: h.account.ID, Title: "t"})
		}()
	}
	wg.Wait()

	var winner, loser *domain.PublishTask
	for i, task := range tasks {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		if task.State == domain.StateFailed {
			loser = task
		} else {
			winner = task
		}
	}
	if winner == nil || loser == nil {
		t.Fatalf("expected one winner and one duplicate, got %+v", tasks)
	}
	if loser.Error == nil || loser.Error.Kind != domain.KindDuplicateInProgress {
		t.Fatalf("loser error = %+v", loser.Error)
	}

	waitFor(t, h.orch, winner.ID, func(task *domain.PublishTask) bool { return task.State == domain.StateUploading })
	close(gate)
	waitDone(t, h.orch, winner.ID)

	if n := h.fake.Counts().Uploads; n != 1 {
		t.Errorf("expected a single upload, got %d", n)
	}
	for _, task := range tasks {
		if n := h.dedup.count(task.ID); n != 1 {
			t.Errorf("task %s released %d times", task.ID, n)
		}
	}

	// Con la huella libre se puede volver a publicar
	again, err := h.orch.Submit(context.Background(), Request{ContentPath: video, AccountID: h.account.ID})
	if err != nil || again.State == domain.StateFailed {
		t.Fatalf("resubmit after completion must be accepted: %+v %v", again, err)
	}
	waitDone(t, h.orch, again.ID)
}

func TestOrchestrator_AuthRequiredSkipsUpload(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fake.OnProbe = func(context.Context, []byte) (bool, error) { return false, nil }

	task, err := h.orch.Submit(context.Background(), Request{ContentPath: h.video(t, "a.mp4"), AccountID: h.account.ID})
	if err != nil {
		t.Fatal(err)
	}
	done := waitDone(t, h.orch, task.ID)

	if done.Error == nil || done.Error.Kind != domain.KindAuthRequired {
		t.Fatalf("error = %+v", done.Error)
	}
	if done.Error.Reason == "" {
		t.Error("terminal error needs a reason")
	}
	if c := h.fake.Counts(); c.Uploads != 0 || c.Opened != 0 {
		t.Errorf("no automation session expected, got %+v", c)
	}
	acc, _ := h.accounts.GetByID(context.Background(), h.account.ID)
	if acc.Status != domain.AccountInvalid {
		t.Errorf("account status = %s", acc.Status)
	}
}

func TestOrchestrator_AuthProbeErrorRetriedOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fake.OnProbe = func(context.Context, []byte) (bool, error) { return false, errors.New("navigation timeout") }

	task, _ := h.orch.Submit(context.Background(), Request{ContentPath: h.video(t, "a.mp4"), AccountID: h.account.ID})
	done := waitDone(t, h.orch, task.ID)

	if done.Error == nil || done.Error.Kind != domain.KindAuthProbeError {
		t.Fatalf("error = %+v", done.Error)
	}
	if n := h.fake.Counts().Probes; n != 2 {
		t.Errorf("expected exactly one retry of the probe, got %d probes", n)
	}
	acc, _ := h.accounts.GetByID(context.Background(), h.account.ID)
	if acc.Status != domain.AccountUnverified {
		t.Errorf("probe errors must not touch the account, status = %s", acc.Status)
	}
}

func TestOrchestrator_UploadRetries(t *testing.T) {
	fatal := errors.New("file rejected")

	tests := []struct {
		name         string
		upload       func(call int) error
		wantKind     domain.ErrorKind
		wantAttempts int
		wantUploads  int
	}{
		{
			name: "needs retry three times then fatal",
			upload: func(call int) error {
				if call <= 3 {
					return automation.ErrNeedsRetry
				}
				return fatal
			},
			wantKind:     domain.KindUploadExhausted,
			wantAttempts: 3,
			wantUploads:  4,
		},
		{
			name:         "needs retry forever",
			upload:       func(int) error { return automation.ErrNeedsRetry },
			wantKind:     domain.KindUploadExhausted,
			wantAttempts: 3,
			wantUploads:  4,
		},
		{
			name:         "fatal before retries run out",
			upload:       func(int) error { return fatal },
			wantKind:     domain.KindUploadFailed,
			wantAttempts: 0,
			wantUploads:  1,
		},
		{
			name: "recovers after one retry",
			upload: func(call int) error {
				if call == 1 {
					return automation.ErrNeedsRetry
				}
				return nil
			},
			wantAttempts: 1,
			wantUploads:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.fake.OnUpload = func(_ context.Context, call int, _ string) error { return tt.upload(call) }
			sub := h.hub.Subscribe()
			defer sub.Close()

			task, _ := h.orch.Submit(context.Background(), Request{ContentPath: h.video(t, "a.mp4"), AccountID: h.account.ID})
			states := statesOf(t, sub, task.ID)
			assertPath(t, states)

			done := waitDone(t, h.orch, task.ID)
			if tt.wantKind == "" {
				if done.State != domain.StateCompleted {
					t.Fatalf("expected completed, got %s (%v)", done.State, done.Error)
				}
			} else if done.Error == nil || done.Error.Kind != tt.wantKind {
				t.Fatalf("error = %+v, want %s", done.Error, tt.wantKind)
			}
			if done.Attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", done.Attempts, tt.wantAttempts)
			}
			if n := h.fake.Counts().Uploads; n != tt.wantUploads {
				t.Errorf("uploads = %d, want %d", n, tt.wantUploads)
			}

			retrying := 0
			for _, st := range states {
				if st == domain.StateRetrying {
					retrying++
				}
			}
			if retrying != tt.wantAttempts {
				t.Errorf("retry loop ran %d times, want %d", retrying, tt.wantAttempts)
			}
		})
	}
}

func TestOrchestrator_PhaseFailures(t *testing.T) {
	at := time.Now().Add(48 * time.Hour).Truncate(time.Minute)

	tests := []struct {
		name     string
		cfg      func(*Config)
		setup    func(*automationtest.Fake)
		wantKind domain.ErrorKind
	}{
		{
			name: "upload phase timeout",
			cfg:  func(c *Config) { c.UploadTimeout = 50 * time.Millisecond },
			setup: func(f *automationtest.Fake) {
				f.OnUpload = func(ctx context.Context, _ int, _ string) error {
					<-ctx.Done()
					return ctx.Err()
				}
			},
			wantKind: domain.KindTimeout,
		},
		{
			// Abrir sesión espera al limitador del navegador
			name: "session open bounded by upload timeout",
			cfg:  func(c *Config) { c.UploadTimeout = 50 * time.Millisecond },
			setup: func(f *automationtest.Fake) {
				f.OnOpen = func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				}
			},
			wantKind: domain.KindTimeout,
		},
		{
			name: "schedule rejected",
			setup: func(f *automationtest.Fake) {
				f.OnSchedule = func(context.Context, time.Time) error { return errors.New("time picker missing") }
			},
			wantKind: domain.KindScheduleFailed,
		},
		{
			name: "confirm rejected",
			setup: func(f *automationtest.Fake) {
				f.OnConfirm = func(context.Context, automation.Metadata) (automation.RemoteRef, error) {
					return automation.RemoteRef{}, errors.New("publish button never enabled")
				}
			},
			wantKind: domain.KindPublishFailed,
		},
		{
			name: "confirm timeout",
			cfg:  func(c *Config) { c.ConfirmTimeout = 50 * time.Millisecond },
			setup: func(f *automationtest.Fake) {
				f.OnConfirm = func(ctx context.Context, _ automation.Metadata) (automation.RemoteRef, error) {
					<-ctx.Done()
					return automation.RemoteRef{}, ctx.Err()
				}
			},
			wantKind: domain.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			h := newHarness(t, cfg)
			tt.setup(h.fake)

			task, _ := h.orch.Submit(context.Background(), Request{
				ContentPath: h.video(t, "a.mp4"),
				AccountID:   h.account.ID,
				ScheduledAt: &at,
			})
			done := waitDone(t, h.orch, task.ID)

			if done.Error == nil || done.Error.Kind != tt.wantKind {
				t.Fatalf("error = %+v, want %s", done.Error, tt.wantKind)
			}
			if h.dedup.Len() != 0 {
				t.Error("failed task kept its fingerprint")
			}
		})
	}
}

func TestOrchestrator_ScheduledPublish(t *testing.T) {
	h := newHarness(t, testConfig())
	sub := h.hub.Subscribe()
	defer sub.Close()

	task, err := h.orch.Submit(context.Background(), Request{
		ContentPath: h.video(t, "a.mp4"),
		AccountID:   h.account.ID,
		Cadence:     &schedule.Cadence{Enabled: true, PerDay: 1, StartDays: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.ScheduledAt == nil {
		t.Fatal("cadence must assign a publish time")
	}

	states := statesOf(t, sub, task.ID)
	assertPath(t, states)
	if states[len(states)-2] != domain.StatePublishing || states[len(states)-3] != domain.StateScheduling {
		t.Errorf("scheduling phase missing: %v", states)
	}

	got := h.fake.Counts().Schedules
	if len(got) != 1 || !got[0].Equal(*task.ScheduledAt) {
		t.Errorf("SetSchedule got %v, want %v", got, task.ScheduledAt)
	}
}

func TestOrchestrator_Cancel(t *testing.T) {
	h := newHarness(t, testConfig())
	started := make(chan struct{})
	h.fake.OnUpload = func(ctx context.Context, _ int, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	task, _ := h.orch.Submit(context.Background(), Request{ContentPath: h.video(t, "a.mp4"), AccountID: h.account.ID})
	<-started

	cancelled, err := h.orch.Cancel(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != domain.StateFailed || cancelled.Error.Kind != domain.KindCancelled {
		t.Fatalf("unexpected task after cancel: %+v", cancelled)
	}
	if h.dedup.count(task.ID) != 1 {
		t.Error("cancel must release the fingerprint")
	}

	if _, err := h.orch.Cancel(context.Background(), task.ID); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("second cancel: expected ErrTaskFinished, got %v", err)
	}
	if _, err := h.orch.Cancel(context.Background(), "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}

	// El worker no debe sobrescribir el estado cancelado
	h.orch.Stop()
	final, _ := h.orch.Get(context.Background(), task.ID)
	if final.Error.Kind != domain.KindCancelled {
		t.Errorf("final error = %+v", final.Error)
	}
	if c := h.fake.Counts(); c.Opened != c.Closed {
		t.Errorf("session not closed: %+v", c)
	}
	if h.dedup.count(task.ID) != 1 {
		t.Errorf("released %d times", h.dedup.count(task.ID))
	}
}

func TestOrchestrator_BatchCrossProduct(t *testing.T) {
	h := newHarness(t, testConfig())
	second := h.addAccount(t, "acct-2")

	a, b := h.video(t, "a.mp4"), h.video(t, "b.mp4")
	tasks, err := h.orch.SubmitBatch(context.Background(), BatchRequest{
		Files:      []string{a, b},
		AccountIDs: []int64{h.account.ID, second.ID},
		Title:      "daily",
		Cadence:    schedule.Cadence{Enabled: true, PerDay: 2},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(tasks))
	}

	// Mismo archivo a dos cuentas dentro del lote
	if tasks[0].ContentPath != a || tasks[1].ContentPath != a || tasks[0].AccountID == tasks[1].AccountID {
		t.Errorf("unexpected pair order: %+v", tasks[:2])
	}
	day := func(task *domain.PublishTask) int {
		y, m, d := time.Now().Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
		return int(task.ScheduledAt.Sub(start).Hours()) / 24
	}
	if day(tasks[0]) != 0 || day(tasks[1]) != 0 || day(tasks[2]) != 1 || day(tasks[3]) != 1 {
		t.Errorf("unexpected schedule days")
	}
	if tasks[0].ScheduledAt.Hour() != 9 || tasks[1].ScheduledAt.Hour() != 18 {
		t.Errorf("unexpected slots: %v %v", tasks[0].ScheduledAt, tasks[1].ScheduledAt)
	}

	for _, task := range tasks {
		done := waitDone(t, h.orch, task.ID)
		if done.State != domain.StateCompleted {
			t.Errorf("task %s ended %s (%v)", task.ID, done.State, done.Error)
		}
	}
	if h.dedup.Len() != 0 {
		t.Error("batch claim not freed")
	}

	// Una cuenta desconocida rechaza el lote entero
	_, err = h.orch.SubmitBatch(context.Background(), BatchRequest{Items: []Request{{ContentPath: a, AccountID: 999}}})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestOrchestrator_BatchRepeatedPair(t *testing.T) {
	h := newHarness(t, testConfig())
	second := h.addAccount(t, "acct-2")

	gate := make(chan struct{})
	h.fake.OnUpload = func(ctx context.Context, _ int, _ string) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a := h.video(t, "video123.mp4")
	tasks, err := h.orch.SubmitBatch(context.Background(), BatchRequest{Items: []Request{
		{ContentPath: a, AccountID: h.account.ID},
		{ContentPath: a, AccountID: h.account.ID},
		{ContentPath: a, AccountID: second.ID},
	}})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	repeated := tasks[1]
	if repeated.State != domain.StateFailed || repeated.Error.Kind != domain.KindDuplicateInProgress {
		t.Fatalf("repeated pair must fail as duplicate, got %s %+v", repeated.State, repeated.Error)
	}
	// El par repetido no suelta la reclamación que siguen usando los demás
	if _, held := h.dedup.Holder(tasks[0].Fingerprint); !held {
		t.Fatal("batch claim released by the repeated pair")
	}

	close(gate)
	for _, i := range []int{0, 2} {
		if done := waitDone(t, h.orch, tasks[i].ID); done.State != domain.StateCompleted {
			t.Errorf("task %d ended %s (%v)", i, done.State, done.Error)
		}
	}
	if c := h.fake.Counts(); c.Uploads != 2 {
		t.Errorf("uploads = %d, want 2", c.Uploads)
	}
	if h.dedup.Len() != 0 {
		t.Error("batch claim not freed")
	}
}

// cancellingTasks cancela cada tarea en cuanto queda insertada
type cancellingTasks struct {
	*memory.TaskRepository
	orch *Orchestrator

	cancelled *domain.PublishTask
	err       error
}

func (c *cancellingTasks) Create(ctx context.Context, task *domain.PublishTask) error {
	if err := c.TaskRepository.Create(ctx, task); err != nil {
		return err
	}
	c.cancelled, c.err = c.orch.Cancel(ctx, task.ID)
	return nil
}

func TestOrchestrator_CancelDuringCreate(t *testing.T) {
	h := newHarness(t, testConfig())
	repo := &cancellingTasks{TaskRepository: memory.NewTaskRepository()}

	registry := automation.NewRegistry(h.fake)
	orch := New(testConfig(), Deps{
		Tasks:       repo,
		Accounts:    h.accounts,
		Validator:   auth.NewValidator(h.accounts, h.store, registry, time.Second, logger.Discard()),
		Credentials: h.store,
		Automations: registry,
		Dedup:       h.dedup,
		Hub:         h.hub,
		Logger:      logger.Discard(),
	})
	repo.orch = orch
	if err := orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	sub := h.hub.Subscribe()
	defer sub.Close()

	task, err := orch.Submit(context.Background(), Request{ContentPath: h.video(t, "a.mp4"), AccountID: h.account.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if repo.err != nil || repo.cancelled.State != domain.StateFailed {
		t.Fatalf("cancel during create: %+v %v", repo.cancelled, repo.err)
	}
	if task.State != domain.StateFailed || task.Error.Kind != domain.KindCancelled {
		t.Fatalf("submit returned %s %+v", task.State, task.Error)
	}

	orch.Stop()

	final, err := orch.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.State != domain.StateFailed || final.Error.Kind != domain.KindCancelled {
		t.Errorf("cancelled task moved on: %s %+v", final.State, final.Error)
	}
	if c := h.fake.Counts(); c.Uploads != 0 || c.Opened != 0 {
		t.Errorf("cancelled task reached the platform: %+v", c)
	}
	if h.dedup.Len() != 0 {
		t.Error("cancelled task kept its fingerprint")
	}
	if states := statesOf(t, sub, task.ID); len(states) != 1 || states[0] != domain.StateFailed {
		t.Errorf("events = %v, want only failed", states)
	}
}

func TestOrchestrator_BatchIsolatesFailures(t *testing.T) {
	h := newHarness(t, testConfig())
	bad := h.video(t, "bad.mp4")
	h.fake.OnUpload = func(_ context.Context, _ int, path string) error {
		if path == bad {
			return errors.New("unsupported codec")
		}
		return nil
	}

	tasks, err := h.orch.SubmitBatch(context.Background(), BatchRequest{Items: []Request{
		{ContentPath: h.video(t, "ok1.mp4"), AccountID: h.account.ID},
		{ContentPath: bad, AccountID: h.account.ID},
		{ContentPath: h.video(t, "ok2.mp4"), AccountID: h.account.ID},
	}})
	if err != nil {
		t.Fatal(err)
	}

	for i, task := range tasks {
		done := waitDone(t, h.orch, task.ID)
		wantFailed := i == 1
		if (done.State == domain.StateFailed) != wantFailed {
			t.Errorf("task %d ended %s", i, done.State)
		}
	}
}

func TestOrchestrator_RecoveryAndRetention(t *testing.T) {
	tasks := memory.NewTaskRepository()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	seed := []*domain.PublishTask{
		{ID: "stuck", Fingerprint: "/v/1.mp4", State: domain.StateUploading, CreatedAt: old, UpdatedAt: old},
		{ID: "old-done", Fingerprint: "/v/2.mp4", State: domain.StateCompleted, CreatedAt: old, UpdatedAt: old},
		{ID: "fresh-done", Fingerprint: "/v/3.mp4", State: domain.StateCompleted, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}
	for _, task := range seed {
		if err := tasks.Create(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	o := New(testConfig(), Deps{
		Tasks:       tasks,
		Accounts:    memory.NewAccountRepository(),
		Automations: automation.NewRegistry(),
		Hub:         stream.NewHub(8),
		Logger:      logger.Discard(),
	})
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()

	stuck, _ := o.Get(ctx, "stuck")
	if stuck.State != domain.StateFailed || stuck.Error.Kind != domain.KindInterrupted {
		t.Fatalf("unfinished task not recovered: %+v", stuck)
	}

	n, err := o.Cleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// stuck acaba de actualizarse, así que sobrevive
	if n != 1 {
		t.Errorf("expected 1 expired task, removed %d", n)
	}
	if _, err := o.Get(ctx, "old-done"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expired task still present: %v", err)
	}

	stats, err := o.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ByState[domain.StateFailed] != 1 || stats.ByState[domain.StateCompleted] != 1 || stats.Workers != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	list, _ := o.List(ctx, repository.TaskFilter{State: domain.StateCompleted})
	if len(list) != 1 || list[0].ID != "fresh-done" {
		t.Errorf("unexpected filtered list %+v", list)
	}
}

func TestOrchestrator_StopInterruptsRunningTasks(t *testing.T) {
	h := newHarness(t, testConfig())
	started := make(chan struct{})
	h.fake.OnUpload = func(ctx context.Context, _ int, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	task, _ := h.orch.Submit(context.Background(), Request{ContentPath: h.video(t, "a.mp4"), AccountID: h.account.ID})
	<-started
	h.orch.Stop()

	done, _ := h.orch.Get(context.Background(), task.ID)
	if done.State != domain.StateFailed || done.Error.Kind != domain.KindInterrupted {
		t.Fatalf("expected interrupted, got %+v", done)
	}

	late, err := h.orch.Submit(context.Background(), Request{ContentPath: h.video(t, "b.mp4"), AccountID: h.account.ID})
	if err != nil || late.Error == nil || late.Error.Kind != domain.KindInterrupted {
		t.Errorf("submit after stop must fail the task: %+v %v", late, err)
	}
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	h := newHarness(t, testConfig())

	if _, err := h.orch.Submit(context.Background(), Request{AccountID: h.account.ID}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing path: %v", err)
	}
	if _, err := h.orch.Submit(context.Background(), Request{ContentPath: "/x.mp4", AccountID: 404}); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("unknown account: %v", err)
	}
	if _, err := h.orch.Submit(context.Background(), Request{
		ContentPath: "/x.mp4", AccountID: h.account.ID,
		Cadence: &schedule.Cadence{Enabled: true, PerDay: 0},
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("bad cadence: %v", err)
	}
	if _, err := h.orch.SubmitBatch(context.Background(), BatchRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty batch: %v", err)
	}
}
