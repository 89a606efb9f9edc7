// Package automationtest provides a scriptable PlatformAutomation for tests.
package automationtest

import (
	"context"
	"sync"
	"time"

	"github.com/elsanchez/smart-publish/internal/automation"
)

// Fake records calls and delegates behaviour to optional hooks. Zero hooks
// mean success.
type Fake struct {
	Name string

	OnProbe     func(ctx context.Context, blob []byte) (bool, error)
	OnOpen      func(ctx context.Context) error
	OnUpload    func(ctx context.Context, call int, path string) error
	OnSchedule  func(ctx context.Context, at time.Time) error
	OnConfirm   func(ctx context.Context, meta automation.Metadata) (automation.RemoteRef, error)
	SessionBlob []byte

	// Login scripting
	ChallengeSrc string
	ChallengeErr error
	LoginBlob    []byte
	Confirmed    chan struct{}

	mu        sync.Mutex
	probes    int
	uploads   int
	schedules []time.Time
	confirms  int
	opened    int
	closed    int
	logins    int
}

var _ automation.PlatformAutomation = (*Fake)(nil)

func New(name string) *Fake {
	return &Fake{Name: name, Confirmed: make(chan struct{})}
}

type fakeSession struct {
	f    *Fake
	once sync.Once
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.f.mu.Lock()
		s.f.closed++
		s.f.mu.Unlock()
	})
	return nil
}

func (f *Fake) Platform() string { return f.Name }

func (f *Fake) ProbeAuth(ctx context.Context, blob []byte) (bool, error) {
	f.mu.Lock()
	f.probes++
	f.mu.Unlock()
	if f.OnProbe != nil {
		return f.OnProbe(ctx, blob)
	}
	return true, nil
}

func (f *Fake) OpenSession(ctx context.Context, _ []byte) (automation.Session, error) {
	if f.OnOpen != nil {
		if err := f.OnOpen(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return &fakeSession{f: f}, nil
}

func (f *Fake) UploadFile(ctx context.Context, _ automation.Session, path string) error {
	f.mu.Lock()
	f.uploads++
	call := f.uploads
	f.mu.Unlock()
	if f.OnUpload != nil {
		return f.OnUpload(ctx, call, path)
	}
	return nil
}

func (f *Fake) SetSchedule(ctx context.Context, _ automation.Session, at time.Time) error {
	f.mu.Lock()
	f.schedules = append(f.schedules, at)
	f.mu.Unlock()
	if f.OnSchedule != nil {
		return f.OnSchedule(ctx, at)
	}
	return nil
}

func (f *Fake) Confirm(ctx context.Context, _ automation.Session, meta automation.Metadata) (automation.RemoteRef, error) {
	f.mu.Lock()
	f.confirms++
	f.mu.Unlock()
	if f.OnConfirm != nil {
		return f.OnConfirm(ctx, meta)
	}
	return automation.RemoteRef{ID: "remote-1", URL: "https://example.invalid/manage"}, nil
}

func (f *Fake) SaveSession(context.Context, automation.Session) ([]byte, error) {
	return f.SessionBlob, nil
}

func (f *Fake) OpenLogin(context.Context) (automation.LoginHandle, error) {
	f.mu.Lock()
	f.logins++
	f.opened++
	f.mu.Unlock()
	return &fakeLogin{f: f, sess: &fakeSession{f: f}}, nil
}

type fakeLogin struct {
	f    *Fake
	sess *fakeSession
}

func (l *fakeLogin) Challenge(context.Context) (string, error) {
	if l.f.ChallengeErr != nil {
		return "", l.f.ChallengeErr
	}
	if l.f.ChallengeSrc == "" {
		return "data:image/png;base64,UVI=", nil
	}
	return l.f.ChallengeSrc, nil
}

func (l *fakeLogin) WaitForLogin(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.f.Confirmed:
		return "https://example.invalid/home", nil
	}
}

func (l *fakeLogin) SaveSession(context.Context) ([]byte, error) {
	return l.f.LoginBlob, nil
}

func (l *fakeLogin) Close() error { return l.sess.Close() }

// Counts is a snapshot of the recorded calls.
type Counts struct {
	Probes, Uploads, Confirms, Opened, Closed, Logins int
	Schedules                                         []time.Time
}

func (f *Fake) Counts() Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Counts{
		Probes:    f.probes,
		Uploads:   f.uploads,
		Confirms:  f.confirms,
		Opened:    f.opened,
		Closed:    f.closed,
		Logins:    f.logins,
		Schedules: append([]time.Time(nil), f.schedules...),
	}
}
