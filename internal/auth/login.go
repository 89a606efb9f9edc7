package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/elsanchez/smart-publish/internal/automation"
	"github.com/elsanchez/smart-publish/internal/credentials"
	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
	"github.com/elsanchez/smart-publish/internal/stream"
)

// ErrLoginInProgress is returned when an account already has an active
// login session.
var ErrLoginInProgress = errors.New("login already in progress")

// saveTimeout bounds persisting the session after a confirmed scan.
const saveTimeout = 30 * time.Second

// CredentialLocker grants exclusive access to a credential for the whole
// login.
type CredentialLocker interface {
	Lock(ctx context.Context, ref string) (*credentials.Lease, error)
}

// LoginManager runs interactive QR logins, at most one per account.
type LoginManager struct {
	accounts    repository.AccountRepository
	creds       CredentialLocker
	automations *automation.Registry
	hub         *stream.Hub
	timeout     time.Duration
	log         *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*domain.LoginSession
}

func NewLoginManager(accounts repository.AccountRepository, creds CredentialLocker, automations *automation.Registry, hub *stream.Hub, timeout time.Duration, logger *log.Logger) *LoginManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &LoginManager{
		accounts:    accounts,
		creds:       creds,
		automations: automations,
		hub:         hub,
		timeout:     timeout,
		log:         logger,
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]*domain.LoginSession),
	}
}

// Start launches a login for (platform, label). The returned subscription
// is registered before the flow starts, so it sees every event: one
// challenge and exactly one terminal event. The flow outlives the caller;
// closing the subscription does not stop it.
func (m *LoginManager) Start(platform, label string) (*domain.LoginSession, *stream.Subscription, error) {
	if label == "" {
		return nil, nil, fmt.Errorf("account label is required")
	}
	adapter, err := m.automations.Get(platform)
	if err != nil {
		return nil, nil, err
	}

	key := platform + "/" + label

	m.mu.Lock()
	if existing, ok := m.active[key]; ok {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s (session %s)", ErrLoginInProgress, key, existing.ID)
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("login manager stopped")
	}
	sess := &domain.LoginSession{
		ID:        uuid.NewString(),
		Platform:  platform,
		Label:     label,
		State:     domain.LoginOpening,
		StartedAt: time.Now(),
	}
	m.active[key] = sess
	m.wg.Add(1)
	m.mu.Unlock()

	sub := m.hub.Subscribe(domain.LoginTopic(sess.ID))
	snapshot := *sess

	go func() {
		defer m.wg.Done()
		defer m.forget(key)
		m.run(sess, adapter)
	}()

	return &snapshot, sub, nil
}

// Active returns a snapshot of the running sessions.
func (m *LoginManager) Active() []domain.LoginSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.LoginSession, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, *s)
	}
	return out
}

// Stop aborts running logins and waits for them to release their
// resources.
func (m *LoginManager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *LoginManager) forget(key string) {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
}

func (m *LoginManager) setState(sess *domain.LoginSession, state domain.LoginState, reason string) {
	m.mu.Lock()
	sess.State = state
	sess.Reason = reason
	m.mu.Unlock()
}

func (m *LoginManager) run(sess *domain.LoginSession, adapter automation.PlatformAutomation) {
	logger := m.log.With("login", sess.ID, "platform", sess.Platform, "label", sess.Label)

	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	event := domain.LoginEvent{SessionID: sess.ID, Platform: sess.Platform, Label: sess.Label}

	// fail emite el único evento terminal de error o timeout
	fail := func(err error) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.setState(sess, domain.LoginTimedOut, "no confirmation before timeout")
			event.Reason = fmt.Sprintf("no confirmation within %s", m.timeout)
			logger.Warn("login timed out")
			m.emit(sess, domain.EventTimeout, event)
			return
		}
		m.setState(sess, domain.LoginFailed, err.Error())
		event.Reason = err.Error()
		logger.Error("login failed", "err", err)
		m.emit(sess, domain.EventFailed, event)
	}

	lease, err := m.creds.Lock(ctx, domain.CredentialRefFor(sess.Platform, sess.Label))
	if err != nil {
		fail(err)
		return
	}
	defer lease.Release()

	handle, err := adapter.OpenLogin(ctx)
	if err != nil {
		fail(fmt.Errorf("open login: %w", err))
		return
	}
	defer handle.Close()

	challenge, err := handle.Challenge(ctx)
	if err != nil {
		fail(fmt.Errorf("get challenge: %w", err))
		return
	}
	m.setState(sess, domain.LoginAwaitingScan, "")
	m.emit(sess, domain.EventChallenge, domain.LoginEvent{
		SessionID: sess.ID, Platform: sess.Platform, Label: sess.Label, Challenge: challenge,
	})
	logger.Info("waiting for QR scan")

	landing, err := handle.WaitForLogin(ctx)
	if err != nil {
		fail(err)
		return
	}
	m.setState(sess, domain.LoginConfirmed, "")
	logger.Info("login confirmed", "url", landing)

	// El guardado no debe perderse por el timeout de escaneo
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancelSave()

	accountID, err := m.persist(saveCtx, sess, handle, lease)
	if err != nil {
		m.setState(sess, domain.LoginFailed, err.Error())
		event.Reason = err.Error()
		logger.Error("persist login failed", "err", err)
		m.emit(sess, domain.EventFailed, event)
		return
	}

	m.setState(sess, domain.LoginPersisted, "")
	event.AccountID = accountID
	logger.Info("login persisted", "account", accountID)
	m.emit(sess, domain.EventSuccess, event)
}

func (m *LoginManager) persist(ctx context.Context, sess *domain.LoginSession, handle automation.LoginHandle, lease *credentials.Lease) (int64, error) {
	blob, err := handle.SaveSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("save session: %w", err)
	}
	if err := lease.Save(blob); err != nil {
		return 0, fmt.Errorf("store credential: %w", err)
	}

	acc, err := m.accounts.GetByLabel(ctx, sess.Platform, sess.Label)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		acc = &domain.Account{
			Platform:      sess.Platform,
			Label:         sess.Label,
			CredentialRef: lease.Ref(),
		}
		if acc.ID, err = m.accounts.Create(ctx, acc); err != nil {
			return 0, fmt.Errorf("create account: %w", err)
		}
	default:
		return 0, fmt.Errorf("look up account: %w", err)
	}

	if err := m.accounts.MarkVerified(ctx, acc.ID, time.Now()); err != nil {
		return 0, fmt.Errorf("mark account valid: %w", err)
	}
	return acc.ID, nil
}

func (m *LoginManager) emit(sess *domain.LoginSession, eventType string, payload domain.LoginEvent) {
	m.hub.Publish(domain.Event{
		Topic:    domain.LoginTopic(sess.ID),
		Type:     eventType,
		Terminal: eventType != domain.EventChallenge,
		Data:     payload,
	})
}
