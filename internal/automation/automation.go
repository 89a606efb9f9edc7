// Package automation defines the capability interface every platform
// adapter implements, and the registry the daemon resolves adapters from.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNeedsRetry marks an upload the page rejected in a way that a
	// re-submission of the same file may fix.
	ErrNeedsRetry = errors.New("upload needs retry")

	// ErrUnsupportedPlatform is returned by Registry.Get for platforms
	// without an adapter.
	ErrUnsupportedPlatform = errors.New("no automation for platform")
)

// Session is an isolated, authenticated automation context for one task.
type Session interface {
	Close() error
}

// Metadata is what Confirm fills in before publishing.
type Metadata struct {
	Title string
	Tags  []string
}

// RemoteRef identifies the published item on the platform.
type RemoteRef struct {
	ID  string
	URL string
}

// LoginHandle drives one interactive QR login.
type LoginHandle interface {
	// Challenge opens the login page and returns the QR image source.
	Challenge(ctx context.Context) (string, error)
	// WaitForLogin blocks until the page navigates away from the login
	// page and returns the new URL.
	WaitForLogin(ctx context.Context) (string, error)
	// SaveSession returns the storage-state blob of the logged-in browser.
	SaveSession(ctx context.Context) ([]byte, error)
	Close() error
}

// PlatformAutomation is the set of capabilities the orchestrator needs
// from a platform. Errors returned by UploadFile wrap ErrNeedsRetry when
// a re-submission is worthwhile; any other error is fatal for the phase.
type PlatformAutomation interface {
	Platform() string

	// ProbeAuth reports whether blob is still logged in. A non-nil error
	// means the probe itself failed and says nothing about the blob.
	ProbeAuth(ctx context.Context, blob []byte) (bool, error)

	OpenSession(ctx context.Context, blob []byte) (Session, error)
	UploadFile(ctx context.Context, s Session, path string) error
	SetSchedule(ctx context.Context, s Session, at time.Time) error
	Confirm(ctx context.Context, s Session, meta Metadata) (RemoteRef, error)
	SaveSession(ctx context.Context, s Session) ([]byte, error)

	OpenLogin(ctx context.Context) (LoginHandle, error)
}

// Registry maps platform names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]PlatformAutomation
}

func NewRegistry(adapters ...PlatformAutomation) *Registry {
	r := &Registry{adapters: make(map[string]PlatformAutomation)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Platform().
func (r *Registry) Register(a PlatformAutomation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform string) (PlatformAutomation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return a, nil
}

// Platforms lists registered platforms in name order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
