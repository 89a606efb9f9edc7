// Package memory provides map-backed repositories for tests and for
// running the daemon without a database file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
)

// AccountRepository is an in-memory repository.AccountRepository.
type AccountRepository struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*domain.Account
}

var _ repository.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{byID: make(map[int64]*domain.Account)}
}

func (r *AccountRepository) Create(_ context.Context, acc *domain.Account) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.Platform == acc.Platform && existing.Label == acc.Label {
			return 0, fmt.Errorf("account %s/%s already exists", acc.Platform, acc.Label)
		}
	}

	r.nextID++
	stored := *acc
	stored.ID = r.nextID
	if stored.Status == "" {
		stored.Status = domain.AccountUnverified
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.byID[stored.ID] = &stored
	return stored.ID, nil
}

func (r *AccountRepository) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, repository.ErrNotFound)
	}
	return cloneAccount(acc), nil
}

func (r *AccountRepository) GetByLabel(_ context.Context, platform, label string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, acc := range r.byID {
		if acc.Platform == platform && acc.Label == label {
			return cloneAccount(acc), nil
		}
	}
	return nil, fmt.Errorf("account %s/%s: %w", platform, label, repository.ErrNotFound)
}

func (r *AccountRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("account %d: %w", id, repository.ErrNotFound)
	}
	delete(r.byID, id)
	return nil
}

func (r *AccountRepository) GetAll(_ context.Context, platform string) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]*domain.Account, 0, len(r.byID))
	for _, acc := range r.byID {
		if platform == "" || acc.Platform == platform {
			accounts = append(accounts, cloneAccount(acc))
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Platform != accounts[j].Platform {
			return accounts[i].Platform < accounts[j].Platform
		}
		return accounts[i].Label < accounts[j].Label
	})
	return accounts, nil
}

func (r *AccountRepository) ListPlatforms(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var platforms []string
	for _, acc := range r.byID {
		if !seen[acc.Platform] {
			seen[acc.Platform] = true
			platforms = append(platforms, acc.Platform)
		}
	}
	sort.Strings(platforms)
	return platforms, nil
}

func (r *AccountRepository) UpdateStatus(_ context.Context, id int64, status domain.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, repository.ErrNotFound)
	}
	acc.Status = status
	return nil
}

func (r *AccountRepository) MarkVerified(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, repository.ErrNotFound)
	}
	acc.Status = domain.AccountValid
	acc.LastVerifiedAt = &at
	return nil
}

func cloneAccount(acc *domain.Account) *domain.Account {
	c := *acc
	if acc.LastVerifiedAt != nil {
		at := *acc.LastVerifiedAt
		c.LastVerifiedAt = &at
	}
	return &c
}
