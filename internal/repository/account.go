package repository

import (
	"context"
	"errors"
	"time"

	"github.com/elsanchez/smart-publish/internal/domain"
)

// ErrNotFound se retorna cuando el registro no existe
var ErrNotFound = errors.New("not found")

// AccountRepository define las operaciones sobre cuentas
type AccountRepository interface {
	// CRUD básico
	Create(ctx context.Context, acc *domain.Account) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	Delete(ctx context.Context, id int64) error

	// Queries especializadas
	GetByLabel(ctx context.Context, platform, label string) (*domain.Account, error)
	GetAll(ctx context.Context, platform string) ([]*domain.Account, error)
	ListPlatforms(ctx context.Context) ([]string, error)

	// Estado de verificación
	UpdateStatus(ctx context.Context, id int64, status domain.AccountStatus) error
	MarkVerified(ctx context.Context, id int64, at time.Time) error
}
