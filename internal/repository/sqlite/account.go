package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elsanchez/smart-publish/internal/domain"
	"github.com/elsanchez/smart-publish/internal/repository"
)

// AccountRepository implementa repository.AccountRepository usando SQLite
type AccountRepository struct {
	db *sqlx.DB
}

// Compiletime check: asegura que implementa la interfaz
var _ repository.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository crea un nuevo repositorio de cuentas
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// accountRow mapea la tabla SQL a struct Go
type accountRow struct {
	ID             int64         `db:"id"`
	Platform       string        `db:"platform"`
	Label          string        `db:"label"`
	CredentialRef  string        `db:"credential_ref"`
	Status         string        `db:"status"`
	LastVerifiedAt sql.NullInt64 `db:"last_verified_at"`
	CreatedAt      int64         `db:"created_at"`
}

// Create inserta una nueva cuenta
func (r *AccountRepository) Create(ctx context.Context, acc *domain.Account) (int64, error) {
	query := `
		INSERT INTO accounts (platform, label, credential_ref, status)
		VALUES (:platform, :label, :credential_ref, :status)
	`

	status := acc.Status
	if status == "" {
		status = domain.AccountUnverified
	}

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"platform":       acc.Platform,
		"label":          acc.Label,
		"credential_ref": acc.CredentialRef,
		"status":         string(status),
	})
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetByID obtiene una cuenta por ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	var row accountRow

	query := `SELECT * FROM accounts WHERE id = ?`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return accountRowToDomain(&row), nil
}

// GetByLabel obtiene una cuenta por plataforma y etiqueta
func (r *AccountRepository) GetByLabel(ctx context.Context, platform, label string) (*domain.Account, error) {
	var row accountRow

	query := `SELECT * FROM accounts WHERE platform = ? AND label = ?`
	if err := r.db.GetContext(ctx, &row, query, platform, label); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s/%s: %w", platform, label, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get account by label: %w", err)
	}

	return accountRowToDomain(&row), nil
}

// Delete elimina una cuenta
func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("account %d", id))
}

// GetAll obtiene todas las cuentas, filtrando por plataforma si se indica
func (r *AccountRepository) GetAll(ctx context.Context, platform string) ([]*domain.Account, error) {
	var rows []accountRow

	query := `SELECT * FROM accounts ORDER BY platform, label`
	args := []interface{}{}
	if platform != "" {
		query = `SELECT * FROM accounts WHERE platform = ? ORDER BY label`
		args = append(args, platform)
	}

	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("get all accounts: %w", err)
	}

	return accountRowsToDomain(rows), nil
}

// ListPlatforms lista todas las plataformas con cuentas
func (r *AccountRepository) ListPlatforms(ctx context.Context) ([]string, error) {
	var platforms []string

	query := `SELECT DISTINCT platform FROM accounts ORDER BY platform`
	if err := r.db.SelectContext(ctx, &platforms, query); err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}

	return platforms, nil
}

// UpdateStatus cambia el estado de verificación sin tocar la fecha
func (r *AccountRepository) UpdateStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE accounts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("account %d", id))
}

// MarkVerified marca la cuenta como válida en el instante indicado
func (r *AccountRepository) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE accounts SET status = ?, last_verified_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, string(domain.AccountValid), at.Unix(), id)
	if err != nil {
		return fmt.Errorf("mark account verified: %w", err)
	}
	return expectAffected(result, fmt.Sprintf("account %d", id))
}

// Helper: conversión row → domain
func accountRowToDomain(row *accountRow) *domain.Account {
	acc := &domain.Account{
		ID:            row.ID,
		Platform:      row.Platform,
		Label:         row.Label,
		CredentialRef: row.CredentialRef,
		Status:        domain.AccountStatus(row.Status),
		CreatedAt:     time.Unix(row.CreatedAt, 0),
	}

	if row.LastVerifiedAt.Valid {
		t := time.Unix(row.LastVerifiedAt.Int64, 0)
		acc.LastVerifiedAt = &t
	}

	return acc
}

// Helper: conversión múltiples rows → domain
func accountRowsToDomain(rows []accountRow) []*domain.Account {
	accounts := make([]*domain.Account, 0, len(rows))

	for i := range rows {
		accounts = append(accounts, accountRowToDomain(&rows[i]))
	}

	return accounts
}

// expectAffected traduce cero filas afectadas a repository.ErrNotFound
func expectAffected(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
	}
	return nil
}
