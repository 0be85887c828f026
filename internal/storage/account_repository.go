package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/models"
	"github.com/jackc/pgx/v5"
)

// AccountStore persists the account directory
type AccountStore interface {
	List(ctx context.Context) ([]*models.Account, error)
	Get(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
}

// AccountRepository handles account directory operations in Postgres
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

// List returns every account in creation order
func (r *AccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT id, name, created_at, updated_at
		FROM accounts
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a := &models.Account{}
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Get retrieves one account
func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT id, name, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	a := &models.Account{}
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("account", id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query, account.ID, account.Name).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewConflictError(fmt.Sprintf("account already exists: %s", account.ID))
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// Rename updates the display name
func (r *AccountRepository) Rename(ctx context.Context, id, name string) error {
	query := `
		UPDATE accounts
		SET name = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, name)
	if err != nil {
		return fmt.Errorf("failed to rename account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("account", id)
	}
	return nil
}

// Delete removes an account
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("account", id)
	}
	return nil
}

// MemoryAccountStore keeps the account directory in process
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	clock    func() time.Time
}

// NewMemoryAccountStore creates an empty store
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*models.Account), clock: time.Now}
}

func (s *MemoryAccountStore) List(_ context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryAccountStore) Get(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("account", id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAccountStore) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("account already exists: %s", account.ID))
	}
	now := s.clock()
	account.CreatedAt, account.UpdatedAt = now, now
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *MemoryAccountStore) Rename(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return apperrors.NewNotFoundError("account", id)
	}
	a.Name = name
	a.UpdatedAt = s.clock()
	return nil
}

func (s *MemoryAccountStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return apperrors.NewNotFoundError("account", id)
	}
	delete(s.accounts, id)
	return nil
}
