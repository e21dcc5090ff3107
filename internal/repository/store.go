package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrVersionConflict is returned when a campaign row changed since it was read
var ErrVersionConflict = errors.New("campaign was modified concurrently")

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories over one connection or transaction
type Store struct {
	db *sql.DB

	Campaigns   *CampaignRepository
	Variants    *VariantRepository
	Assignments *AssignmentRepository
	Recipients  *RecipientRepository
}

func NewStore(db *sql.DB) *Store {
	s := newStore(db)
	s.db = db
	return s
}

func newStore(q Querier) *Store {
	return &Store{
		Campaigns:   NewCampaignRepository(q),
		Variants:    NewVariantRepository(q),
		Assignments: NewAssignmentRepository(q),
		Recipients:  NewRecipientRepository(q),
	}
}

// WithTx runs fn with repositories bound to a single transaction.
// The transaction commits if fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return errors.New("nested transactions are not supported")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(newStore(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
