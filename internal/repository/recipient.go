package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/google/uuid"
)

type RecipientRepository struct {
	db Querier
}

func NewRecipientRepository(db Querier) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// CreateList creates a new recipient list
func (r *RecipientRepository) CreateList(ctx context.Context, list *models.RecipientList) error {
	if list.ID == "" {
		list.ID = uuid.New().String()
	}
	list.CreatedAt = time.Now()
	list.UpdatedAt = list.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recipient_lists (id, name, description, total_count, active_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		list.ID, list.Name, list.Description, list.TotalCount, list.ActiveCount, list.CreatedAt, list.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient list: %w", err)
	}
	return nil
}

// GetListByID returns a recipient list by ID
func (r *RecipientRepository) GetListByID(ctx context.Context, id string) (*models.RecipientList, error) {
	list := &models.RecipientList{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, total_count, active_count, created_at, updated_at
		FROM recipient_lists WHERE id = ?`, id,
	).Scan(&list.ID, &list.Name, &list.Description, &list.TotalCount, &list.ActiveCount, &list.CreatedAt, &list.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateListCounts updates the total and active counts for a list
func (r *RecipientRepository) UpdateListCounts(ctx context.Context, listID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recipient_lists SET
			total_count = (SELECT COUNT(*) FROM recipients WHERE list_id = ?),
			active_count = (SELECT COUNT(*) FROM recipients WHERE list_id = ? AND status = 'active'),
			updated_at = ?
		WHERE id = ?`,
		listID, listID, time.Now(), listID,
	)
	return err
}

// AddRecipient adds a single recipient to a list, updating name and status on conflict
func (r *RecipientRepository) AddRecipient(ctx context.Context, recipient *models.Recipient) error {
	if recipient.ID == "" {
		recipient.ID = uuid.New().String()
	}
	recipient.CreatedAt = time.Now()
	if recipient.Status == "" {
		recipient.Status = models.RecipientActive
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recipients (id, list_id, email, name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(list_id, email) DO UPDATE SET
			name = excluded.name,
			status = excluded.status`,
		recipient.ID, recipient.ListID, recipient.Email, recipient.Name, recipient.Status, recipient.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add recipient: %w", err)
	}

	return r.UpdateListCounts(ctx, recipient.ListID)
}

// GetRecipient returns a recipient by ID
func (r *RecipientRepository) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	rec := &models.Recipient{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, list_id, email, name, status, created_at
		FROM recipients WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ListID, &rec.Email, &rec.Name, &rec.Status, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Resolve returns the eligible recipients for a selector: the explicit ids if
// any, else members of the given lists, else every active recipient. Only
// active recipients qualify. The result is ordered by creation and
// deduplicated by case-insensitive email.
func (r *RecipientRepository) Resolve(ctx context.Context, sel models.RecipientSelector) ([]models.Recipient, error) {
	query := `SELECT id, list_id, email, name, status, created_at FROM recipients WHERE status = ?`
	args := []any{models.RecipientActive}

	// Id sets travel as one JSON array so large selections stay within
	// SQLite's host parameter limit
	var column string
	var ids []string
	switch {
	case len(sel.RecipientIDs) > 0:
		column, ids = "id", sel.RecipientIDs
	case len(sel.ListIDs) > 0:
		column, ids = "list_id", sel.ListIDs
	}
	if column != "" {
		set, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("failed to encode selector: %w", err)
		}
		query += " AND " + column + " IN (SELECT value FROM json_each(?))"
		args = append(args, string(set))
	}

	query += " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	recipients := []models.Recipient{}
	for rows.Next() {
		var rec models.Recipient
		if err := rows.Scan(&rec.ID, &rec.ListID, &rec.Email, &rec.Name, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		key := strings.ToLower(strings.TrimSpace(rec.Email))
		if seen[key] {
			continue
		}
		seen[key] = true
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}
