package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/sendry-ab/internal/models"
)

// AssignmentRepository records which variant each recipient of a test received
type AssignmentRepository struct {
	db Querier
}

func NewAssignmentRepository(db Querier) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// CreateBatch stores the assignment of recipients to a variant
func (r *AssignmentRepository) CreateBatch(ctx context.Context, campaignID, variantID string, recipients []models.Recipient) error {
	now := time.Now()
	for _, rec := range recipients {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO ab_test_assignments (campaign_id, variant_id, recipient_id, email, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			campaignID, variantID, rec.ID, rec.Email, now,
		)
		if err != nil {
			return fmt.Errorf("failed to assign recipient %s: %w", rec.ID, err)
		}
	}
	return nil
}

// CountByVariant returns the number of assigned recipients per variant ID
func (r *AssignmentRepository) CountByVariant(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id, COUNT(*) FROM ab_test_assignments
		WHERE campaign_id = ?
		GROUP BY variant_id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
