package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/google/uuid"
)

type VariantRepository struct {
	db Querier
}

func NewVariantRepository(db Querier) *VariantRepository {
	return &VariantRepository{db: db}
}

const variantColumns = `id, campaign_id, label, subject, content, from_name,
	send_time_offset_minutes, split_percentage, status,
	sent_count, opened_count, clicked_count, conversion_count, bounce_count, unsubscribe_count,
	revenue, open_rate, click_rate, conversion_rate, created_at, updated_at`

func scanVariant(row rowScanner) (*models.Variant, error) {
	v := &models.Variant{}
	err := row.Scan(
		&v.ID, &v.CampaignID, &v.Label, &v.Subject, &v.Content, &v.FromName,
		&v.SendTimeOffsetMinutes, &v.SplitPercentage, &v.Status,
		&v.SentCount, &v.OpenedCount, &v.ClickedCount, &v.ConversionCount, &v.BounceCount, &v.UnsubscribeCount,
		&v.Revenue, &v.OpenRate, &v.ClickRate, &v.ConversionRate, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Create adds a variant to a campaign
func (r *VariantRepository) Create(ctx context.Context, v *models.Variant) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	if v.Status == "" {
		v.Status = models.VariantStatusDraft
	}
	v.RecomputeRates()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ab_test_variants (`+variantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.CampaignID, v.Label, v.Subject, v.Content, v.FromName,
		v.SendTimeOffsetMinutes, v.SplitPercentage, v.Status,
		v.SentCount, v.OpenedCount, v.ClickedCount, v.ConversionCount, v.BounceCount, v.UnsubscribeCount,
		v.Revenue, v.OpenRate, v.ClickRate, v.ConversionRate, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create variant: %w", err)
	}
	return nil
}

// GetByID returns a variant by ID, or nil if it does not exist
func (r *VariantRepository) GetByID(ctx context.Context, id string) (*models.Variant, error) {
	v, err := scanVariant(r.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM ab_test_variants WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListByCampaign returns a campaign's variants ordered by label
func (r *VariantRepository) ListByCampaign(ctx context.Context, campaignID string) ([]models.Variant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+variantColumns+` FROM ab_test_variants
		WHERE campaign_id = ?
		ORDER BY label`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := []models.Variant{}
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

// Update writes the editable content fields and status of a variant.
// Counters are owned by IncrementCounters.
func (r *VariantRepository) Update(ctx context.Context, v *models.Variant) error {
	v.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE ab_test_variants SET
			subject = ?, content = ?, from_name = ?, send_time_offset_minutes = ?,
			split_percentage = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		v.Subject, v.Content, v.FromName, v.SendTimeOffsetMinutes,
		v.SplitPercentage, v.Status, v.UpdatedAt, v.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update variant: %w", err)
	}
	return nil
}

// SetStatusByCampaign sets the status of every variant of a campaign
func (r *VariantRepository) SetStatusByCampaign(ctx context.Context, campaignID string, status models.VariantStatus) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE ab_test_variants SET status = ?, updated_at = ? WHERE campaign_id = ?",
		status, time.Now(), campaignID)
	if err != nil {
		return fmt.Errorf("failed to update variant status: %w", err)
	}
	return nil
}

// DeleteByCampaign removes all variants of a campaign
func (r *VariantRepository) DeleteByCampaign(ctx context.Context, campaignID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM ab_test_variants WHERE campaign_id = ?", campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete variants: %w", err)
	}
	return nil
}

// IncrementCounters applies a tracking delta and stores the recomputed rates.
// Run it inside Store.WithTx so the read and write see the same row.
func (r *VariantRepository) IncrementCounters(ctx context.Context, variantID string, delta models.CounterDelta) (*models.Variant, error) {
	v, err := r.GetByID(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	delta.Apply(v)
	v.UpdatedAt = time.Now()

	_, err = r.db.ExecContext(ctx, `
		UPDATE ab_test_variants SET
			sent_count = ?, opened_count = ?, clicked_count = ?, conversion_count = ?,
			bounce_count = ?, unsubscribe_count = ?, revenue = ?,
			open_rate = ?, click_rate = ?, conversion_rate = ?, updated_at = ?
		WHERE id = ?`,
		v.SentCount, v.OpenedCount, v.ClickedCount, v.ConversionCount,
		v.BounceCount, v.UnsubscribeCount, v.Revenue,
		v.OpenRate, v.ClickRate, v.ConversionRate, v.UpdatedAt, v.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update counters: %w", err)
	}
	return v, nil
}
