package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/google/uuid"
)

type CampaignRepository struct {
	db Querier
}

func NewCampaignRepository(db Querier) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, subject, content, from_name,
	is_ab_test, test_type, winner_criteria, auto_select_winner, test_duration_hours,
	confidence_level, min_sample_size, test_status, selected_winner_id,
	winner_selection_date, sent_at, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var selectedAt, sentAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.Content, &c.FromName,
		&c.IsAbTest, &c.TestType, &c.WinnerCriteria, &c.AutoSelectWinner, &c.TestDurationHours,
		&c.ConfidenceLevel, &c.MinSampleSize, &c.TestStatus, &c.SelectedWinnerID,
		&selectedAt, &sentAt, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if selectedAt.Valid {
		t := selectedAt.Time
		c.WinnerSelectionDate = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		c.SentAt = &t
	}
	return c, nil
}

// Create creates a new campaign with pre-test defaults
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	if c.TestDurationHours == 0 {
		c.TestDurationHours = models.DefaultTestDurationHours
	}
	if c.ConfidenceLevel == 0 {
		c.ConfidenceLevel = models.DefaultConfidenceLevel
	}
	if c.MinSampleSize == 0 {
		c.MinSampleSize = models.DefaultMinSampleSize
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Subject, c.Content, c.FromName,
		c.IsAbTest, c.TestType, c.WinnerCriteria, c.AutoSelectWinner, c.TestDurationHours,
		c.ConfidenceLevel, c.MinSampleSize, c.TestStatus, c.SelectedWinnerID,
		c.WinnerSelectionDate, c.SentAt, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil if it does not exist
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}

	if filter.OnlyTests {
		query += " AND is_ab_test = 1"
	}
	if filter.TestStatus != models.TestStatusNone {
		query += " AND test_status = ?"
		args = append(args, filter.TestStatus)
	}

	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	return r.query(ctx, query, args...)
}

// ListAutoWinnerCandidates returns in-flight tests that opted into automatic selection
func (r *CampaignRepository) ListAutoWinnerCandidates(ctx context.Context) ([]models.Campaign, error) {
	return r.query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE is_ab_test = 1 AND auto_select_winner = 1 AND test_status = ?
		ORDER BY sent_at`, models.TestStatusTesting)
}

func (r *CampaignRepository) query(ctx context.Context, query string, args ...any) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// Update writes every mutable campaign field if the stored version still
// matches c.Version, then bumps the version. ErrVersionConflict otherwise.
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			name = ?, subject = ?, content = ?, from_name = ?,
			is_ab_test = ?, test_type = ?, winner_criteria = ?, auto_select_winner = ?,
			test_duration_hours = ?, confidence_level = ?, min_sample_size = ?,
			test_status = ?, selected_winner_id = ?, winner_selection_date = ?, sent_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.Name, c.Subject, c.Content, c.FromName,
		c.IsAbTest, c.TestType, c.WinnerCriteria, c.AutoSelectWinner,
		c.TestDurationHours, c.ConfidenceLevel, c.MinSampleSize,
		c.TestStatus, c.SelectedWinnerID, c.WinnerSelectionDate, c.SentAt,
		now, c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}

	c.Version++
	c.UpdatedAt = now
	return nil
}

// Delete deletes a campaign and, by cascade, its variants and assignments
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ?", id)
	return err
}
