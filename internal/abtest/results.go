package abtest

import (
	"context"
	"time"

	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/foxzi/sendry-ab/internal/repository"
	"github.com/foxzi/sendry-ab/internal/stats"
	"github.com/shopspring/decimal"
)

// LiftForSampleSize is the relative lift the required sample size is sized for
const LiftForSampleSize = 0.10

// PowerForSampleSize is the statistical power the required sample size is sized for
const PowerForSampleSize = 80

// VariantResult is the evaluation of one variant. Rates are percentages.
type VariantResult struct {
	VariantID       string               `json:"variant_id"`
	Label           string               `json:"label"`
	Status          models.VariantStatus `json:"status"`
	SplitPercentage float64              `json:"split_percentage"`

	SentCount        int             `json:"sent_count"`
	OpenedCount      int             `json:"opened_count"`
	ClickedCount     int             `json:"clicked_count"`
	ConversionCount  int             `json:"conversion_count"`
	BounceCount      int             `json:"bounce_count"`
	UnsubscribeCount int             `json:"unsubscribe_count"`
	Revenue          decimal.Decimal `json:"revenue"`

	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	ConversionRate float64 `json:"conversion_rate"`

	// Interval is the Wilson interval of the decision metric
	Interval stats.Interval `json:"confidence_interval"`
	// EffectSize is Cohen's h against the best performing variant
	EffectSize float64 `json:"effect_size"`
}

// Results is the statistical evaluation of a test
type Results struct {
	CampaignID        string                `json:"campaign_id"`
	TestType          models.TestType       `json:"test_type"`
	WinnerCriteria    models.WinnerCriteria `json:"winner_criteria"`
	Metric            string                `json:"metric"`
	TestStatus        models.TestStatus     `json:"test_status"`
	ConfidenceLevel   float64               `json:"confidence_level"`
	MinSampleSize     int                   `json:"min_sample_size"`
	TestDurationHours int                   `json:"test_duration_hours"`
	SentAt            *time.Time            `json:"sent_at,omitempty"`
	SelectedWinnerID  string                `json:"selected_winner_id,omitempty"`

	Variants   []VariantResult `json:"variants"`
	Statistics stats.Result    `json:"statistics"`

	HasMinimumSample bool `json:"has_minimum_sample"`
	DurationElapsed  bool `json:"duration_elapsed"`
	CanDeclareWinner bool `json:"can_declare_winner"`

	// WinnerID resolves Statistics.Winner to a variant id
	WinnerID string `json:"winner_id,omitempty"`
	// RequiredSampleSize is the per-variant sample needed to detect a
	// LiftForSampleSize lift over the pooled rate. Informational only.
	RequiredSampleSize int `json:"required_sample_size"`
}

// GetResults evaluates a test from the current variant counters
func (s *Service) GetResults(ctx context.Context, campaignID string) (*Results, error) {
	res, err := s.evaluate(ctx, s.store, campaignID)
	if err != nil {
		return nil, s.opError("get_results", err)
	}
	return res, nil
}

func (s *Service) evaluate(ctx context.Context, store *repository.Store, campaignID string) (*Results, error) {
	c, variants, err := s.loadTest(ctx, store, campaignID)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, notFound("campaign %s has no variants", campaignID)
	}
	return s.evaluateTest(c, variants)
}

// evaluateTest runs the statistics engine over freshly loaded variants
func (s *Service) evaluateTest(c *models.Campaign, variants []models.Variant) (*Results, error) {
	metric, err := metricFor(c.WinnerCriteria)
	if err != nil {
		return nil, err
	}

	arms := make([]stats.Arm, 0, len(variants))
	for i := range variants {
		variants[i].RecomputeRates()
		arms = append(arms, armOf(variants[i]))
	}

	chi := stats.ChiSquareWith(arms, metric, s.pvalue)

	best := arms[0]
	for _, a := range arms[1:] {
		if a.Rate(metric) > best.Rate(metric) {
			best = a
		}
	}

	res := &Results{
		CampaignID:        c.ID,
		TestType:          c.TestType,
		WinnerCriteria:    c.WinnerCriteria,
		Metric:            metric.String(),
		TestStatus:        c.TestStatus,
		ConfidenceLevel:   c.ConfidenceLevel,
		MinSampleSize:     c.MinSampleSize,
		TestDurationHours: c.TestDurationHours,
		SentAt:            c.SentAt,
		SelectedWinnerID:  c.SelectedWinnerID,
		Variants:          make([]VariantResult, 0, len(variants)),
		Statistics:        chi,
		HasMinimumSample:  stats.HasMinimumSampleSize(arms, c.MinSampleSize),
		RequiredSampleSize: stats.RequiredSampleSize(
			chi.PooledRate, LiftForSampleSize, c.ConfidenceLevel, PowerForSampleSize),
	}
	if c.SentAt != nil {
		res.DurationElapsed = stats.HasTestDurationElapsed(*c.SentAt, c.TestDurationHours, s.now())
	}
	res.CanDeclareWinner = res.HasMinimumSample && chi.Significant && res.DurationElapsed

	for i, v := range variants {
		if v.Label == chi.Winner {
			res.WinnerID = v.ID
		}
		res.Variants = append(res.Variants, VariantResult{
			VariantID:        v.ID,
			Label:            v.Label,
			Status:           v.Status,
			SplitPercentage:  v.SplitPercentage,
			SentCount:        v.SentCount,
			OpenedCount:      v.OpenedCount,
			ClickedCount:     v.ClickedCount,
			ConversionCount:  v.ConversionCount,
			BounceCount:      v.BounceCount,
			UnsubscribeCount: v.UnsubscribeCount,
			Revenue:          v.Revenue,
			OpenRate:         v.OpenRate * 100,
			ClickRate:        v.ClickRate * 100,
			ConversionRate:   v.ConversionRate * 100,
			Interval:         stats.ConfidenceInterval(arms[i], metric, c.ConfidenceLevel),
			EffectSize:       stats.EffectSize(arms[i], best, metric),
		})
	}

	return res, nil
}

// metricFor maps a winner criterion onto the funnel metric it is decided on.
// Revenue is decided on conversions.
func metricFor(c models.WinnerCriteria) (stats.Metric, error) {
	switch c {
	case models.CriteriaOpenRate:
		return stats.MetricOpen, nil
	case models.CriteriaClickRate:
		return stats.MetricClick, nil
	case models.CriteriaConversionRate, models.CriteriaRevenue:
		return stats.MetricConversion, nil
	default:
		return 0, invalid("unknown winner criteria %q", c)
	}
}

func armOf(v models.Variant) stats.Arm {
	return stats.Arm{
		Label:       v.Label,
		Sent:        v.SentCount,
		Opened:      v.OpenedCount,
		Clicked:     v.ClickedCount,
		Conversions: v.ConversionCount,
	}
}

// VariantSummary is the reporting view of one variant. Rates are percentages.
type VariantSummary struct {
	VariantID        string               `json:"variant_id"`
	Label            string               `json:"label"`
	Status           models.VariantStatus `json:"status"`
	SplitPercentage  float64              `json:"split_percentage"`
	SentCount        int                  `json:"sent_count"`
	OpenedCount      int                  `json:"opened_count"`
	ClickedCount     int                  `json:"clicked_count"`
	ConversionCount  int                  `json:"conversion_count"`
	BounceCount      int                  `json:"bounce_count"`
	UnsubscribeCount int                  `json:"unsubscribe_count"`
	OpenRate         float64              `json:"open_rate"`
	ClickRate        float64              `json:"click_rate"`
	ConversionRate   float64              `json:"conversion_rate"`
	Revenue          decimal.Decimal      `json:"revenue"`
	RevenuePerSent   decimal.Decimal      `json:"revenue_per_sent"`
}

// SummaryTotals sums the counters of all variants
type SummaryTotals struct {
	Sent         int             `json:"sent"`
	Opened       int             `json:"opened"`
	Clicked      int             `json:"clicked"`
	Conversions  int             `json:"conversions"`
	Bounces      int             `json:"bounces"`
	Unsubscribes int             `json:"unsubscribes"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// Summary is the reporting view of a test
type Summary struct {
	CampaignID          string                `json:"campaign_id"`
	Name                string                `json:"name"`
	TestType            models.TestType       `json:"test_type"`
	WinnerCriteria      models.WinnerCriteria `json:"winner_criteria"`
	TestStatus          models.TestStatus     `json:"test_status"`
	AutoSelectWinner    bool                  `json:"auto_select_winner"`
	TestDurationHours   int                   `json:"test_duration_hours"`
	ConfidenceLevel     float64               `json:"confidence_level"`
	MinSampleSize       int                   `json:"min_sample_size"`
	SentAt              *time.Time            `json:"sent_at,omitempty"`
	ElapsedHours        float64               `json:"elapsed_hours"`
	SelectedWinnerID    string                `json:"selected_winner_id,omitempty"`
	SelectedWinnerLabel string                `json:"selected_winner_label,omitempty"`
	WinnerSelectionDate *time.Time            `json:"winner_selection_date,omitempty"`
	Totals              SummaryTotals         `json:"totals"`
	Variants            []VariantSummary      `json:"variants"`
}

// GetSummary returns the configuration and counters of a test
func (s *Service) GetSummary(ctx context.Context, campaignID string) (*Summary, error) {
	c, variants, err := s.loadTest(ctx, s.store, campaignID)
	if err != nil {
		return nil, s.opError("get_summary", err)
	}

	sum := &Summary{
		CampaignID:          c.ID,
		Name:                c.Name,
		TestType:            c.TestType,
		WinnerCriteria:      c.WinnerCriteria,
		TestStatus:          c.TestStatus,
		AutoSelectWinner:    c.AutoSelectWinner,
		TestDurationHours:   c.TestDurationHours,
		ConfidenceLevel:     c.ConfidenceLevel,
		MinSampleSize:       c.MinSampleSize,
		SentAt:              c.SentAt,
		SelectedWinnerID:    c.SelectedWinnerID,
		WinnerSelectionDate: c.WinnerSelectionDate,
		Variants:            make([]VariantSummary, 0, len(variants)),
	}
	if c.SentAt != nil {
		sum.ElapsedHours = s.now().Sub(*c.SentAt).Hours()
	}

	for _, v := range variants {
		v.RecomputeRates()
		if v.ID == c.SelectedWinnerID {
			sum.SelectedWinnerLabel = v.Label
		}

		perSent := decimal.Zero
		if v.SentCount > 0 {
			perSent = v.Revenue.Div(decimal.NewFromInt(int64(v.SentCount))).Round(4)
		}
		sum.Variants = append(sum.Variants, VariantSummary{
			VariantID:        v.ID,
			Label:            v.Label,
			Status:           v.Status,
			SplitPercentage:  v.SplitPercentage,
			SentCount:        v.SentCount,
			OpenedCount:      v.OpenedCount,
			ClickedCount:     v.ClickedCount,
			ConversionCount:  v.ConversionCount,
			BounceCount:      v.BounceCount,
			UnsubscribeCount: v.UnsubscribeCount,
			OpenRate:         v.OpenRate * 100,
			ClickRate:        v.ClickRate * 100,
			ConversionRate:   v.ConversionRate * 100,
			Revenue:          v.Revenue,
			RevenuePerSent:   perSent,
		})

		sum.Totals.Sent += v.SentCount
		sum.Totals.Opened += v.OpenedCount
		sum.Totals.Clicked += v.ClickedCount
		sum.Totals.Conversions += v.ConversionCount
		sum.Totals.Bounces += v.BounceCount
		sum.Totals.Unsubscribes += v.UnsubscribeCount
		sum.Totals.Revenue = sum.Totals.Revenue.Add(v.Revenue)
	}

	return sum, nil
}
