package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TestType is the dimension a campaign test varies
type TestType string

const (
	TestTypeSubject  TestType = "subject"
	TestTypeContent  TestType = "content"
	TestTypeSendTime TestType = "send_time"
	TestTypeFromName TestType = "from_name"
	TestTypeCombined TestType = "combined"
)

// WinnerCriteria is the metric a test is decided on
type WinnerCriteria string

const (
	CriteriaOpenRate       WinnerCriteria = "open_rate"
	CriteriaClickRate      WinnerCriteria = "click_rate"
	CriteriaConversionRate WinnerCriteria = "conversion_rate"
	CriteriaRevenue        WinnerCriteria = "revenue"
)

// TestStatus is the campaign-level test lifecycle state
type TestStatus string

const (
	TestStatusNone      TestStatus = ""
	TestStatusDraft     TestStatus = "draft"
	TestStatusTesting   TestStatus = "testing"
	TestStatusCompleted TestStatus = "completed"
)

// VariantStatus is the variant-level lifecycle state
type VariantStatus string

const (
	VariantStatusDraft   VariantStatus = "draft"
	VariantStatusTesting VariantStatus = "testing"
	VariantStatusWinner  VariantStatus = "winner"
	VariantStatusLoser   VariantStatus = "loser"
)

// Locked reports whether the variant can no longer be edited
func (s VariantStatus) Locked() bool {
	return s == VariantStatusWinner || s == VariantStatusLoser
}

// Labels lists the allowed variant labels in order
var Labels = []string{"A", "B", "C", "D", "E"}

// Pre-test defaults restored when a draft test is deleted
const (
	DefaultTestDurationHours = 24
	DefaultConfidenceLevel   = 95.0
	DefaultMinSampleSize     = 100
)

// Campaign represents an email campaign and its A/B test configuration
type Campaign struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	Content  string `json:"content"`
	FromName string `json:"from_name"`

	IsAbTest            bool           `json:"is_ab_test"`
	TestType            TestType       `json:"test_type,omitempty"`
	WinnerCriteria      WinnerCriteria `json:"winner_criteria,omitempty"`
	AutoSelectWinner    bool           `json:"auto_select_winner"`
	TestDurationHours   int            `json:"test_duration_hours"`
	ConfidenceLevel     float64        `json:"confidence_level"`
	MinSampleSize       int            `json:"min_sample_size"`
	TestStatus          TestStatus     `json:"test_status,omitempty"`
	SelectedWinnerID    string         `json:"selected_winner_id,omitempty"`
	WinnerSelectionDate *time.Time     `json:"winner_selection_date,omitempty"`
	SentAt              *time.Time     `json:"sent_at,omitempty"`

	// Version is incremented on every test state write
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResetTest restores the test fields to their pre-test defaults
func (c *Campaign) ResetTest() {
	c.IsAbTest = false
	c.TestType = ""
	c.WinnerCriteria = ""
	c.AutoSelectWinner = false
	c.TestDurationHours = DefaultTestDurationHours
	c.ConfidenceLevel = DefaultConfidenceLevel
	c.MinSampleSize = DefaultMinSampleSize
	c.TestStatus = TestStatusNone
	c.SelectedWinnerID = ""
	c.WinnerSelectionDate = nil
	c.SentAt = nil
}

// Variant is one competing version of a campaign
type Variant struct {
	ID                    string        `json:"id"`
	CampaignID            string        `json:"campaign_id"`
	Label                 string        `json:"label"`
	Subject               string        `json:"subject"`
	Content               string        `json:"content"`
	FromName              string        `json:"from_name"`
	SendTimeOffsetMinutes int           `json:"send_time_offset_minutes"`
	SplitPercentage       float64       `json:"split_percentage"`
	Status                VariantStatus `json:"status"`

	SentCount        int             `json:"sent_count"`
	OpenedCount      int             `json:"opened_count"`
	ClickedCount     int             `json:"clicked_count"`
	ConversionCount  int             `json:"conversion_count"`
	BounceCount      int             `json:"bounce_count"`
	UnsubscribeCount int             `json:"unsubscribe_count"`
	Revenue          decimal.Decimal `json:"revenue"`

	// Cascading funnel rates, fractions in [0,1]
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	ConversionRate float64 `json:"conversion_rate"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecomputeRates refreshes the derived funnel rates from the counters.
// Each rate is measured against the previous funnel stage.
func (v *Variant) RecomputeRates() {
	v.OpenRate = ratio(v.OpenedCount, v.SentCount)
	v.ClickRate = ratio(v.ClickedCount, v.OpenedCount)
	v.ConversionRate = ratio(v.ConversionCount, v.ClickedCount)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// CounterDelta is an increment reported by the tracking pipeline
type CounterDelta struct {
	Sent        int             `json:"sent"`
	Opened      int             `json:"opened"`
	Clicked     int             `json:"clicked"`
	Conversions int             `json:"conversions"`
	Bounces     int             `json:"bounces"`
	Unsubscribe int             `json:"unsubscribes"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// Apply adds the delta to the variant counters and recomputes rates
func (d CounterDelta) Apply(v *Variant) {
	v.SentCount += d.Sent
	v.OpenedCount += d.Opened
	v.ClickedCount += d.Clicked
	v.ConversionCount += d.Conversions
	v.BounceCount += d.Bounces
	v.UnsubscribeCount += d.Unsubscribe
	v.Revenue = v.Revenue.Add(d.Revenue)
	v.RecomputeRates()
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	TestStatus TestStatus
	OnlyTests  bool
	Limit      int
	Offset     int
}
