package abtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/foxzi/sendry-ab/internal/stats"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// trackEndToEnd applies the reference counters: A 60/30/10, B 40/12/2
func trackEndToEnd(t *testing.T, e *testEnv, test *Test) (a, b models.Variant) {
	t.Helper()
	a = variantByLabel(t, test.Variants, "A")
	b = variantByLabel(t, test.Variants, "B")
	e.track(t, a.ID, models.CounterDelta{Sent: 60, Opened: 30, Clicked: 10})
	e.track(t, b.ID, models.CounterDelta{Sent: 40, Opened: 12, Clicked: 2})
	return a, b
}

func TestGetResultsEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	test := e.sentTest(t, nil)
	a, _ := trackEndToEnd(t, e, test)

	res, err := e.svc.GetResults(context.Background(), test.Campaign.ID)
	if err != nil {
		t.Fatalf("GetResults() error = %v", err)
	}

	if res.Metric != stats.MetricOpen.String() {
		t.Errorf("Metric = %s, want %s", res.Metric, stats.MetricOpen)
	}
	if !almostEqual(res.Statistics.PooledRate, 0.42, 1e-12) {
		t.Errorf("PooledRate = %v, want 0.42", res.Statistics.PooledRate)
	}
	if !almostEqual(res.Statistics.Details[0].ExpectedSuccess, 25.2, 1e-9) ||
		!almostEqual(res.Statistics.Details[1].ExpectedSuccess, 16.8, 1e-9) {
		t.Errorf("expected successes = %+v", res.Statistics.Details)
	}
	if !almostEqual(res.Statistics.ChiSquare, 3.940887, 1e-5) {
		t.Errorf("ChiSquare = %v, want ~3.940887", res.Statistics.ChiSquare)
	}
	if res.Statistics.PValue != 0.025 || !res.Statistics.Significant {
		t.Errorf("PValue = %v significant = %v, want 0.025 significant", res.Statistics.PValue, res.Statistics.Significant)
	}
	if res.Statistics.Winner != "A" || res.WinnerID != a.ID {
		t.Errorf("winner = %s (%s), want A (%s)", res.Statistics.Winner, res.WinnerID, a.ID)
	}

	if res.Variants[0].OpenRate != 50 || res.Variants[1].OpenRate != 30 {
		t.Errorf("open rates = %v/%v, want 50/30", res.Variants[0].OpenRate, res.Variants[1].OpenRate)
	}
	if !almostEqual(res.Variants[0].ClickRate, 100.0/3, 1e-9) {
		t.Errorf("click rate A = %v, want 33.33", res.Variants[0].ClickRate)
	}

	ia := res.Variants[0].Interval
	if ia.SampleSize != 60 || ia.Lower >= 50 || ia.Upper <= 50 {
		t.Errorf("interval A = %+v", ia)
	}
	if res.Variants[0].EffectSize != 0 || res.Variants[1].EffectSize <= 0 {
		t.Errorf("effect sizes = %v/%v", res.Variants[0].EffectSize, res.Variants[1].EffectSize)
	}
	if res.RequiredSampleSize <= 0 {
		t.Errorf("RequiredSampleSize = %d, want > 0", res.RequiredSampleSize)
	}

	// 40 sent on B is below the default minimum of 100 and no time has passed
	if res.HasMinimumSample || res.DurationElapsed || res.CanDeclareWinner {
		t.Errorf("readiness = %v/%v/%v, want all false", res.HasMinimumSample, res.DurationElapsed, res.CanDeclareWinner)
	}
}

func TestGetResultsExactPValue(t *testing.T) {
	e := newTestEnvWith(t, nil, stats.ExactPValue)
	test := e.sentTest(t, nil)
	trackEndToEnd(t, e, test)

	res, err := e.svc.GetResults(context.Background(), test.Campaign.ID)
	if err != nil {
		t.Fatalf("GetResults() error = %v", err)
	}
	if !almostEqual(res.Statistics.PValue, 0.04712, 1e-4) {
		t.Errorf("PValue = %v, want ~0.0471", res.Statistics.PValue)
	}
	if !res.Statistics.Significant {
		t.Error("expected significant result")
	}
}

func TestGetResultsCanDeclareWinner(t *testing.T) {
	e := newTestEnv(t)
	test := e.sentTest(t, nil)
	a := variantByLabel(t, test.Variants, "A")
	b := variantByLabel(t, test.Variants, "B")
	e.track(t, a.ID, models.CounterDelta{Sent: 200, Opened: 100})
	e.track(t, b.ID, models.CounterDelta{Sent: 200, Opened: 60})

	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"right after send", 0, false},
		{"before duration", 23 * time.Hour, false},
		{"duration elapsed", time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.clock.Advance(tt.advance)

			res, err := e.svc.GetResults(context.Background(), test.Campaign.ID)
			if err != nil {
				t.Fatalf("GetResults() error = %v", err)
			}
			if !res.HasMinimumSample || !res.Statistics.Significant {
				t.Fatalf("sample = %v significant = %v, want both", res.HasMinimumSample, res.Statistics.Significant)
			}
			if res.CanDeclareWinner != tt.want {
				t.Errorf("CanDeclareWinner = %v, want %v", res.CanDeclareWinner, tt.want)
			}
		})
	}
}

func TestGetResultsBeforeSend(t *testing.T) {
	e := newTestEnv(t)
	c := e.createCampaign(t)
	e.createTest(t, twoVariantRequest(c.ID, 50, 50))
	e.clock.Advance(48 * time.Hour)

	res, err := e.svc.GetResults(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetResults() error = %v", err)
	}
	if res.SentAt != nil || res.DurationElapsed || res.CanDeclareWinner {
		t.Errorf("unsent test results = %+v", res)
	}
	if res.Statistics.Significant || res.Statistics.Winner != "" {
		t.Errorf("empty counters should not produce a winner: %+v", res.Statistics)
	}
}

func TestGetResultsRejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.GetResults(ctx, "missing")
	assertKind(t, err, KindNotFound)

	plain := e.createCampaign(t)
	_, err = e.svc.GetResults(ctx, plain.ID)
	if !errors.Is(err, ErrNotATest) {
		t.Errorf("GetResults() error = %v, want ErrNotATest", err)
	}

	c := e.createCampaign(t)
	e.createTest(t, twoVariantRequest(c.ID, 50, 50))
	if err := e.store.Variants.DeleteByCampaign(ctx, c.ID); err != nil {
		t.Fatalf("DeleteByCampaign() error = %v", err)
	}
	_, err = e.svc.GetResults(ctx, c.ID)
	assertKind(t, err, KindNotFound)
}

func TestMetricFor(t *testing.T) {
	tests := []struct {
		criteria models.WinnerCriteria
		want     stats.Metric
	}{
		{models.CriteriaOpenRate, stats.MetricOpen},
		{models.CriteriaClickRate, stats.MetricClick},
		{models.CriteriaConversionRate, stats.MetricConversion},
		{models.CriteriaRevenue, stats.MetricConversion},
	}

	for _, tt := range tests {
		t.Run(string(tt.criteria), func(t *testing.T) {
			got, err := metricFor(tt.criteria)
			if err != nil {
				t.Fatalf("metricFor() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("metricFor() = %v, want %v", got, tt.want)
			}
		})
	}

	_, err := metricFor("bounce_rate")
	assertKind(t, err, KindInvalidConfiguration)
}

func TestGetResultsClickCriteria(t *testing.T) {
	e := newTestEnv(t)
	test := e.sentTest(t, func(r *CreateRequest) { r.WinnerCriteria = models.CriteriaClickRate })
	trackEndToEnd(t, e, test)

	res, err := e.svc.GetResults(context.Background(), test.Campaign.ID)
	if err != nil {
		t.Fatalf("GetResults() error = %v", err)
	}
	// Clicks are measured against opens
	if res.Statistics.Details[0].SampleSize != 30 || res.Statistics.Details[1].SampleSize != 12 {
		t.Errorf("click universes = %+v", res.Statistics.Details)
	}
}

func TestGetSummary(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	test := e.sentTest(t, nil)
	a, b := trackEndToEnd(t, e, test)
	e.track(t, b.ID, models.CounterDelta{Bounces: 3, Unsubscribe: 1})
	e.clock.Advance(90 * time.Minute)

	sum, err := e.svc.GetSummary(ctx, test.Campaign.ID)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if sum.TestStatus != models.TestStatusTesting || sum.Name != "Spring sale" {
		t.Errorf("summary = %+v", sum)
	}
	if !almostEqual(sum.ElapsedHours, 1.5, 1e-9) {
		t.Errorf("ElapsedHours = %v, want 1.5", sum.ElapsedHours)
	}
	if sum.Totals.Sent != 100 || sum.Totals.Opened != 42 || sum.Totals.Clicked != 12 ||
		sum.Totals.Bounces != 3 || sum.Totals.Unsubscribes != 1 {
		t.Errorf("Totals = %+v", sum.Totals)
	}
	if sum.Variants[1].OpenRate != 30 || sum.Variants[1].BounceCount != 3 {
		t.Errorf("variant B = %+v", sum.Variants[1])
	}
	if sum.SelectedWinnerLabel != "" {
		t.Errorf("SelectedWinnerLabel = %q before selection", sum.SelectedWinnerLabel)
	}

	if _, err := e.svc.SelectWinner(ctx, test.Campaign.ID, a.ID); err != nil {
		t.Fatalf("SelectWinner() error = %v", err)
	}
	sum, err = e.svc.GetSummary(ctx, test.Campaign.ID)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if sum.SelectedWinnerLabel != "A" || sum.WinnerSelectionDate == nil || sum.TestStatus != models.TestStatusCompleted {
		t.Errorf("summary after selection = %+v", sum)
	}
}
