// Package sweep periodically declares winners of in-flight auto-winner tests.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/sendry-ab/internal/abtest"
	"github.com/foxzi/sendry-ab/internal/metrics"
	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/foxzi/sendry-ab/internal/stats"
	"golang.org/x/sync/errgroup"
)

// OutcomeFailed labels campaigns whose evaluation returned an error
const OutcomeFailed = "failed"

// Evaluator decides a single test
type Evaluator interface {
	AutoSelectWinner(ctx context.Context, campaignID string) (*abtest.AutoResult, error)
}

// Candidates lists the campaigns the sweep should look at
type Candidates interface {
	ListAutoWinnerCandidates(ctx context.Context) ([]models.Campaign, error)
}

// Config contains sweep settings
type Config struct {
	Interval    time.Duration
	Concurrency int
	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Report counts what one sweep did
type Report struct {
	Evaluated int `json:"evaluated"`
	Selected  int `json:"selected"`
	NotReady  int `json:"not_ready"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Sweeper runs the auto-winner sweep on a fixed interval
type Sweeper struct {
	evaluator  Evaluator
	candidates Candidates
	cfg        Config
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new sweeper
func New(evaluator Evaluator, candidates Candidates, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		evaluator:  evaluator,
		candidates: candidates,
		cfg:        cfg,
		logger:     logger.With("component", "sweep"),
	}
}

// Start runs a sweep immediately and then on every interval until ctx is
// cancelled or Stop is called
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("sweep started", "interval", s.cfg.Interval, "concurrency", s.cfg.Concurrency)
}

// Stop stops the sweeper and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("sweep stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce evaluates every candidate campaign. Per-campaign failures are
// logged and counted without stopping the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) Report {
	start := time.Now()
	metrics.IncSweepRuns()
	defer func() { metrics.ObserveSweepDuration(time.Since(start).Seconds()) }()

	var report Report

	campaigns, err := s.candidates.ListAutoWinnerCandidates(ctx)
	if err != nil {
		s.logger.Error("failed to list sweep candidates", "error", err)
		report.Failed++
		metrics.IncSweepCampaigns(OutcomeFailed)
		return report
	}

	var mu sync.Mutex
	record := func(outcome string) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case string(abtest.OutcomeSelected):
			report.Selected++
		case string(abtest.OutcomeNotReady):
			report.NotReady++
		case string(abtest.OutcomeSkipped):
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
		}
		metrics.IncSweepCampaigns(outcome)
	}

	now := s.cfg.Now()
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}
		if c.SentAt == nil || !stats.HasTestDurationElapsed(*c.SentAt, c.TestDurationHours, now) {
			record(string(abtest.OutcomeSkipped))
			continue
		}

		id := c.ID
		g.Go(func() error {
			res, err := s.evaluator.AutoSelectWinner(ctx, id)
			if err != nil {
				s.logger.Error("failed to evaluate test", "campaign_id", id, "error", err)
				record(OutcomeFailed)
				return nil
			}

			mu.Lock()
			report.Evaluated++
			mu.Unlock()
			record(string(res.Outcome))
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("sweep finished",
		"candidates", len(campaigns),
		"evaluated", report.Evaluated,
		"selected", report.Selected,
		"not_ready", report.NotReady,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", time.Since(start))

	return report
}
