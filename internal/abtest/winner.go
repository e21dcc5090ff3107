package abtest

import (
	"context"

	"github.com/foxzi/sendry-ab/internal/metrics"
	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/foxzi/sendry-ab/internal/repository"
)

// Winner selection sources
const (
	SourceManual = "manual"
	SourceAuto   = "auto"
)

// AutoOutcome is the result of one automatic evaluation
type AutoOutcome string

const (
	// OutcomeSelected means a winner was declared
	OutcomeSelected AutoOutcome = "selected"
	// OutcomeNotReady means the test is eligible but cannot be decided yet
	OutcomeNotReady AutoOutcome = "not_ready"
	// OutcomeSkipped means the campaign is not an in-flight auto test
	OutcomeSkipped AutoOutcome = "skipped"
)

// AutoResult reports what AutoSelectWinner did
type AutoResult struct {
	CampaignID string      `json:"campaign_id"`
	Outcome    AutoOutcome `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
	WinnerID   string      `json:"winner_id,omitempty"`
	Winner     string      `json:"winner,omitempty"`
	PValue     float64     `json:"p_value"`
}

// SelectWinner declares variantID the winner of a sent test, marks its
// siblings as losers and copies the winning content onto the campaign.
// Draft tests are rejected with ErrNotSent.
func (s *Service) SelectWinner(ctx context.Context, campaignID, variantID string) (*Test, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	var test *Test
	err := s.store.WithTx(ctx, func(tx *repository.Store) error {
		c, v, err := s.loadVariant(ctx, tx, campaignID, variantID)
		if err != nil {
			return err
		}
		if !c.IsAbTest {
			return ErrNotATest
		}
		switch c.TestStatus {
		case models.TestStatusTesting:
		case models.TestStatusCompleted:
			return ErrTestCompleted
		default:
			return ErrNotSent
		}

		test, err = s.applyWinner(ctx, tx, c, v.ID)
		return err
	})
	if err != nil {
		return nil, s.opError("select_winner", err)
	}

	metrics.IncWinnersSelected(SourceManual)
	s.logger.Info("winner selected",
		"campaign_id", campaignID,
		"variant_id", variantID,
		"source", SourceManual)

	return test, nil
}

// AutoSelectWinner evaluates an in-flight auto-winner test and declares the
// statistical winner once the test can be decided. Evaluation and selection
// share one lock and transaction so a concurrent manual selection is never
// overwritten.
func (s *Service) AutoSelectWinner(ctx context.Context, campaignID string) (*AutoResult, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	result := &AutoResult{CampaignID: campaignID}
	err := s.store.WithTx(ctx, func(tx *repository.Store) error {
		c, variants, err := s.loadTest(ctx, tx, campaignID)
		if err != nil {
			return err
		}

		switch {
		case !c.AutoSelectWinner:
			result.Outcome, result.Reason = OutcomeSkipped, "auto selection disabled"
			return nil
		case c.TestStatus != models.TestStatusTesting:
			result.Outcome, result.Reason = OutcomeSkipped, "test is "+string(c.TestStatus)
			return nil
		case c.SentAt == nil:
			result.Outcome, result.Reason = OutcomeSkipped, "test not sent"
			return nil
		case len(variants) == 0:
			return notFound("campaign %s has no variants", campaignID)
		}

		res, err := s.evaluateTest(c, variants)
		if err != nil {
			return err
		}
		result.PValue = res.Statistics.PValue

		switch {
		case !res.DurationElapsed:
			result.Outcome, result.Reason = OutcomeNotReady, "test duration not elapsed"
			return nil
		case !res.HasMinimumSample:
			result.Outcome, result.Reason = OutcomeNotReady, "minimum sample not reached"
			return nil
		case !res.Statistics.Significant:
			result.Outcome, result.Reason = OutcomeNotReady, "difference not significant"
			return nil
		case res.WinnerID == "":
			result.Outcome, result.Reason = OutcomeNotReady, "no winner"
			return nil
		}

		if _, err := s.applyWinner(ctx, tx, c, res.WinnerID); err != nil {
			return err
		}
		result.Outcome = OutcomeSelected
		result.WinnerID = res.WinnerID
		result.Winner = res.Statistics.Winner
		return nil
	})
	if err != nil {
		return nil, s.opError("auto_select_winner", err)
	}

	if result.Outcome == OutcomeSelected {
		metrics.IncWinnersSelected(SourceAuto)
		s.logger.Info("winner selected",
			"campaign_id", campaignID,
			"variant_id", result.WinnerID,
			"label", result.Winner,
			"p_value", result.PValue,
			"source", SourceAuto)
	} else {
		s.logger.Debug("auto selection deferred",
			"campaign_id", campaignID,
			"outcome", result.Outcome,
			"reason", result.Reason)
	}

	return result, nil
}

// applyWinner writes the completed state of a test inside tx
func (s *Service) applyWinner(ctx context.Context, tx *repository.Store, c *models.Campaign, winnerID string) (*Test, error) {
	variants, err := tx.Variants.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	var winner *models.Variant
	for i := range variants {
		v := &variants[i]
		if v.ID == winnerID {
			v.Status = models.VariantStatusWinner
			winner = v
		} else {
			v.Status = models.VariantStatusLoser
		}
		if err := tx.Variants.Update(ctx, v); err != nil {
			return nil, err
		}
	}
	if winner == nil {
		return nil, notFound("variant %s in campaign %s", winnerID, c.ID)
	}

	now := s.now()
	c.SelectedWinnerID = winner.ID
	c.WinnerSelectionDate = &now
	c.TestStatus = models.TestStatusCompleted
	c.Subject = winner.Subject
	c.Content = winner.Content
	if winner.FromName != "" {
		c.FromName = winner.FromName
	}
	if err := tx.Campaigns.Update(ctx, c); err != nil {
		return nil, err
	}

	return &Test{Campaign: c, Variants: variants}, nil
}
