// Package abtest drives the lifecycle of campaign A/B tests: configuration,
// the randomized send, evaluation and winner selection.
//
// Every mutating operation holds a per-campaign lock for its duration and
// writes inside one store transaction whose campaign update is checked
// against the row version, so concurrent callers in this process are
// serialized and callers in other processes get ErrConflict.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/foxzi/sendry-ab/internal/dispatch"
	"github.com/foxzi/sendry-ab/internal/distribution"
	"github.com/foxzi/sendry-ab/internal/metrics"
	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/foxzi/sendry-ab/internal/repository"
	"github.com/foxzi/sendry-ab/internal/stats"
)

// Directory resolves the eligible recipients of a send
type Directory interface {
	Resolve(ctx context.Context, sel models.RecipientSelector) ([]models.Recipient, error)
}

// Dispatcher receives the per-variant batches of a send.
// Delivery happens asynchronously; Dispatch only has to accept them.
type Dispatcher interface {
	Dispatch(ctx context.Context, batches []*dispatch.Batch) error
}

// Discarder is implemented by dispatchers that can withdraw accepted batches
type Discarder interface {
	Discard(ctx context.Context, ids []string) error
}

// Options configures a Service
type Options struct {
	Logger *slog.Logger
	// Rand drives the recipient shuffle. Nil seeds from the clock.
	Rand *rand.Rand
	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
	// PValue derives p-values from chi-square statistics. Nil uses the critical-value table.
	PValue stats.PValueFunc
}

// Service implements the test lifecycle
type Service struct {
	store      *repository.Store
	directory  Directory
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
	pvalue     stats.PValueFunc
	locks      *campaignLocks

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Test is a campaign together with its variants ordered by label
type Test struct {
	Campaign *models.Campaign `json:"campaign"`
	Variants []models.Variant `json:"variants"`
}

// ManifestEntry reports the recipients routed to one variant
type ManifestEntry struct {
	VariantID       string  `json:"variant_id"`
	Label           string  `json:"label"`
	RecipientCount  int     `json:"recipient_count"`
	SplitPercentage float64 `json:"split_percentage"`
	BatchID         string  `json:"batch_id"`
}

// Manifest summarizes a send
type Manifest struct {
	CampaignID      string          `json:"campaign_id"`
	SentAt          time.Time       `json:"sent_at"`
	TotalRecipients int             `json:"total_recipients"`
	Variants        []ManifestEntry `json:"variants"`
}

// New creates a Service over store, resolving recipients with directory
// and handing batches to dispatcher
func New(store *repository.Store, directory Directory, dispatcher Dispatcher, opts Options) *Service {
	s := &Service{
		store:      store,
		directory:  directory,
		dispatcher: dispatcher,
		logger:     opts.Logger,
		now:        opts.Now,
		pvalue:     opts.PValue,
		rng:        opts.Rand,
		locks:      newCampaignLocks(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "abtest")
	if s.now == nil {
		s.now = time.Now
	}
	if s.pvalue == nil {
		s.pvalue = stats.TablePValue
	}
	if s.rng == nil {
		s.rng = distribution.NewRand(0)
	}
	return s
}

// CreateTest configures an existing campaign as a draft A/B test and
// creates its variants
func (s *Service) CreateTest(ctx context.Context, req CreateRequest) (*Test, error) {
	req.applyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(req.CampaignID)
	defer unlock()

	var test *Test
	err := s.store.WithTx(ctx, func(tx *repository.Store) error {
		c, err := s.loadCampaign(ctx, tx, req.CampaignID)
		if err != nil {
			return err
		}
		if c.IsAbTest {
			return ErrAlreadyATest
		}

		c.IsAbTest = true
		c.TestType = req.TestType
		c.WinnerCriteria = req.WinnerCriteria
		c.AutoSelectWinner = req.AutoSelectWinner
		c.TestDurationHours = req.TestDurationHours
		c.ConfidenceLevel = req.ConfidenceLevel
		c.MinSampleSize = req.MinSampleSize
		c.TestStatus = models.TestStatusDraft
		c.SelectedWinnerID = ""
		c.WinnerSelectionDate = nil
		c.SentAt = nil
		if err := tx.Campaigns.Update(ctx, c); err != nil {
			return err
		}

		variants := make([]models.Variant, 0, len(req.Variants))
		for _, in := range req.Variants {
			v := models.Variant{
				CampaignID:            c.ID,
				Label:                 in.Label,
				Subject:               fallback(in.Subject, c.Subject),
				Content:               fallback(in.Content, c.Content),
				FromName:              fallback(in.FromName, c.FromName),
				SendTimeOffsetMinutes: in.SendTimeOffsetMinutes,
				SplitPercentage:       in.SplitPercentage,
				Status:                models.VariantStatusDraft,
			}
			if err := tx.Variants.Create(ctx, &v); err != nil {
				return err
			}
			variants = append(variants, v)
		}
		sort.Slice(variants, func(i, j int) bool { return variants[i].Label < variants[j].Label })

		test = &Test{Campaign: c, Variants: variants}
		return nil
	})
	if err != nil {
		return nil, s.opError("create_test", err)
	}

	metrics.IncTestsCreated(string(req.TestType))
	s.logger.Info("test created",
		"campaign_id", req.CampaignID,
		"test_type", req.TestType,
		"winner_criteria", req.WinnerCriteria,
		"variants", len(test.Variants))

	return test, nil
}

// SendTest resolves the recipients, splits them across the variants,
// records the assignments and hands one batch per variant to the dispatcher.
// Variant counters are left untouched: they belong to the tracking pipeline.
func (s *Service) SendTest(ctx context.Context, campaignID string, sel models.RecipientSelector) (*Manifest, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	c, err := s.loadCampaign(ctx, s.store, campaignID)
	if err != nil {
		return nil, s.opError("send_test", err)
	}
	if !c.IsAbTest {
		return nil, ErrNotATest
	}
	if c.TestStatus != models.TestStatusDraft {
		return nil, ErrAlreadySent
	}

	variants, err := s.store.Variants.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, s.opError("send_test", err)
	}
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}

	recipients, err := s.directory.Resolve(ctx, sel)
	if err != nil {
		return nil, s.opError("send_test", fmt.Errorf("failed to resolve recipients: %w", err))
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	groups, err := s.assign(recipients, variants)
	if err != nil {
		return nil, invalid("%v", err)
	}

	now := s.now()
	batches := make([]*dispatch.Batch, 0, len(groups))
	for _, g := range groups {
		b := &dispatch.Batch{
			CampaignID:            c.ID,
			VariantID:             g.Variant.ID,
			Label:                 g.Variant.Label,
			Subject:               g.Variant.Subject,
			Content:               g.Variant.Content,
			FromName:              g.Variant.FromName,
			SendTimeOffsetMinutes: g.Variant.SendTimeOffsetMinutes,
			Recipients:            make([]dispatch.Recipient, 0, len(g.Recipients)),
			CreatedAt:             now,
		}
		for _, r := range g.Recipients {
			b.Recipients = append(b.Recipients, dispatch.Recipient{ID: r.ID, Email: r.Email, Name: r.Name})
		}
		batches = append(batches, b)
	}

	dispatched := false
	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		for _, g := range groups {
			if err := tx.Assignments.CreateBatch(ctx, c.ID, g.Variant.ID, g.Recipients); err != nil {
				return err
			}
		}
		if err := tx.Variants.SetStatusByCampaign(ctx, c.ID, models.VariantStatusTesting); err != nil {
			return err
		}

		c.TestStatus = models.TestStatusTesting
		c.SentAt = &now
		if err := tx.Campaigns.Update(ctx, c); err != nil {
			return err
		}

		// Dispatch last so a rejected batch rolls back the state change
		if err := s.dispatcher.Dispatch(ctx, batches); err != nil {
			return fmt.Errorf("failed to dispatch batches: %w", err)
		}
		dispatched = true
		return nil
	})
	if err != nil {
		if dispatched {
			s.withdraw(ctx, c.ID, batches)
		}
		return nil, s.opError("send_test", err)
	}

	manifest := &Manifest{
		CampaignID:      c.ID,
		SentAt:          now,
		TotalRecipients: len(recipients),
		Variants:        make([]ManifestEntry, 0, len(groups)),
	}
	for i, g := range groups {
		manifest.Variants = append(manifest.Variants, ManifestEntry{
			VariantID:       g.Variant.ID,
			Label:           g.Variant.Label,
			RecipientCount:  len(g.Recipients),
			SplitPercentage: g.Variant.SplitPercentage,
			BatchID:         batches[i].ID,
		})
		metrics.AddRecipientsAssigned(g.Variant.Label, len(g.Recipients))
	}
	metrics.IncTestsSent()

	s.logger.Info("test sent", "campaign_id", c.ID, "recipients", len(recipients), "variants", len(groups))
	for _, e := range manifest.Variants {
		s.logger.Debug("variant dispatched",
			"campaign_id", c.ID,
			"variant_id", e.VariantID,
			"label", e.Label,
			"recipients", e.RecipientCount,
			"batch_id", e.BatchID)
	}

	return manifest, nil
}

// UpdateVariant applies a partial update to a variant that is not yet
// decided. A split change must keep the campaign total at 100 and is only
// allowed before the test is sent.
func (s *Service) UpdateVariant(ctx context.Context, campaignID, variantID string, patch VariantPatch) (*models.Variant, error) {
	if err := validate.Struct(patch); err != nil {
		return nil, invalid("%s", describeValidation(err))
	}

	unlock := s.locks.lock(campaignID)
	defer unlock()

	var updated *models.Variant
	err := s.store.WithTx(ctx, func(tx *repository.Store) error {
		c, v, err := s.loadVariant(ctx, tx, campaignID, variantID)
		if err != nil {
			return err
		}
		if v.Status.Locked() {
			return ErrTestCompleted
		}

		if patch.SplitPercentage != nil && *patch.SplitPercentage != v.SplitPercentage {
			if c.TestStatus != models.TestStatusDraft {
				return invalid("split percentages cannot change after the test was sent")
			}
			siblings, err := tx.Variants.ListByCampaign(ctx, c.ID)
			if err != nil {
				return err
			}
			for i := range siblings {
				if siblings[i].ID == v.ID {
					siblings[i].SplitPercentage = *patch.SplitPercentage
				}
			}
			if !distribution.ValidSplit(siblings) {
				return invalid("split percentages must sum to 100, got %.2f", distribution.SplitSum(siblings))
			}
		}

		patch.apply(v)
		if err := tx.Variants.Update(ctx, v); err != nil {
			return err
		}

		// Bump the campaign version so concurrent writers observe the edit
		if err := tx.Campaigns.Update(ctx, c); err != nil {
			return err
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, s.opError("update_variant", err)
	}

	s.logger.Info("variant updated", "campaign_id", campaignID, "variant_id", variantID, "label", updated.Label)
	return updated, nil
}

// UpdateSplits replaces the split percentages of a draft test at once.
// splits is keyed by label and must name every variant.
func (s *Service) UpdateSplits(ctx context.Context, campaignID string, splits map[string]float64) ([]models.Variant, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	var variants []models.Variant
	err := s.store.WithTx(ctx, func(tx *repository.Store) error {
		c, err := s.loadCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if !c.IsAbTest {
			return ErrNotATest
		}
		if c.TestStatus != models.TestStatusDraft {
			return invalid("split percentages cannot change after the test was sent")
		}

		variants, err = tx.Variants.ListByCampaign(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(splits) != len(variants) {
			return invalid("expected splits for %d variants, got %d", len(variants), len(splits))
		}
		for i := range variants {
			split, ok := splits[variants[i].Label]
			if !ok {
				return invalid("missing split for variant %s", variants[i].Label)
			}
			if split < 0 || split > 100 {
				return invalid("split for variant %s must be between 0 and 100", variants[i].Label)
			}
			variants[i].SplitPercentage = split
		}
		if !distribution.ValidSplit(variants) {
			return invalid("split percentages must sum to 100, got %.2f", distribution.SplitSum(variants))
		}

		for i := range variants {
			if err := tx.Variants.Update(ctx, &variants[i]); err != nil {
				return err
			}
		}
		return tx.Campaigns.Update(ctx, c)
	})
	if err != nil {
		return nil, s.opError("update_splits", err)
	}

	s.logger.Info("splits updated", "campaign_id", campaignID)
	return variants, nil
}

// DeleteTest removes the variants of a draft test and restores the
// campaign's pre-test settings
func (s *Service) DeleteTest(ctx context.Context, campaignID string) error {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	err := s.store.WithTx(ctx, func(tx *repository.Store) error {
		c, err := s.loadCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if !c.IsAbTest {
			return ErrNotATest
		}
		if c.TestStatus == models.TestStatusTesting || c.TestStatus == models.TestStatusCompleted {
			return ErrTestInProgress
		}

		if err := tx.Variants.DeleteByCampaign(ctx, c.ID); err != nil {
			return err
		}
		c.ResetTest()
		return tx.Campaigns.Update(ctx, c)
	})
	if err != nil {
		return s.opError("delete_test", err)
	}

	metrics.IncTestsDeleted()
	s.logger.Info("test deleted", "campaign_id", campaignID)
	return nil
}

// GetTest returns a test and its variants
func (s *Service) GetTest(ctx context.Context, campaignID string) (*Test, error) {
	c, variants, err := s.loadTest(ctx, s.store, campaignID)
	if err != nil {
		return nil, s.opError("get_test", err)
	}
	return &Test{Campaign: c, Variants: variants}, nil
}

// ListTests returns campaigns configured as tests, optionally filtered by status
func (s *Service) ListTests(ctx context.Context, status models.TestStatus) ([]models.Campaign, error) {
	campaigns, err := s.store.Campaigns.List(ctx, models.CampaignListFilter{OnlyTests: true, TestStatus: status})
	if err != nil {
		return nil, s.opError("list_tests", err)
	}
	return campaigns, nil
}

func (s *Service) assign(recipients []models.Recipient, variants []models.Variant) ([]distribution.Group, error) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return distribution.Assign(s.rng, recipients, variants)
}

// withdraw discards batches that were dispatched for a send whose commit failed
func (s *Service) withdraw(ctx context.Context, campaignID string, batches []*dispatch.Batch) {
	d, ok := s.dispatcher.(Discarder)
	if !ok {
		s.logger.Error("dispatched batches cannot be withdrawn", "campaign_id", campaignID, "batches", len(batches))
		return
	}

	ids := make([]string, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	if err := d.Discard(context.WithoutCancel(ctx), ids); err != nil {
		s.logger.Error("failed to withdraw dispatched batches", "campaign_id", campaignID, "error", err)
	}
}

func (s *Service) loadCampaign(ctx context.Context, store *repository.Store, campaignID string) (*models.Campaign, error) {
	c, err := store.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	if c == nil {
		return nil, notFound("campaign %s", campaignID)
	}
	return c, nil
}

// loadTest loads a campaign configured as a test together with its variants
func (s *Service) loadTest(ctx context.Context, store *repository.Store, campaignID string) (*models.Campaign, []models.Variant, error) {
	c, err := s.loadCampaign(ctx, store, campaignID)
	if err != nil {
		return nil, nil, err
	}
	if !c.IsAbTest {
		return nil, nil, ErrNotATest
	}

	variants, err := store.Variants.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load variants: %w", err)
	}
	return c, variants, nil
}

// loadVariant loads a campaign and one of its variants
func (s *Service) loadVariant(ctx context.Context, store *repository.Store, campaignID, variantID string) (*models.Campaign, *models.Variant, error) {
	c, err := s.loadCampaign(ctx, store, campaignID)
	if err != nil {
		return nil, nil, err
	}

	v, err := store.Variants.GetByID(ctx, variantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load variant: %w", err)
	}
	if v == nil || v.CampaignID != c.ID {
		return nil, nil, notFound("variant %s in campaign %s", variantID, campaignID)
	}
	return c, v, nil
}

// opError maps store errors onto the error kinds. Errors that already carry
// a kind are returned unchanged.
func (s *Service) opError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		metrics.IncConflicts(op)
		s.logger.Warn("concurrent modification", "op", op)
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidConfiguration), errors.Is(err, ErrConflict):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
