package abtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/sendry-ab/internal/db"
	"github.com/foxzi/sendry-ab/internal/dispatch"
	"github.com/foxzi/sendry-ab/internal/distribution"
	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/foxzi/sendry-ab/internal/repository"
	"github.com/foxzi/sendry-ab/internal/stats"
	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingDispatcher rejects every send
type failingDispatcher struct{}

func (failingDispatcher) Dispatch(ctx context.Context, batches []*dispatch.Batch) error {
	return errors.New("queue unavailable")
}

type testEnv struct {
	svc    *Service
	store  *repository.Store
	outbox *dispatch.Outbox
	clock  *fakeClock
	listID string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil, nil)
}

func newTestEnvWith(t *testing.T, dispatcher Dispatcher, pvalue stats.PValueFunc) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	outbox, err := dispatch.NewOutbox(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("NewOutbox() error = %v", err)
	}
	t.Cleanup(func() { outbox.Close() })

	if dispatcher == nil {
		dispatcher = outbox
	}

	store := repository.NewStore(database.DB)
	clock := newFakeClock()
	svc := New(store, store.Recipients, dispatcher, Options{
		Logger: discardLogger(),
		Rand:   distribution.NewRand(7),
		Now:    clock.Now,
		PValue: pvalue,
	})

	return &testEnv{svc: svc, store: store, outbox: outbox, clock: clock}
}

func (e *testEnv) createCampaign(t *testing.T) *models.Campaign {
	t.Helper()
	c := &models.Campaign{Name: "Spring sale", Subject: "Spring is here", Content: "<p>Sale</p>", FromName: "Shop"}
	if err := e.store.Campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}

func (e *testEnv) seedRecipients(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()

	if e.listID == "" {
		list := &models.RecipientList{Name: "Newsletter"}
		if err := e.store.Recipients.CreateList(ctx, list); err != nil {
			t.Fatalf("CreateList() error = %v", err)
		}
		e.listID = list.ID
	}
	for i := 0; i < n; i++ {
		r := &models.Recipient{ListID: e.listID, Email: fmt.Sprintf("user%d@example.com", i)}
		if err := e.store.Recipients.AddRecipient(ctx, r); err != nil {
			t.Fatalf("AddRecipient() error = %v", err)
		}
	}
}

func twoVariantRequest(campaignID string, splitA, splitB float64) CreateRequest {
	return CreateRequest{
		CampaignID:     campaignID,
		TestType:       models.TestTypeSubject,
		WinnerCriteria: models.CriteriaOpenRate,
		Variants: []VariantInput{
			{Label: "A", Subject: "Subject A", SplitPercentage: splitA},
			{Label: "B", Subject: "Subject B", Content: "<p>B</p>", SplitPercentage: splitB},
		},
	}
}

func (e *testEnv) createTest(t *testing.T, req CreateRequest) *Test {
	t.Helper()
	test, err := e.svc.CreateTest(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateTest() error = %v", err)
	}
	return test
}

// sentTest creates and sends a 60/40 open-rate test over 100 recipients
func (e *testEnv) sentTest(t *testing.T, mutate func(*CreateRequest)) *Test {
	t.Helper()
	c := e.createCampaign(t)
	e.seedRecipients(t, 100)

	req := twoVariantRequest(c.ID, 60, 40)
	if mutate != nil {
		mutate(&req)
	}
	test := e.createTest(t, req)
	if _, err := e.svc.SendTest(context.Background(), c.ID, models.RecipientSelector{}); err != nil {
		t.Fatalf("SendTest() error = %v", err)
	}
	return test
}

func (e *testEnv) track(t *testing.T, variantID string, delta models.CounterDelta) {
	t.Helper()
	err := e.store.WithTx(context.Background(), func(tx *repository.Store) error {
		v, err := tx.Variants.IncrementCounters(context.Background(), variantID, delta)
		if err == nil && v == nil {
			err = fmt.Errorf("variant %s not found", variantID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("IncrementCounters() error = %v", err)
	}
}

func (e *testEnv) campaign(t *testing.T, id string) *models.Campaign {
	t.Helper()
	c, err := e.store.Campaigns.GetByID(context.Background(), id)
	if err != nil || c == nil {
		t.Fatalf("GetByID() = %v, %v", c, err)
	}
	return c
}

func variantByLabel(t *testing.T, variants []models.Variant, label string) models.Variant {
	t.Helper()
	for _, v := range variants {
		if v.Label == label {
			return v
		}
	}
	t.Fatalf("variant %s not found", label)
	return models.Variant{}
}

func assertKind(t *testing.T, err error, kind string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Errorf("KindOf(%v) = %s, want %s", err, got, kind)
	}
}

func TestCreateTest(t *testing.T) {
	e := newTestEnv(t)
	c := e.createCampaign(t)

	test := e.createTest(t, twoVariantRequest(c.ID, 50, 50))

	if !test.Campaign.IsAbTest || test.Campaign.TestStatus != models.TestStatusDraft {
		t.Errorf("campaign = %+v, want draft test", test.Campaign)
	}
	if test.Campaign.TestDurationHours != 24 || test.Campaign.ConfidenceLevel != 95 || test.Campaign.MinSampleSize != 100 {
		t.Errorf("defaults not applied: %+v", test.Campaign)
	}
	if len(test.Variants) != 2 {
		t.Fatalf("len(Variants) = %d, want 2", len(test.Variants))
	}

	a := variantByLabel(t, test.Variants, "A")
	b := variantByLabel(t, test.Variants, "B")
	if a.Status != models.VariantStatusDraft || b.Status != models.VariantStatusDraft {
		t.Errorf("variant statuses = %s/%s, want draft", a.Status, b.Status)
	}
	if a.Subject != "Subject A" || a.Content != "<p>Sale</p>" || a.FromName != "Shop" {
		t.Errorf("variant A did not fall back to campaign content: %+v", a)
	}
	if b.Content != "<p>B</p>" {
		t.Errorf("variant B content = %q", b.Content)
	}

	stored, err := e.store.Variants.ListByCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("ListByCampaign() error = %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored variants = %d, want 2", len(stored))
	}
	if e.svc.locks.len() != 0 {
		t.Errorf("locks left behind: %d", e.svc.locks.len())
	}
}

func TestCreateTestValidation(t *testing.T) {
	e := newTestEnv(t)
	c := e.createCampaign(t)

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"split sums to 99", func(r *CreateRequest) { r.Variants[1].SplitPercentage = 49 }},
		{"split sums to 101", func(r *CreateRequest) { r.Variants[1].SplitPercentage = 51 }},
		{"duplicate label", func(r *CreateRequest) { r.Variants[1].Label = "A" }},
		{"label outside A-E", func(r *CreateRequest) { r.Variants[1].Label = "F" }},
		{"single variant", func(r *CreateRequest) {
			r.Variants = r.Variants[:1]
			r.Variants[0].SplitPercentage = 100
		}},
		{"six variants", func(r *CreateRequest) {
			r.Variants = nil
			for _, l := range []string{"A", "B", "C", "D", "E", "A"} {
				r.Variants = append(r.Variants, VariantInput{Label: l, SplitPercentage: 100.0 / 6})
			}
		}},
		{"unknown test type", func(r *CreateRequest) { r.TestType = "layout" }},
		{"unknown criteria", func(r *CreateRequest) { r.WinnerCriteria = "bounce_rate" }},
		{"confidence too low", func(r *CreateRequest) { r.ConfidenceLevel = 85 }},
		{"confidence too high", func(r *CreateRequest) { r.ConfidenceLevel = 99.95 }},
		{"sample too small", func(r *CreateRequest) { r.MinSampleSize = 49 }},
		{"negative duration", func(r *CreateRequest) { r.TestDurationHours = -1 }},
		{"negative offset", func(r *CreateRequest) { r.Variants[0].SendTimeOffsetMinutes = -5 }},
		{"missing campaign id", func(r *CreateRequest) { r.CampaignID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := twoVariantRequest(c.ID, 50, 50)
			tt.mutate(&req)

			_, err := e.svc.CreateTest(context.Background(), req)
			assertKind(t, err, KindInvalidConfiguration)
		})
	}

	// Nothing was written by the rejected requests
	if got := e.campaign(t, c.ID); got.IsAbTest {
		t.Errorf("campaign became a test after rejected requests: %+v", got)
	}
}

func TestCreateTestSplitTolerance(t *testing.T) {
	e := newTestEnv(t)
	c := e.createCampaign(t)

	req := twoVariantRequest(c.ID, 33.33, 33.33)
	req.Variants = append(req.Variants, VariantInput{Label: "C", SplitPercentage: 33.33})
	if _, err := e.svc.CreateTest(context.Background(), req); err != nil {
		t.Errorf("CreateTest() with sum 99.99 error = %v", err)
	}
}

func TestCreateTestRejectsExistingTest(t *testing.T) {
	e := newTestEnv(t)
	c := e.createCampaign(t)
	e.createTest(t, twoVariantRequest(c.ID, 50, 50))

	_, err := e.svc.CreateTest(context.Background(), twoVariantRequest(c.ID, 50, 50))
	if !errors.Is(err, ErrAlreadyATest) {
		t.Errorf("CreateTest() error = %v, want ErrAlreadyATest", err)
	}
	assertKind(t, err, KindInvalidConfiguration)
}

func TestCreateTestUnknownCampaign(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.CreateTest(context.Background(), twoVariantRequest("missing", 50, 50))
	assertKind(t, err, KindNotFound)
}

func TestSendTest(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	c := e.createCampaign(t)
	e.seedRecipients(t, 100)
	test := e.createTest(t, twoVariantRequest(c.ID, 60, 40))

	manifest, err := e.svc.SendTest(ctx, c.ID, models.RecipientSelector{})
	if err != nil {
		t.Fatalf("SendTest() error = %v", err)
	}

	if manifest.TotalRecipients != 100 {
		t.Errorf("TotalRecipients = %d, want 100", manifest.TotalRecipients)
	}
	if !manifest.SentAt.Equal(e.clock.Now()) {
		t.Errorf("SentAt = %v, want %v", manifest.SentAt, e.clock.Now())
	}
	if len(manifest.Variants) != 2 {
		t.Fatalf("len(Variants) = %d, want 2", len(manifest.Variants))
	}
	want := map[string]int{"A": 60, "B": 40}
	for _, entry := range manifest.Variants {
		if entry.RecipientCount != want[entry.Label] {
			t.Errorf("variant %s recipients = %d, want %d", entry.Label, entry.RecipientCount, want[entry.Label])
		}
		if entry.BatchID == "" {
			t.Errorf("variant %s has no batch id", entry.Label)
		}
	}

	// Assignments match the manifest
	counts, err := e.store.Assignments.CountByVariant(ctx, c.ID)
	if err != nil {
		t.Fatalf("CountByVariant() error = %v", err)
	}
	a := variantByLabel(t, test.Variants, "A")
	b := variantByLabel(t, test.Variants, "B")
	if counts[a.ID] != 60 || counts[b.ID] != 40 {
		t.Errorf("assignment counts = %v", counts)
	}

	// One batch per variant reached the outbox
	batches, err := e.outbox.List(ctx, c.ID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("outbox batches = %d, want 2", len(batches))
	}
	for _, batch := range batches {
		if batch.Label == "B" && (batch.Subject != "Subject B" || len(batch.Recipients) != 40) {
			t.Errorf("batch B = %+v", batch)
		}
	}

	got := e.campaign(t, c.ID)
	if got.TestStatus != models.TestStatusTesting || got.SentAt == nil {
		t.Errorf("campaign after send = %+v", got)
	}

	variants, _ := e.store.Variants.ListByCampaign(ctx, c.ID)
	for _, v := range variants {
		if v.Status != models.VariantStatusTesting {
			t.Errorf("variant %s status = %s, want testing", v.Label, v.Status)
		}
		if v.SentCount != 0 {
			t.Errorf("variant %s sent count = %d, counters belong to tracking", v.Label, v.SentCount)
		}
	}
}

func TestSendTestRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("no eligible recipients", func(t *testing.T) {
		e := newTestEnv(t)
		c := e.createCampaign(t)
		e.seedRecipients(t, 10)
		e.createTest(t, twoVariantRequest(c.ID, 50, 50))

		_, err := e.svc.SendTest(ctx, c.ID, models.RecipientSelector{RecipientIDs: []string{"missing"}})
		if !errors.Is(err, ErrNoRecipients) {
			t.Errorf("SendTest() error = %v, want ErrNoRecipients", err)
		}
		if got := e.campaign(t, c.ID); got.TestStatus != models.TestStatusDraft {
			t.Errorf("status = %s, want draft", got.TestStatus)
		}
	})

	t.Run("already sent", func(t *testing.T) {
		e := newTestEnv(t)
		test := e.sentTest(t, nil)

		_, err := e.svc.SendTest(ctx, test.Campaign.ID, models.RecipientSelector{})
		if !errors.Is(err, ErrAlreadySent) {
			t.Errorf("SendTest() error = %v, want ErrAlreadySent", err)
		}
	})

	t.Run("not a test", func(t *testing.T) {
		e := newTestEnv(t)
		c := e.createCampaign(t)

		_, err := e.svc.SendTest(ctx, c.ID, models.RecipientSelector{})
		assertKind(t, err, KindNotFound)
	})

	t.Run("no variants", func(t *testing.T) {
		e := newTestEnv(t)
		c := e.createCampaign(t)
		e.seedRecipients(t, 10)
		e.createTest(t, twoVariantRequest(c.ID, 50, 50))
		if err := e.store.Variants.DeleteByCampaign(ctx, c.ID); err != nil {
			t.Fatalf("DeleteByCampaign() error = %v", err)
		}

		_, err := e.svc.SendTest(ctx, c.ID, models.RecipientSelector{})
		if !errors.Is(err, ErrNoVariants) {
			t.Errorf("SendTest() error = %v, want ErrNoVariants", err)
		}
	})
}

func TestSendTestDispatchFailureLeavesDraft(t *testing.T) {
	e := newTestEnvWith(t, failingDispatcher{}, nil)
	ctx := context.Background()
	c := e.createCampaign(t)
	e.seedRecipients(t, 20)
	e.createTest(t, twoVariantRequest(c.ID, 50, 50))

	if _, err := e.svc.SendTest(ctx, c.ID, models.RecipientSelector{}); err == nil {
		t.Fatal("SendTest() expected error")
	}

	got := e.campaign(t, c.ID)
	if got.TestStatus != models.TestStatusDraft || got.SentAt != nil {
		t.Errorf("campaign after failed send = %+v", got)
	}
	counts, err := e.store.Assignments.CountByVariant(ctx, c.ID)
	if err != nil {
		t.Fatalf("CountByVariant() error = %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("assignments left after failed send: %v", counts)
	}
}

func TestUpdateVariant(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	c := e.createCampaign(t)
	test := e.createTest(t, twoVariantRequest(c.ID, 50, 50))
	a := variantByLabel(t, test.Variants, "A")

	subject := "Fresh subject"
	offset := 30
	v, err := e.svc.UpdateVariant(ctx, c.ID, a.ID, VariantPatch{Subject: &subject, SendTimeOffsetMinutes: &offset})
	if err != nil {
		t.Fatalf("UpdateVariant() error = %v", err)
	}
	if v.Subject != subject || v.SendTimeOffsetMinutes != 30 || v.Content != a.Content {
		t.Errorf("UpdateVariant() = %+v", v)
	}

	stored, _ := e.store.Variants.GetByID(ctx, a.ID)
	if stored.Subject != subject {
		t.Errorf("stored subject = %q", stored.Subject)
	}

	// A split change that breaks the total is rejected
	split := 60.0
	_, err = e.svc.UpdateVariant(ctx, c.ID, a.ID, VariantPatch{SplitPercentage: &split})
	assertKind(t, err, KindInvalidConfiguration)

	negative := -1
	_, err = e.svc.UpdateVariant(ctx, c.ID, a.ID, VariantPatch{SendTimeOffsetMinutes: &negative})
	assertKind(t, err, KindInvalidConfiguration)

	_, err = e.svc.UpdateVariant(ctx, c.ID, "missing", VariantPatch{Subject: &subject})
	assertKind(t, err, KindNotFound)
}

func TestUpdateVariantOtherCampaign(t *testing.T) {
	e := newTestEnv(t)
	c1 := e.createCampaign(t)
	c2 := e.createCampaign(t)
	test := e.createTest(t, twoVariantRequest(c1.ID, 50, 50))
	e.createTest(t, twoVariantRequest(c2.ID, 50, 50))

	subject := "x"
	_, err := e.svc.UpdateVariant(context.Background(), c2.ID, test.Variants[0].ID, VariantPatch{Subject: &subject})
	assertKind(t, err, KindNotFound)
}

func TestUpdateVariantSplitAfterSend(t *testing.T) {
	e := newTestEnv(t)
	test := e.sentTest(t, nil)
	a := variantByLabel(t, test.Variants, "A")

	split := 50.0
	_, err := e.svc.UpdateVariant(context.Background(), test.Campaign.ID, a.ID, VariantPatch{SplitPercentage: &split})
	assertKind(t, err, KindInvalidConfiguration)

	// Content edits stay allowed while testing
	subject := "Late fix"
	if _, err := e.svc.UpdateVariant(context.Background(), test.Campaign.ID, a.ID, VariantPatch{Subject: &subject}); err != nil {
		t.Errorf("UpdateVariant() while testing error = %v", err)
	}
}

func TestUpdateVariantLocked(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	test := e.sentTest(t, nil)
	a := variantByLabel(t, test.Variants, "A")
	b := variantByLabel(t, test.Variants, "B")

	if _, err := e.svc.SelectWinner(ctx, test.Campaign.ID, a.ID); err != nil {
		t.Fatalf("SelectWinner() error = %v", err)
	}

	subject := "too late"
	for _, id := range []string{a.ID, b.ID} {
		_, err := e.svc.UpdateVariant(ctx, test.Campaign.ID, id, VariantPatch{Subject: &subject})
		if !errors.Is(err, ErrTestCompleted) {
			t.Errorf("UpdateVariant(%s) error = %v, want ErrTestCompleted", id, err)
		}
	}
}

func TestUpdateSplits(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	c := e.createCampaign(t)
	e.createTest(t, twoVariantRequest(c.ID, 50, 50))

	variants, err := e.svc.UpdateSplits(ctx, c.ID, map[string]float64{"A": 30, "B": 70})
	if err != nil {
		t.Fatalf("UpdateSplits() error = %v", err)
	}
	if variantByLabel(t, variants, "B").SplitPercentage != 70 {
		t.Errorf("UpdateSplits() = %+v", variants)
	}

	stored, _ := e.store.Variants.ListByCampaign(ctx, c.ID)
	if variantByLabel(t, stored, "A").SplitPercentage != 30 {
		t.Errorf("stored split not updated: %+v", stored)
	}

	rejected := []map[string]float64{
		{"A": 30, "B": 60},
		{"A": 100},
		{"A": 50, "C": 50},
		{"A": -10, "B": 110},
	}
	for _, splits := range rejected {
		_, err := e.svc.UpdateSplits(ctx, c.ID, splits)
		assertKind(t, err, KindInvalidConfiguration)
	}

	stored, _ = e.store.Variants.ListByCampaign(ctx, c.ID)
	if variantByLabel(t, stored, "A").SplitPercentage != 30 {
		t.Errorf("rejected update changed splits: %+v", stored)
	}
}

func TestDeleteTest(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	c := e.createCampaign(t)
	req := twoVariantRequest(c.ID, 50, 50)
	req.ConfidenceLevel = 99
	req.MinSampleSize = 500
	req.AutoSelectWinner = true
	e.createTest(t, req)

	if err := e.svc.DeleteTest(ctx, c.ID); err != nil {
		t.Fatalf("DeleteTest() error = %v", err)
	}

	got := e.campaign(t, c.ID)
	if got.IsAbTest || got.TestStatus != models.TestStatusNone || got.AutoSelectWinner {
		t.Errorf("campaign after delete = %+v", got)
	}
	if got.ConfidenceLevel != models.DefaultConfidenceLevel || got.MinSampleSize != models.DefaultMinSampleSize {
		t.Errorf("defaults not restored: %+v", got)
	}
	variants, _ := e.store.Variants.ListByCampaign(ctx, c.ID)
	if len(variants) != 0 {
		t.Errorf("variants after delete = %d", len(variants))
	}

	// The campaign can be configured again
	e.createTest(t, twoVariantRequest(c.ID, 50, 50))
}

func TestDeleteTestRejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	test := e.sentTest(t, nil)

	err := e.svc.DeleteTest(ctx, test.Campaign.ID)
	if !errors.Is(err, ErrTestInProgress) {
		t.Errorf("DeleteTest() while testing error = %v, want ErrTestInProgress", err)
	}
	assertKind(t, err, KindInvalidConfiguration)

	if _, err := e.svc.SelectWinner(ctx, test.Campaign.ID, test.Variants[0].ID); err != nil {
		t.Fatalf("SelectWinner() error = %v", err)
	}
	assertKind(t, e.svc.DeleteTest(ctx, test.Campaign.ID), KindInvalidConfiguration)

	variants, _ := e.store.Variants.ListByCampaign(ctx, test.Campaign.ID)
	if len(variants) != 2 {
		t.Errorf("variants removed by rejected delete: %d", len(variants))
	}

	plain := e.createCampaign(t)
	assertKind(t, e.svc.DeleteTest(ctx, plain.ID), KindNotFound)
}

func TestListTests(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createCampaign(t)
	draft := e.createCampaign(t)
	e.createTest(t, twoVariantRequest(draft.ID, 50, 50))
	sent := e.sentTest(t, nil)

	all, err := e.svc.ListTests(ctx, "")
	if err != nil {
		t.Fatalf("ListTests() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListTests() = %d campaigns, want 2", len(all))
	}

	inFlight, err := e.svc.ListTests(ctx, models.TestStatusTesting)
	if err != nil {
		t.Fatalf("ListTests() error = %v", err)
	}
	if len(inFlight) != 1 || inFlight[0].ID != sent.Campaign.ID {
		t.Errorf("ListTests(testing) = %+v", inFlight)
	}
}

func TestGetTest(t *testing.T) {
	e := newTestEnv(t)
	c := e.createCampaign(t)
	e.createTest(t, twoVariantRequest(c.ID, 50, 50))

	test, err := e.svc.GetTest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetTest() error = %v", err)
	}
	if test.Campaign.ID != c.ID || len(test.Variants) != 2 {
		t.Errorf("GetTest() = %+v", test)
	}
	if test.Variants[0].Label != "A" {
		t.Errorf("variants not ordered by label: %+v", test.Variants)
	}

	_, err = e.svc.GetTest(context.Background(), e.createCampaign(t).ID)
	if !errors.Is(err, ErrNotATest) {
		t.Errorf("GetTest() error = %v, want ErrNotATest", err)
	}
}

func TestTrackingRevenue(t *testing.T) {
	e := newTestEnv(t)
	test := e.sentTest(t, func(r *CreateRequest) { r.WinnerCriteria = models.CriteriaRevenue })
	a := variantByLabel(t, test.Variants, "A")

	e.track(t, a.ID, models.CounterDelta{Sent: 60, Opened: 30, Clicked: 10, Conversions: 3, Revenue: decimal.RequireFromString("10.15")})

	sum, err := e.svc.GetSummary(context.Background(), test.Campaign.ID)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	va := sum.Variants[0]
	if !va.Revenue.Equal(decimal.RequireFromString("10.15")) {
		t.Errorf("Revenue = %s, want 10.15", va.Revenue)
	}
	if !va.RevenuePerSent.Equal(decimal.RequireFromString("0.1692")) {
		t.Errorf("RevenuePerSent = %s, want 0.1692", va.RevenuePerSent)
	}
	if !sum.Totals.Revenue.Equal(decimal.RequireFromString("10.15")) {
		t.Errorf("Totals.Revenue = %s", sum.Totals.Revenue)
	}
	if !sum.Variants[1].RevenuePerSent.IsZero() {
		t.Errorf("RevenuePerSent with no sends = %s, want 0", sum.Variants[1].RevenuePerSent)
	}
}
