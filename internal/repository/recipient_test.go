package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/foxzi/sendry-ab/internal/models"
)

func seedRecipients(t *testing.T, s *Store) (listA, listB string, ids map[string]string) {
	t.Helper()
	ctx := context.Background()

	a := &models.RecipientList{Name: "Newsletter"}
	b := &models.RecipientList{Name: "Customers"}
	for _, l := range []*models.RecipientList{a, b} {
		if err := s.Recipients.CreateList(ctx, l); err != nil {
			t.Fatalf("CreateList() error = %v", err)
		}
	}

	ids = make(map[string]string)
	add := func(listID, email string, status string) {
		r := &models.Recipient{ListID: listID, Email: email, Status: status}
		if err := s.Recipients.AddRecipient(ctx, r); err != nil {
			t.Fatalf("AddRecipient() error = %v", err)
		}
		ids[listID+"/"+email] = r.ID
	}
	add(a.ID, "one@example.com", models.RecipientActive)
	add(a.ID, "two@example.com", models.RecipientActive)
	add(a.ID, "gone@example.com", models.RecipientUnsubscribed)
	add(b.ID, "three@example.com", models.RecipientActive)
	add(b.ID, "ONE@example.com", models.RecipientActive)
	add(b.ID, "bad@example.com", models.RecipientBounced)

	return a.ID, b.ID, ids
}

func emails(recipients []models.Recipient) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, r.Email)
	}
	return out
}

func TestRecipientRepository_Resolve(t *testing.T) {
	s := setupTestStore(t)
	listA, listB, ids := seedRecipients(t, s)

	tests := []struct {
		name string
		sel  models.RecipientSelector
		want []string
	}{
		{
			name: "all active deduplicated",
			sel:  models.RecipientSelector{},
			want: []string{"one@example.com", "two@example.com", "three@example.com"},
		},
		{
			name: "single list",
			sel:  models.RecipientSelector{ListIDs: []string{listB}},
			want: []string{"three@example.com", "ONE@example.com"},
		},
		{
			name: "explicit ids skip inactive",
			sel: models.RecipientSelector{RecipientIDs: []string{
				ids[listA+"/two@example.com"],
				ids[listA+"/gone@example.com"],
			}},
			want: []string{"two@example.com"},
		},
		{
			name: "ids take precedence over lists",
			sel: models.RecipientSelector{
				RecipientIDs: []string{ids[listB+"/three@example.com"]},
				ListIDs:      []string{listA},
			},
			want: []string{"three@example.com"},
		},
		{
			name: "unknown list",
			sel:  models.RecipientSelector{ListIDs: []string{"nope"}},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Recipients.Resolve(context.Background(), tt.sel)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			gotEmails := emails(got)
			if len(gotEmails) != len(tt.want) {
				t.Fatalf("Resolve() = %v, want %v", gotEmails, tt.want)
			}
			for i := range tt.want {
				if gotEmails[i] != tt.want[i] {
					t.Errorf("Resolve()[%d] = %s, want %s", i, gotEmails[i], tt.want[i])
				}
			}
		})
	}
}

func TestRecipientRepository_ResolveLargeSelection(t *testing.T) {
	s := setupTestStore(t)
	listA, listB, ids := seedRecipients(t, s)

	// Well past SQLite's host parameter limit
	sel := models.RecipientSelector{}
	for i := 0; i < 40000; i++ {
		sel.RecipientIDs = append(sel.RecipientIDs, fmt.Sprintf("unknown-%d", i))
	}
	sel.RecipientIDs = append(sel.RecipientIDs, ids[listA+"/one@example.com"], ids[listB+"/three@example.com"])

	got, err := s.Recipients.Resolve(context.Background(), sel)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	gotEmails := emails(got)
	if len(gotEmails) != 2 || gotEmails[0] != "one@example.com" || gotEmails[1] != "three@example.com" {
		t.Errorf("Resolve() = %v, want [one@example.com three@example.com]", gotEmails)
	}

	lists := models.RecipientSelector{ListIDs: []string{listA, listB}}
	for i := 0; i < 40000; i++ {
		lists.ListIDs = append(lists.ListIDs, fmt.Sprintf("list-%d", i))
	}
	got, err = s.Recipients.Resolve(context.Background(), lists)
	if err != nil {
		t.Fatalf("Resolve() by lists error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Resolve() by lists = %v, want 3 recipients", emails(got))
	}
}

func TestRecipientRepository_ListCounts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	listA, _, _ := seedRecipients(t, s)

	list, err := s.Recipients.GetListByID(ctx, listA)
	if err != nil {
		t.Fatalf("GetListByID() error = %v", err)
	}
	if list.TotalCount != 3 || list.ActiveCount != 2 {
		t.Errorf("counts = %d/%d, want 3/2", list.TotalCount, list.ActiveCount)
	}

	// re-adding an address updates its status in place
	r := &models.Recipient{ListID: listA, Email: "gone@example.com", Status: models.RecipientActive}
	if err := s.Recipients.AddRecipient(ctx, r); err != nil {
		t.Fatalf("AddRecipient() error = %v", err)
	}
	list, _ = s.Recipients.GetListByID(ctx, listA)
	if list.TotalCount != 3 || list.ActiveCount != 3 {
		t.Errorf("counts after upsert = %d/%d, want 3/3", list.TotalCount, list.ActiveCount)
	}
}
