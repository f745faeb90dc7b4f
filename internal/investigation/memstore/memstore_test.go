package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/inquest/internal/investigation"
)

func TestSaveAssignsSequentialVersions(t *testing.T) {
	t.Parallel()

	s := New()
	st := investigation.NewState("txn-1", 10)

	for want := int64(1); want <= 3; want++ {
		got, err := s.Save(context.Background(), st)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if got != want {
			t.Errorf("version = %d, want %d", got, want)
		}
	}
	if got := s.Versions(st.InvestigationID); got != 3 {
		t.Errorf("Versions = %d, want 3", got)
	}
}

func TestGetReturnsLatestCopy(t *testing.T) {
	t.Parallel()

	s := New()
	st := investigation.NewState("txn-1", 10)
	if _, err := s.Save(context.Background(), st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st.Status = investigation.StatusCompleted
	if _, err := s.Save(context.Background(), st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Get(context.Background(), st.InvestigationID)
	if err != nil || !ok {
		t.Fatalf("Get: %v ok=%v", err, ok)
	}
	if got.Status != investigation.StatusCompleted {
		t.Errorf("status = %q, want the latest version", got.Status)
	}

	// The returned state is a copy, not a live reference.
	got.Status = investigation.StatusFailed
	again, _, _ := s.Get(context.Background(), st.InvestigationID)
	if again.Status != investigation.StatusCompleted {
		t.Error("mutating the returned state leaked into the store")
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	if _, ok, err := s.Get(context.Background(), "nope"); ok || err != nil {
		t.Errorf("Get missing = ok=%v err=%v, want not found", ok, err)
	}
	if _, ok, err := s.GetByTransaction(context.Background(), "nope"); ok || err != nil {
		t.Errorf("GetByTransaction missing = ok=%v err=%v, want not found", ok, err)
	}
}

func TestGetByTransaction(t *testing.T) {
	t.Parallel()

	s := New()
	st := investigation.NewState("txn-7", 10)
	if _, err := s.Save(context.Background(), st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.GetByTransaction(context.Background(), "txn-7")
	if err != nil || !ok {
		t.Fatalf("GetByTransaction: %v ok=%v", err, ok)
	}
	if got.InvestigationID != st.InvestigationID {
		t.Errorf("id = %s, want %s", got.InvestigationID, st.InvestigationID)
	}
}

func TestListMostRecentFirstWithLimit(t *testing.T) {
	t.Parallel()

	s := New()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		st := investigation.NewState("txn-"+string(rune('a'+i)), 10)
		st.StartedAt = base.Add(time.Duration(i) * time.Hour)
		ids = append(ids, st.InvestigationID)
		if _, err := s.Save(context.Background(), st); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	out, err := s.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want limit 2", len(out))
	}
	if out[0].InvestigationID != ids[2] || out[1].InvestigationID != ids[1] {
		t.Errorf("order = [%s %s], want most recent first", out[0].InvestigationID, out[1].InvestigationID)
	}
}
