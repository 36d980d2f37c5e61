package serverdb

import (
	"testing"
	"time"
)

func TestInsertAndListSaveEvents(t *testing.T) {
	db := newTestDB(t)

	inputs := []SaveEvent{
		{Outcome: SaveOutcomeBootstrap, Username: "portal-admin", IP: "10.0.0.1", Status: 200, Digest: "d1"},
		{Outcome: SaveOutcomeUnauthorized, Username: "mallory", IP: "10.0.0.2", Status: 401, Detail: "credential mismatch"},
		{Outcome: SaveOutcomeSaved, Username: "portal-admin", IP: "10.0.0.1", Status: 200, Digest: "d2"},
	}
	for _, e := range inputs {
		if err := db.InsertSaveEvent(e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := db.ListSaveEvents("", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Outcome != SaveOutcomeSaved || all[2].Outcome != SaveOutcomeBootstrap {
		t.Errorf("expected newest first, got %s..%s", all[0].Outcome, all[2].Outcome)
	}
	if all[0].CreatedAt == "" || all[0].ID <= 0 {
		t.Errorf("expected id and created_at to be assigned: %+v", all[0])
	}

	denied, err := db.ListSaveEvents(SaveOutcomeUnauthorized, 10)
	if err != nil {
		t.Fatalf("list denied: %v", err)
	}
	if len(denied) != 1 || denied[0].Username != "mallory" || denied[0].Detail != "credential mismatch" {
		t.Fatalf("unexpected filtered events: %+v", denied)
	}

	limited, err := db.ListSaveEvents("", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 events, got %d", len(limited))
	}
}

func TestLastSave(t *testing.T) {
	db := newTestDB(t)

	last, err := db.LastSave()
	if err != nil {
		t.Fatalf("last save: %v", err)
	}
	if last != nil {
		t.Fatalf("expected no save, got %+v", last)
	}

	db.InsertSaveEvent(SaveEvent{Outcome: SaveOutcomeSaved, Status: 200, Digest: "first"})
	db.InsertSaveEvent(SaveEvent{Outcome: SaveOutcomeFailed, Status: 500})

	last, err = db.LastSave()
	if err != nil {
		t.Fatalf("last save: %v", err)
	}
	if last == nil || last.Digest != "first" {
		t.Fatalf("expected the successful save, got %+v", last)
	}
}

func TestCleanupSaveEvents(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	withClock(db, now.Add(-100*24*time.Hour))
	db.InsertSaveEvent(SaveEvent{Outcome: SaveOutcomeSaved, Status: 200})
	withClock(db, now.Add(-time.Hour))
	db.InsertSaveEvent(SaveEvent{Outcome: SaveOutcomeSaved, Status: 200})

	withClock(db, now)
	n, err := db.CleanupSaveEvents(90 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	remaining, _ := db.ListSaveEvents("", 10)
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining, got %d", len(remaining))
	}
}
