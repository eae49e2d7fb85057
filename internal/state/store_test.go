package state

import (
	"path/filepath"
	"testing"
	"time"

	"StockSentry/internal/model"
)

func openTestStore(t *testing.T, cooldown time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), cooldown)
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAlert(symbol string, at time.Time) model.Alert {
	sig := &model.Signal{Setup: "RSI_REVERSAL", Direction: model.DirectionLong, Score: 42, Price: 101.5}
	return model.NewAlert(symbol, model.TF1h, sig, at)
}

func TestTryRecordFirstAlertPasses(t *testing.T) {
	s := openTestStore(t, time.Hour)
	now := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

	ok, err := s.TryRecord(testAlert("AAPL", now), now)
	if err != nil {
		t.Fatalf("try record: %v", err)
	}
	if !ok {
		t.Fatal("first alert for a key was suppressed")
	}

	last, found, err := s.LastAlertAt(testAlert("AAPL", now).Key())
	if err != nil || !found {
		t.Fatalf("last alert at: found=%v err=%v", found, err)
	}
	if !last.Equal(now) {
		t.Errorf("last alert at = %v, want %v", last, now)
	}
}

func TestTryRecordSuppressedWithinCooldown(t *testing.T) {
	s := openTestStore(t, time.Hour)
	first := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

	if ok, err := s.TryRecord(testAlert("AAPL", first), first); err != nil || !ok {
		t.Fatalf("first record: ok=%v err=%v", ok, err)
	}

	again := first.Add(30 * time.Minute)
	ok, err := s.TryRecord(testAlert("AAPL", again), again)
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if ok {
		t.Error("alert within cooldown was not suppressed")
	}

	// The suppressed attempt must not refresh the cooldown clock.
	last, _, err := s.LastAlertAt(testAlert("AAPL", first).Key())
	if err != nil {
		t.Fatalf("last alert at: %v", err)
	}
	if !last.Equal(first) {
		t.Errorf("suppressed attempt moved last alert time to %v", last)
	}
}

func TestTryRecordPassesAfterCooldown(t *testing.T) {
	s := openTestStore(t, time.Hour)
	first := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

	if ok, _ := s.TryRecord(testAlert("AAPL", first), first); !ok {
		t.Fatal("first record suppressed")
	}
	later := first.Add(time.Hour + time.Minute)
	ok, err := s.TryRecord(testAlert("AAPL", later), later)
	if err != nil {
		t.Fatalf("record after cooldown: %v", err)
	}
	if !ok {
		t.Error("alert after cooldown expiry was suppressed")
	}
}

func TestCooldownKeysAreIndependent(t *testing.T) {
	s := openTestStore(t, time.Hour)
	now := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

	if ok, _ := s.TryRecord(testAlert("AAPL", now), now); !ok {
		t.Fatal("AAPL record suppressed")
	}
	ok, err := s.TryRecord(testAlert("MSFT", now), now)
	if err != nil {
		t.Fatalf("MSFT record: %v", err)
	}
	if !ok {
		t.Error("different symbol suppressed by another key's cooldown")
	}
}

func TestAlertsSince(t *testing.T) {
	s := openTestStore(t, time.Minute)
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		if ok, err := s.TryRecord(testAlert("AAPL", at), at); err != nil || !ok {
			t.Fatalf("record %d: ok=%v err=%v", i, ok, err)
		}
	}

	records, err := s.AlertsSince(base.Add(90 * time.Minute))
	if err != nil {
		t.Fatalf("alerts since: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].CreatedAt.Before(records[1].CreatedAt) {
		t.Error("records not ordered newest first")
	}
	if records[0].Symbol != "AAPL" || records[0].Setup != "RSI_REVERSAL" {
		t.Errorf("unexpected record contents: %+v", records[0])
	}
}
