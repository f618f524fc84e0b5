package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/giftwatch/giftwatch/internal/models"
)

func gift(id int64) models.GiftRecord {
	return models.GiftRecord{ID: id, MediaFileName: "sticker.tgs", TotalAmount: 100, AvailableAmount: 100}
}

func storedIDs(t *testing.T, path string) []int64 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	var doc struct {
		StarGifts []models.GiftRecord `json:"star_gifts"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode store file: %v", err)
	}
	ids := make([]int64, len(doc.StarGifts))
	for i, g := range doc.StarGifts {
		ids[i] = g.ID
	}
	return ids
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d gifts", s.Len())
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gifts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, 0); err == nil {
		t.Fatal("expected decode error for corrupt store, got nil")
	}
}

func TestUpsertKeepsAscendingOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gifts.json")
	s, err := Load(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{1, 3, 8} {
		s.Upsert(gift(id))
	}
	s.Upsert(gift(5))
	if err := s.ForceFlush(); err != nil {
		t.Fatal(err)
	}

	got := storedIDs(t, path)
	want := []int64{1, 3, 5, 8}
	if len(got) != len(want) {
		t.Fatalf("stored ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stored ids = %v, want %v", got, want)
		}
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "gifts.json"), 0)
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert(gift(7))
	g := gift(7)
	g.AvailableAmount = 42
	s.Upsert(g)

	if s.Len() != 1 {
		t.Fatalf("expected 1 gift after replacing upsert, got %d", s.Len())
	}
	stored, ok := s.Get(7)
	if !ok || stored.AvailableAmount != 42 {
		t.Errorf("Get(7) = %+v, %v; want available_amount 42", stored, ok)
	}
}

func TestDebouncedFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gifts.json")
	debounce := 100 * time.Millisecond
	s, err := Load(path, debounce)
	if err != nil {
		t.Fatal(err)
	}

	s.Upsert(gift(1))
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := storedIDs(t, path); len(got) != 1 {
		t.Fatalf("first flush wrote %v, want one gift", got)
	}

	// Second upsert inside the debounce window: no durable write.
	s.Upsert(gift(2))
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := storedIDs(t, path); len(got) != 1 {
		t.Fatalf("debounced flush wrote %v, want the first write only", got)
	}

	// After the window elapses the pending state is written.
	time.Sleep(debounce + 20*time.Millisecond)
	s.Upsert(gift(3))
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := storedIDs(t, path); len(got) != 3 {
		t.Fatalf("post-window flush wrote %v, want three gifts", got)
	}
}

func TestForceFlushBypassesDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gifts.json")
	s, err := Load(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert(gift(1))
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	s.Upsert(gift(2))
	if err := s.ForceFlush(); err != nil {
		t.Fatal(err)
	}
	if got := storedIDs(t, path); len(got) != 2 {
		t.Fatalf("force flush wrote %v, want both gifts", got)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gifts.json")
	s, err := Load(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	msgID := int64(555)
	g := gift(9)
	g.NotificationMessageID = &msgID
	g.IsUpgradable = true
	s.Upsert(g)
	if err := s.ForceFlush(); err != nil {
		t.Fatal(err)
	}

	s2, err := Load(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := s2.Get(9)
	if !ok {
		t.Fatal("gift 9 missing after reload")
	}
	if got.NotificationMessageID == nil || *got.NotificationMessageID != 555 || !got.IsUpgradable {
		t.Errorf("reloaded gift = %+v, want message_id 555 and is_upgradable", got)
	}
}
