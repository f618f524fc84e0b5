package watcher

import (
	"testing"

	"github.com/giftwatch/giftwatch/internal/models"
)

func record(id int64, available, total int) *models.GiftRecord {
	return &models.GiftRecord{ID: id, AvailableAmount: available, TotalAmount: total, IsLimited: total > 0}
}

func TestDiffPartitionsNewAndChanged(t *testing.T) {
	stored := map[int64]models.GiftRecord{
		1: *record(1, 50, 100),
		2: *record(2, 80, 100),
		3: *record(3, 10, 100),
	}
	fresh := map[int64]*models.GiftRecord{
		1: record(1, 50, 100), // unchanged
		2: record(2, 70, 100), // decreased
		3: record(3, 15, 100), // increased, must be ignored
		4: record(4, 99, 100), // new
	}

	news, updates := Diff(stored, fresh)

	if len(news) != 1 || news[0].ID != 4 {
		t.Fatalf("news = %+v, want exactly gift 4", news)
	}
	if len(updates) != 1 || updates[0].New.ID != 2 {
		t.Fatalf("updates = %+v, want exactly gift 2", updates)
	}
	if updates[0].Old.AvailableAmount != 80 || updates[0].New.AvailableAmount != 70 {
		t.Errorf("update amounts = %d -> %d, want 80 -> 70",
			updates[0].Old.AvailableAmount, updates[0].New.AvailableAmount)
	}
}

func TestDiffCarriesForwardStoredFields(t *testing.T) {
	msgID := int64(777)
	first := int64(1700000000)
	old := *record(2, 80, 100)
	old.NotificationMessageID = &msgID
	old.IsUpgradable = true
	old.FirstAppearanceTimestamp = &first

	freshFirst := int64(1800000000)
	fresh := record(2, 70, 100)
	fresh.FirstAppearanceTimestamp = &freshFirst

	_, updates := Diff(map[int64]models.GiftRecord{2: old}, map[int64]*models.GiftRecord{2: fresh})
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	got := updates[0].New
	if got.NotificationMessageID == nil || *got.NotificationMessageID != msgID {
		t.Error("notification message id not carried forward")
	}
	if !got.IsUpgradable {
		t.Error("upgrade flag not carried forward")
	}
	if got.FirstAppearanceTimestamp == nil || *got.FirstAppearanceTimestamp != first {
		t.Error("first appearance timestamp not carried forward")
	}
}

func TestDiffOrdersNewByScarcity(t *testing.T) {
	fresh := map[int64]*models.GiftRecord{
		10: record(10, 5000, 5000),
		11: record(11, 500, 500),
		12: record(12, 500, 500),
		13: record(13, 0, 0), // unlimited
	}

	news, _ := Diff(nil, fresh)

	var got []int64
	for _, g := range news {
		got = append(got, g.ID)
	}
	want := []int64{13, 11, 12, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("announcement order = %v, want %v", got, want)
		}
	}
}
