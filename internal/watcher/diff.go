package watcher

import (
	"sort"

	"github.com/giftwatch/giftwatch/internal/models"
)

// Diff splits a fresh catalog snapshot against the stored state.
//
// A gift is new when its id is absent from the store. A gift is changed
// when its available amount strictly decreased; increases and equal counts
// are ignored, so a stale read can never roll a notification backwards.
//
// Fields the catalog does not carry are inherited from the stored record
// before the fresh copy is returned: the notification message id, the
// sticky upgrade flag and the first-appearance timestamp.
//
// New gifts come back ordered by ascending total supply (rarest first),
// ties broken by id, so the scarcest items are announced before they can
// sell out.
func Diff(stored map[int64]models.GiftRecord, fresh map[int64]*models.GiftRecord) (news []models.GiftRecord, updates []models.UpdateEvent) {
	for id, f := range fresh {
		old, ok := stored[id]
		if !ok {
			news = append(news, *f)
			continue
		}

		g := *f
		g.NotificationMessageID = old.NotificationMessageID
		g.IsUpgradable = old.IsUpgradable
		if old.FirstAppearanceTimestamp != nil {
			g.FirstAppearanceTimestamp = old.FirstAppearanceTimestamp
		}

		if g.AvailableAmount < old.AvailableAmount {
			updates = append(updates, models.UpdateEvent{Old: old, New: g})
		}
	}

	sort.Slice(news, func(i, j int) bool {
		if news[i].TotalAmount != news[j].TotalAmount {
			return news[i].TotalAmount < news[j].TotalAmount
		}
		return news[i].ID < news[j].ID
	})
	return news, updates
}
