// Package models defines the data types shared across giftwatch components.
package models

import "time"

// GiftRecord is one entry of the remote gift catalog. The JSON tags match
// the persisted store file, which keeps the snake_case keys of the original
// data format.
type GiftRecord struct {
	// ID is globally unique and externally assigned. It never changes once
	// observed and is the sort/merge key of the persistent store.
	ID int64 `json:"id"`
	// Ordinal is the 1-based rank among all gifts within one catalog fetch.
	Ordinal int `json:"number"`
	// MediaRef is the opaque locator of the sticker document, produced by
	// the telegram package (data center, document id, access hash and the
	// file reference proving authorization).
	MediaRef      string `json:"sticker_file_id"`
	MediaFileName string `json:"sticker_file_name"`

	Price        int64 `json:"price"`
	ConvertPrice int64 `json:"convert_price"`

	AvailableAmount int  `json:"available_amount"`
	TotalAmount     int  `json:"total_amount"`
	IsLimited       bool `json:"is_limited"`

	RequiresPremium bool `json:"require_premium"`
	// PerUserCap is the per-user purchase limit, nil when unrestricted.
	PerUserCap *int `json:"user_limited"`

	FirstAppearanceTimestamp *int64 `json:"first_appearance_timestamp"`
	LastSaleTimestamp        *int64 `json:"last_sale_timestamp"`

	// NotificationMessageID is the Bot API message id of the notification
	// text. Write-once: only the new-gift announcement sets it; the update
	// dispatcher and the upgrade poller carry it forward unchanged.
	NotificationMessageID *int64 `json:"message_id"`

	// IsUpgradable is sticky: once set it is never rechecked.
	IsUpgradable bool `json:"is_upgradable"`
}

// Announced reports whether the gift's first notification has been sent.
func (g *GiftRecord) Announced() bool {
	return g.NotificationMessageID != nil
}

// SoldOutDuration returns the time between first appearance and the last
// sale. It is only defined when both timestamps are present, which means
// the gift has fully sold out.
func (g *GiftRecord) SoldOutDuration() (time.Duration, bool) {
	if g.FirstAppearanceTimestamp == nil || g.LastSaleTimestamp == nil {
		return 0, false
	}
	return time.Duration(*g.LastSaleTimestamp-*g.FirstAppearanceTimestamp) * time.Second, true
}

// CatalogSnapshot is one full point-in-time read of the remote catalog.
type CatalogSnapshot struct {
	// Fingerprint is the change token to pass on the next fetch.
	Fingerprint int64
	// Unchanged is set when the remote reported no change since the
	// fingerprint supplied; Gifts is nil in that case.
	Unchanged bool
	Gifts     map[int64]*GiftRecord
}

// UpdateEvent is an availability change queued for the update dispatcher.
// New already carries the fields inherited from Old (message id, upgrade
// flag); both are kept so the dispatcher can order and deduplicate.
type UpdateEvent struct {
	Old GiftRecord
	New GiftRecord
}
