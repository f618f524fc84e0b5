package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/giftwatch/giftwatch/internal/models"
)

func TestTextLimitedGift(t *testing.T) {
	perUser := 3
	g := models.GiftRecord{
		ID:              5170233102089322756,
		Ordinal:         12,
		Price:           12500,
		ConvertPrice:    10000,
		AvailableAmount: 1500,
		TotalAmount:     3000,
		IsLimited:       true,
		RequiresPremium: true,
		PerUserCap:      &perUser,
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	text := Text(g, now)

	for _, want := range []string{
		"limited gift",
		"№ 12 (<code>5170233102089322756</code>)",
		"🎯 Total: 3,000",
		"❓ Available: 1,500 (50%",
		"updated 01-03-2025 12:00:00 UTC",
		"💎 Price: 12,500 ⭐️",
		"♻️ Convert price: 10,000 ⭐️",
		"<b>Premium only</b> | <b>3 per user</b>",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
}

func TestTextUnlimitedGiftHasNoAmounts(t *testing.T) {
	g := models.GiftRecord{ID: 1, Ordinal: 1, Price: 100, ConvertPrice: 80}
	text := Text(g, time.Now())

	if strings.Contains(text, "Total:") || strings.Contains(text, "Available:") {
		t.Errorf("unlimited gift text must not show amounts:\n%s", text)
	}
	if !strings.Contains(text, titleUnlimited) {
		t.Errorf("unlimited gift text missing title:\n%s", text)
	}
}

func TestTextApproximatePercentageMarked(t *testing.T) {
	g := models.GiftRecord{
		ID: 2, Ordinal: 2, IsLimited: true,
		AvailableAmount: 123, TotalAmount: 10000,
	}
	text := Text(g, time.Now())
	// 1.23% rounds to one significant figure; the marker flags the loss.
	if !strings.Contains(text, "(~1%") {
		t.Errorf("expected approximated percentage ~1%%:\n%s", text)
	}
}

func TestTextSoldOutDuration(t *testing.T) {
	first := int64(1000)
	last := int64(1000 + 90061) // 1d 1h 1m 1s
	g := models.GiftRecord{
		ID: 3, Ordinal: 3, IsLimited: true,
		FirstAppearanceTimestamp: &first,
		LastSaleTimestamp:        &last,
	}
	text := Text(g, time.Now())
	if !strings.Contains(text, "⏰ Sold out in 1d 1h 1m 1s") {
		t.Errorf("expected sold-out duration line:\n%s", text)
	}
}

func TestUpgradeText(t *testing.T) {
	got := UpgradeText(models.GiftRecord{ID: 42})
	if !strings.Contains(got, "<code>42</code>") {
		t.Errorf("UpgradeText = %q, want gift id in code tags", got)
	}
}
