// Package notify builds the HTML notification texts sent for gifts.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/giftwatch/giftwatch/internal/models"
	"github.com/giftwatch/giftwatch/internal/util"
)

const (
	titleLimited   = "🔥 A new limited gift has appeared"
	titleUnlimited = "❄️ A new gift has appeared"

	timeLayout = "02-01-2006 15:04:05"
)

// Text renders the announcement/edit text for a gift. The same renderer is
// used for the first notification and for availability edits, so an edit
// with unchanged numbers produces byte-identical text and the outbound API
// treats it as a no-op.
func Text(g models.GiftRecord, now time.Time) string {
	var b strings.Builder

	if g.IsLimited {
		b.WriteString(titleLimited)
	} else {
		b.WriteString(titleUnlimited)
	}
	fmt.Fprintf(&b, "\n\n№ %d (<code>%d</code>)\n", g.Ordinal, g.ID)

	if g.IsLimited {
		fmt.Fprintf(&b, "\n🎯 Total: %s", util.PrettyInt(int64(g.TotalAmount)))

		pct, same := availablePercentage(g)
		marker := "~"
		if same {
			marker = ""
		}
		fmt.Fprintf(&b, "\n❓ Available: %s (%s%s%%, updated %s UTC)\n",
			util.PrettyInt(int64(g.AvailableAmount)), marker, pct, now.UTC().Format(timeLayout))
	}

	if d, ok := g.SoldOutDuration(); ok {
		fmt.Fprintf(&b, "\n⏰ Sold out in %s\n", prettyDuration(d))
	}

	fmt.Fprintf(&b, "\n💎 Price: %s ⭐️", util.PrettyInt(g.Price))
	fmt.Fprintf(&b, "\n♻️ Convert price: %s ⭐️\n", util.PrettyInt(g.ConvertPrice))

	if restriction := restrictionLine(g); restriction != "" {
		fmt.Fprintf(&b, "\n✨ %s\n", restriction)
	}

	return b.String()
}

// UpgradeText renders the one-shot notice sent when a gift becomes
// upgradable.
func UpgradeText(g models.GiftRecord) string {
	return fmt.Sprintf("The gift can now be upgraded! (<code>%d</code>)", g.ID)
}

func availablePercentage(g models.GiftRecord) (string, bool) {
	if g.TotalAmount <= 0 {
		return "0", true
	}
	exact := float64(g.AvailableAmount) / float64(g.TotalAmount) * 100
	rounded := util.CeilHundredths(exact)
	s, same := util.PrettyFloat(rounded)
	return s, same && rounded == exact
}

func restrictionLine(g models.GiftRecord) string {
	var parts []string
	if g.RequiresPremium {
		parts = append(parts, "<b>Premium only</b>")
	}
	if g.PerUserCap != nil {
		parts = append(parts, fmt.Sprintf("<b>%s per user</b>", util.PrettyInt(int64(*g.PerUserCap))))
	}
	return strings.Join(parts, " | ")
}

func prettyDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)
	seconds := int64((d - time.Duration(minutes)*time.Minute) / time.Second)

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}
