package telegram

import (
	"fmt"
	"sort"
	"time"

	"github.com/gotd/td/tg"

	"github.com/giftwatch/giftwatch/internal/models"
)

// parseCatalog converts raw catalog entries into gift records keyed by id.
// Ordinals are assigned over the gifts sorted ascending by id and are only
// stable within this one fetch. Entries without a usable sticker document
// are skipped.
func parseCatalog(raw []tg.StarGiftClass, now time.Time) map[int64]*models.GiftRecord {
	gifts := make([]*tg.StarGift, 0, len(raw))
	for _, entry := range raw {
		if g, ok := entry.(*tg.StarGift); ok {
			gifts = append(gifts, g)
		}
	}
	sort.Slice(gifts, func(i, j int) bool { return gifts[i].ID < gifts[j].ID })

	out := make(map[int64]*models.GiftRecord, len(gifts))
	for i, g := range gifts {
		doc, ok := g.Sticker.AsNotEmpty()
		if !ok {
			continue
		}

		ref := DocumentRef{
			DCID:          doc.DCID,
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}

		record := &models.GiftRecord{
			ID:            g.ID,
			Ordinal:       i + 1,
			MediaRef:      ref.Encode(),
			MediaFileName: stickerFileName(doc, g.ID),
			Price:         g.Stars,
			ConvertPrice:  g.ConvertStars,
			IsLimited:     g.Limited,
		}

		if v, ok := g.GetAvailabilityRemains(); ok {
			record.AvailableAmount = v
		}
		if v, ok := g.GetAvailabilityTotal(); ok {
			record.TotalAmount = v
		}
		record.RequiresPremium = g.RequirePremium
		if g.LimitedPerUser {
			if v, ok := g.GetPerUserTotal(); ok {
				perUser := v
				record.PerUserCap = &perUser
			}
		}

		first := now.Unix()
		if v, ok := g.GetFirstSaleDate(); ok {
			first = int64(v)
		}
		record.FirstAppearanceTimestamp = &first
		if v, ok := g.GetLastSaleDate(); ok {
			last := int64(v)
			record.LastSaleTimestamp = &last
		}

		out[g.ID] = record
	}
	return out
}

// stickerFileName extracts the document's file name attribute, falling back
// to "<gift id>.tgs".
func stickerFileName(doc *tg.Document, giftID int64) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok && fn.FileName != "" {
			return fn.FileName
		}
	}
	return fmt.Sprintf("%d.tgs", giftID)
}
