// Package watcher runs the gift reconciliation loop and its dispatchers.
//
// One goroutine polls the catalog and classifies gifts as new or changed.
// New gifts are announced inline (sticker first, then the text as a reply);
// availability changes are queued to a second goroutine that edits the
// existing notifications. A third, optional goroutine probes announced
// gifts for upgradability and posts a one-shot notice per gift.
package watcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/giftwatch/giftwatch/internal/history"
	"github.com/giftwatch/giftwatch/internal/models"
	"github.com/giftwatch/giftwatch/internal/notify"
	"github.com/giftwatch/giftwatch/internal/store"
	"github.com/giftwatch/giftwatch/internal/telegram"
)

// updateQueueSize bounds the change backlog between the reconcile loop and
// the update dispatcher. Overflow drops the oldest information last: events
// that do not fit are discarded and re-derived on the next cycle.
const updateQueueSize = 1024

// Catalog reads the remote gift catalog.
type Catalog interface {
	FetchCatalog(ctx context.Context, fingerprint int64) (*models.CatalogSnapshot, error)
}

// Prober checks whether a gift has become upgradable. A non-nil error means
// "not yet", not a fault.
type Prober interface {
	ProbeUpgrade(ctx context.Context, giftID int64) error
}

// StickerSender posts a sticker document natively and returns the created
// message id.
type StickerSender interface {
	SendSticker(ctx context.Context, chat, filename string, data []byte) (int64, error)
}

// Messenger sends and edits notification texts.
type Messenger interface {
	SendMessage(ctx context.Context, chat, text string, replyTo int64) (int64, error)
	EditMessageText(ctx context.Context, chat string, messageID int64, text string) error
}

// Media fetches sticker documents.
type Media interface {
	DownloadAll(ctx context.Context, refs []telegram.DocumentRef) map[int64]*bytes.Buffer
	DownloadOne(ctx context.Context, ref telegram.DocumentRef) (*bytes.Buffer, error)
}

// Config holds the watcher tunables. Zero durations disable the respective
// pacing sleep.
type Config struct {
	NotifyChat   string
	UpgradesChat string // empty disables the upgrade poller

	CheckInterval         time.Duration
	UpgradeInterval       time.Duration
	UpgradeProbesPerCycle int
	AfterStickerDelay     time.Duration
	AfterTextDelay        time.Duration
	UpdateIdleDelay       time.Duration

	BatchDownloads bool
}

// Watcher owns the reconcile loop, the update dispatcher and the upgrade
// poller. All persistent state goes through the store; the watcher itself
// only keeps the catalog fingerprint and the probe cursor.
type Watcher struct {
	cfg       Config
	store     *store.Store
	history   *history.Recorder
	catalog   Catalog
	prober    Prober
	stickers  StickerSender
	messenger Messenger
	media     Media

	fingerprint   int64
	upgradeCursor int64
	updates       chan models.UpdateEvent

	now func() time.Time
}

// New wires a watcher. The history recorder may be nil.
func New(cfg Config, st *store.Store, hist *history.Recorder, catalog Catalog, prober Prober, stickers StickerSender, messenger Messenger, media Media) *Watcher {
	return &Watcher{
		cfg:       cfg,
		store:     st,
		history:   hist,
		catalog:   catalog,
		prober:    prober,
		stickers:  stickers,
		messenger: messenger,
		media:     media,
		updates:   make(chan models.UpdateEvent, updateQueueSize),
		now:       time.Now,
	}
}

// Run starts the loops and blocks until ctx is cancelled. Pending store
// state is flushed before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	w.runTask(ctx, &wg, "reconcile", w.reconcileLoop)
	w.runTask(ctx, &wg, "updates", w.updateDispatcher)
	if w.cfg.UpgradesChat != "" {
		w.runTask(ctx, &wg, "upgrades", w.upgradePoller)
	} else {
		slog.Info("upgrade poller disabled, no upgrades chat configured")
	}

	wg.Wait()
	if err := w.store.ForceFlush(); err != nil {
		return fmt.Errorf("final store flush: %w", err)
	}
	return nil
}

// runTask launches f on the waitgroup with panic containment, so one
// crashing dispatcher cannot take down its siblings.
func (w *Watcher) runTask(ctx context.Context, wg *sync.WaitGroup, name string, f func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("watcher task panicked", "task", name, "panic", r)
			}
		}()
		slog.Info("watcher task started", "task", name)
		f(ctx)
		slog.Info("watcher task stopped", "task", name)
	}()
}

func (w *Watcher) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	w.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

// cycle runs one fetch-diff-dispatch round.
func (w *Watcher) cycle(ctx context.Context) {
	snap, err := w.catalog.FetchCatalog(ctx, w.fingerprint)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("catalog fetch failed", "error", err)
		}
		return
	}
	if snap.Unchanged {
		slog.Debug("catalog unchanged", "fingerprint", w.fingerprint)
		return
	}
	w.fingerprint = snap.Fingerprint

	news, updates := Diff(w.store.Index(), snap.Gifts)
	if len(news) > 0 || len(updates) > 0 {
		slog.Info("catalog diff", "new", len(news), "changed", len(updates), "total", len(snap.Gifts))
	}

	if len(news) > 0 {
		if failed := w.announceNew(ctx, news); failed > 0 {
			// A failed gift is not stored and must be retried. Holding on to
			// the new fingerprint would make the server answer not-modified
			// and skip every cycle until the catalog itself changes, so
			// force a full snapshot on the next fetch.
			w.fingerprint = 0
			slog.Warn("fingerprint reset to retry failed announcements", "failed", failed)
		}
	}
	for _, ev := range updates {
		select {
		case w.updates <- ev:
		default:
			slog.Warn("update queue full, dropping event", "gift_id", ev.New.ID)
		}
	}

	if err := w.store.Flush(); err != nil {
		slog.Error("store flush failed", "error", err)
	}
}

// announceNew posts each new gift in order and reports how many failed.
// When batching is enabled all stickers are prefetched grouped by data
// center; an item missing from the batch falls back to a single download so
// one broken document does not silence the rest.
func (w *Watcher) announceNew(ctx context.Context, news []models.GiftRecord) (failed int) {
	var prefetched map[int64]*bytes.Buffer
	if w.cfg.BatchDownloads {
		refs := make([]telegram.DocumentRef, 0, len(news))
		for _, g := range news {
			ref, err := telegram.DecodeDocumentRef(g.MediaRef)
			if err != nil {
				slog.Error("bad media ref", "gift_id", g.ID, "error", err)
				continue
			}
			refs = append(refs, ref)
		}
		prefetched = w.media.DownloadAll(ctx, refs)
	}

	for i, g := range news {
		if ctx.Err() != nil {
			return failed + len(news) - i
		}
		if err := w.announceOne(ctx, g, prefetched); err != nil {
			// The gift is not stored, so the next cycle retries it.
			slog.Error("gift announcement failed", "gift_id", g.ID, "error", err)
			failed++
		}
	}
	return failed
}

func (w *Watcher) announceOne(ctx context.Context, g models.GiftRecord, prefetched map[int64]*bytes.Buffer) error {
	ref, err := telegram.DecodeDocumentRef(g.MediaRef)
	if err != nil {
		return fmt.Errorf("decode media ref: %w", err)
	}

	buf, ok := prefetched[ref.ID]
	if !ok {
		if buf, err = w.media.DownloadOne(ctx, ref); err != nil {
			return fmt.Errorf("download sticker: %w", err)
		}
	}

	stickerID, err := w.stickers.SendSticker(ctx, w.cfg.NotifyChat, g.MediaFileName, buf.Bytes())
	if err != nil {
		return fmt.Errorf("send sticker: %w", err)
	}
	sleepCtx(ctx, w.cfg.AfterStickerDelay)

	msgID, err := w.messenger.SendMessage(ctx, w.cfg.NotifyChat, notify.Text(g, w.now()), stickerID)
	if err != nil {
		return fmt.Errorf("send notification text: %w", err)
	}
	if msgID == 0 {
		return fmt.Errorf("notification text for gift %d produced no message id", g.ID)
	}

	g.NotificationMessageID = &msgID
	w.store.Upsert(g)
	if err := w.store.Flush(); err != nil {
		slog.Error("store flush failed", "gift_id", g.ID, "error", err)
	}
	w.history.Record(history.Observation{
		GiftID: g.ID, Ordinal: g.Ordinal,
		AvailableAmount: g.AvailableAmount, TotalAmount: g.TotalAmount,
		Kind: "new", ObservedAt: w.now(),
	})
	slog.Info("gift announced", "gift_id", g.ID, "number", g.Ordinal, "message_id", msgID)

	sleepCtx(ctx, w.cfg.AfterTextDelay)
	return nil
}

// updateDispatcher consumes queued availability changes. Each round drains
// everything currently queued, keeps only the lowest availability seen per
// gift and edits the notifications oldest gift first.
func (w *Watcher) updateDispatcher(ctx context.Context) {
	for {
		batch := w.drainUpdates(ctx)
		if ctx.Err() != nil {
			return
		}
		if len(batch) == 0 {
			sleepCtx(ctx, w.cfg.UpdateIdleDelay)
			continue
		}
		for _, ev := range batch {
			if ctx.Err() != nil {
				return
			}
			w.applyUpdate(ctx, ev)
		}
	}
}

// drainUpdates empties the queue without blocking, deduplicates by gift id
// keeping the event with the lowest remaining availability and orders the
// result by first appearance (oldest first, unknown last, ties by id).
func (w *Watcher) drainUpdates(ctx context.Context) []models.UpdateEvent {
	byID := make(map[int64]models.UpdateEvent)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.updates:
			if prev, ok := byID[ev.New.ID]; !ok || ev.New.AvailableAmount < prev.New.AvailableAmount {
				byID[ev.New.ID] = ev
			}
		default:
			out := make([]models.UpdateEvent, 0, len(byID))
			for _, ev := range byID {
				out = append(out, ev)
			}
			sort.Slice(out, func(i, j int) bool {
				a, b := out[i].Old.FirstAppearanceTimestamp, out[j].Old.FirstAppearanceTimestamp
				switch {
				case a != nil && b != nil && *a != *b:
					return *a < *b
				case a == nil && b != nil:
					return false
				case a != nil && b == nil:
					return true
				}
				return out[i].New.ID < out[j].New.ID
			})
			return out
		}
	}
}

func (w *Watcher) applyUpdate(ctx context.Context, ev models.UpdateEvent) {
	g := ev.New
	if !g.Announced() {
		slog.Debug("change for unannounced gift skipped", "gift_id", g.ID)
		return
	}

	err := w.messenger.EditMessageText(ctx, w.cfg.NotifyChat, *g.NotificationMessageID, notify.Text(g, w.now()))
	if err != nil {
		// Terminal for this cycle; the next diff re-derives the event.
		slog.Error("notification edit failed", "gift_id", g.ID, "error", err)
		return
	}

	w.store.Upsert(g)
	if err := w.store.Flush(); err != nil {
		slog.Error("store flush failed", "gift_id", g.ID, "error", err)
	}
	w.history.Record(history.Observation{
		GiftID: g.ID, Ordinal: g.Ordinal,
		AvailableAmount: g.AvailableAmount, TotalAmount: g.TotalAmount,
		Kind: "update", ObservedAt: w.now(),
	})
	slog.Info("gift availability updated",
		"gift_id", g.ID, "available", g.AvailableAmount, "was", ev.Old.AvailableAmount)
}

// upgradePoller probes a few announced, not-yet-upgradable gifts per tick,
// rotating through the stored set so every candidate is eventually checked.
func (w *Watcher) upgradePoller(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.UpgradeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probeUpgrades(ctx)
		}
	}
}

func (w *Watcher) probeUpgrades(ctx context.Context) {
	var candidates []models.GiftRecord
	for _, g := range w.store.All() {
		if g.Announced() && !g.IsUpgradable {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		return
	}

	// Rotate: continue after the last probed id, wrapping around.
	start := sort.Search(len(candidates), func(i int) bool { return candidates[i].ID > w.upgradeCursor })

	probes := w.cfg.UpgradeProbesPerCycle
	if probes <= 0 || probes > len(candidates) {
		probes = len(candidates)
	}

	var upgradable []models.GiftRecord
	for i := 0; i < probes; i++ {
		if ctx.Err() != nil {
			return
		}
		g := candidates[(start+i)%len(candidates)]
		w.upgradeCursor = g.ID
		if err := w.prober.ProbeUpgrade(ctx, g.ID); err != nil {
			slog.Debug("gift not upgradable yet", "gift_id", g.ID, "error", err)
			continue
		}
		upgradable = append(upgradable, g)
	}
	if len(upgradable) > 0 {
		w.announceUpgrades(ctx, upgradable)
	}
}

// announceUpgrades posts the one-shot upgrade notice for each gift. The
// sticky flag is only persisted after both sends succeed, so a failed
// notice is retried by a later probe.
func (w *Watcher) announceUpgrades(ctx context.Context, gifts []models.GiftRecord) {
	var prefetched map[int64]*bytes.Buffer
	if w.cfg.BatchDownloads {
		refs := make([]telegram.DocumentRef, 0, len(gifts))
		for _, g := range gifts {
			ref, err := telegram.DecodeDocumentRef(g.MediaRef)
			if err != nil {
				slog.Error("bad media ref", "gift_id", g.ID, "error", err)
				continue
			}
			refs = append(refs, ref)
		}
		prefetched = w.media.DownloadAll(ctx, refs)
	}

	for _, g := range gifts {
		if ctx.Err() != nil {
			return
		}
		if err := w.announceUpgrade(ctx, g, prefetched); err != nil {
			slog.Error("upgrade notice failed", "gift_id", g.ID, "error", err)
		}
	}
}

func (w *Watcher) announceUpgrade(ctx context.Context, g models.GiftRecord, prefetched map[int64]*bytes.Buffer) error {
	ref, err := telegram.DecodeDocumentRef(g.MediaRef)
	if err != nil {
		return fmt.Errorf("decode media ref: %w", err)
	}

	buf, ok := prefetched[ref.ID]
	if !ok {
		if buf, err = w.media.DownloadOne(ctx, ref); err != nil {
			return fmt.Errorf("download sticker: %w", err)
		}
	}

	stickerID, err := w.stickers.SendSticker(ctx, w.cfg.UpgradesChat, g.MediaFileName, buf.Bytes())
	if err != nil {
		return fmt.Errorf("send sticker: %w", err)
	}
	sleepCtx(ctx, w.cfg.AfterStickerDelay)

	if _, err := w.messenger.SendMessage(ctx, w.cfg.UpgradesChat, notify.UpgradeText(g), stickerID); err != nil {
		return fmt.Errorf("send upgrade text: %w", err)
	}

	g.IsUpgradable = true
	w.store.Upsert(g)
	if err := w.store.ForceFlush(); err != nil {
		slog.Error("store flush failed", "gift_id", g.ID, "error", err)
	}
	slog.Info("upgrade notice sent", "gift_id", g.ID)

	sleepCtx(ctx, w.cfg.AfterTextDelay)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
