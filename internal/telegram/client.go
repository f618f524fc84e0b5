package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"mime"
	"path/filepath"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/giftwatch/giftwatch/internal/models"
)

// Opts configures the platform client.
type Opts struct {
	APIID       int
	APIHash     string
	SessionFile string
	Phone       string
	Password    string
	// QRLogin switches the interactive login from phone-code to QR.
	QRLogin bool
}

// Client wraps a gotd client and implements the consumed interfaces:
// catalog fetch, upgrade probe, native sticker send and per-DC media
// sessions for the downloader.
type Client struct {
	opts       Opts
	client     *telegram.Client
	dispatcher tg.UpdateDispatcher
	api        *tg.Client
	peers      *peers.Manager
	homeDC     int
}

// New builds the client. The connection is only established inside Run.
func New(opts Opts) *Client {
	dispatcher := tg.NewUpdateDispatcher()
	client := telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionFile},
		UpdateHandler:  dispatcher,
	})
	return &Client{opts: opts, client: client, dispatcher: dispatcher}
}

// Run connects, authorizes if necessary and then invokes f. It returns when
// f returns or the connection dies.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.ensureAuth(ctx); err != nil {
			return fmt.Errorf("authorize: %w", err)
		}

		c.api = c.client.API()
		c.peers = peers.Options{}.Build(c.api)
		c.homeDC = c.client.Config().ThisDC
		slog.Info("platform session ready", "home_dc", c.homeDC)

		return f(ctx)
	})
}

// FetchCatalog fetches the full gift catalog, passing the previous
// fingerprint so the server can answer "unchanged" without a body.
func (c *Client) FetchCatalog(ctx context.Context, fingerprint int64) (*models.CatalogSnapshot, error) {
	res, err := c.api.PaymentsGetStarGifts(ctx, int(fingerprint))
	if err != nil {
		return nil, fmt.Errorf("fetch gift catalog: %w", err)
	}

	switch v := res.(type) {
	case *tg.PaymentsStarGiftsNotModified:
		return &models.CatalogSnapshot{Fingerprint: fingerprint, Unchanged: true}, nil
	case *tg.PaymentsStarGifts:
		return &models.CatalogSnapshot{
			Fingerprint: int64(v.Hash),
			Gifts:       parseCatalog(v.Gifts, time.Now()),
		}, nil
	default:
		return nil, fmt.Errorf("fetch gift catalog: unexpected response %T", res)
	}
}

// ProbeUpgrade checks whether a gift can be upgraded. Any error means "not
// yet upgradable"; callers treat the error as a probe result, not a fault.
func (c *Client) ProbeUpgrade(ctx context.Context, giftID int64) error {
	if _, err := c.api.PaymentsGetStarGiftUpgradePreview(ctx, giftID); err != nil {
		return fmt.Errorf("upgrade preview for gift %d: %w", giftID, err)
	}
	return nil
}

// SendSticker uploads the sticker bytes and sends them as a native media
// message through the primary session, returning the created message id.
// The notification text is later sent as a reply to this message.
func (c *Client) SendSticker(ctx context.Context, chat, filename string, data []byte) (int64, error) {
	peer, err := c.resolvePeer(ctx, chat)
	if err != nil {
		return 0, err
	}

	file, err := uploader.NewUploader(c.api).FromBytes(ctx, filename, data)
	if err != nil {
		return 0, fmt.Errorf("upload sticker %s: %w", filename, err)
	}

	randomID := rand.Int63()
	updates, err := c.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer: peer,
		Media: &tg.InputMediaUploadedDocument{
			File:     file,
			MimeType: stickerMimeType(filename),
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: filename},
			},
		},
		RandomID: randomID,
	})
	if err != nil {
		return 0, fmt.Errorf("send sticker %s: %w", filename, err)
	}

	id, ok := messageIDFromUpdates(updates, randomID)
	if !ok {
		return 0, fmt.Errorf("send sticker %s: no message id in response", filename)
	}
	return id, nil
}

func (c *Client) resolvePeer(ctx context.Context, chat string) (tg.InputPeerClass, error) {
	p, err := c.peers.Resolve(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("resolve chat %s: %w", chat, err)
	}
	return p.InputPeer(), nil
}

// messageIDFromUpdates digs the id of the just-sent message out of the
// update container, preferring the entry matching our random id.
func messageIDFromUpdates(u tg.UpdatesClass, randomID int64) (int64, bool) {
	var list []tg.UpdateClass
	switch v := u.(type) {
	case *tg.Updates:
		list = v.Updates
	case *tg.UpdatesCombined:
		list = v.Updates
	case *tg.UpdateShortSentMessage:
		return int64(v.ID), true
	default:
		return 0, false
	}

	fallback := int64(0)
	for _, upd := range list {
		switch v := upd.(type) {
		case *tg.UpdateMessageID:
			if v.RandomID == randomID {
				return int64(v.ID), true
			}
		case *tg.UpdateNewChannelMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				fallback = int64(m.ID)
			}
		case *tg.UpdateNewMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				fallback = int64(m.ID)
			}
		}
	}
	return fallback, fallback != 0
}

func stickerMimeType(filename string) string {
	switch ext := filepath.Ext(filename); ext {
	case ".tgs":
		return "application/x-tgsticker"
	case ".webm":
		return "video/webm"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
