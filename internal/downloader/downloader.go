// Package downloader streams sticker documents out of the platform's file
// storage.
//
// Documents are fetched in fixed-size chunks from their origin data center.
// When the origin answers with a CDN redirect instead of bytes, the chunks
// are fetched from the designated content node, decrypted with AES-CTR and
// verified against a hash manifest served by the origin. One session per
// data center is opened for a whole batch and closed afterwards.
package downloader

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/giftwatch/giftwatch/internal/telegram"
)

// chunkSize is the fixed request size; a shorter chunk marks the end of the
// document.
const chunkSize = 1024 * 1024

// IntegrityError reports a decrypted CDN chunk that does not match the hash
// manifest. The affected document is dropped; everything already written
// for it is discarded.
type IntegrityError struct {
	DocumentID int64
	Offset     int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("downloader: hash mismatch for document %d at offset %d", e.DocumentID, e.Offset)
}

// Downloader fetches documents through sessions supplied by the opener.
type Downloader struct {
	opener telegram.SessionOpener
}

// New creates a Downloader on top of a session opener.
func New(opener telegram.SessionOpener) *Downloader {
	return &Downloader{opener: opener}
}

// DownloadAll fetches every referenced document, grouping refs by origin
// data center so each center's session is opened once per batch. Failed
// documents are logged and omitted from the result; they do not abort the
// batch.
func (d *Downloader) DownloadAll(ctx context.Context, refs []telegram.DocumentRef) map[int64]*bytes.Buffer {
	byDC := make(map[int][]telegram.DocumentRef)
	for _, ref := range refs {
		byDC[ref.DCID] = append(byDC[ref.DCID], ref)
	}

	out := make(map[int64]*bytes.Buffer, len(refs))
	for dcID, group := range byDC {
		sess, err := d.openOrigin(ctx, dcID)
		if err != nil {
			slog.Error("media session open failed", "dc", dcID, "documents", len(group), "error", err)
			continue
		}

		for _, ref := range group {
			buf, err := d.download(ctx, sess, ref)
			if err != nil {
				slog.Error("document download failed", "dc", dcID, "document_id", ref.ID, "error", err)
				continue
			}
			out[ref.ID] = buf
			slog.Info("document downloaded",
				"dc", dcID, "document_id", ref.ID, "bytes", buf.Len(),
				"done", len(out), "total", len(refs))
		}

		if err := sess.Close(); err != nil {
			slog.Warn("media session close failed", "dc", dcID, "error", err)
		}
	}
	return out
}

// DownloadOne fetches a single document on a dedicated session. Used when
// batching is disabled or an item was missing from the prefetched batch.
func (d *Downloader) DownloadOne(ctx context.Context, ref telegram.DocumentRef) (*bytes.Buffer, error) {
	sess, err := d.openOrigin(ctx, ref.DCID)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return d.download(ctx, sess, ref)
}

// openOrigin opens a session to the document's data center. Foreign data
// centers only accept requests after importing an authorization exported
// from the primary session.
func (d *Downloader) openOrigin(ctx context.Context, dcID int) (telegram.MediaSession, error) {
	sess, err := d.opener.Open(ctx, dcID, false)
	if err != nil {
		return nil, err
	}
	if dcID != d.opener.HomeDC() {
		exported, err := d.opener.ExportAuth(ctx, dcID)
		if err != nil {
			sess.Close()
			return nil, err
		}
		if err := sess.ImportAuth(ctx, exported); err != nil {
			sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

func (d *Downloader) download(ctx context.Context, sess telegram.MediaSession, ref telegram.DocumentRef) (*bytes.Buffer, error) {
	chunk, err := sess.GetFile(ctx, ref, 0, chunkSize)
	if err != nil {
		return nil, err
	}
	if chunk.Redirect != nil {
		return d.downloadCDN(ctx, sess, ref, chunk.Redirect)
	}

	buf := &bytes.Buffer{}
	offset := int64(0)
	for {
		buf.Write(chunk.Bytes)
		offset += chunkSize
		if len(chunk.Bytes) < chunkSize {
			return buf, nil
		}
		if chunk, err = sess.GetFile(ctx, ref, offset, chunkSize); err != nil {
			return nil, err
		}
		if chunk.Redirect != nil {
			return nil, fmt.Errorf("unexpected cdn redirect mid-document at offset %d", offset)
		}
	}
}

// downloadCDN fetches all chunks from the content node named by the
// redirect. Hash manifests and reupload requests go to the origin session;
// only the chunk bytes come from the CDN. The CDN session is closed no
// matter how the download ends.
func (d *Downloader) downloadCDN(ctx context.Context, origin telegram.MediaSession, ref telegram.DocumentRef, r *telegram.CDNRedirect) (*bytes.Buffer, error) {
	cdn, err := d.opener.Open(ctx, r.DCID, true)
	if err != nil {
		return nil, fmt.Errorf("open cdn session to dc %d: %w", r.DCID, err)
	}
	defer cdn.Close()

	buf := &bytes.Buffer{}
	offset := int64(0)
	for {
		chunk, err := cdn.GetCDNFile(ctx, r.FileToken, offset, chunkSize)
		if err != nil {
			return nil, err
		}
		if chunk.ReuploadToken != nil {
			// The CDN does not hold the bytes yet; the origin must push
			// them before the same offset is retried.
			if err := origin.ReuploadCDNFile(ctx, r.FileToken, chunk.ReuploadToken); err != nil {
				return nil, fmt.Errorf("cdn reupload at offset %d: %w", offset, err)
			}
			continue
		}

		plain, err := decryptChunk(chunk.Bytes, r.EncryptionKey, r.EncryptionIV, offset)
		if err != nil {
			return nil, err
		}

		hashes, err := origin.CDNFileHashes(ctx, r.FileToken, offset)
		if err != nil {
			return nil, err
		}
		if err := verifyChunk(plain, hashes, ref.ID, offset); err != nil {
			return nil, err
		}

		buf.Write(plain)
		offset += chunkSize
		if len(chunk.Bytes) < chunkSize {
			return buf, nil
		}
	}
}

// decryptChunk applies AES-256-CTR with the counter block derived from the
// base IV: its low-order four bytes are replaced by the chunk offset
// divided by the cipher block size.
func decryptChunk(data, key, baseIV []byte, offset int64) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cdn cipher init: %w", err)
	}
	if len(baseIV) != aes.BlockSize {
		return nil, fmt.Errorf("cdn iv length %d, want %d", len(baseIV), aes.BlockSize)
	}

	iv := make([]byte, aes.BlockSize)
	copy(iv, baseIV)
	binary.BigEndian.PutUint32(iv[aes.BlockSize-4:], uint32(offset/aes.BlockSize))

	plain := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(plain, data)
	return plain, nil
}

// verifyChunk checks the decrypted bytes against the manifest ranges for
// this chunk. The ranges are contiguous from the chunk start; a mismatch is
// fatal for the document.
func verifyChunk(plain []byte, hashes []telegram.FileHash, documentID, chunkOffset int64) error {
	pos := 0
	for _, h := range hashes {
		if pos >= len(plain) {
			break
		}
		end := pos + h.Limit
		if end > len(plain) {
			end = len(plain)
		}
		sum := sha256.Sum256(plain[pos:end])
		if !bytes.Equal(sum[:], h.Hash) {
			return &IntegrityError{DocumentID: documentID, Offset: chunkOffset + int64(pos)}
		}
		pos = end
	}
	return nil
}
