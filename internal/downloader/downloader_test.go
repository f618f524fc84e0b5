package downloader

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/giftwatch/giftwatch/internal/telegram"
)

type fakeSession struct {
	// direct transport
	data []byte
	// cdn transport
	redirect  *telegram.CDNRedirect
	cdnChunks [][]byte
	hashes    map[int64][]telegram.FileHash
	// reuploadPending marks offsets the CDN cannot serve until the origin
	// reuploads.
	reuploadPending map[int64]bool
	// peer is the CDN session whose pending reuploads this origin session
	// resolves.
	peer *fakeSession

	imports        int
	reuploads      int
	hashCalls      int
	closed         bool
	getFileCalls   int
	cdnChunkCalls  int
	failOnHashCall bool
}

func (s *fakeSession) ImportAuth(ctx context.Context, auth *telegram.ExportedAuth) error {
	s.imports++
	return nil
}

func (s *fakeSession) GetFile(ctx context.Context, ref telegram.DocumentRef, offset int64, limit int) (*telegram.FileChunk, error) {
	s.getFileCalls++
	if s.redirect != nil {
		return &telegram.FileChunk{Redirect: s.redirect}, nil
	}
	if offset >= int64(len(s.data)) {
		return &telegram.FileChunk{}, nil
	}
	end := offset + int64(limit)
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	return &telegram.FileChunk{Bytes: s.data[offset:end]}, nil
}

func (s *fakeSession) GetCDNFile(ctx context.Context, fileToken []byte, offset int64, limit int) (*telegram.CDNChunk, error) {
	s.cdnChunkCalls++
	if s.reuploadPending[offset] {
		return &telegram.CDNChunk{ReuploadToken: []byte("request-token")}, nil
	}
	idx := int(offset / int64(limit))
	if idx >= len(s.cdnChunks) {
		return &telegram.CDNChunk{}, nil
	}
	return &telegram.CDNChunk{Bytes: s.cdnChunks[idx]}, nil
}

func (s *fakeSession) CDNFileHashes(ctx context.Context, fileToken []byte, offset int64) ([]telegram.FileHash, error) {
	s.hashCalls++
	if s.failOnHashCall {
		return nil, errors.New("hash manifest requested on the wrong session")
	}
	return s.hashes[offset], nil
}

func (s *fakeSession) ReuploadCDNFile(ctx context.Context, fileToken, requestToken []byte) error {
	s.reuploads++
	if s.peer != nil {
		for off := range s.peer.reuploadPending {
			delete(s.peer.reuploadPending, off)
		}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	home    int
	origin  *fakeSession
	cdn     *fakeSession
	exports int
}

func (o *fakeOpener) HomeDC() int { return o.home }

func (o *fakeOpener) Open(ctx context.Context, dcID int, cdn bool) (telegram.MediaSession, error) {
	if cdn {
		return o.cdn, nil
	}
	return o.origin, nil
}

func (o *fakeOpener) ExportAuth(ctx context.Context, dcID int) (*telegram.ExportedAuth, error) {
	o.exports++
	return &telegram.ExportedAuth{ID: int64(dcID), Bytes: []byte("exported")}, nil
}

func plaintext(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 31)
	}
	return data
}

// encryptCDN encrypts the whole plaintext as one CTR stream seeded with the
// base IV, then slices it into transfer chunks. The downloader must derive
// the per-chunk counter from the offset to decrypt anything past the first
// chunk, so a plain round-trip bug cannot pass this.
func encryptCDN(t *testing.T, plain, key, baseIV []byte) [][]byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	enc := make([]byte, len(plain))
	cipher.NewCTR(block, baseIV).XORKeyStream(enc, plain)

	var chunks [][]byte
	for off := 0; off < len(enc); off += chunkSize {
		end := off + chunkSize
		if end > len(enc) {
			end = len(enc)
		}
		chunks = append(chunks, enc[off:end])
	}
	return chunks
}

func manifestFor(plain []byte) map[int64][]telegram.FileHash {
	hashes := make(map[int64][]telegram.FileHash)
	for off := 0; off < len(plain); off += chunkSize {
		end := off + chunkSize
		if end > len(plain) {
			end = len(plain)
		}
		sum := sha256.Sum256(plain[off:end])
		hashes[int64(off)] = []telegram.FileHash{{Offset: int64(off), Limit: end - off, Hash: sum[:]}}
	}
	return hashes
}

func cdnSetup(t *testing.T, plain []byte) (*fakeOpener, telegram.DocumentRef) {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	baseIV := append(bytes.Repeat([]byte{0x17}, 12), 0, 0, 0, 0)

	origin := &fakeSession{
		redirect: &telegram.CDNRedirect{
			DCID:          4,
			FileToken:     []byte("token"),
			EncryptionKey: key,
			EncryptionIV:  baseIV,
		},
		cdnChunks: nil,
		hashes:    manifestFor(plain),
	}
	cdn := &fakeSession{
		cdnChunks:       encryptCDN(t, plain, key, baseIV),
		reuploadPending: map[int64]bool{},
		failOnHashCall:  true, // the manifest must come from the origin
	}
	origin.peer = cdn
	opener := &fakeOpener{home: 2, origin: origin, cdn: cdn}
	ref := telegram.DocumentRef{DCID: 2, ID: 1001, AccessHash: 7, FileReference: []byte{1}}
	return opener, ref
}

func TestDirectDownloadMultipleChunks(t *testing.T) {
	plain := plaintext(chunkSize + 513)
	origin := &fakeSession{data: plain}
	opener := &fakeOpener{home: 2, origin: origin}

	buf, err := New(opener).DownloadOne(context.Background(), telegram.DocumentRef{DCID: 2, ID: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), plain) {
		t.Errorf("downloaded %d bytes, mismatch with %d plaintext bytes", buf.Len(), len(plain))
	}
	if origin.getFileCalls != 2 {
		t.Errorf("getFile calls = %d, want 2", origin.getFileCalls)
	}
	if !origin.closed {
		t.Error("origin session not closed after download")
	}
	if opener.exports != 0 {
		t.Errorf("home-DC download exported auth %d times, want 0", opener.exports)
	}
}

func TestForeignDCImportsExportedAuth(t *testing.T) {
	origin := &fakeSession{data: plaintext(64)}
	opener := &fakeOpener{home: 2, origin: origin}

	if _, err := New(opener).DownloadOne(context.Background(), telegram.DocumentRef{DCID: 4, ID: 5}); err != nil {
		t.Fatal(err)
	}
	if opener.exports != 1 || origin.imports != 1 {
		t.Errorf("exports = %d, imports = %d; want 1 and 1", opener.exports, origin.imports)
	}
}

func TestCDNDownloadDecryptsAndVerifies(t *testing.T) {
	plain := plaintext(chunkSize + 64)
	opener, ref := cdnSetup(t, plain)

	buf, err := New(opener).DownloadOne(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), plain) {
		t.Error("decrypted bytes do not match plaintext")
	}
	if opener.origin.hashCalls != 2 {
		t.Errorf("manifest fetched %d times from origin, want 2", opener.origin.hashCalls)
	}
	if !opener.cdn.closed {
		t.Error("cdn session not closed after download")
	}
}

func TestCDNCorruptedChunkAbortsDocument(t *testing.T) {
	plain := plaintext(chunkSize + 64)
	opener, ref := cdnSetup(t, plain)
	opener.cdn.cdnChunks[1][10] ^= 0xFF

	_, err := New(opener).DownloadOne(context.Background(), ref)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("error = %v, want *IntegrityError", err)
	}
	if integrity.DocumentID != ref.ID {
		t.Errorf("IntegrityError.DocumentID = %d, want %d", integrity.DocumentID, ref.ID)
	}

	// The same failure through the batch API must omit the document.
	got := New(opener).DownloadAll(context.Background(), []telegram.DocumentRef{ref})
	if _, ok := got[ref.ID]; ok {
		t.Error("corrupted document present in batch result")
	}
}

func TestCDNReuploadRetriesSameOffset(t *testing.T) {
	plain := plaintext(128)
	opener, ref := cdnSetup(t, plain)
	opener.cdn.reuploadPending[0] = true

	buf, err := New(opener).DownloadOne(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), plain) {
		t.Error("bytes after reupload retry do not match plaintext")
	}
	if opener.origin.reuploads != 1 {
		t.Errorf("reupload requests on origin = %d, want 1", opener.origin.reuploads)
	}
	if opener.cdn.cdnChunkCalls != 2 {
		t.Errorf("cdn chunk calls = %d, want 2 (blocked + retried)", opener.cdn.cdnChunkCalls)
	}
}

func TestDownloadAllGroupsByDC(t *testing.T) {
	a := plaintext(32)
	opener := &fakeOpener{home: 2, origin: &fakeSession{data: a}}

	refs := []telegram.DocumentRef{
		{DCID: 2, ID: 1},
		{DCID: 2, ID: 2},
	}
	got := New(opener).DownloadAll(context.Background(), refs)
	if len(got) != 2 {
		t.Fatalf("downloaded %d documents, want 2", len(got))
	}
	for _, ref := range refs {
		if !bytes.Equal(got[ref.ID].Bytes(), a) {
			t.Errorf("document %d bytes mismatch", ref.ID)
		}
	}
}
