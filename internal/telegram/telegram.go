// Package telegram is the boundary to the messaging platform.
//
// The watcher and downloader consume the narrow interfaces declared here;
// the gotd/td-backed Client in this package implements all of them. Nothing
// outside this package touches MTProto types.
package telegram

import "context"

// DocumentRef locates a sticker document: origin data center, document id,
// access hash and the file reference proving authorization.
type DocumentRef struct {
	DCID          int
	ID            int64
	AccessHash    int64
	FileReference []byte
}

// ExportedAuth is an authorization exported from the primary session for
// use on another data center.
type ExportedAuth struct {
	ID    int64
	Bytes []byte
}

// CDNRedirect instructs the downloader to fetch a document from a separate
// content-delivery node instead of the origin session.
type CDNRedirect struct {
	DCID          int
	FileToken     []byte
	EncryptionKey []byte // AES-256 key
	EncryptionIV  []byte // 16-byte base IV; low 4 bytes are replaced per chunk
}

// FileChunk is the result of one origin chunk request. Exactly one of
// Bytes and Redirect is meaningful.
type FileChunk struct {
	Bytes    []byte
	Redirect *CDNRedirect
}

// CDNChunk is the result of one CDN chunk request. A non-nil ReuploadToken
// means the CDN does not hold the bytes yet and the origin must be asked to
// reupload before retrying the same offset.
type CDNChunk struct {
	Bytes         []byte
	ReuploadToken []byte
}

// FileHash is one entry of the hash manifest covering a byte range of the
// decrypted document.
type FileHash struct {
	Offset int64
	Limit  int
	Hash   []byte // SHA-256 of the range
}

// MediaSession is an authenticated connection to one data center, scoped to
// a single download batch.
type MediaSession interface {
	// ImportAuth imports an authorization exported from the primary
	// session. Required before any request on a non-home data center.
	ImportAuth(ctx context.Context, auth *ExportedAuth) error
	// GetFile fetches one chunk of a document by offset/limit.
	GetFile(ctx context.Context, ref DocumentRef, offset int64, limit int) (*FileChunk, error)
	// GetCDNFile fetches one chunk from a CDN node by file token.
	GetCDNFile(ctx context.Context, fileToken []byte, offset int64, limit int) (*CDNChunk, error)
	// CDNFileHashes fetches the hash manifest for the chunk at offset. It
	// must be invoked on the origin session, never the CDN one.
	CDNFileHashes(ctx context.Context, fileToken []byte, offset int64) ([]FileHash, error)
	// ReuploadCDNFile asks the origin to push the document to the CDN
	// again. Invoked on the origin session.
	ReuploadCDNFile(ctx context.Context, fileToken, requestToken []byte) error
	Close() error
}

// SessionOpener creates per-data-center media sessions.
type SessionOpener interface {
	// HomeDC is the data center of the primary session.
	HomeDC() int
	// Open dials a media session to the given data center. cdn selects a
	// content-delivery node connection.
	Open(ctx context.Context, dcID int, cdn bool) (MediaSession, error)
	// ExportAuth exports an authorization for dcID via the primary session.
	ExportAuth(ctx context.Context, dcID int) (*ExportedAuth, error)
}
