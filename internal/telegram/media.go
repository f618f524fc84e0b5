package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

// HomeDC returns the data center of the primary session.
func (c *Client) HomeDC() int {
	return c.homeDC
}

// Open dials a dedicated connection pool to the given data center and wraps
// it as a media session. The pool performs the transport handshake for both
// regular and CDN nodes.
func (c *Client) Open(ctx context.Context, dcID int, cdn bool) (MediaSession, error) {
	invoker, err := c.client.DC(ctx, dcID, 1)
	if err != nil {
		return nil, fmt.Errorf("open session to dc %d (cdn=%v): %w", dcID, cdn, err)
	}
	return &mediaSession{raw: tg.NewClient(invoker), closer: invoker}, nil
}

// ExportAuth exports an authorization for dcID through the primary session.
func (c *Client) ExportAuth(ctx context.Context, dcID int) (*ExportedAuth, error) {
	res, err := c.api.AuthExportAuthorization(ctx, dcID)
	if err != nil {
		return nil, fmt.Errorf("export authorization for dc %d: %w", dcID, err)
	}
	return &ExportedAuth{ID: res.ID, Bytes: res.Bytes}, nil
}

// mediaSession adapts a per-DC invoker to the MediaSession interface.
type mediaSession struct {
	raw    *tg.Client
	closer telegram.CloseInvoker
}

func (s *mediaSession) ImportAuth(ctx context.Context, auth *ExportedAuth) error {
	_, err := s.raw.AuthImportAuthorization(ctx, &tg.AuthImportAuthorizationRequest{
		ID:    auth.ID,
		Bytes: auth.Bytes,
	})
	if err != nil {
		return fmt.Errorf("import authorization: %w", err)
	}
	return nil
}

func (s *mediaSession) GetFile(ctx context.Context, ref DocumentRef, offset int64, limit int) (*FileChunk, error) {
	res, err := s.raw.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise:      true,
		CDNSupported: true,
		Location: &tg.InputDocumentFileLocation{
			ID:            ref.ID,
			AccessHash:    ref.AccessHash,
			FileReference: ref.FileReference,
		},
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get file chunk at %d: %w", offset, err)
	}

	switch v := res.(type) {
	case *tg.UploadFile:
		return &FileChunk{Bytes: v.Bytes}, nil
	case *tg.UploadFileCDNRedirect:
		return &FileChunk{Redirect: &CDNRedirect{
			DCID:          v.DCID,
			FileToken:     v.FileToken,
			EncryptionKey: v.EncryptionKey,
			EncryptionIV:  v.EncryptionIv,
		}}, nil
	default:
		return nil, fmt.Errorf("get file chunk at %d: unexpected response %T", offset, res)
	}
}

func (s *mediaSession) GetCDNFile(ctx context.Context, fileToken []byte, offset int64, limit int) (*CDNChunk, error) {
	res, err := s.raw.UploadGetCDNFile(ctx, &tg.UploadGetCDNFileRequest{
		FileToken: fileToken,
		Offset:    offset,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get cdn chunk at %d: %w", offset, err)
	}

	switch v := res.(type) {
	case *tg.UploadCDNFile:
		return &CDNChunk{Bytes: v.Bytes}, nil
	case *tg.UploadCDNFileReuploadNeeded:
		return &CDNChunk{ReuploadToken: v.RequestToken}, nil
	default:
		return nil, fmt.Errorf("get cdn chunk at %d: unexpected response %T", offset, res)
	}
}

func (s *mediaSession) CDNFileHashes(ctx context.Context, fileToken []byte, offset int64) ([]FileHash, error) {
	res, err := s.raw.UploadGetCDNFileHashes(ctx, &tg.UploadGetCDNFileHashesRequest{
		FileToken: fileToken,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("get cdn hash manifest at %d: %w", offset, err)
	}

	hashes := make([]FileHash, len(res))
	for i, h := range res {
		hashes[i] = FileHash{Offset: h.Offset, Limit: h.Limit, Hash: h.Hash}
	}
	return hashes, nil
}

func (s *mediaSession) ReuploadCDNFile(ctx context.Context, fileToken, requestToken []byte) error {
	_, err := s.raw.UploadReuploadCDNFile(ctx, &tg.UploadReuploadCDNFileRequest{
		FileToken:    fileToken,
		RequestToken: requestToken,
	})
	if err != nil {
		return fmt.Errorf("request cdn reupload: %w", err)
	}
	return nil
}

func (s *mediaSession) Close() error {
	return s.closer.Close()
}
