package telegram

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
)

// fileRefVersion guards the packed layout so stored locators from an older
// build fail loudly instead of decoding garbage.
const fileRefVersion = 1

// Encode packs the reference into an opaque base64url string suitable for
// the persisted store.
func (r DocumentRef) Encode() string {
	buf := &bytes.Buffer{}
	buf.WriteByte(fileRefVersion)
	binary.Write(buf, binary.BigEndian, uint16(r.DCID))
	binary.Write(buf, binary.BigEndian, r.ID)
	binary.Write(buf, binary.BigEndian, r.AccessHash)
	binary.Write(buf, binary.BigEndian, uint16(len(r.FileReference)))
	buf.Write(r.FileReference)
	return base64.RawURLEncoding.EncodeToString(buf.Bytes())
}

// DecodeDocumentRef unpacks a locator produced by Encode.
func DecodeDocumentRef(s string) (DocumentRef, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("decode media ref: %w", err)
	}
	buf := bytes.NewReader(raw)

	version, err := buf.ReadByte()
	if err != nil {
		return DocumentRef{}, fmt.Errorf("decode media ref: %w", err)
	}
	if version != fileRefVersion {
		return DocumentRef{}, fmt.Errorf("decode media ref: unsupported version %d", version)
	}

	var (
		dc     uint16
		ref    DocumentRef
		refLen uint16
	)
	for _, field := range []any{&dc, &ref.ID, &ref.AccessHash, &refLen} {
		if err := binary.Read(buf, binary.BigEndian, field); err != nil {
			return DocumentRef{}, fmt.Errorf("decode media ref: %w", err)
		}
	}
	ref.DCID = int(dc)

	ref.FileReference = make([]byte, refLen)
	if _, err := io.ReadFull(buf, ref.FileReference); err != nil {
		return DocumentRef{}, fmt.Errorf("decode media ref: %w", err)
	}
	if buf.Len() != 0 {
		return DocumentRef{}, fmt.Errorf("decode media ref: %d trailing bytes", buf.Len())
	}
	return ref, nil
}
