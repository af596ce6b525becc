package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"vaultkeep/internal/cryptoprim"
	"vaultkeep/internal/errs"
)

// Inner header field IDs. KDBX4 moved the inner random stream ID/key out
// of the outer header (where KDBX3 keeps them, plaintext) into this
// header, which lives inside the decrypted, decompressed payload.
const (
	InnerFieldEnd             byte = 0
	InnerFieldStreamID        byte = 1
	InnerFieldStreamKey       byte = 2
	InnerFieldBinary          byte = 3
)

// BinaryFlag marks a KDBX4 inner-header binary blob as protected-in-memory
// (not protected-on-disk; inner-header binaries are never XOR'd).
type BinaryFlag byte

const BinaryFlagProtected BinaryFlag = 0x01

// InnerHeader carries the inner random stream parameters and the pool of
// binary attachment blobs entries reference by index.
type InnerHeader struct {
	StreamID  cryptoprim.InnerStreamID
	StreamKey []byte
	Binaries  [][]byte
}

// ReadInnerHeader reads the inner header TLV sequence from r (the start of
// the decrypted, decompressed KDBX4 payload).
func ReadInnerHeader(r io.Reader) (*InnerHeader, error) {
	h := &InnerHeader{}
	for {
		var id byte
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, errs.Format("codec.ReadInnerHeader", errors.Wrap(err, "reading field id"))
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, errs.Format("codec.ReadInnerHeader", err)
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, errs.Format("codec.ReadInnerHeader", errors.Wrap(err, "reading field value"))
		}
		switch id {
		case InnerFieldEnd:
			return h, nil
		case InnerFieldStreamID:
			if len(value) != 4 {
				return nil, errs.Format("codec.ReadInnerHeader", errors.New("stream id field has wrong length"))
			}
			h.StreamID = cryptoprim.InnerStreamID(binary.LittleEndian.Uint32(value))
		case InnerFieldStreamKey:
			h.StreamKey = append([]byte(nil), value...)
		case InnerFieldBinary:
			if len(value) < 1 {
				return nil, errs.Format("codec.ReadInnerHeader", errors.New("binary field missing flags byte"))
			}
			h.Binaries = append(h.Binaries, append([]byte(nil), value[1:]...))
		}
	}
}

// WriteInnerHeader serializes h to w.
func WriteInnerHeader(w io.Writer, h *InnerHeader) error {
	writeField := func(id byte, value []byte) error {
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(value))); err != nil {
			return err
		}
		_, err := w.Write(value)
		return err
	}

	streamID := make([]byte, 4)
	binary.LittleEndian.PutUint32(streamID, uint32(h.StreamID))
	if err := writeField(InnerFieldStreamID, streamID); err != nil {
		return errs.IO("codec.WriteInnerHeader", "", err)
	}
	if err := writeField(InnerFieldStreamKey, h.StreamKey); err != nil {
		return errs.IO("codec.WriteInnerHeader", "", err)
	}
	for _, bin := range h.Binaries {
		value := append([]byte{byte(BinaryFlagProtected)}, bin...)
		if err := writeField(InnerFieldBinary, value); err != nil {
			return errs.IO("codec.WriteInnerHeader", "", err)
		}
	}
	if err := writeField(InnerFieldEnd, []byte{'\r', '\n', '\r', '\n'}); err != nil {
		return errs.IO("codec.WriteInnerHeader", "", err)
	}
	return nil
}
