package quantum

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// CanonicalDescriptor is the deterministic byte serialization sealed inside
// every envelope. Field order and encoding are fixed: changing either
// changes every quantum_hash ever derived.
type CanonicalDescriptor struct {
	TransferID    string
	SourceChain   string
	DestChain     string
	SourceAsset   string
	DestAsset     string
	AmountSource  *big.Int
	AmountDest    *big.Int
	Sender        string
	Recipient     string
	IssuedAtUnix  int64
}

// Encode serializes the descriptor as a big-endian length-prefixed
// concatenation of UTF-8 strings and 256-bit amounts, in exactly the field
// order above; IssuedAtUnix is the one integer not widened to 256 bits and
// is written as 8 big-endian bytes. No JSON, no whitespace, no self-describing schema: two
// descriptors with identical fields MUST encode byte-identically.
func (d CanonicalDescriptor) Encode() []byte {
	var buf []byte
	buf = appendString(buf, d.TransferID)
	buf = appendString(buf, d.SourceChain)
	buf = appendString(buf, d.DestChain)
	buf = appendString(buf, d.SourceAsset)
	buf = appendString(buf, d.DestAsset)
	buf = appendUint256(buf, d.AmountSource)
	buf = appendUint256(buf, d.AmountDest)
	buf = appendString(buf, d.Sender)
	buf = appendString(buf, d.Recipient)
	buf = appendInt64(buf, d.IssuedAtUnix)
	return buf
}

// DecodeCanonicalDescriptor reverses Encode. It is used only on the
// decapsulating side, after the AEAD layer has already authenticated buf.
func DecodeCanonicalDescriptor(buf []byte) (CanonicalDescriptor, error) {
	var d CanonicalDescriptor
	r := byteReader{buf: buf}

	var err error
	if d.TransferID, err = r.readString(); err != nil {
		return d, fmt.Errorf("quantum: decode transfer_id: %w", err)
	}
	if d.SourceChain, err = r.readString(); err != nil {
		return d, fmt.Errorf("quantum: decode source_chain: %w", err)
	}
	if d.DestChain, err = r.readString(); err != nil {
		return d, fmt.Errorf("quantum: decode dest_chain: %w", err)
	}
	if d.SourceAsset, err = r.readString(); err != nil {
		return d, fmt.Errorf("quantum: decode source_asset: %w", err)
	}
	if d.DestAsset, err = r.readString(); err != nil {
		return d, fmt.Errorf("quantum: decode dest_asset: %w", err)
	}
	if d.AmountSource, err = r.readUint256(); err != nil {
		return d, fmt.Errorf("quantum: decode amount_source: %w", err)
	}
	if d.AmountDest, err = r.readUint256(); err != nil {
		return d, fmt.Errorf("quantum: decode amount_dest: %w", err)
	}
	if d.Sender, err = r.readString(); err != nil {
		return d, fmt.Errorf("quantum: decode sender: %w", err)
	}
	if d.Recipient, err = r.readString(); err != nil {
		return d, fmt.Errorf("quantum: decode recipient: %w", err)
	}
	if d.IssuedAtUnix, err = r.readInt64(); err != nil {
		return d, fmt.Errorf("quantum: decode issued_at_unix: %w", err)
	}
	if !r.atEnd() {
		return d, fmt.Errorf("quantum: decode: %d trailing bytes", len(r.buf)-r.pos)
	}
	return d, nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) atEnd() bool { return r.pos == len(r.buf) }

func (r *byteReader) readString() (string, error) {
	if len(r.buf)-r.pos < 4 {
		return "", fmt.Errorf("too short for a length prefix")
	}
	n := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	if uint32(len(r.buf)-r.pos) < n {
		return "", fmt.Errorf("declared length %d exceeds remaining bytes", n)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *byteReader) readUint256() (*big.Int, error) {
	if len(r.buf)-r.pos < 32 {
		return nil, fmt.Errorf("too short for a 256-bit integer")
	}
	v := new(big.Int).SetBytes(r.buf[r.pos : r.pos+32])
	r.pos += 32
	return v, nil
}

func (r *byteReader) readInt64() (int64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, fmt.Errorf("too short for an int64")
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8]))
	r.pos += 8
	return v, nil
}

func appendString(buf []byte, s string) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(s)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, s...)
}

// appendUint256 encodes a non-negative *big.Int as a fixed 32-byte
// big-endian integer, so amounts of differing magnitude still produce
// fixed-width, directly comparable encodings.
func appendUint256(buf []byte, v *big.Int) []byte {
	var word [32]byte
	if v != nil {
		v.FillBytes(word[:])
	}
	return append(buf, word[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
