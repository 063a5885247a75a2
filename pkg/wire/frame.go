// Package wire implements the framing and sub-protocol negotiation
// described in spec.md §4.9: length-delimited CBOR frames for
// gossip/membership/interrogation, and an upgrade tag identifying
// which sub-protocol a freshly opened stream speaks.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameLen bounds a single CBOR frame so a corrupt or hostile
// length prefix cannot make a reader allocate unbounded memory.
const maxFrameLen = 16 << 20 // 16 MiB

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build cbor encoder: %v", err))
	}
	return m
}()

// WriteFrame writes v as a length-delimited CBOR frame: a 4-byte
// big-endian length prefix followed by the CBOR encoding.
func WriteFrame(w io.Writer, v any) error {
	body, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	if len(body) > maxFrameLen {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit %d", len(body), maxFrameLen)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-delimited CBOR frame and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameLen {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit %d", n, maxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("wire: read frame body: %w", err)
	}
	if err := cbor.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	return nil
}

// FrameReader wraps a buffered reader so repeated ReadFrame calls
// don't each pay a syscall for the length prefix.
func FrameReader(r io.Reader) *bufio.Reader { return bufio.NewReader(r) }
