package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Wire format per frame: 4 byte big-endian payload length, then the payload.
// The payload is an opaque encoded image; nothing above this layer is parsed.

const HeaderSize = 4

// ReadChunkSize bounds a single read while accumulating a payload so one
// frame never forces a single huge read.
const ReadChunkSize = 64 * 1024

var (
	ErrTruncatedStream = errors.New("stream closed mid-frame")
	ErrFrameTooLarge   = errors.New("frame payload exceeds 4 GiB limit")
)

// Encode returns the framed packet for payload: header followed by payload.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrFrameTooLarge
	}
	packet := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(packet[:HeaderSize], uint32(len(payload)))
	copy(packet[HeaderSize:], payload)
	return packet, nil
}

// Write frames payload onto w in a single write so concurrent writers
// cannot interleave header and payload.
func Write(w io.Writer, payload []byte) error {
	packet, err := Encode(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(packet); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Read blocks until a complete frame is available and returns its payload.
// A stream that ends before the header or before the declared payload length
// yields ErrTruncatedStream; no partial payload is ever returned.
func Read(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedStream
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, size)
	received := 0
	for received < int(size) {
		chunk := int(size) - received
		if chunk > ReadChunkSize {
			chunk = ReadChunkSize
		}
		n, err := r.Read(payload[received : received+chunk])
		received += n
		if err != nil && received < int(size) {
			if errors.Is(err, io.EOF) {
				return nil, ErrTruncatedStream
			}
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return payload, nil
}
