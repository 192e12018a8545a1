// Package wire implements the framed JSON protocol spoken between the worker
// and its clients: "MSG:" | uint32 big-endian length | UTF-8 JSON payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Delimiter marks the start of every frame.
const Delimiter = "MSG:"

const (
	headerLen = len(Delimiter) + 4
	// DefaultMaxFrameBytes bounds a single payload.
	DefaultMaxFrameBytes = 16 << 20
	readChunk            = 32 << 10
)

var (
	// ErrFrameTooLarge is returned when a header announces a payload above the
	// limit. The decoder skips that delimiter and resynchronises.
	ErrFrameTooLarge = errors.New("wire: frame exceeds limit")
	delimiter        = []byte(Delimiter)
)

// Frame wraps payload in a header.
func Frame(payload []byte) []byte {
	out := make([]byte, headerLen+len(payload))
	copy(out, delimiter)
	binary.BigEndian.PutUint32(out[len(Delimiter):headerLen], uint32(len(payload)))
	copy(out[headerLen:], payload)
	return out
}

// Decoder reassembles frames from an arbitrarily chunked byte stream.
type Decoder struct {
	buf       []byte
	maxFrame  int
	discarded int
}

// NewDecoder builds a decoder. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Decoder{maxFrame: maxFrame}
}

// Feed appends received bytes.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered reports how many bytes are waiting.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Discarded reports how many garbage bytes were skipped so far.
func (d *Decoder) Discarded() int { return d.discarded }

// Next returns the next complete payload. ok is false when more bytes are
// needed; a truncated frame is not an error.
func (d *Decoder) Next() (payload []byte, ok bool, err error) {
	idx := bytes.Index(d.buf, delimiter)
	if idx < 0 {
		// keep a possible partial delimiter at the tail
		keep := len(delimiter) - 1
		if len(d.buf) > keep {
			d.discarded += len(d.buf) - keep
			d.buf = append(d.buf[:0], d.buf[len(d.buf)-keep:]...)
		}
		return nil, false, nil
	}
	if idx > 0 {
		d.discarded += idx
		d.buf = append(d.buf[:0], d.buf[idx:]...)
	}
	if len(d.buf) < headerLen {
		return nil, false, nil
	}
	size := binary.BigEndian.Uint32(d.buf[len(Delimiter):headerLen])
	if uint64(size) > uint64(d.maxFrame) {
		d.buf = append(d.buf[:0], d.buf[len(Delimiter):]...)
		return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, d.maxFrame)
	}
	end := headerLen + int(size)
	if len(d.buf) < end {
		return nil, false, nil
	}
	payload = make([]byte, size)
	copy(payload, d.buf[headerLen:end])
	d.buf = append(d.buf[:0], d.buf[end:]...)
	return payload, true, nil
}

// Reader pulls payloads from a stream.
type Reader struct {
	r     io.Reader
	dec   *Decoder
	chunk []byte
}

// NewReader wraps r.
func NewReader(r io.Reader, maxFrame int) *Reader {
	return &Reader{r: r, dec: NewDecoder(maxFrame), chunk: make([]byte, readChunk)}
}

// Next blocks until a payload is available. ErrFrameTooLarge is returned for
// oversized frames; the stream stays usable afterwards. Any other error comes
// from the underlying reader.
func (r *Reader) Next() ([]byte, error) {
	for {
		payload, ok, err := r.dec.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}
		n, readErr := r.r.Read(r.chunk)
		if n > 0 {
			r.dec.Feed(r.chunk[:n])
			continue
		}
		if readErr != nil {
			return nil, readErr
		}
	}
}

// Writer frames payloads onto a stream. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WritePayload writes one frame.
func (w *Writer) WritePayload(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(Frame(payload))
	return err
}
