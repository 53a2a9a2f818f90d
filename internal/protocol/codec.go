package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Framing selects how frame boundaries are marked on the wire, per
// spec.md §4.H ("length-prefixed ... or newline-delimited (configurable)").
type Framing int

const (
	// LengthPrefixed frames each JSON body with a 4-byte big-endian length.
	LengthPrefixed Framing = iota
	// NewlineDelimited frames each JSON body with a trailing '\n'; the JSON
	// body itself must not contain a literal newline, which encoding/json's
	// Marshal already guarantees (it never emits unescaped control bytes).
	NewlineDelimited
)

// MaxFrameSize bounds a single frame's body to defend the daemon against a
// misbehaving client claiming an enormous length prefix.
const MaxFrameSize = 4 << 20 // 4 MiB

var ErrFrameTooLarge = errors.New("protocol: frame exceeds MaxFrameSize")

// Reader decodes Frames from a connection. A decode error means the frame
// was malformed; per spec.md §4.H the caller must close the connection
// without responding.
type Reader struct {
	r       *bufio.Reader
	framing Framing
}

// NewReader wraps r for frame-at-a-time reads.
func NewReader(r io.Reader, framing Framing) *Reader {
	return &Reader{r: bufio.NewReader(r), framing: framing}
}

// ReadFrame reads and decodes the next Frame.
func (d *Reader) ReadFrame() (Frame, error) {
	body, err := d.readBody()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return Frame{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	return f, nil
}

func (d *Reader) readBody() ([]byte, error) {
	switch d.framing {
	case NewlineDelimited:
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		if len(line) > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		return line, nil
	default:
		var lenBuf [4]byte
		if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, err
		}
		return body, nil
	}
}

// Writer encodes Frames onto a connection.
type Writer struct {
	w       io.Writer
	framing Framing
}

// NewWriter wraps w for frame-at-a-time writes.
func NewWriter(w io.Writer, framing Framing) *Writer {
	return &Writer{w: w, framing: framing}
}

// WriteFrame encodes and writes f.
func (e *Writer) WriteFrame(f Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("protocol: encode frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	switch e.framing {
	case NewlineDelimited:
		body = append(body, '\n')
		_, err = e.w.Write(body)
	default:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
		if _, err = e.w.Write(lenBuf[:]); err != nil {
			return err
		}
		_, err = e.w.Write(body)
	}
	return err
}
