// Package wire holds the byte-level framing shared by the taxi handshake and
// the sensor link: ASCII control bytes, fixed-width zero-padded frames and the
// longitudinal redundancy check.
package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Control bytes.
const (
	EOT  byte = 0x04
	ENQ  byte = 0x05
	ACK  byte = 0x06
	NACK byte = 0x15
	STX  byte = 0x02
	ETX  byte = 0x03
)

// FrameSize is the width of every frame exchanged on a socket.
const FrameSize = 50

// ErrShortFrame is returned when a frame does not fit in FrameSize.
var ErrShortFrame = errors.New("frame exceeds frame size")

// Frame is a fixed-width block. Unused bytes are zero.
type Frame [FrameSize]byte

// Control builds a frame carrying a single control byte.
func Control(b byte) Frame {
	var f Frame
	f[0] = b
	return f
}

// LRC returns the XOR of all bytes.
func LRC(b []byte) byte {
	var l byte
	for _, c := range b {
		l ^= c
	}
	return l
}

// Seal wraps payload in STX..ETX, appends its LRC and pads to FrameSize.
func Seal(payload []byte) (Frame, error) {
	var f Frame
	if len(payload)+3 > FrameSize {
		return f, ErrShortFrame
	}
	f[0] = STX
	n := copy(f[1:], payload)
	f[1+n] = ETX
	f[2+n] = LRC(f[:2+n])
	return f, nil
}

// Open checks markers and parity of a frame sealed around a payload of the
// given length and returns that payload.
func Open(f Frame, size int) ([]byte, error) {
	if size+3 > FrameSize {
		return nil, ErrShortFrame
	}
	if f[0] != STX {
		return nil, fmt.Errorf("missing start marker, got 0x%02x", f[0])
	}
	if f[1+size] != ETX {
		return nil, fmt.Errorf("missing end marker, got 0x%02x", f[1+size])
	}
	if want := LRC(f[:2+size]); f[2+size] != want {
		return nil, fmt.Errorf("parity mismatch: got 0x%02x want 0x%02x", f[2+size], want)
	}
	out := make([]byte, size)
	copy(out, f[1:1+size])
	return out, nil
}

// Read reads one full frame.
func Read(r io.Reader) (Frame, error) {
	var f Frame
	_, err := io.ReadFull(r, f[:])
	return f, err
}

// Write writes one full frame.
func Write(w io.Writer, f Frame) error {
	_, err := w.Write(f[:])
	return err
}

// ReadTimeout reads one frame from conn, waiting at most d. A zero d waits
// indefinitely.
func ReadTimeout(conn net.Conn, d time.Duration) (Frame, error) {
	if d > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			return Frame{}, err
		}
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}
	return Read(conn)
}

// IsTimeout reports whether err is a network deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
