package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	f, err := Seal([]byte{0, 0, 0, 42})
	require.NoError(t, err)
	assert.Equal(t, STX, f[0])
	assert.Equal(t, ETX, f[5])
	assert.Equal(t, LRC(f[:6]), f[6])
	assert.Equal(t, byte(0), f[FrameSize-1])

	payload, err := Open(f, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 42}, payload)
}

func TestOpenRejectsCorruption(t *testing.T) {
	f, err := Seal([]byte("abc"))
	require.NoError(t, err)

	bad := f
	bad[2] ^= 0xff
	_, err = Open(bad, 3)
	assert.ErrorContains(t, err, "parity")

	bad = f
	bad[0] = ENQ
	_, err = Open(bad, 3)
	assert.ErrorContains(t, err, "start marker")

	_, err = Open(f, 2)
	assert.ErrorContains(t, err, "end marker")
}

func TestSealTooLarge(t *testing.T) {
	_, err := Seal(make([]byte, FrameSize))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestReadWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Control(ENQ)))
	assert.Equal(t, FrameSize, buf.Len())
	f, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, ENQ, f[0])
}

func TestReadTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	_, err := ReadTimeout(a, 20*time.Millisecond)
	assert.True(t, IsTimeout(err))
}
