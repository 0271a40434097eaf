package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/wire"
)

// SessionSize is the fixed width of the session field of a reply.
const SessionSize = 36

var (
	// ErrBadFrame is returned for frames failing marker or parity checks.
	ErrBadFrame = errors.New("malformed handshake frame")
	// ErrIDInUse is returned when the dispatcher refuses the requested id.
	ErrIDInUse = errors.New("taxi id refused by dispatcher")
	// ErrLinkRefused is returned when the link check never succeeds.
	ErrLinkRefused = errors.New("dispatcher link check failed")
)

// EncodeID builds the id negotiation frame.
func EncodeID(id model.TaxiID) wire.Frame {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], uint32(id))
	f, _ := wire.Seal(payload[:])
	return f
}

// DecodeID parses an id negotiation frame.
func DecodeID(f wire.Frame) (model.TaxiID, error) {
	payload, err := wire.Open(f, 4)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return model.TaxiID(int32(binary.BigEndian.Uint32(payload))), nil
}

// EncodeReply builds the id negotiation reply.
func EncodeReply(accepted bool, session string) wire.Frame {
	payload := make([]byte, 1+SessionSize)
	payload[0] = wire.NACK
	if accepted {
		payload[0] = wire.ACK
		copy(payload[1:], session)
	}
	f, _ := wire.Seal(payload)
	return f
}

// DecodeReply parses the id negotiation reply.
func DecodeReply(f wire.Frame) (accepted bool, session string, err error) {
	payload, err := wire.Open(f, 1+SessionSize)
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	switch payload[0] {
	case wire.ACK:
		return true, strings.TrimRight(string(payload[1:]), "\x00"), nil
	case wire.NACK:
		return false, "", nil
	default:
		return false, "", fmt.Errorf("%w: unexpected verdict 0x%02x", ErrBadFrame, payload[0])
	}
}
