package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/taxifleet/core/grid"
)

// MaxData bounds the opaque payload of an envelope.
const MaxData = 40

// Envelope is the unit exchanged on every topic.
type Envelope struct {
	Subject Subject `json:"subject"`
	// ID names the taxi or customer the envelope is about: the sender on
	// the requests topic, the addressee on response topics.
	ID      string          `json:"id"`
	Coord   grid.Coordinate `json:"coord"`
	Data    []byte          `json:"data,omitempty"`
	Session string          `json:"session"`
	// SentAt is the send time in unix seconds.
	SentAt int64 `json:"sent_at"`
	// Map is only set on map snapshots.
	Map []uint32 `json:"map,omitempty"`
}

// Stamp sets the send time.
func (e *Envelope) Stamp(now time.Time) {
	e.SentAt = now.Unix()
}

// Encode validates and serialises the envelope.
func Encode(e Envelope) ([]byte, error) {
	if len(e.Data) > MaxData {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(e.Data))
	}
	return json.Marshal(e)
}

// Decode parses an envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("decode envelope: %w", err)
	}
	if len(e.Data) > MaxData {
		return e, fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(e.Data))
	}
	return e, nil
}
