package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"PoolLedger/internal/queue"
)

// Confirmation is a parsed settlement confirmation from the authority.
// Response stays opaque here; the manager decodes it per the entry's
// kind, so a malformed response body becomes a silent skip rather than
// a parse error on the wire.
type Confirmation struct {
	RequestID uint64
	Authority common.Address
	Response  json.RawMessage
	Timestamp time.Time
}

// --- JSON wire format ---
// Field names use snake_case to match the authority's producer.

type confirmationJSON struct {
	RequestID   uint64          `json:"request_id"`
	Authority   string          `json:"authority"`
	Response    json.RawMessage `json:"response"`
	TimestampUs int64           `json:"timestamp_us"`
}

// ParseConfirmation validates and converts a raw confirmation message.
// Only envelope problems are parse errors; the response body is
// validated downstream.
func ParseConfirmation(data []byte) (*Confirmation, error) {
	var j confirmationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse confirmation: %w", err)
	}

	if j.RequestID == 0 {
		return nil, fmt.Errorf("parse confirmation: missing request_id")
	}
	if !common.IsHexAddress(j.Authority) {
		return nil, fmt.Errorf("parse confirmation: bad authority %q", j.Authority)
	}
	if len(j.Response) == 0 {
		return nil, fmt.Errorf("parse confirmation: missing response")
	}

	return &Confirmation{
		RequestID: j.RequestID,
		Authority: common.HexToAddress(j.Authority),
		Response:  j.Response,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

// ShouldRedeliver reports whether a rejected confirmation deserves a
// NAK instead of an ACK. A sequence rejection for an id ahead of the
// cursor means the message overtook its predecessor on the wire; a NAK
// lets JetStream retry once the queue catches up. Stale ids and
// authority failures are permanent and get ACKed.
func ShouldRedeliver(err error, id, head uint64) bool {
	return errors.Is(err, queue.ErrInvalidSequence) && id > head+1
}
