package queue

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Wire form of entries for the durable request log and the outbound
// request stream. Amounts travel as decimal strings.

type wireEntry struct {
	ID     uint64          `json:"id"`
	Pool   uint64          `json:"pool"`
	Sender string          `json:"sender"`
	Router string          `json:"router"`
	Kind   string          `json:"kind"`
	Body   json.RawMessage `json:"body"`
}

type wireDepositSpot struct {
	Token0   string `json:"token0"`
	Token1   string `json:"token1"`
	Amount0  string `json:"amount0"`
	Amount1  string `json:"amount1"`
	Receiver string `json:"receiver"`
}

type wireDepositBasket struct {
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
}

type wireWithdrawSpot struct {
	Token0   string `json:"token0"`
	Token1   string `json:"token1"`
	Amount0  string `json:"amount0"`
	Amount1  string `json:"amount1"`
	FeeIndex uint8  `json:"fee_index"`
}

type wireWithdrawBasket struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// EncodeEntry serializes an entry for persistence and publication.
func EncodeEntry(e *Entry) ([]byte, error) {
	var body interface{}
	switch b := e.Body.(type) {
	case DepositSpot:
		body = wireDepositSpot{
			Token0:   b.Token0.Hex(),
			Token1:   b.Token1.Hex(),
			Amount0:  b.Amount0.String(),
			Amount1:  b.Amount1.String(),
			Receiver: b.Receiver.Hex(),
		}
	case DepositBasket:
		body = wireDepositBasket{
			Token:    b.Token.Hex(),
			Amount:   b.Amount.String(),
			Receiver: b.Receiver.Hex(),
		}
	case WithdrawSpot:
		body = wireWithdrawSpot{
			Token0:   b.Token0.Hex(),
			Token1:   b.Token1.Hex(),
			Amount0:  b.Amount0.String(),
			Amount1:  b.Amount1.String(),
			FeeIndex: b.FeeIndex,
		}
	case WithdrawBasket:
		body = wireWithdrawBasket{
			Token:  b.Token.Hex(),
			Amount: b.Amount.String(),
		}
	default:
		return nil, fmt.Errorf("unknown payload type %T", e.Body)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(wireEntry{
		ID:     e.ID,
		Pool:   e.Pool,
		Sender: e.Sender.Hex(),
		Router: e.Router.Hex(),
		Kind:   e.Kind.String(),
		Body:   raw,
	})
}

// DecodeEntry restores an entry from its wire form. Used when replaying
// the durable request log after a warm restart.
func DecodeEntry(data []byte) (*Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}

	var body Payload
	switch w.Kind {
	case KindDepositSpot.String():
		var b wireDepositSpot
		if err := json.Unmarshal(w.Body, &b); err != nil {
			return nil, fmt.Errorf("decode deposit spot body: %w", err)
		}
		amount0, err := decodeAmount(b.Amount0)
		if err != nil {
			return nil, err
		}
		amount1, err := decodeAmount(b.Amount1)
		if err != nil {
			return nil, err
		}
		body = DepositSpot{
			Token0:   common.HexToAddress(b.Token0),
			Token1:   common.HexToAddress(b.Token1),
			Amount0:  amount0,
			Amount1:  amount1,
			Receiver: common.HexToAddress(b.Receiver),
		}
	case KindDepositBasket.String():
		var b wireDepositBasket
		if err := json.Unmarshal(w.Body, &b); err != nil {
			return nil, fmt.Errorf("decode deposit basket body: %w", err)
		}
		amount, err := decodeAmount(b.Amount)
		if err != nil {
			return nil, err
		}
		body = DepositBasket{
			Token:    common.HexToAddress(b.Token),
			Amount:   amount,
			Receiver: common.HexToAddress(b.Receiver),
		}
	case KindWithdrawSpot.String():
		var b wireWithdrawSpot
		if err := json.Unmarshal(w.Body, &b); err != nil {
			return nil, fmt.Errorf("decode withdraw spot body: %w", err)
		}
		amount0, err := decodeAmount(b.Amount0)
		if err != nil {
			return nil, err
		}
		amount1, err := decodeAmount(b.Amount1)
		if err != nil {
			return nil, err
		}
		body = WithdrawSpot{
			Token0:   common.HexToAddress(b.Token0),
			Token1:   common.HexToAddress(b.Token1),
			Amount0:  amount0,
			Amount1:  amount1,
			FeeIndex: b.FeeIndex,
		}
	case KindWithdrawBasket.String():
		var b wireWithdrawBasket
		if err := json.Unmarshal(w.Body, &b); err != nil {
			return nil, fmt.Errorf("decode withdraw basket body: %w", err)
		}
		amount, err := decodeAmount(b.Amount)
		if err != nil {
			return nil, err
		}
		body = WithdrawBasket{
			Token:  common.HexToAddress(b.Token),
			Amount: amount,
		}
	default:
		return nil, fmt.Errorf("unknown kind %q", w.Kind)
	}

	return &Entry{
		ID:     w.ID,
		Sender: common.HexToAddress(w.Sender),
		Pool:   w.Pool,
		Router: common.HexToAddress(w.Router),
		Kind:   body.Kind(),
		Body:   body,
		State:  StatePending,
	}, nil
}
