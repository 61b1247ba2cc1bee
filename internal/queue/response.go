package queue

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Settlement responses are JSON documents produced by the external
// authority. Decoding failures are settlement failures: the entry is
// skipped, never the queue stalled.

// DepositSpotResponse confirms the paired leg of a spot deposit. The
// amount is re-validated against the balancing ratio at settlement.
type DepositSpotResponse struct {
	Amount1 *big.Int
}

// DepositBasketResponse acknowledges a basket deposit.
type DepositBasketResponse struct{}

// WithdrawSpotResponse acknowledges a spot withdrawal; the venue has
// verified the paired amount by the balancing ratio.
type WithdrawSpotResponse struct{}

// WithdrawBasketResponse confirms a basket withdrawal. AmountToReceive
// may be less than requested, e.g. venue-side rounding.
type WithdrawBasketResponse struct {
	AmountToReceive *big.Int
}

type rawDepositSpotResponse struct {
	Amount1 string `json:"amount1"`
}

type rawWithdrawBasketResponse struct {
	AmountToReceive string `json:"amount_to_receive"`
}

func DecodeDepositSpotResponse(data []byte) (*DepositSpotResponse, error) {
	var raw rawDepositSpotResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode deposit spot response: %w", err)
	}
	amount1, err := decodeAmount(raw.Amount1)
	if err != nil {
		return nil, fmt.Errorf("decode deposit spot response: %w", err)
	}
	return &DepositSpotResponse{Amount1: amount1}, nil
}

func DecodeDepositBasketResponse(data []byte) (*DepositBasketResponse, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode deposit basket response: %w", err)
	}
	return &DepositBasketResponse{}, nil
}

func DecodeWithdrawSpotResponse(data []byte) (*WithdrawSpotResponse, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode withdraw spot response: %w", err)
	}
	return &WithdrawSpotResponse{}, nil
}

func DecodeWithdrawBasketResponse(data []byte) (*WithdrawBasketResponse, error) {
	var raw rawWithdrawBasketResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode withdraw basket response: %w", err)
	}
	amount, err := decodeAmount(raw.AmountToReceive)
	if err != nil {
		return nil, fmt.Errorf("decode withdraw basket response: %w", err)
	}
	return &WithdrawBasketResponse{AmountToReceive: amount}, nil
}

func decodeAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}
