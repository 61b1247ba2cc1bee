package queue

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Sequencing errors. These indicate a misbehaving or confused
// settlement authority; they never mutate the ledger or the cursor.
var (
	ErrNotAuthority    = errors.New("caller is not the settlement authority")
	ErrInvalidSequence = errors.New("invalid settlement sequence")
)

// Status is the outcome of a confirmation step.
type Status uint8

const (
	// Applied means the entry's ledger effect took hold.
	Applied Status = iota
	// Skipped means the entry failed to settle: the ledger is left
	// untouched for it, but the cursor still advances. Deliberate
	// degraded-service behavior, never surfaced as an error.
	Skipped
)

func (s Status) String() string {
	if s == Applied {
		return "Applied"
	}
	return "Skipped"
}

// Outcome reports what a confirmation did.
type Outcome struct {
	ID     uint64
	Status Status
	Reason string // populated for Skipped
}

// SettleFunc applies an entry's ledger effect for a decoded response.
// Returning an error abandons the step without propagating the failure:
// the entry is skipped and the cursor advances.
type SettleFunc func(*Entry, []byte) error

// AuthorityFunc resolves a pool's designated settlement authority.
type AuthorityFunc func(pool uint64) (common.Address, bool)

// Queue is the append-only log of accepted settlement requests with the
// strict-FIFO confirmation cursor. Ids are assigned from 1 upward:
// head is the last id fully processed, tail the next id to assign, and
// entries with id in (head, tail) are pending.
//
// Not thread-safe: the manager serializes access.
type Queue struct {
	log  []*Entry
	head uint64
}

func New() *Queue {
	return &Queue{}
}

// Append accepts a request into the log and returns its id.
func (q *Queue) Append(sender common.Address, pool uint64, router common.Address, body Payload) *Entry {
	e := &Entry{
		ID:     uint64(len(q.log)) + 1,
		Sender: sender,
		Pool:   pool,
		Router: router,
		Kind:   body.Kind(),
		Body:   body,
		State:  StatePending,
	}
	q.log = append(q.log, e)
	return e
}

// Head returns the last fully processed id.
func (q *Queue) Head() uint64 { return q.head }

// Tail returns the next id to assign.
func (q *Queue) Tail() uint64 { return uint64(len(q.log)) + 1 }

// PendingCount returns how many accepted entries await confirmation.
func (q *Queue) PendingCount() uint64 { return uint64(len(q.log)) - q.head }

// NextSpot returns the entry awaiting confirmation, without mutating
// state. Off-system introspection for the settlement authority.
func (q *Queue) NextSpot() (*Entry, bool) {
	if q.head >= uint64(len(q.log)) {
		return nil, false
	}
	return q.log[q.head], true
}

// Get returns the entry with the given id, processed or not.
func (q *Queue) Get(id uint64) (*Entry, bool) {
	if id == 0 || id > uint64(len(q.log)) {
		return nil, false
	}
	return q.log[id-1], true
}

// Confirm runs one strict-FIFO confirmation step:
//
//  1. caller must be the settlement authority of the targeted entry's
//     pool (of the next pending entry's pool for unknown ids)
//  2. id must be head+1
//  3. settle is invoked with the entry and the raw response; an error
//     downgrades the entry to Skipped and the cursor still advances
//
// Only sequencing violations return an error; a skip is a normal
// outcome.
func (q *Queue) Confirm(id uint64, caller common.Address, authorityFor AuthorityFunc, response []byte, settle SettleFunc) (Outcome, error) {
	// The authority check runs first, resolved from the targeted entry
	// so an impostor is reported as such even when its id is also out
	// of sequence. Unknown ids fall back to the next pending entry.
	ref, ok := q.Get(id)
	if !ok {
		ref, ok = q.NextSpot()
	}
	if ok {
		authority, known := authorityFor(ref.Pool)
		if !known || caller != authority {
			return Outcome{}, fmt.Errorf("%w: caller %s for pool %d", ErrNotAuthority, caller.Hex(), ref.Pool)
		}
	}

	next, ok := q.NextSpot()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: nothing pending, got id %d", ErrInvalidSequence, id)
	}
	if id != next.ID {
		return Outcome{}, fmt.Errorf("%w: expected %d, got %d", ErrInvalidSequence, next.ID, id)
	}

	out := Outcome{ID: id, Status: Applied}
	if err := settle(next, response); err != nil {
		next.State = StateSkipped
		next.SkipReason = err.Error()
		out.Status = Skipped
		out.Reason = err.Error()
	} else {
		next.State = StateApplied
	}
	q.head++
	return out, nil
}

// RestoreEntry re-appends a replayed entry after a warm restart. Ids
// must arrive contiguously from 1.
func (q *Queue) RestoreEntry(e *Entry) error {
	if e.ID != uint64(len(q.log))+1 {
		return fmt.Errorf("replay gap: expected id %d, got %d", uint64(len(q.log))+1, e.ID)
	}
	q.log = append(q.log, e)
	return nil
}

// SetHead positions the cursor after replay. Entries at or below head
// are marked processed.
func (q *Queue) SetHead(head uint64) error {
	if head > uint64(len(q.log)) {
		return fmt.Errorf("head %d beyond log of %d entries", head, len(q.log))
	}
	q.head = head
	return nil
}

// SetState restores a replayed entry's terminal state from the durable
// outcome log.
func (q *Queue) SetState(id uint64, state State, reason string) error {
	e, ok := q.Get(id)
	if !ok {
		return fmt.Errorf("no entry with id %d", id)
	}
	e.State = state
	e.SkipReason = reason
	return nil
}

// SkippedWithdrawalTotal sums one pool token's withdrawal amounts over
// all skipped entries. These debits were taken at admission and never
// paid out; the total is the operator's reinstatement worklist.
func (q *Queue) SkippedWithdrawalTotal(pool uint64, token common.Address) *big.Int {
	total := new(big.Int)
	for _, e := range q.log {
		if e.Pool != pool || e.State != StateSkipped {
			continue
		}
		switch body := e.Body.(type) {
		case WithdrawSpot:
			if body.Token0 == token {
				total.Add(total, body.Amount0)
			}
			if body.Token1 == token {
				total.Add(total, body.Amount1)
			}
		case WithdrawBasket:
			if body.Token == token {
				total.Add(total, body.Amount)
			}
		}
	}
	return total
}

// Snapshot captures the cursor and entry states for persistence. The
// entry bodies themselves live in the durable request log.
type Snapshot struct {
	Head uint64 `json:"head"`
	Tail uint64 `json:"tail"`
}

func (q *Queue) Snapshot() Snapshot {
	return Snapshot{Head: q.head, Tail: q.Tail()}
}
