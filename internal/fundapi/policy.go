package fundapi

import (
	"fmt"
	"time"
)

// transitions is the full edge table of the status state machine. The chain
// pending -> submitted -> confirming -> confirmed may be skipped forward: a
// ledger answer usually arrives already finalized, since ledgers close in
// seconds while reconciliation runs on a minute cadence. Timeout edges to
// expired exist from every non-terminal status. Nothing leaves a terminal
// status.
var transitions = map[TxStatus][]TxStatus{
	StatusPending:    {StatusSubmitted, StatusConfirming, StatusConfirmed, StatusFailed, StatusExpired},
	StatusSubmitted:  {StatusConfirming, StatusConfirmed, StatusFailed, StatusExpired},
	StatusConfirming: {StatusConfirmed, StatusFailed, StatusExpired},
}

// IsValidTransition reports whether current may move to next. A non-terminal
// self-transition is legal: repeated polling re-applies the same status with
// fresh details.
func IsValidTransition(current, next TxStatus) bool {
	if current.IsTerminal() {
		return false
	}
	if current == next {
		return true
	}
	for _, allowed := range transitions[current] {
		if next == allowed {
			return true
		}
	}
	return false
}

// ApplyTransition returns a copy of rec moved to next with one history entry
// appended and UpdatedAt refreshed. The input record is never touched. An
// illegal edge yields ErrInvalidTransition.
func ApplyTransition(rec *TransactionRecord, next TxStatus, details string) (*TransactionRecord, error) {
	if !IsValidTransition(rec.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
	}
	now := time.Now().UTC()
	upd := rec.Clone()
	upd.Status = next
	upd.UpdatedAt = now
	upd.StatusHistory = append(upd.StatusHistory, StatusEntry{
		TransactionId: upd.Id,
		Seq:           len(upd.StatusHistory) + 1,
		Status:        next,
		Timestamp:     now,
		Details:       details,
	})
	return upd, nil
}
