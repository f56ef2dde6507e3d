package model

// Status is the local trade lifecycle state.
//
// The happy path is linear:
//
//	CREATED → WAITING_DEPOSIT → CONFIRMING → EXCHANGING → FINISHED
//
// FAILED and REFUNDED are reachable from any non-terminal state. EXPIRED is
// reachable only from CREATED and WAITING_DEPOSIT (deposit window elapsed
// with no funds received). FINISHED, FAILED, REFUNDED and EXPIRED are
// terminal.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusWaitingDeposit Status = "WAITING_DEPOSIT"
	StatusConfirming     Status = "CONFIRMING"
	StatusExchanging     Status = "EXCHANGING"
	StatusFinished       Status = "FINISHED"
	StatusFailed         Status = "FAILED"
	StatusRefunded       Status = "REFUNDED"
	StatusExpired        Status = "EXPIRED"

	// StatusUnknown is a sentinel for upstream vocabulary the translation
	// table does not recognize. It is never stored: the last known good
	// state is retained.
	StatusUnknown Status = "UNKNOWN"
)

// progression ranks the linear happy-path states. Side branches and the
// sentinel are absent.
var progression = map[Status]int{
	StatusCreated:        0,
	StatusWaitingDeposit: 1,
	StatusConfirming:     2,
	StatusExchanging:     3,
	StatusFinished:       4,
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a member of the closed lifecycle state set.
// StatusUnknown is not a storable state.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusWaitingDeposit, StatusConfirming,
		StatusExchanging, StatusFinished, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// CanTransition applies the monotonic transition rule: a trade never reverts
// to an earlier non-terminal state and never leaves a terminal state.
// A same-state "transition" is not a transition (callers treat it as a
// bookkeeping-only refresh).
func CanTransition(from, to Status) bool {
	if from.Terminal() || from == to || !to.Valid() {
		return false
	}
	switch to {
	case StatusFailed, StatusRefunded:
		return true
	case StatusExpired:
		return from == StatusCreated || from == StatusWaitingDeposit
	}
	// Both states are on the linear path; only forward movement is allowed.
	fr, ok := progression[from]
	if !ok {
		return false
	}
	tr, ok := progression[to]
	return ok && tr > fr
}

// upstreamVocabulary translates the aggregator's status strings into local
// states. Entries mirror the aggregator API documentation; anything absent
// maps to StatusUnknown so vocabulary drift cannot corrupt stored state.
var upstreamVocabulary = map[string]Status{
	"new":        StatusWaitingDeposit,
	"waiting":    StatusWaitingDeposit,
	"confirming": StatusConfirming,
	"sending":    StatusExchanging,
	"exchanging": StatusExchanging,
	"finished":   StatusFinished,
	"failed":     StatusFailed,
	"halted":     StatusFailed,
	"refunded":   StatusRefunded,
	"expired":    StatusExpired,
}

// FromUpstream maps an upstream-reported status string to a local Status.
// The second return value is false when the vocabulary is unrecognized, in
// which case the Status is StatusUnknown.
func FromUpstream(raw string) (Status, bool) {
	if s, ok := upstreamVocabulary[raw]; ok {
		return s, true
	}
	return StatusUnknown, false
}
