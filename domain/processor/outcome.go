package processor

import (
	"fmt"
)

// Outcome is what happened to a submitted unit.
type Outcome uint8

// Outcomes of processing a unit.
const (
	// Accepted units are stored, and blocks grafted.
	Accepted Outcome = iota
	// Duplicate units were already known.
	Duplicate
	// Deferred blocks wait for their parent or their transactions.
	Deferred
	// Rejected units failed validation and were dropped.
	Rejected
	// Fatal means the sender misbehaved and should be disconnected.
	Fatal
)

var outcomeStrings = map[Outcome]string{
	Accepted:  "accepted",
	Duplicate: "duplicate",
	Deferred:  "deferred",
	Rejected:  "rejected",
	Fatal:     "fatal",
}

func (o Outcome) String() string {
	if s, ok := outcomeStrings[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// Result is the outcome of one event with the error behind a rejection.
type Result struct {
	Outcome Outcome
	Err     error
}

func accepted() Result { return Result{Outcome: Accepted} }

func duplicate() Result { return Result{Outcome: Duplicate} }

func deferred() Result { return Result{Outcome: Deferred} }

func rejected(err error) Result { return Result{Outcome: Rejected, Err: err} }

func fatal(err error) Result { return Result{Outcome: Fatal, Err: err} }
