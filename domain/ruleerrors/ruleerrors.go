// Package ruleerrors defines the rejection reasons of units.
package ruleerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// RejectCode identifies why a unit was rejected.
type RejectCode uint8

// Reject codes.
const (
	RejectMalformed RejectCode = iota + 1
	RejectWrongChain
	RejectOversized
	RejectFutureTime
	RejectLowDifficulty
	RejectBadSignature
	RejectBadMMRRoot
	RejectMissingInput
	RejectDoubleSpend
	RejectDuplicate
	RejectInsufficientBurn
	RejectFinalized
	RejectBadBatch
	RejectCascadeMismatch
	RejectStaleTip
)

var rejectCodeStrings = map[RejectCode]string{
	RejectMalformed:        "Malformed",
	RejectWrongChain:       "WrongChain",
	RejectOversized:        "Oversized",
	RejectFutureTime:       "FutureTime",
	RejectLowDifficulty:    "LowDifficulty",
	RejectBadSignature:     "BadSignature",
	RejectBadMMRRoot:       "BadMMRRoot",
	RejectMissingInput:     "MissingInput",
	RejectDoubleSpend:      "DoubleSpend",
	RejectDuplicate:        "Duplicate",
	RejectInsufficientBurn: "InsufficientBurn",
	RejectFinalized:        "Finalized",
	RejectBadBatch:         "BadBatch",
	RejectCascadeMismatch:  "CascadeMismatch",
	RejectStaleTip:         "StaleTip",
}

func (code RejectCode) String() string {
	if s, ok := rejectCodeStrings[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown RejectCode (%d)", uint8(code))
}

// IsCryptographic returns whether the code means the sender produced
// invalid proof or signature data, which disconnects it.
func (code RejectCode) IsCryptographic() bool {
	return code == RejectBadSignature || code == RejectLowDifficulty || code == RejectWrongChain
}

// RuleError is a unit failing a consensus or policy rule.
type RuleError struct {
	Code        RejectCode
	Description string
}

func (e RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// New returns a RuleError with a stack trace.
func New(code RejectCode, description string) error {
	return errors.WithStack(RuleError{Code: code, Description: description})
}

// Errorf is New with a formatted description.
func Errorf(code RejectCode, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Code extracts the RejectCode of err, if it wraps a RuleError.
func Code(err error) (RejectCode, bool) {
	var ruleErr RuleError
	if errors.As(err, &ruleErr) {
		return ruleErr.Code, true
	}
	return 0, false
}
