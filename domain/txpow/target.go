package txpow

import (
	"bytes"
	"math/big"
)

// Target is a 256-bit big-endian proof-of-work threshold. A unit meets the
// target when its ID, read as a big-endian number, is not above it.
type Target [IDSize]byte

// MaxTarget is the easiest possible target. A block at MaxTarget has weight 1.
var MaxTarget = func() Target {
	var target Target
	for i := range target {
		target[i] = 0xff
	}
	return target
}()

var maxTargetBig = MaxTarget.Big()

// TargetFromBig converts a non-negative big.Int to a Target, saturating at
// MaxTarget.
func TargetFromBig(value *big.Int) Target {
	if value.Sign() < 0 {
		return Target{}
	}
	if value.Cmp(maxTargetBig) > 0 {
		return MaxTarget
	}
	var target Target
	value.FillBytes(target[:])
	return target
}

// TargetForWeight returns the target whose Weight is weight.
func TargetForWeight(weight uint64) Target {
	if weight <= 1 {
		return MaxTarget
	}
	return TargetFromBig(new(big.Int).Div(maxTargetBig, new(big.Int).SetUint64(weight)))
}

// Big returns the target as a big.Int.
func (t Target) Big() *big.Int {
	return new(big.Int).SetBytes(t[:])
}

// IsMetBy returns whether id meets the target.
func (t Target) IsMetBy(id ID) bool {
	return bytes.Compare(id[:], t[:]) <= 0
}

// Harder returns whether t is a strictly harder target than other.
func (t Target) Harder(other Target) bool {
	return bytes.Compare(t[:], other[:]) < 0
}

// Weight is the expected work represented by the target, MaxTarget / t.
func (t Target) Weight() *big.Int {
	value := t.Big()
	if value.Sign() == 0 {
		return new(big.Int).Set(maxTargetBig)
	}
	return new(big.Int).Div(maxTargetBig, value)
}
