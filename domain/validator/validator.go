// Package validator decides whether units are structurally and
// cryptographically acceptable. Signature and script checks are delegated
// to a SignatureVerifier.
package validator

import (
	"time"

	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/ruleerrors"
	"github.com/selfnet/selfd/domain/txpow"
)

// ParentState is the chain state a unit is checked against.
type ParentState interface {
	Height() uint64
	MMRRoot() txpow.ID
	LookupCoin(id txpow.ID) (txpow.Coin, bool)
}

// Validator checks units.
type Validator interface {
	// ValidateBasic runs the checks that need no chain state.
	ValidateBasic(unit *txpow.TxPoW) error
	// ValidateAgainstParent checks unit, with the transactions it includes if
	// it is a block, on top of parent.
	ValidateAgainstParent(parent ParentState, unit *txpow.TxPoW, txns []*txpow.TxPoW) error
}

// SignatureVerifier checks a unit's witness.
type SignatureVerifier func(unit *txpow.TxPoW) bool

// AcceptAllSignatures is the verifier used when none is configured.
func AcceptAllSignatures(*txpow.TxPoW) bool {
	return true
}

// PolicyValidator enforces the node's structural and policy rules.
type PolicyValidator struct {
	params *params.Params
	verify SignatureVerifier
	now    func() time.Time
}

// New returns a PolicyValidator. A nil verify accepts every witness.
func New(params *params.Params, verify SignatureVerifier) *PolicyValidator {
	if verify == nil {
		verify = AcceptAllSignatures
	}
	return &PolicyValidator{params: params, verify: verify, now: time.Now}
}

// ValidateBasic implements Validator.
func (v *PolicyValidator) ValidateBasic(unit *txpow.TxPoW) error {
	if unit.Header.ChainID != v.params.ChainID {
		return ruleerrors.Errorf(ruleerrors.RejectWrongChain, "chain %d, expected %d",
			unit.Header.ChainID, v.params.ChainID)
	}
	if size := unit.Size(); size > v.params.MaxUnitSize {
		return ruleerrors.Errorf(ruleerrors.RejectOversized, "unit of %d bytes exceeds %d", size, v.params.MaxUnitSize)
	}
	limit := v.now().Add(v.params.MaxFutureTime).UnixMilli()
	if unit.Header.TimeMilli > limit {
		return ruleerrors.Errorf(ruleerrors.RejectFutureTime, "timestamp %d is after %d", unit.Header.TimeMilli, limit)
	}

	isBlock, isTransaction := unit.IsBlock(), unit.IsTransaction()
	if !isBlock && !isTransaction {
		return ruleerrors.New(ruleerrors.RejectMalformed, "unit is neither a block nor a transaction")
	}
	if isBlock && v.params.MinBlockDifficulty.Harder(unit.Header.BlockDifficulty) {
		return ruleerrors.New(ruleerrors.RejectLowDifficulty, "block difficulty below the minimum")
	}
	if !isBlock && len(unit.Header.Txns) > 0 {
		return ruleerrors.New(ruleerrors.RejectMalformed, "non-block unit lists transactions")
	}
	if isTransaction {
		err := v.checkTransactionWork(unit)
		if err != nil {
			return err
		}
	}
	seen := make(map[txpow.ID]struct{}, len(unit.Body.Inputs))
	for _, input := range unit.Body.Inputs {
		if _, ok := seen[input]; ok {
			return ruleerrors.Errorf(ruleerrors.RejectDoubleSpend, "input %s listed twice", input.Short())
		}
		seen[input] = struct{}{}
	}
	if !v.verify(unit) {
		return ruleerrors.Errorf(ruleerrors.RejectBadSignature, "unit %s", unit.ID().Short())
	}
	return nil
}

// CheckTransactionWork checks the transaction proof-of-work of txn.
func (v *PolicyValidator) CheckTransactionWork(txn *txpow.TxPoW) error {
	return v.checkTransactionWork(txn)
}

func (v *PolicyValidator) checkTransactionWork(txn *txpow.TxPoW) error {
	if v.params.MinTxnDifficulty.Harder(txn.Header.TxnDifficulty) {
		return ruleerrors.New(ruleerrors.RejectLowDifficulty, "transaction difficulty below the minimum")
	}
	if !txn.MeetsTxnDifficulty() {
		return ruleerrors.New(ruleerrors.RejectLowDifficulty, "transaction does not meet its difficulty")
	}
	return nil
}

// ValidateAgainstParent implements Validator.
func (v *PolicyValidator) ValidateAgainstParent(parent ParentState, unit *txpow.TxPoW, txns []*txpow.TxPoW) error {
	transactions := txns
	if unit.IsBlock() {
		if unit.Height() != parent.Height()+1 {
			return ruleerrors.Errorf(ruleerrors.RejectMalformed, "block at height %d on parent at height %d",
				unit.Height(), parent.Height())
		}
		if unit.Header.ParentMMRRoot != parent.MMRRoot() {
			return ruleerrors.Errorf(ruleerrors.RejectBadMMRRoot, "block %s commits to %s, parent state is %s",
				unit.ID().Short(), unit.Header.ParentMMRRoot.Short(), parent.MMRRoot().Short())
		}
		if len(txns) != len(unit.Header.Txns) {
			return ruleerrors.Errorf(ruleerrors.RejectMalformed, "block lists %d txns, %d given",
				len(unit.Header.Txns), len(txns))
		}
		for i, txn := range txns {
			if txn.ID() != unit.Header.Txns[i] {
				return ruleerrors.Errorf(ruleerrors.RejectMalformed, "txn %d is %s, block lists %s",
					i, txn.ID().Short(), unit.Header.Txns[i].Short())
			}
		}
	}
	if unit.IsTransaction() {
		transactions = append([]*txpow.TxPoW{unit}, txns...)
	}

	claimed := make(map[txpow.ID]struct{})
	for _, txn := range transactions {
		var inputTotal uint64
		for _, input := range txn.Body.Inputs {
			if _, ok := claimed[input]; ok {
				return ruleerrors.Errorf(ruleerrors.RejectDoubleSpend, "coin %s claimed twice", input.Short())
			}
			claimed[input] = struct{}{}
			coin, ok := parent.LookupCoin(input)
			if !ok {
				return ruleerrors.Errorf(ruleerrors.RejectMissingInput, "coin %s is not live", input.Short())
			}
			inputTotal += coin.Amount
		}
		if len(txn.Body.Inputs) == 0 {
			continue
		}
		outputTotal := txn.Body.Burn
		for _, output := range txn.Body.Outputs {
			outputTotal += output.Amount
		}
		if outputTotal > inputTotal {
			return ruleerrors.Errorf(ruleerrors.RejectMalformed, "txn %s pays %d from %d",
				txn.ID().Short(), outputTotal, inputTotal)
		}
	}
	return nil
}
