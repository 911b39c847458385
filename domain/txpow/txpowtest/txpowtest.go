// Package txpowtest builds units for tests.
package txpowtest

import (
	"fmt"

	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/txpow"
)

// ChainID is the chain ID of every unit built here.
const ChainID = 7

// GenesisTime is the timestamp of Genesis.
const GenesisTime int64 = 1_600_000_000_000

// Genesis returns the genesis block as a TxBlock.
func Genesis() *txpow.TxBlock {
	return txpow.NewTxBlock(txpow.Genesis(ChainID, GenesisTime), nil)
}

// Options tune MineBlock.
type Options struct {
	Weight    uint64
	TimeMilli int64
	// Salt distinguishes otherwise identical siblings.
	Salt string
	// MMRRoot is the ParentMMRRoot written in the header. It defaults to
	// the root of a state without coins.
	MMRRoot txpow.ID
}

// MineBlock grinds nonces until the unit built on parent meets the target
// of the requested weight. Weight 0 means 1.
func MineBlock(parent *txpow.TxPoW, options Options, txns ...*txpow.TxPoW) *txpow.TxBlock {
	weight := options.Weight
	if weight == 0 {
		weight = 1
	}
	timeMilli := options.TimeMilli
	if timeMilli == 0 {
		timeMilli = parent.Header.TimeMilli + 1000
	}
	mmrRoot := options.MMRRoot
	if mmrRoot.IsZero() {
		mmrRoot = mmr.Empty().Root()
	}
	txnIDs := make([]txpow.ID, len(txns))
	for i, txn := range txns {
		txnIDs[i] = txn.ID()
	}
	header := txpow.Header{
		ChainID:         ChainID,
		BlockNumber:     parent.Height() + 1,
		ParentID:        parent.ID(),
		TimeMilli:       timeMilli,
		BlockDifficulty: txpow.TargetForWeight(weight),
		TxnDifficulty:   txpow.MaxTarget,
		ParentMMRRoot:   mmrRoot,
		Txns:            txnIDs,
	}
	body := txpow.Body{Witness: []byte(options.Salt)}
	for nonce := uint64(0); ; nonce++ {
		header.Nonce = nonce
		unit := txpow.New(header, body)
		if unit.IsBlock() {
			return txpow.NewTxBlock(unit, txns)
		}
	}
}

// Chain mines count weight-1 blocks on top of parent.
func Chain(parent *txpow.TxPoW, count int, salt string) []*txpow.TxBlock {
	blocks := make([]*txpow.TxBlock, 0, count)
	for i := 0; i < count; i++ {
		block := MineBlock(parent, Options{Salt: fmt.Sprintf("%s-%d", salt, i)})
		blocks = append(blocks, block)
		parent = block.TxPoW
	}
	return blocks
}

// Transaction returns a non-block unit spending inputs and paying amounts to
// fresh addresses.
func Transaction(burn uint64, inputs []txpow.ID, amounts ...uint64) *txpow.TxPoW {
	outputs := make([]txpow.Output, len(amounts))
	for i, amount := range amounts {
		outputs[i] = txpow.Output{
			Address: txpow.HashBytes([]byte(fmt.Sprintf("address-%d-%d", burn, i))),
			Amount:  amount,
		}
	}
	return txpow.New(txpow.Header{
		ChainID:       ChainID,
		TimeMilli:     GenesisTime,
		TxnDifficulty: txpow.MaxTarget,
	}, txpow.Body{
		Burn:    burn,
		Inputs:  inputs,
		Outputs: outputs,
		Witness: []byte(fmt.Sprintf("txn-%d-%d", burn, len(inputs))),
	})
}
