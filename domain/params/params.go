// Package params holds the consensus parameters shared by the tree, the
// cascade, the engine and the sync protocol.
package params

import (
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/txpow"
)

// Params are the consensus and policy parameters of a node.
type Params struct {
	ChainID uint32
	// GenesisTimeMilli is the timestamp of the genesis block.
	GenesisTimeMilli int64

	// CascadeStart is how many blocks behind the tip the new root is placed
	// when a cascade runs. CascadeFrequency is how many extra blocks the
	// heaviest branch may grow before the next cascade.
	CascadeStart     uint64
	CascadeFrequency uint64
	// CascadeTail bounds the finalized nodes kept in memory.
	CascadeTail int

	// ValidRangeDepth is how far ahead of the root a block must be for its
	// full check to be meaningful.
	ValidRangeDepth uint64

	// MaxPending bounds the units waiting for a parent or for transactions.
	MaxPending int

	MinBlockDifficulty txpow.Target
	MinTxnDifficulty   txpow.Target
	MaxUnitSize        int
	MaxFutureTime      time.Duration

	// FreshTipAge is the maximum age of a batch tip accepted once the node
	// already has a tree, and the age below which missing txns are requested.
	FreshTipAge    time.Duration
	MaxBatchBlocks int
}

const defaultGenesisTimeMilli = 1_600_000_000_000

// Default returns mainnet-like parameters for chainID.
func Default(chainID uint32) *Params {
	return &Params{
		ChainID:            chainID,
		GenesisTimeMilli:   defaultGenesisTimeMilli,
		CascadeStart:       256,
		CascadeFrequency:   32,
		CascadeTail:        1024,
		ValidRangeDepth:    64,
		MaxPending:         4096,
		MinBlockDifficulty: txpow.MaxTarget,
		MinTxnDifficulty:   txpow.MaxTarget,
		MaxUnitSize:        64 * 1024,
		MaxFutureTime:      2 * time.Hour,
		FreshTipAge:        3 * time.Hour,
		MaxBatchBlocks:     500,
	}
}

// Validate checks the parameters for internal consistency.
func (p *Params) Validate() error {
	if p.CascadeStart < 1 {
		return errors.New("cascade start must be at least 1")
	}
	if p.CascadeFrequency < 1 {
		return errors.New("cascade frequency must be at least 1")
	}
	if p.CascadeTail < 1 {
		return errors.New("cascade tail must be at least 1")
	}
	if p.MaxPending < 1 || p.MaxBatchBlocks < 1 {
		return errors.Errorf("pending (%d) and batch (%d) limits must be positive",
			p.MaxPending, p.MaxBatchBlocks)
	}
	if p.MaxUnitSize < 1 {
		return errors.New("max unit size must be positive")
	}
	return nil
}

// Genesis returns the genesis block of the chain.
func (p *Params) Genesis() *txpow.TxBlock {
	return txpow.NewTxBlock(txpow.Genesis(p.ChainID, p.GenesisTimeMilli), nil)
}

// CascadeTriggerLength is the heaviest branch length above which a cascade
// runs.
func (p *Params) CascadeTriggerLength() uint64 {
	return p.CascadeStart + p.CascadeFrequency
}
