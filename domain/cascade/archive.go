package cascade

import (
	"github.com/selfnet/selfd/domain/txpow"
)

// Archive durably stores finalized blocks and the cascade snapshot.
// Load methods return nil without an error when nothing is stored.
type Archive interface {
	SaveBlock(block *txpow.TxBlock) error
	LoadBlock(id txpow.ID) (*txpow.TxBlock, error)
	// LoadRange returns the stored blocks with heights in [fromHeight, toHeight]
	// in ascending order, stopping at the first gap.
	LoadRange(fromHeight, toHeight uint64) ([]*txpow.TxBlock, error)
	// LoadLowest returns the lowest stored block.
	LoadLowest() (*txpow.TxBlock, error)
	SaveCascade(snapshot *Snapshot) error
	LoadCascade() (*Snapshot, error)
}

// Finalizer is told about every block leaving the tree for good.
type Finalizer interface {
	MarkFinalized(block *txpow.TxBlock)
}
