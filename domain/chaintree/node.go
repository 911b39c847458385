package chaintree

import (
	"math/big"

	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/txpow"
)

// Handle addresses a node inside its Tree. The zero Handle addresses nothing.
type Handle uint32

// Node is one accepted block with its derived chain state. The block, the
// accumulator snapshot and the coin deltas never change after Graft; the
// children, cumulative work and the on-chain mark are maintained by the tree.
type Node struct {
	handle   Handle
	parent   Handle
	children []Handle

	block    *txpow.TxBlock
	snapshot *mmr.Snapshot

	created map[txpow.ID]txpow.Coin
	spent   map[txpow.ID]struct{}
	// carried holds the coins live at the root that were created below it.
	// Only the root has it.
	carried map[txpow.ID]txpow.Coin

	cumulativeWork *big.Int
	sequence       uint64
	onChain        bool
}

// Handle returns the node's handle.
func (n *Node) Handle() Handle { return n.handle }

// ID returns the block ID.
func (n *Node) ID() txpow.ID { return n.block.ID() }

// Height returns the block number.
func (n *Node) Height() uint64 { return n.block.Height() }

// ParentID returns the parent block ID.
func (n *Node) ParentID() txpow.ID { return n.block.TxPoW.ParentID() }

// Unit returns the block unit.
func (n *Node) Unit() *txpow.TxPoW { return n.block.TxPoW }

// Block returns the block with its resolved transactions.
func (n *Node) Block() *txpow.TxBlock { return n.block }

// Snapshot returns the accumulator state after this block.
func (n *Node) Snapshot() *mmr.Snapshot { return n.snapshot }

// CumulativeWork returns the work from genesis up to this node, as of the
// last Recalculate.
func (n *Node) CumulativeWork() *big.Int { return new(big.Int).Set(n.cumulativeWork) }

// IsOnChain returns whether the node is on the tip's ancestor chain.
func (n *Node) IsOnChain() bool { return n.onChain }

// IsLeaf returns whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.children) == 0 }

// Sequence is the arrival order of the node in the tree.
func (n *Node) Sequence() uint64 { return n.sequence }
