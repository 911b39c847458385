// Package cascade evicts old history from the chain tree once its heaviest
// branch grows past a threshold, archives it, and keeps a bounded in-memory
// tail that the tree root stays contiguous with.
package cascade

import (
	"math/big"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/chaintree"
	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/logger"
)

// ErrDiscontinuity is returned when the tree root does not follow the
// cascade tip.
var ErrDiscontinuity = errors.New("cascade and tree are not contiguous")

// Params configure the finality window.
type Params struct {
	Start      uint64
	Frequency  uint64
	TailLength int
}

// Entry is a finalized node.
type Entry struct {
	Block          *txpow.TxBlock
	CumulativeWork *big.Int
}

// ID returns the block ID.
func (e *Entry) ID() txpow.ID { return e.Block.ID() }

// Height returns the block number.
func (e *Entry) Height() uint64 { return e.Block.Height() }

// Cascade is the finalized history below the tree root. It is owned by the
// same serialized loop as the tree.
type Cascade struct {
	params  Params
	archive Archive

	tail     []*Entry
	total    uint64
	tipState *mmr.Snapshot
	live     map[txpow.ID]txpow.Coin
}

// New returns an empty cascade persisting to archive.
func New(params Params, archive Archive) *Cascade {
	return &Cascade{params: params, archive: archive, live: make(map[txpow.ID]txpow.Coin)}
}

// Params returns the window parameters.
func (c *Cascade) Params() Params {
	return c.params
}

// IsEmpty returns whether nothing was ever cascaded.
func (c *Cascade) IsEmpty() bool {
	return len(c.tail) == 0
}

// Tip returns the most recently finalized entry, or nil.
func (c *Cascade) Tip() *Entry {
	if len(c.tail) == 0 {
		return nil
	}
	return c.tail[len(c.tail)-1]
}

// Tail returns the in-memory finalized entries, oldest first.
func (c *Cascade) Tail() []*Entry {
	return append([]*Entry(nil), c.tail...)
}

// Total returns how many blocks were ever finalized.
func (c *Cascade) Total() uint64 {
	return c.total
}

// TipState returns the accumulator after the cascade tip.
func (c *Cascade) TipState() *mmr.Snapshot {
	return c.tipState
}

// LiveCoins returns a copy of the coins live after the cascade tip.
func (c *Cascade) LiveCoins() map[txpow.ID]txpow.Coin {
	live := make(map[txpow.ID]txpow.Coin, len(c.live))
	for id, coin := range c.live {
		live[id] = coin
	}
	return live
}

// BaseWork returns the cumulative work of the cascade tip, or zero.
func (c *Cascade) BaseWork() *big.Int {
	tip := c.Tip()
	if tip == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(tip.CumulativeWork)
}

// AcceptsRoot checks that block may become the root of an empty tree on top
// of this cascade.
func (c *Cascade) AcceptsRoot(block *txpow.TxPoW) error {
	tip := c.Tip()
	if tip == nil {
		return nil
	}
	if tip.Height()+1 != block.Height() || tip.ID() != block.ParentID() {
		return errors.Wrapf(ErrDiscontinuity, "cascade tip %s at height %d, block %s at height %d with parent %s",
			tip.ID().Short(), tip.Height(), block.ID().Short(), block.Height(), block.ParentID().Short())
	}
	return nil
}

// ContiguousWith reports whether root directly follows the cascade tip.
func (c *Cascade) ContiguousWith(root *chaintree.Node) bool {
	return c.AcceptsRoot(root.Unit()) == nil
}

// ShouldCascade reports whether the heaviest branch exceeds Start+Frequency.
func (c *Cascade) ShouldCascade(tree *chaintree.Tree) bool {
	return tree.HeaviestBranchLength() > c.params.Start+c.params.Frequency
}

// Run cascades tree if its heaviest branch is long enough and returns the
// finalized nodes oldest first. Every evicted block is archived before the
// tree is touched; on any error the tree is left as it was.
func (c *Cascade) Run(tree *chaintree.Tree, finalizer Finalizer) ([]*chaintree.Node, error) {
	if !c.ShouldCascade(tree) {
		return nil, nil
	}
	onEnd := logger.LogAndMeasureExecutionTime(log, "cascade.Run")
	defer onEnd()

	oldRoot := tree.Root()
	if !c.ContiguousWith(oldRoot) {
		log.Criticalf("Cascade tip and tree root diverged before cascading:\n%s\n%s",
			spew.Sdump(c.Tip().Block.TxPoW.Header), spew.Sdump(oldRoot.Unit().Header))
		return nil, errors.Wrapf(ErrDiscontinuity, "root %s", oldRoot.ID().Short())
	}
	newRoot, planned, err := tree.PlanCascade(c.params.Start)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(planned); i++ {
		if planned[i].ParentID() != planned[i-1].ID() || planned[i].Height() != planned[i-1].Height()+1 {
			log.Criticalf("Cascade plan is not a chain at index %d:\n%s", i, spew.Sdump(planned[i].Unit().Header))
			return nil, errors.Errorf("cascade plan broken at height %d", planned[i].Height())
		}
	}
	for _, node := range planned {
		err := c.archive.SaveBlock(node.Block())
		if err != nil {
			return nil, errors.Wrapf(err, "archiving block %s at height %d", node.ID().Short(), node.Height())
		}
	}

	evicted, err := tree.SetLength(c.params.Start)
	if err != nil {
		return nil, err
	}
	if len(evicted) == 0 {
		return nil, nil
	}
	if len(evicted) != len(planned) || tree.Root().ID() != newRoot.ID() {
		log.Criticalf("Tree evicted %d nodes but %d were planned", len(evicted), len(planned))
	}
	for _, node := range evicted {
		if finalizer != nil {
			finalizer.MarkFinalized(node.Block())
		}
		c.append(&Entry{Block: node.Block(), CumulativeWork: node.CumulativeWork()})
	}
	root := tree.Root()
	c.tipState = evicted[len(evicted)-1].Snapshot()
	c.live = tree.CopyParentRelevantCoins(root)
	for _, coin := range root.Block().Spent {
		c.live[coin.ID] = coin
	}

	if !c.ContiguousWith(root) {
		log.Criticalf("Cascade tip %s does not precede new root %s",
			c.Tip().ID().Short(), root.ID().Short())
	}
	err = c.archive.SaveCascade(c.Snapshot())
	if err != nil {
		log.Errorf("Failed to persist the cascade snapshot at height %d: %s", c.Tip().Height(), err)
	}
	log.Infof("Cascaded %d blocks up to height %d, tree root now %s at height %d",
		len(evicted), c.Tip().Height(), root.ID().Short(), root.Height())
	return evicted, nil
}

func (c *Cascade) append(entry *Entry) {
	c.tail = append(c.tail, entry)
	c.total++
	if overflow := len(c.tail) - c.params.TailLength; c.params.TailLength > 0 && overflow > 0 {
		c.tail = append([]*Entry(nil), c.tail[overflow:]...)
	}
}

// Snapshot captures the cascade for persistence or transfer.
func (c *Cascade) Snapshot() *Snapshot {
	return &Snapshot{
		Tail:     c.Tail(),
		Total:    c.total,
		TipState: c.tipState,
		Live:     c.LiveCoins(),
	}
}

// Restore replaces the cascade with snapshot.
func (c *Cascade) Restore(snapshot *Snapshot) error {
	err := snapshot.Validate()
	if err != nil {
		return err
	}
	c.tail = append([]*Entry(nil), snapshot.Tail...)
	if overflow := len(c.tail) - c.params.TailLength; c.params.TailLength > 0 && overflow > 0 {
		c.tail = c.tail[overflow:]
	}
	c.total = snapshot.Total
	c.tipState = snapshot.TipState
	c.live = make(map[txpow.ID]txpow.Coin, len(snapshot.Live))
	for id, coin := range snapshot.Live {
		c.live[id] = coin
	}
	if tip := c.Tip(); tip != nil {
		log.Infof("Cascade restored with tip %s at height %d (%d finalized)", tip.ID().Short(), tip.Height(), c.total)
	}
	return nil
}
