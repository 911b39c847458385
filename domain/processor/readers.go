package processor

import (
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/chaintree"
	"github.com/selfnet/selfd/domain/txpow"
)

var (
	// ErrNoCrossover is returned when none of a peer's chain IDs are on the
	// local main chain.
	ErrNoCrossover = errors.New("no common block with the peer chain")

	// ErrHistoryUnavailable is returned when the archive lacks the blocks
	// needed to serve a request.
	ErrHistoryUnavailable = errors.New("history is not available")
)

// FindUnit returns a known unit.
func (e *Engine) FindUnit(id txpow.ID) (*txpow.TxPoW, bool) {
	return e.store.Get(id)
}

// HasUnit returns whether the unit is known.
func (e *Engine) HasUnit(id txpow.ID) bool {
	return e.store.Has(id)
}

// TxBlock returns a block with its transactions from the tree, the store or
// the archive. It returns nil if the block is unknown.
func (e *Engine) TxBlock(id txpow.ID) (*txpow.TxBlock, error) {
	e.treeLock.RLock()
	node, ok := e.tree.FindNode(id)
	e.treeLock.RUnlock()
	if ok {
		return node.Block(), nil
	}
	if block, ok := e.store.TxBlock(id); ok {
		return block, nil
	}
	return e.archive.LoadBlock(id)
}

// ChainIDs returns up to max main-chain block IDs from the tip downwards,
// continuing into the cascade tail below the root.
func (e *Engine) ChainIDs(max int) []txpow.ID {
	e.treeLock.RLock()
	defer e.treeLock.RUnlock()

	ids := make([]txpow.ID, 0, max)
	e.tree.WalkAncestors(e.tree.Tip(), func(node *chaintree.Node) bool {
		ids = append(ids, node.ID())
		return len(ids) < max
	})
	tail := e.cascade.Tail()
	for i := len(tail) - 1; i >= 0 && len(ids) < max; i-- {
		ids = append(ids, tail[i].ID())
	}
	return ids
}

// TreeIsEmpty returns whether the node still waits for its first root.
func (e *Engine) TreeIsEmpty() bool {
	e.treeLock.RLock()
	defer e.treeLock.RUnlock()
	return e.tree.IsEmpty()
}

// BuildInitialBatch builds the first batch for a syncing peer. A peer with
// an empty tree gets the cascade and the main chain from the root; any other
// peer gets the main chain after the highest block of peerChain that is on
// the local main chain.
func (e *Engine) BuildInitialBatch(peerChain []txpow.ID, peerIsEmpty bool, max int) (*Batch, error) {
	e.treeLock.RLock()
	defer e.treeLock.RUnlock()

	if e.tree.IsEmpty() {
		return nil, ErrNoRoot
	}
	if peerIsEmpty {
		batch := &Batch{}
		if !e.cascade.IsEmpty() {
			batch.Cascade = e.cascade.Snapshot()
		}
		for _, node := range e.tree.MainChain() {
			if len(batch.Blocks) == max {
				break
			}
			batch.Blocks = append(batch.Blocks, node.Block())
		}
		return batch, nil
	}

	crossover, ok := e.findCrossoverLocked(peerChain)
	if !ok {
		return nil, ErrNoCrossover
	}
	blocks, err := e.mainChainAfterLocked(crossover, max)
	if err != nil {
		return nil, err
	}
	return &Batch{Blocks: blocks}, nil
}

// findCrossoverLocked returns the height of the first ID of chain that is on
// the local main chain, the tree or the cascade tail.
func (e *Engine) findCrossoverLocked(chain []txpow.ID) (uint64, bool) {
	tailHeights := make(map[txpow.ID]uint64)
	for _, entry := range e.cascade.Tail() {
		tailHeights[entry.ID()] = entry.Height()
	}
	for _, id := range chain {
		if node, ok := e.tree.FindNode(id); ok && node.IsOnChain() {
			return node.Height(), true
		}
		if height, ok := tailHeights[id]; ok {
			return height, true
		}
	}
	return 0, false
}

// BuildSyncBatch returns up to max main-chain blocks above afterHeight.
func (e *Engine) BuildSyncBatch(afterHeight uint64, max int) ([]*txpow.TxBlock, error) {
	e.treeLock.RLock()
	defer e.treeLock.RUnlock()

	if e.tree.IsEmpty() {
		return nil, ErrNoRoot
	}
	return e.mainChainAfterLocked(afterHeight, max)
}

func (e *Engine) mainChainAfterLocked(height uint64, max int) ([]*txpow.TxBlock, error) {
	var blocks []*txpow.TxBlock
	rootHeight := e.tree.Root().Height()
	if height+1 < rootHeight && max > 0 {
		to := rootHeight - 1
		if limit := height + uint64(max); limit < to {
			to = limit
		}
		archived, err := e.archive.LoadRange(height+1, to)
		if err != nil {
			return nil, err
		}
		if uint64(len(archived)) != to-height {
			return nil, errors.Wrapf(ErrHistoryUnavailable, "archive has %d of the blocks in [%d, %d]",
				len(archived), height+1, to)
		}
		blocks = append(blocks, archived...)
	}
	for _, node := range e.tree.MainChain() {
		if len(blocks) >= max {
			break
		}
		if node.Height() > height {
			blocks = append(blocks, node.Block())
		}
	}
	return blocks, nil
}

// ArchiveBefore returns up to max archived blocks directly below height,
// ordered by descending height.
func (e *Engine) ArchiveBefore(height uint64, max int) ([]*txpow.TxBlock, error) {
	if height == 0 || max <= 0 {
		return nil, nil
	}
	lowest, err := e.archive.LoadLowest()
	if err != nil || lowest == nil {
		return nil, err
	}
	from := lowest.Height()
	if height > uint64(max) && height-uint64(max) > from {
		from = height - uint64(max)
	}
	if from >= height {
		return nil, nil
	}
	blocks, err := e.archive.LoadRange(from, height-1)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}

// LowestArchivedHeight returns the height of the lowest archived block. It
// returns false while the archive is empty.
func (e *Engine) LowestArchivedHeight() (uint64, bool, error) {
	lowest, err := e.archive.LoadLowest()
	if err != nil || lowest == nil {
		return 0, false, err
	}
	return lowest.Height(), true, nil
}
