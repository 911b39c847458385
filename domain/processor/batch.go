package processor

import (
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/selfnet/selfd/domain/cascade"
	"github.com/selfnet/selfd/domain/chaintree"
	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/ruleerrors"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/infrastructure/metrics"
	"github.com/selfnet/selfd/util/mstime"
)

// AcceptSyncBatch applies the initial batch of a sync session. It must only
// be called from the engine loop, or before Start.
func (e *Engine) AcceptSyncBatch(batch *Batch, from PeerID) Result {
	if batch == nil {
		return fatal(ruleerrors.New(ruleerrors.RejectBadBatch, "missing sync batch"))
	}
	return e.acceptBatch(batch.Cascade, batch.Blocks, from, true)
}

// AcceptTrustedBatch applies a catch-up batch.
func (e *Engine) AcceptTrustedBatch(blocks []*txpow.TxBlock, from PeerID) Result {
	return e.acceptBatch(nil, blocks, from, false)
}

// acceptBatch grafts a pre-validated chain segment without checking each
// block against its parent. Either every new block of the batch is grafted
// or none is, and the tip is published once at the end. Live blocks waiting
// on the batch are resumed once the node no longer reports syncing.
func (e *Engine) acceptBatch(snapshot *cascade.Snapshot, blocks []*txpow.TxBlock, from PeerID, initial bool) Result {
	grafted, result := e.graftBatch(snapshot, blocks, from, initial)
	if result.Outcome == Accepted {
		e.resumePendingAfterBatch(grafted, from)
	}
	return result
}

func (e *Engine) graftBatch(snapshot *cascade.Snapshot, blocks []*txpow.TxBlock, from PeerID,
	initial bool) ([]*chaintree.Node, Result) {

	e.setSyncing(true)
	defer e.setSyncing(false)
	onEnd := logger.LogAndMeasureExecutionTime(log, "acceptBatch")
	defer onEnd()
	start := time.Now()
	defer func() { metrics.ObserveBatch(time.Since(start)) }()

	if len(blocks) > e.params.MaxBatchBlocks {
		log.Warnf("Batch of %d blocks from %s capped to %d", len(blocks), from, e.params.MaxBatchBlocks)
		blocks = blocks[:e.params.MaxBatchBlocks]
	}

	e.treeLock.Lock()
	grafted, err := e.applyBatchLocked(snapshot, blocks, initial)
	if err != nil {
		e.treeLock.Unlock()
		log.Warnf("Batch of %d blocks from %s failed: %s", len(blocks), from, err)
		return nil, fatal(err)
	}
	if len(grafted) == 0 {
		e.treeLock.Unlock()
		return nil, duplicate()
	}
	e.finishLocked()
	log.Infof("Applied batch of %d new blocks from %s up to height %d",
		len(grafted), from, grafted[len(grafted)-1].Height())
	return grafted, accepted()
}

func badBatch(format string, args ...interface{}) error {
	return ruleerrors.Errorf(ruleerrors.RejectBadBatch, format, args...)
}

func checkBatchStructure(blocks []*txpow.TxBlock) error {
	for i, block := range blocks {
		err := block.CheckResolved()
		if err != nil {
			return badBatch("batch element %d: %s", i, err)
		}
		if len(block.Spent) != len(block.Inputs()) {
			return badBatch("batch element %d spends %d inputs but carries %d coins",
				i, len(block.Inputs()), len(block.Spent))
		}
		if i == 0 {
			continue
		}
		previous := blocks[i-1]
		if block.Height() != previous.Height()+1 || block.TxPoW.ParentID() != previous.ID() {
			return badBatch("batch element %d at height %d does not follow %s at height %d",
				i, block.Height(), previous.ID().Short(), previous.Height())
		}
	}
	return nil
}

// applyBatchLocked returns the nodes the batch added, oldest first. On error
// the tree and the cascade are as they were.
func (e *Engine) applyBatchLocked(snapshot *cascade.Snapshot, blocks []*txpow.TxBlock,
	initial bool) ([]*chaintree.Node, error) {

	err := checkBatchStructure(blocks)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}

	var added []*chaintree.Node
	wasEmpty := e.tree.IsEmpty()
	previousCascade := e.cascade
	rollback := func() {
		for _, node := range added {
			if wasEmpty {
				e.store.SetOnChain(node.Block(), false)
			}
			e.store.RemoveTxBlock(node.ID())
		}
		if wasEmpty {
			e.tree = chaintree.New()
			e.cascade = previousCascade
			return
		}
		for i := len(added) - 1; i >= 0; i-- {
			err := e.tree.RemoveLeaf(added[i])
			if err != nil {
				log.Criticalf("Rolling back a batch failed: %+v\n%s", err, spew.Sdump(added[i].Block().TxPoW.Header))
			}
		}
	}

	if wasEmpty {
		root, err := e.setRootFromBatchLocked(snapshot, blocks[0])
		if err != nil {
			e.cascade = previousCascade
			return nil, err
		}
		added = append(added, root)
		blocks = blocks[1:]
	} else if initial {
		err := e.checkFreshLocked(blocks[len(blocks)-1])
		if err != nil {
			return nil, err
		}
	}

	for _, block := range blocks {
		node, isNew, err := e.graftTrustedLocked(block)
		if err != nil {
			rollback()
			return nil, err
		}
		if isNew {
			added = append(added, node)
		}
	}
	if wasEmpty && previousCascade != e.cascade {
		e.persistRestoredCascade()
	}
	return added, nil
}

// setRootFromBatchLocked roots the empty tree at first. A snapshot that
// first follows replaces a local cascade that it does not follow.
func (e *Engine) setRootFromBatchLocked(snapshot *cascade.Snapshot, first *txpow.TxBlock) (*chaintree.Node, error) {
	if snapshot != nil && (e.cascade.IsEmpty() || e.cascade.AcceptsRoot(first.TxPoW) != nil) {
		restored := cascade.New(e.cascade.Params(), e.archive)
		err := restored.Restore(snapshot)
		if err != nil {
			return nil, ruleerrors.Errorf(ruleerrors.RejectCascadeMismatch, "invalid cascade snapshot: %s", err)
		}
		e.cascade = restored
	}

	if e.cascade.IsEmpty() {
		if first.Height() != 0 || !first.TxPoW.ParentID().IsZero() {
			return nil, ruleerrors.Errorf(ruleerrors.RejectCascadeMismatch,
				"batch without a cascade starts at height %d instead of genesis", first.Height())
		}
	} else if err := e.cascade.AcceptsRoot(first.TxPoW); err != nil {
		return nil, ruleerrors.Errorf(ruleerrors.RejectCascadeMismatch, "%s", err)
	}

	state := e.cascade.TipState()
	if state == nil {
		state = mmr.Empty()
	}
	root := e.tree.SetRoot(first, state.Apply(first.Spent, first.Created()),
		e.cascade.LiveCoins(), e.cascade.BaseWork())
	e.store.PutTxBlock(first)
	e.store.SetOnChain(first, true)
	return root, nil
}

func (e *Engine) persistRestoredCascade() {
	for _, entry := range e.cascade.Tail() {
		err := e.archive.SaveBlock(entry.Block)
		if err != nil {
			log.Errorf("Failed to archive received cascade block %s: %s", entry.ID().Short(), err)
			return
		}
		e.store.MarkFinalized(entry.Block)
	}
	err := e.archive.SaveCascade(e.cascade.Snapshot())
	if err != nil {
		log.Errorf("Failed to persist the received cascade: %s", err)
	}
}

// checkFreshLocked rejects an initial batch whose newest block is old, once
// the node has a tree of its own.
func (e *Engine) checkFreshLocked(last *txpow.TxBlock) error {
	if _, ok := e.tree.FindNode(last.ID()); ok {
		return nil
	}
	age := mstime.AgeMilli(e.now().UnixMilli(), last.TxPoW.Header.TimeMilli)
	if age > e.params.FreshTipAge {
		return ruleerrors.Errorf(ruleerrors.RejectStaleTip, "batch tip %s is %s old", last.ID().Short(), age)
	}
	return nil
}

func (e *Engine) graftTrustedLocked(block *txpow.TxBlock) (*chaintree.Node, bool, error) {
	if node, ok := e.tree.FindNode(block.ID()); ok {
		return node, false, nil
	}
	if block.Height() <= e.tree.Root().Height() {
		return nil, false, nil
	}
	parent, ok := e.tree.FindNode(block.TxPoW.ParentID())
	if !ok {
		return nil, false, badBatch("block %s at height %d does not attach to the tree",
			block.ID().Short(), block.Height())
	}
	spent, err := e.tree.ResolveInputs(parent, block.Inputs())
	if err != nil {
		if !spendsInputs(block.Spent, block.Inputs()) {
			return nil, false, badBatch("block %s: %s", block.ID().Short(), err)
		}
		spent = block.Spent
	}
	resolved := &txpow.TxBlock{TxPoW: block.TxPoW, Txns: block.Txns, Spent: spent}
	node, isNew, err := e.tree.Graft(parent, resolved)
	if err != nil {
		return nil, false, badBatch("%s", err)
	}
	e.store.PutTxBlock(resolved)
	return node, isNew, nil
}

func spendsInputs(spent []txpow.Coin, inputs []txpow.ID) bool {
	if len(spent) != len(inputs) {
		return false
	}
	for i, coin := range spent {
		if coin.ID != inputs[i] {
			return false
		}
	}
	return true
}

// resumePendingAfterBatch retries the live blocks that waited for a block
// of the batch. Old ones are dropped instead of triggering txn requests.
func (e *Engine) resumePendingAfterBatch(grafted []*chaintree.Node, from PeerID) {
	nowMilli := e.now().UnixMilli()
	var resumable []*txpow.TxPoW
	for _, node := range grafted {
		for _, child := range e.store.TakePendingChildren(node.ID()) {
			if mstime.AgeMilli(nowMilli, child.Header.TimeMilli) > e.params.FreshTipAge {
				log.Debugf("Dropping stale pending block %s at height %d", child.ID().Short(), child.Height())
				continue
			}
			resumable = append(resumable, child)
		}
	}
	if len(resumable) > 0 {
		e.processBlocks(from, resumable...)
	}
}

// AcceptContinuation extends the archive below its lowest block. blocks are
// ordered by descending height.
func (e *Engine) AcceptContinuation(blocks []*txpow.TxBlock, from PeerID) Result {
	if len(blocks) == 0 {
		return duplicate()
	}
	lowest, err := e.archive.LoadLowest()
	if err != nil {
		return rejected(err)
	}
	if lowest == nil {
		return rejected(ruleerrors.New(ruleerrors.RejectCascadeMismatch, "archive is empty, nothing to continue"))
	}
	expected := lowest
	saved := 0
	for i, block := range blocks {
		if expected.Height() == 0 {
			break
		}
		err := block.CheckResolved()
		if err != nil {
			return fatal(badBatch("continuation element %d: %s", i, err))
		}
		if block.Height()+1 != expected.Height() || block.ID() != expected.TxPoW.ParentID() {
			return fatal(badBatch("continuation element %d at height %d is not the parent of %s at height %d",
				i, block.Height(), expected.ID().Short(), expected.Height()))
		}
		err = e.archive.SaveBlock(block)
		if err != nil {
			return rejected(err)
		}
		expected = block
		saved++
	}
	log.Infof("Archive extended by %d blocks from %s, now starting at height %d", saved, from, expected.Height())
	return accepted()
}
