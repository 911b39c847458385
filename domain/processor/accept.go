package processor

import (
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/chaintree"
	"github.com/selfnet/selfd/domain/ruleerrors"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/metrics"
)

// ErrNoRoot is returned while the tree waits for its first root.
var ErrNoRoot = errors.New("chain tree has no root yet")

// AcceptUnit processes one unit. It must only be called from the engine
// loop, or before Start.
func (e *Engine) AcceptUnit(unit *txpow.TxPoW, from PeerID) Result {
	result := e.acceptUnit(unit, from)
	metrics.UnitProcessed(result.Outcome.String())
	return result
}

// AcceptTxBlock stores the transactions of block and processes it like
// AcceptUnit.
func (e *Engine) AcceptTxBlock(block *txpow.TxBlock, from PeerID) Result {
	for _, txn := range block.Txns {
		if result, ok := e.checkBasic(txn, from); !ok {
			metrics.UnitProcessed(result.Outcome.String())
			return result
		}
		e.store.Add(txn, e.now())
	}
	return e.AcceptUnit(block.TxPoW, from)
}

func (e *Engine) checkBasic(unit *txpow.TxPoW, from PeerID) (Result, bool) {
	err := e.validator.ValidateBasic(unit)
	if err == nil {
		return Result{}, true
	}
	if code, ok := ruleerrors.Code(err); ok && code.IsCryptographic() {
		log.Warnf("Unit %s from %s failed a cryptographic check: %s", unit.ID().Short(), from, err)
		return fatal(err), false
	}
	log.Debugf("Rejected unit %s from %s: %s", unit.ID().Short(), from, err)
	return rejected(err), false
}

func (e *Engine) acceptUnit(unit *txpow.TxPoW, from PeerID) Result {
	id := unit.ID()
	if e.store.IsFinalized(id) {
		return duplicate()
	}
	if result, ok := e.checkBasic(unit, from); !ok {
		return result
	}
	isNew := e.store.Add(unit, e.now())
	if !unit.IsBlock() {
		if !isNew {
			return duplicate()
		}
		return e.acceptTransaction(unit, from)
	}
	if !isNew && e.isKnownBlock(id) {
		return duplicate()
	}
	return e.processBlocks(from, unit)
}

func (e *Engine) isKnownBlock(id txpow.ID) bool {
	e.treeLock.RLock()
	defer e.treeLock.RUnlock()
	_, inTree := e.tree.FindNode(id)
	return inTree || e.store.IsPending(id)
}

func (e *Engine) acceptTransaction(txn *txpow.TxPoW, from PeerID) Result {
	id := txn.ID()
	err := e.mempool.Add(txn)
	if err != nil {
		log.Debugf("Txn %s kept out of the mempool: %s", id.Short(), err)
	} else if !e.IsSyncing() {
		e.relay.AnnounceUnit(id, false, from)
	}
	resolvable := e.store.TakeResolvable(id)
	if len(resolvable) > 0 {
		log.Debugf("Txn %s completes %d waiting blocks", id.Short(), len(resolvable))
		e.processBlocks(from, resolvable...)
	}
	return accepted()
}

// processBlocks runs the work stack seeded with units and returns the result
// of the first one. One recalculation follows once the stack drains.
func (e *Engine) processBlocks(from PeerID, units ...*txpow.TxPoW) Result {
	e.treeLock.Lock()
	if e.tree.IsEmpty() {
		for _, unit := range units {
			e.store.AddPendingChild(unit.ParentID(), unit)
		}
		e.treeLock.Unlock()
		return Result{Outcome: Deferred, Err: ErrNoRoot}
	}

	first := units[0].ID()
	stack := make([]*txpow.TxPoW, 0, len(units))
	for i := len(units) - 1; i >= 0; i-- {
		stack = append(stack, units[i])
	}
	result := deferred()
	grafted := 0
	for len(stack) > 0 {
		unit := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		unitResult, next := e.processBlockLocked(unit, from)
		if unit.ID() == first {
			result = unitResult
		}
		if unitResult.Outcome == Accepted {
			grafted++
		}
		stack = append(stack, next...)
	}
	if grafted == 0 {
		e.treeLock.Unlock()
		return result
	}
	e.finishLocked()
	return result
}

// processBlockLocked places one block and returns the units to process next.
func (e *Engine) processBlockLocked(unit *txpow.TxPoW, from PeerID) (Result, []*txpow.TxPoW) {
	id := unit.ID()
	if _, ok := e.tree.FindNode(id); ok {
		return duplicate(), nil
	}
	root := e.tree.Root()
	if unit.Height() <= root.Height() {
		return rejected(ruleerrors.Errorf(ruleerrors.RejectFinalized,
			"block %s at height %d is not above the root at height %d", id.Short(), unit.Height(), root.Height())), nil
	}

	parent, ok := e.tree.FindNode(unit.ParentID())
	if !ok {
		return e.deferForParentLocked(unit, from)
	}
	txns, missing := e.store.ResolveTxns(unit)
	if len(missing) > 0 {
		evicted := e.store.AddAwaitingTxns(unit, missing)
		logEvicted(evicted)
		for _, txnID := range missing {
			e.relay.RequestUnit(from, txnID, false)
		}
		log.Debugf("Block %s waits for %d txns", id.Short(), len(missing))
		return deferred(), nil
	}
	return e.graftLocked(parent, txpow.NewTxBlock(unit, txns), from)
}

func (e *Engine) deferForParentLocked(unit *txpow.TxPoW, from PeerID) (Result, []*txpow.TxPoW) {
	parentID := unit.ParentID()
	evicted := e.store.AddPendingChild(parentID, unit)
	logEvicted(evicted)
	parentUnit, stored := e.store.Get(parentID)
	if stored && parentUnit.IsBlock() && !e.store.IsPending(parentID) {
		return deferred(), []*txpow.TxPoW{parentUnit}
	}
	log.Debugf("Block %s waits for parent %s", unit.ID().Short(), parentID.Short())
	e.relay.RequestUnit(from, parentID, true)
	return deferred(), nil
}

func logEvicted(evicted []txpow.ID) {
	if len(evicted) > 0 {
		log.Debugf("Pending index full, evicted %d units", len(evicted))
	}
}

func (e *Engine) graftLocked(parent *chaintree.Node, block *txpow.TxBlock, from PeerID) (Result, []*txpow.TxPoW) {
	unit := block.TxPoW
	id := unit.ID()
	spent, err := e.tree.ResolveInputs(parent, block.Inputs())
	if err != nil {
		log.Infof("Rejected block %s: %s", id.Short(), err)
		return rejected(ruleerrors.Errorf(ruleerrors.RejectMissingInput, "%s", err)), nil
	}
	if e.inValidRangeLocked(unit.Height()) {
		err = e.validator.ValidateAgainstParent(nodeState{tree: e.tree, node: parent}, unit, block.Txns)
		if err != nil {
			log.Infof("Rejected block %s at height %d: %s", id.Short(), unit.Height(), err)
			return rejected(err), nil
		}
	} else {
		log.Debugf("Block %s at height %d is close to the root, accepted without the parent check",
			id.Short(), unit.Height())
	}

	resolved := &txpow.TxBlock{TxPoW: unit, Txns: block.Txns, Spent: spent}
	_, added, err := e.tree.Graft(parent, resolved)
	if err != nil {
		return rejected(err), nil
	}
	if !added {
		return duplicate(), nil
	}
	e.store.PutTxBlock(resolved)
	if !e.IsSyncing() {
		e.relay.AnnounceUnit(id, true, from)
	}
	log.Debugf("Accepted block %s at height %d", id.Short(), unit.Height())
	return accepted(), e.store.TakePendingChildren(id)
}

// inValidRangeLocked reports whether a block at height gets the full check
// against its parent. Once the tree is deeper than ValidRangeDepth, blocks
// within that depth of the root are accepted on basic checks alone.
func (e *Engine) inValidRangeLocked(height uint64) bool {
	root, tip := e.tree.Root(), e.tree.Tip()
	if tip.Height() < root.Height()+e.params.ValidRangeDepth {
		return true
	}
	return height > root.Height()+e.params.ValidRangeDepth
}
