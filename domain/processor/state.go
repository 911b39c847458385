package processor

import (
	"github.com/selfnet/selfd/domain/chaintree"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/validator"
)

// nodeState exposes the state after a tree node to the validator.
type nodeState struct {
	tree *chaintree.Tree
	node *chaintree.Node
}

var _ validator.ParentState = nodeState{}

func (s nodeState) Height() uint64 {
	return s.node.Height()
}

func (s nodeState) MMRRoot() txpow.ID {
	return s.node.Snapshot().Root()
}

func (s nodeState) LookupCoin(id txpow.ID) (txpow.Coin, bool) {
	return s.tree.LookupCoin(s.node, id)
}

// WithTipState calls fn with the tip and the state after it, holding the
// read lock. The state must not escape fn.
func (e *Engine) WithTipState(fn func(tip *Tip, state validator.ParentState) error) error {
	e.treeLock.RLock()
	defer e.treeLock.RUnlock()

	node := e.tree.Tip()
	if node == nil {
		return ErrNoRoot
	}
	return fn(e.tipFromLocked(node), nodeState{tree: e.tree, node: node})
}
