package chaintree

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/txpow"
)

// PlanCascade returns the main-chain node depth blocks behind the tip that
// SetLength(depth) would make the root, and the main-chain nodes it would
// evict, oldest first. It changes nothing.
func (t *Tree) PlanCascade(depth uint64) (*Node, []*Node, error) {
	root, tip := t.Root(), t.Tip()
	if root == nil {
		return nil, nil, errors.WithStack(ErrEmptyTree)
	}
	if tip.Height() < root.Height()+depth {
		return root, nil, nil
	}
	newRoot, ok := t.PastNode(tip.Height() - depth)
	if !ok {
		return nil, nil, errors.Errorf("no main-chain node at height %d", tip.Height()-depth)
	}
	var evicted []*Node
	for node := t.nodes[newRoot.parent]; node != nil; node = t.nodes[node.parent] {
		evicted = append(evicted, node)
	}
	reverse(evicted)
	return newRoot, evicted, nil
}

// CopyParentRelevantCoins returns the coins that must survive into newRoot:
// the coins created at or below newRoot's parent on the main chain that are
// still live once newRoot is applied.
func (t *Tree) CopyParentRelevantCoins(newRoot *Node) map[txpow.ID]txpow.Coin {
	var chain []*Node
	t.WalkAncestors(t.nodes[newRoot.parent], func(node *Node) bool {
		chain = append(chain, node)
		return true
	})
	reverse(chain)

	carried := make(map[txpow.ID]txpow.Coin)
	if len(chain) > 0 {
		for id, coin := range chain[0].carried {
			carried[id] = coin
		}
	} else {
		for id, coin := range newRoot.carried {
			carried[id] = coin
		}
	}
	for _, node := range chain {
		for id := range node.spent {
			delete(carried, id)
		}
		for id, coin := range node.created {
			carried[id] = coin
		}
	}
	for id := range newRoot.spent {
		delete(carried, id)
	}
	return carried
}

// SetLength moves the root to the main-chain node depth blocks behind the
// tip, drops everything that does not descend from it and returns the
// evicted main-chain nodes oldest first. Side branches below the new root are
// dropped without being returned.
func (t *Tree) SetLength(depth uint64) ([]*Node, error) {
	newRoot, evicted, err := t.PlanCascade(depth)
	if err != nil {
		return nil, err
	}
	if len(evicted) == 0 {
		return nil, nil
	}
	carried := t.CopyParentRelevantCoins(newRoot)

	keep := make(map[Handle]struct{})
	stack := []Handle{newRoot.handle}
	for len(stack) > 0 {
		handle := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		keep[handle] = struct{}{}
		stack = append(stack, t.nodes[handle].children...)
	}
	dropped := 0
	for handle, node := range t.nodes {
		if _, ok := keep[handle]; ok {
			continue
		}
		delete(t.nodes, handle)
		delete(t.byID, node.ID())
		dropped++
	}

	newRoot.parent = 0
	newRoot.carried = carried
	for _, node := range evicted {
		node.carried = nil
	}
	t.root = newRoot.handle
	log.Debugf("Tree root moved to %s at height %d, %d nodes dropped (%d main chain)",
		newRoot.ID().Short(), newRoot.Height(), dropped, len(evicted))
	return evicted, nil
}

func reverse(nodes []*Node) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}

func sortByHeight(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Height() != nodes[j].Height() {
			return nodes[i].Height() < nodes[j].Height()
		}
		return nodes[i].sequence < nodes[j].sequence
	})
}
