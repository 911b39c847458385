// Package chaintree keeps the fork-aware tree of chain-state nodes above the
// cascade. Nodes live in an arena keyed by Handle; parent and child links are
// handles, never pointers.
//
// A Tree is not safe for concurrent use. Its owner serializes access.
package chaintree

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/txpow"
)

var (
	// ErrEmptyTree is returned by operations that need a root.
	ErrEmptyTree = errors.New("tree has no root")

	// ErrParentUnknown is returned when grafting onto a node outside the tree.
	ErrParentUnknown = errors.New("parent is not in the tree")

	// ErrNotChild is returned when the unit does not extend the given parent.
	ErrNotChild = errors.New("unit does not extend parent")

	// ErrMissingCoin is returned when a spent coin can not be resolved.
	ErrMissingCoin = errors.New("spent coin is unknown or already spent")
)

// Tree is the arena of live chain-state nodes.
type Tree struct {
	nodes map[Handle]*Node
	byID  map[txpow.ID]Handle

	root Handle
	tip  Handle

	nextHandle   Handle
	nextSequence uint64
}

// New returns an empty tree. SetRoot gives it a root.
func New() *Tree {
	return &Tree{
		nodes: make(map[Handle]*Node),
		byID:  make(map[txpow.ID]Handle),
	}
}

// IsEmpty returns whether the tree has no root.
func (t *Tree) IsEmpty() bool {
	return t.root == 0
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Root returns the root node, or nil for an empty tree.
func (t *Tree) Root() *Node {
	return t.nodes[t.root]
}

// Tip returns the tip selected by the last Recalculate, or nil for an empty
// tree.
func (t *Tree) Tip() *Node {
	return t.nodes[t.tip]
}

// Node returns the node addressed by handle.
func (t *Tree) Node(handle Handle) (*Node, bool) {
	node, ok := t.nodes[handle]
	return node, ok
}

// FindNode looks a node up by block ID. Blocks below the root are not found.
func (t *Tree) FindNode(id txpow.ID) (*Node, bool) {
	handle, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return t.nodes[handle], true
}

// Parent returns the parent of node, or false for the root.
func (t *Tree) Parent(node *Node) (*Node, bool) {
	parent, ok := t.nodes[node.parent]
	return parent, ok
}

// Children returns the children of node in arrival order.
func (t *Tree) Children(node *Node) []*Node {
	children := make([]*Node, 0, len(node.children))
	for _, handle := range node.children {
		children = append(children, t.nodes[handle])
	}
	return children
}

// SetRoot discards the tree and makes block its only node. carried are the
// coins created below block that are still live, and baseWork the cumulative
// work of everything below block.
func (t *Tree) SetRoot(block *txpow.TxBlock, snapshot *mmr.Snapshot,
	carried map[txpow.ID]txpow.Coin, baseWork *big.Int) *Node {

	t.nodes = make(map[Handle]*Node)
	t.byID = make(map[txpow.ID]Handle)
	if snapshot == nil {
		snapshot = mmr.Empty().Apply(block.Spent, block.Created())
	}
	if baseWork == nil {
		baseWork = new(big.Int)
	}
	node := t.newNode(block, snapshot)
	if carried == nil {
		carried = make(map[txpow.ID]txpow.Coin)
	}
	node.carried = carried
	node.cumulativeWork = new(big.Int).Add(baseWork, block.TxPoW.Weight())
	node.onChain = true
	t.root = node.handle
	t.tip = node.handle
	log.Debugf("Tree root set to %s at height %d", node.ID().Short(), node.Height())
	return node
}

func (t *Tree) newNode(block *txpow.TxBlock, snapshot *mmr.Snapshot) *Node {
	t.nextHandle++
	t.nextSequence++
	node := &Node{
		handle:         t.nextHandle,
		block:          block,
		snapshot:       snapshot,
		created:        make(map[txpow.ID]txpow.Coin),
		spent:          make(map[txpow.ID]struct{}),
		cumulativeWork: new(big.Int),
		sequence:       t.nextSequence,
	}
	for _, coin := range block.Created() {
		node.created[coin.ID] = coin
	}
	for _, coin := range block.Spent {
		node.spent[coin.ID] = struct{}{}
	}
	t.nodes[node.handle] = node
	t.byID[node.ID()] = node.handle
	return node
}

// Graft adds block as a child of parent and builds its accumulator from the
// parent's. block.Spent must hold the coins its inputs spend, see
// ResolveInputs. Grafting a block already in the tree returns the existing
// node and false. Graft never changes the tip.
func (t *Tree) Graft(parent *Node, block *txpow.TxBlock) (*Node, bool, error) {
	if existing, ok := t.FindNode(block.ID()); ok {
		return existing, false, nil
	}
	if parent == nil || t.nodes[parent.handle] != parent {
		return nil, false, errors.Wrapf(ErrParentUnknown, "grafting %s", block.ID().Short())
	}
	if block.TxPoW.ParentID() != parent.ID() || block.Height() != parent.Height()+1 {
		return nil, false, errors.Wrapf(ErrNotChild, "%s at height %d onto %s at height %d",
			block.ID().Short(), block.Height(), parent.ID().Short(), parent.Height())
	}
	snapshot := parent.snapshot.Apply(block.Spent, block.Created())
	node := t.newNode(block, snapshot)
	node.parent = parent.handle
	node.cumulativeWork.Add(parent.cumulativeWork, block.TxPoW.Weight())
	parent.children = append(parent.children, node.handle)
	log.Tracef("Grafted %s at height %d onto %s", node.ID().Short(), node.Height(), parent.ID().Short())
	return node, true, nil
}

// ResolveInputs looks up the coins spent by inputs in the state after from.
// It fails on unknown, already spent and repeated inputs.
func (t *Tree) ResolveInputs(from *Node, inputs []txpow.ID) ([]txpow.Coin, error) {
	spent := make([]txpow.Coin, 0, len(inputs))
	seen := make(map[txpow.ID]struct{}, len(inputs))
	for _, input := range inputs {
		if _, ok := seen[input]; ok {
			return nil, errors.Wrapf(ErrMissingCoin, "coin %s spent twice", input.Short())
		}
		seen[input] = struct{}{}
		coin, ok := t.LookupCoin(from, input)
		if !ok {
			return nil, errors.Wrapf(ErrMissingCoin, "coin %s", input.Short())
		}
		spent = append(spent, coin)
	}
	return spent, nil
}

// LookupCoin returns the coin with coinID if it is live in the state after
// from.
func (t *Tree) LookupCoin(from *Node, coinID txpow.ID) (txpow.Coin, bool) {
	for node := from; node != nil; {
		if _, ok := node.spent[coinID]; ok {
			return txpow.Coin{}, false
		}
		if coin, ok := node.created[coinID]; ok {
			return coin, true
		}
		if node.handle == t.root {
			coin, ok := node.carried[coinID]
			return coin, ok
		}
		node = t.nodes[node.parent]
	}
	return txpow.Coin{}, false
}

// Recalculate re-derives cumulative work top-down, selects the tip and
// re-marks the main chain. The tip is the leaf with the greatest cumulative
// work; among equals the earliest arrival wins.
func (t *Tree) Recalculate() *Reorganization {
	root := t.Root()
	if root == nil {
		return &Reorganization{}
	}
	oldTip := t.Tip()

	var best *Node
	queue := []*Node{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.IsLeaf() {
			if best == nil || isBetterTip(node, best) {
				best = node
			}
			continue
		}
		for _, childHandle := range node.children {
			child := t.nodes[childHandle]
			child.cumulativeWork.Add(node.cumulativeWork, child.block.TxPoW.Weight())
			queue = append(queue, child)
		}
	}
	t.tip = best.handle
	return t.remarkChain(oldTip, best)
}

func isBetterTip(candidate, best *Node) bool {
	comparison := candidate.cumulativeWork.Cmp(best.cumulativeWork)
	if comparison != 0 {
		return comparison > 0
	}
	return candidate.sequence < best.sequence
}

// Reorganization lists the nodes whose on-chain mark changed. Both slices are
// ordered by height.
type Reorganization struct {
	OldTip       *Node
	NewTip       *Node
	Connected    []*Node
	Disconnected []*Node
}

// TipChanged returns whether the tip moved.
func (r *Reorganization) TipChanged() bool {
	if r.NewTip == nil {
		return false
	}
	return r.OldTip == nil || r.OldTip.ID() != r.NewTip.ID()
}

func (t *Tree) remarkChain(oldTip, newTip *Node) *Reorganization {
	reorganization := &Reorganization{OldTip: oldTip, NewTip: newTip}
	onNewChain := make(map[Handle]struct{})
	for node := newTip; node != nil; node = t.nodes[node.parent] {
		onNewChain[node.handle] = struct{}{}
		if !node.onChain {
			node.onChain = true
			reorganization.Connected = append(reorganization.Connected, node)
		}
	}
	for _, node := range t.nodes {
		if _, ok := onNewChain[node.handle]; !ok && node.onChain {
			node.onChain = false
			reorganization.Disconnected = append(reorganization.Disconnected, node)
		}
	}
	reverse(reorganization.Connected)
	sortByHeight(reorganization.Disconnected)
	return reorganization
}

// HeaviestBranchLength is the number of nodes from the root to the tip.
func (t *Tree) HeaviestBranchLength() uint64 {
	root, tip := t.Root(), t.Tip()
	if root == nil {
		return 0
	}
	return tip.Height() - root.Height() + 1
}

// PastNode returns the main-chain node at height.
func (t *Tree) PastNode(height uint64) (*Node, bool) {
	for node := t.Tip(); node != nil; node = t.nodes[node.parent] {
		if node.Height() == height {
			return node, true
		}
		if node.Height() < height {
			return nil, false
		}
	}
	return nil, false
}

// MainChain returns the main chain from the root to the tip.
func (t *Tree) MainChain() []*Node {
	var chain []*Node
	for node := t.Tip(); node != nil; node = t.nodes[node.parent] {
		chain = append(chain, node)
	}
	reverse(chain)
	return chain
}

// WalkAncestors calls fn on node and its ancestors up to the root until fn
// returns false.
func (t *Tree) WalkAncestors(node *Node, fn func(*Node) bool) {
	for ; node != nil; node = t.nodes[node.parent] {
		if !fn(node) {
			return
		}
	}
}

// Verify checks the parent linkage invariants of every node.
func (t *Tree) Verify() error {
	if t.root == 0 {
		if len(t.nodes) != 0 {
			return errors.Errorf("empty tree holds %d nodes", len(t.nodes))
		}
		return nil
	}
	root := t.Root()
	for _, node := range t.nodes {
		if node == root {
			continue
		}
		parent, ok := t.nodes[node.parent]
		if !ok {
			return errors.Errorf("node %s has no parent in the tree", node.ID().Short())
		}
		if parent.ID() != node.ParentID() || node.Height() != parent.Height()+1 {
			return errors.Errorf("node %s at height %d is not a child of %s at height %d",
				node.ID().Short(), node.Height(), parent.ID().Short(), parent.Height())
		}
		if node.Height() <= root.Height() {
			return errors.Errorf("node %s at height %d is not above the root", node.ID().Short(), node.Height())
		}
	}
	tip := t.Tip()
	reachesRoot := false
	t.WalkAncestors(tip, func(node *Node) bool {
		reachesRoot = node == root
		return true
	})
	if !reachesRoot {
		return errors.Errorf("tip %s does not descend from the root", tip.ID().Short())
	}
	return nil
}

// RemoveLeaf detaches a leaf that is not the root. Used to roll back a
// partially applied batch; Recalculate must run afterwards.
func (t *Tree) RemoveLeaf(node *Node) error {
	if t.nodes[node.handle] != node {
		return errors.Wrapf(ErrParentUnknown, "removing %s", node.ID().Short())
	}
	if node.handle == t.root || !node.IsLeaf() {
		return errors.Errorf("node %s is not a removable leaf", node.ID().Short())
	}
	parent := t.nodes[node.parent]
	for i, handle := range parent.children {
		if handle == node.handle {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	delete(t.nodes, node.handle)
	delete(t.byID, node.ID())
	if t.tip == node.handle {
		t.tip = parent.handle
	}
	return nil
}
