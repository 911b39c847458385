package unitstore

import (
	"github.com/selfnet/selfd/domain/txpow"
)

type pendingUnit struct {
	unit     *txpow.TxPoW
	sequence uint64
	// parent is set for units waiting for a parent, missing for blocks
	// waiting for transactions.
	parent  *txpow.ID
	missing map[txpow.ID]struct{}
}

// pendingIndex holds the units that can not be processed yet. When full,
// the oldest entry is evicted.
type pendingIndex struct {
	max          int
	nextSequence uint64
	units        map[txpow.ID]*pendingUnit
	byParent     map[txpow.ID][]txpow.ID
	byTxn        map[txpow.ID][]txpow.ID
}

func newPendingIndex(max int) *pendingIndex {
	return &pendingIndex{
		max:      max,
		units:    make(map[txpow.ID]*pendingUnit),
		byParent: make(map[txpow.ID][]txpow.ID),
		byTxn:    make(map[txpow.ID][]txpow.ID),
	}
}

func (p *pendingIndex) len() int {
	return len(p.units)
}

func (p *pendingIndex) contains(id txpow.ID) bool {
	_, ok := p.units[id]
	return ok
}

func (p *pendingIndex) insert(entry *pendingUnit) []txpow.ID {
	var evicted []txpow.ID
	for len(p.units) >= p.max {
		oldest := p.oldest()
		if oldest == nil {
			break
		}
		p.remove(oldest.unit.ID())
		evicted = append(evicted, oldest.unit.ID())
	}
	p.nextSequence++
	entry.sequence = p.nextSequence
	p.units[entry.unit.ID()] = entry
	return evicted
}

func (p *pendingIndex) oldest() *pendingUnit {
	var oldest *pendingUnit
	for _, entry := range p.units {
		if oldest == nil || entry.sequence < oldest.sequence {
			oldest = entry
		}
	}
	return oldest
}

func (p *pendingIndex) addChild(parentID txpow.ID, child *txpow.TxPoW) []txpow.ID {
	if p.contains(child.ID()) {
		return nil
	}
	parent := parentID
	evicted := p.insert(&pendingUnit{unit: child, parent: &parent})
	p.byParent[parentID] = append(p.byParent[parentID], child.ID())
	return evicted
}

func (p *pendingIndex) takeChildren(parentID txpow.ID) []*txpow.TxPoW {
	ids := p.byParent[parentID]
	delete(p.byParent, parentID)
	children := make([]*txpow.TxPoW, 0, len(ids))
	for _, id := range ids {
		entry, ok := p.units[id]
		if !ok || entry.parent == nil {
			continue
		}
		delete(p.units, id)
		children = append(children, entry.unit)
	}
	return children
}

func (p *pendingIndex) addAwaiting(block *txpow.TxPoW, missing []txpow.ID) []txpow.ID {
	if p.contains(block.ID()) {
		return nil
	}
	missingSet := make(map[txpow.ID]struct{}, len(missing))
	for _, id := range missing {
		missingSet[id] = struct{}{}
	}
	evicted := p.insert(&pendingUnit{unit: block, missing: missingSet})
	for id := range missingSet {
		p.byTxn[id] = append(p.byTxn[id], block.ID())
	}
	return evicted
}

func (p *pendingIndex) resolve(txnID txpow.ID) []*txpow.TxPoW {
	ids := p.byTxn[txnID]
	delete(p.byTxn, txnID)
	var resolved []*txpow.TxPoW
	for _, id := range ids {
		entry, ok := p.units[id]
		if !ok || entry.missing == nil {
			continue
		}
		delete(entry.missing, txnID)
		if len(entry.missing) == 0 {
			delete(p.units, id)
			resolved = append(resolved, entry.unit)
		}
	}
	return resolved
}

func (p *pendingIndex) remove(id txpow.ID) {
	entry, ok := p.units[id]
	if !ok {
		return
	}
	delete(p.units, id)
	if entry.parent != nil {
		p.byParent[*entry.parent] = removeID(p.byParent[*entry.parent], id)
		if len(p.byParent[*entry.parent]) == 0 {
			delete(p.byParent, *entry.parent)
		}
	}
	for txnID := range entry.missing {
		p.byTxn[txnID] = removeID(p.byTxn[txnID], id)
		if len(p.byTxn[txnID]) == 0 {
			delete(p.byTxn, txnID)
		}
	}
}

func removeID(ids []txpow.ID, id txpow.ID) []txpow.ID {
	for i := range ids {
		if ids[i] == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
