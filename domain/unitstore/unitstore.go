// Package unitstore is the in-memory database of every unit the node knows
// about: blocks and transactions, whether they are on the main chain or
// finalized, and which units wait for a missing parent or transaction.
package unitstore

import (
	"sync"
	"time"

	"github.com/selfnet/selfd/domain/txpow"
)

// Record is a stored unit and its flags.
type Record struct {
	Unit       *txpow.TxPoW
	ReceivedAt time.Time
	OnChain    bool
	Finalized  bool
	// InBlock is the main-chain block that includes the transaction.
	InBlock txpow.ID
}

// Store is safe for concurrent use. Only the engine mutates it; relay flows
// read it.
type Store struct {
	lock    sync.RWMutex
	records map[txpow.ID]*Record
	blocks  map[txpow.ID]*txpow.TxBlock

	pending *pendingIndex
}

// New returns an empty store. maxPending bounds the units waiting for a
// parent or for transactions.
func New(maxPending int) *Store {
	return &Store{
		records: make(map[txpow.ID]*Record),
		blocks:  make(map[txpow.ID]*txpow.TxBlock),
		pending: newPendingIndex(maxPending),
	}
}

// Add stores unit and returns false if it was already known.
func (s *Store) Add(unit *txpow.TxPoW, receivedAt time.Time) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.records[unit.ID()]; ok {
		return false
	}
	s.records[unit.ID()] = &Record{Unit: unit, ReceivedAt: receivedAt}
	return true
}

// Has returns whether the unit is stored.
func (s *Store) Has(id txpow.ID) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	_, ok := s.records[id]
	return ok
}

// Get returns the stored unit.
func (s *Store) Get(id txpow.ID) (*txpow.TxPoW, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return record.Unit, true
}

// Record returns a copy of the unit's record.
func (s *Store) Record(id txpow.ID) (Record, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// Len returns the number of stored units.
func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.records)
}

// ResolveTxns returns the block's transactions in header order and the IDs
// of those not stored.
func (s *Store) ResolveTxns(block *txpow.TxPoW) ([]*txpow.TxPoW, []txpow.ID) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var missing []txpow.ID
	txns := make([]*txpow.TxPoW, 0, len(block.Header.Txns))
	for _, id := range block.Header.Txns {
		record, ok := s.records[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		txns = append(txns, record.Unit)
	}
	if len(missing) > 0 {
		return nil, missing
	}
	return txns, nil
}

// PutTxBlock remembers the resolved form of a grafted block.
func (s *Store) PutTxBlock(block *txpow.TxBlock) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.blocks[block.ID()] = block
	if _, ok := s.records[block.ID()]; !ok {
		s.records[block.ID()] = &Record{Unit: block.TxPoW, ReceivedAt: time.Now()}
	}
	for _, txn := range block.Txns {
		if _, ok := s.records[txn.ID()]; !ok {
			s.records[txn.ID()] = &Record{Unit: txn, ReceivedAt: time.Now()}
		}
	}
}

// RemoveTxBlock forgets a block that left the tree before reaching the
// main chain. Its transactions stay stored.
func (s *Store) RemoveTxBlock(id txpow.ID) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.blocks, id)
	record, ok := s.records[id]
	if !ok || record.OnChain || record.Finalized || s.pending.contains(id) {
		return
	}
	delete(s.records, id)
}

// TxBlock returns the resolved form of a block.
func (s *Store) TxBlock(id txpow.ID) (*txpow.TxBlock, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	block, ok := s.blocks[id]
	return block, ok
}

// SetOnChain marks a block and its transactions as on or off the main chain.
func (s *Store) SetOnChain(block *txpow.TxBlock, onChain bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if record, ok := s.records[block.ID()]; ok {
		record.OnChain = onChain
	}
	for _, txn := range block.Transactions() {
		record, ok := s.records[txn.ID()]
		if !ok {
			continue
		}
		if onChain {
			record.OnChain = true
			record.InBlock = block.ID()
		} else if record.InBlock == block.ID() {
			record.OnChain = false
			record.InBlock = txpow.ZeroID
		}
	}
}

// MarkFinalized flags a block and its transactions as finalized. The
// resolved block is dropped from memory; it lives in the archive now.
func (s *Store) MarkFinalized(block *txpow.TxBlock) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, unit := range append([]*txpow.TxPoW{block.TxPoW}, block.Txns...) {
		record, ok := s.records[unit.ID()]
		if !ok {
			record = &Record{Unit: unit, ReceivedAt: time.Now()}
			s.records[unit.ID()] = record
		}
		record.Finalized = true
		record.OnChain = true
	}
	delete(s.blocks, block.ID())
}

// IsFinalized returns whether the unit was cascaded.
func (s *Store) IsFinalized(id txpow.ID) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	record, ok := s.records[id]
	return ok && record.Finalized
}

// Prune drops finalized units and stale off-chain units received before
// cutoff. Pending units and units keep reports true for survive. It returns
// how many records were removed.
func (s *Store) Prune(cutoff time.Time, keep func(id txpow.ID) bool) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	removed := 0
	for id, record := range s.records {
		if record.ReceivedAt.After(cutoff) || s.pending.contains(id) {
			continue
		}
		if !record.Finalized && record.OnChain {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		delete(s.records, id)
		delete(s.blocks, id)
		removed++
	}
	return removed
}

// AddPendingChild records that child waits for parentID. It returns the
// units evicted to respect the bound.
func (s *Store) AddPendingChild(parentID txpow.ID, child *txpow.TxPoW) []txpow.ID {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.pending.addChild(parentID, child)
}

// TakePendingChildren removes and returns the units waiting for parentID.
func (s *Store) TakePendingChildren(parentID txpow.ID) []*txpow.TxPoW {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.pending.takeChildren(parentID)
}

// AddAwaitingTxns records that block waits for the missing transactions.
func (s *Store) AddAwaitingTxns(block *txpow.TxPoW, missing []txpow.ID) []txpow.ID {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.pending.addAwaiting(block, missing)
}

// TakeResolvable removes and returns the blocks that were waiting only for
// txnID.
func (s *Store) TakeResolvable(txnID txpow.ID) []*txpow.TxPoW {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.pending.resolve(txnID)
}

// IsPending returns whether the unit waits for a parent or transactions.
func (s *Store) IsPending(id txpow.ID) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.pending.contains(id)
}

// PendingCount returns the number of waiting units.
func (s *Store) PendingCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.pending.len()
}
