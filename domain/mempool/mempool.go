// Package mempool holds candidate transaction units ordered by burn and
// selects them for new blocks.
package mempool

import (
	"sync"

	"github.com/selfnet/selfd/domain/ruleerrors"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/validator"
)

// Mempool is safe for concurrent use.
type Mempool struct {
	config *Config

	lock    sync.RWMutex
	entries map[txpow.ID]*entry
	ordered orderedByBurn
	minBurn uint64
}

// New returns an empty mempool.
func New(config *Config) *Mempool {
	return &Mempool{
		config:  config,
		entries: make(map[txpow.ID]*entry),
		minBurn: config.MinimumBurn,
	}
}

// Add admits a transaction unit. Units burning less than the current floor
// are refused without further checks.
func (mp *Mempool) Add(unit *txpow.TxPoW) error {
	mp.lock.Lock()
	defer mp.lock.Unlock()

	if !unit.IsTransaction() {
		return ruleerrors.Errorf(ruleerrors.RejectMalformed, "unit %s carries no transaction", unit.ID().Short())
	}
	if unit.Body.Burn < mp.minBurn {
		return ruleerrors.Errorf(ruleerrors.RejectInsufficientBurn, "burn %d is below the floor %d",
			unit.Body.Burn, mp.minBurn)
	}
	if _, ok := mp.entries[unit.ID()]; ok {
		return ruleerrors.Errorf(ruleerrors.RejectDuplicate, "unit %s is already pooled", unit.ID().Short())
	}
	e := &entry{unit: unit, burn: unit.Body.Burn}
	mp.entries[unit.ID()] = e
	mp.ordered.push(e)
	mp.limitSize()
	if _, ok := mp.entries[unit.ID()]; !ok {
		return ruleerrors.Errorf(ruleerrors.RejectInsufficientBurn, "unit %s was evicted on entry", unit.ID().Short())
	}
	return nil
}

// limitSize evicts the lowest burn entries beyond the maximum size and raises
// the floor to the highest burn evicted. MUST be called with the lock held.
func (mp *Mempool) limitSize() {
	for len(mp.entries) > mp.config.MaximumSize {
		lowest := mp.ordered.lowest()
		mp.removeEntry(lowest)
		if lowest.burn+1 > mp.minBurn {
			mp.minBurn = lowest.burn + 1
			log.Debugf("Mempool full, minimum burn raised to %d", mp.minBurn)
		}
	}
}

// relaxFloor returns the floor to its base once the pool drained below half
// its size. MUST be called with the lock held.
func (mp *Mempool) relaxFloor() {
	if mp.minBurn > mp.config.MinimumBurn && len(mp.entries) < mp.config.MaximumSize/2 {
		mp.minBurn = mp.config.MinimumBurn
		log.Debugf("Mempool drained, minimum burn back to %d", mp.minBurn)
	}
}

func (mp *Mempool) removeEntry(e *entry) {
	delete(mp.entries, e.unit.ID())
	err := mp.ordered.remove(e)
	if err != nil {
		log.Errorf("Mempool ordering out of sync: %s", err)
	}
}

// Remove drops a unit and returns whether it was pooled.
func (mp *Mempool) Remove(id txpow.ID) bool {
	mp.lock.Lock()
	defer mp.lock.Unlock()

	e, ok := mp.entries[id]
	if !ok {
		return false
	}
	mp.removeEntry(e)
	mp.relaxFloor()
	return true
}

// RemoveIncluded drops the units a new block included, and every pooled unit
// spending a coin those units spent.
func (mp *Mempool) RemoveIncluded(included []*txpow.TxPoW) {
	mp.lock.Lock()
	defer mp.lock.Unlock()

	spent := make(map[txpow.ID]struct{})
	for _, unit := range included {
		if e, ok := mp.entries[unit.ID()]; ok {
			mp.removeEntry(e)
		}
		for _, input := range unit.Body.Inputs {
			spent[input] = struct{}{}
		}
	}
	for _, e := range mp.ordered.descending() {
		for _, input := range e.unit.Body.Inputs {
			if _, ok := spent[input]; ok {
				mp.removeEntry(e)
				break
			}
		}
	}
	mp.relaxFloor()
}

// Get returns a pooled unit.
func (mp *Mempool) Get(id txpow.ID) (*txpow.TxPoW, bool) {
	mp.lock.RLock()
	defer mp.lock.RUnlock()

	e, ok := mp.entries[id]
	if !ok {
		return nil, false
	}
	return e.unit, true
}

// Has returns whether a unit is pooled.
func (mp *Mempool) Has(id txpow.ID) bool {
	mp.lock.RLock()
	defer mp.lock.RUnlock()

	_, ok := mp.entries[id]
	return ok
}

// Len returns the number of pooled units.
func (mp *Mempool) Len() int {
	mp.lock.RLock()
	defer mp.lock.RUnlock()

	return len(mp.entries)
}

// MinBurn returns the current admission floor.
func (mp *Mempool) MinBurn() uint64 {
	mp.lock.RLock()
	defer mp.lock.RUnlock()

	return mp.minBurn
}

// SelectForBlock picks transactions for a block built on state, highest burn
// first, up to MaximumSelect. A candidate is skipped if it claims an input
// already claimed in this pass, is too large or adds too much coin state,
// has too little proof-of-work or fails v. Candidates skipped more than MaximumRetries times are evicted.
func (mp *Mempool) SelectForBlock(state validator.ParentState, v validator.Validator) []*txpow.TxPoW {
	mp.lock.Lock()
	defer mp.lock.Unlock()

	claimed := make(map[txpow.ID]struct{})
	var selected []*txpow.TxPoW
	for _, e := range mp.ordered.descending() {
		if len(selected) >= mp.config.MaximumSelect {
			break
		}
		reason := mp.checkCandidate(e.unit, claimed, state, v)
		if reason != "" {
			e.rejections++
			log.Tracef("Skipped %s for block assembly: %s (%d rejections)", e.unit.ID().Short(), reason, e.rejections)
			if e.rejections > mp.config.MaximumRetries {
				log.Debugf("Evicting %s after %d rejections", e.unit.ID().Short(), e.rejections)
				mp.removeEntry(e)
			}
			continue
		}
		for _, input := range e.unit.Body.Inputs {
			claimed[input] = struct{}{}
		}
		selected = append(selected, e.unit)
	}
	mp.relaxFloor()
	return selected
}

func (mp *Mempool) checkCandidate(unit *txpow.TxPoW, claimed map[txpow.ID]struct{},
	state validator.ParentState, v validator.Validator) string {

	for _, input := range unit.Body.Inputs {
		if _, ok := claimed[input]; ok {
			return "input already claimed"
		}
	}
	if unit.Size() > mp.config.MaximumTxnSize {
		return "too large"
	}
	if unit.StateSize() > mp.config.MaximumStateSize {
		return "stores too much state"
	}
	if mp.config.MinTxnDifficulty.Harder(unit.Header.TxnDifficulty) || !unit.MeetsTxnDifficulty() {
		return "insufficient proof-of-work"
	}
	err := v.ValidateAgainstParent(state, unit, nil)
	if err != nil {
		return err.Error()
	}
	return ""
}
