package mempool

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/txpow"
)

// entry is a pooled transaction unit.
type entry struct {
	unit       *txpow.TxPoW
	burn       uint64
	rejections int
}

// orderedByBurn keeps entries sorted by ascending burn, ties by ID.
type orderedByBurn struct {
	slice []*entry
}

func (o *orderedByBurn) search(e *entry) int {
	id := e.unit.ID()
	return sort.Search(len(o.slice), func(i int) bool {
		other := o.slice[i]
		if other.burn != e.burn {
			return other.burn > e.burn
		}
		otherID := other.unit.ID()
		return !otherID.Less(id)
	})
}

func (o *orderedByBurn) push(e *entry) {
	index := o.search(e)
	o.slice = append(o.slice, nil)
	copy(o.slice[index+1:], o.slice[index:])
	o.slice[index] = e
}

func (o *orderedByBurn) remove(e *entry) error {
	index := o.search(e)
	if index >= len(o.slice) || o.slice[index] != e {
		return errors.Errorf("unit %s is not in the burn ordering", e.unit.ID().Short())
	}
	o.slice = append(o.slice[:index], o.slice[index+1:]...)
	return nil
}

func (o *orderedByBurn) lowest() *entry {
	if len(o.slice) == 0 {
		return nil
	}
	return o.slice[0]
}

// descending returns the entries from highest to lowest burn.
func (o *orderedByBurn) descending() []*entry {
	entries := make([]*entry, len(o.slice))
	for i := range o.slice {
		entries[i] = o.slice[len(o.slice)-1-i]
	}
	return entries
}
