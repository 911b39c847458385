package processor

import (
	"github.com/selfnet/selfd/domain/cascade"
	"github.com/selfnet/selfd/domain/txpow"
)

// PeerID identifies the peer an event came from. The empty PeerID is the
// local node.
type PeerID string

// LocalPeer is the origin of locally produced units.
const LocalPeer PeerID = ""

// Event is an input of the engine loop.
type Event interface {
	origin() PeerID
	reply(Result)
}

type replier struct {
	// Result, if set, receives the outcome. It must be buffered.
	Result chan<- Result
}

func (r replier) reply(result Result) {
	if r.Result != nil {
		r.Result <- result
	}
}

// NewUnit is a single unit received from a peer or produced locally.
type NewUnit struct {
	replier
	Unit *txpow.TxPoW
	From PeerID
}

func (e *NewUnit) origin() PeerID { return e.From }

// NewBlockUnit is a block delivered together with its transactions.
type NewBlockUnit struct {
	replier
	Block *txpow.TxBlock
	From  PeerID
}

func (e *NewBlockUnit) origin() PeerID { return e.From }

// Batch is a chain segment with, for a peer with an empty tree, the cascade
// below it.
type Batch struct {
	Cascade *cascade.Snapshot
	Blocks  []*txpow.TxBlock
}

// SyncBatch is the initial batch of a sync session.
type SyncBatch struct {
	replier
	Batch *Batch
	From  PeerID
}

func (e *SyncBatch) origin() PeerID { return e.From }

// TrustedBatch is a catch-up batch following an initial batch.
type TrustedBatch struct {
	replier
	Blocks []*txpow.TxBlock
	From   PeerID
}

func (e *TrustedBatch) origin() PeerID { return e.From }

// SyncContinuation extends the archive downwards. Blocks are ordered by
// descending height.
type SyncContinuation struct {
	replier
	Blocks []*txpow.TxBlock
	From   PeerID
}

func (e *SyncContinuation) origin() PeerID { return e.From }

type barrier struct {
	done chan struct{}
}

func (e *barrier) origin() PeerID { return LocalPeer }

func (e *barrier) reply(Result) {}

// WithResult sets the channel that receives the outcome of event.
func WithResult(event Event, result chan<- Result) Event {
	switch e := event.(type) {
	case *NewUnit:
		e.Result = result
	case *NewBlockUnit:
		e.Result = result
	case *SyncBatch:
		e.Result = result
	case *TrustedBatch:
		e.Result = result
	case *SyncContinuation:
		e.Result = result
	}
	return event
}
