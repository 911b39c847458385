// Package processor is the ingestion engine. One loop owns the chain tree
// and the cascade; every unit, block and batch enters through its mailbox
// and is applied in arrival order.
package processor

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/cascade"
	"github.com/selfnet/selfd/domain/chaintree"
	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/unitstore"
	"github.com/selfnet/selfd/domain/validator"
	"github.com/selfnet/selfd/infrastructure/metrics"
)

// DefaultMailboxSize is the mailbox capacity used when none is configured.
const DefaultMailboxSize = 1024

// ErrStopped is returned when submitting to an engine that stopped.
var ErrStopped = errors.New("engine stopped")

// Relay carries the engine's requests to the network.
type Relay interface {
	// AnnounceUnit tells peers, other than except, about a new unit.
	AnnounceUnit(id txpow.ID, isBlock bool, except PeerID)
	// RequestUnit asks peer for a missing unit.
	RequestUnit(peer PeerID, id txpow.ID, isBlock bool)
}

type noRelay struct{}

func (noRelay) AnnounceUnit(txpow.ID, bool, PeerID) {}
func (noRelay) RequestUnit(PeerID, txpow.ID, bool) {}

// Tip is an immutable picture of the selected tip, published after every
// change.
type Tip struct {
	ID             txpow.ID
	Height         uint64
	TimeMilli      int64
	CumulativeWork *big.Int
	RootHeight     uint64
	MMRRoot        txpow.ID
}

// Engine is the ingestion engine.
type Engine struct {
	params    *params.Params
	validator validator.Validator
	store     *unitstore.Store
	mempool   *mempool.Mempool
	cascade   *cascade.Cascade
	archive   cascade.Archive
	relay     Relay

	// treeLock guards tree and cascade. Only the engine loop writes.
	treeLock sync.RWMutex
	tree     *chaintree.Tree

	mailbox   chan Event
	tip       atomic.Pointer[Tip]
	isSyncing atomic.Bool

	listenersLock   sync.RWMutex
	newTipListeners []func(*Tip)
	failureHandlers []func(PeerID, error)

	now func() time.Time
}

// Config holds the collaborators of an engine.
type Config struct {
	Params      *params.Params
	Validator   validator.Validator
	Store       *unitstore.Store
	Mempool     *mempool.Mempool
	Archive     cascade.Archive
	MailboxSize int
}

// New returns an engine with an empty tree. Call InitGenesis or
// LoadFromArchive before Start.
func New(config *Config) *Engine {
	mailboxSize := config.MailboxSize
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	cascadeParams := cascade.Params{
		Start:      config.Params.CascadeStart,
		Frequency:  config.Params.CascadeFrequency,
		TailLength: config.Params.CascadeTail,
	}
	return &Engine{
		params:    config.Params,
		validator: config.Validator,
		store:     config.Store,
		mempool:   config.Mempool,
		cascade:   cascade.New(cascadeParams, config.Archive),
		archive:   config.Archive,
		relay:     noRelay{},
		tree:      chaintree.New(),
		mailbox:   make(chan Event, mailboxSize),
		now:       time.Now,
	}
}

// SetRelay sets the network relay. It must be called before Start.
func (e *Engine) SetRelay(relay Relay) {
	e.relay = relay
}

// OnNewTip registers a listener called from the engine loop after the tip
// changes.
func (e *Engine) OnNewTip(listener func(*Tip)) {
	e.listenersLock.Lock()
	defer e.listenersLock.Unlock()
	e.newTipListeners = append(e.newTipListeners, listener)
}

// OnPeerFailure registers a handler called when a peer sent a batch that
// failed, or a unit that failed a cryptographic check.
func (e *Engine) OnPeerFailure(handler func(PeerID, error)) {
	e.listenersLock.Lock()
	defer e.listenersLock.Unlock()
	e.failureHandlers = append(e.failureHandlers, handler)
}

func (e *Engine) peerFailed(peer PeerID, err error) {
	if peer == LocalPeer {
		return
	}
	e.listenersLock.RLock()
	defer e.listenersLock.RUnlock()
	for _, handler := range e.failureHandlers {
		handler(peer, err)
	}
}

// Start runs the engine loop until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	spawn("processor.Engine.run", func() {
		e.run(ctx)
	})
	spawn("processor.Engine.pruneLoop", func() {
		e.pruneLoop(ctx)
	})
}

func (e *Engine) run(ctx context.Context) {
	log.Infof("Engine started")
	for {
		select {
		case <-ctx.Done():
			log.Infof("Engine stopped")
			return
		case event := <-e.mailbox:
			e.handle(event)
		}
	}
}

// Submit enqueues event, blocking while the mailbox is full.
func (e *Engine) Submit(ctx context.Context, event Event) error {
	select {
	case e.mailbox <- event:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ErrStopped, ctx.Err().Error())
	}
}

// Process submits event and waits for its result.
func (e *Engine) Process(ctx context.Context, event Event) (Result, error) {
	result := make(chan Result, 1)
	err := e.Submit(ctx, WithResult(event, result))
	if err != nil {
		return Result{}, err
	}
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return Result{}, errors.Wrap(ErrStopped, ctx.Err().Error())
	}
}

// Flush waits until every event submitted before it was handled.
func (e *Engine) Flush(ctx context.Context) error {
	b := &barrier{done: make(chan struct{})}
	err := e.Submit(ctx, b)
	if err != nil {
		return err
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ErrStopped, ctx.Err().Error())
	}
}

func (e *Engine) handle(event Event) {
	var result Result
	switch ev := event.(type) {
	case *NewUnit:
		result = e.AcceptUnit(ev.Unit, ev.From)
	case *NewBlockUnit:
		result = e.AcceptTxBlock(ev.Block, ev.From)
	case *SyncBatch:
		result = e.AcceptSyncBatch(ev.Batch, ev.From)
	case *TrustedBatch:
		result = e.AcceptTrustedBatch(ev.Blocks, ev.From)
	case *SyncContinuation:
		result = e.AcceptContinuation(ev.Blocks, ev.From)
	case *barrier:
		close(ev.done)
		return
	default:
		log.Errorf("Engine received unknown event %T", event)
		return
	}
	if result.Outcome == Fatal {
		e.peerFailed(event.origin(), result.Err)
	}
	event.reply(result)
}

// SubmitLocalBlock hands a locally produced block to the engine.
func (e *Engine) SubmitLocalBlock(ctx context.Context, block *txpow.TxBlock) (Result, error) {
	return e.Process(ctx, &NewBlockUnit{Block: block, From: LocalPeer})
}

// Tip returns the last published tip, or nil before the tree has a root.
func (e *Engine) Tip() *Tip {
	return e.tip.Load()
}

// IsSyncing returns whether a batch is being applied.
func (e *Engine) IsSyncing() bool {
	return e.isSyncing.Load()
}

func (e *Engine) setSyncing(syncing bool) {
	e.isSyncing.Store(syncing)
}

// publishLocked updates the tip snapshot from the tree and notifies the
// listeners if the tip moved. The caller must hold treeLock.
func (e *Engine) publishLocked() (*Tip, bool) {
	node := e.tree.Tip()
	if node == nil {
		return nil, false
	}
	tip := e.tipFromLocked(node)
	previous := e.tip.Swap(tip)
	metrics.SetChainState(tip.Height, e.tree.Len(), e.cascade.Total())
	metrics.SetMempoolSize(e.mempool.Len())
	metrics.SetPendingUnits(e.store.PendingCount())
	return tip, previous == nil || previous.ID != tip.ID
}

func (e *Engine) tipFromLocked(node *chaintree.Node) *Tip {
	return &Tip{
		ID:             node.ID(),
		Height:         node.Height(),
		TimeMilli:      node.Unit().Header.TimeMilli,
		CumulativeWork: node.CumulativeWork(),
		RootHeight:     e.tree.Root().Height(),
		MMRRoot:        node.Snapshot().Root(),
	}
}

func (e *Engine) notifyNewTip(tip *Tip) {
	log.Debugf("New tip %s at height %d", tip.ID.Short(), tip.Height)
	e.listenersLock.RLock()
	defer e.listenersLock.RUnlock()
	for _, listener := range e.newTipListeners {
		listener(tip)
	}
}

// recalculateLocked selects the tip, applies the chain switch to the store
// and the mempool, and cascades if the tree grew long enough. The caller
// must hold treeLock for writing.
func (e *Engine) recalculateLocked() *chaintree.Reorganization {
	reorganization := e.tree.Recalculate()
	for _, node := range reorganization.Disconnected {
		e.store.SetOnChain(node.Block(), false)
		for _, txn := range node.Block().Transactions() {
			if txn.ID() == node.ID() {
				continue
			}
			err := e.mempool.Add(txn)
			if err != nil {
				log.Debugf("Txn %s from disconnected block %s not returned to the mempool: %s",
					txn.ID().Short(), node.ID().Short(), err)
			}
		}
	}
	for _, node := range reorganization.Connected {
		e.store.SetOnChain(node.Block(), true)
		e.mempool.RemoveIncluded(node.Block().Transactions())
	}
	if len(reorganization.Disconnected) > 0 {
		log.Infof("Chain switched from %s to %s, %d blocks disconnected",
			reorganization.OldTip.ID().Short(), reorganization.NewTip.ID().Short(), len(reorganization.Disconnected))
	}

	_, err := e.cascade.Run(e.tree, e.store)
	if err != nil {
		log.Errorf("Cascade failed, keeping the tree as it is: %+v", err)
	}
	return reorganization
}

// finishLocked recalculates, publishes and unlocks, then notifies.
func (e *Engine) finishLocked() {
	e.recalculateLocked()
	tip, changed := e.publishLocked()
	e.treeLock.Unlock()
	if changed {
		e.notifyNewTip(tip)
	}
}
