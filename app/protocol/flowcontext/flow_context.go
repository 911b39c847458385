package flowcontext

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/selfnet/selfd/app/appmessage"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/network/netadapter"
	"github.com/selfnet/selfd/version"
)

const (
	// maxRequested is how many outstanding unit requests are remembered
	// across all peers.
	maxRequested = 8192

	// requestTimeout is how long a requested unit is waited for before it
	// may be requested again.
	requestTimeout = 30 * time.Second
)

type requestedUnit struct {
	peer processor.PeerID
	at   time.Time
}

// FlowContext holds state that is relevant to more than one flow or one peer, and allows communication between
// different flows that can be associated to different peers.
type FlowContext struct {
	cfg        *config.Config
	netAdapter *netadapter.NetAdapter
	engine     *processor.Engine
	peerConfig *peerpkg.Config

	lifetime context.Context
	cancel   context.CancelFunc

	requestedMutex sync.Mutex
	requested      map[txpow.ID]requestedUnit
	now            func() time.Time

	catchUpCount int32

	peers      map[processor.PeerID]*readyPeer
	peersMutex sync.RWMutex
}

// New returns a new instance of FlowContext.
func New(cfg *config.Config, engine *processor.Engine, netAdapter *netadapter.NetAdapter) *FlowContext {
	lifetime, cancel := context.WithCancel(context.Background())
	return &FlowContext{
		cfg:        cfg,
		netAdapter: netAdapter,
		engine:     engine,
		peerConfig: &peerpkg.Config{
			SyncDedupWindow:         cfg.SyncDedupWindow,
			BandwidthBytesPerSecond: cfg.BandwidthBytesPerSecond(),
			BandwidthBurstBytes:     cfg.BandwidthBurstBytes(),
		},
		lifetime:  lifetime,
		cancel:    cancel,
		requested: make(map[txpow.ID]requestedUnit),
		now:       time.Now,
		peers:     make(map[processor.PeerID]*readyPeer),
	}
}

// Close cancels every engine call and throttle wait made on behalf of a flow.
func (f *FlowContext) Close() {
	f.cancel()
}

// Config returns an instance of *config.Config associated to the flow context.
func (f *FlowContext) Config() *config.Config {
	return f.cfg
}

// Engine returns the ingestion engine associated to the flow context.
func (f *FlowContext) Engine() *processor.Engine {
	return f.engine
}

// PeerConfig returns the limits every new peer session gets.
func (f *FlowContext) PeerConfig() *peerpkg.Config {
	return f.peerConfig
}

// Nonce returns the nonce identifying this node in greetings.
func (f *FlowContext) Nonce() uint64 {
	return f.netAdapter.Nonce()
}

// Greeting builds the greeting describing the local chain.
func (f *FlowContext) Greeting() *appmessage.MsgGreeting {
	var tipHeight uint64
	if tip := f.engine.Tip(); tip != nil {
		tipHeight = tip.Height
	}
	return appmessage.NewMsgGreeting(f.cfg.Params.ChainID, f.Nonce(), version.UserAgent(), tipHeight,
		f.engine.TreeIsEmpty(), f.engine.ChainIDs(appmessage.MaxChainIDs))
}

// IsSyncing returns whether a batch is being applied or a peer session is
// catching up.
func (f *FlowContext) IsSyncing() bool {
	return f.engine.IsSyncing() || atomic.LoadInt32(&f.catchUpCount) > 0
}

// StartCatchingUp marks a catch-up session as running. The returned
// function ends it.
func (f *FlowContext) StartCatchingUp() (onEnd func()) {
	atomic.AddInt32(&f.catchUpCount, 1)
	var once sync.Once
	return func() {
		once.Do(func() { atomic.AddInt32(&f.catchUpCount, -1) })
	}
}
