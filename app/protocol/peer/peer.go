package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/lru"
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"golang.org/x/time/rate"
)

// announceCacheSize is how many announced unit IDs are remembered per peer.
const announceCacheSize = 4096

// Connection is the part of a network connection a peer needs.
type Connection interface {
	fmt.Stringer
	Address() string
	IsOutbound() bool
	Disconnect()
}

// Config holds the per-peer limits.
type Config struct {
	// SyncDedupWindow is how long a SyncRequest for a height suppresses
	// repeats of it.
	SyncDedupWindow time.Duration
	// BandwidthBytesPerSecond and BandwidthBurstBytes throttle the history
	// served to the peer.
	BandwidthBytesPerSecond int
	BandwidthBurstBytes     int
}

// Peer holds the session state of one connected selfd node.
type Peer struct {
	connection Connection
	id         processor.PeerID
	config     *Config

	greetingMtx     sync.RWMutex
	protocolVersion uint32
	chainID         uint32
	nonce           uint64
	userAgent       string
	tipHeight       uint64
	treeIsEmpty     bool
	chainIDs        []txpow.ID

	state uint32

	syncRequestsMtx sync.Mutex
	syncRequests    map[uint64]time.Time

	announcedMtx sync.Mutex
	announced    lru.Cache

	limiter     *rate.Limiter
	bytesServed uint64

	now func() time.Time
}

// New returns a new Peer
func New(connection Connection, config *Config) *Peer {
	burst := config.BandwidthBurstBytes
	if burst < 1 {
		burst = 1
	}
	return &Peer{
		connection:   connection,
		id:           processor.PeerID(connection.Address()),
		config:       config,
		state:        uint32(StateIdle),
		syncRequests: make(map[uint64]time.Time),
		announced:    lru.NewCache(announceCacheSize),
		limiter:      rate.NewLimiter(rate.Limit(config.BandwidthBytesPerSecond), burst),
		now:          time.Now,
	}
}

// Connection returns the connection to the peer
func (p *Peer) Connection() Connection {
	return p.connection
}

// ID returns the identifier events from this peer carry.
func (p *Peer) ID() processor.PeerID {
	return p.id
}

// Address returns the remote address of the peer
func (p *Peer) Address() string {
	return p.connection.Address()
}

// IsOutbound returns whether this node dialed the peer.
func (p *Peer) IsOutbound() bool {
	return p.connection.IsOutbound()
}

func (p *Peer) String() string {
	return p.connection.String()
}

// UpdateFieldsFromGreeting records what the peer said about itself.
func (p *Peer) UpdateFieldsFromGreeting(msg *appmessage.MsgGreeting) {
	p.greetingMtx.Lock()
	defer p.greetingMtx.Unlock()

	p.protocolVersion = msg.ProtocolVersion
	p.chainID = msg.ChainID
	p.nonce = msg.Nonce
	p.userAgent = msg.UserAgent
	p.tipHeight = msg.TipHeight
	p.treeIsEmpty = msg.TreeIsEmpty
	p.chainIDs = msg.ChainIDs
}

// ProtocolVersion returns the protocol version the peer greeted with.
func (p *Peer) ProtocolVersion() uint32 {
	p.greetingMtx.RLock()
	defer p.greetingMtx.RUnlock()
	return p.protocolVersion
}

// UserAgent returns the user agent of the peer.
func (p *Peer) UserAgent() string {
	p.greetingMtx.RLock()
	defer p.greetingMtx.RUnlock()
	return p.userAgent
}

// TipHeight returns the highest tip height the peer is known to have.
func (p *Peer) TipHeight() uint64 {
	p.greetingMtx.RLock()
	defer p.greetingMtx.RUnlock()
	return p.tipHeight
}

// UpdateTipHeight raises the known tip height of the peer.
func (p *Peer) UpdateTipHeight(height uint64) {
	p.greetingMtx.Lock()
	defer p.greetingMtx.Unlock()
	if height > p.tipHeight {
		p.tipHeight = height
	}
}

// TreeIsEmpty returns whether the peer greeted without a chain tree.
func (p *Peer) TreeIsEmpty() bool {
	p.greetingMtx.RLock()
	defer p.greetingMtx.RUnlock()
	return p.treeIsEmpty
}

// ChainIDs returns the main-chain IDs the peer greeted with, tip first.
func (p *Peer) ChainIDs() []txpow.ID {
	p.greetingMtx.RLock()
	defer p.greetingMtx.RUnlock()
	return p.chainIDs
}

// ShouldServeSyncRequest returns false for a SyncRequest repeating one for
// the same height inside the dedup window.
func (p *Peer) ShouldServeSyncRequest(afterHeight uint64) bool {
	p.syncRequestsMtx.Lock()
	defer p.syncRequestsMtx.Unlock()

	now := p.now()
	for height, at := range p.syncRequests {
		if now.Sub(at) >= p.config.SyncDedupWindow {
			delete(p.syncRequests, height)
		}
	}
	if _, ok := p.syncRequests[afterHeight]; ok {
		return false
	}
	p.syncRequests[afterHeight] = now
	return true
}

// MarkAnnounced records an announcement from the peer. It returns false if
// the peer already announced id recently.
func (p *Peer) MarkAnnounced(id txpow.ID) bool {
	p.announcedMtx.Lock()
	defer p.announcedMtx.Unlock()

	if p.announced.Contains(id) {
		return false
	}
	p.announced.Add(id)
	return true
}

// ThrottleHistory blocks until size more bytes of history may be sent to
// the peer, and counts them as served. It returns how long it waited.
func (p *Peer) ThrottleHistory(ctx context.Context, size int) (time.Duration, error) {
	start := time.Now()
	burst := p.limiter.Burst()
	for remaining := size; remaining > 0; remaining -= burst {
		n := remaining
		if n > burst {
			n = burst
		}
		err := p.limiter.WaitN(ctx, n)
		if err != nil {
			return time.Since(start), errors.WithStack(err)
		}
	}
	atomic.AddUint64(&p.bytesServed, uint64(size))
	return time.Since(start), nil
}

// BytesServed returns the history bytes sent to the peer so far.
func (p *Peer) BytesServed() uint64 {
	return atomic.LoadUint64(&p.bytesServed)
}
