// Package connmanager keeps the requested peer connections alive.
package connmanager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/network/netadapter"
)

const connectionsLoopInterval = 30 * time.Second

// connectionRequest represents a request, from the command line or from a
// caller, to connect to a certain node
type connectionRequest struct {
	address       string
	isPermanent   bool
	nextAttempt   time.Time
	retryDuration time.Duration
}

// p2pNetwork is the part of the net adapter the manager drives.
type p2pNetwork interface {
	P2PConnect(address string) error
	P2PConnections() []*netadapter.NetConnection
}

// ConnectionManager monitors that the requested connections stay connected,
// retrying permanent ones with an exponential backoff
type ConnectionManager struct {
	netAdapter p2pNetwork

	activeRequested  map[string]*connectionRequest
	pendingRequested map[string]*connectionRequest

	stop                   uint32
	connectionRequestsLock sync.Mutex

	resetLoopChan chan struct{}
	loopInterval  time.Duration
	now           func() time.Time
}

// New instantiates a new instance of a ConnectionManager holding a permanent
// request for every --connect peer
func New(cfg *config.Config, netAdapter *netadapter.NetAdapter) *ConnectionManager {
	return newConnectionManager(cfg.ConnectPeers, netAdapter)
}

func newConnectionManager(connectPeers []string, netAdapter p2pNetwork) *ConnectionManager {
	c := &ConnectionManager{
		netAdapter:       netAdapter,
		activeRequested:  map[string]*connectionRequest{},
		pendingRequested: map[string]*connectionRequest{},
		resetLoopChan:    make(chan struct{}, 1),
		loopInterval:     connectionsLoopInterval,
		now:              time.Now,
	}
	for _, connectPeer := range connectPeers {
		c.pendingRequested[connectPeer] = &connectionRequest{
			address:     connectPeer,
			isPermanent: true,
		}
	}
	return c
}

// Start begins the operation of the ConnectionManager
func (c *ConnectionManager) Start() {
	spawn("ConnectionManager.connectionsLoop", c.connectionsLoop)
}

// Stop halts the operation of the ConnectionManager
func (c *ConnectionManager) Stop() {
	atomic.StoreUint32(&c.stop, 1)
	c.run()
}

// run wakes the connections loop without waiting for the next tick.
func (c *ConnectionManager) run() {
	select {
	case c.resetLoopChan <- struct{}{}:
	default:
	}
}

func (c *ConnectionManager) initiateConnection(address string) error {
	log.Infof("Connecting to %s", address)
	return c.netAdapter.P2PConnect(address)
}

func (c *ConnectionManager) connectionsLoop() {
	for atomic.LoadUint32(&c.stop) == 0 {
		connSet := convertToSet(c.netAdapter.P2PConnections())
		c.checkRequestedConnections(connSet)
		c.waitTillNextIteration()
	}
}

func (c *ConnectionManager) waitTillNextIteration() {
	timer := time.NewTimer(c.loopInterval)
	defer timer.Stop()
	select {
	case <-c.resetLoopChan:
	case <-timer.C:
	}
}
