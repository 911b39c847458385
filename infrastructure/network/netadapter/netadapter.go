package netadapter

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/infrastructure/config"
	routerpkg "github.com/selfnet/selfd/infrastructure/network/netadapter/router"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/server"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/server/tcpserver"
	"github.com/selfnet/selfd/util/random"
)

// ErrMaxInboundPeers is returned when an inbound connection arrives while
// the inbound limit is already reached.
var ErrMaxInboundPeers = errors.New("max inbound peers reached")

// RouterInitializer is a function that initializes a new
// router to be used with a new connection
type RouterInitializer func(*routerpkg.Router, *NetConnection)

// NetAdapter is an abstraction layer over networking.
// This type expects a RouteInitializer function. This
// function weaves together the various "routes" (messages
// and message handlers) without exposing anything related
// to networking internals.
type NetAdapter struct {
	cfg                  *config.Config
	nonce                uint64
	p2pServer            server.P2PServer
	p2pRouterInitializer RouterInitializer
	stop                 uint32

	p2pConnections     map[*NetConnection]struct{}
	inboundCount       int
	p2pConnectionsLock sync.RWMutex
}

// NewNetAdapter creates and starts a new NetAdapter on the
// given listeningPort
func NewNetAdapter(cfg *config.Config) (*NetAdapter, error) {
	nonce, err := random.Uint64()
	if err != nil {
		return nil, err
	}
	var listeners []string
	if !cfg.DisableListen {
		listeners = cfg.Listeners
	}
	p2pServer, err := tcpserver.NewP2PServer(listeners, cfg.Dial, config.DefaultConnectTimeout)
	if err != nil {
		return nil, err
	}
	adapter := NetAdapter{
		cfg:       cfg,
		nonce:     nonce,
		p2pServer: p2pServer,

		p2pConnections: make(map[*NetConnection]struct{}),
	}

	adapter.p2pServer.SetOnConnectedHandler(adapter.onP2PConnectedHandler)

	return &adapter, nil
}

// Start begins the operation of the NetAdapter
func (na *NetAdapter) Start() error {
	if na.p2pRouterInitializer == nil {
		return errors.New("p2pRouterInitializer was not set")
	}

	return na.p2pServer.Start()
}

// Stop safely closes the NetAdapter
func (na *NetAdapter) Stop() error {
	if atomic.AddUint32(&na.stop, 1) != 1 {
		return errors.New("net adapter stopped more than once")
	}
	err := na.p2pServer.Stop()
	if err != nil {
		return err
	}
	for _, netConnection := range na.P2PConnections() {
		netConnection.Disconnect()
	}
	return nil
}

// P2PConnect tells the NetAdapter's underlying p2p server to initiate a connection
// to the given address
func (na *NetAdapter) P2PConnect(address string) error {
	_, err := na.p2pServer.Connect(address)
	return err
}

// P2PConnections returns a list of p2p connections currently connected and active
func (na *NetAdapter) P2PConnections() []*NetConnection {
	na.p2pConnectionsLock.RLock()
	defer na.p2pConnectionsLock.RUnlock()

	netConnections := make([]*NetConnection, 0, len(na.p2pConnections))

	for netConnection := range na.p2pConnections {
		netConnections = append(netConnections, netConnection)
	}

	return netConnections
}

// P2PConnectionCount returns the count of the connected p2p connections
func (na *NetAdapter) P2PConnectionCount() int {
	na.p2pConnectionsLock.RLock()
	defer na.p2pConnectionsLock.RUnlock()

	return len(na.p2pConnections)
}

func (na *NetAdapter) onP2PConnectedHandler(connection server.Connection) error {
	na.p2pConnectionsLock.Lock()
	defer na.p2pConnectionsLock.Unlock()

	isInbound := !connection.IsOutbound()
	if isInbound && na.inboundCount >= na.cfg.MaxInboundPeers {
		return errors.Wrapf(ErrMaxInboundPeers, "limit is %d", na.cfg.MaxInboundPeers)
	}

	netConnection := newNetConnection(connection, na.p2pRouterInitializer)

	netConnection.setOnDisconnectedHandler(func() {
		na.p2pConnectionsLock.Lock()
		defer na.p2pConnectionsLock.Unlock()

		if _, ok := na.p2pConnections[netConnection]; !ok {
			return
		}
		delete(na.p2pConnections, netConnection)
		if isInbound {
			na.inboundCount--
		}
	})

	na.p2pConnections[netConnection] = struct{}{}
	if isInbound {
		na.inboundCount++
	}

	netConnection.start()

	return nil
}

// SetP2PRouterInitializer sets the p2pRouterInitializer function
// for the net adapter
func (na *NetAdapter) SetP2PRouterInitializer(routerInitializer RouterInitializer) {
	na.p2pRouterInitializer = routerInitializer
}

// Nonce returns the random nonce this node sends in its greeting. A peer
// greeting with the same nonce is this node itself.
func (na *NetAdapter) Nonce() uint64 {
	return na.nonce
}
