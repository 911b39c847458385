package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/app/protocol/common"
	"github.com/selfnet/selfd/app/protocol/flows/handshake"
	"github.com/selfnet/selfd/app/protocol/flows/ibd"
	"github.com/selfnet/selfd/app/protocol/flows/relay"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/infrastructure/network/netadapter"
	routerpkg "github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

type flowInitializeFunc func(route *routerpkg.Route, peer *peerpkg.Peer) error

func (m *Manager) routerInitializer(router *routerpkg.Router, netConnection *netadapter.NetConnection) {
	// isStopping flag is raised the moment that the connection associated with this router is disconnected
	// errChan is used by the flow goroutines to return to runFlows when an error occurs.
	// They are both initialized here and passed to register flows.
	isStopping := uint32(0)
	errChan := make(chan error)

	flows := m.registerFlows(router, errChan, &isStopping)
	receiveGreetingRoute := registerHandshakeRoutes(router)

	// After flows were registered - spawn a new thread that will wait for connection to finish initializing
	// and start receiving messages
	spawn("routerInitializer-runFlows", func() {
		m.routersWaitGroup.Add(1)
		defer m.routersWaitGroup.Done()

		if atomic.LoadUint32(&m.isClosed) == 1 {
			panic(errors.Errorf("tried to initialize router when the protocol manager is closed"))
		}

		peer, err := handshake.HandleHandshake(m.context, netConnection, receiveGreetingRoute, router.OutgoingRoute())
		if err != nil {
			// non-blocking read from channel
			select {
			case innerError := <-errChan:
				if errors.Is(err, routerpkg.ErrRouteClosed) {
					m.handleError(innerError, netConnection)
				} else {
					log.Errorf("Peer %s sent invalid message: %s", netConnection, innerError)
					m.handleError(err, netConnection)
				}
			default:
				m.handleError(err, netConnection)
			}
			return
		}
		defer m.context.RemoveFromPeers(peer)

		removeHandshakeRoutes(router)

		flowsWaitGroup := &sync.WaitGroup{}
		err = m.runFlows(flows, peer, errChan, flowsWaitGroup)
		if err != nil {
			m.handleError(err, netConnection)
			// We call `flowsWaitGroup.Wait()` in two places instead of deferring, because
			// we already defer `m.routersWaitGroup.Done()`, so we try to avoid error prone
			// and confusing use of multiple dependent defers.
			flowsWaitGroup.Wait()
			return
		}
		flowsWaitGroup.Wait()
	})
}

func (m *Manager) handleError(err error, netConnection *netadapter.NetConnection) {
	var protocolErr *protocolerrors.ProtocolError
	if errors.As(err, &protocolErr) {
		if protocolErr.ShouldBan {
			log.Warnf("Banning %s (reason: %s)", netConnection, protocolErr.Cause)
		}
		log.Infof("Disconnecting from %s (reason: %s)", netConnection, protocolErr.Cause)
		netConnection.Disconnect()
		return
	}
	if errors.Is(err, routerpkg.ErrRouteClosed) {
		return
	}
	if errors.Is(err, processor.ErrStopped) {
		netConnection.Disconnect()
		return
	}
	panic(err)
}

func (m *Manager) registerFlows(router *routerpkg.Router, errChan chan error, isStopping *uint32) (flows []*common.Flow) {
	flows = m.registerSyncFlows(router, isStopping, errChan)
	flows = append(flows, m.registerRelayFlows(router, isStopping, errChan)...)
	return flows
}

func (m *Manager) registerSyncFlows(router *routerpkg.Router, isStopping *uint32, errChan chan error) []*common.Flow {
	outgoingRoute := router.OutgoingRoute()

	return []*common.Flow{
		m.registerOneTimeFlow("SendInitialBatch", isStopping, errChan,
			func(_ *routerpkg.Route, peer *peerpkg.Peer) error {
				return ibd.SendInitialBatch(m.context, outgoingRoute, peer)
			},
		),

		m.registerFlow("ReceiveInitialBatch", router,
			[]appmessage.MessageCommand{appmessage.CmdInitialBatch, appmessage.CmdSyncResponse, appmessage.CmdArchiveResponse},
			isStopping, errChan,
			func(incomingRoute *routerpkg.Route, peer *peerpkg.Peer) error {
				return ibd.ReceiveInitialBatch(m.context, incomingRoute, outgoingRoute, peer)
			},
		),

		m.registerFlow("HandleSyncRequests", router,
			[]appmessage.MessageCommand{appmessage.CmdSyncRequest, appmessage.CmdArchiveRequest},
			isStopping, errChan,
			func(incomingRoute *routerpkg.Route, peer *peerpkg.Peer) error {
				return ibd.HandleSyncRequests(m.context, incomingRoute, outgoingRoute, peer)
			},
		),
	}
}

func (m *Manager) registerRelayFlows(router *routerpkg.Router, isStopping *uint32, errChan chan error) []*common.Flow {
	outgoingRoute := router.OutgoingRoute()

	return []*common.Flow{
		m.registerFlow("HandleRelayAnnouncements", router,
			[]appmessage.MessageCommand{appmessage.CmdUnitAnnounce, appmessage.CmdBlockAnnounce},
			isStopping, errChan,
			func(incomingRoute *routerpkg.Route, peer *peerpkg.Peer) error {
				return relay.HandleRelayAnnouncements(m.context, incomingRoute, outgoingRoute, peer)
			},
		),

		m.registerFlow("HandleUnitRequests", router,
			[]appmessage.MessageCommand{appmessage.CmdUnitRequest, appmessage.CmdBlockRequest},
			isStopping, errChan,
			func(incomingRoute *routerpkg.Route, peer *peerpkg.Peer) error {
				return relay.HandleUnitRequests(m.context, incomingRoute, outgoingRoute, peer)
			},
		),

		m.registerFlow("HandleUnits", router,
			[]appmessage.MessageCommand{appmessage.CmdUnit, appmessage.CmdBlock},
			isStopping, errChan,
			func(incomingRoute *routerpkg.Route, peer *peerpkg.Peer) error {
				return relay.HandleUnits(m.context, incomingRoute, peer)
			},
		),
	}
}

func (m *Manager) registerFlow(name string, router *routerpkg.Router, messageTypes []appmessage.MessageCommand, isStopping *uint32,
	errChan chan error, initializeFunc flowInitializeFunc) *common.Flow {

	route, err := router.AddIncomingRoute(name, messageTypes)
	if err != nil {
		panic(err)
	}

	return m.registerFlowForRoute(route, name, isStopping, errChan, initializeFunc)
}

func (m *Manager) registerFlowForRoute(route *routerpkg.Route, name string, isStopping *uint32,
	errChan chan error, initializeFunc flowInitializeFunc) *common.Flow {

	return &common.Flow{
		Name: name,
		ExecuteFunc: func(peer *peerpkg.Peer) {
			err := initializeFunc(route, peer)
			if err != nil {
				m.context.HandleError(err, name, isStopping, errChan)
				return
			}
		},
	}
}

func (m *Manager) registerOneTimeFlow(name string, isStopping *uint32, errChan chan error,
	initializeFunc flowInitializeFunc) *common.Flow {

	return &common.Flow{
		Name: name,
		ExecuteFunc: func(peer *peerpkg.Peer) {
			err := initializeFunc(nil, peer)
			if err != nil {
				m.context.HandleError(err, name, isStopping, errChan)
				return
			}
		},
	}
}

func registerHandshakeRoutes(router *routerpkg.Router) (receiveGreetingRoute *routerpkg.Route) {
	receiveGreetingRoute, err := router.AddIncomingRoute("receiveGreeting - incoming",
		[]appmessage.MessageCommand{appmessage.CmdGreeting})
	if err != nil {
		panic(err)
	}
	return receiveGreetingRoute
}

func removeHandshakeRoutes(router *routerpkg.Router) {
	err := router.RemoveRoute([]appmessage.MessageCommand{appmessage.CmdGreeting})
	if err != nil {
		panic(err)
	}
}
