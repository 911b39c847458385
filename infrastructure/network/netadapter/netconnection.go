package netadapter

import (
	"fmt"

	routerpkg "github.com/selfnet/selfd/infrastructure/network/netadapter/router"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/server"
)

// NetConnection is a wrapper to a server connection for use by services external to NetAdapter
type NetConnection struct {
	connection            server.Connection
	router                *routerpkg.Router
	onDisconnectedHandler server.OnDisconnectedHandler
}

func newNetConnection(connection server.Connection, routerInitializer RouterInitializer) *NetConnection {
	router := routerpkg.NewRouter()

	netConnection := &NetConnection{
		connection: connection,
		router:     router,
	}

	netConnection.connection.SetOnInvalidMessageHandler(func(err error) {
		log.Warnf("Invalid message from %s: %s", netConnection, err)
	})

	routerInitializer(router, netConnection)

	return netConnection
}

func (c *NetConnection) start() {
	if c.onDisconnectedHandler == nil {
		panic("onDisconnectedHandler is nil")
	}

	c.connection.Start(c.router)
}

func (c *NetConnection) String() string {
	return fmt.Sprintf("<%s>", c.connection)
}

// Address returns the address associated with this connection
func (c *NetConnection) Address() string {
	return c.connection.Address()
}

// IsOutbound returns whether the connection is outbound
func (c *NetConnection) IsOutbound() bool {
	return c.connection.IsOutbound()
}

// OutgoingRoute returns the route of messages to be sent to the peer
func (c *NetConnection) OutgoingRoute() *routerpkg.Route {
	return c.router.OutgoingRoute()
}

// IsConnected returns whether the connection is still open
func (c *NetConnection) IsConnected() bool {
	return c.connection.IsConnected()
}

func (c *NetConnection) setOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandler = onDisconnectedHandler
	c.connection.SetOnDisconnectedHandler(func() {
		c.router.Close()
		c.onDisconnectedHandler()
	})
}

// Disconnect disconnects the given connection
func (c *NetConnection) Disconnect() {
	c.connection.Disconnect()
}
