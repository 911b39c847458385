package tcpserver

import (
	"bufio"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/server"
	"github.com/selfnet/selfd/util/binaryserializer"
)

type tcpConnection struct {
	conn       net.Conn
	address    string
	isOutbound bool
	router     *router.Router

	// Only receiveLoop reads and only sendLoop writes, so neither side
	// needs a lock.
	reader       *binaryserializer.Reader
	bufferWriter *bufio.Writer
	writer       *binaryserializer.Writer

	stopChan                chan struct{}
	onDisconnectedHandler   server.OnDisconnectedHandler
	onInvalidMessageHandler server.OnInvalidMessageHandler

	isConnected uint32
}

func newConnection(conn net.Conn, isOutbound bool) *tcpConnection {
	bufferWriter := bufio.NewWriter(conn)
	return &tcpConnection{
		conn:         conn,
		address:      conn.RemoteAddr().String(),
		isOutbound:   isOutbound,
		reader:       binaryserializer.NewReader(bufio.NewReader(conn)),
		bufferWriter: bufferWriter,
		writer:       binaryserializer.NewWriter(bufferWriter),
		stopChan:     make(chan struct{}),
		isConnected:  1,
	}
}

func (c *tcpConnection) Start(router *router.Router) {
	if c.onDisconnectedHandler == nil {
		panic(errors.New("onDisconnectedHandler is nil"))
	}
	if c.onInvalidMessageHandler == nil {
		panic(errors.New("onInvalidMessageHandler is nil"))
	}

	c.router = router

	spawn("tcpConnection.Start-connectionLoops", func() {
		err := c.connectionLoops()
		if err != nil {
			log.Errorf("error from connectionLoops for %s: %s", c.address, err)
		}
	})
}

func (c *tcpConnection) String() string {
	return c.address
}

func (c *tcpConnection) IsConnected() bool {
	return atomic.LoadUint32(&c.isConnected) != 0
}

func (c *tcpConnection) SetOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandler = onDisconnectedHandler
}

func (c *tcpConnection) SetOnInvalidMessageHandler(onInvalidMessageHandler server.OnInvalidMessageHandler) {
	c.onInvalidMessageHandler = onInvalidMessageHandler
}

func (c *tcpConnection) IsOutbound() bool {
	return c.isOutbound
}

// Disconnect disconnects the connection
// Calling this function a second time doesn't do anything
//
// This is part of the Connection interface
func (c *tcpConnection) Disconnect() {
	if !atomic.CompareAndSwapUint32(&c.isConnected, 1, 0) {
		return
	}

	close(c.stopChan)
	_ = c.conn.Close()

	log.Infof("Disconnected from %s", c)
	if c.onDisconnectedHandler != nil {
		c.onDisconnectedHandler()
	}
}

func (c *tcpConnection) Address() string {
	return c.address
}

// receive reads one length-prefixed frame.
func (c *tcpConnection) receive() ([]byte, error) {
	payload := c.reader.VarBytes(appmessage.MaxMessagePayload)
	if c.reader.Err() != nil {
		return nil, c.reader.Err()
	}
	return payload, nil
}

// send writes one length-prefixed frame.
func (c *tcpConnection) send(payload []byte) error {
	c.writer.VarBytes(payload)
	if c.writer.Err() != nil {
		return c.writer.Err()
	}
	return c.bufferWriter.Flush()
}
