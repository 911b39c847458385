package tcpserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/server"
)

// DialFunc opens an outbound connection. Both net.DialTimeout and a SOCKS
// proxy's DialTimeout satisfy it.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

type tcpServer struct {
	onConnectedHandler server.OnConnectedHandler
	listeningAddresses []string
	dial               DialFunc
	dialTimeout        time.Duration

	listeners     []net.Listener
	listenersLock sync.Mutex
	stopped       uint32
}

// NewP2PServer creates a new P2PServer that listens on the given
// addresses and dials out through dial.
func NewP2PServer(listeningAddresses []string, dial DialFunc, dialTimeout time.Duration) (server.P2PServer, error) {
	if dial == nil {
		return nil, errors.New("dial function is nil")
	}
	return &tcpServer{
		listeningAddresses: listeningAddresses,
		dial:               dial,
		dialTimeout:        dialTimeout,
	}, nil
}

func (s *tcpServer) Start() error {
	if s.onConnectedHandler == nil {
		return errors.New("onConnectedHandler is nil")
	}

	for _, listenAddress := range s.listeningAddresses {
		err := s.listenOn(listenAddress)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *tcpServer) listenOn(listenAddr string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", listenAddr)
	}

	s.listenersLock.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenersLock.Unlock()

	spawn(fmt.Sprintf("tcpServer.listenOn-%s", listenAddr), func() {
		s.acceptLoop(listener)
	})

	log.Infof("P2P server listening on %s", listener.Addr())
	return nil
}

func (s *tcpServer) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadUint32(&s.stopped) != 0 {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Temporary() {
				log.Warnf("Temporary error accepting on %s: %s", listener.Addr(), err)
				time.Sleep(time.Second)
				continue
			}
			log.Errorf("Stopped accepting on %s: %s", listener.Addr(), err)
			return
		}
		s.handleInboundConnection(conn)
	}
}

func (s *tcpServer) handleInboundConnection(conn net.Conn) {
	connection := newConnection(conn, false)

	err := s.onConnectedHandler(connection)
	if err != nil {
		log.Infof("Rejected incoming connection from %s: %s", connection, err)
		_ = conn.Close()
		return
	}

	log.Infof("Incoming connection from %s", connection)
}

func (s *tcpServer) Stop() error {
	atomic.StoreUint32(&s.stopped, 1)

	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()

	for _, listener := range s.listeners {
		err := listener.Close()
		if err != nil {
			log.Warnf("Error closing listener %s: %s", listener.Addr(), err)
		}
	}
	s.listeners = nil
	return nil
}

// SetOnConnectedHandler sets the peer connected handler
// function for the server
func (s *tcpServer) SetOnConnectedHandler(onConnectedHandler server.OnConnectedHandler) {
	s.onConnectedHandler = onConnectedHandler
}

// Connect connects to the given address
// This is part of the P2PServer interface
func (s *tcpServer) Connect(address string) (server.Connection, error) {
	log.Infof("Dialing to %s", address)

	conn, err := s.dial("tcp", address, s.dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", address)
	}

	connection := newConnection(conn, true)

	err = s.onConnectedHandler(connection)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Infof("Connected to %s", address)

	return connection, nil
}
