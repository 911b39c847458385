package netadapter

import (
	"net"
	"testing"
	"time"

	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

const testTimeout = 5 * time.Second

func startAdapter(t *testing.T, address string, maxInbound int, initializer RouterInitializer) *NetAdapter {
	cfg := config.DefaultConfig()
	cfg.Listeners = []string{address}
	cfg.MaxInboundPeers = maxInbound

	adapter, err := NewNetAdapter(cfg)
	if err != nil {
		t.Fatalf("NewNetAdapter: %+v", err)
	}
	adapter.SetP2PRouterInitializer(initializer)
	err = adapter.Start()
	if err != nil {
		t.Fatalf("Start: %+v", err)
	}
	t.Cleanup(func() { _ = adapter.Stop() })
	return adapter
}

func waitForConnectionCount(t *testing.T, adapter *NetAdapter, expected int) {
	deadline := time.Now().Add(testTimeout)
	for adapter.P2PConnectionCount() != expected {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", expected, adapter.P2PConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNetAdapterDeliversMessages(t *testing.T) {
	const addressB = "127.0.0.1:19311"

	routes := make(chan *router.Route, 1)
	startAdapter(t, addressB, 8, func(r *router.Router, connection *NetConnection) {
		route, err := r.AddIncomingRoute("sync", []appmessage.MessageCommand{appmessage.CmdSyncRequest})
		if err != nil {
			t.Errorf("AddIncomingRoute: %+v", err)
			return
		}
		routes <- route
	})
	adapterA := startAdapter(t, "127.0.0.1:19310", 8, func(*router.Router, *NetConnection) {})

	err := adapterA.P2PConnect(addressB)
	if err != nil {
		t.Fatalf("P2PConnect: %+v", err)
	}
	if count := adapterA.P2PConnectionCount(); count != 1 {
		t.Fatalf("expected 1 connection, got %d", count)
	}
	connections := adapterA.P2PConnections()
	if !connections[0].IsOutbound() {
		t.Fatalf("a dialed connection should be outbound")
	}

	err = connections[0].OutgoingRoute().Enqueue(appmessage.NewMsgSyncRequest(42))
	if err != nil {
		t.Fatalf("Enqueue: %+v", err)
	}

	var route *router.Route
	select {
	case route = <-routes:
	case <-time.After(testTimeout):
		t.Fatalf("router initializer was not called")
	}
	message, err := route.DequeueWithTimeout(testTimeout)
	if err != nil {
		t.Fatalf("DequeueWithTimeout: %+v", err)
	}
	request, ok := message.(*appmessage.MsgSyncRequest)
	if !ok || request.AfterHeight != 42 {
		t.Fatalf("unexpected message %v", message)
	}
	if message.ReceivedAt().IsZero() {
		t.Fatalf("received time was not set")
	}

	err = adapterA.Stop()
	if err != nil {
		t.Fatalf("Stop: %+v", err)
	}
	err = adapterA.Stop()
	if err == nil {
		t.Fatalf("expected an error stopping the adapter twice")
	}
}

func TestNetAdapterLimitsInboundPeers(t *testing.T) {
	const address = "127.0.0.1:19320"

	adapter := startAdapter(t, address, 1, func(*router.Router, *NetConnection) {})
	for i := 0; i < 2; i++ {
		conn, err := net.DialTimeout("tcp", address, testTimeout)
		if err != nil {
			t.Fatalf("Dial: %s", err)
		}
		defer conn.Close()
	}
	time.Sleep(100 * time.Millisecond)
	waitForConnectionCount(t, adapter, 1)
}

func TestNetAdapterDropsInvalidMessages(t *testing.T) {
	const address = "127.0.0.1:19330"

	adapter := startAdapter(t, address, 8, func(*router.Router, *NetConnection) {})
	conn, err := net.DialTimeout("tcp", address, testTimeout)
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}
	defer conn.Close()
	waitForConnectionCount(t, adapter, 1)

	// A one byte frame holding an unknown command tag.
	_, err = conn.Write([]byte{1, 0, 0, 0, 250})
	if err != nil {
		t.Fatalf("Write: %s", err)
	}
	waitForConnectionCount(t, adapter, 0)
}
