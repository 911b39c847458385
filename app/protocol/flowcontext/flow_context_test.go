package flowcontext

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/app/protocol/common"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

type fakeConnection struct {
	address      string
	disconnected bool
}

func (c *fakeConnection) String() string   { return c.address }
func (c *fakeConnection) Address() string  { return c.address }
func (c *fakeConnection) IsOutbound() bool { return false }
func (c *fakeConnection) Disconnect()      { c.disconnected = true }

type testPeer struct {
	peer       *peerpkg.Peer
	connection *fakeConnection
	route      *router.Route
}

func addPeers(t *testing.T, f *FlowContext, addresses ...string) []*testPeer {
	peers := make([]*testPeer, 0, len(addresses))
	for _, address := range addresses {
		connection := &fakeConnection{address: address}
		p := &testPeer{
			peer:       peerpkg.New(connection, f.PeerConfig()),
			connection: connection,
			route:      router.NewRoute(address),
		}
		err := f.AddToPeers(p.peer, p.route)
		if err != nil {
			t.Fatalf("AddToPeers: %+v", err)
		}
		peers = append(peers, p)
	}
	return peers
}

func expectMessage(t *testing.T, route *router.Route, command appmessage.MessageCommand) {
	message, err := route.DequeueWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("expected %s: %+v", command, err)
	}
	if message.Command() != command {
		t.Fatalf("got %s, want %s", message.Command(), command)
	}
}

func expectNothing(t *testing.T, route *router.Route) {
	_, err := route.DequeueWithTimeout(50 * time.Millisecond)
	if !errors.Is(err, router.ErrTimeout) {
		t.Fatalf("expected an empty route, got %v", err)
	}
}

func TestPeersAndBroadcast(t *testing.T) {
	f := New(config.DefaultConfig(), nil, nil)
	defer f.Close()
	peers := addPeers(t, f, "10.0.0.1:9001", "10.0.0.2:9001")

	duplicate := peerpkg.New(&fakeConnection{address: "10.0.0.1:9001"}, f.PeerConfig())
	err := f.AddToPeers(duplicate, router.NewRoute("dup"))
	if !errors.Is(err, common.ErrPeerWithSameIDExists) {
		t.Fatalf("expected ErrPeerWithSameIDExists, got %v", err)
	}

	id := txpow.HashBytes([]byte("unit"))
	f.AnnounceUnit(id, true, peers[0].peer.ID())
	expectNothing(t, peers[0].route)
	expectMessage(t, peers[1].route, appmessage.CmdBlockAnnounce)

	f.RemoveFromPeers(peers[1].peer)
	if !f.HasPeers() || len(f.Peers()) != 1 {
		t.Fatalf("unexpected peers after removal: %d", len(f.Peers()))
	}
}

func TestRequestUnit(t *testing.T) {
	f := New(config.DefaultConfig(), nil, nil)
	defer f.Close()
	peers := addPeers(t, f, "10.0.0.1:9001", "10.0.0.2:9001")

	first := txpow.HashBytes([]byte("first"))
	f.RequestUnit(peers[0].peer.ID(), first, false)
	expectMessage(t, peers[0].route, appmessage.CmdUnitRequest)
	expectNothing(t, peers[1].route)

	f.RequestUnit(peers[1].peer.ID(), first, false)
	expectNothing(t, peers[1].route)

	second := txpow.HashBytes([]byte("second"))
	f.RequestUnit("10.0.0.3:9001", second, true)
	expectMessage(t, peers[0].route, appmessage.CmdBlockRequest)
	expectMessage(t, peers[1].route, appmessage.CmdBlockRequest)

	f.RemoveRequested(first)
	if !f.AddRequested(first, peers[0].peer.ID()) {
		t.Fatalf("a removed request was still remembered")
	}
}

func TestRequestsAreRetried(t *testing.T) {
	f := New(config.DefaultConfig(), nil, nil)
	defer f.Close()
	now := time.UnixMilli(1_000_000)
	f.now = func() time.Time { return now }
	peers := addPeers(t, f, "10.0.0.1:9001", "10.0.0.2:9001")

	parent := txpow.HashBytes([]byte("parent"))
	f.RequestUnit(peers[0].peer.ID(), parent, true)
	expectMessage(t, peers[0].route, appmessage.CmdBlockRequest)

	f.RemoveFromPeers(peers[0].peer)
	f.RequestUnit(peers[1].peer.ID(), parent, true)
	expectMessage(t, peers[1].route, appmessage.CmdBlockRequest)

	txn := txpow.HashBytes([]byte("txn"))
	f.RequestUnit(peers[1].peer.ID(), txn, false)
	expectMessage(t, peers[1].route, appmessage.CmdUnitRequest)
	f.RequestUnit(peers[1].peer.ID(), txn, false)
	expectNothing(t, peers[1].route)

	now = now.Add(requestTimeout)
	f.RequestUnit(peers[1].peer.ID(), txn, false)
	expectMessage(t, peers[1].route, appmessage.CmdUnitRequest)
}

func TestRequestedIsBounded(t *testing.T) {
	f := New(config.DefaultConfig(), nil, nil)
	defer f.Close()
	now := time.UnixMilli(1_000_000)
	f.now = func() time.Time { return now }

	first := txpow.HashBytes([]byte{0, 0, 0})
	for i := 0; i <= maxRequested; i++ {
		now = now.Add(time.Millisecond)
		if !f.AddRequested(txpow.HashBytes([]byte{byte(i), byte(i >> 8), byte(i >> 16)}), "peer") {
			t.Fatalf("request %d was refused", i)
		}
	}
	if len(f.requested) > maxRequested {
		t.Fatalf("%d requests remembered, limit is %d", len(f.requested), maxRequested)
	}
	if !f.AddRequested(first, "peer") {
		t.Fatalf("the oldest request was not dropped")
	}
}

func TestBroadcastDisconnectsFullPeers(t *testing.T) {
	f := New(config.DefaultConfig(), nil, nil)
	defer f.Close()
	peers := addPeers(t, f, "10.0.0.1:9001")

	for i := 0; i <= router.DefaultMaxMessages; i++ {
		f.Broadcast(appmessage.NewMsgUnitAnnounce(txpow.HashBytes([]byte{byte(i), byte(i >> 8)})), "")
	}
	if !peers[0].connection.disconnected {
		t.Fatalf("a peer whose route is full was not disconnected")
	}
}
