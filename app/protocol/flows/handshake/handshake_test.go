package handshake

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/config"
	routerpkg "github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

const localNonce = 1234

type fakeConnection struct {
	address  string
	outbound bool
}

func (c *fakeConnection) String() string   { return c.address }
func (c *fakeConnection) Address() string  { return c.address }
func (c *fakeConnection) IsOutbound() bool { return c.outbound }
func (c *fakeConnection) Disconnect()      {}

type fakeContext struct {
	cfg   *config.Config
	peers []*peerpkg.Peer
}

func newFakeContext() *fakeContext {
	return &fakeContext{cfg: config.DefaultConfig()}
}

func (f *fakeContext) Config() *config.Config { return f.cfg }

func (f *fakeContext) Nonce() uint64 { return localNonce }

func (f *fakeContext) Greeting() *appmessage.MsgGreeting {
	return appmessage.NewMsgGreeting(f.cfg.Params.ChainID, localNonce, "selfd:test", 3, false, nil)
}

func (f *fakeContext) PeerConfig() *peerpkg.Config {
	return &peerpkg.Config{BandwidthBytesPerSecond: 1024, BandwidthBurstBytes: 1024}
}

func (f *fakeContext) AddToPeers(peer *peerpkg.Peer, _ *routerpkg.Route) error {
	f.peers = append(f.peers, peer)
	return nil
}

func TestHandshake(t *testing.T) {
	context := newFakeContext()
	chainIDs := []txpow.ID{txpow.HashBytes([]byte("tip"))}
	remote := appmessage.NewMsgGreeting(context.cfg.Params.ChainID, 99, "selfd:remote", 40, false, chainIDs)

	for _, outbound := range []bool{true, false} {
		receiveRoute := routerpkg.NewRoute("greeting")
		outgoingRoute := routerpkg.NewRoute("outgoing")
		err := receiveRoute.Enqueue(remote)
		if err != nil {
			t.Fatalf("Enqueue: %+v", err)
		}

		connection := &fakeConnection{address: "10.0.0.1:9001", outbound: outbound}
		peer, err := HandleHandshake(context, connection, receiveRoute, outgoingRoute)
		if err != nil {
			t.Fatalf("HandleHandshake: %+v", err)
		}
		if peer.TipHeight() != 40 || peer.UserAgent() != "selfd:remote" || len(peer.ChainIDs()) != 1 {
			t.Fatalf("peer fields were not taken from the greeting")
		}
		wantState := peerpkg.StateIdle
		if outbound {
			wantState = peerpkg.StateReceivingInitialBatch
		}
		if peer.State() != wantState {
			t.Fatalf("outbound=%t: peer is in state %s, want %s", outbound, peer.State(), wantState)
		}

		sent, err := outgoingRoute.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %+v", err)
		}
		if greeting, ok := sent.(*appmessage.MsgGreeting); !ok || greeting.Nonce != localNonce {
			t.Fatalf("local greeting was not sent, got %v", sent)
		}
	}
	if len(context.peers) != 2 {
		t.Fatalf("%d peers were added, want 2", len(context.peers))
	}
}

func TestHandshakeRejectsIncompatiblePeers(t *testing.T) {
	context := newFakeContext()
	chainID := context.cfg.Params.ChainID

	oldVersion := appmessage.NewMsgGreeting(chainID, 99, "selfd:old", 0, false, nil)
	oldVersion.ProtocolVersion = minAcceptableProtocolVersion - 1

	tests := []struct {
		name          string
		greeting      appmessage.Message
		expectedBan   bool
		expectedError bool
	}{
		{
			name:          "connected to self",
			greeting:      appmessage.NewMsgGreeting(chainID, localNonce, "selfd:test", 0, false, nil),
			expectedError: true,
		},
		{
			name:          "other chain",
			greeting:      appmessage.NewMsgGreeting(chainID+1, 99, "selfd:other", 0, false, nil),
			expectedBan:   true,
			expectedError: true,
		},
		{
			name:          "old protocol version",
			greeting:      oldVersion,
			expectedError: true,
		},
	}

	for _, test := range tests {
		receiveRoute := routerpkg.NewRoute("greeting")
		outgoingRoute := routerpkg.NewRoute("outgoing")
		err := receiveRoute.Enqueue(test.greeting)
		if err != nil {
			t.Fatalf("%s: Enqueue: %+v", test.name, err)
		}
		connection := &fakeConnection{address: "10.0.0.2:9001", outbound: true}
		_, err = HandleHandshake(context, connection, receiveRoute, outgoingRoute)
		if (err != nil) != test.expectedError {
			t.Fatalf("%s: unexpected error %v", test.name, err)
		}
		var protocolErr *protocolerrors.ProtocolError
		if !errors.As(err, &protocolErr) {
			t.Fatalf("%s: expected a protocol error, got %v", test.name, err)
		}
		if protocolErr.ShouldBan != test.expectedBan {
			t.Fatalf("%s: ShouldBan is %t, want %t", test.name, protocolErr.ShouldBan, test.expectedBan)
		}
	}
	if len(context.peers) != 0 {
		t.Fatalf("a rejected peer was added")
	}
}

func TestHandshakeStopsWhenRouteCloses(t *testing.T) {
	context := newFakeContext()
	receiveRoute := routerpkg.NewRoute("greeting")
	receiveRoute.Close()
	connection := &fakeConnection{address: "10.0.0.3:9001"}
	_, err := HandleHandshake(context, connection, receiveRoute, routerpkg.NewRoute("outgoing"))
	if !errors.Is(err, routerpkg.ErrRouteClosed) {
		t.Fatalf("expected ErrRouteClosed, got %v", err)
	}
}
