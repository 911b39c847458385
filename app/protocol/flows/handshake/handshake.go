package handshake

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/app/protocol/common"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/infrastructure/config"
	routerpkg "github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

// minAcceptableProtocolVersion is the lowest protocol version that a
// connected peer may support.
const minAcceptableProtocolVersion = appmessage.ProtocolVersion

// HandleHandshakeContext is the interface for the context needed for the HandleHandshake flow.
type HandleHandshakeContext interface {
	Config() *config.Config
	Nonce() uint64
	Greeting() *appmessage.MsgGreeting
	PeerConfig() *peerpkg.Config
	AddToPeers(peer *peerpkg.Peer, outgoingRoute *routerpkg.Route) error
}

// HandleHandshake sends a greeting and waits for the peer's greeting.
// On success the peer is ready: an outbound peer waits for its initial
// batch, an inbound peer is idle.
func HandleHandshake(context HandleHandshakeContext, connection peerpkg.Connection,
	receiveGreetingRoute *routerpkg.Route, outgoingRoute *routerpkg.Route,
) (*peerpkg.Peer, error) {

	// Both the sent and the received greeting decrease doneCount. doneChan
	// is closed when it reaches 0.
	doneCount := int32(2)
	doneChan := make(chan struct{})

	isStopping := uint32(0)
	errChan := make(chan error)

	peer := peerpkg.New(connection, context.PeerConfig())
	err := peer.Transition(peerpkg.StateIdle, peerpkg.StateAwaitingGreetingResponse)
	if err != nil {
		return nil, err
	}

	spawn("HandleHandshake-ReceiveGreeting", func() {
		err := ReceiveGreeting(context, receiveGreetingRoute, peer)
		if err != nil {
			handleError(err, "ReceiveGreeting", &isStopping, errChan)
			return
		}
		if atomic.AddInt32(&doneCount, -1) == 0 {
			close(doneChan)
		}
	})

	spawn("HandleHandshake-SendGreeting", func() {
		err := SendGreeting(context, outgoingRoute)
		if err != nil {
			handleError(err, "SendGreeting", &isStopping, errChan)
			return
		}
		if atomic.AddInt32(&doneCount, -1) == 0 {
			close(doneChan)
		}
	})

	select {
	case err := <-errChan:
		return nil, err
	case <-doneChan:
	}

	next := peerpkg.StateIdle
	if peer.IsOutbound() {
		next = peerpkg.StateReceivingInitialBatch
	}
	err = peer.Transition(peerpkg.StateAwaitingGreetingResponse, next)
	if err != nil {
		return nil, err
	}

	err = context.AddToPeers(peer, outgoingRoute)
	if err != nil {
		if errors.Is(err, common.ErrPeerWithSameIDExists) {
			return nil, protocolerrors.Wrap(false, err, "peer already exists")
		}
		return nil, err
	}

	log.Debugf("Handshake with %s (%s) done, its tip is at height %d",
		peer, peer.UserAgent(), peer.TipHeight())
	return peer, nil
}

// SendGreeting enqueues the local greeting.
func SendGreeting(context HandleHandshakeContext, outgoingRoute *routerpkg.Route) error {
	return outgoingRoute.Enqueue(context.Greeting())
}

// ReceiveGreeting waits for the peer's greeting and checks that it is
// compatible with the local node.
func ReceiveGreeting(context HandleHandshakeContext, incomingRoute *routerpkg.Route, peer *peerpkg.Peer) error {
	message, err := incomingRoute.DequeueWithTimeout(common.DefaultTimeout)
	if err != nil {
		return err
	}

	msgGreeting, ok := message.(*appmessage.MsgGreeting)
	if !ok {
		return protocolerrors.Errorf(true, "a greeting message must precede all others, got %s", message.Command())
	}

	if msgGreeting.Nonce == context.Nonce() {
		return protocolerrors.New(false, "connected to self")
	}

	chainID := context.Config().Params.ChainID
	if msgGreeting.ChainID != chainID {
		return protocolerrors.Errorf(true, "wrong chain ID %d, expected %d", msgGreeting.ChainID, chainID)
	}

	if msgGreeting.ProtocolVersion < minAcceptableProtocolVersion {
		return protocolerrors.Errorf(false, "protocol version must be %d or greater, got %d",
			minAcceptableProtocolVersion, msgGreeting.ProtocolVersion)
	}

	peer.UpdateFieldsFromGreeting(msgGreeting)
	return nil
}

// Handshake is different from other flows, since in it should forward router.ErrRouteClosed to errChan
// Therefore we implement a separate handleError for handshake
func handleError(err error, flowName string, isStopping *uint32, errChan chan error) {
	if errors.Is(err, routerpkg.ErrRouteClosed) {
		if atomic.AddUint32(isStopping, 1) == 1 {
			errChan <- err
		}
		return
	}

	var protocolErr *protocolerrors.ProtocolError
	if errors.As(err, &protocolErr) {
		log.Errorf("Handshake protocol error from %s: %s", flowName, err)
		if atomic.AddUint32(isStopping, 1) == 1 {
			errChan <- err
		}
		return
	}
	panic(err)
}
