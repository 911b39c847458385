package flowcontext

import (
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/app/protocol/common"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/infrastructure/metrics"
	"github.com/selfnet/selfd/infrastructure/network/netadapter"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

type readyPeer struct {
	peer          *peerpkg.Peer
	outgoingRoute *router.Route
}

// NetAdapter returns the net adapter that is associated to the flow context.
func (f *FlowContext) NetAdapter() *netadapter.NetAdapter {
	return f.netAdapter
}

// AddToPeers marks this peer as ready and adds it to the ready peers list.
// Messages broadcast to the peer are enqueued on outgoingRoute.
func (f *FlowContext) AddToPeers(peer *peerpkg.Peer, outgoingRoute *router.Route) error {
	f.peersMutex.Lock()
	defer f.peersMutex.Unlock()

	if _, ok := f.peers[peer.ID()]; ok {
		return errors.Wrapf(common.ErrPeerWithSameIDExists, "peer with ID %s already exists", peer.ID())
	}

	f.peers[peer.ID()] = &readyPeer{peer: peer, outgoingRoute: outgoingRoute}
	metrics.SetPeers(len(f.peers))

	return nil
}

// RemoveFromPeers remove this peer from the peers list, and forgets the
// units it was asked for.
func (f *FlowContext) RemoveFromPeers(peer *peerpkg.Peer) {
	f.peersMutex.Lock()
	delete(f.peers, peer.ID())
	metrics.SetPeers(len(f.peers))
	f.peersMutex.Unlock()

	f.removeRequestsTo(peer.ID())
}

// Peers returns the currently active peers
func (f *FlowContext) Peers() []*peerpkg.Peer {
	f.peersMutex.RLock()
	defer f.peersMutex.RUnlock()

	peers := make([]*peerpkg.Peer, 0, len(f.peers))
	for _, ready := range f.peers {
		peers = append(peers, ready.peer)
	}
	return peers
}

// HasPeers returns whether there are currently active peers
func (f *FlowContext) HasPeers() bool {
	f.peersMutex.RLock()
	defer f.peersMutex.RUnlock()
	return len(f.peers) > 0
}

// Broadcast enqueues message to every ready peer other than except.
func (f *FlowContext) Broadcast(message appmessage.Message, except processor.PeerID) {
	f.peersMutex.RLock()
	defer f.peersMutex.RUnlock()

	for id, ready := range f.peers {
		if id == except {
			continue
		}
		f.enqueue(ready, message)
	}
}

// SendTo enqueues message to the ready peer with the given ID. It returns
// false if no such peer is ready.
func (f *FlowContext) SendTo(id processor.PeerID, message appmessage.Message) bool {
	f.peersMutex.RLock()
	defer f.peersMutex.RUnlock()

	ready, ok := f.peers[id]
	if !ok {
		return false
	}
	f.enqueue(ready, message)
	return true
}

func (f *FlowContext) enqueue(ready *readyPeer, message appmessage.Message) {
	err := ready.outgoingRoute.Enqueue(message)
	if err == nil || errors.Is(err, router.ErrRouteClosed) {
		return
	}
	log.Warnf("Could not send %s to %s: %s", message.Command(), ready.peer, err)
	ready.peer.Connection().Disconnect()
}

// DisconnectPeer disconnects the ready peer with the given ID, if any.
func (f *FlowContext) DisconnectPeer(id processor.PeerID) {
	f.peersMutex.RLock()
	ready, ok := f.peers[id]
	f.peersMutex.RUnlock()
	if ok {
		ready.peer.Connection().Disconnect()
	}
}
