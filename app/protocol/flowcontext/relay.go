package flowcontext

import (
	"time"

	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
)

// AnnounceUnit tells every ready peer other than except about a new unit.
// It implements processor.Relay.
func (f *FlowContext) AnnounceUnit(id txpow.ID, isBlock bool, except processor.PeerID) {
	var message appmessage.Message = appmessage.NewMsgUnitAnnounce(id)
	if isBlock {
		message = appmessage.NewMsgBlockAnnounce(id)
	}
	f.Broadcast(message, except)
}

// RequestUnit asks peer for a missing unit. Requests on behalf of the local
// node, or of a peer that is gone, go to every ready peer.
// It implements processor.Relay.
func (f *FlowContext) RequestUnit(peer processor.PeerID, id txpow.ID, isBlock bool) {
	var message appmessage.Message = appmessage.NewMsgUnitRequest(id)
	if isBlock {
		message = appmessage.NewMsgBlockRequest(id)
	}
	if peer != processor.LocalPeer {
		if !f.AddRequested(id, peer) {
			return
		}
		if f.SendTo(peer, message) {
			return
		}
		f.RemoveRequested(id)
	}
	if !f.AddRequested(id, processor.LocalPeer) {
		return
	}
	log.Debugf("Requesting %s from all peers", id)
	f.Broadcast(message, processor.LocalPeer)
}

// AddRequested records that id was requested from peer. It returns false
// if id is already waited for and its request has not timed out.
func (f *FlowContext) AddRequested(id txpow.ID, peer processor.PeerID) bool {
	f.requestedMutex.Lock()
	defer f.requestedMutex.Unlock()

	now := f.now()
	if request, ok := f.requested[id]; ok && now.Sub(request.at) < requestTimeout {
		return false
	}
	if len(f.requested) >= maxRequested {
		f.pruneRequestedLocked(now)
	}
	f.requested[id] = requestedUnit{peer: peer, at: now}
	return true
}

// RemoveRequested forgets that id was requested, once it arrived.
func (f *FlowContext) RemoveRequested(id txpow.ID) {
	f.requestedMutex.Lock()
	defer f.requestedMutex.Unlock()

	delete(f.requested, id)
}

// removeRequestsTo forgets every request still waiting on peer, so that
// the units can be asked from someone else.
func (f *FlowContext) removeRequestsTo(peer processor.PeerID) {
	f.requestedMutex.Lock()
	defer f.requestedMutex.Unlock()

	for id, request := range f.requested {
		if request.peer == peer {
			delete(f.requested, id)
		}
	}
}

// pruneRequestedLocked drops timed out requests, and the oldest one if
// none timed out.
func (f *FlowContext) pruneRequestedLocked(now time.Time) {
	var oldestID txpow.ID
	var oldest time.Time
	for id, request := range f.requested {
		if now.Sub(request.at) >= requestTimeout {
			delete(f.requested, id)
			continue
		}
		if oldest.IsZero() || request.at.Before(oldest) {
			oldestID, oldest = id, request.at
		}
	}
	if len(f.requested) >= maxRequested {
		delete(f.requested, oldestID)
	}
}
