package relay

import (
	"github.com/selfnet/selfd/app/appmessage"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

// HandleRelayAnnouncementsContext is the interface for the context needed for the HandleRelayAnnouncements flow.
type HandleRelayAnnouncementsContext interface {
	Engine() *processor.Engine
	IsSyncing() bool
	AddRequested(id txpow.ID, peer processor.PeerID) bool
}

// HandleRelayAnnouncements requests announced units the node does not
// have. Transaction announcements are ignored while the node syncs.
func HandleRelayAnnouncements(context HandleRelayAnnouncementsContext, incomingRoute *router.Route,
	outgoingRoute *router.Route, peer *peerpkg.Peer) error {

	for {
		message, err := incomingRoute.Dequeue()
		if err != nil {
			return err
		}

		var id txpow.ID
		var isBlock bool
		switch message := message.(type) {
		case *appmessage.MsgUnitAnnounce:
			id = message.ID
		case *appmessage.MsgBlockAnnounce:
			id, isBlock = message.ID, true
		default:
			return protocolerrors.Errorf(true, "unexpected %s on the announcement route", message.Command())
		}

		if !shouldRequest(context, peer, id, isBlock) {
			continue
		}

		var request appmessage.Message = appmessage.NewMsgUnitRequest(id)
		if isBlock {
			request = appmessage.NewMsgBlockRequest(id)
		}
		err = outgoingRoute.Enqueue(request)
		if err != nil {
			return err
		}
	}
}

func shouldRequest(context HandleRelayAnnouncementsContext, peer *peerpkg.Peer, id txpow.ID, isBlock bool) bool {
	if !peer.MarkAnnounced(id) {
		return false
	}
	if context.Engine().HasUnit(id) {
		return false
	}
	if !isBlock && context.IsSyncing() {
		log.Tracef("Ignoring transaction %s from %s while syncing", id.Short(), peer)
		return false
	}
	return context.AddRequested(id, peer.ID())
}
