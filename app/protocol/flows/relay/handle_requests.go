package relay

import (
	"github.com/selfnet/selfd/app/appmessage"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

// HandleUnitRequestsContext is the interface for the context needed for the HandleUnitRequests flow.
type HandleUnitRequestsContext interface {
	Engine() *processor.Engine
}

// HandleUnitRequests answers UnitRequest and BlockRequest messages. Unknown
// units are not answered.
func HandleUnitRequests(context HandleUnitRequestsContext, incomingRoute *router.Route,
	outgoingRoute *router.Route, peer *peerpkg.Peer) error {

	for {
		message, err := incomingRoute.Dequeue()
		if err != nil {
			return err
		}

		var response appmessage.Message
		switch message := message.(type) {
		case *appmessage.MsgUnitRequest:
			unit, ok := context.Engine().FindUnit(message.ID)
			if !ok {
				log.Debugf("%s requested unknown unit %s", peer, message.ID.Short())
				continue
			}
			response = appmessage.NewMsgUnit(unit)
		case *appmessage.MsgBlockRequest:
			block, err := context.Engine().TxBlock(message.ID)
			if err != nil {
				return err
			}
			if block == nil {
				log.Debugf("%s requested unknown block %s", peer, message.ID.Short())
				continue
			}
			response = appmessage.NewMsgBlock(block)
		default:
			return protocolerrors.Errorf(true, "unexpected %s on the request route", message.Command())
		}

		err = outgoingRoute.Enqueue(response)
		if err != nil {
			return err
		}
	}
}
