package relay

import (
	"github.com/selfnet/selfd/app/appmessage"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

// HandleUnitsContext is the interface for the context needed for the HandleUnits flow.
type HandleUnitsContext interface {
	SubmitEvent(event processor.Event) error
	RemoveRequested(id txpow.ID)
}

// HandleUnits hands received units and blocks to the engine.
func HandleUnits(context HandleUnitsContext, incomingRoute *router.Route, peer *peerpkg.Peer) error {
	for {
		message, err := incomingRoute.Dequeue()
		if err != nil {
			return err
		}

		var event processor.Event
		switch message := message.(type) {
		case *appmessage.MsgUnit:
			context.RemoveRequested(message.Unit.ID())
			event = &processor.NewUnit{Unit: message.Unit, From: peer.ID()}
		case *appmessage.MsgBlock:
			context.RemoveRequested(message.Block.ID())
			event = &processor.NewBlockUnit{Block: message.Block, From: peer.ID()}
		default:
			return protocolerrors.Errorf(true, "unexpected %s on the unit route", message.Command())
		}

		err = context.SubmitEvent(event)
		if err != nil {
			return err
		}
	}
}
