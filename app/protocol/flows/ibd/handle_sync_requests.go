package ibd

import (
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

type handleSyncRequestsFlow struct {
	HistoryContext
	incomingRoute, outgoingRoute *router.Route
	peer                         *peerpkg.Peer
}

// HandleSyncRequests serves SyncRequest and ArchiveRequest messages with
// bounded batches. Repeats of a SyncRequest inside the dedup window are
// ignored.
func HandleSyncRequests(context HistoryContext, incomingRoute *router.Route,
	outgoingRoute *router.Route, peer *peerpkg.Peer) error {

	flow := &handleSyncRequestsFlow{
		HistoryContext: context,
		incomingRoute:  incomingRoute,
		outgoingRoute:  outgoingRoute,
		peer:           peer,
	}
	return flow.start()
}

func (flow *handleSyncRequestsFlow) start() error {
	for {
		message, err := flow.incomingRoute.Dequeue()
		if err != nil {
			return err
		}

		switch message := message.(type) {
		case *appmessage.MsgSyncRequest:
			err = flow.serveSyncRequest(message.AfterHeight)
		case *appmessage.MsgArchiveRequest:
			err = flow.serveArchiveRequest(message.BeforeHeight)
		default:
			err = protocolerrors.Errorf(true, "unexpected %s on the sync request route", message.Command())
		}
		if err != nil {
			return err
		}
	}
}

func (flow *handleSyncRequestsFlow) serveSyncRequest(afterHeight uint64) error {
	if !flow.peer.ShouldServeSyncRequest(afterHeight) {
		log.Debugf("Ignoring a repeated sync request after height %d from %s", afterHeight, flow.peer)
		return nil
	}

	blocks, err := flow.Engine().BuildSyncBatch(afterHeight, flow.Config().SyncBatchMax)
	if errors.Is(err, processor.ErrNoRoot) || errors.Is(err, processor.ErrHistoryUnavailable) {
		log.Debugf("Cannot serve blocks after height %d to %s: %s", afterHeight, flow.peer, err)
		blocks = nil
	} else if err != nil {
		return err
	}

	err = flow.send(blocks, func(blocks []*txpow.TxBlock) appmessage.Message {
		return appmessage.NewMsgSyncResponse(blocks)
	})
	if err != nil {
		return err
	}
	log.Debugf("Served %d blocks after height %d to %s", len(blocks), afterHeight, flow.peer)
	return nil
}

func (flow *handleSyncRequestsFlow) serveArchiveRequest(beforeHeight uint64) error {
	blocks, err := flow.Engine().ArchiveBefore(beforeHeight, flow.Config().SyncBatchMax)
	if err != nil {
		return err
	}
	return flow.send(blocks, func(blocks []*txpow.TxBlock) appmessage.Message {
		return appmessage.NewMsgArchiveResponse(blocks)
	})
}

func (flow *handleSyncRequestsFlow) send(blocks []*txpow.TxBlock,
	newMessage func([]*txpow.TxBlock) appmessage.Message) error {

	err := flow.ThrottleHistory(flow.peer, blocks)
	if err != nil {
		return err
	}
	return flow.outgoingRoute.Enqueue(newMessage(blocks))
}
