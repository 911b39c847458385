package ibd

import (
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

// HistoryContext is the interface for the context needed by the flows
// serving chain history.
type HistoryContext interface {
	Config() *config.Config
	Engine() *processor.Engine
	ThrottleHistory(peer *peerpkg.Peer, blocks []*txpow.TxBlock) error
}

// SendInitialBatch sends the unsolicited initial batch to a peer that
// connected to us. The batch starts after the highest block of the peer's
// greeting chain that is on the local main chain, or at the root with the
// cascade for a peer with an empty tree.
func SendInitialBatch(context HistoryContext, outgoingRoute *router.Route, peer *peerpkg.Peer) error {
	if peer.IsOutbound() {
		return nil
	}

	batch, err := context.Engine().BuildInitialBatch(peer.ChainIDs(), peer.TreeIsEmpty(), context.Config().SyncBatchMax)
	switch {
	case errors.Is(err, processor.ErrNoRoot):
		log.Debugf("No chain to offer %s yet", peer)
		batch = &processor.Batch{}
	case errors.Is(err, processor.ErrNoCrossover):
		return protocolerrors.Wrapf(false, err, "%s has no block on the local chain", peer)
	case errors.Is(err, processor.ErrHistoryUnavailable):
		log.Warnf("Cannot serve the initial batch to %s: %s", peer, err)
		batch = &processor.Batch{}
	case err != nil:
		return err
	}

	err = context.ThrottleHistory(peer, batch.Blocks)
	if err != nil {
		return err
	}
	log.Debugf("Sending an initial batch of %d blocks to %s (cascade included: %t)",
		len(batch.Blocks), peer, batch.Cascade != nil)
	return outgoingRoute.Enqueue(appmessage.NewMsgInitialBatch(batch.Cascade, batch.Blocks))
}
