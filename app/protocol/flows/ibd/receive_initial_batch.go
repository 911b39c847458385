package ibd

import (
	"time"

	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/app/protocol/common"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

// ReceiveInitialBatchContext is the interface for the context needed for the ReceiveInitialBatch flow.
type ReceiveInitialBatchContext interface {
	Config() *config.Config
	Engine() *processor.Engine
	ProcessEvent(event processor.Event) (processor.Result, error)
	StartCatchingUp() (onEnd func())
}

type receiveInitialBatchFlow struct {
	ReceiveInitialBatchContext
	incomingRoute, outgoingRoute *router.Route
	peer                         *peerpkg.Peer
}

// ReceiveInitialBatch drives the sync session with a peer we connected to:
// it applies the peer's initial batch, catches up to the peer's tip with
// SyncRequests and, if enabled, extends the archive below the cascade.
// Any batch message outside of that session is a protocol violation.
func ReceiveInitialBatch(context ReceiveInitialBatchContext, incomingRoute *router.Route,
	outgoingRoute *router.Route, peer *peerpkg.Peer) error {

	flow := &receiveInitialBatchFlow{
		ReceiveInitialBatchContext: context,
		incomingRoute:              incomingRoute,
		outgoingRoute:              outgoingRoute,
		peer:                       peer,
	}
	if peer.IsOutbound() {
		err := flow.syncWithPeer()
		if err != nil {
			return err
		}
	}
	return flow.rejectUnsolicited()
}

func (flow *receiveInitialBatchFlow) syncWithPeer() error {
	message, err := flow.incomingRoute.DequeueWithTimeout(common.BatchTimeout)
	if err != nil {
		return err
	}
	msgInitialBatch, ok := message.(*appmessage.MsgInitialBatch)
	if !ok {
		return protocolerrors.Errorf(true, "expected an initial batch from %s, got %s", flow.peer, message.Command())
	}

	if msgInitialBatch.Cascade == nil && len(msgInitialBatch.Blocks) == 0 {
		log.Debugf("%s has nothing newer to offer", flow.peer)
		return flow.peer.Transition(peerpkg.StateReceivingInitialBatch, peerpkg.StateIdle)
	}

	log.Infof("Received an initial batch of %d blocks from %s", len(msgInitialBatch.Blocks), flow.peer)
	result, err := flow.ProcessEvent(&processor.SyncBatch{
		Batch: &processor.Batch{Cascade: msgInitialBatch.Cascade, Blocks: msgInitialBatch.Blocks},
		From:  flow.peer.ID(),
	})
	if err != nil {
		return err
	}
	log.Debugf("Initial batch from %s: %s", flow.peer, result.Outcome)

	err = flow.peer.Transition(peerpkg.StateReceivingInitialBatch, peerpkg.StateCatchingUp)
	if err != nil {
		return err
	}
	onEnd := flow.StartCatchingUp()
	defer onEnd()

	err = flow.catchUp(msgInitialBatch.Blocks)
	if err != nil {
		return err
	}
	if flow.Config().ArchiveSync {
		err = flow.syncArchive()
		if err != nil {
			return err
		}
	}
	return flow.peer.Transition(peerpkg.StateCatchingUp, peerpkg.StateIdle)
}

// catchUp requests the peer's blocks above the last one it sent until it
// reaches the height the peer announced. Requests follow the peer's chain,
// not the local tip, which may be on a fork the peer does not have.
func (flow *receiveInitialBatchFlow) catchUp(initialBlocks []*txpow.TxBlock) error {
	tip := flow.Engine().Tip()
	if tip == nil {
		return protocolerrors.Errorf(false, "the initial batch from %s left the chain without a root", flow.peer)
	}
	peerHeight := tip.Height
	if len(initialBlocks) > 0 {
		peerHeight = initialBlocks[len(initialBlocks)-1].Height()
	}

	for {
		if peerHeight >= flow.peer.TipHeight() {
			log.Infof("Caught up with %s at height %d", flow.peer, peerHeight)
			return nil
		}

		err := flow.outgoingRoute.Enqueue(appmessage.NewMsgSyncRequest(peerHeight))
		if err != nil {
			return err
		}
		blocks, err := flow.receiveBlocks(appmessage.CmdSyncResponse)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			log.Infof("%s has no blocks after height %d", flow.peer, peerHeight)
			return nil
		}

		last := blocks[len(blocks)-1]
		if last.Height() <= peerHeight {
			return protocolerrors.Errorf(true, "%s answered a request after height %d with blocks up to %d",
				flow.peer, peerHeight, last.Height())
		}
		flow.peer.UpdateTipHeight(last.Height())
		_, err = flow.ProcessEvent(&processor.TrustedBatch{Blocks: blocks, From: flow.peer.ID()})
		if err != nil {
			return err
		}
		err = flow.waitForBlock(last)
		if err != nil {
			return err
		}
		peerHeight = last.Height()
	}
}

// waitForBlock polls the engine until its tip reaches the height of block,
// or block is known while a heavier local fork keeps the tip. Running out
// of attempts fails the session with the peer.
func (flow *receiveInitialBatchFlow) waitForBlock(block *txpow.TxBlock) error {
	interval := flow.Config().SyncPollInterval
	attempts := flow.Config().SyncPollAttempts
	for i := 0; i < attempts; i++ {
		tip := flow.Engine().Tip()
		if tip != nil && tip.Height >= block.Height() {
			return nil
		}
		if flow.Engine().HasUnit(block.ID()) {
			return nil
		}
		time.Sleep(interval)
	}
	return protocolerrors.Errorf(false, "block %s at height %d was not applied after %d checks while syncing from %s",
		block.ID().Short(), block.Height(), attempts, flow.peer)
}

// syncArchive fetches archived blocks below the lowest local one until the
// archive reaches genesis or the peer has nothing older.
func (flow *receiveInitialBatchFlow) syncArchive() error {
	for {
		lowest, ok, err := flow.Engine().LowestArchivedHeight()
		if err != nil {
			return err
		}
		if !ok || lowest == 0 {
			return nil
		}

		err = flow.outgoingRoute.Enqueue(appmessage.NewMsgArchiveRequest(lowest))
		if err != nil {
			return err
		}
		blocks, err := flow.receiveBlocks(appmessage.CmdArchiveResponse)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			return nil
		}

		result, err := flow.ProcessEvent(&processor.SyncContinuation{Blocks: blocks, From: flow.peer.ID()})
		if err != nil {
			return err
		}
		if result.Outcome == processor.Rejected {
			log.Warnf("Stopped extending the archive from %s: %s", flow.peer, result.Err)
			return nil
		}

		newLowest, _, err := flow.Engine().LowestArchivedHeight()
		if err != nil {
			return err
		}
		if newLowest >= lowest {
			return nil
		}
		log.Debugf("Archive extended to height %d from %s", newLowest, flow.peer)
	}
}

func (flow *receiveInitialBatchFlow) receiveBlocks(command appmessage.MessageCommand) ([]*txpow.TxBlock, error) {
	message, err := flow.incomingRoute.DequeueWithTimeout(common.BatchTimeout)
	if err != nil {
		return nil, err
	}
	switch message := message.(type) {
	case *appmessage.MsgSyncResponse:
		if command == appmessage.CmdSyncResponse {
			return message.Blocks, nil
		}
	case *appmessage.MsgArchiveResponse:
		if command == appmessage.CmdArchiveResponse {
			return message.Blocks, nil
		}
	}
	return nil, protocolerrors.Errorf(true, "expected %s from %s, got %s", command, flow.peer, message.Command())
}

func (flow *receiveInitialBatchFlow) rejectUnsolicited() error {
	message, err := flow.incomingRoute.Dequeue()
	if err != nil {
		return err
	}
	return protocolerrors.Errorf(true, "unsolicited %s from %s", message.Command(), flow.peer)
}
