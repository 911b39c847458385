package flowcontext

import (
	"github.com/pkg/errors"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/infrastructure/metrics"
)

// ProcessEvent hands event to the engine and waits for its result. A fatal
// outcome is returned as a ban-worthy protocol error.
func (f *FlowContext) ProcessEvent(event processor.Event) (processor.Result, error) {
	result, err := f.engine.Process(f.lifetime, event)
	if err != nil {
		return result, err
	}
	if result.Outcome == processor.Fatal {
		return result, protocolerrors.Wrap(true, result.Err, "peer sent an invalid batch")
	}
	return result, nil
}

// SubmitEvent hands event to the engine without waiting for its result.
func (f *FlowContext) SubmitEvent(event processor.Event) error {
	return f.engine.Submit(f.lifetime, event)
}

// ThrottleHistory waits until blocks may be sent to peer under its upload
// limit.
func (f *FlowContext) ThrottleHistory(peer *peerpkg.Peer, blocks []*txpow.TxBlock) error {
	size := 0
	for _, block := range blocks {
		size += block.Size()
	}
	waited, err := peer.ThrottleHistory(f.lifetime, size)
	if err != nil {
		return errors.Wrapf(processor.ErrStopped, "throttling history for %s: %s", peer, err)
	}
	if waited > 0 {
		metrics.ThrottleWait()
		log.Tracef("Waited %s before serving %d bytes to %s", waited, size, peer)
	}
	metrics.BytesServed(size)
	return nil
}

// HandlePeerFailure disconnects the peer behind a fatal engine outcome.
func (f *FlowContext) HandlePeerFailure(id processor.PeerID, err error) {
	if id == processor.LocalPeer {
		log.Errorf("Local unit failed: %s", err)
		return
	}
	log.Warnf("Disconnecting %s: %s", id, err)
	f.DisconnectPeer(id)
}
