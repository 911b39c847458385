package protocol

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/protocol/common"
	"github.com/selfnet/selfd/app/protocol/flowcontext"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/network/netadapter"
)

// Manager manages the p2p protocol
type Manager struct {
	context          *flowcontext.FlowContext
	routersWaitGroup sync.WaitGroup
	isClosed         uint32
}

// NewManager creates a new instance of the p2p protocol manager. It makes
// the flow context the relay of engine, so it must be called before the
// engine starts.
func NewManager(cfg *config.Config, engine *processor.Engine, netAdapter *netadapter.NetAdapter) (*Manager, error) {
	manager := Manager{
		context: flowcontext.New(cfg, engine, netAdapter),
	}

	engine.SetRelay(manager.context)
	engine.OnPeerFailure(manager.context.HandlePeerFailure)
	netAdapter.SetP2PRouterInitializer(manager.routerInitializer)
	return &manager, nil
}

// Close closes the protocol manager and waits until all p2p flows
// finish.
func (m *Manager) Close() {
	if !atomic.CompareAndSwapUint32(&m.isClosed, 0, 1) {
		panic(errors.New("The protocol manager was already closed"))
	}

	m.context.Close()
	m.routersWaitGroup.Wait()
}

// Peers returns the currently active peers
func (m *Manager) Peers() []*peerpkg.Peer {
	return m.context.Peers()
}

// IsSyncing returns whether the node is applying a batch or catching up
// with a peer.
func (m *Manager) IsSyncing() bool {
	return m.context.IsSyncing()
}

// Context returns the manager's flow context
func (m *Manager) Context() *flowcontext.FlowContext {
	return m.context
}

func (m *Manager) runFlows(flows []*common.Flow, peer *peerpkg.Peer, errChan <-chan error, flowsWaitGroup *sync.WaitGroup) error {
	flowsWaitGroup.Add(len(flows))
	for _, flow := range flows {
		executeFunc := flow.ExecuteFunc // extract to new variable so that it's not overwritten
		spawn(fmt.Sprintf("flow-%s", flow.Name), func() {
			executeFunc(peer)
			flowsWaitGroup.Done()
		})
	}

	return <-errChan
}
