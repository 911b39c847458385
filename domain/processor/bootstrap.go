package processor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/txpow"
)

const (
	pruneInterval = 10 * time.Minute
	unitRetention = time.Hour
)

// InitGenesis roots an empty engine at genesis.
func (e *Engine) InitGenesis(genesis *txpow.TxBlock) error {
	e.treeLock.Lock()
	if !e.tree.IsEmpty() || !e.cascade.IsEmpty() {
		e.treeLock.Unlock()
		return errors.New("chain is already initialized")
	}
	e.tree.SetRoot(genesis, nil, nil, nil)
	e.store.PutTxBlock(genesis)
	e.store.SetOnChain(genesis, true)
	tip, _ := e.publishLocked()
	e.treeLock.Unlock()

	log.Infof("Initialized chain at genesis %s", genesis.ID().Short())
	e.notifyNewTip(tip)
	return nil
}

// LoadFromArchive restores the cascade persisted by a previous run. The
// tree stays empty until a peer sends an initial batch that follows it. It
// returns false if nothing was persisted.
func (e *Engine) LoadFromArchive() (bool, error) {
	snapshot, err := e.archive.LoadCascade()
	if err != nil {
		return false, err
	}
	if snapshot == nil {
		return false, nil
	}
	e.treeLock.Lock()
	defer e.treeLock.Unlock()
	err = e.cascade.Restore(snapshot)
	if err != nil {
		return false, err
	}
	for _, entry := range snapshot.Tail {
		e.store.MarkFinalized(entry.Block)
	}
	return true, nil
}

func (e *Engine) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := e.store.Prune(e.now().Add(-unitRetention), e.mempool.Has)
			if removed > 0 {
				log.Debugf("Pruned %d stale units", removed)
			}
		}
	}
}
