package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/selfnet/selfd/app/protocol"
	"github.com/selfnet/selfd/domain/blocktemplate"
	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/unitstore"
	"github.com/selfnet/selfd/domain/validator"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/db/archive"
	"github.com/selfnet/selfd/infrastructure/metrics"
	"github.com/selfnet/selfd/infrastructure/network/connmanager"
	"github.com/selfnet/selfd/infrastructure/network/netadapter"
	"github.com/selfnet/selfd/util/panics"
)

const flushTimeout = 5 * time.Second

// ComponentManager is a wrapper for all the selfd services
type ComponentManager struct {
	engine            *processor.Engine
	protocolManager   *protocol.Manager
	connectionManager *connmanager.ConnectionManager
	netAdapter        *netadapter.NetAdapter
	metricsServer     *metrics.Server
	generator         *generator

	ctx    context.Context
	cancel context.CancelFunc

	started, shutdown int32
}

// Start launches all the selfd services.
func (a *ComponentManager) Start() {
	// Already started?
	if atomic.AddInt32(&a.started, 1) != 1 {
		return
	}

	log.Trace("Starting selfd")

	a.engine.Start(a.ctx)

	err := a.netAdapter.Start()
	if err != nil {
		panics.Exit(log, fmt.Sprintf("Error starting the net adapter: %+v", err))
	}

	a.connectionManager.Start()

	if a.metricsServer != nil {
		a.metricsServer.Start()
	}
	if a.generator != nil {
		a.generator.start(a.ctx)
	}
}

// Stop gracefully shuts down all the selfd services.
func (a *ComponentManager) Stop() {
	// Make sure this only happens once.
	if atomic.AddInt32(&a.shutdown, 1) != 1 {
		log.Infof("Selfd is already in the process of shutting down")
		return
	}

	log.Warnf("Selfd shutting down")

	a.connectionManager.Stop()

	err := a.netAdapter.Stop()
	if err != nil {
		log.Errorf("Error stopping the net adapter: %+v", err)
	}

	a.protocolManager.Close()

	flushCtx, cancelFlush := context.WithTimeout(a.ctx, flushTimeout)
	err = a.engine.Flush(flushCtx)
	cancelFlush()
	if err != nil {
		log.Warnf("Engine did not drain its mailbox: %s", err)
	}
	a.cancel()

	if a.metricsServer != nil {
		err := a.metricsServer.Stop()
		if err != nil {
			log.Errorf("Error stopping the metrics server: %+v", err)
		}
	}
}

// NewComponentManager returns a new ComponentManager instance.
// Use Start() to begin all services within this ComponentManager
func NewComponentManager(cfg *config.Config, db *archive.Archive) (*ComponentManager, error) {
	policy := validator.New(cfg.Params, validator.AcceptAllSignatures)
	pool := mempool.New(cfg.Mempool)
	engine := processor.New(&processor.Config{
		Params:    cfg.Params,
		Validator: policy,
		Store:     unitstore.New(cfg.Params.MaxPending),
		Mempool:   pool,
		Archive:   db,
	})

	err := setupChain(cfg, engine)
	if err != nil {
		return nil, err
	}

	netAdapter, err := netadapter.NewNetAdapter(cfg)
	if err != nil {
		return nil, err
	}

	protocolManager, err := protocol.NewManager(cfg, engine, netAdapter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := &ComponentManager{
		engine:            engine,
		protocolManager:   protocolManager,
		connectionManager: connmanager.New(cfg, netAdapter),
		netAdapter:        netAdapter,
		ctx:               ctx,
		cancel:            cancel,
	}
	if cfg.MetricsListen != "" {
		manager.metricsServer = metrics.NewServer(cfg.MetricsListen)
	}
	if cfg.Generate {
		builder := blocktemplate.New(cfg.Params, engine, pool, policy)
		manager.generator = newGenerator(builder, engine, protocolManager.IsSyncing)
	}
	return manager, nil
}

// setupChain restores the cascade of a previous run, or roots a fresh chain
// at genesis when asked to. A node with neither waits for an initial batch.
func setupChain(cfg *config.Config, engine *processor.Engine) error {
	restored, err := engine.LoadFromArchive()
	if err != nil {
		return err
	}
	if restored {
		log.Infof("Restored the cascade from the archive")
		return nil
	}
	if cfg.Genesis {
		return engine.InitGenesis(cfg.Params.Genesis())
	}
	log.Infof("No stored cascade. Waiting for a peer to provide the chain")
	return nil
}
