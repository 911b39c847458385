package app

import (
	"context"
	"testing"
	"time"

	"github.com/selfnet/selfd/domain/blocktemplate"
	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow/txpowtest"
	"github.com/selfnet/selfd/domain/unitstore"
	"github.com/selfnet/selfd/domain/validator"
	"github.com/selfnet/selfd/infrastructure/db/archive"
)

func newTestEngine(t *testing.T) (*processor.Engine, *blocktemplate.Builder) {
	p := params.Default(txpowtest.ChainID)
	db, err := archive.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	policy := validator.New(p, validator.AcceptAllSignatures)
	pool := mempool.New(mempool.DefaultConfig(p))
	engine := processor.New(&processor.Config{
		Params:    p,
		Validator: policy,
		Store:     unitstore.New(p.MaxPending),
		Mempool:   pool,
		Archive:   db,
	})
	return engine, blocktemplate.New(p, engine, pool, policy)
}

func waitForHeight(t *testing.T, engine *processor.Engine, height uint64) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if tip := engine.Tip(); tip != nil && tip.Height >= height {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tip did not reach height %d", height)
}

func TestGeneratorExtendsTheTip(t *testing.T) {
	engine, builder := newTestEngine(t)
	err := engine.InitGenesis(txpowtest.Genesis())
	if err != nil {
		t.Fatalf("InitGenesis: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	g := newGenerator(builder, engine, func() bool { return false })
	done := make(chan error, 1)
	go func() {
		done <- g.generateLoop(ctx)
	}()

	waitForHeight(t, engine, 2)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("generateLoop: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("generateLoop did not stop with its context")
	}
}

func TestGeneratorWaitsWhileSyncing(t *testing.T) {
	engine, builder := newTestEngine(t)
	err := engine.InitGenesis(txpowtest.Genesis())
	if err != nil {
		t.Fatalf("InitGenesis: %s", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	engine.Start(ctx)

	g := newGenerator(builder, engine, func() bool { return true })
	err = g.generateLoop(ctx)
	if err != nil {
		t.Fatalf("generateLoop: %+v", err)
	}
	if engine.Tip().Height != 0 {
		t.Fatalf("a syncing node generated a block at height %d", engine.Tip().Height)
	}
}
