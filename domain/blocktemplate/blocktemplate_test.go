package blocktemplate

import (
	"context"
	"testing"
	"time"

	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/txpow/txpowtest"
	"github.com/selfnet/selfd/domain/unitstore"
	"github.com/selfnet/selfd/domain/validator"
	"github.com/selfnet/selfd/infrastructure/db/archive"
)

func TestBuildAndSubmit(t *testing.T) {
	p := params.Default(txpowtest.ChainID)
	db, err := archive.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %s", err)
	}
	defer db.Close()
	v := validator.New(p, validator.AcceptAllSignatures)
	pool := mempool.New(mempool.DefaultConfig(p))
	engine := processor.New(&processor.Config{
		Params:    p,
		Validator: v,
		Store:     unitstore.New(p.MaxPending),
		Mempool:   pool,
		Archive:   db,
	})
	genesis := txpowtest.Genesis()
	if err := engine.InitGenesis(genesis); err != nil {
		t.Fatalf("InitGenesis: %s", err)
	}

	cheap := txpowtest.Transaction(1, nil, 10)
	rich := txpowtest.Transaction(9, nil, 20)
	for _, txn := range []*txpow.TxPoW{cheap, rich} {
		if result := engine.AcceptUnit(txn, processor.LocalPeer); result.Outcome != processor.Accepted {
			t.Fatalf("txn: %s %v", result.Outcome, result.Err)
		}
	}

	builder := New(p, engine, pool, v)
	template, err := builder.Build(time.UnixMilli(txpowtest.GenesisTime - 5000))
	if err != nil {
		t.Fatalf("Build: %s", err)
	}
	header := template.Header
	if header.BlockNumber != 1 || header.ParentID != genesis.ID() {
		t.Fatalf("template at height %d on %s", header.BlockNumber, header.ParentID.Short())
	}
	if header.TimeMilli != txpowtest.GenesisTime+1 {
		t.Fatalf("template time %d must follow the tip", header.TimeMilli)
	}
	if len(template.Txns) != 2 || template.Txns[0].ID() != rich.ID() {
		t.Fatalf("template txns are not ordered by burn")
	}

	block, ok := template.Solve(0, 1<<16, txpow.Body{Witness: []byte("local")})
	if !ok {
		t.Fatalf("no nonce found")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	result, err := engine.SubmitLocalBlock(ctx, block)
	if err != nil {
		t.Fatalf("SubmitLocalBlock: %s", err)
	}
	if result.Outcome != processor.Accepted {
		t.Fatalf("local block: %s %v", result.Outcome, result.Err)
	}
	if engine.Tip().ID != block.ID() || pool.Len() != 0 {
		t.Fatalf("tip %s with %d pooled txns", engine.Tip().ID.Short(), pool.Len())
	}
}
