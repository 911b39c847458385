package processor

import (
	"sync"
	"testing"
	"time"

	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/txpow/txpowtest"
	"github.com/selfnet/selfd/domain/unitstore"
	"github.com/selfnet/selfd/domain/validator"
	"github.com/selfnet/selfd/infrastructure/db/archive"
)

type request struct {
	peer    PeerID
	id      txpow.ID
	isBlock bool
}

type recordingRelay struct {
	lock      sync.Mutex
	announced []txpow.ID
	requested []request
}

func (r *recordingRelay) AnnounceUnit(id txpow.ID, isBlock bool, except PeerID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.announced = append(r.announced, id)
}

func (r *recordingRelay) RequestUnit(peer PeerID, id txpow.ID, isBlock bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.requested = append(r.requested, request{peer: peer, id: id, isBlock: isBlock})
}

func (r *recordingRelay) wasRequested(id txpow.ID, isBlock bool) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, req := range r.requested {
		if req.id == id && req.isBlock == isBlock {
			return true
		}
	}
	return false
}

type testEngine struct {
	*Engine
	relay   *recordingRelay
	archive *archive.Archive
	tips    []*Tip
}

func testParams(configure func(*params.Params)) *params.Params {
	p := params.Default(txpowtest.ChainID)
	p.CascadeStart = 1000
	p.CascadeFrequency = 10
	p.CascadeTail = 100
	if configure != nil {
		configure(p)
	}
	return p
}

// newEmptyEngine returns an engine without a root whose clock reads one
// hour after genesis.
func newEmptyEngine(t *testing.T, p *params.Params) *testEngine {
	db, err := archive.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %s", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := New(&Config{
		Params:    p,
		Validator: validator.New(p, validator.AcceptAllSignatures),
		Store:     unitstore.New(p.MaxPending),
		Mempool:   mempool.New(mempool.DefaultConfig(p)),
		Archive:   db,
	})
	engine.now = func() time.Time {
		return time.UnixMilli(txpowtest.GenesisTime).Add(time.Hour)
	}
	te := &testEngine{Engine: engine, relay: &recordingRelay{}, archive: db}
	engine.SetRelay(te.relay)
	engine.OnNewTip(func(tip *Tip) {
		te.tips = append(te.tips, tip)
	})
	return te
}

func newTestEngine(t *testing.T, p *params.Params) (*testEngine, *txpow.TxBlock) {
	te := newEmptyEngine(t, p)
	genesis := txpowtest.Genesis()
	err := te.InitGenesis(genesis)
	if err != nil {
		t.Fatalf("InitGenesis: %s", err)
	}
	return te, genesis
}

func acceptAll(t *testing.T, te *testEngine, blocks []*txpow.TxBlock) {
	for _, block := range blocks {
		result := te.AcceptTxBlock(block, "peer")
		if result.Outcome != Accepted {
			t.Fatalf("block %s at height %d: %s %v", block.ID().Short(), block.Height(), result.Outcome, result.Err)
		}
	}
}

func expectTip(t *testing.T, te *testEngine, expected *txpow.TxBlock) {
	tip := te.Tip()
	if tip == nil || tip.ID != expected.ID() {
		t.Fatalf("tip is %+v, want %s at height %d", tip, expected.ID().Short(), expected.Height())
	}
}
