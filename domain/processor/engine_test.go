package processor

import (
	"context"
	"testing"
	"time"

	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/ruleerrors"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/txpow/txpowtest"
)

func TestInOrderArrival(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))
	blocks := txpowtest.Chain(genesis.TxPoW, 3, "order")
	acceptAll(t, te, blocks)

	expectTip(t, te, blocks[2])
	if len(te.tips) != 4 {
		t.Fatalf("got %d tip notifications, want 4", len(te.tips))
	}
	if len(te.relay.announced) != 3 {
		t.Fatalf("announced %d blocks, want 3", len(te.relay.announced))
	}
	if result := te.AcceptUnit(blocks[1].TxPoW, "peer"); result.Outcome != Duplicate {
		t.Fatalf("resubmitted block: %s", result.Outcome)
	}
}

func TestOutOfOrderArrival(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))
	blocks := txpowtest.Chain(genesis.TxPoW, 3, "ooo")
	acceptAll(t, te, blocks[:1])

	result := te.AcceptUnit(blocks[2].TxPoW, "peer")
	if result.Outcome != Deferred {
		t.Fatalf("block 3 before block 2: %s", result.Outcome)
	}
	if !te.relay.wasRequested(blocks[1].ID(), true) {
		t.Fatalf("missing parent was not requested")
	}
	expectTip(t, te, blocks[0])

	result = te.AcceptUnit(blocks[1].TxPoW, "peer")
	if result.Outcome != Accepted {
		t.Fatalf("block 2: %s %v", result.Outcome, result.Err)
	}
	expectTip(t, te, blocks[2])
	if te.store.PendingCount() != 0 {
		t.Fatalf("%d units still pending", te.store.PendingCount())
	}
}

func TestStoredParentIsPushed(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))
	blocks := txpowtest.Chain(genesis.TxPoW, 2, "push")
	te.store.Add(blocks[0].TxPoW, time.Now())

	result := te.AcceptUnit(blocks[1].TxPoW, "peer")
	if result.Outcome != Accepted {
		t.Fatalf("child of a stored parent: %s %v", result.Outcome, result.Err)
	}
	expectTip(t, te, blocks[1])
	if te.relay.wasRequested(blocks[0].ID(), true) {
		t.Fatalf("a stored parent must not be requested")
	}
}

func TestBlockWaitsForTxns(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))
	mint := txpowtest.Transaction(2, nil, 50)
	block := txpowtest.MineBlock(genesis.TxPoW, txpowtest.Options{Salt: "txns"}, mint)

	result := te.AcceptUnit(block.TxPoW, "peer")
	if result.Outcome != Deferred {
		t.Fatalf("block without its txn: %s", result.Outcome)
	}
	if !te.relay.wasRequested(mint.ID(), false) {
		t.Fatalf("missing txn was not requested")
	}

	result = te.AcceptUnit(mint, "peer")
	if result.Outcome != Accepted {
		t.Fatalf("txn: %s %v", result.Outcome, result.Err)
	}
	expectTip(t, te, block)
	if te.mempool.Has(mint.ID()) {
		t.Fatalf("an included txn must leave the mempool")
	}

	// The next block commits to the state holding the minted coin.
	root := mmr.Empty().Apply(nil, block.Created()).Root()
	next := txpowtest.MineBlock(block.TxPoW, txpowtest.Options{Salt: "next", MMRRoot: root})
	acceptAll(t, te, []*txpow.TxBlock{next})
	if te.Tip().MMRRoot != root {
		t.Fatalf("tip MMR root %s, want %s", te.Tip().MMRRoot.Short(), root.Short())
	}

	wrong := txpowtest.MineBlock(block.TxPoW, txpowtest.Options{Salt: "wrong-root"})
	result = te.AcceptUnit(wrong.TxPoW, "peer")
	if code, _ := ruleerrors.Code(result.Err); result.Outcome != Rejected || code != ruleerrors.RejectBadMMRRoot {
		t.Fatalf("block with a stale MMR root: %s %v", result.Outcome, result.Err)
	}
}

func TestSpendAndDoubleSpend(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))
	mint := txpowtest.Transaction(1, nil, 100)
	first := txpowtest.MineBlock(genesis.TxPoW, txpowtest.Options{Salt: "mint"}, mint)
	acceptAll(t, te, []*txpow.TxBlock{first})

	coin := first.Created()[0]
	spend := txpowtest.Transaction(5, []txpow.ID{coin.ID}, 90)
	afterMint := mmr.Empty().Apply(nil, first.Created())
	second := txpowtest.MineBlock(first.TxPoW, txpowtest.Options{Salt: "spend", MMRRoot: afterMint.Root()}, spend)
	acceptAll(t, te, []*txpow.TxBlock{second})

	afterSpend := afterMint.Apply([]txpow.Coin{coin}, second.Created())
	doubleSpend := txpowtest.Transaction(6, []txpow.ID{coin.ID}, 80)
	third := txpowtest.MineBlock(second.TxPoW, txpowtest.Options{Salt: "again", MMRRoot: afterSpend.Root()}, doubleSpend)
	result := te.AcceptTxBlock(third, "peer")
	if result.Outcome != Rejected {
		t.Fatalf("double spend: %s %v", result.Outcome, result.Err)
	}
	expectTip(t, te, second)
}

func TestHeavierForkReorganizes(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))
	mainChain := txpowtest.Chain(genesis.TxPoW, 2, "main")
	acceptAll(t, te, mainChain)

	txn := txpowtest.Transaction(3, nil, 7)
	withTxn := txpowtest.MineBlock(mainChain[1].TxPoW, txpowtest.Options{Salt: "txn"}, txn)
	acceptAll(t, te, []*txpow.TxBlock{withTxn})

	heavy := txpowtest.MineBlock(genesis.TxPoW, txpowtest.Options{Weight: 8, Salt: "heavy"})
	acceptAll(t, te, []*txpow.TxBlock{heavy})
	expectTip(t, te, heavy)

	if !te.mempool.Has(txn.ID()) {
		t.Fatalf("txn of a disconnected block must return to the mempool")
	}
	record, _ := te.store.Record(withTxn.ID())
	if record.OnChain {
		t.Fatalf("disconnected block still marked on chain")
	}
}

func TestBelowRootAndInvalidUnits(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))

	if result := te.AcceptUnit(genesis.TxPoW, "peer"); result.Outcome != Duplicate {
		t.Fatalf("genesis again: %s", result.Outcome)
	}

	wrongChain := txpow.New(txpow.Header{
		ChainID:       99,
		TimeMilli:     txpowtest.GenesisTime,
		TxnDifficulty: txpow.MaxTarget,
	}, txpow.Body{Outputs: []txpow.Output{{Amount: 1}}})
	if result := te.AcceptUnit(wrongChain, "peer"); result.Outcome != Fatal {
		t.Fatalf("wrong chain: %s %v", result.Outcome, result.Err)
	}

	empty := txpow.New(txpow.Header{ChainID: txpowtest.ChainID, TimeMilli: txpowtest.GenesisTime}, txpow.Body{})
	if result := te.AcceptUnit(empty, "peer"); result.Outcome != Rejected {
		t.Fatalf("neither block nor txn: %s %v", result.Outcome, result.Err)
	}
}

func TestMailboxReportsPeerFailures(t *testing.T) {
	te, genesis := newTestEngine(t, testParams(nil))
	failures := make(chan PeerID, 1)
	te.OnPeerFailure(func(peer PeerID, err error) {
		failures <- peer
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	te.Start(ctx)

	blocks := txpowtest.Chain(genesis.TxPoW, 2, "mailbox")
	for _, block := range blocks {
		err := te.Submit(ctx, &NewUnit{Unit: block.TxPoW, From: "a"})
		if err != nil {
			t.Fatalf("Submit: %s", err)
		}
	}
	if err := te.Flush(ctx); err != nil {
		t.Fatalf("Flush: %s", err)
	}
	expectTip(t, te, blocks[1])

	wrongChain := txpow.New(txpow.Header{
		ChainID:       99,
		TimeMilli:     txpowtest.GenesisTime,
		TxnDifficulty: txpow.MaxTarget,
	}, txpow.Body{Outputs: []txpow.Output{{Amount: 1}}})
	result, err := te.Process(ctx, &NewUnit{Unit: wrongChain, From: "b"})
	if err != nil {
		t.Fatalf("Process: %s", err)
	}
	if result.Outcome != Fatal {
		t.Fatalf("wrong chain through the mailbox: %s", result.Outcome)
	}
	select {
	case peer := <-failures:
		if peer != "b" {
			t.Fatalf("failure reported for %q, want b", peer)
		}
	case <-time.After(time.Second):
		t.Fatalf("peer failure was not reported")
	}
}

func TestUnitsWaitForRoot(t *testing.T) {
	te := newEmptyEngine(t, testParams(nil))
	genesis := txpowtest.Genesis()
	blocks := txpowtest.Chain(genesis.TxPoW, 1, "early")
	result := te.AcceptUnit(blocks[0].TxPoW, "peer")
	if result.Outcome != Deferred || result.Err != ErrNoRoot {
		t.Fatalf("block before any root: %s %v", result.Outcome, result.Err)
	}
	if te.Tip() != nil {
		t.Fatalf("an empty engine must not publish a tip")
	}

	batch := &Batch{Blocks: []*txpow.TxBlock{genesis}}
	if result := te.AcceptSyncBatch(batch, "peer"); result.Outcome != Accepted {
		t.Fatalf("genesis batch: %s %v", result.Outcome, result.Err)
	}
	expectTip(t, te, blocks[0])
}
