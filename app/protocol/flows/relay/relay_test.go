package relay

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/app/protocol/flowcontext"
	peerpkg "github.com/selfnet/selfd/app/protocol/peer"
	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/txpow/txpowtest"
	"github.com/selfnet/selfd/domain/unitstore"
	"github.com/selfnet/selfd/domain/validator"
	"github.com/selfnet/selfd/infrastructure/config"
	"github.com/selfnet/selfd/infrastructure/db/archive"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
)

type fakeConnection struct{}

func (c *fakeConnection) String() string   { return "10.0.0.9:9001" }
func (c *fakeConnection) Address() string  { return "10.0.0.9:9001" }
func (c *fakeConnection) IsOutbound() bool { return true }
func (c *fakeConnection) Disconnect()      {}

func setup(t *testing.T, chain []*txpow.TxBlock) (*flowcontext.FlowContext, *processor.Engine, *peerpkg.Peer) {
	db, err := archive.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %+v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	p := params.Default(txpowtest.ChainID)
	cfg.Params = p
	engine := processor.New(&processor.Config{
		Params:    p,
		Validator: validator.New(p, validator.AcceptAllSignatures),
		Store:     unitstore.New(p.MaxPending),
		Mempool:   mempool.New(mempool.DefaultConfig(p)),
		Archive:   db,
	})
	err = engine.InitGenesis(txpowtest.Genesis())
	if err != nil {
		t.Fatalf("InitGenesis: %+v", err)
	}
	for _, block := range chain {
		result := engine.AcceptTxBlock(block, "builder")
		if result.Outcome != processor.Accepted {
			t.Fatalf("block at height %d: %s %v", block.Height(), result.Outcome, result.Err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)

	flowContext := flowcontext.New(cfg, engine, nil)
	t.Cleanup(flowContext.Close)
	peer := peerpkg.New(&fakeConnection{}, flowContext.PeerConfig())
	return flowContext, engine, peer
}

func TestAnnouncementsAreRequestedOnce(t *testing.T) {
	chain := txpowtest.Chain(txpowtest.Genesis().TxPoW, 2, "announce")
	flowContext, _, peer := setup(t, chain)

	unknownBlock := txpow.HashBytes([]byte("unknown block"))
	syncingTxn := txpow.HashBytes([]byte("txn during sync"))
	laterTxn := txpow.HashBytes([]byte("txn after sync"))

	incoming := router.NewRoute("incoming")
	outgoing := router.NewRoute("outgoing")
	go HandleRelayAnnouncements(flowContext, incoming, outgoing, peer)
	defer incoming.Close()

	enqueue := func(message appmessage.Message) {
		err := incoming.Enqueue(message)
		if err != nil {
			t.Fatalf("Enqueue: %+v", err)
		}
	}
	enqueue(appmessage.NewMsgBlockAnnounce(chain[0].ID()))
	enqueue(appmessage.NewMsgBlockAnnounce(unknownBlock))
	enqueue(appmessage.NewMsgBlockAnnounce(unknownBlock))

	request, err := outgoing.DequeueWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout: %+v", err)
	}
	if blockRequest, ok := request.(*appmessage.MsgBlockRequest); !ok || blockRequest.ID != unknownBlock {
		t.Fatalf("expected a request for the unknown block, got %v", request)
	}

	onEnd := flowContext.StartCatchingUp()
	enqueue(appmessage.NewMsgUnitAnnounce(syncingTxn))
	_, err = outgoing.DequeueWithTimeout(100 * time.Millisecond)
	if !errors.Is(err, router.ErrTimeout) {
		t.Fatalf("a transaction was requested while syncing: %v", err)
	}
	onEnd()

	enqueue(appmessage.NewMsgUnitAnnounce(laterTxn))
	request, err = outgoing.DequeueWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout: %+v", err)
	}
	if unitRequest, ok := request.(*appmessage.MsgUnitRequest); !ok || unitRequest.ID != laterTxn {
		t.Fatalf("expected a request for the transaction, got %v", request)
	}
}

func TestUnitRequestsAreAnswered(t *testing.T) {
	chain := txpowtest.Chain(txpowtest.Genesis().TxPoW, 2, "requests")
	flowContext, _, peer := setup(t, chain)

	incoming := router.NewRoute("incoming")
	outgoing := router.NewRoute("outgoing")
	go HandleUnitRequests(flowContext, incoming, outgoing, peer)
	defer incoming.Close()

	for _, message := range []appmessage.Message{
		appmessage.NewMsgUnitRequest(txpow.HashBytes([]byte("missing"))),
		appmessage.NewMsgBlockRequest(chain[1].ID()),
		appmessage.NewMsgUnitRequest(chain[0].ID()),
	} {
		err := incoming.Enqueue(message)
		if err != nil {
			t.Fatalf("Enqueue: %+v", err)
		}
	}

	response, err := outgoing.DequeueWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout: %+v", err)
	}
	if block, ok := response.(*appmessage.MsgBlock); !ok || block.Block.ID() != chain[1].ID() {
		t.Fatalf("expected the requested block, got %v", response)
	}
	response, err = outgoing.DequeueWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout: %+v", err)
	}
	if unit, ok := response.(*appmessage.MsgUnit); !ok || unit.Unit.ID() != chain[0].ID() {
		t.Fatalf("expected the requested unit, got %v", response)
	}
}

func TestReceivedBlocksReachTheEngine(t *testing.T) {
	chain := txpowtest.Chain(txpowtest.Genesis().TxPoW, 2, "units")
	flowContext, engine, peer := setup(t, chain[:1])

	incoming := router.NewRoute("incoming")
	done := make(chan error, 1)
	go func() {
		done <- HandleUnits(flowContext, incoming, peer)
	}()

	err := incoming.Enqueue(appmessage.NewMsgBlock(chain[1]))
	if err != nil {
		t.Fatalf("Enqueue: %+v", err)
	}
	incoming.Close()
	err = <-done
	if !errors.Is(err, router.ErrRouteClosed) {
		t.Fatalf("HandleUnits returned %v", err)
	}

	err = engine.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %+v", err)
	}
	if tip := engine.Tip(); tip.ID != chain[1].ID() {
		t.Fatalf("tip is at height %d, want the received block", tip.Height)
	}
}
