package router

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/app/protocol/protocolerrors"
	"github.com/selfnet/selfd/domain/txpow"
)

func TestRouterRoutesByCommand(t *testing.T) {
	router := NewRouter()
	units, err := router.AddIncomingRoute("units", []appmessage.MessageCommand{appmessage.CmdUnitAnnounce, appmessage.CmdUnit})
	if err != nil {
		t.Fatalf("AddIncomingRoute: %+v", err)
	}
	_, err = router.AddIncomingRoute("again", []appmessage.MessageCommand{appmessage.CmdUnit})
	if err == nil {
		t.Fatalf("expected an error registering a command twice")
	}

	id := txpow.HashBytes([]byte("announce"))
	err = router.EnqueueIncomingMessage(appmessage.NewMsgUnitAnnounce(id))
	if err != nil {
		t.Fatalf("EnqueueIncomingMessage: %+v", err)
	}
	err = router.EnqueueIncomingMessage(appmessage.NewMsgSyncRequest(3))
	if err == nil {
		t.Fatalf("expected an error for a command without a route")
	}

	message, err := units.DequeueWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout: %+v", err)
	}
	if announce, ok := message.(*appmessage.MsgUnitAnnounce); !ok || announce.ID != id {
		t.Fatalf("unexpected message %v", message)
	}

	err = router.RemoveRoute([]appmessage.MessageCommand{appmessage.CmdUnit})
	if err != nil {
		t.Fatalf("RemoveRoute: %+v", err)
	}
	err = router.RemoveRoute([]appmessage.MessageCommand{appmessage.CmdUnit})
	if err == nil {
		t.Fatalf("expected an error removing a missing route")
	}
}

func TestRouteCapacity(t *testing.T) {
	route := newRouteWithCapacity("small", 2)
	for i := 0; i < 2; i++ {
		err := route.Enqueue(appmessage.NewMsgSyncRequest(uint64(i)))
		if err != nil {
			t.Fatalf("Enqueue %d: %+v", i, err)
		}
	}
	err := route.Enqueue(appmessage.NewMsgSyncRequest(2))
	if !errors.Is(err, ErrRouteCapacityReached) {
		t.Fatalf("expected ErrRouteCapacityReached, got %v", err)
	}
	if protocolerrors.ShouldBan(err) {
		t.Fatalf("a full route should not ban the peer")
	}
}

func TestRouteTimeoutAndClose(t *testing.T) {
	route := NewRoute("idle")
	_, err := route.DequeueWithTimeout(10 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	var protocolErr *protocolerrors.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("a timeout should be a protocol error")
	}

	route.Close()
	route.Close()
	_, err = route.Dequeue()
	if !errors.Is(err, ErrRouteClosed) {
		t.Fatalf("expected ErrRouteClosed from Dequeue, got %v", err)
	}
	err = route.Enqueue(appmessage.NewMsgSyncRequest(1))
	if !errors.Is(err, ErrRouteClosed) {
		t.Fatalf("expected ErrRouteClosed from Enqueue, got %v", err)
	}
}

func TestRouterCloseClosesAllRoutes(t *testing.T) {
	router := NewRouter()
	route, err := router.AddIncomingRouteWithCapacity("blocks", 5, []appmessage.MessageCommand{appmessage.CmdBlock})
	if err != nil {
		t.Fatalf("AddIncomingRouteWithCapacity: %+v", err)
	}
	router.Close()
	_, err = route.Dequeue()
	if !errors.Is(err, ErrRouteClosed) {
		t.Fatalf("incoming route still open: %v", err)
	}
	err = router.OutgoingRoute().Enqueue(appmessage.NewMsgSyncRequest(1))
	if !errors.Is(err, ErrRouteClosed) {
		t.Fatalf("outgoing route still open: %v", err)
	}
}
