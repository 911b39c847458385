package mmr

import (
	"bytes"
	"testing"

	"github.com/selfnet/selfd/domain/txpow"
)

func coin(seed string, amount uint64) txpow.Coin {
	return txpow.Coin{ID: txpow.HashBytes([]byte(seed)), Address: txpow.HashBytes([]byte("a" + seed)), Amount: amount, Created: 1}
}

func TestApplyLeavesParentUntouched(t *testing.T) {
	empty := Empty()
	emptyRoot := empty.Root()

	first := empty.Apply(nil, []txpow.Coin{coin("x", 1), coin("y", 2), coin("z", 3)})
	if empty.Root() != emptyRoot || empty.LeafCount() != 0 {
		t.Fatalf("Apply mutated its receiver")
	}
	if first.LeafCount() != 3 || first.PeakCount() != 2 {
		t.Fatalf("3 leaves should form 2 peaks, got %d leaves, %d peaks", first.LeafCount(), first.PeakCount())
	}

	second := first.Apply([]txpow.Coin{coin("x", 1)}, nil)
	if second.LeafCount() != 4 || second.PeakCount() != 1 {
		t.Fatalf("4 leaves should form 1 peak, got %d leaves, %d peaks", second.LeafCount(), second.PeakCount())
	}
	if second.Root() == first.Root() {
		t.Fatalf("spending must change the root")
	}
}

func TestSnapshotDeterminedByInputs(t *testing.T) {
	created := []txpow.Coin{coin("a", 10), coin("b", 20)}
	left := Empty().Apply(nil, created)
	right := Empty().Apply(nil, created)
	if left.Root() != right.Root() {
		t.Fatalf("equal inputs produced different roots")
	}

	// The live set commitment is order independent, the event history is not.
	swapped := Empty().Apply(nil, []txpow.Coin{created[1], created[0]})
	if swapped.Aggregate() != left.Aggregate() {
		t.Fatalf("aggregate should not depend on insertion order")
	}
	if swapped.Root() == left.Root() {
		t.Fatalf("root should commit to event order")
	}

	spentBack := left.Apply([]txpow.Coin{created[0], created[1]}, nil)
	if spentBack.Aggregate() != Empty().Aggregate() {
		t.Fatalf("spending every coin should restore the empty aggregate")
	}
}

func TestSerializedSnapshotKeepsRoot(t *testing.T) {
	snapshot := Empty().Apply(nil, []txpow.Coin{coin("q", 4), coin("r", 5), coin("s", 6)})
	var buffer bytes.Buffer
	if err := snapshot.Serialize(&buffer); err != nil {
		t.Fatalf("Serialize: %s", err)
	}
	decoded, err := FromBytes(buffer.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %+v", err)
	}
	if decoded.Root() != snapshot.Root() {
		t.Fatalf("decoded root %s, want %s", decoded.Root(), snapshot.Root())
	}
	next := decoded.Apply(nil, []txpow.Coin{coin("t", 7)})
	if next.Root() != snapshot.Apply(nil, []txpow.Coin{coin("t", 7)}).Root() {
		t.Fatalf("decoded snapshot diverged after Apply")
	}
}
