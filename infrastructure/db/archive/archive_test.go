package archive

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/selfnet/selfd/domain/cascade"
	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/txpow/txpowtest"
)

func newTestArchive(t *testing.T) *Archive {
	archive, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %s", err)
	}
	t.Cleanup(func() { archive.Close() })
	return archive
}

func TestBlocksByIDAndHeight(t *testing.T) {
	archive := newTestArchive(t)
	genesis := txpowtest.Genesis()
	blocks := append([]*txpow.TxBlock{genesis}, txpowtest.Chain(genesis.TxPoW, 4, "arch")...)

	lowest, err := archive.LoadLowest()
	if err != nil || lowest != nil {
		t.Fatalf("empty archive returned lowest %v, err %v", lowest, err)
	}
	// Saved out of order on purpose; the height index sorts them.
	for _, i := range []int{2, 0, 1, 4} {
		if err := archive.SaveBlock(blocks[i]); err != nil {
			t.Fatalf("SaveBlock: %s", err)
		}
	}

	loaded, err := archive.LoadBlock(blocks[4].ID())
	if err != nil || loaded == nil || loaded.ID() != blocks[4].ID() {
		t.Fatalf("LoadBlock returned %v, err %v", loaded, err)
	}
	missing, err := archive.LoadBlock(blocks[3].ID())
	if err != nil || missing != nil {
		t.Fatalf("unsaved block returned %v, err %v", missing, err)
	}

	tests := []struct {
		name     string
		from, to uint64
		expected []int
	}{
		{name: "contiguous prefix", from: 0, to: 2, expected: []int{0, 1, 2}},
		{name: "stops at gap", from: 1, to: 4, expected: []int{1, 2}},
		{name: "starts at gap", from: 3, to: 4, expected: nil},
		{name: "inverted", from: 2, to: 1, expected: nil},
	}
	for _, test := range tests {
		got, err := archive.LoadRange(test.from, test.to)
		if err != nil {
			t.Fatalf("%s: LoadRange: %s", test.name, err)
		}
		if len(got) != len(test.expected) {
			t.Fatalf("%s: got %d blocks, want %d", test.name, len(got), len(test.expected))
		}
		for i, index := range test.expected {
			if got[i].ID() != blocks[index].ID() {
				t.Errorf("%s: block %d is %s, want %s", test.name, i, got[i].ID().Short(), blocks[index].ID().Short())
			}
		}
	}

	lowest, err = archive.LoadLowest()
	if err != nil || lowest.ID() != genesis.ID() {
		t.Fatalf("LoadLowest returned %v, err %v", lowest, err)
	}
}

func TestCascadeSnapshotPersists(t *testing.T) {
	dir, err := ioutil.TempDir("", "archive")
	if err != nil {
		t.Fatalf("TempDir: %s", err)
	}
	defer os.RemoveAll(dir)

	archive, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	snapshot, err := archive.LoadCascade()
	if err != nil || snapshot != nil {
		t.Fatalf("fresh archive returned snapshot %v, err %v", snapshot, err)
	}

	genesis := txpowtest.Genesis()
	saved := &cascade.Snapshot{
		Tail:     []*cascade.Entry{{Block: genesis, CumulativeWork: genesis.TxPoW.Weight()}},
		Total:    1,
		TipState: mmr.Empty().Apply(genesis.Spent, genesis.Created()),
		Live:     map[txpow.ID]txpow.Coin{},
	}
	if err := archive.SaveCascade(saved); err != nil {
		t.Fatalf("SaveCascade: %s", err)
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("second Close: %s", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopening: %s", err)
	}
	defer reopened.Close()
	loaded, err := reopened.LoadCascade()
	if err != nil {
		t.Fatalf("LoadCascade: %s", err)
	}
	if loaded.Total != 1 || loaded.Tip().ID() != genesis.ID() {
		t.Fatalf("loaded snapshot has total %d and tip %s", loaded.Total, loaded.Tip().ID().Short())
	}
	if loaded.TipState.Root() != saved.TipState.Root() {
		t.Fatalf("tip state root changed across reopen")
	}
}
