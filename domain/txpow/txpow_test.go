package txpow

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/util/binaryserializer"
)

func testTransaction(burn uint64) *TxPoW {
	return New(Header{ChainID: 1, TimeMilli: 1000, TxnDifficulty: MaxTarget},
		Body{
			Burn:    burn,
			Inputs:  []ID{HashBytes([]byte("input"))},
			Outputs: []Output{{Address: HashBytes([]byte("addr")), Amount: 5}},
			Witness: []byte("sig"),
		})
}

func TestDecodedUnitKeepsID(t *testing.T) {
	txn := testTransaction(3)
	block := New(Header{
		ChainID:         1,
		BlockNumber:     7,
		ParentID:        HashBytes([]byte("parent")),
		TimeMilli:       2000,
		BlockDifficulty: MaxTarget,
		Txns:            []ID{txn.ID()},
	}, Body{})

	decoded, err := FromBytes(block.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %+v", err)
	}
	if decoded.ID() != block.ID() {
		t.Fatalf("decoded ID %s differs from %s:\n%s", decoded.ID(), block.ID(), spew.Sdump(decoded))
	}
	if !decoded.IsBlock() || decoded.IsTransaction() {
		t.Fatalf("expected a pure block")
	}
	if block.Size() != len(block.Bytes()) {
		t.Fatalf("Size %d, encoded %d", block.Size(), len(block.Bytes()))
	}
}

func TestUnitKind(t *testing.T) {
	txn := testTransaction(1)
	if txn.IsBlock() {
		t.Fatalf("a zero block difficulty can not be met")
	}
	if !txn.IsTransaction() || !txn.MeetsTxnDifficulty() {
		t.Fatalf("expected a transaction meeting its difficulty")
	}
	coins := txn.CreatedCoins(9)
	if len(coins) != 1 || coins[0].ID != txn.CoinID(0) || coins[0].Created != 9 {
		t.Fatalf("unexpected coins %s", spew.Sdump(coins))
	}
	if txn.CoinID(0) == txn.CoinID(1) {
		t.Fatalf("coin IDs must differ per index")
	}
}

func TestTargetWeight(t *testing.T) {
	tests := []struct {
		weight uint64
	}{{1}, {2}, {16}, {1000}}
	for _, test := range tests {
		target := TargetForWeight(test.weight)
		got := target.Weight()
		if got.Cmp(new(big.Int).SetUint64(test.weight)) != 0 {
			t.Errorf("weight %d: got %s", test.weight, got)
		}
	}
	if !TargetForWeight(4).Harder(TargetForWeight(2)) {
		t.Fatalf("heavier targets must be harder")
	}
}

func TestTxBlockResolution(t *testing.T) {
	txn := testTransaction(2)
	other := testTransaction(4)
	block := New(Header{BlockNumber: 1, BlockDifficulty: MaxTarget, Txns: []ID{txn.ID()}}, Body{})

	if err := NewTxBlock(block, []*TxPoW{txn}).CheckResolved(); err != nil {
		t.Fatalf("CheckResolved: %s", err)
	}
	if err := NewTxBlock(block, []*TxPoW{other}).CheckResolved(); err == nil {
		t.Fatalf("expected a mismatch error")
	}
	if err := NewTxBlock(block, nil).CheckResolved(); err == nil {
		t.Fatalf("expected a count error")
	}

	var buffer bytes.Buffer
	if err := NewTxBlock(block, []*TxPoW{txn}).Serialize(&buffer); err != nil {
		t.Fatalf("Serialize: %s", err)
	}
	decoded, err := TxBlockFromBytes(buffer.Bytes())
	if err != nil {
		t.Fatalf("TxBlockFromBytes: %+v", err)
	}
	if decoded.ID() != block.ID() || len(decoded.Txns) != 1 || decoded.Txns[0].ID() != txn.ID() {
		t.Fatalf("unexpected decoded block %s", spew.Sdump(decoded))
	}
}

func TestDecodeRejectsOversizedLists(t *testing.T) {
	var buffer bytes.Buffer
	writer := binaryserializer.NewWriter(&buffer)
	writer.Uint32(1)
	writer.Uint64(1)
	writer.Fixed(make([]byte, IDSize))
	writer.Int64(0)
	writer.Uint64(0)
	writer.Fixed(make([]byte, 3*IDSize))
	writer.Uint32(MaxTxnsPerBlock + 1)

	_, err := FromBytes(buffer.Bytes())
	if !errors.Is(err, binaryserializer.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
