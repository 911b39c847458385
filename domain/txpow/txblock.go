package txpow

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/util/binaryserializer"
)

// MaxSpentPerBlock bounds the spent coins carried by a TxBlock.
const MaxSpentPerBlock = MaxTxnsPerBlock * MaxInputs

// TxBlock is a block unit together with the transaction units it includes,
// in the order listed by its header, and the coins those transactions spend
// as resolved against the parent state.
type TxBlock struct {
	TxPoW *TxPoW
	Txns  []*TxPoW
	Spent []Coin
}

// NewTxBlock pairs a block with its resolved transactions.
func NewTxBlock(block *TxPoW, txns []*TxPoW) *TxBlock {
	return &TxBlock{TxPoW: block, Txns: txns}
}

// Transactions returns the block's own transaction, when it carries one,
// followed by the included transactions.
func (b *TxBlock) Transactions() []*TxPoW {
	if !b.TxPoW.IsTransaction() {
		return b.Txns
	}
	return append([]*TxPoW{b.TxPoW}, b.Txns...)
}

// Inputs returns every coin ID spent by the block's transactions.
func (b *TxBlock) Inputs() []ID {
	var inputs []ID
	for _, txn := range b.Transactions() {
		inputs = append(inputs, txn.Body.Inputs...)
	}
	return inputs
}

// Created returns every coin created by the block's transactions.
func (b *TxBlock) Created() []Coin {
	var created []Coin
	for _, txn := range b.Transactions() {
		created = append(created, txn.CreatedCoins(b.Height())...)
	}
	return created
}

// ID returns the block's ID.
func (b *TxBlock) ID() ID {
	return b.TxPoW.ID()
}

// Height returns the block number.
func (b *TxBlock) Height() uint64 {
	return b.TxPoW.Height()
}

// CheckResolved verifies that Txns matches the header's txn list.
func (b *TxBlock) CheckResolved() error {
	listed := b.TxPoW.Header.Txns
	if len(listed) != len(b.Txns) {
		return errors.Errorf("block %s lists %d txns but carries %d",
			b.ID().Short(), len(listed), len(b.Txns))
	}
	for i, txn := range b.Txns {
		if txn.ID() != listed[i] {
			return errors.Errorf("block %s txn %d is %s, expected %s",
				b.ID().Short(), i, txn.ID().Short(), listed[i].Short())
		}
	}
	return nil
}

// Size returns the encoded size in bytes.
func (b *TxBlock) Size() int {
	size := b.TxPoW.Size() + 8 + len(b.Spent)*coinSize
	for _, txn := range b.Txns {
		size += txn.Size()
	}
	return size
}

// WriteTxBlock appends the block encoding to writer.
func WriteTxBlock(writer *binaryserializer.Writer, b *TxBlock) {
	writeUnit(writer, b.TxPoW)
	writer.Uint32(uint32(len(b.Txns)))
	for _, txn := range b.Txns {
		writeUnit(writer, txn)
	}
	writer.Uint32(uint32(len(b.Spent)))
	for i := range b.Spent {
		WriteCoin(writer, b.Spent[i])
	}
}

const coinSize = 2*IDSize + 16

// WriteCoin appends a coin encoding to writer.
func WriteCoin(writer *binaryserializer.Writer, coin Coin) {
	writer.Fixed(coin.ID[:])
	writer.Fixed(coin.Address[:])
	writer.Uint64(coin.Amount)
	writer.Uint64(coin.Created)
}

// ReadCoin decodes a coin. Errors are left on the reader.
func ReadCoin(reader *binaryserializer.Reader) Coin {
	var coin Coin
	reader.Fixed(coin.ID[:])
	reader.Fixed(coin.Address[:])
	coin.Amount = reader.Uint64()
	coin.Created = reader.Uint64()
	return coin
}

// ReadTxBlock decodes a block encoding. Errors are left on the reader.
func ReadTxBlock(reader *binaryserializer.Reader) *TxBlock {
	block := ReadUnit(reader)
	count := reader.Count(MaxTxnsPerBlock)
	txns := make([]*TxPoW, 0, count)
	for i := 0; i < count && reader.Err() == nil; i++ {
		txns = append(txns, ReadUnit(reader))
	}
	spentCount := reader.Count(MaxSpentPerBlock)
	var spent []Coin
	for i := 0; i < spentCount && reader.Err() == nil; i++ {
		spent = append(spent, ReadCoin(reader))
	}
	if reader.Err() != nil {
		return nil
	}
	return &TxBlock{TxPoW: block, Txns: txns, Spent: spent}
}

// Serialize writes the block encoding.
func (b *TxBlock) Serialize(w io.Writer) error {
	writer := binaryserializer.NewWriter(w)
	WriteTxBlock(writer, b)
	return writer.Err()
}

// TxBlockFromBytes decodes a block encoding.
func TxBlockFromBytes(data []byte) (*TxBlock, error) {
	reader := binaryserializer.NewReader(bytes.NewReader(data))
	block := ReadTxBlock(reader)
	if reader.Err() != nil {
		return nil, reader.Err()
	}
	return block, nil
}
