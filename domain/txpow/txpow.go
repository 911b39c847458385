package txpow

import (
	"bytes"
	"math/big"
)

// Output is a coin created by a transaction.
type Output struct {
	Address ID
	Amount  uint64
}

// Coin is an output bound to the ID it is spent by.
type Coin struct {
	ID      ID
	Address ID
	Amount  uint64
	// Created is the block number of the block that made the coin live.
	Created uint64
}

// Header carries the proof-of-work stamped fields of a unit. Blocks list the
// transaction units they include in Txns.
type Header struct {
	ChainID         uint32
	BlockNumber     uint64
	ParentID        ID
	TimeMilli       int64
	Nonce           uint64
	BlockDifficulty Target
	TxnDifficulty   Target
	ParentMMRRoot   ID
	Txns            []ID
}

// Body is the optional transaction carried by a unit.
type Body struct {
	Burn    uint64
	Inputs  []ID
	Outputs []Output
	Witness []byte
}

// TxPoW is a proof-of-work stamped unit. It is a block when its ID meets the
// block difficulty and a transaction when it carries a body. Units are never
// mutated once their ID has been taken.
type TxPoW struct {
	Header Header
	Body   Body

	id    ID
	hasID bool
}

// New builds a unit and caches its ID.
func New(header Header, body Body) *TxPoW {
	unit := &TxPoW{Header: header, Body: body}
	unit.id = unit.computeID()
	unit.hasID = true
	return unit
}

// ID returns the unit's content hash.
func (t *TxPoW) ID() ID {
	if t.hasID {
		return t.id
	}
	return t.computeID()
}

func (t *TxPoW) computeID() ID {
	var buffer bytes.Buffer
	_ = t.Serialize(&buffer)
	return HashBytes(buffer.Bytes())
}

// IsBlock returns whether the unit meets its block difficulty.
func (t *TxPoW) IsBlock() bool {
	return t.Header.BlockDifficulty.IsMetBy(t.ID())
}

// IsTransaction returns whether the unit carries a transaction body.
func (t *TxPoW) IsTransaction() bool {
	return len(t.Body.Inputs) > 0 || len(t.Body.Outputs) > 0
}

// StateSize returns how many bytes the unit's outputs add to the coin state
// once it is included.
func (t *TxPoW) StateSize() int {
	return len(t.Body.Outputs) * coinSize
}

// MeetsTxnDifficulty returns whether the unit meets its transaction difficulty.
func (t *TxPoW) MeetsTxnDifficulty() bool {
	return t.Header.TxnDifficulty.IsMetBy(t.ID())
}

// Weight is the block's contribution to cumulative work.
func (t *TxPoW) Weight() *big.Int {
	return t.Header.BlockDifficulty.Weight()
}

// Height is the block number.
func (t *TxPoW) Height() uint64 {
	return t.Header.BlockNumber
}

// ParentID is the ID of the parent block.
func (t *TxPoW) ParentID() ID {
	return t.Header.ParentID
}

// Size returns the encoded size in bytes.
func (t *TxPoW) Size() int {
	var counter byteCounter
	_ = t.Serialize(&counter)
	return int(counter)
}

// CoinID derives the ID of the output at index.
func (t *TxPoW) CoinID(index int) ID {
	unitID := t.ID()
	return HashBytes(unitID[:], []byte{byte(index >> 24), byte(index >> 16), byte(index >> 8), byte(index)})
}

// CreatedCoins returns the coins of the unit's outputs stamped with height.
func (t *TxPoW) CreatedCoins(height uint64) []Coin {
	coins := make([]Coin, len(t.Body.Outputs))
	for i, output := range t.Body.Outputs {
		coins[i] = Coin{ID: t.CoinID(i), Address: output.Address, Amount: output.Amount, Created: height}
	}
	return coins
}

type byteCounter int

func (c *byteCounter) Write(p []byte) (int, error) {
	*c += byteCounter(len(p))
	return len(p), nil
}
