package txpow

import (
	"bytes"
	"io"

	"github.com/selfnet/selfd/util/binaryserializer"
)

// Encoding bounds.
const (
	MaxTxnsPerBlock = 4096
	MaxInputs       = 256
	MaxOutputs      = 256
	MaxWitnessSize  = 64 * 1024
)

// Serialize writes the canonical encoding of the unit.
func (t *TxPoW) Serialize(w io.Writer) error {
	writer := binaryserializer.NewWriter(w)
	writeUnit(writer, t)
	return writer.Err()
}

// Bytes returns the canonical encoding of the unit.
func (t *TxPoW) Bytes() []byte {
	var buffer bytes.Buffer
	_ = t.Serialize(&buffer)
	return buffer.Bytes()
}

// Deserialize reads a unit and caches its ID.
func Deserialize(r io.Reader) (*TxPoW, error) {
	reader := binaryserializer.NewReader(r)
	unit := ReadUnit(reader)
	if reader.Err() != nil {
		return nil, reader.Err()
	}
	return unit, nil
}

// FromBytes decodes a unit encoded by Bytes.
func FromBytes(data []byte) (*TxPoW, error) {
	return Deserialize(bytes.NewReader(data))
}

// WriteUnit appends the unit encoding to writer.
func WriteUnit(writer *binaryserializer.Writer, t *TxPoW) {
	writeUnit(writer, t)
}

func writeUnit(writer *binaryserializer.Writer, t *TxPoW) {
	header := &t.Header
	writer.Uint32(header.ChainID)
	writer.Uint64(header.BlockNumber)
	writer.Fixed(header.ParentID[:])
	writer.Int64(header.TimeMilli)
	writer.Uint64(header.Nonce)
	writer.Fixed(header.BlockDifficulty[:])
	writer.Fixed(header.TxnDifficulty[:])
	writer.Fixed(header.ParentMMRRoot[:])
	writer.Uint32(uint32(len(header.Txns)))
	for i := range header.Txns {
		writer.Fixed(header.Txns[i][:])
	}

	body := &t.Body
	writer.Uint64(body.Burn)
	writer.Uint32(uint32(len(body.Inputs)))
	for i := range body.Inputs {
		writer.Fixed(body.Inputs[i][:])
	}
	writer.Uint32(uint32(len(body.Outputs)))
	for i := range body.Outputs {
		writer.Fixed(body.Outputs[i].Address[:])
		writer.Uint64(body.Outputs[i].Amount)
	}
	writer.VarBytes(body.Witness)
}

// ReadUnit decodes a unit from reader. Errors are left on the reader.
func ReadUnit(reader *binaryserializer.Reader) *TxPoW {
	var header Header
	header.ChainID = reader.Uint32()
	header.BlockNumber = reader.Uint64()
	reader.Fixed(header.ParentID[:])
	header.TimeMilli = reader.Int64()
	header.Nonce = reader.Uint64()
	reader.Fixed(header.BlockDifficulty[:])
	reader.Fixed(header.TxnDifficulty[:])
	reader.Fixed(header.ParentMMRRoot[:])
	txnCount := reader.Count(MaxTxnsPerBlock)
	if txnCount > 0 {
		header.Txns = make([]ID, txnCount)
		for i := range header.Txns {
			reader.Fixed(header.Txns[i][:])
		}
	}

	var body Body
	body.Burn = reader.Uint64()
	inputCount := reader.Count(MaxInputs)
	if inputCount > 0 {
		body.Inputs = make([]ID, inputCount)
		for i := range body.Inputs {
			reader.Fixed(body.Inputs[i][:])
		}
	}
	outputCount := reader.Count(MaxOutputs)
	if outputCount > 0 {
		body.Outputs = make([]Output, outputCount)
		for i := range body.Outputs {
			reader.Fixed(body.Outputs[i].Address[:])
			body.Outputs[i].Amount = reader.Uint64()
		}
	}
	witness := reader.VarBytes(MaxWitnessSize)
	if len(witness) > 0 {
		body.Witness = witness
	}
	if reader.Err() != nil {
		return nil
	}
	return New(header, body)
}
