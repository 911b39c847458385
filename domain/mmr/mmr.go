// Package mmr implements the chain-state accumulator: an append-only Merkle
// Mountain Range over coin events combined with a muhash aggregate of the
// live coin set.
package mmr

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/kaspanet/go-muhash"
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/util/binaryserializer"
)

const (
	leafPrefix   = 0x00
	nodePrefix   = 0x01
	createdEvent = 0x02
	spentEvent   = 0x03

	maxPeaks = 64
)

type peak struct {
	height uint8
	hash   txpow.ID
}

// Snapshot is an immutable accumulator state. Apply returns a new snapshot
// and leaves the receiver untouched.
type Snapshot struct {
	leafCount uint64
	peaks     []peak
	aggregate *muhash.MuHash
	root      txpow.ID
}

// Empty returns the accumulator of genesis.
func Empty() *Snapshot {
	snapshot := &Snapshot{aggregate: muhash.NewMuHash()}
	snapshot.root = snapshot.computeRoot()
	return snapshot
}

// Apply spends and creates coins on top of s. Every event becomes a leaf;
// the aggregate tracks only the live set.
func (s *Snapshot) Apply(spent []txpow.Coin, created []txpow.Coin) *Snapshot {
	next := &Snapshot{
		leafCount: s.leafCount,
		peaks:     append(make([]peak, 0, len(s.peaks)+1), s.peaks...),
		aggregate: s.aggregate.Clone(),
	}
	for _, coin := range spent {
		encoded := encodeCoin(coin)
		next.aggregate.Remove(encoded)
		next.appendLeaf(spentEvent, encoded)
	}
	for _, coin := range created {
		encoded := encodeCoin(coin)
		next.aggregate.Add(encoded)
		next.appendLeaf(createdEvent, encoded)
	}
	next.root = next.computeRoot()
	return next
}

func (s *Snapshot) appendLeaf(event byte, data []byte) {
	s.peaks = append(s.peaks, peak{height: 0, hash: txpow.HashBytes([]byte{leafPrefix, event}, data)})
	s.leafCount++
	for len(s.peaks) >= 2 {
		last := len(s.peaks) - 1
		if s.peaks[last].height != s.peaks[last-1].height {
			break
		}
		left, right := s.peaks[last-1], s.peaks[last]
		s.peaks = s.peaks[:last-1]
		s.peaks = append(s.peaks, peak{
			height: left.height + 1,
			hash:   txpow.HashBytes([]byte{nodePrefix}, left.hash[:], right.hash[:]),
		})
	}
}

func (s *Snapshot) computeRoot() txpow.ID {
	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], s.leafCount)
	parts := [][]byte{count[:]}
	for i := range s.peaks {
		parts = append(parts, s.peaks[i].hash[:])
	}
	aggregate := s.Aggregate()
	parts = append(parts, aggregate[:])
	return txpow.HashBytes(parts...)
}

// Root commits to the event history and the live set.
func (s *Snapshot) Root() txpow.ID {
	return s.root
}

// Aggregate returns the muhash of the live coin set.
func (s *Snapshot) Aggregate() txpow.ID {
	var id txpow.ID
	finalized := s.aggregate.Finalize()
	copy(id[:], finalized[:])
	return id
}

// LeafCount returns the number of coin events accumulated.
func (s *Snapshot) LeafCount() uint64 {
	return s.leafCount
}

// PeakCount returns the number of mountains.
func (s *Snapshot) PeakCount() int {
	return len(s.peaks)
}

func encodeCoin(coin txpow.Coin) []byte {
	encoded := make([]byte, 0, 2*txpow.IDSize+16)
	encoded = append(encoded, coin.ID[:]...)
	encoded = append(encoded, coin.Address[:]...)
	encoded = binary.LittleEndian.AppendUint64(encoded, coin.Amount)
	encoded = binary.LittleEndian.AppendUint64(encoded, coin.Created)
	return encoded
}

// Serialize writes the snapshot.
func (s *Snapshot) Serialize(w io.Writer) error {
	writer := binaryserializer.NewWriter(w)
	WriteSnapshot(writer, s)
	return writer.Err()
}

// WriteSnapshot appends the snapshot encoding to writer.
func WriteSnapshot(writer *binaryserializer.Writer, s *Snapshot) {
	writer.Uint64(s.leafCount)
	writer.Uint8(uint8(len(s.peaks)))
	for i := range s.peaks {
		writer.Uint8(s.peaks[i].height)
		writer.Fixed(s.peaks[i].hash[:])
	}
	serialized := s.aggregate.Serialize()
	writer.Fixed(serialized[:])
}

// ReadSnapshot decodes a snapshot. Errors are left on the reader.
func ReadSnapshot(reader *binaryserializer.Reader) *Snapshot {
	snapshot := &Snapshot{leafCount: reader.Uint64()}
	peakCount := int(reader.Uint8())
	if peakCount > maxPeaks {
		reader.Fail(errors.Errorf("snapshot has %d peaks", peakCount))
		return nil
	}
	snapshot.peaks = make([]peak, peakCount)
	for i := range snapshot.peaks {
		snapshot.peaks[i].height = reader.Uint8()
		reader.Fixed(snapshot.peaks[i].hash[:])
	}
	var serialized muhash.SerializedMuHash
	reader.Fixed(serialized[:])
	if reader.Err() != nil {
		return nil
	}
	aggregate, err := muhash.DeserializeMuHash(&serialized)
	if err != nil {
		reader.Fail(errors.Wrap(err, "invalid snapshot aggregate"))
		return nil
	}
	snapshot.aggregate = aggregate
	snapshot.root = snapshot.computeRoot()
	return snapshot
}

// FromBytes decodes a snapshot encoded by Serialize.
func FromBytes(data []byte) (*Snapshot, error) {
	reader := binaryserializer.NewReader(bytes.NewReader(data))
	snapshot := ReadSnapshot(reader)
	if reader.Err() != nil {
		return nil, reader.Err()
	}
	return snapshot, nil
}
