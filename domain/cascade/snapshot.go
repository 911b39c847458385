package cascade

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/mmr"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/util/binaryserializer"
)

const (
	maxSnapshotEntries = 1 << 16
	maxSnapshotCoins   = 1 << 24
	maxWorkBytes       = 64
)

// Snapshot is a transferable picture of the cascade: the in-memory tail,
// the accumulator after the tip and the coins live after the tip.
type Snapshot struct {
	Tail     []*Entry
	Total    uint64
	TipState *mmr.Snapshot
	Live     map[txpow.ID]txpow.Coin
}

// Tip returns the newest entry of the snapshot, or nil.
func (s *Snapshot) Tip() *Entry {
	if len(s.Tail) == 0 {
		return nil
	}
	return s.Tail[len(s.Tail)-1]
}

// Validate checks that the tail is one contiguous chain.
func (s *Snapshot) Validate() error {
	for i := 1; i < len(s.Tail); i++ {
		previous, current := s.Tail[i-1], s.Tail[i]
		if current.Height() != previous.Height()+1 || current.Block.TxPoW.ParentID() != previous.ID() {
			return errors.Wrapf(ErrDiscontinuity, "snapshot entry %d at height %d does not follow height %d",
				i, current.Height(), previous.Height())
		}
	}
	if len(s.Tail) > 0 && s.TipState == nil {
		return errors.New("snapshot has entries but no tip state")
	}
	if uint64(len(s.Tail)) > s.Total {
		return errors.Errorf("snapshot tail of %d exceeds its total %d", len(s.Tail), s.Total)
	}
	return nil
}

// WriteSnapshot appends the snapshot encoding to writer.
func WriteSnapshot(writer *binaryserializer.Writer, s *Snapshot) {
	writer.Uint32(uint32(len(s.Tail)))
	for _, entry := range s.Tail {
		txpow.WriteTxBlock(writer, entry.Block)
		writer.VarBytes(entry.CumulativeWork.Bytes())
	}
	writer.Uint64(s.Total)
	writer.Bool(s.TipState != nil)
	if s.TipState != nil {
		mmr.WriteSnapshot(writer, s.TipState)
	}
	writer.Uint32(uint32(len(s.Live)))
	for _, coin := range sortedCoins(s.Live) {
		txpow.WriteCoin(writer, coin)
	}
}

// ReadSnapshot decodes a snapshot. Errors are left on the reader.
func ReadSnapshot(reader *binaryserializer.Reader) *Snapshot {
	snapshot := &Snapshot{Live: make(map[txpow.ID]txpow.Coin)}
	count := reader.Count(maxSnapshotEntries)
	for i := 0; i < count && reader.Err() == nil; i++ {
		block := txpow.ReadTxBlock(reader)
		work := reader.VarBytes(maxWorkBytes)
		if reader.Err() != nil {
			break
		}
		snapshot.Tail = append(snapshot.Tail, &Entry{Block: block, CumulativeWork: new(big.Int).SetBytes(work)})
	}
	snapshot.Total = reader.Uint64()
	if reader.Bool() {
		snapshot.TipState = mmr.ReadSnapshot(reader)
	}
	coinCount := reader.Count(maxSnapshotCoins)
	for i := 0; i < coinCount && reader.Err() == nil; i++ {
		coin := txpow.ReadCoin(reader)
		snapshot.Live[coin.ID] = coin
	}
	if reader.Err() != nil {
		return nil
	}
	return snapshot
}

// Bytes returns the snapshot encoding.
func (s *Snapshot) Bytes() []byte {
	var buffer bytes.Buffer
	writer := binaryserializer.NewWriter(&buffer)
	WriteSnapshot(writer, s)
	return buffer.Bytes()
}

// SnapshotFromBytes decodes a snapshot encoded by Bytes.
func SnapshotFromBytes(data []byte) (*Snapshot, error) {
	reader := binaryserializer.NewReader(bytes.NewReader(data))
	snapshot := ReadSnapshot(reader)
	if reader.Err() != nil {
		return nil, reader.Err()
	}
	return snapshot, nil
}

func sortedCoins(coins map[txpow.ID]txpow.Coin) []txpow.Coin {
	sorted := make([]txpow.Coin, 0, len(coins))
	for _, coin := range coins {
		sorted = append(sorted, coin)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.Less(sorted[j].ID)
	})
	return sorted
}
