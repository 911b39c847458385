// Package archive persists finalized blocks and the cascade snapshot in
// leveldb.
package archive

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/cascade"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	blockPrefix  = []byte("b/")
	heightPrefix = []byte("h/")
	cascadeKey   = []byte("cascade")
)

var defaultOptions = opt.Options{
	Compression:            opt.NoCompression,
	BlockCacheCapacity:     32 * opt.MiB,
	WriteBuffer:            16 * opt.MiB,
	DisableSeeksCompaction: true,
}

// Archive is a leveldb backed cascade.Archive.
type Archive struct {
	ldb *leveldb.DB

	closeOnce sync.Once
}

var _ cascade.Archive = (*Archive)(nil)

// Open opens the archive at path, creating it if needed and recovering it if
// it is corrupted.
func Open(path string) (*Archive, error) {
	ldb, err := leveldb.OpenFile(path, &defaultOptions)
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("Archive corruption detected for path %s: %s", path, err)
		ldb, err = leveldb.RecoverFile(path, &defaultOptions)
		if err != nil {
			return nil, errors.Wrapf(err, "recovering archive at %s", path)
		}
		log.Warnf("Archive recovered from corruption for path %s", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening archive at %s", path)
	}
	return &Archive{ldb: ldb}, nil
}

// NewInMemory returns an archive that lives only in memory.
func NewInMemory() (*Archive, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Archive{ldb: ldb}, nil
}

// Close closes the archive. Closing twice is a no-op.
func (a *Archive) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.ldb.Close()
	})
	return err
}

func blockKey(id txpow.ID) []byte {
	return append(append([]byte(nil), blockPrefix...), id[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(heightPrefix)+8)
	copy(key, heightPrefix)
	binary.BigEndian.PutUint64(key[len(heightPrefix):], height)
	return key
}

// SaveBlock stores block and indexes it by height. A later block at the same
// height replaces the index entry.
func (a *Archive) SaveBlock(block *txpow.TxBlock) error {
	var buffer bytes.Buffer
	err := block.Serialize(&buffer)
	if err != nil {
		return err
	}
	id := block.ID()
	batch := new(leveldb.Batch)
	batch.Put(blockKey(id), buffer.Bytes())
	batch.Put(heightKey(block.Height()), id[:])
	return errors.WithStack(a.ldb.Write(batch, nil))
}

func (a *Archive) get(key []byte) ([]byte, error) {
	data, err := a.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// LoadBlock returns the block with id, or nil.
func (a *Archive) LoadBlock(id txpow.ID) (*txpow.TxBlock, error) {
	data, err := a.get(blockKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	block, err := txpow.TxBlockFromBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding archived block %s", id.Short())
	}
	return block, nil
}

// LoadRange returns the blocks in [fromHeight, toHeight] in ascending order,
// stopping at the first missing height.
func (a *Archive) LoadRange(fromHeight, toHeight uint64) ([]*txpow.TxBlock, error) {
	if toHeight < fromHeight {
		return nil, nil
	}
	iterator := a.ldb.NewIterator(&util.Range{Start: heightKey(fromHeight), Limit: heightKey(toHeight + 1)}, nil)
	defer iterator.Release()

	var blocks []*txpow.TxBlock
	expected := fromHeight
	for iterator.Next() {
		height := binary.BigEndian.Uint64(iterator.Key()[len(heightPrefix):])
		if height != expected {
			break
		}
		id, err := txpow.IDFromBytes(iterator.Value())
		if err != nil {
			return nil, err
		}
		block, err := a.LoadBlock(id)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, errors.Errorf("height %d indexes missing block %s", height, id.Short())
		}
		blocks = append(blocks, block)
		expected++
	}
	return blocks, errors.WithStack(iterator.Error())
}

// LoadLowest returns the lowest stored block, or nil.
func (a *Archive) LoadLowest() (*txpow.TxBlock, error) {
	iterator := a.ldb.NewIterator(util.BytesPrefix(heightPrefix), nil)
	defer iterator.Release()
	if !iterator.First() {
		return nil, errors.WithStack(iterator.Error())
	}
	id, err := txpow.IDFromBytes(iterator.Value())
	if err != nil {
		return nil, err
	}
	return a.LoadBlock(id)
}

// SaveCascade stores the cascade snapshot, replacing the previous one.
func (a *Archive) SaveCascade(snapshot *cascade.Snapshot) error {
	return errors.WithStack(a.ldb.Put(cascadeKey, snapshot.Bytes(), nil))
}

// LoadCascade returns the stored cascade snapshot, or nil.
func (a *Archive) LoadCascade() (*cascade.Snapshot, error) {
	data, err := a.get(cascadeKey)
	if err != nil || data == nil {
		return nil, err
	}
	return cascade.SnapshotFromBytes(data)
}
