package txpow

import (
	"bytes"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// IDSize is the size of a unit or coin ID in bytes.
const IDSize = blake2b.Size256

// ID identifies a unit, a coin or an address. Unit IDs are the blake2b-256
// hash of the unit's canonical encoding.
type ID [IDSize]byte

// ZeroID is the parent ID of genesis.
var ZeroID ID

// HashBytes returns the blake2b-256 ID of data.
func HashBytes(data ...[]byte) ID {
	hasher, _ := blake2b.New256(nil)
	for _, d := range data {
		hasher.Write(d)
	}
	var id ID
	copy(id[:], hasher.Sum(nil))
	return id
}

// IDFromString parses a hex encoded ID.
func IDFromString(s string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrapf(err, "invalid ID %q", s)
	}
	if len(decoded) != IDSize {
		return id, errors.Errorf("invalid ID length %d", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// IDFromBytes copies a raw ID.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, errors.Errorf("invalid ID length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is a log friendly prefix of the ID.
func (id ID) Short() string {
	return hex.EncodeToString(id[:6])
}

// IsZero returns whether id is ZeroID.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Less orders IDs by their big-endian value.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}
