package mempool

import (
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/txpow"
)

const (
	defaultMaximumSize    = 10_000
	defaultMaximumSelect  = 1_000
	defaultMaximumRetries = 3
	defaultMinimumBurn    = 0
	defaultMaximumTxnSize = 16 * 1024

	defaultMaximumStateSize = 8 * 1024
)

// Config holds the mempool policy.
//
// MaximumRetries is how many selection rejections a unit survives.
// MinimumBurn is the base admission floor; the floor rises above it while
// the pool is full. MaximumStateSize bounds the coin state a selected unit
// may add.
type Config struct {
	MaximumSize      int
	MaximumSelect    int
	MaximumRetries   int
	MinimumBurn      uint64
	MaximumTxnSize   int
	MaximumStateSize int
	MinTxnDifficulty txpow.Target
}

// DefaultConfig returns the default policy for the given parameters.
func DefaultConfig(params *params.Params) *Config {
	maximumTxnSize := defaultMaximumTxnSize
	if params.MaxUnitSize < maximumTxnSize {
		maximumTxnSize = params.MaxUnitSize
	}
	return &Config{
		MaximumSize:      defaultMaximumSize,
		MaximumSelect:    defaultMaximumSelect,
		MaximumRetries:   defaultMaximumRetries,
		MinimumBurn:      defaultMinimumBurn,
		MaximumTxnSize:   maximumTxnSize,
		MaximumStateSize: defaultMaximumStateSize,
		MinTxnDifficulty: params.MinTxnDifficulty,
	}
}
