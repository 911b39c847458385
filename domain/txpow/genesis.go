package txpow

// Genesis returns the height-0 root block of chainID. Its difficulty is
// MaxTarget so it is always a block.
func Genesis(chainID uint32, timeMilli int64) *TxPoW {
	return New(Header{
		ChainID:         chainID,
		BlockNumber:     0,
		ParentID:        ZeroID,
		TimeMilli:       timeMilli,
		BlockDifficulty: MaxTarget,
		TxnDifficulty:   MaxTarget,
	}, Body{})
}
