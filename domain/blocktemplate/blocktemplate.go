// Package blocktemplate assembles candidate blocks on the current tip.
package blocktemplate

import (
	"time"

	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/domain/validator"
)

// TipSource gives access to the tip and the state after it.
type TipSource interface {
	WithTipState(fn func(tip *processor.Tip, state validator.ParentState) error) error
}

// Template is a block header without a nonce and the transactions it
// includes.
type Template struct {
	Header txpow.Header
	Txns   []*txpow.TxPoW
}

// Block builds the block for nonce.
func (t *Template) Block(nonce uint64, body txpow.Body) *txpow.TxBlock {
	header := t.Header
	header.Nonce = nonce
	header.Txns = append([]txpow.ID(nil), t.Header.Txns...)
	return txpow.NewTxBlock(txpow.New(header, body), t.Txns)
}

// Solve tries up to attempts nonces from start and returns the first block
// meeting the template's difficulty.
func (t *Template) Solve(start, attempts uint64, body txpow.Body) (*txpow.TxBlock, bool) {
	for nonce := start; nonce-start < attempts; nonce++ {
		block := t.Block(nonce, body)
		if block.TxPoW.IsBlock() {
			return block, true
		}
	}
	return nil, false
}

// Builder builds templates.
type Builder struct {
	params    *params.Params
	source    TipSource
	mempool   *mempool.Mempool
	validator validator.Validator
}

// New returns a Builder.
func New(params *params.Params, source TipSource, mempool *mempool.Mempool, validator validator.Validator) *Builder {
	return &Builder{params: params, source: source, mempool: mempool, validator: validator}
}

// Build returns a template on the current tip holding the best mempool
// transactions valid on it.
func (b *Builder) Build(now time.Time) (*Template, error) {
	var template *Template
	err := b.source.WithTipState(func(tip *processor.Tip, state validator.ParentState) error {
		txns := b.mempool.SelectForBlock(state, b.validator)
		ids := make([]txpow.ID, len(txns))
		for i, txn := range txns {
			ids[i] = txn.ID()
		}
		timeMilli := now.UnixMilli()
		if timeMilli <= tip.TimeMilli {
			timeMilli = tip.TimeMilli + 1
		}
		template = &Template{
			Header: txpow.Header{
				ChainID:         b.params.ChainID,
				BlockNumber:     tip.Height + 1,
				ParentID:        tip.ID,
				TimeMilli:       timeMilli,
				BlockDifficulty: b.params.MinBlockDifficulty,
				TxnDifficulty:   b.params.MinTxnDifficulty,
				ParentMMRRoot:   tip.MMRRoot,
				Txns:            ids,
			},
			Txns: txns,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("Built template at height %d with %d txns", template.Header.BlockNumber, len(template.Txns))
	return template, nil
}
