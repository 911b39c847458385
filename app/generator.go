package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/domain/blocktemplate"
	"github.com/selfnet/selfd/domain/processor"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/util/mstime"
	"github.com/selfnet/selfd/util/random"
	"github.com/selfnet/selfd/version"
)

const (
	// attemptsPerTemplate bounds how long a template is ground before it is
	// rebuilt on the latest tip.
	attemptsPerTemplate = 1 << 14

	logHashRateInterval    = 10 * time.Second
	waitForRootInterval    = 500 * time.Millisecond
	waitWhileSyncingPeriod = 5 * time.Second
)

// generator grinds blocks on the local tip and hands them to the engine.
type generator struct {
	builder   *blocktemplate.Builder
	engine    *processor.Engine
	isSyncing func() bool

	hashesTried uint64
	found       uint64
}

func newGenerator(builder *blocktemplate.Builder, engine *processor.Engine, isSyncing func() bool) *generator {
	return &generator{builder: builder, engine: engine, isSyncing: isSyncing}
}

func (g *generator) start(ctx context.Context) {
	spawn("generator.generateLoop", func() {
		err := g.generateLoop(ctx)
		if err != nil {
			log.Errorf("Block generation stopped: %+v", err)
		}
	})
	spawn("generator.logHashRate", func() {
		g.logHashRate(ctx)
	})
}

func (g *generator) generateLoop(ctx context.Context) error {
	nonce, err := random.Uint64()
	if err != nil {
		return errors.Wrap(err, "drawing the first nonce")
	}
	body := txpow.Body{Witness: []byte(version.UserAgent())}
	tryCount := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if g.isSyncing() {
			log.Debugf("Node is syncing. Skipping block generation")
			if !sleep(ctx, waitWhileSyncingPeriod) {
				return nil
			}
			continue
		}
		template, err := g.builder.Build(mstime.Now())
		if err != nil {
			tryCount++
			if (tryCount-1)%10 == 0 {
				log.Infof("Waiting for a chain root to build on: %s", err)
			}
			if !sleep(ctx, waitForRootInterval) {
				return nil
			}
			continue
		}
		tryCount = 0

		block, ok := template.Solve(nonce, attemptsPerTemplate, body)
		if !ok {
			atomic.AddUint64(&g.hashesTried, attemptsPerTemplate)
			nonce += attemptsPerTemplate
			continue
		}
		atomic.AddUint64(&g.hashesTried, block.TxPoW.Header.Nonce-nonce+1)
		nonce = block.TxPoW.Header.Nonce + 1

		result, err := g.engine.SubmitLocalBlock(ctx, block)
		if err != nil {
			if errors.Is(err, processor.ErrStopped) {
				return nil
			}
			return err
		}
		if result.Outcome != processor.Accepted {
			log.Warnf("Generated block %s was not accepted: %s %v", block.ID().Short(), result.Outcome, result.Err)
			continue
		}
		atomic.AddUint64(&g.found, 1)
		log.Infof("Generated block %s at height %d with %d transactions",
			block.ID().Short(), block.TxPoW.Header.BlockNumber, len(block.Txns))
	}
}

func (g *generator) logHashRate(ctx context.Context) {
	ticker := time.NewTicker(logHashRateInterval)
	defer ticker.Stop()
	lastCheck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case currentTime := <-ticker.C:
			currentHashesTried := atomic.SwapUint64(&g.hashesTried, 0)
			kiloHashesTried := float64(currentHashesTried) / 1000.0
			hashRate := kiloHashesTried / currentTime.Sub(lastCheck).Seconds()
			log.Infof("Current hash rate is %.2f Khash/s", hashRate)
			lastCheck = currentTime
		}
	}
}

// sleep waits for d and returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
