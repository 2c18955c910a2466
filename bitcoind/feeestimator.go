package bitcoind

import (
	"time"

	"github.com/kuutamolabs/kld/ln"
	"github.com/lightningnetwork/lnd/ticker"
)

// refreshInterval is how often the estimator polls bitcoind (spec §4.8).
const refreshInterval = 60 * time.Second

// targets maps each cache tier to the (confirmation target, mode) pair
// passed to estimatesmartfee, per spec §4.8.
var targets = map[ln.FeeRateTier]struct {
	Blocks int
	Mode   string
}{
	ln.Background:   {144, "economical"},
	ln.Normal:       {18, "economical"},
	ln.HighPriority: {6, "conservative"},
}

// FeeEstimator refreshes the shared ln.FeeRateCache from a Client on a
// fixed interval, clamping every result to the protocol floor.
type FeeEstimator struct {
	client *Client
	cache  *ln.FeeRateCache
	ticker ticker.Ticker
	quit   chan struct{}
}

func NewFeeEstimator(client *Client, cache *ln.FeeRateCache) *FeeEstimator {
	return &FeeEstimator{
		client: client,
		cache:  cache,
		ticker: ticker.New(refreshInterval),
		quit:   make(chan struct{}),
	}
}

// Start performs one synchronous refresh so the cache is warm before any
// caller observes it, then launches the periodic refresh loop.
func (f *FeeEstimator) Start() {
	f.refresh()
	f.ticker.Resume()
	go f.loop()
}

func (f *FeeEstimator) Stop() {
	close(f.quit)
	f.ticker.Stop()
}

func (f *FeeEstimator) loop() {
	for {
		select {
		case <-f.ticker.Ticks():
			f.refresh()
		case <-f.quit:
			return
		}
	}
}

func (f *FeeEstimator) refresh() {
	for tier, t := range targets {
		rate, ok, err := f.client.EstimateSmartFee(t.Blocks, t.Mode)
		if err != nil {
			log.Warnf("estimatesmartfee(%d,%s) failed, keeping cached value: %v", t.Blocks, t.Mode, err)
			continue
		}
		if !ok {
			// bitcoind returned no estimate (e.g. fresh regtest node,
			// spec §8 scenario 6); Set still clamps below to the floor
			// so the cache never regresses beneath 253 sat/kwu.
			f.cache.Set(tier, 0)
			continue
		}
		f.cache.Set(tier, rate)
	}
}

// GetEstSatPerKw satisfies the FeeEstimator contract callers expect
// (spec §3/§8 scenario 6).
func (f *FeeEstimator) GetEstSatPerKw(tier ln.FeeRateTier) uint32 {
	return f.cache.Get(tier)
}
