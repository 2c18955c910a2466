package ln

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// FeeRateTier is one of the three confirmation-target buckets the fee
// estimator maintains.
type FeeRateTier int

const (
	Background FeeRateTier = iota
	Normal
	HighPriority
)

func (t FeeRateTier) String() string {
	switch t {
	case Background:
		return "slow"
	case Normal:
		return "normal"
	case HighPriority:
		return "urgent"
	default:
		return "unknown"
	}
}

// MinFeeRateSatPerKw is the protocol-enforced floor: 253 sat/kwu, below
// which relay/commitment-transaction rules reject a feerate outright.
const MinFeeRateSatPerKw uint32 = 253

// FeeRateCache holds the three lock-free, atomically-readable tiers from
// spec §3/§5: "three atomics with release/acquire ordering; lock-free."
type FeeRateCache struct {
	background   atomic.Uint32
	normal       atomic.Uint32
	highPriority atomic.Uint32
}

func NewFeeRateCache() *FeeRateCache {
	c := &FeeRateCache{}
	c.background.Store(MinFeeRateSatPerKw)
	c.normal.Store(MinFeeRateSatPerKw)
	c.highPriority.Store(MinFeeRateSatPerKw)
	return c
}

// Get returns the cached sat/kwu value for a tier, never below the
// protocol floor even if a bad Set call slipped one through.
func (c *FeeRateCache) Get(tier FeeRateTier) uint32 {
	v := c.atomicFor(tier).Load()
	if v < MinFeeRateSatPerKw {
		return MinFeeRateSatPerKw
	}
	return v
}

// Set clamps rate below the floor before storing it, so a nil/zero
// estimate from the backend (spec §8 scenario 6) never propagates.
func (c *FeeRateCache) Set(tier FeeRateTier, rate uint32) {
	if rate < MinFeeRateSatPerKw {
		rate = MinFeeRateSatPerKw
	}
	c.atomicFor(tier).Store(rate)
}

func (c *FeeRateCache) atomicFor(tier FeeRateTier) *atomic.Uint32 {
	switch tier {
	case Background:
		return &c.background
	case HighPriority:
		return &c.highPriority
	default:
		return &c.normal
	}
}

// FeeRate is a user-specified feerate, either a named tier or an
// explicit sat/kw or sat/kb value. Round-trips through String() per
// spec §8 scenario 1.
type FeeRate struct {
	Tier     *FeeRateTier
	PerKw    *uint32
	PerKb    *uint32
}

func (f FeeRate) String() string {
	switch {
	case f.PerKb != nil:
		return fmt.Sprintf("%dperkb", *f.PerKb)
	case f.PerKw != nil:
		return fmt.Sprintf("%dperkw", *f.PerKw)
	case f.Tier != nil:
		return f.Tier.String()
	default:
		return "normal"
	}
}

// ParseFeeRate accepts exactly {"urgent","normal","slow","<u32>perkw",
// "<u32>perkb"}; any other string fails with a descriptive error
// (spec §8 boundary behavior).
func ParseFeeRate(s string) (FeeRate, error) {
	switch s {
	case "urgent":
		t := HighPriority
		return FeeRate{Tier: &t}, nil
	case "normal":
		t := Normal
		return FeeRate{Tier: &t}, nil
	case "slow":
		t := Background
		return FeeRate{Tier: &t}, nil
	}
	if n, ok := strings.CutSuffix(s, "perkw"); ok {
		v, err := strconv.ParseUint(n, 10, 32)
		if err != nil {
			return FeeRate{}, fmt.Errorf("invalid perkw feerate %q: %w", s, err)
		}
		rate := uint32(v)
		return FeeRate{PerKw: &rate}, nil
	}
	if n, ok := strings.CutSuffix(s, "perkb"); ok {
		v, err := strconv.ParseUint(n, 10, 32)
		if err != nil {
			return FeeRate{}, fmt.Errorf("invalid perkb feerate %q: %w", s, err)
		}
		rate := uint32(v)
		return FeeRate{PerKb: &rate}, nil
	}
	return FeeRate{}, fmt.Errorf("unrecognized feerate %q: want urgent, normal, slow, <u32>perkw or <u32>perkb", s)
}

// SatPerKw resolves the feerate against a cache for Tier-based rates, or
// returns the explicit value (converting perkb to perkw by /4) for the
// others.
func (f FeeRate) SatPerKw(cache *FeeRateCache) uint32 {
	switch {
	case f.PerKw != nil:
		return *f.PerKw
	case f.PerKb != nil:
		return *f.PerKb / 4
	case f.Tier != nil:
		return cache.Get(*f.Tier)
	default:
		return cache.Get(Normal)
	}
}
