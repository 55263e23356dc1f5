package analytics

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestEarlyScore_BoundsAndMonotonicity(t *testing.T) {
	early := EarlyScore(EarlyScoreInput{RankPct: 0, MCapAtBuy: 0, BuyValueUSD: 100, Token24hVolumeUSD: 100})
	late := EarlyScore(EarlyScoreInput{RankPct: 1, MCapAtBuy: 2e6, BuyValueUSD: 0, Token24hVolumeUSD: 100})

	assert.InDelta(t, 100.0, early, 1e-9)
	assert.InDelta(t, 0.0, late, 1e-9)
}

func TestEarlyScore_ZeroVolumeDoesNotDivideByZero(t *testing.T) {
	score := EarlyScore(EarlyScoreInput{RankPct: 0.5, MCapAtBuy: 500000, BuyValueUSD: 10, Token24hVolumeUSD: 0})
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
}

// Score bounds invariant (spec §8 #3): Being-Early score in [0, 100] for
// any input combination, including out-of-range rank/mcap/volume inputs
// a caller might pass in from noisy upstream data.
func TestEarlyScore_PropertyAlwaysInBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("EarlyScore stays within [0, 100]", prop.ForAll(
		func(rankPct, mcap, buyValue, volume float64) bool {
			score := EarlyScore(EarlyScoreInput{
				RankPct:           rankPct,
				MCapAtBuy:         mcap,
				BuyValueUSD:       buyValue,
				Token24hVolumeUSD: volume,
			})
			return score >= 0 && score <= 100
		},
		gen.Float64Range(-10, 10),
		gen.Float64Range(-1e7, 1e7),
		gen.Float64Range(0, 1e9),
		gen.Float64Range(0, 1e9),
	))

	properties.TestingRun(t)
}

func TestMedianEarlyScore(t *testing.T) {
	assert.Equal(t, 0.0, MedianEarlyScore(nil))
	assert.Equal(t, 50.0, MedianEarlyScore([]float64{50}))
	assert.Equal(t, 50.0, MedianEarlyScore([]float64{10, 50, 90}))
	assert.Equal(t, 30.0, MedianEarlyScore([]float64{10, 20, 40, 50}))
}

func TestMarketCapProxy(t *testing.T) {
	assert.Equal(t, 300000.0, MarketCapProxy(100000))
}
