package price

import (
	"context"
	"testing"
	"time"

	"github.com/confluence-watch/internal/adapter"
	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePriceSource struct {
	name  string
	usd   float64
	ok    bool
	err   error
	calls int
}

func (f *fakePriceSource) Name() string { return f.name }

func (f *fakePriceSource) PriceOf(ctx context.Context, chain types.ChainID, token string) (float64, bool, error) {
	f.calls++
	return f.usd, f.ok, f.err
}

type fakeLatestPrice struct {
	usd float64
	ok  bool
	err error
}

func (f *fakeLatestPrice) LatestPrice(ctx context.Context, chain types.ChainID, token string) (float64, bool, error) {
	return f.usd, f.ok, f.err
}

func TestEnricher_FirstSourceHit(t *testing.T) {
	reg := adapter.NewRegistry()
	primary := &fakePriceSource{name: "primary", usd: 1.5, ok: true}
	secondary := &fakePriceSource{name: "secondary", usd: 2.0, ok: true}
	reg.AddPrice(primary)
	reg.AddPrice(secondary)

	e := NewEnricher(reg, nil, nil, time.Minute)
	usd, err := e.PriceOf(context.Background(), types.ChainEthereum, "0xtoken")
	require.NoError(t, err)
	assert.Equal(t, 1.5, usd)
	assert.Equal(t, 0, secondary.calls)
}

func TestEnricher_FallsThroughOnMiss(t *testing.T) {
	reg := adapter.NewRegistry()
	miss := &fakePriceSource{name: "miss", ok: false}
	hit := &fakePriceSource{name: "hit", usd: 3.3, ok: true}
	reg.AddPrice(miss)
	reg.AddPrice(hit)

	e := NewEnricher(reg, nil, nil, time.Minute)
	usd, err := e.PriceOf(context.Background(), types.ChainEthereum, "0xtoken")
	require.NoError(t, err)
	assert.Equal(t, 3.3, usd)
}

func TestEnricher_FallsThroughOnError(t *testing.T) {
	reg := adapter.NewRegistry()
	broken := &fakePriceSource{name: "broken", err: pipelineerrors.NewTransientUpstream("x", nil)}
	hit := &fakePriceSource{name: "hit", usd: 4.4, ok: true}
	reg.AddPrice(broken)
	reg.AddPrice(hit)

	e := NewEnricher(reg, nil, nil, time.Minute)
	usd, err := e.PriceOf(context.Background(), types.ChainEthereum, "0xtoken")
	require.NoError(t, err)
	assert.Equal(t, 4.4, usd)
}

func TestEnricher_LocalCacheShortCircuitsSources(t *testing.T) {
	reg := adapter.NewRegistry()
	src := &fakePriceSource{name: "src", usd: 5.0, ok: true}
	reg.AddPrice(src)

	e := NewEnricher(reg, nil, nil, time.Minute)
	ctx := context.Background()

	_, err := e.PriceOf(ctx, types.ChainEthereum, "0xtoken")
	require.NoError(t, err)
	_, err = e.PriceOf(ctx, types.ChainEthereum, "0xtoken")
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
}

func TestEnricher_FallsBackToLatestTradePrice(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.AddPrice(&fakePriceSource{name: "miss", ok: false})

	latest := &fakeLatestPrice{usd: 9.9, ok: true}
	e := NewEnricher(reg, nil, latest, time.Minute)

	usd, err := e.PriceOf(context.Background(), types.ChainEthereum, "0xtoken")
	require.NoError(t, err)
	assert.Equal(t, 9.9, usd)
}

func TestEnricher_PriceMissingOnFullMiss(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.AddPrice(&fakePriceSource{name: "miss", ok: false})

	latest := &fakeLatestPrice{ok: false}
	e := NewEnricher(reg, nil, latest, time.Minute)

	_, err := e.PriceOf(context.Background(), types.ChainEthereum, "0xtoken")
	require.Error(t, err)
	assert.True(t, pipelineerrors.Is(err, pipelineerrors.PriceMissing))
}
