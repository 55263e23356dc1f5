package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/types"
	"golang.org/x/time/rate"
)

// DexScreenerPriceSource implements PriceSource against the DexScreener
// token-pairs endpoint. Grounded on the original Python's
// MultiSourcePriceFetcher fallback-chain design: each source in the
// registry's declared order gets its own Guard, so one dead provider
// never blocks the next.
type DexScreenerPriceSource struct {
	httpClient *http.Client
	baseURL    string
	guard      *Guard
}

func NewDexScreenerPriceSource() *DexScreenerPriceSource {
	return &DexScreenerPriceSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.dexscreener.com/latest/dex/tokens",
		guard:      NewGuard("dexscreener-price", rate.Every(2500*time.Millisecond), 1),
	}
}

func (p *DexScreenerPriceSource) Name() string { return "dexscreener" }

type dexScreenerResponse struct {
	Pairs []struct {
		PriceUSD string `json:"priceUsd"`
	} `json:"pairs"`
}

func (p *DexScreenerPriceSource) PriceOf(ctx context.Context, chain types.ChainID, token string) (float64, bool, error) {
	var price float64
	var ok bool
	err := p.guard.Do(ctx, "dexscreener.PriceOf", func(ctx context.Context) error {
		url := fmt.Sprintf("%s/%s", p.baseURL, token)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("dexscreener.PriceOf", err)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("dexscreener.PriceOf", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return pipelineerrors.NewRateLimited("dexscreener.PriceOf")
		}
		if resp.StatusCode >= 500 {
			return pipelineerrors.NewTransientUpstream("dexscreener.PriceOf", fmt.Errorf("status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("dexscreener.PriceOf", err)
		}

		var parsed dexScreenerResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return pipelineerrors.NewUpstreamSchema("dexscreener.PriceOf", err)
		}

		if len(parsed.Pairs) == 0 {
			return nil // clean miss, not an error
		}

		var usd float64
		if _, err := fmt.Sscanf(parsed.Pairs[0].PriceUSD, "%f", &usd); err != nil {
			return pipelineerrors.NewUpstreamSchema("dexscreener.PriceOf", err)
		}
		price = usd
		ok = true
		return nil
	})
	return price, ok, err
}

// BirdeyePriceSource implements PriceSource against Birdeye's price
// endpoint, used as the secondary fallback for Solana tokens per the
// original Python's fetcher order (DexScreener -> Birdeye -> CoinGecko).
type BirdeyePriceSource struct {
	httpClient *http.Client
	apiKey     string
	guard      *Guard
}

func NewBirdeyePriceSource(apiKey string) *BirdeyePriceSource {
	return &BirdeyePriceSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		guard:      NewGuard("birdeye-price", rate.Every(1*time.Second), 1),
	}
}

func (p *BirdeyePriceSource) Name() string { return "birdeye" }

type birdeyeResponse struct {
	Data struct {
		Value float64 `json:"value"`
	} `json:"data"`
	Success bool `json:"success"`
}

func (p *BirdeyePriceSource) PriceOf(ctx context.Context, chain types.ChainID, token string) (float64, bool, error) {
	var price float64
	var ok bool
	err := p.guard.Do(ctx, "birdeye.PriceOf", func(ctx context.Context) error {
		url := fmt.Sprintf("https://public-api.birdeye.so/defi/price?address=%s", token)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("birdeye.PriceOf", err)
		}
		req.Header.Set("X-API-KEY", p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("birdeye.PriceOf", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return pipelineerrors.NewRateLimited("birdeye.PriceOf")
		}
		if resp.StatusCode >= 500 {
			return pipelineerrors.NewTransientUpstream("birdeye.PriceOf", fmt.Errorf("status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("birdeye.PriceOf", err)
		}

		var parsed birdeyeResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return pipelineerrors.NewUpstreamSchema("birdeye.PriceOf", err)
		}
		if !parsed.Success || parsed.Data.Value == 0 {
			return nil
		}
		price = parsed.Data.Value
		ok = true
		return nil
	})
	return price, ok, err
}
