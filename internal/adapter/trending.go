package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/types"
	"golang.org/x/time/rate"
)

// EtherscanTrendingSource implements TrendingSource for EVM chains via
// an Etherscan-family "token tracker" style trending endpoint.
type EtherscanTrendingSource struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	guard      *Guard
}

func NewEtherscanTrendingSource(apiKey, baseURL string) *EtherscanTrendingSource {
	return &EtherscanTrendingSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
		guard:      NewGuard("etherscan-trending", rate.Every(300*time.Millisecond), 2),
	}
}

func (e *EtherscanTrendingSource) Name() string { return "etherscan" }

type etherscanTrendingResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		TokenAddress string `json:"tokenAddress"`
		Symbol       string `json:"symbol"`
		PriceUSD     string `json:"priceUsd"`
		LiquidityUSD string `json:"liquidityUsd"`
		Volume24hUSD string `json:"volume24hUsd"`
	} `json:"result"`
}

func (e *EtherscanTrendingSource) FetchTrending(ctx context.Context, chain types.ChainID) ([]TokenSnapshot, error) {
	var snapshots []TokenSnapshot
	err := e.guard.Do(ctx, "etherscan.FetchTrending", func(ctx context.Context) error {
		url := fmt.Sprintf("%s?module=token&action=trending&apikey=%s", e.baseURL, e.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("etherscan.FetchTrending", err)
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("etherscan.FetchTrending", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return pipelineerrors.NewRateLimited("etherscan.FetchTrending")
		}
		if resp.StatusCode >= 500 {
			return pipelineerrors.NewTransientUpstream("etherscan.FetchTrending", fmt.Errorf("status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("etherscan.FetchTrending", err)
		}

		var parsed etherscanTrendingResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return pipelineerrors.NewUpstreamSchema("etherscan.FetchTrending", err)
		}
		if parsed.Status != "1" {
			return pipelineerrors.NewUpstreamSchema("etherscan.FetchTrending", fmt.Errorf("%s", parsed.Message))
		}

		for _, r := range parsed.Result {
			snapshots = append(snapshots, TokenSnapshot{
				Address:      types.NormalizeAddress(chain, r.TokenAddress),
				Symbol:       r.Symbol,
				PriceUSD:     parseFloatOrZero(r.PriceUSD),
				LiquidityUSD: parseFloatOrZero(r.LiquidityUSD),
				Volume24hUSD: parseFloatOrZero(r.Volume24hUSD),
			})
		}
		return nil
	})
	return snapshots, err
}

// DexScreenerTrendingSource implements TrendingSource against
// DexScreener's token-boosts/trending listing, usable for any chain
// DexScreener indexes (including Solana).
type DexScreenerTrendingSource struct {
	httpClient *http.Client
	guard      *Guard
}

func NewDexScreenerTrendingSource() *DexScreenerTrendingSource {
	return &DexScreenerTrendingSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		guard:      NewGuard("dexscreener-trending", rate.Every(2500*time.Millisecond), 1),
	}
}

func (d *DexScreenerTrendingSource) Name() string { return "dexscreener-trending" }

type dexScreenerTrendingResponse struct {
	Pairs []struct {
		BaseToken struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"baseToken"`
		PriceUSD string `json:"priceUsd"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		Volume struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
	} `json:"pairs"`
}

func (d *DexScreenerTrendingSource) FetchTrending(ctx context.Context, chain types.ChainID) ([]TokenSnapshot, error) {
	var snapshots []TokenSnapshot
	err := d.guard.Do(ctx, "dexscreener.FetchTrending", func(ctx context.Context) error {
		url := fmt.Sprintf("https://api.dexscreener.com/latest/dex/search?q=%s", chain)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("dexscreener.FetchTrending", err)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("dexscreener.FetchTrending", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return pipelineerrors.NewRateLimited("dexscreener.FetchTrending")
		}
		if resp.StatusCode >= 500 {
			return pipelineerrors.NewTransientUpstream("dexscreener.FetchTrending", fmt.Errorf("status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("dexscreener.FetchTrending", err)
		}

		var parsed dexScreenerTrendingResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return pipelineerrors.NewUpstreamSchema("dexscreener.FetchTrending", err)
		}

		for _, pr := range parsed.Pairs {
			snapshots = append(snapshots, TokenSnapshot{
				Address:      types.NormalizeAddress(chain, pr.BaseToken.Address),
				Symbol:       pr.BaseToken.Symbol,
				PriceUSD:     parseFloatOrZero(pr.PriceUSD),
				LiquidityUSD: pr.Liquidity.USD,
				Volume24hUSD: pr.Volume.H24,
			})
		}
		return nil
	})
	return snapshots, err
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
