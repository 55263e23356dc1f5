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

// HoneypotSafetySource implements SafetySource against a honeypot.is /
// GoPlus-style safety-check endpoint. Only wired for EVM chains; Solana
// has no equivalent honeypot-check API in this registry (internal/ingest
// still applies the liquidity/volume gate without a tax/honeypot check on
// Solana).
type HoneypotSafetySource struct {
	httpClient *http.Client
	baseURL    string
	guard      *Guard
}

func NewHoneypotSafetySource(baseURL string) *HoneypotSafetySource {
	return &HoneypotSafetySource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		guard:      NewGuard("honeypot-safety", rate.Every(1*time.Second), 1),
	}
}

func (h *HoneypotSafetySource) Name() string { return "honeypot-safety" }

type honeypotResponse struct {
	IsHoneypot bool `json:"isHoneypot"`
	SimulationResult struct {
		BuyTax  float64 `json:"buyTax"`
		SellTax float64 `json:"sellTax"`
	} `json:"simulationResult"`
}

func (h *HoneypotSafetySource) SafetyCheck(ctx context.Context, chain types.ChainID, token string) (SafetyResult, error) {
	var result SafetyResult
	err := h.guard.Do(ctx, "honeypot.SafetyCheck", func(ctx context.Context) error {
		url := fmt.Sprintf("%s?address=%s&chain=%s", h.baseURL, token, chain)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("honeypot.SafetyCheck", err)
		}

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("honeypot.SafetyCheck", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return pipelineerrors.NewRateLimited("honeypot.SafetyCheck")
		}
		if resp.StatusCode >= 500 {
			return pipelineerrors.NewTransientUpstream("honeypot.SafetyCheck", fmt.Errorf("status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("honeypot.SafetyCheck", err)
		}

		var parsed honeypotResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return pipelineerrors.NewUpstreamSchema("honeypot.SafetyCheck", err)
		}

		result = SafetyResult{
			TaxBuyPct:  parsed.SimulationResult.BuyTax,
			TaxSellPct: parsed.SimulationResult.SellTax,
			IsHoneypot: parsed.IsHoneypot,
		}
		return nil
	})
	return result, err
}
