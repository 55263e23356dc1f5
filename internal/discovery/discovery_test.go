package discovery

import (
	"testing"
	"time"

	"github.com/confluence-watch/internal/adapter"
	"github.com/confluence-watch/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPools_ThresholdBoundary(t *testing.T) {
	transfers := []adapter.Transfer{
		{From: "0xPool", To: "0xA"},
		{From: "0xPool", To: "0xB"},
		{From: "0xPool", To: "0xD"},
		{From: "0xWallet", To: "0xC"},
		{From: "0xWallet", To: "0xE"},
	}

	pools := ClassifyPools(transfers, 2)
	assert.True(t, pools["0xPool"], "3 sends exceeds threshold 2")
	assert.False(t, pools["0xWallet"], "2 sends does not exceed threshold 2")
}

// Scenario F (spec §8): A->B x10, A->C x1, D->B x1, pool threshold 2.
// A sent 11 times (>2) and is classified a pool; D sent once and is not.
// Transfers classified as buys: A->B (x10), A->C (x1). D->B is discarded
// (D is not a pool, B is not a pool, neither side qualifies).
func TestClassifyPools_ScenarioF(t *testing.T) {
	var transfers []adapter.Transfer
	for i := 0; i < 10; i++ {
		transfers = append(transfers, adapter.Transfer{From: "A", To: "B"})
	}
	transfers = append(transfers, adapter.Transfer{From: "A", To: "C"})
	transfers = append(transfers, adapter.Transfer{From: "D", To: "B"})

	pools := ClassifyPools(transfers, 2)
	assert.True(t, pools["A"])
	assert.False(t, pools["D"])
	assert.False(t, pools["B"])

	buys := 0
	discarded := 0
	for _, tr := range transfers {
		_, ok := ClassifyTrade(types.ChainEthereum, "0xtoken", tr, pools)
		if ok {
			buys++
		} else {
			discarded++
		}
	}
	assert.Equal(t, 11, buys) // A->B x10 + A->C x1
	assert.Equal(t, 1, discarded) // D->B
}

func TestClassifyTrade_FromPoolIsBuy(t *testing.T) {
	pools := poolSet{"0xpool": true}
	tr := adapter.Transfer{TxHash: "0x1", From: "0xpool", To: "0xbuyer", Quantity: 100, Timestamp: time.Now()}

	trade, ok := ClassifyTrade(types.ChainEthereum, "0xtoken", tr, pools)
	assert.True(t, ok)
	assert.Equal(t, types.SideBuy, trade.Side)
	assert.Equal(t, "0xbuyer", trade.Wallet)
}

func TestClassifyTrade_ToPoolIsSell(t *testing.T) {
	pools := poolSet{"0xpool": true}
	tr := adapter.Transfer{TxHash: "0x2", From: "0xseller", To: "0xpool", Quantity: 50, Timestamp: time.Now()}

	trade, ok := ClassifyTrade(types.ChainEthereum, "0xtoken", tr, pools)
	assert.True(t, ok)
	assert.Equal(t, types.SideSell, trade.Side)
	assert.Equal(t, "0xseller", trade.Wallet)
}

func TestClassifyTrade_WalletToWalletDiscarded(t *testing.T) {
	pools := poolSet{}
	tr := adapter.Transfer{TxHash: "0x3", From: "0xa", To: "0xb", Quantity: 10}

	_, ok := ClassifyTrade(types.ChainEthereum, "0xtoken", tr, pools)
	assert.False(t, ok)
}

func TestClassifyTrade_PoolToPoolDiscarded(t *testing.T) {
	pools := poolSet{"0xp1": true, "0xp2": true}
	tr := adapter.Transfer{TxHash: "0x4", From: "0xp1", To: "0xp2", Quantity: 10}

	_, ok := ClassifyTrade(types.ChainEthereum, "0xtoken", tr, pools)
	assert.False(t, ok)
}
