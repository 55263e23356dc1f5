package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)"),
// the topic0 every ERC-20 Transfer log carries.
var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMTransferAdapter implements TransferSource for an EVM chain via
// JSON-RPC log filtering over ERC-20 Transfer events.
type EVMTransferAdapter struct {
	chain    types.ChainID
	client   *ethclient.Client
	decimals func(token string) uint8 // token decimals lookup; 18 if nil
	guard    *Guard
}

// NewEVMTransferAdapter dials rpcURL and returns an adapter scoped to
// chain. decimalsFn may be nil, in which case every token is treated as
// 18 decimals (wrong for tokens that use a different number of
// decimals).
func NewEVMTransferAdapter(chain types.ChainID, rpcURL string, decimalsFn func(string) uint8) (*EVMTransferAdapter, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
	}
	return &EVMTransferAdapter{
		chain:    chain,
		client:   client,
		decimals: decimalsFn,
		guard:    NewGuard(fmt.Sprintf("evm-transfer-%s", chain), rate.Every(500*time.Millisecond), 2),
	}, nil
}

func (a *EVMTransferAdapter) Name() string {
	return fmt.Sprintf("evm-transfer-%s", a.chain)
}

func (a *EVMTransferAdapter) CurrentBlock(ctx context.Context, chain types.ChainID) (uint64, error) {
	var block uint64
	err := a.guard.Do(ctx, "evm.CurrentBlock", func(ctx context.Context) error {
		n, err := a.client.BlockNumber(ctx)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("evm.CurrentBlock", err)
		}
		block = n
		return nil
	})
	return block, err
}

// FetchTokenTransfers filters ERC-20 Transfer logs for token in
// [fromBlock, toBlock], decoding from/to/amount and normalizing
// addresses to lowercase.
func (a *EVMTransferAdapter) FetchTokenTransfers(ctx context.Context, chain types.ChainID, token string, fromBlock, toBlock uint64, limit int) ([]Transfer, error) {
	var transfers []Transfer
	err := a.guard.Do(ctx, "evm.FetchTokenTransfers", func(ctx context.Context) error {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []common.Address{common.HexToAddress(token)},
			Topics:    [][]common.Hash{{erc20TransferTopic}},
		}

		logs, err := a.client.FilterLogs(ctx, query)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("evm.FetchTokenTransfers", err)
		}

		decimals := uint8(18)
		if a.decimals != nil {
			decimals = a.decimals(token)
		}

		for _, lg := range logs {
			tr, ok := decodeTransferLog(lg, chain, token, decimals)
			if !ok {
				continue
			}
			transfers = append(transfers, tr)
			if limit > 0 && len(transfers) >= limit {
				break
			}
		}
		return nil
	})
	return transfers, err
}

// FetchWalletTransfers filters Transfer logs where wallet is the `from`
// (direction=out) or `to` (direction=in) topic, across all tokens. This
// requires the RPC endpoint to accept an unscoped-address filter; some
// providers require the caller to page by block range, which callers of
// this adapter are expected to do via fromBlock.
func (a *EVMTransferAdapter) FetchWalletTransfers(ctx context.Context, chain types.ChainID, wallet string, direction types.Direction, fromBlock uint64, limit int) ([]Transfer, error) {
	var transfers []Transfer
	err := a.guard.Do(ctx, "evm.FetchWalletTransfers", func(ctx context.Context) error {
		current, err := a.client.BlockNumber(ctx)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("evm.FetchWalletTransfers", err)
		}

		walletHash := common.BytesToHash(common.HexToAddress(wallet).Bytes())
		topics := [][]common.Hash{{erc20TransferTopic}, nil, nil}
		if direction == types.DirectionOut {
			topics[1] = []common.Hash{walletHash}
		} else {
			topics[2] = []common.Hash{walletHash}
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(current),
			Topics:    topics,
		}

		logs, err := a.client.FilterLogs(ctx, query)
		if err != nil {
			return pipelineerrors.NewTransientUpstream("evm.FetchWalletTransfers", err)
		}

		for _, lg := range logs {
			token := strings.ToLower(lg.Address.Hex())
			decimals := uint8(18)
			if a.decimals != nil {
				decimals = a.decimals(token)
			}
			tr, ok := decodeTransferLog(lg, chain, token, decimals)
			if !ok {
				continue
			}
			transfers = append(transfers, tr)
			if limit > 0 && len(transfers) >= limit {
				break
			}
		}
		return nil
	})
	return transfers, err
}

func decodeTransferLog(lg gethtypes.Log, chain types.ChainID, token string, decimals uint8) (Transfer, bool) {
	if len(lg.Topics) < 3 || len(lg.Data) < 32 {
		return Transfer{}, false
	}

	from := types.NormalizeAddress(chain, common.HexToAddress(lg.Topics[1].Hex()).Hex())
	to := types.NormalizeAddress(chain, common.HexToAddress(lg.Topics[2].Hex()).Hex())
	amount := new(big.Int).SetBytes(lg.Data)

	divisor := new(big.Float).SetFloat64(1)
	for i := uint8(0); i < decimals; i++ {
		divisor.Mul(divisor, big.NewFloat(10))
	}
	qtyFloat := new(big.Float).Quo(new(big.Float).SetInt(amount), divisor)
	qty, _ := qtyFloat.Float64()

	return Transfer{
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		From:        from,
		To:          to,
		Token:       types.NormalizeAddress(chain, token),
		Quantity:    qty,
		Venue:       string(chain),
	}, true
}
