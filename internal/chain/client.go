package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

// ErrTxReverted marks a mined transaction whose receipt reports failure.
var ErrTxReverted = errors.New("transaction reverted")

// Transfer is one incoming token transfer observed on chain.
type Transfer struct {
	TxHash      string
	From        string
	To          string
	Amount      *big.Int
	BlockNumber uint64
}

// backend is the subset of ethclient.Client the settlement core uses.
// Narrowed to an interface so tests can stub the RPC node.
type backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type Config struct {
	RPCURL       string
	ChainID      *big.Int
	TokenAddress string // ERC-20 contract under settlement

	GasLimit    uint64   // token transfer gas limit
	MaxGasPrice *big.Int // cap in wei

	RetryAttempts int
	RetryDelay    time.Duration
	CallTimeout   time.Duration
}

// Client is a thin, retrying wrapper over the chain RPC node. The node
// is treated as unreliable: every call runs under a bounded timeout and
// bounded retry, and exhausted retries surface as ErrChainUnavailable.
// A successful call never implies finality; confirmation depth does.
type Client struct {
	eth    backend
	cfg    Config
	token  common.Address
	erc20  abi.ABI
	logger *zap.Logger
}

// ERC-20 fragments the settlement core calls directly.
const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC: %w", err)
	}

	c, err := newClient(eth, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Chain client initialized",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", cfg.ChainID.String()),
		zap.String("token", cfg.TokenAddress))

	return c, nil
}

func newClient(eth backend, cfg Config, logger *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token contract address: %s", cfg.TokenAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}

	return &Client{
		eth:    eth,
		cfg:    cfg,
		token:  common.HexToAddress(cfg.TokenAddress),
		erc20:  parsed,
		logger: logger,
	}, nil
}

// HeadBlock returns the current chain head.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.withRetry(ctx, "block_number", func(ctx context.Context) error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	return head, err
}

// FilterIncomingTransfers returns token Transfer events paying any of
// the given addresses within [fromBlock, toBlock]. Duplicate or
// reordered results from the node are tolerated; dedup happens at the
// ledger via the tx hash.
func (c *Client) FilterIncomingTransfers(ctx context.Context, addresses []string, fromBlock, toBlock uint64) ([]Transfer, error) {
	if len(addresses) == 0 || fromBlock > toBlock {
		return nil, nil
	}

	toTopics := make([]common.Hash, 0, len(addresses))
	for _, a := range addresses {
		toTopics = append(toTopics, common.BytesToHash(common.HexToAddress(a).Bytes()))
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.token},
		Topics:    [][]common.Hash{{transferTopic}, nil, toTopics},
	}

	var logs []types.Log
	err := c.withRetry(ctx, "filter_logs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}

	transfers := make([]Transfer, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 || lg.Removed {
			continue
		}
		transfers = append(transfers, Transfer{
			TxHash:      lg.TxHash.Hex(),
			From:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			To:          common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Amount:      new(big.Int).SetBytes(lg.Data),
			BlockNumber: lg.BlockNumber,
		})
	}

	return transfers, nil
}

// TokenBalance returns the token balance of address.
func (c *Client) TokenBalance(ctx context.Context, address string) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	msg := ethereum.CallMsg{To: &c.token, Data: data}

	var result []byte
	err = c.withRetry(ctx, "balance_of", func(ctx context.Context) error {
		var err error
		result, err = c.eth.CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	// An address that never touched the token may yield an empty result.
	if len(result) == 0 {
		return big.NewInt(0), nil
	}

	var balance *big.Int
	if err := c.erc20.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balance: %w", err)
	}
	if balance == nil {
		balance = big.NewInt(0)
	}

	return balance, nil
}

// NativeBalance returns the gas-coin balance of address.
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := c.withRetry(ctx, "balance_at", func(ctx context.Context) error {
		var err error
		balance, err = c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	return balance, err
}

// Confirmations returns the confirmation depth of txHash. An unmined
// transaction reports zero confirmations; a reverted one reports
// ErrTxReverted.
func (c *Client) Confirmations(ctx context.Context, txHash string) (int, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, "transaction_receipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(err, ethereum.NotFound) {
			receipt = nil
			return nil
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	if receipt == nil {
		return 0, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("%w: %s", ErrTxReverted, txHash)
	}

	head, err := c.HeadBlock(ctx)
	if err != nil {
		return 0, err
	}

	block := receipt.BlockNumber.Uint64()
	if head < block {
		return 0, nil
	}
	return int(head-block) + 1, nil
}

// withRetry runs fn under the call timeout with bounded exponential
// backoff. The final failure is tagged ErrChainUnavailable so callers
// can tell transport trouble apart from business errors.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		lastErr = fn(callCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrChainUnavailable, op, ctx.Err())
		}

		c.logger.Warn("Chain RPC call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt < c.cfg.RetryAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", domain.ErrChainUnavailable, op, ctx.Err())
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%w: %s: %v", domain.ErrChainUnavailable, op, lastErr)
}
