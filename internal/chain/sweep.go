package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/hdwallet"
)

// SweepTokens builds, signs and broadcasts a token transfer draining
// amount from the key's address to the cold wallet. The signing key is
// owned by the caller, which zeroes it; this function never retains it.
// Returns the broadcast tx hash.
func (c *Client) SweepTokens(ctx context.Context, key *hdwallet.SigningKey, to string, amount *big.Int) (string, error) {
	from := key.Address()
	toAddr := common.HexToAddress(to)

	var nonce uint64
	err := c.withRetry(ctx, "pending_nonce", func(ctx context.Context) error {
		var err error
		nonce, err = c.eth.PendingNonceAt(ctx, from)
		return err
	})
	if err != nil {
		return "", err
	}

	var gasPrice *big.Int
	err = c.withRetry(ctx, "suggest_gas_price", func(ctx context.Context) error {
		var err error
		gasPrice, err = c.eth.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	if c.cfg.MaxGasPrice != nil && gasPrice.Cmp(c.cfg.MaxGasPrice) > 0 {
		gasPrice = c.cfg.MaxGasPrice
	}

	// The deposit address pays its own gas; without native funds the
	// broadcast would only burn the nonce.
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(c.cfg.GasLimit))
	native, err := c.NativeBalance(ctx, from.Hex())
	if err != nil {
		return "", err
	}
	if native.Cmp(gasCost) < 0 {
		return "", fmt.Errorf("insufficient gas on %s: have %s, need %s",
			from.Hex(), native.String(), gasCost.String())
	}

	data, err := c.erc20.Pack("transfer", toAddr, amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer: %w", err)
	}

	tx := types.NewTransaction(nonce, c.token, big.NewInt(0), c.cfg.GasLimit, gasPrice, data)

	signer := types.NewEIP155Signer(c.cfg.ChainID)
	signedTx, err := types.SignTx(tx, signer, key.ECDSA())
	if err != nil {
		return "", fmt.Errorf("failed to sign sweep: %w", err)
	}

	err = c.withRetry(ctx, "send_transaction", func(ctx context.Context) error {
		return c.eth.SendTransaction(ctx, signedTx)
	})
	if err != nil {
		return "", err
	}

	txHash := signedTx.Hash().Hex()
	c.logger.Info("Sweep transaction broadcast",
		zap.String("from", from.Hex()),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))

	return txHash, nil
}
