package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tyler-smith/go-bip39"
)

type Config struct {
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Chain    ChainConfig
	Wallet   WalletConfig
	Monitor  MonitorConfig
	Sweep    SweepConfig
	Quota    QuotaConfig
}

type HTTPConfig struct {
	ListenAddr string
	AdminToken string
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ChainConfig struct {
	RPCURL        string
	ChainID       int64
	TokenAddress  string
	TokenDecimals int
	GasLimit      uint64
	MaxGasPrice   *big.Int // wei
}

type WalletConfig struct {
	// Mnemonic is the HD master seed phrase. Held in memory only; it is
	// never persisted, never logged.
	Mnemonic   string
	ColdWallet string
}

type MonitorConfig struct {
	PollInterval           time.Duration
	ConfirmationThreshold  int
	MaxBlockRangePerScan   uint64
	StartBlock             uint64 // initial checkpoint for brand-new wallets
}

type SweepConfig struct {
	Interval  time.Duration
	Threshold *big.Int // token base units; balances below are left alone
	LockTTL   time.Duration
}

// FeaturePolicy is the daily free allowance and the per-use price of a
// metered feature, price in token base units.
type FeaturePolicy struct {
	FreePerDay int
	Price      *big.Int
}

type QuotaConfig struct {
	Features map[string]FeaturePolicy
}

// Load reads configuration from the environment. Defaults match BSC
// mainnet USDT. Call Validate before using the result.
func Load() (*Config, error) {
	maxGasGwei := getEnvAsInt64("CHAIN_MAX_GAS_PRICE_GWEI", 10)

	sweepThreshold, err := getEnvAsBigInt("SWEEP_THRESHOLD", "1000000000000000000") // 1 USDT at 18 decimals
	if err != nil {
		return nil, err
	}

	quota, err := loadQuota()
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTP: HTTPConfig{
			ListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
			AdminToken: os.Getenv("ADMIN_TOKEN"),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/settlement?sslmode=disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       int(getEnvAsInt64("REDIS_DB", 0)),
		},
		Chain: ChainConfig{
			RPCURL:        getEnv("CHAIN_RPC_URL", "https://bsc-dataseed.binance.org"),
			ChainID:       getEnvAsInt64("CHAIN_ID", 56),
			TokenAddress:  getEnv("TOKEN_ADDRESS", "0x55d398326f99059fF775485246999027B3197955"),
			TokenDecimals: int(getEnvAsInt64("TOKEN_DECIMALS", 18)),
			GasLimit:      uint64(getEnvAsInt64("CHAIN_GAS_LIMIT", 65000)),
			MaxGasPrice:   new(big.Int).Mul(big.NewInt(maxGasGwei), big.NewInt(1e9)),
		},
		Wallet: WalletConfig{
			Mnemonic:   os.Getenv("HD_MNEMONIC"),
			ColdWallet: os.Getenv("COLD_WALLET_ADDRESS"),
		},
		Monitor: MonitorConfig{
			PollInterval:          getEnvAsDuration("POLL_INTERVAL", 30*time.Second),
			ConfirmationThreshold: int(getEnvAsInt64("CONFIRMATION_THRESHOLD", 12)),
			MaxBlockRangePerScan:  uint64(getEnvAsInt64("MAX_BLOCK_RANGE_PER_SCAN", 5000)),
			StartBlock:            uint64(getEnvAsInt64("SCAN_START_BLOCK", 0)),
		},
		Sweep: SweepConfig{
			Interval:  getEnvAsDuration("SWEEP_INTERVAL", 10*time.Minute),
			Threshold: sweepThreshold,
			LockTTL:   getEnvAsDuration("SWEEP_LOCK_TTL", 5*time.Minute),
		},
		Quota: quota,
	}, nil
}

// loadQuota reads per-feature allowances and prices. Prices are token
// base units.
func loadQuota() (QuotaConfig, error) {
	chatPrice, err := getEnvAsBigInt("PRICE_AI_CHAT", "100000000000000000") // 0.1 USDT
	if err != nil {
		return QuotaConfig{}, err
	}
	tarotPrice, err := getEnvAsBigInt("PRICE_TAROT_READING", "500000000000000000") // 0.5 USDT
	if err != nil {
		return QuotaConfig{}, err
	}
	tarotDetailPrice, err := getEnvAsBigInt("PRICE_TAROT_DETAIL", "1000000000000000000") // 1 USDT
	if err != nil {
		return QuotaConfig{}, err
	}

	return QuotaConfig{
		Features: map[string]FeaturePolicy{
			"chat": {
				FreePerDay: int(getEnvAsInt64("FREE_CHAT_DAILY", 10)),
				Price:      chatPrice,
			},
			"tarot": {
				FreePerDay: int(getEnvAsInt64("FREE_TAROT_DAILY", 3)),
				Price:      tarotPrice,
			},
			"tarot_detail": {
				FreePerDay: 0, // always paid
				Price:      tarotDetailPrice,
			},
		},
	}, nil
}

// Validate enforces the fatal startup requirements: a usable master
// seed and a usable cold wallet. The process must not come up without
// them.
func (c *Config) Validate() error {
	if c.Wallet.Mnemonic == "" {
		return fmt.Errorf("HD_MNEMONIC is not set")
	}
	if !bip39.IsMnemonicValid(c.Wallet.Mnemonic) {
		return fmt.Errorf("HD_MNEMONIC is not a valid BIP-39 mnemonic")
	}
	if c.Wallet.ColdWallet == "" {
		return fmt.Errorf("COLD_WALLET_ADDRESS is not set")
	}
	if !common.IsHexAddress(c.Wallet.ColdWallet) {
		return fmt.Errorf("COLD_WALLET_ADDRESS is not a valid address: %s", c.Wallet.ColdWallet)
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		return fmt.Errorf("TOKEN_ADDRESS is not a valid address: %s", c.Chain.TokenAddress)
	}
	if c.Monitor.ConfirmationThreshold < 1 {
		return fmt.Errorf("CONFIRMATION_THRESHOLD must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBigInt(key, defaultValue string) (*big.Int, error) {
	valueStr := getEnv(key, defaultValue)
	value, ok := new(big.Int).SetString(valueStr, 10)
	if !ok {
		return nil, fmt.Errorf("%s is not a valid integer amount: %q", key, valueStr)
	}
	return value, nil
}
