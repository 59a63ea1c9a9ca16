package main

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/chain"
	"github.com/cyberFlowTech/zapry-settlement/internal/config"
	"github.com/cyberFlowTech/zapry-settlement/internal/hdwallet"
	rd "github.com/cyberFlowTech/zapry-settlement/internal/redis"
	"github.com/cyberFlowTech/zapry-settlement/internal/repository"
	"github.com/cyberFlowTech/zapry-settlement/internal/server"
	"github.com/cyberFlowTech/zapry-settlement/internal/usecase"
	"github.com/cyberFlowTech/zapry-settlement/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deriver, err := hdwallet.New(cfg.Wallet.Mnemonic)
	if err != nil {
		logger.Fatal("Failed to initialize HD wallet", zap.Error(err))
	}

	pool, err := repository.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	redisClient, err := rd.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	chainClient, err := chain.NewClient(ctx, chain.Config{
		RPCURL:       cfg.Chain.RPCURL,
		ChainID:      big.NewInt(cfg.Chain.ChainID),
		TokenAddress: cfg.Chain.TokenAddress,
		GasLimit:     cfg.Chain.GasLimit,
		MaxGasPrice:  cfg.Chain.MaxGasPrice,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to chain RPC", zap.Error(err))
	}

	walletRepo := repository.NewWalletRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	usageRepo := repository.NewUsageRepository(pool)
	sweepRepo := repository.NewSweepRepository(pool)
	locker := rd.NewLock(redisClient, logger)

	walletUsecase := usecase.NewWalletUsecase(walletRepo, deriver, logger)
	depositUsecase := usecase.NewDepositUsecase(walletRepo, orderRepo, chainClient, usecase.DepositParams{
		ConfirmationThreshold: cfg.Monitor.ConfirmationThreshold,
		MaxBlockRange:         cfg.Monitor.MaxBlockRangePerScan,
	}, logger)
	sweepUsecase := usecase.NewSweepUsecase(walletRepo, sweepRepo, chainClient, deriver, locker, usecase.SweepParams{
		ColdWallet:            cfg.Wallet.ColdWallet,
		Threshold:             cfg.Sweep.Threshold,
		ConfirmationThreshold: cfg.Monitor.ConfirmationThreshold,
		LockTTL:               cfg.Sweep.LockTTL,
	}, logger)
	quotaUsecase := usecase.NewQuotaUsecase(ledgerRepo, usageRepo, cfg.Quota, logger)

	depositMonitor := worker.NewDepositMonitor(depositUsecase, cfg.Monitor.PollInterval, logger)
	sweepWorker := worker.NewSweepWorker(sweepUsecase, cfg.Sweep.Interval, logger)
	go depositMonitor.Start(ctx)
	go sweepWorker.Start(ctx)

	api := server.New(walletUsecase, quotaUsecase, cfg, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	depositMonitor.Stop()
	sweepWorker.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
}
