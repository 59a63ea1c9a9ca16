package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
	"github.com/cyberFlowTech/zapry-settlement/pkg/utils"
)

type consumeRequest struct {
	Feature string `json:"feature" binding:"required"`
}

type topUpRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (s *Server) handleGetOrCreateWallet(c *gin.Context) {
	userID := c.Param("user_id")

	wallet, err := s.wallets.GetOrCreateWallet(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to resolve wallet",
			zap.String("user_id", userID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve wallet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":          wallet.UserID,
		"address":          wallet.Address,
		"derivation_index": wallet.DerivationIndex,
	})
}

func (s *Server) handleGetBalance(c *gin.Context) {
	userID := c.Param("user_id")

	info, err := s.quota.GetBalanceInfo(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to get balance",
			zap.String("user_id", userID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":         info.UserID,
		"balance":         utils.FormatAmount(info.Balance, s.tokenDecimals),
		"balance_raw":     info.Balance.String(),
		"total_recharged": utils.FormatAmount(info.TotalRecharged, s.tokenDecimals),
		"total_spent":     utils.FormatAmount(info.TotalSpent, s.tokenDecimals),
	})
}

func (s *Server) handleGetQuota(c *gin.Context) {
	userID := c.Param("user_id")

	summary, err := s.quota.DailySummary(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to get quota summary",
			zap.String("user_id", userID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get quota"})
		return
	}

	features := make([]gin.H, 0, len(summary))
	for _, q := range summary {
		features = append(features, gin.H{
			"feature":        q.Feature,
			"free_remaining": q.FreeRemaining,
			"price":          utils.FormatAmount(q.Price, s.tokenDecimals),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"features": features,
	})
}

func (s *Server) handleConsume(c *gin.Context) {
	userID := c.Param("user_id")

	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature is required"})
		return
	}

	outcome, err := s.quota.CheckAndConsume(c.Request.Context(), userID, req.Feature)
	if err != nil {
		s.logger.Error("Failed to consume quota",
			zap.String("user_id", userID),
			zap.String("feature", req.Feature),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if outcome == domain.OutcomeDenied {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, gin.H{
		"user_id": userID,
		"feature": req.Feature,
		"outcome": string(outcome),
	})
}

func (s *Server) handleAdminTopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and amount are required"})
		return
	}

	amount, err := utils.ParseAmount(req.Amount, s.tokenDecimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	newBalance, err := s.quota.TopUp(c.Request.Context(), req.UserID, amount)
	if err != nil {
		s.logger.Error("Failed to top up",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to top up"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     req.UserID,
		"new_balance": utils.FormatAmount(newBalance, s.tokenDecimals),
	})
}
