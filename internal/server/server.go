package server

import (
	"context"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/config"
	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
	"github.com/cyberFlowTech/zapry-settlement/internal/usecase"
)

// WalletService is the wallet surface the API exposes.
type WalletService interface {
	GetOrCreateWallet(ctx context.Context, userID string) (*domain.UserWallet, error)
}

// QuotaService is the balance and quota surface the API exposes.
type QuotaService interface {
	CheckAndConsume(ctx context.Context, userID, feature string) (domain.Outcome, error)
	GetBalanceInfo(ctx context.Context, userID string) (*domain.BalanceInfo, error)
	DailySummary(ctx context.Context, userID string) ([]usecase.FeatureQuota, error)
	TopUp(ctx context.Context, userID string, amount *big.Int) (*big.Int, error)
}

// Server is the HTTP API over the settlement core.
type Server struct {
	wallets       WalletService
	quota         QuotaService
	adminToken    string
	tokenDecimals int
	logger        *zap.Logger
}

func New(wallets WalletService, quota QuotaService, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		wallets:       wallets,
		quota:         quota,
		adminToken:    cfg.HTTP.AdminToken,
		tokenDecimals: cfg.Chain.TokenDecimals,
		logger:        logger,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		users := v1.Group("/users/:user_id")
		users.POST("/wallet", s.handleGetOrCreateWallet)
		users.GET("/balance", s.handleGetBalance)
		users.GET("/quota", s.handleGetQuota)
		users.POST("/consume", s.handleConsume)

		admin := v1.Group("/admin", s.requireAdminToken())
		admin.POST("/topup", s.handleAdminTopUp)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}

func (s *Server) requireAdminToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken == "" || c.GetHeader("X-Admin-Token") != s.adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}
