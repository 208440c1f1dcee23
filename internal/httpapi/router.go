package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeMissingOperation   = "MISSING_OPERATION"
	CodeInvalidOperation   = "INVALID_OPERATION"
	CodeInsufficientTokens = "INSUFFICIENT_TOKENS"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeBalanceNotFound    = "BALANCE_NOT_FOUND"
	CodeInternalError      = "INTERNAL_ERROR"

	defaultRequestTimeout = 5 * time.Second
)

// LedgerService is the ledger behaviour the HTTP handlers depend on.
type LedgerService interface {
	GetBalance(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, error)
	DeductTokens(ctx context.Context, userID ledger.UserID, operation string, metadata ledger.Metadata) (ledger.BalanceRecord, error)
	AddTokens(ctx context.Context, userID ledger.UserID, amount ledger.Tokens, description string, metadata ledger.Metadata) (ledger.BalanceRecord, error)
	TransactionHistory(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error)
	HandleRenewal(ctx context.Context, userID ledger.UserID) (ledger.BalanceRecord, bool, error)
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Service        LedgerService
	Logger         *zap.Logger
	Authenticator  gin.HandlerFunc
	AllowedOrigins []string
	CreditRole     string
	HistoryLimit   int
	RequestTimeout time.Duration
	Metrics        http.Handler
	Middleware     []gin.HandlerFunc
	// Proxy serves POST /api/recraft/*path when set.
	Proxy gin.HandlerFunc
}

// NewRouter builds the gin engine for the token API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cfg.Middleware...)
	// cors.New panics without origins; same-origin deployments skip it.
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:              cfg.AllowedOrigins,
			AllowMethods:              []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:              []string{"Content-Type", "Authorization", "Origin", "Accept"},
			AllowCredentials:          true,
			MaxAge:                    12 * time.Hour,
			OptionsResponseStatusCode: http.StatusOK,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	handler := &tokenHandler{
		service:      cfg.Service,
		logger:       logger,
		creditRole:   cfg.CreditRole,
		historyLimit: cfg.HistoryLimit,
		timeout:      timeout,
	}

	api := router.Group("/api")
	if cfg.Authenticator != nil {
		api.Use(cfg.Authenticator)
	}
	api.GET("/tokens", handler.handleGetTokens)
	api.POST("/tokens", handler.handleDeductTokens)
	api.PUT("/tokens", handler.handleAddTokens)
	api.POST("/tokens/renewal", handler.handleRenewal)
	if cfg.Proxy != nil {
		api.POST("/recraft/*path", cfg.Proxy)
	}
	return router
}
