package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/zodiaclab/starledger/pkg/billing"
	"github.com/zodiaclab/starledger/pkg/wallet"
	"go.uber.org/zap"
)

// Server is the JSON façade the Telegram Mini App talks to. It renders
// orchestrator outcomes and wallet views; all billing decisions stay in
// the core.
type Server struct {
	logger       *zap.Logger
	wallet       *wallet.Service
	orchestrator *billing.Orchestrator
	cfg          Config
}

// NewServer wires a Server.
func NewServer(cfg Config, logger *zap.Logger, walletService *wallet.Service, orchestrator *billing.Orchestrator) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if walletService == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	return &Server{
		logger:       logger,
		wallet:       walletService,
		orchestrator: orchestrator,
		cfg:          cfg,
	}, nil
}

var ginModeOnce sync.Once

// Router builds the gin engine with all routes registered.
func (server *Server) Router() *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(sessionMiddleware([]byte(server.cfg.SessionSigningKey), server.cfg.SessionIssuer))

	api.GET("/wallet", server.handleWallet)
	api.GET("/history", server.handleHistory)
	api.GET("/entries", server.handleEntries)
	api.GET("/prices", server.handlePrices)
	api.POST("/deposit", server.handleDeposit)
	api.POST("/services/:kind", server.handleService)

	return router
}

// Run serves the API until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) handleWallet(ctx *gin.Context) {
	accountID, authenticated := accountIDFromContext(ctx)
	if !authenticated {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()

	stats, err := server.wallet.Stats(requestCtx, accountID)
	if err != nil {
		server.logger.Error("stats lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "could not load wallet"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":      true,
		"balance":      stats.Balance,
		"total_earned": stats.TotalEarned,
		"total_spent":  stats.TotalSpent,
		"is_free_tier": server.orchestrator.IsFreeAccount(accountID),
	})
}

func (server *Server) handleHistory(ctx *gin.Context) {
	accountID, authenticated := accountIDFromContext(ctx)
	if !authenticated {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()

	entries, err := server.wallet.History(requestCtx, accountID, server.cfg.HistoryLimit)
	if err != nil {
		server.logger.Error("history lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "could not load history"))
		return
	}
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"service_tag": entry.ServiceTag.String(),
			"cost":        entry.Amount,
			"timestamp":   entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "history": items})
}

// handleEntries returns the full ledger trail of every kind, most
// recent first. Unlike the spend-only history view this includes
// deposits and refund credits, so a charged-then-refunded request shows
// up as its matched debit and credit pair.
func (server *Server) handleEntries(ctx *gin.Context) {
	accountID, authenticated := accountIDFromContext(ctx)
	if !authenticated {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()

	entries, err := server.wallet.Entries(requestCtx, accountID, server.cfg.HistoryLimit)
	if err != nil {
		server.logger.Error("entries lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "could not load entries"))
		return
	}
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"kind":        entry.Kind.String(),
			"service_tag": entry.ServiceTag.String(),
			"amount":      entry.Amount,
			"timestamp":   entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "entries": items})
}

func (server *Server) handlePrices(ctx *gin.Context) {
	prices := gin.H{}
	for kind, cost := range server.orchestrator.Prices() {
		prices[kind.String()] = cost
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "prices": prices})
}

type depositRequest struct {
	Amount    int64  `json:"amount"`
	PaymentID string `json:"payment_id"`
}

func (server *Server) handleDeposit(ctx *gin.Context) {
	accountID, authenticated := accountIDFromContext(ctx)
	if !authenticated {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request depositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()

	newBalance, err := server.orchestrator.Deposit(requestCtx, accountID, request.Amount, request.PaymentID)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidDepositAmount) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "deposit amount must be positive"))
			return
		}
		server.logger.Error("deposit failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "deposit failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "balance": newBalance})
}

type serviceRequest struct {
	Params map[string]string `json:"params"`
}

func (server *Server) handleService(ctx *gin.Context) {
	accountID, authenticated := accountIDFromContext(ctx)
	if !authenticated {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	kind, err := billing.ParseServiceKind(ctx.Param("kind"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("unknown_service", err.Error()))
		return
	}
	var request serviceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	result, err := server.orchestrator.Request(ctx.Request.Context(), accountID, kind, billing.Params(request.Params))
	if err != nil {
		server.logger.Error("service request failed", zap.String("kind", kind.String()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "request failed"))
		return
	}

	switch result.Outcome {
	case billing.OutcomeSuccess:
		ctx.JSON(http.StatusOK, gin.H{
			"success": true,
			"content": result.Content,
			"cost":    result.Cost,
			"balance": result.Balance,
		})
	case billing.OutcomePaymentRequired:
		ctx.JSON(http.StatusPaymentRequired, gin.H{
			"success":          false,
			"error":            result.Reason,
			"payment_required": true,
			"cost":             result.Cost,
			"balance":          result.Balance,
		})
	case billing.OutcomeRejectedInput:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_params", result.Reason))
	case billing.OutcomeServiceUnavailable:
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"success":   false,
			"error":     "content generation is temporarily unavailable, funds were not kept",
			"retryable": true,
		})
	default:
		server.logger.Error("unexpected outcome", zap.String("outcome", string(result.Outcome)))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "unexpected outcome"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"success": false, "error": code, "message": message}
}
