// Package httpapi exposes the wallet service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/storewallet/internal/config"
	"github.com/MarkoPoloResearchLab/storewallet/internal/metrics"
	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	shutdownTimeout  = 5 * time.Second
)

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, service *wallet.Service, recorder *metrics.Recorder, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, err := NewSessionValidator(cfg)
	if err != nil {
		return err
	}
	router := NewRouter(cfg, service, validator, recorder, logger)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewSessionValidator builds the TAuth cookie validator from cfg.
func NewSessionValidator(cfg config.Config) (*sessionvalidator.Validator, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return validator, nil
}

// NewRouter wires every route. recorder may be nil.
func NewRouter(cfg config.Config, service *wallet.Service, validator *sessionvalidator.Validator, recorder *metrics.Recorder, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if recorder != nil {
		router.Use(recorder.GinMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if recorder != nil {
		router.GET("/metrics", gin.WrapH(recorder.Handler()))
	}

	handler := newHandler(cfg, service, logger)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.GET("/session", handler.handleSession)
	api.GET("/wallet", handler.handleWallet)
	api.POST("/wallet/requests", handler.handleSubmitRequest)
	api.GET("/stores/:storeID/perks", handler.handlePerks)
	api.POST("/stores/:storeID/perks/:perkType/purchase", handler.handlePurchase)

	admin := api.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/wallet-requests", handler.handleListRequests)
	admin.POST("/wallet-requests/:requestID/approve", handler.handleApprove)
	admin.POST("/wallet-requests/:requestID/reject", handler.handleReject)
	admin.GET("/accounts/:userID/reconcile", handler.handleReconcile)
	admin.POST("/stores/:storeID/owner", handler.handleLinkStore)

	return router
}
