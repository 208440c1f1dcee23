// Package server wires the ledger, its stores and its HTTP and gRPC surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/database"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/observability"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/recraft"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type application struct {
	handle     *database.Handle
	service    *ledger.Service
	router     http.Handler
	grpcServer *grpc.Server
}

// Run boots the HTTP and gRPC listeners and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.handle.Close(); closeErr != nil {
			logger.Warn("database close error", zap.Error(closeErr))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("listen_addr", cfg.HTTPListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	if cfg.GRPCListenAddr != "" {
		listener, listenErr := net.Listen("tcp", cfg.GRPCListenAddr)
		if listenErr != nil {
			_ = httpServer.Close()
			return fmt.Errorf("listen: %w", listenErr)
		}
		go func() {
			logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
			errCh <- app.grpcServer.Serve(listener)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdown(httpServer, app.grpcServer, cfg.ShutdownTimeout, logger)
		return nil
	case serveErr := <-errCh:
		shutdown(httpServer, app.grpcServer, cfg.ShutdownTimeout, logger)
		if errors.Is(serveErr, http.ErrServerClosed) || errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func build(ctx context.Context, cfg Config, logger *zap.Logger) (*application, error) {
	handle, err := database.Open(ctx, database.Options{
		URL:         cfg.DatabaseURL,
		Engine:      cfg.DatabaseEngine,
		AutoMigrate: cfg.AutoMigrate,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	logger.Info("database ready", zap.String("driver", handle.Driver), zap.String("engine", handle.Engine))

	metrics, err := observability.NewMetrics()
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("metrics init: %w", err)
	}
	service, err := ledger.NewService(handle.Store, time.Now,
		ledger.WithOperationLogger(observability.MultiOperationLogger{
			observability.NewZapOperationLogger(logger),
			metrics,
		}),
		ledger.WithConflictRetries(cfg.ConflictRetries),
	)
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("session validator: %w", err)
	}

	var proxyHandler gin.HandlerFunc
	if cfg.ProxyEnabled() {
		client, clientErr := recraft.NewClient(recraft.ClientConfig{
			BaseURL: cfg.RecraftBaseURL,
			Token:   cfg.RecraftAPIToken,
			Timeout: cfg.RecraftTimeout,
		})
		if clientErr != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("recraft client: %w", clientErr)
		}
		proxyHandler = recraft.NewProxy(service, client, logger).Handle
	} else {
		logger.Warn("recraft api token not configured; image proxy disabled")
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Service:        service,
		Logger:         logger,
		Authenticator:  validator.GinMiddleware(httpapi.ClaimsContextKey),
		AllowedOrigins: cfg.AllowedOrigins,
		CreditRole:     cfg.CreditRole,
		HistoryLimit:   cfg.HistoryLimit,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metrics.Handler(),
		Middleware:     []gin.HandlerFunc{observability.RequestLogger(logger)},
		Proxy:          proxyHandler,
	})

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.TokenAuthInterceptor(cfg.GRPCAuthToken)))
	grpcserver.Register(grpcServer, grpcserver.NewTokenLedgerService(service, logger))

	return &application{handle: handle, service: service, router: router, grpcServer: grpcServer}, nil
}

func shutdown(httpServer *http.Server, grpcServer *grpc.Server, timeout time.Duration, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http server shutdown error", zap.Error(shutdownErr))
	}
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
}
