package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"revintel/internal/servicetoken"
	"revintel/internal/usertoken"
	"revintel/internal/util"
	"revintel/services/gateway/internal/authclient"
	"revintel/services/gateway/internal/config"
	"revintel/services/gateway/internal/intelclient"
	"revintel/services/gateway/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	signer, err := servicetoken.NewSignerWithOptions(servicetoken.SignerOptions{
		PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
		KeyID:          cfg.InternalJWTKeyID,
		Issuer:         "gateway-service",
	})
	if err != nil {
		log.Fatalf("failed to init service token signer: %v", err)
	}

	httpServer, err := server.New(server.Config{
		Auth:                      authclient.NewClient(cfg.AuthServiceURL),
		Intel:                     intelclient.NewClient(cfg.IntelServiceURL, signer),
		TokenVerifier:             tokenVerifier,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		OTPRequestRateLimitPerMin: cfg.OTPRequestRateLimitPerMinute,
		OTPVerifyRateLimitPerMin:  cfg.OTPVerifyRateLimitPerMinute,
		RefreshRateLimitPerMin:    cfg.RefreshRateLimitPerMinute,
		MaxProxyBodyBytes:         cfg.MaxProxyBodyBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	handler := util.WithRequestID(util.WithRequestLog("gateway", httpServer.Router()))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("gateway listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
