package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chaptertrack/internal/account"
	"chaptertrack/internal/auth"
	"chaptertrack/internal/cloud"
	"chaptertrack/internal/logging"
	synchub "chaptertrack/internal/sync"
	"chaptertrack/pkg/database"
	"chaptertrack/pkg/utils"
)

func main() {
	cfg, err := utils.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, closer, err := logging.Setup(logging.Options{File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer closer.Close()

	db := database.MustOpen(database.Config{Path: cfg.ServerDBPath})
	defer db.Close()

	if err := database.Migrate(db, database.Server); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	router := gin.Default()
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	tokenSvc := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}
	authRepo := auth.NewRepo(db)

	hub := synchub.NewHub()
	tcpSrv := synchub.NewServer(cfg.SyncTCPAddr, hub, func(ctx context.Context, token string) (string, error) {
		claims, err := auth.Authenticate(ctx, tokenSvc, authRepo, token)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":      "not_ready",
				"db_error":    err.Error(),
				"tcp_clients": stats.TCPClients,
				"ws_clients":  stats.WSClients,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"db":          "ok",
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
		})
	})

	authHandler := auth.NewHandler(authRepo, tokenSvc)
	authHandler.RegisterRoutes(router.Group("/auth"))

	protected := router.Group("/users")
	protected.Use(auth.AuthMiddleware(tokenSvc, authRepo))

	account.NewHandler(authRepo, cfg.DeletionGrace).RegisterRoutes(protected)

	cloudRepo := cloud.NewRepo(db)
	covers := cloud.CoverStore{Dir: cfg.Covers.Dir, BaseURL: cfg.Covers.BaseURL}
	cloudHandler := cloud.NewHandler(cloud.NewService(cloudRepo, hub), covers)
	cloudHandler.RegisterRoutes(protected)
	cloudHandler.RegisterFiles(router)

	router.GET("/ws", auth.AuthMiddleware(tokenSvc, authRepo), synchub.WSHandler(hub, func(c *gin.Context) string {
		if claims := auth.MustGetClaims(c); claims != nil {
			return claims.UserID
		}
		return ""
	}))

	httpSrv := &http.Server{
		Addr:    cfg.APIAddr,
		Handler: router,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpSrv.Run(); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Printf("HTTP API server listening on %s", cfg.APIAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	purger := account.NewPurger(authRepo, cloudRepo, covers, hub, cfg.PurgeInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		purger.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("shutdown signal received: %s", sig)
	case err := <-errCh:
		logger.Printf("server error: %v", err)
	}

	logger.Println("shutting down servers")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
	if err := tcpSrv.Close(); err != nil {
		logger.Printf("tcp shutdown error: %v", err)
	}

	wg.Wait()
	logger.Println("servers stopped")
}
