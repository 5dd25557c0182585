package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Avanquish/DoughNation-sub002/internal/api"
	"github.com/Avanquish/DoughNation-sub002/internal/config"
	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/websocket"
)

func main() {
	// Set up logging to file
	logFile, err := os.OpenFile("relay.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()

	// Configure log to write to both file and console
	logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Println("Relay logging initialized - output directed to console and relay.log")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}
	if err := cfg.RequireSecret(); err != nil {
		log.Fatal(err)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	wsManager := websocket.NewManager()
	go wsManager.Run()

	router := api.SetupRouter(wsManager, api.RouterOptions{
		Secret:    []byte(cfg.JWTSecret),
		TokenTTL:  cfg.TokenTTL,
		DevTokens: cfg.Env == "development",
		Middleware: []gin.HandlerFunc{
			gin.Logger(),
			cors.New(cors.Config{
				AllowOrigins:     cfg.AllowedOrigins,
				AllowMethods:     []string{"GET", "POST", "OPTIONS"},
				AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
				ExposeHeaders:    []string{"Content-Length"},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			}),
		},
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Relay starting on port %s (%s)", cfg.Port, cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start relay: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Relay forced to shutdown: %v", err)
	}

	log.Println("Relay exited properly")
}
