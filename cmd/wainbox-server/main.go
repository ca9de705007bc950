package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"

	"wainbox/internal/auth"
	"wainbox/internal/boot"
	"wainbox/internal/handlers"
	"wainbox/internal/service/ingest"
	"wainbox/internal/service/send"
	"wainbox/internal/service/session"
	"wainbox/internal/store"
)

type config struct {
	boot.Config
	store          *store.Store
	keys           *auth.KeyRing
	ingestService  handlers.Ingestor
	sendService    handlers.Sender
	sessionService handlers.SessionService
}

func newConfig(bootConfig *boot.Config) *config {
	db, err := store.New(bootConfig)
	if err != nil {
		log.Fatalf("creating store: %+v", err)
	}

	keys, err := auth.LoadKeyRing(bootConfig.Auth.SigningKeyFile)
	if err != nil {
		log.Fatalf("loading signing key: %+v", err)
	}

	return &config{
		Config:         *bootConfig,
		store:          db,
		keys:           keys,
		ingestService:  ingest.New(bootConfig, db),
		sendService:    send.New(bootConfig, db),
		sessionService: session.New(bootConfig, keys),
	}
}

func (c *config) Close() {
	c.keys.Close()
	c.store.Close()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPassword()
		return
	}

	bootConfig, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	config := newConfig(bootConfig)
	defer config.Close()

	if config.AuthEnabled() {
		if err := config.keys.Watch(); err != nil {
			log.Fatalf("watching signing key: %+v", err)
		}
	}

	server := echo.New()
	server.HideBanner = config.IsProduction()
	server.Use(middleware.BodyLimit(config.Server.BodyLimit))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("wainbox"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     strings.Split(config.Server.Origins, ","),
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	server.GET("/healthz", handlers.Health(config.store))
	server.GET("/webhook", handlers.VerifyWebhook(config.Webhook.VerifyToken))
	server.POST("/webhook", handlers.Webhook(config.ingestService, config.Webhook.AppSecret))
	server.POST("/session", handlers.CreateSession(config.sessionService))
	server.GET("/session/key", handlers.GetSigningKey(config.keys))

	api := server.Group("/api")
	if config.AuthEnabled() {
		api.Use(auth.RequireOperator(config.keys))
	} else {
		log.Warn("OPERATOR_PASSWORD_HASH not set, /api is unauthenticated")
	}
	api.POST("/send", handlers.Send(config.sendService))
	api.GET("/conversations", handlers.ListConversations(config.store))
	api.GET("/conversations/:conversationKey", handlers.GetConversation(config.store))

	metrics := echo.New()
	metrics.HideBanner = true
	metrics.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metrics.Start(":" + config.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(":" + config.Server.Port); err != nil && err != http.ErrServerClosed {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Fatal(err)
	}
	if err := metrics.Shutdown(ctx); err != nil {
		log.Error(err)
	}
}

// hashPassword prints a value for OPERATOR_PASSWORD_HASH from a password read
// on stdin.
func hashPassword() {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("reading password: %+v", err)
	}
	hash, err := session.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		log.Fatalf("hashing password: %+v", err)
	}
	fmt.Println(hash)
}
