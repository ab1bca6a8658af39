package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/tokengate/tokengate"
	"github.com/tokengate/tokengate/credstore"
	"github.com/tokengate/tokengate/httpapi"
	"github.com/tokengate/tokengate/mail"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis unreachable: %v", err)
	}
	defer redisClient.Close()

	creds, err := credstore.Open(mustEnv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("database unreachable: %v", err)
	}
	defer creds.Close()

	var mailer tokengate.Mailer = mail.Noop{}
	if url := os.Getenv("MAIL_WEBHOOK_URL"); url != "" {
		mailer = mail.NewWebhook(url, nil)
	}

	engine, err := tokengate.New().
		WithConfig(engineConfig()).
		WithRedis(redisClient).
		WithCredentialStore(creds).
		WithMailer(mailer).
		Build()
	if err != nil {
		log.Fatalf("engine init: %v", err)
	}
	defer engine.Close()

	api := httpapi.NewServer(engine, httpapi.Config{
		CookieDomain: os.Getenv("COOKIE_DOMAIN"),
		CookieSecure: os.Getenv("COOKIE_SECURE") != "false",
		CronSecret:   os.Getenv("CRON_SECRET"),
	})

	server := &http.Server{
		Addr:              envOr("SERVER_ADDR", ":8080"),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runServer(ctx, server)
}

func engineConfig() tokengate.Config {
	cfg := tokengate.Config{
		JWT: tokengate.JWTConfig{
			SigningMethod: envOr("JWT_SIGNING_METHOD", "ed25519"),
			Issuer:        envOr("JWT_ISSUER", "tokengate"),
		},
		PasswordReset: tokengate.PasswordResetConfig{
			LinkBaseURL: mustEnv("RESET_LINK_BASE_URL"),
		},
	}

	switch cfg.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(mustEnv("JWT_SECRET"))
	default:
		cfg.JWT.PrivateKey = mustKey("JWT_PRIVATE_KEY_B64")
		cfg.JWT.PublicKey = mustKey("JWT_PUBLIC_KEY_B64")
	}

	if ttl := os.Getenv("ACCESS_TTL"); ttl != "" {
		cfg.JWT.AccessTTL = mustDuration("ACCESS_TTL", ttl)
	}
	if ttl := os.Getenv("REFRESH_TTL"); ttl != "" {
		cfg.JWT.RefreshTTL = mustDuration("REFRESH_TTL", ttl)
	}

	return cfg
}

func runServer(ctx context.Context, server *http.Server) {
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-signals:
		log.Printf("received %v, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s is required", key)
	}
	return value
}

func mustKey(key string) []byte {
	raw, err := base64.StdEncoding.DecodeString(mustEnv(key))
	if err != nil {
		log.Fatalf("%s is not valid base64: %v", key, err)
	}
	return raw
}

func mustDuration(key, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("%s is not a duration: %v", key, err)
	}
	return d
}
