package main

import (
	"net/http"
	"os"
	"time"

	"github.com/harman698/OnGoPool/internal/railsim"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	server := railsim.NewServer(railsim.Config{
		ClientID:         getEnv("WALLET_CLIENT_ID", "sandbox-client"),
		ClientSecret:     getEnv("WALLET_CLIENT_SECRET", "sandbox-secret"),
		WebhookID:        getEnv("WALLET_WEBHOOK_ID", "sandbox-webhook"),
		AuthorizationTTL: getDuration("SIM_AUTHORIZATION_TTL", 29*24*time.Hour),
	})

	port := getEnv("PORT", "8081")
	addr := ":" + port

	logger.Info().Str("addr", addr).Msg("Wallet simulator starting")
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return d
}
