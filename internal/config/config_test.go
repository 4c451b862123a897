package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.ResponseWindow != 12*time.Hour {
		t.Errorf("Expected 12h response window, got %v", cfg.ResponseWindow)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("Expected 1m sweep interval, got %v", cfg.SweepInterval)
	}
	rate, err := cfg.ServiceFee()
	if err != nil || rate != 1500 {
		t.Errorf("Expected 1500 bps fee, got %d (%v)", rate, err)
	}
	if cfg.WebhookRetention != 30*24*time.Hour || cfg.CleanupInterval != time.Hour {
		t.Errorf("Unexpected cleanup defaults %v / %v", cfg.WebhookRetention, cfg.CleanupInterval)
	}
	if len(cfg.Brokers()) != 0 {
		t.Errorf("Expected Kafka disabled by default, got %v", cfg.Brokers())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "PORT: \"9090\"\nSTORAGE: memory\nRESPONSE_WINDOW: 30m\nKAFKA_BROKERS: \"k1:9092, k2:9092\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("RESPONSE_WINDOW", "45m")
	t.Setenv("SERVICE_FEE_PERCENT", "12.5")

	v := viper.New()
	v.SetConfigFile(path)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Port != "9090" || cfg.Storage != "memory" {
		t.Errorf("Expected file values, got port=%s storage=%s", cfg.Port, cfg.Storage)
	}
	if cfg.ResponseWindow != 45*time.Minute {
		t.Errorf("Expected env to win with 45m, got %v", cfg.ResponseWindow)
	}
	if rate, _ := cfg.ServiceFee(); rate != 1250 {
		t.Errorf("Expected 1250 bps, got %d", rate)
	}
	brokers := cfg.Brokers()
	if len(brokers) != 2 || brokers[0] != "k1:9092" || brokers[1] != "k2:9092" {
		t.Errorf("Unexpected brokers %v", brokers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"storage", "STORAGE", "mongo"},
		{"window", "RESPONSE_WINDOW", "0s"},
		{"fee", "SERVICE_FEE_PERCENT", "150"},
		{"void attempts", "MAX_VOID_ATTEMPTS", "0"},
		{"cleanup interval", "CLEANUP_INTERVAL", "0s"},
		{"fee precision", "SERVICE_FEE_PERCENT", "12.345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(viper.New()); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
