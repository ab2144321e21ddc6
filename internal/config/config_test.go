package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Port:        "8000",
		Env:         "development",
		DatabaseURL: "postgres://localhost/registry",
		CryptoKey:   strings.Repeat("ab", 32),
		MRNPrefix:   "HOS",
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_CryptoKeyRequired(t *testing.T) {
	cfg := validConfig()
	cfg.CryptoKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing CRYPTO_KEY")
	}
}

func TestValidate_CryptoKeyShape(t *testing.T) {
	cfg := validConfig()
	cfg.CryptoKey = "not-hex"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-hex key")
	}

	cfg.CryptoKey = strings.Repeat("ab", 16) // 16 bytes, too short
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for short key")
	}
}

func TestValidate_APIKeyInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing API_KEY in production")
	}

	cfg.APIKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_MRNPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.MRNPrefix = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty MRN_PREFIX")
	}
}

func TestCryptoKeyBytes(t *testing.T) {
	cfg := validConfig()
	key, err := cfg.CryptoKeyBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(key))
	}
}
