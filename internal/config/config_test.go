package config

import "testing"

func TestLoadDefaultsToLocal(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AppEnv != EnvLocal {
		t.Fatalf("expected local env by default, got %s", cfg.AppEnv)
	}
	if cfg.APIChatTotalTimeoutMs != 20000 {
		t.Fatalf("expected default chat timeout 20000, got %d", cfg.APIChatTotalTimeoutMs)
	}
	if cfg.MinPassTimeoutMs != 250 || cfg.MinBudgetPerPass != 50 || cfg.MaxPassesEver != 5 {
		t.Fatalf("unexpected deep-think defaults: %+v", cfg)
	}
}

func TestLoadProductionRequiresBaseURLAndCORS(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("BACKEND_PUBLIC_BASE_URL", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("MODEL_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing production requirements")
	}

	t.Setenv("BACKEND_PUBLIC_BASE_URL", "https://api.example.com")
	t.Setenv("CORS_ORIGINS", "https://example.com")
	t.Setenv("MODEL_API_KEY", "sk-test")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error once requirements satisfied: %v", err)
	}
}

func TestTieredModelAPIKeyFallsBackToShared(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("MODEL_API_KEY", "")
	t.Setenv("API_KEY", "shared-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ModelAPIKey != "shared-key" {
		t.Fatalf("expected shared key fallback, got %q", cfg.ModelAPIKey)
	}
}

func TestCORSOriginsSplitsAndTrims(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("CORS_ORIGINS", " https://a.example.com ,https://b.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://a.example.com" {
		t.Fatalf("unexpected CORS origins: %+v", cfg.CORSOrigins)
	}
}
