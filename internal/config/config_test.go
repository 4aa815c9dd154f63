package config

import "testing"

func TestDefaultRejectsMissingDSN(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when no database dsn is configured")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/mcs")
	t.Setenv("MCS_HTTP_ADDR", ":9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHECKPOINT_BACKEND", "durable")
	t.Setenv("ENABLED_LISTENERS", "email, webhook ,im")
	t.Setenv("POLL_INTERVAL_SECONDS", "45")
	t.Setenv("CHANNEL_ALLOW_FROM", `{"email":["ops@example.com"]}`)
	t.Setenv("MCS_JMAP_URL", "http://jmap.example.com")
	t.Setenv("MCS_OAUTH_CLIENT_ID", "client-123")
	t.Setenv("MCS_OAUTH_SCOPES", "mail.read,mail.send")
	t.Setenv("LLM_BASE_URL", "http://dify.internal")
	t.Setenv("LLM_API_KEY", "app-key-1")
	t.Setenv("ERP_BASE_URL", "http://erp.internal")
	t.Setenv("ERP_API_KEY", "erp-key-1")
	t.Setenv("ERP_TENANT_ID", "tenant-1")
	t.Setenv("BLOB_BASE_DIR", "/var/data/files")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("MCS_API_KEY", "admin-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.DSN != "postgres://localhost/mcs" {
		t.Fatalf("expected database dsn override")
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("expected http addr override")
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected log level override")
	}
	if cfg.Checkpoint.Backend != "durable" {
		t.Fatalf("expected checkpoint backend override")
	}
	if len(cfg.Listener.Enabled) != 3 || cfg.Listener.Enabled[0] != "email" || cfg.Listener.Enabled[2] != "im" {
		t.Fatalf("expected trimmed csv listener list, got %+v", cfg.Listener.Enabled)
	}
	if cfg.Listener.PollInterval.Seconds() != 45 {
		t.Fatalf("expected poll interval override, got %v", cfg.Listener.PollInterval)
	}
	if got := cfg.Channel.AllowFrom["email"]; len(got) != 1 || got[0] != "ops@example.com" {
		t.Fatalf("expected channel allow-from override, got %+v", cfg.Channel.AllowFrom)
	}
	if cfg.JMAP.URL != "http://jmap.example.com" {
		t.Fatalf("expected jmap url override")
	}
	if cfg.OAuthChannel.ClientID != "client-123" {
		t.Fatalf("expected oauth client id override")
	}
	if len(cfg.OAuthChannel.Scopes) != 2 {
		t.Fatalf("expected oauth scopes override, got %+v", cfg.OAuthChannel.Scopes)
	}
	if cfg.LLM.BaseURL != "http://dify.internal" || cfg.LLM.APIKey != "app-key-1" {
		t.Fatalf("expected llm overrides")
	}
	if cfg.ERP.BaseURL != "http://erp.internal" || cfg.ERP.APIKey != "erp-key-1" || cfg.ERP.TenantID != "tenant-1" {
		t.Fatalf("expected erp overrides")
	}
	if cfg.Blob.BaseDir != "/var/data/files" {
		t.Fatalf("expected blob base dir override")
	}
	if cfg.Masterdata.CacheTTL.Seconds() != 120 {
		t.Fatalf("expected cache ttl override, got %v", cfg.Masterdata.CacheTTL)
	}
	if cfg.Security.APIKey != "admin-key" {
		t.Fatalf("expected admin api key override")
	}
}

func TestLoadOrchestrationDSNSatisfiesRequirement(t *testing.T) {
	t.Setenv("ORCHESTRATION_DB_DSN", "postgres://localhost/orchestration")

	if _, err := Load(""); err != nil {
		t.Fatalf("expected orchestration dsn alone to satisfy the dsn requirement: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Checkpoint.Backend != "memory" {
		t.Fatalf("expected default checkpoint backend memory, got %q", cfg.Checkpoint.Backend)
	}
	if cfg.Listener.PollInterval.Seconds() != 30 {
		t.Fatalf("expected default poll interval 30s, got %v", cfg.Listener.PollInterval)
	}
	if cfg.Blob.BaseDir != "public/files" {
		t.Fatalf("expected default blob base dir, got %q", cfg.Blob.BaseDir)
	}
}
