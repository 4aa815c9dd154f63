package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved process configuration: YAML file overridden
// by environment variables, in that order.
type Config struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Database struct {
		DSN              string `yaml:"dsn"`
		OrchestrationDSN string `yaml:"orchestration_dsn"`
		MasterdataDSN    string `yaml:"masterdata_dsn"`
		ListenerDSN      string `yaml:"listener_dsn"`
	} `yaml:"database"`

	Checkpoint struct {
		Backend string `yaml:"backend"` // "memory" or "durable"
	} `yaml:"checkpoint"`

	Listener struct {
		Enabled      []string      `yaml:"enabled"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"listener"`

	Channel struct {
		AllowFrom map[string][]string `yaml:"allow_from"`
	} `yaml:"channel"`

	JMAP struct {
		URL        string `yaml:"url"`
		SessionURL string `yaml:"session_url"`
		AccountID  string `yaml:"account_id"`
		Username   string `yaml:"username"`
		Password   string `yaml:"password"`
		PushSecret string `yaml:"push_secret"`
	} `yaml:"jmap"`

	OAuthChannel struct {
		BaseURL      string   `yaml:"base_url"`
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"oauth_channel"`

	LLM struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"llm"`

	ERP struct {
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		TenantID string `yaml:"tenant_id"`
	} `yaml:"erp"`

	Blob struct {
		BaseDir string `yaml:"base_dir"`
	} `yaml:"blob"`

	Masterdata struct {
		BaseURL  string        `yaml:"base_url"`
		APIKey   string        `yaml:"api_key"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"masterdata"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Security struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"security"`
}

func Default() Config {
	var cfg Config
	cfg.App.Env = "dev"
	cfg.HTTP.Addr = ":8090"
	cfg.Log.Level = "info"
	cfg.Checkpoint.Backend = "memory"
	cfg.Listener.PollInterval = 30 * time.Second
	cfg.Masterdata.CacheTTL = 5 * time.Minute
	cfg.Blob.BaseDir = "public/files"
	cfg.SMTP.Host = "localhost"
	cfg.SMTP.Port = 2525
	cfg.SMTP.From = "dev@local.mcs-orchestrator"
	return cfg
}

// Load resolves Config from an optional YAML file, then layers
// environment variables over it. Mirrors the teacher's
// Default() -> file -> applyEnv() three-stage pattern.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if cfg.Database.DSN == "" && cfg.Database.OrchestrationDSN == "" {
		return cfg, errors.New("missing database dsn (set DB_DSN or ORCHESTRATION_DB_DSN)")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("MCS_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CHECKPOINT_BACKEND"); v != "" {
		cfg.Checkpoint.Backend = v
	}
	if v := os.Getenv("ENABLED_LISTENERS"); v != "" {
		cfg.Listener.Enabled = splitCSV(v)
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Listener.PollInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("CHANNEL_ALLOW_FROM"); v != "" {
		var m map[string][]string
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			cfg.Channel.AllowFrom = m
		}
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ORCHESTRATION_DB_DSN"); v != "" {
		cfg.Database.OrchestrationDSN = v
	}
	if v := os.Getenv("MASTERDATA_DB_DSN"); v != "" {
		cfg.Database.MasterdataDSN = v
	}
	if v := os.Getenv("LISTENER_DB_DSN"); v != "" {
		cfg.Database.ListenerDSN = v
	}
	if v := os.Getenv("MCS_JMAP_URL"); v != "" {
		cfg.JMAP.URL = v
	}
	if v := os.Getenv("MCS_JMAP_SESSION_URL"); v != "" {
		cfg.JMAP.SessionURL = v
	}
	if v := os.Getenv("MCS_JMAP_ACCOUNT_ID"); v != "" {
		cfg.JMAP.AccountID = v
	}
	if v := os.Getenv("MCS_JMAP_USERNAME"); v != "" {
		cfg.JMAP.Username = v
	}
	if v := os.Getenv("MCS_JMAP_PASSWORD"); v != "" {
		cfg.JMAP.Password = v
	}
	if v := os.Getenv("MCS_JMAP_PUSH_SECRET"); v != "" {
		cfg.JMAP.PushSecret = v
	}
	if v := os.Getenv("MCS_OAUTH_BASE_URL"); v != "" {
		cfg.OAuthChannel.BaseURL = v
	}
	if v := os.Getenv("MCS_OAUTH_TOKEN_URL"); v != "" {
		cfg.OAuthChannel.TokenURL = v
	}
	if v := os.Getenv("MCS_OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuthChannel.ClientID = v
	}
	if v := os.Getenv("MCS_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuthChannel.ClientSecret = v
	}
	if v := os.Getenv("MCS_OAUTH_SCOPES"); v != "" {
		cfg.OAuthChannel.Scopes = splitCSV(v)
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ERP_BASE_URL"); v != "" {
		cfg.ERP.BaseURL = v
	}
	if v := os.Getenv("ERP_API_KEY"); v != "" {
		cfg.ERP.APIKey = v
	}
	if v := os.Getenv("ERP_TENANT_ID"); v != "" {
		cfg.ERP.TenantID = v
	}
	if v := os.Getenv("BLOB_BASE_DIR"); v != "" {
		cfg.Blob.BaseDir = v
	}
	if v := os.Getenv("MCS_MASTERDATA_BASE_URL"); v != "" {
		cfg.Masterdata.BaseURL = v
	}
	if v := os.Getenv("MCS_MASTERDATA_API_KEY"); v != "" {
		cfg.Masterdata.APIKey = v
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Masterdata.CacheTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MCS_SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("MCS_SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if v := os.Getenv("MCS_SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("MCS_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("MCS_SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("MCS_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("MCS_API_KEY"); v != "" {
		cfg.Security.APIKey = v
	}
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}
