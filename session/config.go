package session

import (
	"fmt"
	"net/url"
	"time"

	"github.com/examforge/sessionkit/credstore"
	"github.com/examforge/sessionkit/gateway"
	pkgconfig "github.com/examforge/sessionkit/pkg/config"
	"github.com/examforge/sessionkit/pkg/httpclient"
	"github.com/examforge/sessionkit/pkg/logger"
)

// Config holds SDK configuration, loadable from environment variables.
type Config struct {
	APIBaseURL      string        `env:"SESSIONKIT_API_BASE_URL" envDefault:"http://localhost:3001/api"`
	HTTPTimeout     time.Duration `env:"SESSIONKIT_HTTP_TIMEOUT" envDefault:"15s"`
	MaxRetries      int           `env:"SESSIONKIT_HTTP_MAX_RETRIES" envDefault:"2"`
	LogLevel        string        `env:"SESSIONKIT_LOG_LEVEL" envDefault:"info"`
	CredentialsPath string        `env:"SESSIONKIT_CREDENTIALS_PATH"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load session config: %w", err)
	}

	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL: %q", cfg.APIBaseURL)
	}

	if cfg.CredentialsPath == "" {
		cfg.CredentialsPath = credstore.DefaultPath()
	}
	return cfg, nil
}

// NewFromConfig assembles a Manager with a file-backed credential store and
// the default HTTP stack. Embedders needing a different store or transport
// wire the pieces themselves with New.
func NewFromConfig(cfg *Config, opts ...Option) *Manager {
	log := logger.New("sessionkit", cfg.LogLevel)

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.HTTPTimeout
	clientCfg.MaxRetries = cfg.MaxRetries

	store := credstore.NewFileStore(cfg.CredentialsPath)
	gw := gateway.New(cfg.APIBaseURL, httpclient.New(clientCfg), store, log)

	return New(gw, store, log, opts...)
}
