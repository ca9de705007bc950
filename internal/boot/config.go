package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env            string `env:"ENV,default=dev"`
	BusinessNumber string `env:"BUSINESS_NUMBER,default=918329446654"`
	Server         struct {
		Port        string `env:"PORT,default=8080"`
		MetricsPort string `env:"METRICS_PORT,default=8081"`
		Origins     string `env:"ALLOWED_ORIGINS,default=*"`
		BodyLimit   string `env:"BODY_LIMIT,default=1M"`
	}
	Store struct {
		DatabaseURL string `env:"DATABASE_URL,default=sqlite://wainbox.db"`
	}
	Webhook struct {
		VerifyToken string `env:"WEBHOOK_VERIFY_TOKEN"`
		AppSecret   string `env:"WEBHOOK_APP_SECRET"`
	}
	Auth struct {
		PasswordHash   string        `env:"OPERATOR_PASSWORD_HASH"`
		SigningKeyFile string        `env:"SIGNING_KEY_FILE,default=signing-key.jwk"`
		TokenTTL       time.Duration `env:"TOKEN_TTL,default=12h"`
	}
	Client struct {
		BaseURL      string        `env:"WAINBOX_URL,default=http://127.0.0.1:8080"`
		Token        string        `env:"WAINBOX_TOKEN"`
		PollInterval time.Duration `env:"POLL_INTERVAL,default=5s"`
	}
}

func Load() (*Config, error) {
	return LoadWith(envconfig.OsLookuper())
}

// LoadWith reads the configuration from an arbitrary lookuper, tests pass a MapLookuper.
func LoadWith(lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(context.Background(), config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) BusinessAddress() string {
	return c.BusinessNumber
}

func (c *Config) DatabaseURL() string {
	return c.Store.DatabaseURL
}

func (c *Config) AuthEnabled() bool {
	return c.Auth.PasswordHash != ""
}

func (c *Config) OperatorPasswordHash() string {
	return c.Auth.PasswordHash
}

func (c *Config) TokenTTL() time.Duration {
	return c.Auth.TokenTTL
}
