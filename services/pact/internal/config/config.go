package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"streampact/pkg/protocol"
)

type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	SlotReuse   string `yaml:"slot_reuse"`

	Token struct {
		ID       string `yaml:"id"`
		Decimals int    `yaml:"decimals"`
	} `yaml:"token"`

	Webhook struct {
		URL    string `yaml:"url"`
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`

	DevAccounts []DevAccount `yaml:"dev_accounts"`
}

type DevAccount struct {
	Account string `yaml:"account"`
	Balance string `yaml:"balance"`
}

func defaults() Config {
	var cfg Config
	cfg.ListenAddr = ":8084"
	cfg.SlotReuse = string(protocol.SlotReuseReject)
	cfg.Token.ID = "tok_dev"
	cfg.Token.Decimals = 18
	return cfg
}

// Load reads the yaml config at path, falling back to defaults when path is
// empty. DATABASE_URL in the environment overrides the file.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("pact config: %w", err)
		}
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch protocol.SlotReusePolicy(c.SlotReuse) {
	case protocol.SlotReuseReject, protocol.SlotReuseSubslot:
	default:
		return fmt.Errorf("pact config: slot_reuse must be %q or %q", protocol.SlotReuseReject, protocol.SlotReuseSubslot)
	}
	if c.Token.ID == "" {
		return fmt.Errorf("pact config: token.id is required")
	}
	if c.Token.Decimals < 0 {
		return fmt.Errorf("pact config: token.decimals must not be negative")
	}
	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		return fmt.Errorf("pact config: webhook.secret is required when webhook.url is set")
	}
	for _, a := range c.DevAccounts {
		if a.Account == "" {
			return fmt.Errorf("pact config: dev account without an account id")
		}
		if _, ok := new(big.Int).SetString(a.Balance, 10); !ok {
			return fmt.Errorf("pact config: dev account %s has invalid balance %q", a.Account, a.Balance)
		}
	}
	return nil
}
