package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/msnctl/internal/status"
)

// Config is the resolved runtime configuration: defaults, then the TOML
// file, then MSNCTL_* environment variables, then command-line flags.
type Config struct {
	Account         string        `env:"MSNCTL_ACCOUNT"`
	Password        string        `env:"MSNCTL_PASSWORD"`
	Status          string        `env:"MSNCTL_STATUS"`
	ServerAddress   string        `env:"MSNCTL_SERVER"`
	PassportHost    string        `env:"MSNCTL_PASSPORT_HOST"`
	PassportPath    string        `env:"MSNCTL_PASSPORT_PATH"`
	PassportTimeout time.Duration `env:"MSNCTL_PASSPORT_TIMEOUT"`
	TemplatesFile   string        `env:"MSNCTL_TEMPLATES_FILE"`
	LogLevel        string        `env:"MSNCTL_LOG_LEVEL"`
	PingInterval    time.Duration `env:"MSNCTL_PING_INTERVAL"`
	ConnectTimeout  time.Duration `env:"MSNCTL_CONNECT_TIMEOUT"`
	AdminAddr       string        `env:"MSNCTL_ADMIN_ADDR"`
	CORSOrigins     []string      `env:"MSNCTL_CORS_ORIGINS" envSeparator:","`
}

type fileConfig struct {
	Account         string   `toml:"account"`
	Password        string   `toml:"password"`
	Status          string   `toml:"status"`
	ServerAddress   string   `toml:"server_address"`
	PassportHost    string   `toml:"passport_host"`
	PassportPath    string   `toml:"passport_path"`
	PassportTimeout string   `toml:"passport_timeout"`
	TemplatesFile   string   `toml:"templates_file"`
	LogLevel        string   `toml:"log_level"`
	PingInterval    string   `toml:"ping_interval"`
	ConnectTimeout  string   `toml:"connect_timeout"`
	AdminAddr       string   `toml:"admin_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
}

func defaultConfig() Config {
	return Config{
		Status:          "online",
		ServerAddress:   "messenger.hotmail.com:1863",
		PassportHost:    "loginnet.passport.com",
		PassportPath:    "/RST.srf",
		PassportTimeout: 30 * time.Second,
		PingInterval:    45 * time.Second,
		ConnectTimeout:  10 * time.Second,
	}
}

// loadConfig resolves defaults, the optional TOML file at path and the
// environment.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load msnctl config: %w", err)
	}

	strs := []struct {
		key string
		src string
		dst *string
	}{
		{"account", raw.Account, &cfg.Account},
		{"status", raw.Status, &cfg.Status},
		{"server_address", raw.ServerAddress, &cfg.ServerAddress},
		{"passport_host", raw.PassportHost, &cfg.PassportHost},
		{"passport_path", raw.PassportPath, &cfg.PassportPath},
		{"templates_file", raw.TemplatesFile, &cfg.TemplatesFile},
		{"log_level", raw.LogLevel, &cfg.LogLevel},
		{"admin_addr", raw.AdminAddr, &cfg.AdminAddr},
	}
	for _, s := range strs {
		if meta.IsDefined(s.key) {
			*s.dst = strings.TrimSpace(s.src)
		}
	}
	// passwords are taken verbatim
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}

	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"passport_timeout", raw.PassportTimeout, &cfg.PassportTimeout},
		{"ping_interval", raw.PingInterval, &cfg.PingInterval},
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.src))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	return nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Account) == "" {
		return fmt.Errorf("account required")
	}
	if !strings.Contains(c.Account, "@") {
		return fmt.Errorf("account %q must be an e-mail address", c.Account)
	}
	if strings.TrimSpace(c.ServerAddress) == "" {
		return fmt.Errorf("server_address required")
	}
	if _, err := status.Parse(c.Status); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
