// Package config loads gateway settings. Precedence, lowest to highest:
// built-in defaults, an optional TOML file, environment variables. Flag
// parsing in cmd sits above all three.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"github.com/abairt/gaelgate/bridge"
)

// Duration parses "6s" style strings from both TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repl string) error {
	return d.UnmarshalText([]byte(repl))
}

// GaelSpellConfig is the policy for the spelling upstream.
type GaelSpellConfig struct {
	BaseURL     string   `toml:"base_url" env:"GAELSPELL_URL"`
	Timeout     Duration `toml:"timeout" env:"GAELSPELL_TIMEOUT"`
	Retries     int      `toml:"retries" env:"GAELSPELL_RETRIES"`
	MaxInFlight int      `toml:"max_in_flight" env:"GAELSPELL_MAX_IN_FLIGHT"`
}

// GramadoirConfig is the policy for the grammar upstream.
type GramadoirConfig struct {
	BaseURL     string   `toml:"base_url" env:"GRAMADOIR_URL"`
	Timeout     Duration `toml:"timeout" env:"GRAMADOIR_TIMEOUT"`
	Retries     int      `toml:"retries" env:"GRAMADOIR_RETRIES"`
	MaxInFlight int      `toml:"max_in_flight" env:"GRAMADOIR_MAX_IN_FLIGHT"`
}

// Config is the whole gateway configuration.
type Config struct {
	// Mode selects the transport: "http" or "stdio".
	Mode string `toml:"mode" env:"GAELGATE_MODE"`

	ListenAddr         string   `toml:"listen_addr" env:"GAELGATE_LISTEN_ADDR"`
	KeepAlive          Duration `toml:"keep_alive" env:"GAELGATE_KEEP_ALIVE"`
	SessionIdleTimeout Duration `toml:"session_idle_timeout" env:"GAELGATE_SESSION_IDLE_TIMEOUT"`

	GaelSpell GaelSpellConfig `toml:"gaelspell"`
	Gramadoir GramadoirConfig `toml:"gramadoir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:               "http",
		ListenAddr:         ":8080",
		KeepAlive:          Duration{15 * time.Second},
		SessionIdleTimeout: Duration{30 * time.Minute},
		GaelSpell: GaelSpellConfig{
			BaseURL:     "http://127.0.0.1:8081",
			Timeout:     Duration{6 * time.Second},
			Retries:     2,
			MaxInFlight: 8,
		},
		Gramadoir: GramadoirConfig{
			BaseURL:     "http://127.0.0.1:8082",
			Timeout:     Duration{6 * time.Second},
			Retries:     2,
			MaxInFlight: 8,
		},
	}
}

// Load resolves the configuration. file may be empty, in which case only
// defaults and the environment apply.
func Load(file string) (Config, error) {
	cfg := Default()

	if file != "" {
		if _, err := toml.DecodeFile(file, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", file, err)
		}
	}

	// envdecode only touches fields whose variable is present, so values
	// from the file survive unless explicitly overridden.
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c Config) Validate() error {
	switch c.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("config: mode must be http or stdio, got %q", c.Mode)
	}
	if c.Mode == "http" && c.ListenAddr == "" {
		return errors.New("config: listen_addr is required in http mode")
	}
	if c.GaelSpell.BaseURL == "" {
		return errors.New("config: gaelspell.base_url is required")
	}
	if c.Gramadoir.BaseURL == "" {
		return errors.New("config: gramadoir.base_url is required")
	}
	if c.GaelSpell.Timeout.Duration <= 0 || c.Gramadoir.Timeout.Duration <= 0 {
		return errors.New("config: upstream timeouts must be positive")
	}
	if c.GaelSpell.Retries < 0 || c.Gramadoir.Retries < 0 {
		return errors.New("config: retries must not be negative")
	}
	return nil
}

// BridgeConfig converts the spelling policy into a bridge client config.
func (c GaelSpellConfig) BridgeConfig() bridge.Config {
	return bridge.Config{
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout.Duration,
		Retries:     c.Retries,
		MaxInFlight: int64(c.MaxInFlight),
	}
}

// BridgeConfig converts the grammar policy into a bridge client config.
func (c GramadoirConfig) BridgeConfig() bridge.Config {
	return bridge.Config{
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout.Duration,
		Retries:     c.Retries,
		MaxInFlight: int64(c.MaxInFlight),
	}
}
