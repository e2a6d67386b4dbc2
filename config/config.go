package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration to support TOML unmarshalling from
// human-readable strings.
type Duration struct {
	time.Duration
}

// UnmarshalText parses time.ParseDuration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for relayd.
type Config struct {
	ListenAddress string     `toml:"ListenAddress"`
	Environment   string     `toml:"Environment"`
	PolicyPath    string     `toml:"PolicyPath"`
	Dispatcher    Dispatcher `toml:"Dispatcher"`
	Chain         Chain      `toml:"Chain"`
	Keys          Keys       `toml:"Keys"`
	Admin         Admin      `toml:"Admin"`
	Journal       Journal    `toml:"Journal"`
	Log           Log        `toml:"Log"`
	Shutdown      Shutdown   `toml:"Shutdown"`
}

// Dispatcher configures the signed dispatcher client and its loops.
type Dispatcher struct {
	BaseURL           string   `toml:"BaseURL"`
	RequestTimeout    Duration `toml:"RequestTimeout"`
	PollInterval      Duration `toml:"PollInterval"`
	HeartbeatInterval Duration `toml:"HeartbeatInterval"`
}

// Chain configures Solana RPC access and confirmation behaviour.
type Chain struct {
	RPCEndpoint     string   `toml:"RPCEndpoint"`
	USDCMint        string   `toml:"USDCMint"`
	ConfirmRetries  int      `toml:"ConfirmRetries"`
	ConfirmInterval Duration `toml:"ConfirmInterval"`
}

// Keys carries the node identity and relay wallet key material. Each entry
// resolves in order: inline value, then the named environment variable, then
// the file path. Relay entries may be base58 keys, inline keygen arrays or
// paths to solana-keygen files.
type Keys struct {
	Identity     string   `toml:"Identity"`
	IdentityEnv  string   `toml:"IdentityEnv"`
	IdentityFile string   `toml:"IdentityFile"`
	Relays       []string `toml:"Relays"`
	RelaysEnv    string   `toml:"RelaysEnv"`
	RelaysFile   string   `toml:"RelaysFile"`
}

// Admin secures the local admin endpoints. With neither a bearer token nor a
// JWT secret configured the admin surface stays unmounted.
type Admin struct {
	BearerToken     string `toml:"BearerToken"`
	BearerTokenEnv  string `toml:"BearerTokenEnv"`
	BearerTokenFile string `toml:"BearerTokenFile"`
	JWTSecret       string `toml:"JWTSecret"`
	JWTSecretEnv    string `toml:"JWTSecretEnv"`
	JWTSecretFile   string `toml:"JWTSecretFile"`
}

// Journal configures the receipt audit log. An empty path disables it.
type Journal struct {
	Path string `toml:"Path"`
}

// Log configures optional rotated file output alongside stdout.
type Log struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Shutdown bounds the drain performed on termination.
type Shutdown struct {
	DrainTimeout      Duration `toml:"DrainTimeout"`
	DrainPollInterval Duration `toml:"DrainPollInterval"`
}

// Load reads the configuration from the supplied path, applies defaults,
// resolves key material and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Keys.normalise(); err != nil {
		return cfg, fmt.Errorf("keys: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "development"
	}
	if cfg.Dispatcher.RequestTimeout.Duration == 0 {
		cfg.Dispatcher.RequestTimeout.Duration = 10 * time.Second
	}
	if cfg.Dispatcher.PollInterval.Duration == 0 {
		cfg.Dispatcher.PollInterval.Duration = 5 * time.Second
	}
	if cfg.Dispatcher.HeartbeatInterval.Duration == 0 {
		cfg.Dispatcher.HeartbeatInterval.Duration = 30 * time.Second
	}
	if cfg.Chain.ConfirmRetries <= 0 {
		cfg.Chain.ConfirmRetries = 30
	}
	if cfg.Chain.ConfirmInterval.Duration == 0 {
		cfg.Chain.ConfirmInterval.Duration = 2 * time.Second
	}
	if cfg.Shutdown.DrainTimeout.Duration == 0 {
		cfg.Shutdown.DrainTimeout.Duration = 30 * time.Second
	}
	if cfg.Shutdown.DrainPollInterval.Duration == 0 {
		cfg.Shutdown.DrainPollInterval.Duration = 500 * time.Millisecond
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Dispatcher.BaseURL) == "" {
		return fmt.Errorf("dispatcher base URL must be configured")
	}
	if strings.TrimSpace(cfg.Chain.RPCEndpoint) == "" {
		return fmt.Errorf("chain rpc endpoint must be configured")
	}
	if strings.TrimSpace(cfg.Keys.Identity) == "" {
		return fmt.Errorf("identity key must be configured")
	}
	if len(cfg.Keys.Relays) == 0 {
		return fmt.Errorf("at least one relay key must be configured")
	}
	return nil
}

func (k *Keys) normalise() error {
	identity, err := resolveSecret(k.Identity, k.IdentityEnv, k.IdentityFile)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	k.Identity = identity

	relays := trimEntries(k.Relays)
	k.RelaysEnv = strings.TrimSpace(k.RelaysEnv)
	k.RelaysFile = strings.TrimSpace(k.RelaysFile)
	if len(relays) == 0 {
		switch {
		case k.RelaysEnv != "":
			relays = splitEntries(os.Getenv(k.RelaysEnv), ",")
		case k.RelaysFile != "":
			contents, err := os.ReadFile(k.RelaysFile)
			if err != nil {
				return fmt.Errorf("read RelaysFile: %w", err)
			}
			relays = splitEntries(string(contents), "\n")
		}
	}
	k.Relays = relays
	return nil
}

func (a *Admin) normalise() error {
	token, err := resolveSecret(a.BearerToken, a.BearerTokenEnv, a.BearerTokenFile)
	if err != nil {
		return fmt.Errorf("bearer token: %w", err)
	}
	a.BearerToken = token
	secret, err := resolveSecret(a.JWTSecret, a.JWTSecretEnv, a.JWTSecretFile)
	if err != nil {
		return fmt.Errorf("jwt secret: %w", err)
	}
	a.JWTSecret = secret
	return nil
}

// Enabled reports whether any admin credential is configured.
func (a Admin) Enabled() bool {
	return a.BearerToken != "" || a.JWTSecret != ""
}

// resolveSecret applies the value/env/file resolution order shared by key
// material and admin credentials. A named but empty environment variable is
// an error; a fully unset secret resolves to "".
func resolveSecret(value, envName, path string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	if name := strings.TrimSpace(envName); name != "" {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			return "", fmt.Errorf("environment variable %s is empty", name)
		}
		return v, nil
	}
	if p := strings.TrimSpace(path); p != "" {
		contents, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", p, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}

func trimEntries(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitEntries(raw, sep string) []string {
	return trimEntries(strings.Split(raw, sep))
}
