package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/conduit/pkg/client"
	"github.com/cuemby/conduit/pkg/progress"
	"github.com/cuemby/conduit/pkg/retry"
	"github.com/cuemby/conduit/pkg/security"
	"github.com/cuemby/conduit/pkg/tokenstore"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CONDUIT_"

// Config is the complete conduit configuration
type Config struct {
	API       APIConfig         `yaml:"api" toml:"api"`
	Retry     RetryConfig       `yaml:"retry" toml:"retry"`
	Token     tokenstore.Config `yaml:"token" toml:"token"`
	Hub       HubConfig         `yaml:"hub" toml:"hub"`
	Log       LogConfig         `yaml:"log" toml:"log"`
	DevServer DevServerConfig   `yaml:"dev_server" toml:"dev_server"`

	// StateDir holds the local database and key file
	StateDir string `yaml:"state_dir" toml:"state_dir"`
}

type APIConfig struct {
	BaseURL   string   `yaml:"base_url" toml:"base_url"`
	Timeout   Duration `yaml:"timeout" toml:"timeout"`
	UserAgent string   `yaml:"user_agent" toml:"user_agent"`
	CAFile    string   `yaml:"ca_file" toml:"ca_file"`
	Insecure  bool     `yaml:"insecure" toml:"insecure"`
}

type RetryConfig struct {
	MaxRetries        int      `yaml:"max_retries" toml:"max_retries"`
	InitialDelay      Duration `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay          Duration `yaml:"max_delay" toml:"max_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	RetryableStatuses []int    `yaml:"retryable_statuses" toml:"retryable_statuses"`
}

type HubConfig struct {
	// Path is joined to the API base URL
	Path              string     `yaml:"path" toml:"path"`
	ReconnectDelays   []Duration `yaml:"reconnect_delays" toml:"reconnect_delays"`
	Transports        []string   `yaml:"transports" toml:"transports"`
	KeepAliveInterval Duration   `yaml:"keep_alive_interval" toml:"keep_alive_interval"`
	ServerTimeout     Duration   `yaml:"server_timeout" toml:"server_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// DevServerConfig configures `conduit dev-server`
type DevServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`

	// Driver is sqlite or postgres
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`

	// JanitorSchedule is a cron expression for purging finished migrations
	JanitorSchedule string   `yaml:"janitor_schedule" toml:"janitor_schedule"`
	RetainFinished  Duration `yaml:"retain_finished" toml:"retain_finished"`

	// StepInterval paces simulated migration progress
	StepInterval Duration `yaml:"step_interval" toml:"step_interval"`

	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"-" toml:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	r := retry.DefaultConfig()
	delays := make([]Duration, len(progress.DefaultReconnectDelays))
	for i, d := range progress.DefaultReconnectDelays {
		delays[i] = Duration{d}
	}

	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: Duration{30 * time.Second},
		},
		Retry: RetryConfig{
			MaxRetries:        r.MaxRetries,
			InitialDelay:      Duration{r.InitialDelay},
			MaxDelay:          Duration{r.MaxDelay},
			BackoffMultiplier: r.BackoffMultiplier,
			RetryableStatuses: r.RetryableStatuses,
		},
		Token: tokenstore.Config{
			Backend: tokenstore.BackendBolt,
			Profile: "default",
		},
		Hub: HubConfig{
			Path:              "/hubs/migration",
			ReconnectDelays:   delays,
			Transports:        []string{string(progress.TransportWebSockets), string(progress.TransportLongPolling)},
			KeepAliveInterval: Duration{15 * time.Second},
			ServerTimeout:     Duration{30 * time.Second},
		},
		Log: LogConfig{Level: "info"},
		DevServer: DevServerConfig{
			Addr:            ":8080",
			Driver:          "sqlite",
			JanitorSchedule: "@every 1m",
			RetainFinished:  Duration{10 * time.Minute},
			StepInterval:    Duration{500 * time.Millisecond},
			Username:        "admin",
			Password:        "admin",
		},
	}
}

// Load reads path (YAML, or TOML for a .toml extension) over the defaults,
// then applies .env and CONDUIT_* environment overrides. An empty path uses
// the first of config.yaml, config.yml or config.toml found in the state
// directory; a missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env is optional, the process environment always wins
	_ = godotenv.Load()

	if stateDir := os.Getenv(EnvPrefix + "STATE_DIR"); stateDir != "" {
		cfg.StateDir = stateDir
	}
	if cfg.StateDir == "" {
		dir, err := security.StateDir()
		if err != nil {
			return nil, err
		}
		cfg.StateDir = dir
	}

	if path == "" {
		path = findDefaultFile(cfg.StateDir)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Token.KeyFile == "" {
		cfg.Token.KeyFile = filepath.Join(cfg.StateDir, "token.key")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findDefaultFile(dir string) string {
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays CONDUIT_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("API_URL", &c.API.BaseURL)
	str("CA_FILE", &c.API.CAFile)
	str("TOKEN_BACKEND", &c.Token.Backend)
	str("TOKEN_PROFILE", &c.Token.Profile)
	str("TOKEN_PASSPHRASE", &c.Token.Passphrase)
	str("TOKEN_KEY_FILE", &c.Token.KeyFile)
	str("LOG_LEVEL", &c.Log.Level)
	str("DEV_ADDR", &c.DevServer.Addr)
	str("DEV_DRIVER", &c.DevServer.Driver)
	str("DEV_DSN", &c.DevServer.DSN)
	str("DEV_USERNAME", &c.DevServer.Username)
	str("DEV_PASSWORD", &c.DevServer.Password)

	if v, ok := lookup(EnvPrefix + "INSECURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sINSECURE: %w", EnvPrefix, err)
		}
		c.API.Insecure = b
	}
	if v, ok := lookup(EnvPrefix + "LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sLOG_JSON: %w", EnvPrefix, err)
		}
		c.Log.JSON = b
	}
	if v, ok := lookup(EnvPrefix + "RETRY_MAX"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sRETRY_MAX: %w", EnvPrefix, err)
		}
		c.Retry.MaxRetries = n
	}
	if v, ok := lookup(EnvPrefix + "HUB_RECONNECT_DELAYS"); ok && v != "" {
		var delays []Duration
		for _, part := range strings.Split(v, ",") {
			var d Duration
			if err := d.UnmarshalText([]byte(strings.TrimSpace(part))); err != nil {
				return fmt.Errorf("invalid %sHUB_RECONNECT_DELAYS: %w", EnvPrefix, err)
			}
			delays = append(delays, d)
		}
		c.Hub.ReconnectDelays = delays
	}
	if v, ok := lookup(EnvPrefix + "TIMEOUT"); ok && v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid %sTIMEOUT: %w", EnvPrefix, err)
		}
		c.API.Timeout = d
	}
	return nil
}

// Validate checks URLs, retry bounds and backend names
func (c *Config) Validate() error {
	var errs []error

	if _, err := parseAPIURL(c.API.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	switch c.Token.Backend {
	case tokenstore.BackendMemory, tokenstore.BackendBolt, tokenstore.BackendCookie:
	default:
		errs = append(errs, fmt.Errorf("token: %w: %q", tokenstore.ErrUnknownBackend, c.Token.Backend))
	}
	for _, t := range c.Hub.Transports {
		if progress.TransportType(t) != progress.TransportWebSockets && progress.TransportType(t) != progress.TransportLongPolling {
			errs = append(errs, fmt.Errorf("hub: unknown transport %q", t))
		}
	}
	for _, d := range c.Hub.ReconnectDelays {
		if d.Duration < 0 {
			errs = append(errs, fmt.Errorf("hub: reconnect delays cannot be negative"))
			break
		}
	}
	switch c.DevServer.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("dev_server: unknown driver %q", c.DevServer.Driver))
	}

	return errors.Join(errs...)
}

func parseAPIURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base_url %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api: base_url %q has no host", raw)
	}
	return u, nil
}

// RetryPolicy converts the retry section
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxRetries:        c.Retry.MaxRetries,
		InitialDelay:      c.Retry.InitialDelay.Duration,
		MaxDelay:          c.Retry.MaxDelay.Duration,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
		RetryableStatuses: c.Retry.RetryableStatuses,
	}
}

// ClientConfig builds the facade configuration, loading the CA file if set
func (c *Config) ClientConfig() (client.Config, error) {
	cc := client.Config{
		BaseURL:   c.API.BaseURL,
		Timeout:   c.API.Timeout.Duration,
		UserAgent: c.API.UserAgent,
		Retry:     c.RetryPolicy(),
	}
	if c.API.CAFile != "" || c.API.Insecure {
		tlsConfig, err := security.ClientTLSConfig(c.API.CAFile, c.API.Insecure)
		if err != nil {
			return client.Config{}, err
		}
		cc.TLS = tlsConfig
	}
	return cc, nil
}

// HubURL joins the hub path to the API base URL
func (c *Config) HubURL() string {
	u, err := parseAPIURL(c.API.BaseURL)
	if err != nil {
		return ""
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(c.Hub.Path, "/")
	u.RawQuery = ""
	return u.String()
}

// ProgressConfig builds the hub client configuration
func (c *Config) ProgressConfig() progress.Config {
	pc := progress.Config{
		HubURL:            c.HubURL(),
		ReconnectDelays:   durations(c.Hub.ReconnectDelays),
		KeepAliveInterval: c.Hub.KeepAliveInterval.Duration,
		ServerTimeout:     c.Hub.ServerTimeout.Duration,
	}
	for _, t := range c.Hub.Transports {
		pc.Transports = append(pc.Transports, progress.TransportType(t))
	}
	return pc
}
