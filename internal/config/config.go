// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing engine configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Network() NetworkConfig
	Render() RenderConfig
	Layout() LayoutConfig
	Parser() ParserConfig
	Script() ScriptConfig
	Imaging() ImagingConfig

	SetNetworkPreferHTTP3(bool)
	SetNetworkInsecureSkipVerify(bool)
	SetRenderViewport(width, height int)
	SetRenderScrollY(y float64)
	SetScriptVM(vm string)
	SetScriptEnabled(bool)
}

// Config holds the entire engine configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	RenderCfg  RenderConfig  `mapstructure:"render" yaml:"render"`
	LayoutCfg  LayoutConfig  `mapstructure:"layout" yaml:"layout"`
	ParserCfg  ParserConfig  `mapstructure:"parser" yaml:"parser"`
	ScriptCfg  ScriptConfig  `mapstructure:"script" yaml:"script"`
	ImagingCfg ImagingConfig `mapstructure:"imaging" yaml:"imaging"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) Render() RenderConfig   { return c.RenderCfg }
func (c *Config) Layout() LayoutConfig   { return c.LayoutCfg }
func (c *Config) Parser() ParserConfig   { return c.ParserCfg }
func (c *Config) Script() ScriptConfig   { return c.ScriptCfg }
func (c *Config) Imaging() ImagingConfig { return c.ImagingCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetNetworkPreferHTTP3(b bool)        { c.NetworkCfg.PreferHTTP3 = b }
func (c *Config) SetNetworkInsecureSkipVerify(b bool) { c.NetworkCfg.InsecureSkipVerify = b }
func (c *Config) SetRenderViewport(width, height int) {
	c.RenderCfg.ViewportWidth = width
	c.RenderCfg.ViewportHeight = height
}
func (c *Config) SetRenderScrollY(y float64) { c.RenderCfg.ScrollY = y }
func (c *Config) SetScriptVM(vm string)      { c.ScriptCfg.VM = vm }
func (c *Config) SetScriptEnabled(b bool)    { c.ScriptCfg.Enabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RetryConfig tunes reconnect behavior for idempotent requests that fail
// before any response bytes were read.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
}

// NetworkConfig tunes the HTTP stack.
type NetworkConfig struct {
	DialTimeout         time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout" yaml:"tls_handshake_timeout"`
	MaxRedirects        int           `mapstructure:"max_redirects" yaml:"max_redirects"`
	PreferHTTP3         bool          `mapstructure:"prefer_http3" yaml:"prefer_http3"`
	InsecureSkipVerify  bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	UserAgent           string        `mapstructure:"user_agent" yaml:"user_agent"`
	ProxyURL            string        `mapstructure:"proxy_url" yaml:"proxy_url"`
	MaxConnsPerSecond   float64       `mapstructure:"max_conns_per_second" yaml:"max_conns_per_second"`
	Retry               RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// RenderConfig controls the painter's canvas.
type RenderConfig struct {
	ViewportWidth  int     `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int     `mapstructure:"viewport_height" yaml:"viewport_height"`
	ScrollY        float64 `mapstructure:"scroll_y" yaml:"scroll_y"`
	RightMargin    float64 `mapstructure:"right_margin" yaml:"right_margin"`
	Background     string  `mapstructure:"background" yaml:"background"`
}

// LayoutConfig controls the parallel layout phases.
type LayoutConfig struct {
	// Threads is the worker count for per-level fan-out. Zero means GOMAXPROCS.
	Threads int `mapstructure:"threads" yaml:"threads"`
	// ParallelCutoffFactor: a level runs sequentially when its size is <= Threads * factor.
	ParallelCutoffFactor int `mapstructure:"parallel_cutoff_factor" yaml:"parallel_cutoff_factor"`
}

// ParserConfig controls the incremental HTML parser.
type ParserConfig struct {
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget"`
}

// ScriptConfig selects and enables the script VM.
type ScriptConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	VM      string `mapstructure:"vm" yaml:"vm"`
	// MaxTasks bounds the tasks one event loop run may execute.
	MaxTasks int `mapstructure:"max_tasks" yaml:"max_tasks"`
}

// ImagingConfig controls image decoding.
type ImagingConfig struct {
	CacheEntries int `mapstructure:"cache_entries" yaml:"cache_entries"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "loupe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Network --
	v.SetDefault("network.dial_timeout", "10s")
	v.SetDefault("network.request_timeout", "30s")
	v.SetDefault("network.idle_conn_timeout", "90s")
	v.SetDefault("network.tls_handshake_timeout", "10s")
	v.SetDefault("network.max_redirects", 10)
	v.SetDefault("network.prefer_http3", false)
	v.SetDefault("network.insecure_skip_verify", false)
	v.SetDefault("network.user_agent", "loupe/1.0")
	v.SetDefault("network.max_conns_per_second", 20.0)
	v.SetDefault("network.retry.max_retries", 2)
	v.SetDefault("network.retry.initial_backoff", "250ms")
	v.SetDefault("network.retry.max_backoff", "5s")
	v.SetDefault("network.retry.backoff_factor", 2.0)

	// -- Render --
	v.SetDefault("render.viewport_width", 1024)
	v.SetDefault("render.viewport_height", 768)
	v.SetDefault("render.scroll_y", 0.0)
	v.SetDefault("render.right_margin", 20.0)
	v.SetDefault("render.background", "#ffffff")

	// -- Layout --
	v.SetDefault("layout.threads", 0)
	v.SetDefault("layout.parallel_cutoff_factor", 2)

	// -- Parser --
	v.SetDefault("parser.token_budget", 4096)

	// -- Script --
	v.SetDefault("script.enabled", true)
	v.SetDefault("script.vm", "stack")
	v.SetDefault("script.max_tasks", 1000)

	// -- Imaging --
	v.SetDefault("imaging.cache_entries", 128)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RenderCfg.ViewportWidth <= 0 || c.RenderCfg.ViewportHeight <= 0 {
		return fmt.Errorf("render viewport must be positive, got %dx%d", c.RenderCfg.ViewportWidth, c.RenderCfg.ViewportHeight)
	}
	if c.NetworkCfg.MaxRedirects < 0 {
		return fmt.Errorf("network.max_redirects must not be negative")
	}
	if c.LayoutCfg.Threads < 0 {
		return fmt.Errorf("layout.threads must not be negative")
	}
	if c.LayoutCfg.ParallelCutoffFactor <= 0 {
		return fmt.Errorf("layout.parallel_cutoff_factor must be a positive integer")
	}
	if c.ParserCfg.TokenBudget <= 0 {
		return fmt.Errorf("parser.token_budget must be a positive integer")
	}
	switch c.ScriptCfg.VM {
	case "stack", "register":
	default:
		return fmt.Errorf("script.vm must be 'stack' or 'register', got %q", c.ScriptCfg.VM)
	}
	if c.ScriptCfg.MaxTasks <= 0 {
		return fmt.Errorf("script.max_tasks must be a positive integer")
	}
	if err := c.NetworkCfg.Retry.Validate(); err != nil {
		return fmt.Errorf("network.retry configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the retry settings.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if r.MaxRetries > 0 && r.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff_factor must be at least 1.0")
	}
	return nil
}
