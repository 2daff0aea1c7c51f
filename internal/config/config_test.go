// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "loupe", cfg.Logger().ServiceName)
	assert.Equal(t, 10, cfg.Network().MaxRedirects)
	assert.Equal(t, 30*time.Second, cfg.Network().RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Network().Retry.InitialBackoff)
	assert.Equal(t, 1024, cfg.Render().ViewportWidth)
	assert.Equal(t, 2, cfg.Layout().ParallelCutoffFactor)
	assert.Equal(t, "stack", cfg.Script().VM)
	assert.Equal(t, 1000, cfg.Script().MaxTasks)
	assert.Equal(t, 4096, cfg.Parser().TokenBudget)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero viewport", func(c *Config) { c.RenderCfg.ViewportWidth = 0 }, "render viewport must be positive"},
		{"negative redirects", func(c *Config) { c.NetworkCfg.MaxRedirects = -1 }, "network.max_redirects"},
		{"negative threads", func(c *Config) { c.LayoutCfg.Threads = -2 }, "layout.threads"},
		{"zero cutoff", func(c *Config) { c.LayoutCfg.ParallelCutoffFactor = 0 }, "parallel_cutoff_factor"},
		{"zero budget", func(c *Config) { c.ParserCfg.TokenBudget = 0 }, "parser.token_budget"},
		{"unknown vm", func(c *Config) { c.ScriptCfg.VM = "jit" }, "script.vm"},
		{"no task budget", func(c *Config) { c.ScriptCfg.MaxTasks = 0 }, "script.max_tasks"},
		{"bad backoff", func(c *Config) { c.NetworkCfg.Retry.BackoffFactor = 0.5 }, "backoff_factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetNetworkPreferHTTP3(true)
	iface.SetNetworkInsecureSkipVerify(true)
	iface.SetRenderViewport(640, 480)
	iface.SetRenderScrollY(120)
	iface.SetScriptVM("register")
	iface.SetScriptEnabled(false)

	assert.True(t, cfg.Network().PreferHTTP3)
	assert.True(t, cfg.Network().InsecureSkipVerify)
	assert.Equal(t, 640, cfg.Render().ViewportWidth)
	assert.Equal(t, 480, cfg.Render().ViewportHeight)
	assert.Equal(t, 120.0, cfg.Render().ScrollY)
	assert.Equal(t, "register", cfg.Script().VM)
	assert.False(t, cfg.Script().Enabled)
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
logger:
  level: debug
network:
  max_redirects: 3
  prefer_http3: true
  request_timeout: 5s
render:
  viewport_width: 800
  viewport_height: 600
script:
  vm: register
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, 3, cfg.Network().MaxRedirects)
	assert.True(t, cfg.Network().PreferHTTP3)
	assert.Equal(t, 5*time.Second, cfg.Network().RequestTimeout)
	assert.Equal(t, 800, cfg.Render().ViewportWidth)
	assert.Equal(t, "register", cfg.Script().VM)
	// Untouched keys keep their defaults.
	assert.Equal(t, 128, cfg.Imaging().CacheEntries)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("script.vm", "tree-walker")

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
