package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/loupe/internal/config"
)

// -- Test Helpers --

// execute runs a fresh command tree in a scratch directory and returns its
// combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// captureConfig replaces the named subcommand's RunE with one that records
// the loaded configuration.
func captureConfig(t *testing.T, root *cobra.Command, name string) **config.Config {
	t.Helper()
	var got *config.Config
	sub, _, err := root.Find([]string{name})
	require.NoError(t, err)
	sub.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := configFrom(cmd)
		got = cfg
		return err
	}
	return &got
}

// -- Tests --

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "loupe version "+Version+"\n", out)
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Loupe fetches, lays out and paints web pages")
	for _, sub := range []string{"render", "fetch", "eval"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_ConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render:\n  viewport_width: 321\nscript:\n  vm: register\n"), 0o600))
	t.Setenv("LOUPE_PARSER_TOKEN_BUDGET", "77")

	root := NewRootCommand()
	got := captureConfig(t, root, "eval")
	root.SetArgs([]string{"--config", path, "eval"})
	require.NoError(t, root.ExecuteContext(t.Context()))

	cfg := *got
	require.NotNil(t, cfg)
	assert.Equal(t, 321, cfg.Render().ViewportWidth)
	assert.Equal(t, 768, cfg.Render().ViewportHeight)
	assert.Equal(t, "register", cfg.Script().VM)
	assert.Equal(t, 77, cfg.Parser().TokenBudget)
}

func TestRootCmd_ConfigFromHomeDir(t *testing.T) {
	t.Chdir(t.TempDir())
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.Reset()
	t.Cleanup(homedir.Reset)
	dir := filepath.Join(home, ".config", "loupe")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loupe.yaml"), []byte("parser:\n  token_budget: 9\n"), 0o600))

	root := NewRootCommand()
	got := captureConfig(t, root, "eval")
	root.SetArgs([]string{"eval"})
	require.NoError(t, root.ExecuteContext(t.Context()))
	assert.Equal(t, 9, (*got).Parser().TokenBudget)
}

func TestRootCmd_MissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "--config", "/nonexistent/loupe.yaml", "eval", "-e", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Setenv("LOUPE_SCRIPT_VM", "tree-walker")
	_, err := execute(t, "eval", "-e", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load or validate config")
}

func TestEvalCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"expression", []string{"eval", "-e", "1 + 2 * 3"}, "7\n"},
		{"register vm", []string{"eval", "--vm", "register", "-e", "var s = 0; for (var i = 0; i < 4; i++) s += i; s"}, "6\n"},
		{"console first", []string{"eval", "-e", `console.log("hi"); "done"`}, "hi\ndone\n"},
		{"timers", []string{"eval", "-e", `setTimeout(function(){ console.log("later") }, 5); "now"`}, "later\nnow\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestEvalCmd_Errors(t *testing.T) {
	_, err := execute(t, "eval")
	assert.ErrorContains(t, err, "nothing to run")

	_, err = execute(t, "eval", "-e", "throw new RangeError('out')")
	assert.ErrorContains(t, err, "Uncaught RangeError: out")
}

func TestEvalCmd_WithDocument(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(page, []byte(`<title>T</title><p id="x">hello</p>`), 0o600))

	out, err := execute(t, "eval", "--html", page, "-e", `document.title + ":" + document.getElementById("x").textContent`)
	require.NoError(t, err)
	assert.Equal(t, "T:hello\n", out)
}
