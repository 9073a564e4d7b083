package helpers

import (
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/vmlens/internal/config"
	"github.com/coral-mesh/vmlens/internal/testutil"
)

func TestGlobalOptions_Flags(t *testing.T) {
	var opts GlobalOptions
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(flags)

	require.NoError(t, flags.Parse([]string{
		"--vm-service-uri", "http://127.0.0.1:8181/abc=/",
		"--privacy", "partial",
		"--json",
	}))
	assert.Equal(t, "http://127.0.0.1:8181/abc=/", opts.VMServiceURI)
	assert.Equal(t, FormatJSON, opts.Format())
}

func TestGlobalOptions_Apply(t *testing.T) {
	cfg := config.Default()
	opts := GlobalOptions{VMServiceURI: "ws://localhost:8181/ws", Privacy: "MINIMAL", LogLevel: "debug"}
	require.NoError(t, opts.Apply(cfg))

	assert.Equal(t, "ws://localhost:8181/ws", cfg.VMService.URI)
	assert.Equal(t, "minimal", cfg.Privacy.Level)
	assert.Equal(t, "debug", cfg.Logging.Level)

	bad := GlobalOptions{Privacy: "none"}
	assert.Error(t, bad.Apply(cfg))
}

func TestGlobalOptions_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VMLENS_HOME", dir)
	t.Setenv("VMLENS_CONFIG", "")
	t.Setenv("VMLENS_VM_SERVICE_URI", "http://127.0.0.1:1/")

	opts := GlobalOptions{VMServiceURI: "http://127.0.0.1:2/", JSON: true}
	cfg, err := opts.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:2/", cfg.VMService.URI, "flags override the environment")
	assert.Equal(t, filepath.Join(dir, config.DefaultDir, config.HistoryFile), cfg.History.Path)
	assert.False(t, opts.LoggingConfig(cfg).Pretty)
}

func TestOpenHistory_InMemory(t *testing.T) {
	cfg := config.Default()
	cfg.History.Path = ":memory:"

	store, err := OpenHistory(cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
