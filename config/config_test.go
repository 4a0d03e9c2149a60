package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3, cfg.Index.Order)
	require.Equal(t, 5, cfg.Index.CheckpointInterval)
	require.Equal(t, 3, cfg.Index.KeyWidth)
	require.Equal(t, "en", cfg.Index.Locale)
	require.False(t, cfg.Telemetry.Enabled)
}

func TestLoad(t *testing.T) {
	t.Run("load from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "memindex.yaml")
		data := `
logger:
  level: debug
index:
  order: 5
  checkpoint_interval: 2
  key_width: 0
telemetry:
  enabled: true
  metrics_addr: ""
`
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "debug", cfg.Logger.Level)
		require.Equal(t, "console", cfg.Logger.Format, "unset fields keep their defaults")
		require.Equal(t, 5, cfg.Index.Order)
		require.Equal(t, 2, cfg.Index.CheckpointInterval)
		require.Equal(t, 0, cfg.Index.KeyWidth)
		require.Equal(t, uint64(1000), cfg.Index.AddressSpace)
		require.True(t, cfg.Telemetry.Enabled)
		require.Empty(t, cfg.Telemetry.MetricsAddr)
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.ErrorIs(t, err, ErrFileNotFound)
	})
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("MEMINDEX_ORDER", "7")
	cfg, err := Parse([]byte("index:\n  order: ${MEMINDEX_ORDER}\n  locale: ${MEMINDEX_LOCALE:-de}\n"))
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Index.Order)
	require.Equal(t, "de", cfg.Index.Locale)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":      "index:\n  fanout: 4\n",
		"order too small":    "index:\n  order: 2\n",
		"zero interval":      "index:\n  checkpoint_interval: 0\n",
		"negative width":     "index:\n  key_width: -1\n",
		"bad locale":         "index:\n  locale: \"!!\"\n",
		"zero address space": "index:\n  address_space: 0\n",
		"bad sample ratio":   "telemetry:\n  trace_sample_ratio: 2\n",
		"not yaml":           "index: [\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
