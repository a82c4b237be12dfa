package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Swind/go-service-thread/config"
)

func TestConfigCommand_PrintsEffectiveConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "st.toml")
	require.NoError(t, os.WriteFile(p, []byte("[service_thread]\nname = \"maint\"\n"), 0o644))
	t.Setenv("SERVICETHREAD_ADMIN_ADDR", "127.0.0.1:9100")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", p})
	require.NoError(t, cmd.Execute())

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, "maint", cfg.ServiceThread.Name)
	assert.Equal(t, "127.0.0.1:9100", cfg.Admin.Addr)
	assert.Equal(t, config.Default().Collector, cfg.Collector)
}

func TestConfigCommand_InvalidConfig(t *testing.T) {
	t.Setenv("SERVICETHREAD_LOG_FORMAT", "xml")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config"})
	assert.ErrorContains(t, cmd.Execute(), "logging.format")
}
