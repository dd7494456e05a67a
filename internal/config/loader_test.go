package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	l := NewLoader(t.TempDir())
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, 8008, cfg.Server.RESTPort)
	require.Equal(t, int64(22000), cfg.Resources.VRAMSoftLimitMB)
}

func TestLoad_FileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.yaml"), []byte("server:\n  rest_port: 9100\n"), 0o644))
	l := NewLoader(dir)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Server.RESTPort)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.yaml"), []byte("server:\n  rest_port: 9100\n"), 0o644))
	t.Setenv("MOC_SERVER_REST_PORT", "9200")
	l := NewLoader(dir)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, 9200, cfg.Server.RESTPort)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("MOC_TEST_VAR", "resolved")
	require.Equal(t, "resolved", substituteEnvVars("${MOC_TEST_VAR:fallback}"))
	require.Equal(t, "fallback", substituteEnvVars("${MOC_TEST_UNSET:fallback}"))
	require.Equal(t, "", substituteEnvVars("${MOC_TEST_UNSET}"))
}

func TestConvertEnvValue(t *testing.T) {
	require.Equal(t, true, convertEnvValue("true"))
	require.Equal(t, int64(42), convertEnvValue("42"))
	require.Equal(t, 3.14, convertEnvValue("3.14"))
	require.Equal(t, "plain", convertEnvValue("plain"))
}
