package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string            `json:"name"`
	Port    int               `json:"port"`
	Headers map[string]string `json:"headers"`
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// comments are allowed
		name: "server",
		port: 9000,
		headers: {a: "1"},
	}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		port: 9100,
	}`), 0644))

	config, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "server", config.Name)
	require.Equal(t, 9100, config.Port)
	require.Equal(t, map[string]string{"a": "1"}, config.Headers)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigOnlyLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{name: "local"}`), 0644))

	config, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "local", config.Name)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ENROLL_TEST_DOTENV=from-file\nENROLL_TEST_PRESET=from-file\n"), 0644))

	t.Setenv("ENROLL_TEST_PRESET", "preset")
	t.Setenv("ENROLL_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("ENROLL_TEST_DOTENV"))

	require.NoError(t, LoadDotenv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "from-file", os.Getenv("ENROLL_TEST_DOTENV"))
	require.Equal(t, "preset", os.Getenv("ENROLL_TEST_PRESET"))
	require.Equal(t, "fallback", EnvOr("ENROLL_TEST_UNSET_VALUE", "fallback"))
}
