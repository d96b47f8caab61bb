package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadServer_FlagsAndEnv(t *testing.T) {
	t.Setenv("CC42_JWT_KEY", "k")
	t.Setenv("CC42_QR_SECRET", "q")
	t.Setenv("CC42_ACCESS_TTL", "1h")
	t.Setenv("CC42_CORS_ORIGINS", "http://a, ,http://b")

	t.Setenv("CC42_STAFF_LOGINS", "chef")

	c, err := LoadServer([]string{"-store", "memory", "-dev", "-max-batch", "5", "-staff", "chef,ops"})
	require.NoError(t, err)
	require.Equal(t, StoreMemory, c.Store)
	require.True(t, c.Dev)
	require.Equal(t, 5, c.MaxBatch)
	require.Equal(t, time.Hour, c.AccessTTL)
	require.Equal(t, []string{"http://a", "http://b"}, c.Origins)
	require.Equal(t, "k", c.JWTKey)
	require.Equal(t, []string{"chef", "ops"}, c.StaffLogins)
}

func TestLoadServer_Validation(t *testing.T) {
	t.Setenv("CC42_JWT_KEY", "")
	t.Setenv("CC42_QR_SECRET", "")

	cases := map[string][]string{
		"missing jwt signing key": {"-store", "memory", "-dev"},
		"missing QR secret":       {"-jwt-key", "k", "-store", "memory", "-dev"},
		"unknown store":           {"-jwt-key", "k", "-qr-secret", "q", "-store", "redis", "-dev"},
		"postgres store needs":    {"-jwt-key", "k", "-qr-secret", "q", "-store", "postgres", "-dsn", "", "-dev"},
		"go together":             {"-jwt-key", "k", "-qr-secret", "q", "-store", "memory", "-tls-cert", "c.pem"},
		"TLS is required":         {"-jwt-key", "k", "-qr-secret", "q", "-store", "memory"},
		"--max-batch must be":     {"-jwt-key", "k", "-qr-secret", "q", "-store", "memory", "-dev", "-max-batch", "0"},
	}
	for want, args := range cases {
		_, err := LoadServer(args)
		require.Error(t, err, want)
		require.Contains(t, err.Error(), want)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(p, []byte("CC42_DOTENV_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CC42_DOTENV_VALUE") })

	require.NoError(t, LoadDotenv(p, filepath.Join(dir, "missing.env")))
	require.Equal(t, "from-file", os.Getenv("CC42_DOTENV_VALUE"))
}

func TestBindCLI(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	t.Setenv("CC42_CONFIG_DIR", "")
	os.Unsetenv("CC42_CONFIG_DIR")
	t.Setenv("CC42_ADDR", "scan.example:443")

	fs := flag.NewFlagSet("cc42", flag.ContinueOnError)
	c := BindCLI(fs)
	require.NoError(t, fs.Parse([]string{"-plaintext", "version"}))
	require.Equal(t, "scan.example:443", c.Addr)
	require.True(t, c.Plaintext)
	require.Equal(t, filepath.Join("/tmp/xdg", "cc42"), c.Dir)
	require.Equal(t, []string{"version"}, fs.Args())
}
