// Package config loads server and CLI settings from flags, environment and an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// LoadDotenv reads files (".env" when none given) into the environment.
// Missing files are not an error; variables already set win.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

// List splits a comma separated flag value, dropping blanks.
func List(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Server configures cc42-server.
type Server struct {
	GRPCAddr  string
	HTTPAddr  string
	Store     string
	DSN       string
	JWTKey    string
	QRSecret  string
	AccessTTL time.Duration
	MaxBatch  int
	TLSCert   string
	TLSKey    string
	Dev       bool
	Origins   []string
	// StaffLogins are promoted to staff at startup once registered.
	StaffLogins []string
}

// LoadServer parses args on top of CC42_* environment defaults.
func LoadServer(args []string) (Server, error) {
	var c Server
	var origins, staff string
	fs := flag.NewFlagSet("cc42-server", flag.ContinueOnError)
	fs.StringVar(&c.GRPCAddr, "addr", env("CC42_GRPC_ADDR", ":8443"), "gRPC listen address")
	fs.StringVar(&c.HTTPAddr, "http-addr", env("CC42_HTTP_ADDR", ":8080"), "HTTP API listen address (empty disables)")
	fs.StringVar(&c.Store, "store", env("CC42_STORE", StorePostgres), "document store: postgres|memory")
	fs.StringVar(&c.DSN, "dsn", env("DATABASE_URL", ""), "PostgreSQL DSN")
	fs.StringVar(&c.JWTKey, "jwt-key", env("CC42_JWT_KEY", ""), "HS256 signing key (required)")
	fs.StringVar(&c.QRSecret, "qr-secret", env("CC42_QR_SECRET", ""), "pre-shared QR token secret (required)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", envDuration("CC42_ACCESS_TTL", 12*time.Hour), "access token TTL")
	fs.IntVar(&c.MaxBatch, "max-batch", envInt("CC42_MAX_BATCH", 1000), "max documents per apply")
	fs.StringVar(&c.TLSCert, "tls-cert", env("CC42_TLS_CERT", ""), "TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", env("CC42_TLS_KEY", ""), "TLS private key (PEM)")
	fs.BoolVar(&c.Dev, "dev", envBool("CC42_DEV", false), "dev mode: plaintext gRPC allowed, reflection on")
	fs.StringVar(&origins, "cors-origins", env("CC42_CORS_ORIGINS", ""), "comma separated CORS origins (empty allows all)")
	fs.StringVar(&staff, "staff", env("CC42_STAFF_LOGINS", ""), "comma separated logins granted the staff role")
	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}
	c.Origins = List(origins)
	c.StaffLogins = List(staff)
	return c, c.validate()
}

func (c Server) validate() error {
	switch {
	case c.JWTKey == "":
		return errors.New("missing jwt signing key (--jwt-key or CC42_JWT_KEY)")
	case c.QRSecret == "":
		return errors.New("missing QR secret (--qr-secret or CC42_QR_SECRET)")
	case c.Store != StorePostgres && c.Store != StoreMemory:
		return fmt.Errorf("unknown store %q", c.Store)
	case c.Store == StorePostgres && c.DSN == "":
		return errors.New("postgres store needs --dsn or DATABASE_URL")
	case (c.TLSCert == "") != (c.TLSKey == ""):
		return errors.New("--tls-cert and --tls-key go together")
	case c.TLSCert == "" && !c.Dev:
		return errors.New("TLS is required outside --dev")
	case c.MaxBatch <= 0:
		return errors.New("--max-batch must be positive")
	}
	return nil
}

// CLI holds the global flags of the cc42 command.
type CLI struct {
	Addr      string
	CACert    string
	Insecure  bool // skip certificate verification
	Plaintext bool // no TLS at all (dev servers)
	QRSecret  string
	Dir       string
	Timeout   time.Duration
}

// DefaultDir is $XDG_CONFIG_HOME/cc42 or ~/.config/cc42.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "cc42")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cc42")
}

// BindCLI registers the global CLI flags on fs.
func BindCLI(fs *flag.FlagSet) *CLI {
	c := &CLI{}
	fs.StringVar(&c.Addr, "addr", env("CC42_ADDR", "localhost:8443"), "server address")
	fs.StringVar(&c.CACert, "cacert", env("CC42_CACERT", ""), "CA certificate (PEM)")
	fs.BoolVar(&c.Insecure, "insecure", envBool("CC42_INSECURE", false), "skip certificate verification (dev)")
	fs.BoolVar(&c.Plaintext, "plaintext", envBool("CC42_PLAINTEXT", false), "connect without TLS (dev)")
	fs.StringVar(&c.QRSecret, "qr-secret", env("CC42_QR_SECRET", ""), "pre-shared QR token secret")
	fs.StringVar(&c.Dir, "config-dir", env("CC42_CONFIG_DIR", DefaultDir()), "where the session is cached")
	fs.DurationVar(&c.Timeout, "timeout", envDuration("CC42_TIMEOUT", 30*time.Second), "per command timeout")
	return c
}
