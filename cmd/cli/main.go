// Command cc42 is the scanning device client: it logs in against cc42-server and runs
// the attendance and meal engines locally on top of the shared document store.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/cc42-scan/internal/authcache"
	"github.com/and161185/cc42-scan/internal/config"
	"github.com/and161185/cc42-scan/internal/repository/remote"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// ---- grpc dial ----

func loadTLS(caPath string, skipVerify, plaintext bool) (credentials.TransportCredentials, error) {
	switch {
	case plaintext:
		return insecure.NewCredentials(), nil
	case skipVerify:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev flag
	case caPath == "":
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dialer(cfg *config.CLI) func(token string) (*grpc.ClientConn, error) {
	return func(token string) (*grpc.ClientConn, error) {
		creds, err := loadTLS(cfg.CACert, cfg.Insecure, cfg.Plaintext)
		if err != nil {
			return nil, err
		}
		opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
		if token != "" {
			opts = append(opts, grpc.WithPerRPCCredentials(remote.Bearer{Token: token, Insecure: cfg.Plaintext}))
		}
		return grpc.NewClient(cfg.Addr, opts...)
	}
}

// ---- app ----

type app struct {
	cfg   *config.CLI
	cache *authcache.File
	dial  func(token string) (*grpc.ClientConn, error)
	log   *zap.Logger

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `cc42 scanning client
Usage:
  cc42 [-addr HOST:PORT] [-cacert file | -insecure | -plaintext] [-qr-secret S] <cmd> [args]

Commands:
  version
  register  -u <login> -p <password> -intra <id> -campus <id> [-name N] [-image URL]
  login     -u <login> -p <password>              (caches the session)
  promote   -u <login>                            (staff only, same campus)
  logout
  whoami
  encode    -kind event|meal|badge [-id ID] [-staff ID] [-cursus ID] [-plain]
  decode    [-event] [-meal] <ciphertext>
  scan      -cursus <id> (-event <id> [-action in|out] | -meals <id,id> [-portion first|second] [-quantity n]) [-keep]
            reads one camera frame per stdin line
  claim     -cursus <id> -meal <id> [-student <id>]
  policy    -cursus <id> -meal <id> -enabled=<bool> -quantity <n>
  watch     -cursus <id> -meal <id> [-student <id>]
`)
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		usage(a.errOut)
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		fmt.Fprintf(a.out, "cc42 %s (%s)\n", version, buildDate)
		return nil
	case "scan":
		return a.scan(ctx, rest)
	case "watch":
		return a.watch(ctx, rest)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	switch cmd {
	case "register":
		return a.register(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "promote":
		return a.promote(ctx, rest)
	case "logout":
		return a.cache.Clear()
	case "whoami":
		return a.whoami()
	case "encode":
		return a.encode(rest)
	case "decode":
		return a.decode(rest)
	case "claim":
		return a.claim(ctx, rest)
	case "policy":
		return a.policy(ctx, rest)
	}
	usage(a.errOut)
	return errUsage
}

var errUsage = errors.New("usage")

// main parses the global flags and dispatches the subcommand.
func main() {
	_ = config.LoadDotenv()

	fs := flag.NewFlagSet("cc42", flag.ExitOnError)
	cfg := config.BindCLI(fs)
	verbose := fs.Bool("v", false, "log engine activity to stderr")
	fs.Usage = func() { usage(os.Stderr) }
	_ = fs.Parse(os.Args[1:])

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:    cfg,
		cache:  authcache.NewFile(cfg.Dir),
		dial:   dialer(cfg),
		log:    log,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	if err := a.run(ctx, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
