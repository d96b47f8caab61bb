package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/cc42-scan/internal/api/scannerv1"
	"github.com/and161185/cc42-scan/internal/authcache"
	"github.com/and161185/cc42-scan/internal/config"
	pkgcrypto "github.com/and161185/cc42-scan/internal/crypto"
	"github.com/and161185/cc42-scan/internal/crypto/qrcrypto"
	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/limiter"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/payload"
	"github.com/and161185/cc42-scan/internal/repository/memory"
	"github.com/and161185/cc42-scan/internal/repository/remote"
	grpcserver "github.com/and161185/cc42-scan/internal/server/grpc"
	"github.com/and161185/cc42-scan/internal/service"
	"github.com/and161185/cc42-scan/internal/store"
)

const qrSecret = "qr-secret"

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	if creds, err := loadTLS("", false, true); err != nil || creds.Info().SecurityProtocol != "insecure" {
		t.Fatalf("plaintext: %v %v", creds, err)
	}
	if creds, err := loadTLS("", true, false); err != nil || creds == nil {
		t.Fatalf("skip verify: %v %v", creds, err)
	}
	if creds, err := loadTLS("", false, false); err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	if creds, err := loadTLS(tmp, false, false); err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}

func Test_termUI(t *testing.T) {
	t.Parallel()

	var out, cue bytes.Buffer
	ui := newTermUI(&out, &cue)
	ui.Beep()
	ui.Buzz()
	ui.SetLoading(true)
	ui.SetLoading(false)
	ui.ShowModal(model.Modal{Title: "Meal", Message: "done", Severity: model.SeveritySuccess})
	ui.Leave()

	if got := <-ui.modals; got.Title != "Meal" {
		t.Fatalf("modal not forwarded: %+v", got)
	}
	if out.String() != "[success] Meal: done\nscreen closed\n" {
		t.Fatalf("out=%q", out.String())
	}
	if cue.String() != "\a...\n" {
		t.Fatalf("cue=%q", cue.String())
	}
}

func Test_newLineReader_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	lines := newLineReader(ctx, pr)
	go func() { _, _ = pw.Write([]byte("one\n")) }()
	if l := <-lines; l != "one" {
		t.Fatalf("first line: %q", l)
	}

	cancel()
	go func() { _, _ = pw.Write([]byte("two\n")) }()
	select {
	case l, ok := <-lines:
		if ok {
			t.Fatalf("line %q delivered after cancel", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine still running")
	}
}

/************ end to end over bufconn ************/

type harness struct {
	app  *app
	out  *bytes.Buffer
	docs *memory.DocRepo
	auth *service.AuthServiceImpl
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop()
	auth := service.NewAuthService(memory.NewUserRepo(), []byte("test-secret"), time.Hour, limiter.NewMemory(limiter.DefaultPolicy), log).
		WithHashParams(pkgcrypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	docs := memory.NewDocRepo()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.AuthUnary(auth)))
	scannerv1.RegisterScannerServer(gs, grpcserver.New(auth, service.NewDocumentService(docs, 100), log))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() { gs.Stop(); _ = lis.Close() })

	dial := func(token string) (*grpc.ClientConn, error) {
		opts := []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
		if token != "" {
			opts = append(opts, grpc.WithPerRPCCredentials(remote.Bearer{Token: token, Insecure: true}))
		}
		return grpc.NewClient("passthrough:///bufnet", opts...)
	}

	out := &bytes.Buffer{}
	return &harness{
		app: &app{
			cfg:    &config.CLI{QRSecret: qrSecret, Timeout: 5 * time.Second},
			cache:  authcache.NewFile(t.TempDir()),
			dial:   dial,
			log:    log,
			in:     strings.NewReader(""),
			out:    out,
			errOut: &bytes.Buffer{},
		},
		out:  out,
		docs: docs,
		auth: auth,
	}
}

func (h *harness) run(t *testing.T, args ...string) string {
	t.Helper()
	h.out.Reset()
	if err := h.app.run(context.Background(), args); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return h.out.String()
}

func badgeToken(t *testing.T, b model.Badge) string {
	t.Helper()
	c, err := qrcrypto.New([]byte(qrSecret))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	text, err := payload.EncodeBadge(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tok, _ := c.Encrypt(text)
	return tok
}

func TestRun_UsageAndVersion(t *testing.T) {
	h := newHarness(t)
	if err := h.app.run(context.Background(), nil); !errors.Is(err, errUsage) {
		t.Fatalf("want usage error, got %v", err)
	}
	if err := h.app.run(context.Background(), []string{"nope"}); !errors.Is(err, errUsage) {
		t.Fatalf("want usage error, got %v", err)
	}
	if out := h.run(t, "version"); !strings.HasPrefix(out, "cc42 dev") {
		t.Fatalf("version: %q", out)
	}
}

func TestCLI_StaffDeviceFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.app.run(ctx, []string{"whoami"}); !errors.Is(err, authcache.ErrNoSession) {
		t.Fatalf("whoami before login: %v", err)
	}

	h.run(t, "register", "-u", "chef", "-p", "pw", "-intra", "chef-id", "-campus", "1", "-name", "Chef")
	if out := h.run(t, "login", "-u", "chef", "-p", "pw"); out != "ok: chef, campus 1 (student)\n" {
		t.Fatalf("login before promotion: %q", out)
	}
	if err := h.app.run(ctx, []string{"promote", "-u", "chef"}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("student promoting: %v", err)
	}
	if err := h.auth.PromoteLogins(ctx, []string{"chef"}); err != nil {
		t.Fatalf("bootstrap staff: %v", err)
	}
	if out := h.run(t, "login", "-u", "chef", "-p", "pw"); out != "ok: chef, campus 1 (staff)\n" {
		t.Fatalf("login: %q", out)
	}
	h.run(t, "register", "-u", "ada", "-p", "pw", "-intra", "ada-id", "-campus", "1")
	if out := h.run(t, "promote", "-u", "ada"); out != "ok: ada is staff\n" {
		t.Fatalf("promote: %q", out)
	}
	if out := h.run(t, "whoami"); !strings.Contains(out, `"intraId": "chef-id"`) {
		t.Fatalf("whoami: %q", out)
	}

	// the meal list itself is managed elsewhere
	meal := model.MealRef{Campus: "1", Cursus: "21", MealID: "m1"}
	if err := store.New(h.docs, zap.NewNop()).Set(ctx, meal.Path(), map[string]any{"name": "Lunch"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h.run(t, "policy", "-cursus", "21", "-meal", "m1", "-quantity", "1")

	sam := badgeToken(t, model.Badge{StudentID: "s1", Login: "sam", DisplayName: "Sam", CursusID: "21", CampusID: "1"})
	h.app.in = strings.NewReader("garbage\n\n" + sam + "\n" + sam + "\n")
	out := h.run(t, "scan", "-cursus", "21", "-meals", "m1", "-keep")
	want := "[warning] Invalid code: invalid code\n" +
		"[success] Meal: Sam received the first portion\n" +
		"screen closed\n" +
		"[warning] Meal: Sam: already received first portion\n"
	if out != want {
		t.Fatalf("scan output:\n%s\nwant:\n%s", out, want)
	}

	if out := h.run(t, "claim", "-cursus", "21", "-meal", "m1", "-student", "s1"); !strings.Contains(out, `"quantitySecondPortion": 0`) {
		t.Fatalf("claim: %q", out)
	}
	err := h.app.run(ctx, []string{"claim", "-cursus", "21", "-meal", "m1", "-student", "s1"})
	if !errors.Is(err, errs.ErrSecondPortionClaimed) {
		t.Fatalf("second claim: %v", err)
	}

	h.app.in = strings.NewReader(sam + "\n")
	out = h.run(t, "scan", "-cursus", "21", "-meals", "m1", "-portion", "second")
	if out != "[success] Meal: Sam received the second portion\nscreen closed\n" {
		t.Fatalf("second portion scan: %q", out)
	}

	wctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	h.out.Reset()
	if err := h.app.run(wctx, []string{"watch", "-cursus", "21", "-meal", "m1", "-student", "s1"}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if first := strings.SplitN(h.out.String(), "\n", 2)[0]; first != "enabled=false subscribed=true received=true" {
		t.Fatalf("watch: %q", h.out.String())
	}

	h.run(t, "logout")
	if err := h.app.run(ctx, []string{"claim", "-cursus", "21", "-meal", "m1"}); !errors.Is(err, authcache.ErrNoSession) {
		t.Fatalf("claim after logout: %v", err)
	}
}

func TestCLI_EncodeDecode(t *testing.T) {
	h := newHarness(t)

	tok := strings.TrimSpace(h.run(t, "encode", "-kind", "event", "-id", "e1", "-staff", "chef-id"))
	out := h.run(t, "decode", tok)
	if !strings.Contains(out, `"command": "model.EventStaticCheckin"`) || !strings.Contains(out, `"EventID": "e1"`) {
		t.Fatalf("decode: %q", out)
	}
	if err := h.app.run(context.Background(), []string{"decode", "-meal", tok}); !errors.Is(err, errs.ErrInvalidToken) {
		t.Fatalf("event code on meal screen: %v", err)
	}

	if out := h.run(t, "encode", "-kind", "meal", "-id", "m1", "-staff", "x", "-plain"); out != "cc42mealm1#x\n" {
		t.Fatalf("plain: %q", out)
	}
	if err := h.app.run(context.Background(), []string{"encode", "-kind", "badge", "-cursus", "21"}); !errors.Is(err, authcache.ErrNoSession) {
		t.Fatalf("badge without session: %v", err)
	}

	h.app.cfg.QRSecret = ""
	if err := h.app.run(context.Background(), []string{"decode", tok}); err == nil {
		t.Fatalf("want error without secret")
	}
}

func TestScan_FlagValidation(t *testing.T) {
	h := newHarness(t)
	for _, args := range [][]string{
		{"scan"},
		{"scan", "-cursus", "21", "-event", "e1", "-meals", "m1"},
		{"scan", "-cursus", "21", "-event", "e1", "-action", "sideways"},
		{"scan", "-cursus", "21", "-meals", "m1", "-portion", "third"},
	} {
		if err := h.app.run(context.Background(), args); err == nil {
			t.Fatalf("%v: want error", args)
		}
	}
}
