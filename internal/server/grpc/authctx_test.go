package grpcserver

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"

	"github.com/and161185/cc42-scan/internal/model"
)

func ctxAuth(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer "+token))
}

func TestWithClaims_And_ClaimsFromCtx(t *testing.T) {
	t.Parallel()

	if _, ok := ClaimsFromCtx(context.Background()); ok {
		t.Fatalf("expected no claims in empty ctx")
	}

	want := model.Claims{Login: "scanner", CampusID: "1", Role: model.RoleStaff}
	got, ok := ClaimsFromCtx(WithClaims(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("mismatch: got %+v, want %+v", got, want)
	}

	bad := context.WithValue(context.Background(), claimsKey, "not-claims")
	if _, ok := ClaimsFromCtx(bad); ok {
		t.Fatalf("expected miss on wrong typed value")
	}
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "basic x", "authorization", "BEARER tok"))
	if got, err := bearerTokenFromMD(ctx); err != nil || got != "tok" {
		t.Fatalf("case-insensitive among many: got=%q err=%v", got, err)
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}
