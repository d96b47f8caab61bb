package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/and161185/cc42-scan/internal/model"
)

type ctxKey string

const claimsKey ctxKey = "cc42.claims"

// WithClaims stores verified token claims in context.
func WithClaims(ctx context.Context, c model.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches verified claims from context.
func ClaimsFromCtx(ctx context.Context) (model.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(model.Claims)
	return c, ok
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
