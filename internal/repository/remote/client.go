// Package remote implements repository interfaces over the Scanner gRPC service,
// so a scanning device runs the engines locally against the shared server.
package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cc42-scan/internal/api/scannerv1"
	"github.com/and161185/cc42-scan/internal/convert"
	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
)

// Bearer attaches an access token to every call.
type Bearer struct {
	Token    string
	Insecure bool // allow sending the token over plaintext (dev only)
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (b Bearer) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	if b.Token == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + b.Token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (b Bearer) RequireTransportSecurity() bool { return !b.Insecure }

// Client talks to the Scanner service.
type Client struct {
	rpc *scannerv1.ScannerClient
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{rpc: scannerv1.NewScannerClient(cc)}
}

// fromStatus maps gRPC codes back onto domain sentinels.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = errs.ErrNotFound
	case codes.FailedPrecondition:
		sentinel = errs.ErrVersionConflict
	case codes.PermissionDenied:
		sentinel = errs.ErrForbidden
	case codes.Unauthenticated:
		sentinel = errs.ErrUnauthorized
	case codes.ResourceExhausted:
		sentinel = errs.ErrRateLimited
	case codes.AlreadyExists:
		sentinel = errs.ErrAlreadyExists
	case codes.InvalidArgument:
		sentinel = errs.ErrInvalidArgument
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	case codes.Canceled:
		sentinel = context.Canceled
	default:
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
	if st.Message() == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := c.rpc.Call(ctx, method, in)
	if err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// Register creates a device account and returns its user ID.
func (c *Client) Register(ctx context.Context, login, password string, p model.Profile) (string, error) {
	in, err := convert.ToProtoProfile(login, password, p)
	if err != nil {
		return "", err
	}
	out, err := c.call(ctx, scannerv1.MethodRegister, in)
	if err != nil {
		return "", err
	}
	return convert.From(out).String("userId"), nil
}

// Promote makes login a staff account; the caller must be staff of the same campus.
func (c *Client) Promote(ctx context.Context, login string) error {
	in, err := convert.Struct(map[string]any{"login": login})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, scannerv1.MethodPromote, in)
	return err
}

// Login authenticates and returns the session issued by the server.
func (c *Client) Login(ctx context.Context, login, password string) (convert.Session, error) {
	in, err := convert.Struct(map[string]any{"login": login, "password": password})
	if err != nil {
		return convert.Session{}, err
	}
	out, err := c.call(ctx, scannerv1.MethodLogin, in)
	if err != nil {
		return convert.Session{}, err
	}
	return convert.FromProtoSession(out)
}
