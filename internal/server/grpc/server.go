// Package grpcserver exposes the Scanner gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cc42-scan/internal/api/scannerv1"
	"github.com/and161185/cc42-scan/internal/convert"
	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth service.AuthService
	docs service.DocumentService
	log  *zap.Logger
}

var _ scannerv1.ScannerServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, docs service.DocumentService, log *zap.Logger) *Server {
	return &Server{auth: auth, docs: docs, log: log}
}

// toStatus maps domain errors to gRPC codes; the remote repository maps them back.
func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.FailedPrecondition, "version conflict")
	case errors.Is(err, errs.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.log.Error(op, zap.Error(err))
	return status.Errorf(codes.Internal, "%s: internal error", op)
}

func claims(ctx context.Context) (model.Claims, error) {
	c, ok := ClaimsFromCtx(ctx)
	if !ok {
		return model.Claims{}, status.Error(codes.Unauthenticated, "no auth")
	}
	return c, nil
}

func encoded(out *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

// --- Auth ---

// Register creates a new device account.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := convert.From(req)
	login, password := f.String("login"), f.String("password")
	if login == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty login/password")
	}
	userID, err := s.auth.Register(ctx, login, password, convert.ProfileFrom(f))
	if err != nil {
		return nil, s.toStatus("register", err)
	}
	return encoded(convert.Struct(map[string]any{"userId": userID}))
}

// Login authenticates a device and returns its access token and profile.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := convert.From(req)
	tok, u, err := s.auth.LoginWithIP(ctx, f.String("login"), f.String("password"), remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus("login", err)
	}
	return encoded(convert.ToProtoSession(tok, u))
}

// Promote grants the staff role to another account of the caller's campus.
func (s *Server) Promote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := claims(ctx)
	if err != nil {
		return nil, err
	}
	login := convert.From(req).String("login")
	if login == "" {
		return nil, status.Error(codes.InvalidArgument, "empty login")
	}
	if err := s.auth.Promote(ctx, c, login); err != nil {
		return nil, s.toStatus("promote", err)
	}
	return &structpb.Struct{}, nil
}

// --- Documents ---

// GetDoc returns one document, tombstones included.
func (s *Server) GetDoc(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := claims(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.docs.Get(ctx, c, convert.From(req).String("key"))
	if err != nil {
		return nil, s.toStatus("get doc", err)
	}
	return encoded(convert.ToProtoDoc(*d))
}

// ListDocs returns the document at prefix and everything below it.
func (s *Server) ListDocs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := claims(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := s.docs.List(ctx, c, convert.From(req).String("prefix"))
	if err != nil {
		return nil, s.toStatus("list docs", err)
	}
	return encoded(convert.ToProtoDocs(ds))
}

// ApplyDocs commits a batch with optimistic concurrency.
func (s *Server) ApplyDocs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := claims(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := convert.FromProtoWrites(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad writes: %v", err)
	}
	res, err := s.docs.Apply(ctx, c, ws)
	if err != nil {
		return nil, s.toStatus("apply docs", err)
	}
	return encoded(convert.ToProtoVersions(res))
}

// ChangesSince returns keys written after sinceSeq for delta synchronization.
func (s *Server) ChangesSince(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := claims(ctx)
	if err != nil {
		return nil, err
	}
	f := convert.From(req)
	since, err := f.Int("sinceSeq")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	cs, err := s.docs.ChangesSince(ctx, c, f.String("prefix"), since)
	if err != nil {
		return nil, s.toStatus("changes since", err)
	}
	return encoded(convert.ToProtoChanges(cs))
}

// MaxSeq returns the head of the change feed.
func (s *Server) MaxSeq(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := claims(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := s.docs.MaxSeq(ctx, c)
	if err != nil {
		return nil, s.toStatus("max seq", err)
	}
	return encoded(convert.Struct(map[string]any{"seq": float64(seq)}))
}
