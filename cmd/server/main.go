// Command cc42-server serves the shared scan state to devices (gRPC) and the staff dashboard (HTTP).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/cc42-scan/internal/api/scannerv1"
	"github.com/and161185/cc42-scan/internal/attendance"
	"github.com/and161185/cc42-scan/internal/config"
	"github.com/and161185/cc42-scan/internal/crypto/qrcrypto"
	"github.com/and161185/cc42-scan/internal/limiter"
	"github.com/and161185/cc42-scan/internal/migrate"
	"github.com/and161185/cc42-scan/internal/repository"
	"github.com/and161185/cc42-scan/internal/repository/memory"
	"github.com/and161185/cc42-scan/internal/repository/postgres"
	grpcserver "github.com/and161185/cc42-scan/internal/server/grpc"
	httpserver "github.com/and161185/cc42-scan/internal/server/http"
	"github.com/and161185/cc42-scan/internal/service"
	"github.com/and161185/cc42-scan/internal/store"
	"github.com/and161185/cc42-scan/internal/subscription"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type backend struct {
	users repository.UserRepository
	docs  repository.DocumentRepository
	lim   limiter.Limiter
	close func()
}

func openBackend(ctx context.Context, cfg config.Server, log *zap.Logger) (backend, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("memory store: state is lost on restart")
		return backend{
			users: memory.NewUserRepo(),
			docs:  memory.NewDocRepo(),
			lim:   limiter.NewMemory(limiter.DefaultPolicy),
			close: func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN, log); err != nil {
		return backend{}, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return backend{}, fmt.Errorf("pgxpool: %w", err)
	}
	return backend{
		users: postgres.NewUserRepo(db),
		docs:  postgres.NewDocRepo(db),
		lim:   limiter.NewPG(db.Pool, limiter.DefaultPolicy),
		close: db.Close,
	}, nil
}

// main parses configuration, opens the store and runs both listeners until SIGINT/SIGTERM.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.LoadDotenv(); err != nil {
		logger.Fatal("dotenv", zap.Error(err))
	}
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPCAddr),
		zap.String("http", cfg.HTTPAddr),
		zap.String("store", cfg.Store),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer be.close()

	cipher, err := qrcrypto.New([]byte(cfg.QRSecret))
	if err != nil {
		logger.Fatal("qr cipher", zap.Error(err))
	}

	// Services
	authSvc := service.NewAuthService(be.users, []byte(cfg.JWTKey), cfg.AccessTTL, be.lim, logger)
	docSvc := service.NewDocumentService(be.docs, cfg.MaxBatch)
	if err := authSvc.PromoteLogins(ctx, cfg.StaffLogins); err != nil {
		logger.Fatal("staff bootstrap", zap.Error(err))
	}

	// gRPC
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary(authSvc),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("gRPC without TLS (dev)")
	}
	gs := grpc.NewServer(opts...)
	scannerv1.RegisterScannerServer(gs, grpcserver.New(authSvc, docSvc, logger))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.Dev {
		reflection.Register(gs)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- gs.Serve(lis)
	}()

	// HTTP dashboard runs the engines in-process against the same repository.
	var hsrv *http.Server
	if cfg.HTTPAddr != "" {
		if !cfg.Dev {
			gin.SetMode(gin.ReleaseMode)
		}
		st := store.New(be.docs, logger)
		api := httpserver.New(httpserver.Deps{
			Auth:         authSvc,
			Users:        be.users,
			Portions:     subscription.New(st, logger),
			Participants: attendance.New(st, logger),
			Cipher:       cipher,
			Log:          logger,
			AllowOrigins: cfg.Origins,
		})
		hsrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			// open SSE streams end with the signal context
			BaseContext: func(net.Listener) context.Context { return ctx },
		}
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
			if err := hsrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		hs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if hsrv != nil {
			if err := hsrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		}
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			gs.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		be.close()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
