package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"engagement-core/pkg/config"
	"engagement-core/pkg/health"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewListener,
		WithOption,
		NewGRPCServer,
		grpchealth.NewServer,
	),
	fx.Invoke(
		RegisterHealth,
		StartGRPCServer,
	),
)

func NewListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%s", cfg.Grpc.Addr))
}

func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, _ := fields[i].(string)
			zf = append(zf, zap.Any(key, fields[i+1]))
		}

		switch lvl {
		case logging.LevelDebug:
			l.Debug(msg, zf...)
		case logging.LevelInfo:
			l.Info(msg, zf...)
		case logging.LevelWarn:
			l.Warn(msg, zf...)
		default:
			l.Error(msg, zf...)
		}
	})
}

type OptionParams struct {
	fx.In
	Config *config.Config
	Tracer trace.TracerProvider
	Meter  metric.MeterProvider
}

func WithOption(p OptionParams) ([]grpc.ServerOption, error) {
	recoverFn := recovery.WithRecoveryHandler(func(r any) error {
		zap.L().Error("recovered from grpc panic", zap.Any("panic", r))
		return status.Error(codes.Internal, "internal error")
	})

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recoverFn),
			logging.UnaryServerInterceptor(interceptorLogger(zap.L()), logging.WithLogOnEvents(logging.FinishCall)),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recoverFn),
		),
		grpc.StatsHandler(
			otelgrpc.NewServerHandler(
				otelgrpc.WithTracerProvider(p.Tracer),
				otelgrpc.WithMeterProvider(p.Meter),
			),
		),
	}

	if p.Config.TLS.Enable {
		creds, err := credentials.NewServerTLSFromFile(p.Config.TLS.CertPath, p.Config.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}

	return opts, nil
}

func NewGRPCServer(opts []grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(opts...)
}

// RegisterHealth serves grpc.health.v1 and keeps its status in line with the
// dependency checks.
func RegisterHealth(lc fx.Lifecycle, srv *grpc.Server, hs *grpchealth.Server, checker health.HealthService) {
	healthpb.RegisterHealthServer(srv, hs)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(10 * time.Second)
				defer ticker.Stop()
				for {
					st := healthpb.HealthCheckResponse_SERVING
					if checker.Check(ctx).Status != health.StatusHealthy {
						st = healthpb.HealthCheckResponse_NOT_SERVING
					}
					hs.SetServingStatus("", st)

					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			hs.Shutdown()
			return nil
		},
	})
}

func StartGRPCServer(lc fx.Lifecycle, lis net.Listener, srv *grpc.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				zap.L().Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
				reflection.Register(srv)
				if err := srv.Serve(lis); err != nil {
					zap.L().Error("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Stopping gRPC server")
			srv.GracefulStop()
			return nil
		},
	})
}
