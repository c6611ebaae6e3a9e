package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// HealthServer implements grpc.health.v1.Health on top of the readiness
// checker used by /readyz.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness ReadinessChecker
}

// NewHealthServer creates the gRPC health service. A nil checker reports
// SERVING unconditionally.
func NewHealthServer(r ReadinessChecker) *HealthServer {
	return &HealthServer{readiness: r}
}

// Check reports SERVING while dependencies are reachable. The empty service
// name refers to the whole server.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer builds a server exposing the health service and reflection.
func NewGRPCServer(r ReadinessChecker, logger logrus.FieldLogger) *grpc.Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(unaryLogging(logger)))
	healthpb.RegisterHealthServer(srv, NewHealthServer(r))
	reflection.Register(srv)
	return srv
}

func unaryLogging(logger logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := logger.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"code":        status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("grpc_request_failed")
		} else {
			entry.Debug("grpc_request_complete")
		}
		return resp, err
	}
}
