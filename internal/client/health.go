package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient wraps the gRPC health service.
type HealthClient struct {
	conn *grpc.ClientConn
	svc  healthpb.HealthClient
}

// DialHealth creates a new client with sensible defaults (insecure transport).
func DialHealth(ctx context.Context, target string, opts ...grpc.DialOption) (*HealthClient, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &HealthClient{conn: conn, svc: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *HealthClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Serving reports whether service ("" for the whole server) is SERVING.
func (c *HealthClient) Serving(ctx context.Context, service string) (bool, error) {
	resp, err := c.svc.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
