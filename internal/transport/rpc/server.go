package rpc

import (
	"net"

	"google.golang.org/grpc"

	"github.com/docker/model-ops-coordinator/internal/coordinator"
	"github.com/docker/model-ops-coordinator/internal/logging"
)

// Config carries the server.grpc_port and auth.shared_secret settings
// from spec.md §6.
type Config struct {
	Port         int
	SharedSecret string
}

// Server wraps a grpc.Server registered with the hand-written
// ServiceDesc.
type Server struct {
	cfg  Config
	log  logging.Logger
	grpc *grpc.Server
}

// NewServer builds the grpc.Server with the auth and correlation-id
// interceptors chained, mirroring the REST surface's authMiddleware.
func NewServer(cfg Config, coord *coordinator.Coordinator, log logging.Logger) *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(AuthInterceptor(cfg.SharedSecret), CorrelationIDInterceptor),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterCoordinatorServer(srv, coord)
	return &Server{cfg: cfg, log: log, grpc: srv}
}

// Serve blocks accepting connections on the configured port.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop drains in-flight calls and stops accepting new ones.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}
