// Package grpcapi provides the sidekick API over gRPC. The server listens on
// a unix socket owned by the operator, or on TCP for local development.
package grpcapi

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/eichemberger/aws-sidekick/internal/app"
	"google.golang.org/grpc"
)

const socketMode = 0o600

// Server wraps the gRPC server and the sidekick app.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	handler    *Handler
	socketPath string
}

// NewServer creates a gRPC server bound to a unix socket. A stale socket
// file from a previous run is removed first.
func NewServer(socketPath string, a *app.App) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, socketMode); err != nil {
		lis.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}

	s := newServer(lis, a)
	s.socketPath = socketPath
	return s, nil
}

// NewTCPServer creates a plaintext gRPC server (for local/dev use only).
func NewTCPServer(addr string, a *app.App) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return newServer(lis, a), nil
}

func newServer(lis net.Listener, a *app.App) *Server {
	h := NewHandler(NewService(a))
	s := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(h.logger)))
	h.RegisterWithGRPC(s)

	return &Server{
		grpcServer: s,
		listener:   lis,
		handler:    h,
	}
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts serving gRPC requests.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// Stop gracefully stops the gRPC server and removes its socket file.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
}

// Handler returns the JSON-RPC handler for direct access.
func (s *Server) Handler() *Handler {
	return s.handler
}
