package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/eichemberger/aws-sidekick/internal/core"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a sidekick server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a server. target is a unix socket path or, when it
// contains a colon, a TCP host:port.
func Dial(target string) (*Client, error) {
	if !strings.Contains(target, ":") {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, fmt.Errorf("resolving socket path: %w", err)
		}
		target = "unix://" + abs
	}
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with params and decodes the result into out (which may
// be nil). Server-side failures come back as *core.Error carrying the
// response code.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	req := RPCRequest{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		req.Params = raw
	}

	var resp RPCResponse
	if err := c.conn.Invoke(ctx, CallMethod, &req, &resp); err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	if resp.Error != "" {
		return &core.Error{Code: core.ErrorCode(resp.Code), Reason: resp.Error}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}
