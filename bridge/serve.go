package bridge

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Serve starts the MCP endpoint on an ephemeral loopback port and
// returns the SSE URL the agent should connect to. The endpoint stays
// up for the request's full duration (all attempts share it).
func (b *Bridge) Serve() (string, error) {
	if b.endpoint != "" {
		return b.endpoint, nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("bridge: listen: %w", err)
	}
	baseURL := fmt.Sprintf("http://%s", ln.Addr().String())

	sse := server.NewSSEServer(b.mcpServer, server.WithBaseURL(baseURL))
	b.httpSrv = &http.Server{Handler: sse}
	b.listener = ln
	b.endpoint = baseURL + "/sse"

	go func() {
		if err := b.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.logger.Error("bridge endpoint stopped", zap.Error(err))
		}
	}()

	b.logger.Debug("bridge serving", zap.String("endpoint", b.endpoint))
	return b.endpoint, nil
}

// Endpoint returns the SSE URL, or empty if Serve has not run.
func (b *Bridge) Endpoint() string {
	return b.endpoint
}

// Close shuts the endpoint down. Safe to call when Serve never ran.
func (b *Bridge) Close(ctx context.Context) error {
	if b.httpSrv == nil {
		return nil
	}
	err := b.httpSrv.Shutdown(ctx)
	b.httpSrv = nil
	b.endpoint = ""
	return err
}
