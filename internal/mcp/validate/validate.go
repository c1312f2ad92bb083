// Package validate exercises a live connection to an MCP server: transport
// setup plus the protocol handshake, bounded by a fixed timeout.
package validate

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"cowork/internal/mcp/document"
	"cowork/pkg/logging"
)

// DefaultTimeout bounds one validation attempt end to end.
const DefaultTimeout = 3 * time.Second

const (
	protocolVersion = "2024-11-05"
	clientName      = "cowork"
	clientVersion   = "1.0.0"
)

// Result is the outcome of one validation attempt.
type Result struct {
	OK            bool          `json:"ok"`
	ServerName    string        `json:"serverName,omitempty"`
	ServerVersion string        `json:"serverVersion,omitempty"`
	Message       string        `json:"message,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Validator connects to servers and runs the MCP handshake.
type Validator struct {
	timeout time.Duration
}

// NewValidator creates a validator with the default timeout.
func NewValidator() *Validator {
	return &Validator{timeout: DefaultTimeout}
}

type connection struct {
	client *client.Client
	info   *mcp.InitializeResult
	err    error
}

// Validate connects with the given definition and auth headers and performs
// the protocol handshake. The attempt races a timer; on timeout the
// connection keeps being torn down asynchronously rather than leaking.
func (v *Validator) Validate(ctx context.Context, def document.ServerDefinition, headers map[string]string) *Result {
	start := time.Now()
	ch := make(chan connection, 1)

	go func() {
		ch <- v.connect(ctx, def, headers)
	}()

	timer := time.NewTimer(v.timeout)
	defer timer.Stop()

	select {
	case conn := <-ch:
		duration := time.Since(start)
		if conn.err != nil {
			return &Result{OK: false, Message: conn.err.Error(), Duration: duration}
		}
		conn.client.Close()
		return &Result{
			OK:            true,
			ServerName:    conn.info.ServerInfo.Name,
			ServerVersion: conn.info.ServerInfo.Version,
			Duration:      duration,
		}

	case <-timer.C:
		// Late arrivals still get closed; the goroutine owns the client
		// until someone receives it.
		go func() {
			conn := <-ch
			if conn.client != nil {
				conn.client.Close()
			}
		}()
		logging.Debug("Validate", "Validation of %s timed out after %s", def.Name, v.timeout)
		return &Result{
			OK:       false,
			Message:  fmt.Sprintf("validation timed out after %s", v.timeout),
			Duration: time.Since(start),
		}

	case <-ctx.Done():
		go func() {
			conn := <-ch
			if conn.client != nil {
				conn.client.Close()
			}
		}()
		return &Result{OK: false, Message: ctx.Err().Error(), Duration: time.Since(start)}
	}
}

func (v *Validator) connect(ctx context.Context, def document.ServerDefinition, headers map[string]string) connection {
	mcpClient, err := newMCPClient(ctx, def, headers)
	if err != nil {
		return connection{err: err}
	}

	info, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		mcpClient.Close()
		return connection{err: fmt.Errorf("failed to initialize MCP protocol: %w", err)}
	}

	return connection{client: mcpClient, info: info}
}

func newMCPClient(ctx context.Context, def document.ServerDefinition, headers map[string]string) (*client.Client, error) {
	switch t := def.Transport.(type) {
	case document.StdioTransport:
		var envStrings []string
		for k, val := range t.Env {
			envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, val))
		}
		if t.Cwd == "" {
			return client.NewStdioMCPClient(t.Command, envStrings, t.Args...)
		}
		return client.NewStdioMCPClientWithOptions(t.Command, envStrings, t.Args,
			transport.WithCommandFunc(func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
				cmd := exec.CommandContext(ctx, command, args...)
				cmd.Env = env
				cmd.Dir = t.Cwd
				return cmd, nil
			}))

	case document.HTTPTransport:
		var opts []transport.StreamableHTTPCOption
		if merged := mergeHeaders(t.Headers, headers); len(merged) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(merged))
		}
		return client.NewStreamableHttpClient(t.URL, opts...)

	case document.SSETransport:
		var opts []transport.ClientOption
		if merged := mergeHeaders(t.Headers, headers); len(merged) > 0 {
			opts = append(opts, transport.WithHeaders(merged))
		}
		sseClient, err := client.NewSSEMCPClient(t.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE client: %w", err)
		}
		if err := sseClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start SSE transport: %w", err)
		}
		return sseClient, nil

	default:
		return nil, fmt.Errorf("unsupported transport %T", def.Transport)
	}
}

// mergeHeaders overlays resolved auth headers on the transport's static
// headers; auth wins on conflict.
func mergeHeaders(static, auth map[string]string) map[string]string {
	if len(static) == 0 && len(auth) == 0 {
		return nil
	}
	merged := make(map[string]string, len(static)+len(auth))
	for k, v := range static {
		merged[k] = v
	}
	for k, v := range auth {
		merged[k] = v
	}
	return merged
}
