// Package mcpserver exposes an agent.Registry as an MCP server.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/agent"
	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

const defaultName = "devici-mcp"

const instructions = "Tools for the Devici threat modeling platform and Open Threat Model (OTM) documents. " +
	"Call devici_overview for a guide."

// Server maps registry tools onto an mcp.Server.
type Server struct {
	srv     *mcp.Server
	reg     *agent.Registry
	allowed map[string]bool
	logger  *zap.Logger
	tracer  trace.Tracer
	version string
	tools   []string
}

type Option func(*Server)

// WithAllowed sets the granted permissions. Tools needing anything else are
// not exposed.
func WithAllowed(allowed map[string]bool) Option {
	return func(s *Server) { s.allowed = allowed }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// New creates the MCP server and registers every permitted tool of reg.
func New(reg *agent.Registry, opts ...Option) (*Server, error) {
	if reg == nil {
		return nil, errors.New("registry is nil")
	}
	s := &Server{
		reg:     reg,
		allowed: map[string]bool{},
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("mcpserver"),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = mcp.NewServer(&mcp.Implementation{Name: defaultName, Version: s.version}, &mcp.ServerOptions{Instructions: instructions})
	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerTools exports local tools to the MCP server.
func (s *Server) registerTools() error {
	for _, t := range s.reg.Permitted(s.allowed) {
		desc := t.Describe()
		tool := &mcp.Tool{Name: desc.Name, Description: desc.Description}
		if err := json.Unmarshal(desc.InputSchema, &tool.InputSchema); err != nil {
			return errmodel.System("bad_schema", "tool input schema is not JSON", map[string]any{"tool": desc.Name}, err)
		}
		if len(desc.OutputSchema) > 0 {
			if err := json.Unmarshal(desc.OutputSchema, &tool.OutputSchema); err != nil {
				return errmodel.System("bad_schema", "tool output schema is not JSON", map[string]any{"tool": desc.Name}, err)
			}
		}
		s.srv.AddTool(tool, s.handler(desc.Name))
		s.tools = append(s.tools, desc.Name)
	}
	s.logger.Info("mcp tools registered", zap.Int("count", len(s.tools)))
	return nil
}

// Tools lists the exposed tool names.
func (s *Server) Tools() []string { return append([]string(nil), s.tools...) }

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := s.tracer.Start(ctx, "mcp.tool", trace.WithAttributes(attribute.String("mcp.tool", name)))
		defer span.End()
		start := time.Now()

		args := map[string]any{}
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(errmodel.Validation("invalid_input", "arguments must be a JSON object", map[string]any{"tool": name})), nil
			}
		}

		out, err := s.reg.Invoke(ctx, name, args, s.allowed)
		if err != nil {
			ce := errmodel.From(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, ce.Code)
			s.logger.Warn("tool call failed",
				zap.String("tool", name),
				zap.String("category", ce.Category),
				zap.String("code", ce.Code),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return errorResult(ce), nil
		}
		s.logger.Debug("tool call", zap.String("tool", name), zap.Duration("duration", time.Since(start)))

		text, err := json.Marshal(out)
		if err != nil {
			return errorResult(errmodel.System("encode_failure", "cannot encode tool result", nil, err)), nil
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(text)}},
			StructuredContent: out,
		}, nil
	}
}

func errorResult(ce *errmodel.Error) *mcp.CallToolResult {
	b, _ := json.Marshal(ce)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
		IsError: true,
	}
}

// Connect serves one session over t; tests pair it with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// ServeStdio serves over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}
