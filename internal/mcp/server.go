// Package mcp exposes the retrieval tools and the module validator over the
// Model Context Protocol.
package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/gmf"
	"github.com/jorge-barreto/synthflow/internal/tools"
)

// Server wraps the MCP SDK server. The registry is shared read-only by all
// sessions.
type Server struct {
	MCPServer *sdkmcp.Server
	registry  *tools.Registry
	logger    *zap.Logger
}

// NewServer registers every tool in reg plus validate_module.
func NewServer(reg *tools.Registry, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{registry: reg, logger: logger}
	s.MCPServer = sdkmcp.NewServer(&sdkmcp.Implementation{Name: "synthflow", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves a single stdio session until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server over stdio", zap.Int("tools", len(s.registry.Specs())+1))
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	for _, spec := range s.registry.Specs() {
		sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
			Name:        spec.Name,
			Description: describe(spec),
		}, s.invoke(spec.Name))
	}

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "validate_module",
		Description: "Validate a GMF module JSON document against the restricted grammar. Returns a diagnostic with the failing layer and problems.",
	}, s.handleValidate)
}

// invoke returns a handler that runs name through the registry. Failures are
// part of the returned record, not protocol errors.
func (s *Server) invoke(name string) func(context.Context, *sdkmcp.CallToolRequest, map[string]any) (*sdkmcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *sdkmcp.CallToolRequest, args map[string]any) (*sdkmcp.CallToolResult, any, error) {
		rec := s.registry.Invoke(ctx, name, args)
		s.logger.Debug("MCP tool call", zap.String("tool", name), zap.Bool("ok", rec.OK()))
		return nil, rec, nil
	}
}

type validateInput struct {
	Module string `json:"module" jsonschema:"the module JSON text"`
}

func (s *Server) handleValidate(_ context.Context, _ *sdkmcp.CallToolRequest, in validateInput) (*sdkmcp.CallToolResult, gmf.Diagnostic, error) {
	return nil, gmf.Validate(in.Module), nil
}

// describe folds the parameter list into the tool description; arguments
// are checked by the registry.
func describe(spec tools.Spec) string {
	var b strings.Builder
	b.WriteString(spec.Description)
	if len(spec.Params) == 0 {
		return b.String()
	}
	b.WriteString(" Arguments:")
	for i, p := range spec.Params {
		if i > 0 {
			b.WriteString(";")
		}
		fmt.Fprintf(&b, " %s (%s", p.Name, p.Type)
		if p.Required {
			b.WriteString(", required")
		}
		if p.Max > 0 {
			fmt.Fprintf(&b, ", %d..%d", p.Min, p.Max)
		}
		b.WriteString(")")
	}
	return b.String()
}
