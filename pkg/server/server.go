// Package server exposes the tool registry to agents over MCP (stdio or
// SSE) and serves the HTTP API used for health checks, tool inventory,
// metrics and human-step completion.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/registry"
	"github.com/entrhq/sitebridge/pkg/telemetry"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Catalog is the part of the registry the server needs.
type Catalog interface {
	List() []*registry.Tool
	Dispatch(ctx context.Context, name string, args map[string]any) *types.Result
}

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Log     *logging.Logger
	// Broker backs the /human routes. Nil disables them.
	Broker *human.Broker
	// Telemetry backs /metrics. Nil disables it.
	Telemetry *telemetry.Provider
	AccessLog bool
}

// Server publishes a Catalog as MCP tools.
type Server struct {
	catalog Catalog
	opts    Options
	log     *logging.Logger
	mcp     *server.MCPServer

	mu        sync.Mutex
	published map[string]bool
}

// New builds a server and publishes the catalog's current tools.
func New(catalog Catalog, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "sitebridge"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	s := &Server{
		catalog:   catalog,
		opts:      opts,
		log:       opts.Log,
		published: make(map[string]bool),
	}
	s.mcp = server.NewMCPServer(
		opts.Name,
		opts.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
	)
	s.Sync()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Sync publishes tools added to the catalog since the last call and
// withdraws tools that are gone or now denied by policy.
func (s *Server) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	var add []server.ServerTool
	for _, t := range s.catalog.List() {
		current[t.Name] = true
		if s.published[t.Name] {
			continue
		}
		add = append(add, server.ServerTool{Tool: mcpTool(t), Handler: s.handler(t.Name)})
	}
	var remove []string
	for name := range s.published {
		if !current[name] {
			remove = append(remove, name)
		}
	}
	if len(remove) > 0 {
		s.mcp.DeleteTools(remove...)
	}
	if len(add) > 0 {
		s.mcp.AddTools(add...)
	}
	s.published = current
	s.log.Debugf("published %d tools (%d added, %d removed)", len(current), len(add), len(remove))
}

func mcpTool(t *registry.Tool) mcp.Tool {
	tool := mcp.NewToolWithRawSchema(t.Name, t.Definition.Description, t.Definition.InputSchema.JSON())
	tool.Annotations.Title = fmt.Sprintf("%s: %s", t.Manifest.Name, t.Definition.Name)
	tool.Annotations.ReadOnlyHint = mcp.ToBoolPtr(t.ReadOnly())
	tool.Annotations.OpenWorldHint = mcp.ToBoolPtr(true)
	return tool
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := s.catalog.Dispatch(ctx, name, request.GetArguments())
		body, err := json.Marshal(res)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		out := mcp.NewToolResultText(string(body))
		out.IsError = !res.Success
		return out, nil
	}
}

// Events wraps next so adapter notifications and human requests also reach
// connected MCP clients as log messages.
func (s *Server) Events(next types.EventSink) types.EventSink {
	return func(e *types.Event) {
		if next != nil {
			next(e)
		}
		level, data := "", ""
		switch e.Type {
		case types.EventTypeNotify:
			level, data = notifyLevel(e.Level), e.Message
		case types.EventTypeHumanRequest:
			level, data = "warning", fmt.Sprintf("waiting for a person (request %s): %s", e.RequestID, e.Message)
		case types.EventTypeAdapterLoaded:
			go s.Sync()
			return
		default:
			return
		}
		s.mcp.SendNotificationToAllClients("notifications/message", map[string]any{
			"level":  level,
			"logger": e.AdapterID,
			"data":   data,
		})
	}
}

func notifyLevel(l types.NotifyLevel) string {
	switch l {
	case types.NotifyWarn:
		return "warning"
	case types.NotifyError:
		return "error"
	default:
		return "info"
	}
}

// ServeStdio serves MCP on stdin/stdout until ctx is cancelled or stdin
// closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.log.Writer(), "mcp: ", 0))
	s.log.Infof("serving MCP on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
