// Package mcp exposes the parser, comparator and health classifier as Model
// Context Protocol tools over stdio.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dmitriimaksimovdevelop/myscope/internal/health"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server with registered tools. A nil classifier
// uses the built-in rule table.
func NewServer(version string, classifier *health.Classifier) *Server {
	if classifier == nil {
		classifier = health.Default()
	}
	s := server.NewMCPServer("myscope", version, server.WithLogging())
	registerTools(s, &handlers{classifier: classifier})
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

const commandHint = "Command that produced the text (e.g. 'SHOW GLOBAL STATUS') or a kind: innodb, status, variables, processlist, replica, primary. Detected from the text when omitted."

func registerTools(s *server.MCPServer, h *handlers) {
	parseTool := mcp.NewTool("parse_dump",
		mcp.WithDescription("Parse the text output of a MySQL diagnostic command (SHOW ENGINE INNODB STATUS, SHOW GLOBAL STATUS/VARIABLES, SHOW FULL PROCESSLIST, SHOW REPLICA/MASTER STATUS) into a structured snapshot with parse diagnostics."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Command output as printed by the mysql client (batch, boxed table or \\G form)."),
		),
		mcp.WithString("command", mcp.Description(commandHint)),
		mcp.WithString("host", mcp.Description("Server label stored in the snapshot metadata.")),
	)
	s.AddTool(parseTool, h.parseDump)

	compareTool := mcp.NewTool("compare_dumps",
		mcp.WithDescription("Compare two outputs of the same command taken at different times. Returns added, removed and changed keys with numeric deltas, plus verdicts for counters whose growth indicates a problem."),
		mcp.WithString("before", mcp.Required(), mcp.Description("Earlier command output.")),
		mcp.WithString("after", mcp.Required(), mcp.Description("Later command output.")),
		mcp.WithString("command", mcp.Description(commandHint)),
		mcp.WithString("only", mcp.Description("Comma-separated keys or glob patterns to restrict the comparison to.")),
	)
	s.AddTool(compareTool, h.compareDumps)

	classifyTool := mcp.NewTool("classify_health",
		mcp.WithDescription("Classify every key of a status, variables, InnoDB, process-list or replication dump as nominal, warning or critical, with a 0-100 health score, tuning recommendations and an analysis prompt."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Command output to classify.")),
		mcp.WithString("command", mcp.Description(commandHint)),
		mcp.WithString("context",
			mcp.Description("Optional SHOW GLOBAL STATUS or VARIABLES output from the same server. Rules that compare a variable with a counter (e.g. max_connections vs Threads_connected) read it."),
		),
	)
	s.AddTool(classifyTool, h.classifyHealth)

	listTool := mcp.NewTool("list_rules",
		mcp.WithDescription("List the active health rules in evaluation order."),
		mcp.WithString("key", mcp.Description("Only rules whose key contains this text (case-insensitive).")),
	)
	s.AddTool(listTool, h.listRules)
}
