package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dmitriimaksimovdevelop/myscope/internal/diff"
	"github.com/dmitriimaksimovdevelop/myscope/internal/health"
	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/output"
	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
)

type handlers struct {
	classifier *health.Classifier
}

// parseDump parses one command output into a snapshot.
func (h *handlers) parseDump(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	text := stringArg(args, "text", "")
	if text == "" {
		return errResult("text is required"), nil
	}
	snap, err := parser.ParseDump(text, stringArg(args, "command", ""))
	if err != nil {
		return errResult(fmt.Sprintf("parse failed: %v", err)), nil
	}
	if host := stringArg(args, "host", ""); host != "" {
		setHost(&snap, host)
	}
	return jsonResult(snap)
}

// compareDumps diffs two outputs of the same command.
func (h *handlers) compareDumps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	beforeText, afterText := stringArg(args, "before", ""), stringArg(args, "after", "")
	if beforeText == "" || afterText == "" {
		return errResult("before and after are required"), nil
	}
	hint := stringArg(args, "command", "")
	before, err := parser.ParseDump(beforeText, hint)
	if err != nil {
		return errResult(fmt.Sprintf("parse before: %v", err)), nil
	}
	if hint == "" {
		// Both sides must be read the same way even if detection would
		// disagree on the second text.
		hint = string(before.Kind())
	}
	after, err := parser.ParseDump(afterText, hint)
	if err != nil {
		return errResult(fmt.Sprintf("parse after: %v", err)), nil
	}

	res, err := diff.CompareWith(before, after, diff.Options{Only: splitList(stringArg(args, "only", ""))})
	if err != nil {
		return errResult(fmt.Sprintf("compare failed: %v", err)), nil
	}
	verdicts := h.classifier.ClassifyDiff(res)
	if verdicts == nil {
		verdicts = []model.HealthVerdict{}
	}
	return jsonResult(map[string]interface{}{
		"diff":     res,
		"summary":  diff.Summarize(res),
		"verdicts": verdicts,
		"text":     diff.FormatDiff(res),
	})
}

// classifyHealth classifies one output, optionally against a context dump.
func (h *handlers) classifyHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	text := stringArg(args, "text", "")
	if text == "" {
		return errResult("text is required"), nil
	}
	snap, err := parser.ParseDump(text, stringArg(args, "command", ""))
	if err != nil {
		return errResult(fmt.Sprintf("parse failed: %v", err)), nil
	}

	var related []*model.KeyValueSnapshot
	if ctxText := stringArg(args, "context", ""); ctxText != "" {
		cs, err := parser.ParseDump(ctxText, "")
		if err != nil {
			return errResult(fmt.Sprintf("parse context: %v", err)), nil
		}
		if cs.KeyValue == nil {
			return errResult(fmt.Sprintf("context must be status or variables output, got %s", cs.Kind())), nil
		}
		related = append(related, cs.KeyValue)
	}

	verdicts := h.classifier.ClassifySnapshot(snap, related...)
	if verdicts == nil {
		verdicts = []model.HealthVerdict{}
	}
	recs := model.GenerateRecommendations(verdicts)
	if recs == nil {
		recs = []model.Recommendation{}
	}
	aiCtx := output.GenerateAIPrompt(output.PromptInput{
		Host:            snap.Meta().Host,
		Verdicts:        verdicts,
		Recommendations: recs,
		LongRunning:     output.LongRunning([]model.Snapshot{snap}),
	})
	return jsonResult(map[string]interface{}{
		"kind":            snap.Kind(),
		"summary":         model.Summarize(verdicts),
		"verdicts":        verdicts,
		"recommendations": recs,
		"diagnostics":     snap.Diagnostics(),
		"ai_context":      aiCtx,
	})
}

// listRules returns the active rule table.
func (h *handlers) listRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type entry struct {
		Condition string `json:"condition"`
		health.Rule
	}
	filter := strings.ToLower(stringArg(getArgs(request), "key", ""))
	entries := []entry{}
	for _, r := range h.classifier.Rules() {
		if filter != "" && !strings.Contains(strings.ToLower(r.Key), filter) {
			continue
		}
		entries = append(entries, entry{Condition: r.String(), Rule: r})
	}
	return jsonResult(entries)
}

func setHost(snap *model.Snapshot, host string) {
	switch {
	case snap.KeyValue != nil:
		snap.KeyValue.Host = host
	case snap.Tabular != nil:
		snap.Tabular.Host = host
	case snap.InnoDB != nil:
		snap.InnoDB.Host = host
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getArgs safely extracts the arguments map from a CallToolRequest.
// Returns an empty map if Arguments is nil or not a map.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true).
// This is returned as a tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
