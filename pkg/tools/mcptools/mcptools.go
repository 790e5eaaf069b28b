// Package mcptools exposes the tools of an MCP server as function
// declarations a model can call, and executes the calls the model issues.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/convokehq/convoke/pkg/messages"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Source is a connected MCP server. Its tools can be declared to a model
// through Declarations and executed on the model's behalf through Call.
type Source struct {
	session *mcp.ClientSession
}

// Connect spawns an MCP server process and returns a connected source.
// The SDK performs the initialization handshake during Connect.
func Connect(ctx context.Context, command string, args ...string) (*Source, error) {
	transport := &mcp.CommandTransport{
		Command: exec.Command(command, args...), //nolint:gosec // command comes from user config
	}

	return connect(ctx, transport)
}

// ConnectSSE connects to an SSE-based MCP server at the given URL.
func ConnectSSE(ctx context.Context, url string) (*Source, error) {
	return connect(ctx, &mcp.SSEClientTransport{Endpoint: url})
}

func connect(ctx context.Context, transport mcp.Transport) (*Source, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "convoke",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptools: connect: %w", err)
	}

	return &Source{session: session}, nil
}

// Declarations lists the server's tools as a single messages.Tool carrying
// one function declaration per tool.
func (s *Source) Declarations(ctx context.Context) (messages.Tool, error) {
	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return messages.Tool{}, fmt.Errorf("mcptools: list tools: %w", err)
	}

	decls := make([]messages.FunctionDeclaration, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return messages.Tool{}, fmt.Errorf("mcptools: marshal %q input schema: %w", tool.Name, err)
		}
		decls = append(decls, messages.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}

	return messages.Tool{FunctionDeclarations: decls}, nil
}

// Call executes a model-issued function call against the server and returns
// a response object for a FunctionResponse part. Tools that answer with a
// JSON object pass through unchanged; any other text lands under "output".
func (s *Source) Call(ctx context.Context, call messages.FunctionCall) (map[string]any, error) {
	result, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      call.Name,
		Arguments: call.Args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcptools: call %q: %w", call.Name, err)
	}

	text := joinText(result)

	if result.IsError {
		return nil, fmt.Errorf("mcptools: tool %q: %s", call.Name, text)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, nil
	}

	return map[string]any{"output": text}, nil
}

// Close terminates the session. The SDK shuts a spawned server subprocess
// down when the session closes.
func (s *Source) Close() error {
	return s.session.Close()
}

// joinText joins all text content items of a result with newlines.
func joinText(result *mcp.CallToolResult) string {
	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return strings.Join(texts, "\n")
}
