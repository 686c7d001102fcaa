package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mailglot/idgen"
)

// ToolFunc handles one MCP tool call with its decoded arguments. A
// string result is returned as text; anything else as JSON.
type ToolFunc[Req any] func(ctx context.Context, req Req) (any, error)

var toolCallID = idgen.Prefixed("mcp_", idgen.Short(10))

// AddTool registers fn as tool on srv. Bad arguments and handler errors
// come back as tool results with IsError set so the model can read them;
// the protocol call itself succeeds.
func AddTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn ToolFunc[Req]) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if raw := call.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		ctx = WithRequestID(WithTransport(ctx, TransportMCP), toolCallID())
		resp, err := fn(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(resp)
	})
}

func toolResult(resp any) (*mcp.CallToolResult, error) {
	var text string
	switch v := resp.(type) {
	case nil:
		return toolError(errors.New("empty response")), nil
	case string:
		text = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return toolError(fmt.Errorf("marshal result: %w", err)), nil
		}
		text = string(data)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
