package kit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if got := GetTransport(ctx); got != TransportPage {
		t.Fatalf("default transport = %q", got)
	}
	if GetNodeKey(ctx) != "" || GetRunID(ctx) != "" || GetRequestID(ctx) != "" {
		t.Fatal("empty context carries values")
	}

	ctx = WithTransport(ctx, TransportHTTP)
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithNodeKey(ctx, "message:#msg-f:1")
	ctx = WithRunID(ctx, "run_1")
	got := []string{GetTransport(ctx), GetRequestID(ctx), GetNodeKey(ctx), GetRunID(ctx)}
	want := []string{"http", "req_1", "message:#msg-f:1", "run_1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d = %q, want %q", i, got[i], want[i])
		}
	}
}

type echoReq struct {
	Text string `json:"text"`
	Fail bool   `json:"fail"`
	JSON bool   `json:"json"`
}

func session(t *testing.T) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(&mcp.Implementation{Name: "kit-test", Version: "0.0.1"}, nil)
	AddTool(srv, &mcp.Tool{Name: "echo", InputSchema: map[string]any{"type": "object"}},
		func(ctx context.Context, req echoReq) (any, error) {
			if GetTransport(ctx) != TransportMCP || !strings.HasPrefix(GetRequestID(ctx), "mcp_") {
				return nil, errors.New("call metadata missing")
			}
			switch {
			case req.Fail:
				return nil, errors.New("echo failed")
			case req.JSON:
				return map[string]string{"text": req.Text}, nil
			}
			return req.Text, nil
		})

	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, st, nil); err != nil {
		t.Fatal(err)
	}
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "kit-client", Version: "0.0.1"}, nil).Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "echo", Arguments: args})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestAddTool(t *testing.T) {
	cs := session(t)

	if text, isErr := call(t, cs, map[string]any{"text": "hi"}); isErr || text != "hi" {
		t.Errorf("text result = %q (error=%v)", text, isErr)
	}
	if text, isErr := call(t, cs, map[string]any{"text": "hi", "json": true}); isErr || text != `{"text":"hi"}` {
		t.Errorf("json result = %q (error=%v)", text, isErr)
	}
	if text, isErr := call(t, cs, map[string]any{"fail": true}); !isErr || !strings.Contains(text, "echo failed") {
		t.Errorf("handler error = %q (error=%v)", text, isErr)
	}
	if text, isErr := call(t, cs, map[string]any{"text": 42}); !isErr || !strings.Contains(text, "invalid arguments") {
		t.Errorf("bad arguments = %q (error=%v)", text, isErr)
	}
}
