package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mailglot/kit"
	"github.com/hazyhaar/mailglot/lang"
	"github.com/hazyhaar/mailglot/workflow"
)

// Services are the remote operations exposed as tools (remote.Client).
type Services interface {
	Detect(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, source, target string) (string, error)
	Summarize(ctx context.Context, text, target string) (string, error)
}

// RegisterMCP registers the mailglot tools on an MCP server. st supplies
// the default target language; nodes may be nil.
func RegisterMCP(srv *mcp.Server, svc Services, st SettingsStore, nodes NodeSource) {
	registerTranslateTool(srv, svc, st)
	registerSummarizeTool(srv, svc, st)
	registerDetectTool(srv, svc)
	registerNodesTool(srv, nodes)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// target resolves an optional language argument against the settings.
func target(st SettingsStore, arg string) (string, error) {
	if arg == "" {
		if st == nil {
			return lang.Default, nil
		}
		return st.Get().TargetLang, nil
	}
	code, ok := lang.Normalize(arg)
	if !ok {
		return "", fmt.Errorf("unsupported target language %q", arg)
	}
	return code, nil
}

var errEmptyText = errors.New("text is required")

// --- translate ---

type translateReq struct {
	Text   string `json:"text"`
	Target string `json:"target"`
	Source string `json:"source"`
}

func registerTranslateTool(srv *mcp.Server, svc Services, st SettingsStore) {
	tool := &mcp.Tool{
		Name:        "mailglot_translate",
		Description: "Translate plain text into a target language. The target defaults to the configured one.",
		InputSchema: inputSchema(map[string]any{
			"text":   map[string]any{"type": "string", "description": "Text to translate"},
			"target": map[string]any{"type": "string", "description": "Target language code (en, fr, zh-CN, ...)"},
			"source": map[string]any{"type": "string", "description": "Source language code; empty lets the service detect it"},
		}, []string{"text"}),
	}

	kit.AddTool(srv, tool, func(ctx context.Context, r translateReq) (any, error) {
		if strings.TrimSpace(r.Text) == "" {
			return nil, errEmptyText
		}
		tgt, err := target(st, r.Target)
		if err != nil {
			return nil, err
		}
		out, err := svc.Translate(ctx, r.Text, r.Source, tgt)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": out, "target": tgt}, nil
	})
}

// --- summarize ---

type summarizeReq struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

func registerSummarizeTool(srv *mcp.Server, svc Services, st SettingsStore) {
	tool := &mcp.Tool{
		Name:        "mailglot_summarize",
		Description: "Summarize text as short bullet points in the target language.",
		InputSchema: inputSchema(map[string]any{
			"text":   map[string]any{"type": "string", "description": "Text to summarize"},
			"target": map[string]any{"type": "string", "description": "Language of the summary"},
		}, []string{"text"}),
	}

	kit.AddTool(srv, tool, func(ctx context.Context, r summarizeReq) (any, error) {
		if strings.TrimSpace(r.Text) == "" {
			return nil, errEmptyText
		}
		tgt, err := target(st, r.Target)
		if err != nil {
			return nil, err
		}
		return svc.Summarize(ctx, r.Text, tgt)
	})
}

// --- detect ---

type detectReq struct {
	Text string `json:"text"`
}

func registerDetectTool(srv *mcp.Server, svc Services) {
	tool := &mcp.Tool{
		Name:        "mailglot_detect",
		Description: "Detect the language of a text. Returns \"und\" when unknown.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Text to inspect"},
		}, []string{"text"}),
	}

	kit.AddTool(srv, tool, func(ctx context.Context, r detectReq) (any, error) {
		if strings.TrimSpace(r.Text) == "" {
			return nil, errEmptyText
		}
		tag, err := svc.Detect(ctx, r.Text)
		if err != nil {
			return nil, err
		}
		return map[string]any{"language": tag, "name": lang.Name(tag)}, nil
	})
}

// --- nodes ---

func registerNodesTool(srv *mcp.Server, nodes NodeSource) {
	tool := &mcp.Tool{
		Name:        "mailglot_nodes",
		Description: "List the webmail nodes mailglot has handled and their workflow state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	kit.AddTool(srv, tool, func(context.Context, struct{}) (any, error) {
		out := []workflow.NodeStatus{}
		if nodes != nil {
			out = append(out, nodes.Snapshot()...)
		}
		return out, nil
	})
}
