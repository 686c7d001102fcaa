package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/hazyhaar/mailglot/lang"
	"github.com/hazyhaar/mailglot/settings"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	summaryMaxTokens      = 1024
)

// Summarizer produces bullet summaries through an LLM provider.
type Summarizer struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
}

// SummaryPrompt is the instruction sent with the email text.
func SummaryPrompt(target string) string {
	return fmt.Sprintf("Summarize the following email in %s as 3 to 5 short bullet points, "+
		"one per line, each starting with \"- \". Reply with the bullet points only.", lang.Name(target))
}

// Summarize asks provider for a summary of text written in target.
func (s *Summarizer) Summarize(ctx context.Context, provider, model, key, text, target string) (string, error) {
	var (
		out string
		err error
	)
	switch provider {
	case settings.ProviderAnthropic:
		out, err = s.anthropic(ctx, model, key, text, target)
	case settings.ProviderOpenAI, "":
		out, err = s.openai(ctx, model, key, text, target)
	default:
		return "", fmt.Errorf("remote: summarize: unknown provider %q", provider)
	}
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &ServiceError{Service: "summarize", Message: "empty summary"}
	}
	return out, nil
}

func (s *Summarizer) openai(ctx context.Context, model, key, text, target string) (string, error) {
	if model == "" || strings.HasPrefix(model, "claude") {
		model = defaultOpenAIModel
	}
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(key),
		openaioption.WithMaxRetries(0),
	}
	if s.OpenAIBaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(s.OpenAIBaseURL))
	}
	client := openai.NewClient(opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SummaryPrompt(target)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &ServiceError{Service: "summarize", Status: apiErr.StatusCode, Message: providerMessage(apiErr.Message, apiErr.RawJSON())}
		}
		return "", &ServiceError{Service: "summarize", Message: err.Error()}
	}
	if len(resp.Choices) == 0 {
		return "", &ServiceError{Service: "summarize", Message: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *Summarizer) anthropic(ctx context.Context, model, key, text, target string) (string, error) {
	if model == "" || strings.HasPrefix(model, "gpt") {
		model = defaultAnthropicModel
	}
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(key),
		anthropicoption.WithMaxRetries(0),
	}
	if s.AnthropicBaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(s.AnthropicBaseURL))
	}
	client := anthropic.NewClient(opts...)
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: summaryMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: SummaryPrompt(target)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &ServiceError{Service: "summarize", Status: apiErr.StatusCode, Message: providerMessage("", apiErr.RawJSON())}
		}
		return "", &ServiceError{Service: "summarize", Message: err.Error()}
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// providerMessage prefers the provider's error.message field.
func providerMessage(msg, raw string) string {
	if msg != "" {
		return msg
	}
	if m := jsonErrorMessage(raw); m != "" {
		return m
	}
	return strings.TrimSpace(raw)
}
