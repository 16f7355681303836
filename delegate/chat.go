package delegate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// chatCompleter is the part of the go-openai client the gateway needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type chatRole struct {
	client chatCompleter
	ep     Endpoint
}

// ChatGateway serves each role from an OpenAI-compatible chat completion
// endpoint. The endpoint's system prompt frames the role; the workflow
// prompt is sent as the user message.
type ChatGateway struct {
	opts  Options
	roles map[Role]chatRole
	gatewayDeps
}

// NewChatGateway builds one chat client per configured role.
func NewChatGateway(o Options, opts ...Option) *ChatGateway {
	g := &ChatGateway{
		opts:        o,
		roles:       make(map[Role]chatRole, len(o.Endpoints)),
		gatewayDeps: buildDeps(opts),
	}
	for role, ep := range o.Endpoints {
		cfg := openai.DefaultConfig(o.APIKey)
		if ep.URL != "" {
			cfg.BaseURL = ep.URL
		}
		cfg.HTTPClient = g.httpClient
		g.roles[role] = chatRole{client: openai.NewClientWithConfig(cfg), ep: ep}
	}
	return g
}

// Delegate sends prompt to the chat model serving role.
func (g *ChatGateway) Delegate(ctx context.Context, role Role, prompt, sessionID string) (string, error) {
	cr, ok := g.roles[role]
	if !ok {
		return "", &Error{Kind: KindProtocol, Role: role, Err: fmt.Errorf("no endpoint configured for role %q", role)}
	}

	req := openai.ChatCompletionRequest{
		Model: cr.ep.Model,
		User:  sessionID,
	}
	if cr.ep.SystemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cr.ep.SystemPrompt,
		})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	return withRetry(ctx, g.logger, g.opts.Retry, g.opts.Timeout, role, sessionID, func(ctx context.Context) (string, error) {
		resp, err := cr.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", classifyChatError(err)
		}
		if len(resp.Choices) == 0 {
			return "", NewFatalError(errors.New("chat completion returned no choices"))
		}
		content := resp.Choices[0].Message.Content
		if strings.TrimSpace(content) == "" {
			return "", NewFatalError(errors.New("chat completion returned empty content"))
		}
		return content, nil
	})
}

// classifyChatError maps go-openai errors onto the transient/fatal split.
func classifyChatError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyHTTPError(apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyHTTPError(reqErr.HTTPStatusCode, []byte(reqErr.Error()))
	}
	// Transport failures carry no status.
	return NewTransientError(err)
}
