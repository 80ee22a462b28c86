// Package llm provides a chat-completion node backed by the OpenAI API.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// State is the llm node's routing state.
type State int

const (
	// StateDefault ends the flow when no generated edge is declared
	StateDefault State = iota

	// StateGenerated routes on "generated" after a successful completion
	StateGenerated

	// StateFailed routes on "generation_error"
	StateFailed
)

// IsDefault reports whether the state is the default variant.
func (s State) IsDefault() bool { return s == StateDefault }

// Condition returns the condition label for the state.
func (s State) Condition() string {
	switch s {
	case StateGenerated:
		return "generated"
	case StateFailed:
		return "generation_error"
	default:
		return flow.DefaultCondition
	}
}

// ChatClient is the completion surface the node depends on. The OpenAI
// client satisfies it; tests substitute a fake.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the llm node.
type Options struct {
	// Model is the chat model name; defaults to gpt-4o-mini
	Model string

	// SystemPrompt is prepended as a system message when non-empty
	SystemPrompt string

	// Temperature is passed through to the API
	Temperature float32

	// MaxTokens caps the completion length; zero means no cap
	MaxTokens int
}

// Node renders a prompt template against the flow context, sends it to the
// chat model, and stores the completion. Template placeholders use
// {{key}} syntax and resolve against context values.
type Node struct {
	flow.BaseNode
	client    ChatClient
	template  string
	outputKey string
	opts      Options
}

// New creates an llm node. template may reference context keys as {{key}}.
func New(client ChatClient, template, outputKey string, opts Options) *Node {
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	return &Node{client: client, template: template, outputKey: outputKey, opts: opts}
}

// Prepare verifies the node has a client to call.
func (n *Node) Prepare(ctx context.Context, c *flow.Context) error {
	if n.client == nil {
		return fmt.Errorf("llm node has no chat client")
	}
	return nil
}

// Execute renders the prompt and requests a completion.
func (n *Node) Execute(ctx context.Context, c *flow.Context) (any, error) {
	prompt := renderTemplate(n.template, c)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if n.opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: n.opts.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       n.opts.Model,
		Messages:    messages,
		Temperature: n.opts.Temperature,
		MaxTokens:   n.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// PostProcess stores the completion and routes on the outcome.
func (n *Node) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr != nil {
		c.Set("error", execErr.Error())
		return flow.NewResult(StateFailed, execErr.Error()), nil
	}
	c.Set(n.outputKey, output)
	return flow.NewResult(StateGenerated, "completion stored"), nil
}

// renderTemplate substitutes {{key}} placeholders with context values.
// Unknown keys are left in place so the model sees what was missing.
func renderTemplate(template string, c *flow.Context) string {
	result := template
	for _, key := range c.Keys() {
		placeholder := "{{" + key + "}}"
		if !strings.Contains(result, placeholder) {
			continue
		}
		v, _ := c.Get(key)
		if s, ok := v.(string); ok {
			result = strings.ReplaceAll(result, placeholder, s)
		} else {
			result = strings.ReplaceAll(result, placeholder, fmt.Sprint(v))
		}
	}
	return result
}
