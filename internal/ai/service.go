// Package ai wraps the upstream model provider for the document-processing
// operations: classification, tagging, title and folder suggestion, and
// formatting. Every operation reports the tokens it consumed so callers can
// settle usage after the fact.
package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// chatCompleter is the slice of the OpenAI client the service depends on.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Result is a single-string operation outcome plus its token cost.
type Result struct {
	Text       string // Operation output, trimmed.
	TokensUsed int64  // Total tokens reported by the provider.
}

// ListResult is a multi-value operation outcome plus its token cost.
type ListResult struct {
	Items      []string // Suggested values, most relevant first.
	TokensUsed int64    // Total tokens reported by the provider.
}

// Service performs document-processing calls against the model provider.
type Service struct {
	client chatCompleter
	model  string
}

// NewService constructs a Service for the configured provider.
func NewService(apiKey, baseURL, model string) *Service {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Service{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// newServiceWithClient is used by tests to substitute the provider.
func newServiceWithClient(client chatCompleter, model string) *Service {
	return &Service{client: client, model: model}
}

// Classify picks the best-matching document type from the given templates.
func (s *Service) Classify(ctx context.Context, content, fileName string, templateNames []string) (Result, error) {
	prompt := fmt.Sprintf(
		"Classify the document %q into exactly one of the following categories: %s.\nRespond with the category name only, or \"unclassified\" if none fit.\n\nDocument:\n%s",
		fileName, strings.Join(templateNames, ", "), content,
	)
	return s.complete(ctx, "You are a document classifier for a note-taking system.", prompt)
}

// SuggestTags proposes tags for a document, preferring the existing ones.
func (s *Service) SuggestTags(ctx context.Context, content, fileName string, existingTags []string) (ListResult, error) {
	prompt := fmt.Sprintf(
		"Suggest up to 5 tags for the document %q. Prefer tags from this existing set when they fit: %s.\nRespond with one tag per line, no commentary.\n\nDocument:\n%s",
		fileName, strings.Join(existingTags, ", "), content,
	)
	result, errComplete := s.complete(ctx, "You are a tagging assistant for a note-taking system.", prompt)
	if errComplete != nil {
		return ListResult{}, errComplete
	}
	return ListResult{Items: splitLines(result.Text), TokensUsed: result.TokensUsed}, nil
}

// SuggestTitle proposes a concise title for a document.
func (s *Service) SuggestTitle(ctx context.Context, content, currentName string) (Result, error) {
	prompt := fmt.Sprintf(
		"Suggest a concise, descriptive title for this document currently named %q. Respond with the title only.\n\nDocument:\n%s",
		currentName, content,
	)
	return s.complete(ctx, "You are a titling assistant for a note-taking system.", prompt)
}

// SuggestFolders proposes destination folders for a document from the
// vault's existing folder list.
func (s *Service) SuggestFolders(ctx context.Context, content, fileName string, existingFolders []string) (ListResult, error) {
	prompt := fmt.Sprintf(
		"Suggest up to 3 destination folders for the document %q from this list: %s.\nRespond with one folder per line, best match first.\n\nDocument:\n%s",
		fileName, strings.Join(existingFolders, ", "), content,
	)
	result, errComplete := s.complete(ctx, "You are a filing assistant for a note-taking system.", prompt)
	if errComplete != nil {
		return ListResult{}, errComplete
	}
	return ListResult{Items: splitLines(result.Text), TokensUsed: result.TokensUsed}, nil
}

// Format rewrites a document according to a formatting instruction.
func (s *Service) Format(ctx context.Context, content, instruction string) (Result, error) {
	prompt := fmt.Sprintf(
		"Reformat the document below according to this instruction: %s\nRespond with the formatted document only.\n\nDocument:\n%s",
		instruction, content,
	)
	return s.complete(ctx, "You are a formatting assistant for a note-taking system. Preserve the document's meaning exactly.", prompt)
}

// complete issues a chat completion and collects text plus token usage.
func (s *Service) complete(ctx context.Context, system, prompt string) (Result, error) {
	resp, errCreate := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if errCreate != nil {
		return Result{}, fmt.Errorf("ai: completion: %w", errCreate)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("ai: empty completion")
	}
	tokens := int64(resp.Usage.TotalTokens)
	if tokens == 0 {
		tokens = int64(resp.Usage.PromptTokens + resp.Usage.CompletionTokens)
	}
	return Result{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		TokensUsed: tokens,
	}, nil
}

// splitLines parses a line-per-item model response, dropping list markers.
func splitLines(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}
