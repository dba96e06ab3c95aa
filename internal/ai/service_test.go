package ai

import (
	"context"
	"errors"
	"reflect"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeCompleter struct {
	req     openai.ChatCompletionRequest
	content string
	usage   openai.Usage
	err     error
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
		Usage: f.usage,
	}, nil
}

func TestClassifyReportsTokens(t *testing.T) {
	fake := &fakeCompleter{
		content: "  meeting-notes \n",
		usage:   openai.Usage{TotalTokens: 321},
	}
	svc := newServiceWithClient(fake, "gpt-4o")

	result, errClassify := svc.Classify(context.Background(), "weekly sync recap", "sync.md", []string{"meeting-notes", "journal"})
	if errClassify != nil {
		t.Fatalf("classify: %v", errClassify)
	}
	if result.Text != "meeting-notes" {
		t.Fatalf("text = %q", result.Text)
	}
	if result.TokensUsed != 321 {
		t.Fatalf("tokens = %d", result.TokensUsed)
	}
	if fake.req.Model != "gpt-4o" {
		t.Fatalf("model = %q", fake.req.Model)
	}
	if len(fake.req.Messages) != 2 || fake.req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("unexpected message shape %+v", fake.req.Messages)
	}
}

func TestTokensFallBackToComponentCounts(t *testing.T) {
	fake := &fakeCompleter{
		content: "A Title",
		usage:   openai.Usage{PromptTokens: 40, CompletionTokens: 5},
	}
	svc := newServiceWithClient(fake, "gpt-4o")

	result, errTitle := svc.SuggestTitle(context.Background(), "content", "untitled.md")
	if errTitle != nil {
		t.Fatalf("suggest title: %v", errTitle)
	}
	if result.TokensUsed != 45 {
		t.Fatalf("tokens = %d", result.TokensUsed)
	}
}

func TestSuggestTagsSplitsLines(t *testing.T) {
	fake := &fakeCompleter{
		content: "- project\n* planning\n\nfinance\n",
		usage:   openai.Usage{TotalTokens: 12},
	}
	svc := newServiceWithClient(fake, "gpt-4o")

	result, errTags := svc.SuggestTags(context.Background(), "budget plan", "q3.md", []string{"finance"})
	if errTags != nil {
		t.Fatalf("suggest tags: %v", errTags)
	}
	want := []string{"project", "planning", "finance"}
	if !reflect.DeepEqual(result.Items, want) {
		t.Fatalf("items = %v, want %v", result.Items, want)
	}
}

type emptyCompleter struct{}

func (emptyCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

func TestCompleteRejectsEmptyChoice(t *testing.T) {
	svc := newServiceWithClient(emptyCompleter{}, "gpt-4o")

	if _, errFormat := svc.Format(context.Background(), "text", "bullet points"); errFormat == nil {
		t.Fatalf("expected error for empty completion")
	}
}

func TestCompleteWrapsProviderError(t *testing.T) {
	fake := &fakeCompleter{err: errors.New("rate limited")}
	svc := newServiceWithClient(fake, "gpt-4o")

	if _, errFolders := svc.SuggestFolders(context.Background(), "c", "f.md", []string{"inbox"}); errFolders == nil {
		t.Fatalf("expected provider error")
	}
}
