package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/queryscribe/pkg/adapter"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
)

var _ interfaces.Generator = (*adapter.ClaudeClient)(nil)

func TestClaudeGenerate(t *testing.T) {
	apiKey := os.Getenv("TEST_CLAUDE_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_CLAUDE_API_KEY is not set")
	}

	var client interfaces.Generator = adapter.NewClaude(apiKey, adapter.WithClaudeMaxTokens(64))
	resp, err := client.Generate(context.Background(), "Hello, what is the capital of France? Answer in one word.")
	gt.NoError(t, err)
	gt.S(t, resp).Contains("Paris")
}
