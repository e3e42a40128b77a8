package ai

import (
	"context"
	"fmt"
	"strings"
)

// OllamaGenerator implements TextGenerator on top of an Ollama server.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model)}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	messages := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userPrompt})

	text, err := g.client.Chat(ctx, g.model, messages)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return text, nil
}
