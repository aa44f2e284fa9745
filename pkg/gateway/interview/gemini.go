package interview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultTemperature     = 0.1
	DefaultMaxOutputTokens = 8192
)

// GeminiCompleter calls the Gemini API through the genai SDK.
type GeminiCompleter struct {
	models *genai.Models
	model  string
}

// NewGeminiCompleter builds a completer that shares httpClient with the rest
// of the process.
func NewGeminiCompleter(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GeminiCompleter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("interview: gemini model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("interview: create gemini client: %w", err)
	}
	return &GeminiCompleter{models: client.Models, model: model}, nil
}

func (g *GeminiCompleter) Complete(ctx context.Context, system string, history []Message) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, toContents(history), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](DefaultTemperature),
		MaxOutputTokens:   DefaultMaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("interview: gemini generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("interview: gemini returned no text")
	}
	return text, nil
}

func toContents(history []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}
