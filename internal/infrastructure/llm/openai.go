package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	openaiDefaultBaseURL = "https://api.openai.com/v1"
	openaiDefaultModel   = "gpt-4o"
)

// OpenAIProvider talks to the OpenAI Chat Completions API with vision
// input. Images travel as base64 data URLs; native PDF is not supported on
// this surface, so PDFs are rejected with an unsupported-media error and
// the orchestrator routes them to a PDF-capable provider.
type OpenAIProvider struct {
	base
	cfg        Config
	httpClient *http.Client
}

// NewOpenAIProvider creates the provider from configuration.
func NewOpenAIProvider(cfg Config, logger *slog.Logger) *OpenAIProvider {
	cfg.withDefaults(openaiDefaultModel)
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiDefaultBaseURL
	}
	p := &OpenAIProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	p.base = newBase("openai", cfg, false, logger, p.completeOnce)
	return p
}

type openaiContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *openaiImageURL  `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiMessage struct {
	Role    string              `json:"role"`
	Content []openaiContentPart `json:"content"`
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *openaiFormat   `json:"response_format,omitempty"`
}

type openaiFormat struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) completeOnce(ctx context.Context, prompt string, doc *Input) (string, Usage, error) {
	parts := []openaiContentPart{{Type: "text", Text: prompt}}
	if doc != nil && len(doc.Data) > 0 {
		dataURL := fmt.Sprintf("data:%s;base64,%s",
			doc.MimeType, base64.StdEncoding.EncodeToString(doc.Data))
		parts = append(parts, openaiContentPart{
			Type:     "image_url",
			ImageURL: &openaiImageURL{URL: dataURL},
		})
	}

	reqBody := openaiRequest{
		Model:          p.cfg.Model,
		Messages:       []openaiMessage{{Role: "user", Content: parts}},
		MaxTokens:      4096,
		Temperature:    0,
		ResponseFormat: &openaiFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", Usage{}, fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, httpError("openai", resp, body)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", Usage{}, parseError("openai", err)
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, parseError("openai", fmt.Errorf("response has no choices"))
	}

	usage := Usage{
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	return parsed.Choices[0].Message.Content, usage, nil
}
