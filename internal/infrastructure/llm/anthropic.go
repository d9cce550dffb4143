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
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicDefaultModel   = "claude-3-5-sonnet-20241022"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic Messages API. It accepts both
// images and native PDF documents, which makes it the mandatory route for
// PDF uploads.
type AnthropicProvider struct {
	base
	cfg        Config
	httpClient *http.Client
}

// NewAnthropicProvider creates the provider from configuration.
func NewAnthropicProvider(cfg Config, logger *slog.Logger) *AnthropicProvider {
	cfg.withDefaults(anthropicDefaultModel)
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultBaseURL
	}
	p := &AnthropicProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	p.base = newBase("anthropic", cfg, true, logger, p.completeOnce)
	return p
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) completeOnce(ctx context.Context, prompt string, doc *Input) (string, Usage, error) {
	blocks := []anthropicContentBlock{}
	if doc != nil && len(doc.Data) > 0 {
		source := &anthropicSource{
			Type:      "base64",
			MediaType: doc.MimeType,
			Data:      base64.StdEncoding.EncodeToString(doc.Data),
		}
		blockType := "image"
		if doc.IsPDF() {
			blockType = "document"
		}
		blocks = append(blocks, anthropicContentBlock{Type: blockType, Source: source})
	}
	blocks = append(blocks, anthropicContentBlock{Type: "text", Text: prompt})

	reqBody := anthropicRequest{
		Model:     p.cfg.Model,
		MaxTokens: 4096,
		Messages:  []anthropicMessage{{Role: "user", Content: blocks}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", Usage{}, fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, httpError("anthropic", resp, body)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", Usage{}, parseError("anthropic", err)
	}

	text := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", Usage{}, parseError("anthropic", fmt.Errorf("response has no text content"))
	}

	usage := Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	return text, usage, nil
}
