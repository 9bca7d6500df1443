package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/adapters/config"
	"github.com/selivandex/biaslens/pkg/logger"
)

const (
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
	openaiModel  = "gpt-4o-mini"
)

// OpenAIProvider implements stance classification via OpenAI
type OpenAIProvider struct {
	apiKey  string
	enabled bool
	client  *http.Client
	apiURL  string
}

// NewOpenAIProvider creates new OpenAI provider
func NewOpenAIProvider(cfg *config.AIProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  cfg.APIKey,
		enabled: cfg.Enabled && cfg.APIKey != "",
		apiURL:  openaiAPIURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}

func (o *OpenAIProvider) Model() string {
	return openaiModel
}

func (o *OpenAIProvider) Enabled() bool {
	return o.enabled
}

func (o *OpenAIProvider) Classify(ctx context.Context, prompt, text string) (string, error) {
	reqBody := map[string]interface{}{
		"model": openaiModel,
		"messages": []map[string]string{
			{"role": "system", "content": "You output only JSON. No prose."},
			{"role": "user", "content": prompt + "\nText:\n" + text},
		},
		"temperature": 0,
		"max_tokens":  300,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	startTime := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response")
	}

	logger.Debug("openai response",
		zap.Duration("latency", time.Since(startTime)),
		zap.String("response", result.Choices[0].Message.Content),
	)

	return result.Choices[0].Message.Content, nil
}
