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
	deepseekAPIURL = "https://api.deepseek.com/v1/chat/completions"
	deepseekModel  = "deepseek-chat"
)

// DeepSeekProvider implements stance classification via DeepSeek
type DeepSeekProvider struct {
	apiKey  string
	enabled bool
	client  *http.Client
	apiURL  string
}

// NewDeepSeekProvider creates new DeepSeek provider
func NewDeepSeekProvider(cfg *config.AIProviderConfig) *DeepSeekProvider {
	return &DeepSeekProvider{
		apiKey:  cfg.APIKey,
		enabled: cfg.Enabled && cfg.APIKey != "",
		apiURL:  deepseekAPIURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (d *DeepSeekProvider) Name() string {
	return "deepseek"
}

func (d *DeepSeekProvider) Model() string {
	return deepseekModel
}

func (d *DeepSeekProvider) Enabled() bool {
	return d.enabled
}

func (d *DeepSeekProvider) Classify(ctx context.Context, prompt, text string) (string, error) {
	reqBody := map[string]interface{}{
		"model": deepseekModel,
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	startTime := time.Now()
	resp, err := d.client.Do(req)
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

	logger.Debug("deepseek response",
		zap.Duration("latency", time.Since(startTime)),
		zap.String("response", result.Choices[0].Message.Content),
	)

	return result.Choices[0].Message.Content, nil
}
