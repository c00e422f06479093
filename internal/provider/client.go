// Package provider implements the LLM analysis client used as the remote
// unit of work during a scan. Calls resolve the credential at call time so
// pool failover between attempts takes effect.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lamnq/durascan/internal/core/domain"
	"github.com/lamnq/durascan/internal/credential"
)

const (
	maxTokens       = 2048
	maxFileBytes    = 64 * 1024
	defaultModel    = "gpt-4o-mini"
	responseTimeout = 120 * time.Second
)

const systemPrompt = `You are a security code auditor. You receive one source
file and one detection module name. Report at most the single most severe
issue for that module as a JSON object:
{"clean": false, "severity": "critical|high|medium|low", "title": "...", "detail": "..."}
Respond {"clean": true} when the file has no issue for that module.`

// Config holds the settings for one remote provider.
type Config struct {
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Client analyzes files through an OpenAI-compatible chat endpoint.
type Client struct {
	cfg    Config
	pool   *credential.Pool
	logger *slog.Logger
}

// NewClient creates an analysis client backed by the credential pool.
func NewClient(cfg Config, pool *credential.Pool) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Client{
		cfg:    cfg,
		pool:   pool,
		logger: slog.Default().With("component", "provider", "provider", cfg.Name),
	}
}

// Name returns the provider name retries and credentials are scoped to.
func (c *Client) Name() string {
	return c.cfg.Name
}

type verdict struct {
	Clean    bool   `json:"clean"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
}

// Analyze submits one file to the provider for one detection module and
// returns a finding, or nil when the file is clean. The error message is
// left inspectable for the failure classifier.
func (c *Client) Analyze(ctx context.Context, path, detector string) (*domain.Finding, error) {
	secret, ok := c.pool.Current(c.cfg.Name)
	if !ok {
		return nil, fmt.Errorf("no usable credential for provider %s", c.cfg.Name)
	}

	content, err := readBounded(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	clientCfg := openai.DefaultConfig(secret)
	if c.cfg.BaseURL != "" {
		clientCfg.BaseURL = c.cfg.BaseURL
	}
	api := openai.NewClientWithConfig(clientCfg)

	ctx, cancel := context.WithTimeout(ctx, responseTimeout)
	defer cancel()

	resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("module: %s\nfile: %s\n\n%s",
					detector, path, content),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider %s returned no choices", c.cfg.Name)
	}

	var v verdict
	raw := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		c.logger.Warn("unparseable verdict, treating file as clean",
			"file", path, "detector", detector, "error", err)
		return nil, nil
	}
	if v.Clean || v.Title == "" {
		return nil, nil
	}

	return &domain.Finding{
		ID:       uuid.New().String(),
		Detector: detector,
		File:     path,
		Severity: normalizeSeverity(v.Severity),
		Title:    v.Title,
		Detail:   v.Detail,
		FoundAt:  time.Now().UTC(),
	}, nil
}

func readBounded(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxFileBytes {
		data = data[:maxFileBytes]
	}
	return string(data), nil
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return "critical"
	case "high":
		return "high"
	case "medium":
		return "medium"
	default:
		return "low"
	}
}
