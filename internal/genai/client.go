package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"monsterline/internal/domain"
)

const defaultTimeout = 60 * time.Second

// Generator produces raw monster documents from a prompt.
type Generator interface {
	GenerateMonster(ctx context.Context, prompt string) (domain.Document, error)
}

// ImageGenerator renders a card image from a visual description.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, description string) ([]byte, error)
}

// Config captures the runtime settings required to talk to the generation
// API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	ImageModel     string
	TimeoutSeconds int
}

// Client wraps an OpenAI-compatible chat completion API. Generated payloads
// are deliberately NOT validated here; the lifecycle engine decides whether
// a document is usable.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			ImageModel:     strings.TrimSpace(cfg.ImageModel),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = "https://api.openai.com/v1"
	}
	return c
}

const monsterSystemPrompt = `You are a monster designer for a card game. Respond with a single JSON object:
{"name": string, "element": one of FIRE|WATER|WIND|EARTH|LIGHT|DARKNESS,
 "rank": one of COMMON|RARE|EPIC|LEGENDARY,
 "stats": {"hp": 50-1000, "atk": 10-200, "def": 10-200, "vit": 10-150},
 "cardDescription": string up to 200 chars, "visualDescription": string,
 "skills": [{"name": string, "description": string, "damage": 0-500,
  "cooldown": 0-10, "lvlMax": 1-100, "rank": rank,
  "ratio": {"stat": one of ATK|DEF|HP|VIT, "percent": 0.1-2.0}}]}
JSON only, no prose.`

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateMonster asks the model for one monster document.
func (c *Client) GenerateMonster(ctx context.Context, prompt string) (domain.Document, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("genai: prompt required")
	}
	if c.cfg.APIKey == "" {
		return nil, errors.New("genai: api key required")
	}
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: monsterSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.9,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	body, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("genai: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("genai: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("genai: empty choices")
	}
	var doc domain.Document
	if err := decodeJSONContent(parsed.Choices[0].Message.Content, &doc); err != nil {
		return nil, fmt.Errorf("genai: parse monster payload: %w", err)
	}
	return doc, nil
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateImage renders a card image for the description and returns PNG
// bytes.
func (c *Client) GenerateImage(ctx context.Context, description string) ([]byte, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, errors.New("genai: description required")
	}
	if c.cfg.APIKey == "" {
		return nil, errors.New("genai: api key required")
	}
	payload := imageRequest{
		Model:          c.cfg.ImageModel,
		Prompt:         "Trading card illustration of a monster: " + description,
		Size:           "1024x1024",
		ResponseFormat: "b64_json",
	}
	body, err := c.post(ctx, "/images/generations", payload)
	if err != nil {
		return nil, err
	}
	var parsed imageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("genai: decode image response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("genai: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("genai: no image returned")
	}
	png, err := decodeBase64(parsed.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("genai: decode image: %w", err)
	}
	return png, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("genai: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("genai: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genai: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genai: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("genai: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func decodeBase64(data string) ([]byte, error) {
	if strings.TrimSpace(data) == "" {
		return nil, errors.New("empty payload")
	}
	return base64.StdEncoding.DecodeString(data)
}

// decodeJSONContent decodes JSON from a model response, tolerating code
// fences around the payload.
func decodeJSONContent(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal([]byte(trimmed), target); err == nil {
		return nil
	}
	trimmed = stripCodeFence(trimmed)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return json.Unmarshal([]byte(trimmed), target)
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	body := strings.TrimPrefix(content, "```")
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
