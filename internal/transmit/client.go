package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"monsterline/internal/domain"
)

const (
	defaultCallTimeout   = 30 * time.Second
	defaultHealthTimeout = 5 * time.Second
)

// ClientConfig captures the settings needed to reach the downstream game
// backend.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// Client talks to the downstream monster API. It performs single calls;
// retry policy lives in the Service.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	timeout := defaultCallTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: ClientConfig{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireMonster is the downstream payload shape.
type wireMonster struct {
	Name              string      `json:"name"`
	Element           string      `json:"element"`
	Rank              string      `json:"rank"`
	Stats             wireStats   `json:"stats"`
	CardDescription   string      `json:"cardDescription,omitempty"`
	VisualDescription string      `json:"visualDescription,omitempty"`
	ImageURL          string      `json:"imageUrl,omitempty"`
	Skills            []wireSkill `json:"skills,omitempty"`
}

type wireStats struct {
	HP  int `json:"hp"`
	ATK int `json:"atk"`
	DEF int `json:"def"`
	VIT int `json:"vit"`
}

type wireSkill struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Damage      float64   `json:"damage"`
	Cooldown    int       `json:"cooldown"`
	LvlMax      int       `json:"lvlMax"`
	Rank        string    `json:"rank"`
	Ratio       wireRatio `json:"ratio"`
}

type wireRatio struct {
	Stat    string  `json:"stat"`
	Percent float64 `json:"percent"`
}

func toWire(card *domain.Card) wireMonster {
	w := wireMonster{
		Name:    card.Name,
		Element: card.Element,
		Rank:    card.Rank,
		Stats: wireStats{
			HP:  int(card.HP),
			ATK: int(card.ATK),
			DEF: int(card.DEF),
			VIT: int(card.VIT),
		},
		CardDescription:   card.CardDescription,
		VisualDescription: card.VisualDescription,
		ImageURL:          card.ImageURL,
	}
	for _, s := range card.Skills {
		w.Skills = append(w.Skills, wireSkill{
			Name:        s.Name,
			Description: s.Description,
			Damage:      s.Damage,
			Cooldown:    s.Cooldown,
			LvlMax:      s.LvlMax,
			Rank:        s.Rank,
			Ratio:       wireRatio{Stat: s.RatioStat, Percent: s.RatioPercent},
		})
	}
	return w
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("downstream returned http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Create sends one monster downstream and returns the external id assigned
// by the game backend. A single call, no retries.
func (c *Client) Create(ctx context.Context, card *domain.Card) (string, error) {
	if card == nil {
		return "", fmt.Errorf("transmit: no structured card")
	}
	encoded, err := json.Marshal(toWire(card))
	if err != nil {
		return "", fmt.Errorf("transmit: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/monsters", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("transmit: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transmit: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transmit: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("transmit: decode response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("transmit: downstream returned no id")
	}
	return parsed.ID, nil
}

// HealthCheck probes the downstream health endpoint with a short deadline.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("transmit health: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transmit health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &statusError{StatusCode: resp.StatusCode}
	}
	return nil
}
