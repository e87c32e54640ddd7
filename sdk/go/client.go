package monsterlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Monsterline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Monster represents the API monster model (partial).
type Monster struct {
	ID                   string         `json:"id"`
	State                string         `json:"state"`
	Name                 string         `json:"name"`
	Doc                  map[string]any `json:"doc,omitempty"`
	Card                 map[string]any `json:"card,omitempty"`
	IsValid              bool           `json:"is_valid"`
	ValidationIssues     []Issue        `json:"validation_issues,omitempty"`
	ReviewedBy           *string        `json:"reviewed_by,omitempty"`
	TransmissionAttempts int            `json:"transmission_attempts"`
	ExternalID           *string        `json:"external_id,omitempty"`
	NextStates           []string       `json:"next_states"`
	CreatedAt            string         `json:"created_at"`
	UpdatedAt            string         `json:"updated_at"`
}

// Issue is one validation finding on a generated document.
type Issue struct {
	Field   string `json:"field"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Transition is one history entry.
type Transition struct {
	ID        int64   `json:"id"`
	MonsterID string  `json:"monster_id"`
	FromState *string `json:"from_state,omitempty"`
	ToState   string  `json:"to_state"`
	Timestamp string  `json:"timestamp"`
	Actor     string  `json:"actor"`
	Note      *string `json:"note,omitempty"`
}

// Stats mirrors the dashboard response.
type Stats struct {
	Total            int            `json:"total"`
	ByState          map[string]int `json:"by_state"`
	TransmissionRate float64        `json:"transmission_rate"`
	AvgReviewHours   float64        `json:"avg_review_hours"`
	RecentActivity   []Transition   `json:"recent_activity"`
}

// BatchResult summarizes a batch transmission run.
type BatchResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Details   []struct {
		MonsterID  string `json:"monster_id"`
		Name       string `json:"name,omitempty"`
		ExternalID string `json:"external_id,omitempty"`
		Error      string `json:"error,omitempty"`
	} `json:"details"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ingest submits a generated monster document.
func (c *Client) Ingest(ctx context.Context, doc map[string]any, generatedBy, prompt string) (Monster, error) {
	body := map[string]any{
		"doc":               doc,
		"generated_by":      generatedBy,
		"generation_prompt": prompt,
	}
	var resp Monster
	err := c.do(ctx, http.MethodPost, "v0/monsters", body, &resp)
	return resp, err
}

// Get fetches a monster by id.
func (c *Client) Get(ctx context.Context, id string) (Monster, error) {
	var resp Monster
	err := c.do(ctx, http.MethodGet, c.monsterPath(id, ""), nil, &resp)
	return resp, err
}

// List returns monsters, optionally filtered by state.
func (c *Client) List(ctx context.Context, state string, limit, offset int) ([]Monster, error) {
	endpoint := "v0/monsters"
	params := url.Values{}
	if state != "" {
		params.Set("state", state)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", offset))
	}
	if enc := params.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp []Monster
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns a monster's transition log, oldest first.
func (c *Client) History(ctx context.Context, id string) ([]Transition, error) {
	var resp []Transition
	err := c.do(ctx, http.MethodGet, c.monsterPath(id, "history"), nil, &resp)
	return resp, err
}

// Review records an approval or rejection.
func (c *Client) Review(ctx context.Context, id, decision, reviewer, notes string) (Monster, error) {
	body := map[string]any{
		"decision": decision,
		"reviewer": reviewer,
		"notes":    notes,
	}
	var resp Monster
	err := c.do(ctx, http.MethodPost, c.monsterPath(id, "review"), body, &resp)
	return resp, err
}

// Correct replaces a defective monster's document.
func (c *Client) Correct(ctx context.Context, id string, doc map[string]any, actor string) (Monster, error) {
	body := map[string]any{"doc": doc, "actor": actor}
	var resp Monster
	err := c.do(ctx, http.MethodPost, c.monsterPath(id, "correct"), body, &resp)
	return resp, err
}

// Reopen sends an approved monster back to review.
func (c *Client) Reopen(ctx context.Context, id, actor, note string) (Monster, error) {
	body := map[string]any{"actor": actor, "note": note}
	var resp Monster
	err := c.do(ctx, http.MethodPost, c.monsterPath(id, "reopen"), body, &resp)
	return resp, err
}

// UpdateCard edits structured card fields. Nil pointers leave fields unchanged.
func (c *Client) UpdateCard(ctx context.Context, id string, fields map[string]any) (Monster, error) {
	var resp Monster
	err := c.do(ctx, http.MethodPatch, c.monsterPath(id, "card"), fields, &resp)
	return resp, err
}

// Transmit sends an approved monster downstream.
func (c *Client) Transmit(ctx context.Context, id string, force bool) (Monster, error) {
	endpoint := c.monsterPath(id, "transmit")
	if force {
		endpoint += "?force=true"
	}
	var resp Monster
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// TransmitBatch sends approved monsters, at most maxCount (0 = no limit).
func (c *Client) TransmitBatch(ctx context.Context, maxCount int) (BatchResult, error) {
	endpoint := "v0/monsters/transmit"
	if maxCount > 0 {
		endpoint += fmt.Sprintf("?max_count=%d", maxCount)
	}
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Stats returns the moderation dashboard.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

// Delete removes a monster and its history.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.monsterPath(id, ""), nil, nil)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) monsterPath(id, suffix string) string {
	p := fmt.Sprintf("v0/monsters/%s", url.PathEscape(id))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}
