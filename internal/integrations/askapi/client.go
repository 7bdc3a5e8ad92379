// Package askapi is a client for the remote agricultural Q&A service.
package askapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"krishmitra/internal/domain"
)

// askRequest is the request shape for the /ask endpoint.
type askRequest struct {
	Question            string        `json:"question"`
	ConversationID      string        `json:"conversation_id,omitempty"`
	ConversationHistory []historyPair `json:"conversation_history,omitempty"`
}

// historyPair serializes one prior message as a [content, isUser] tuple,
// the shape the answering service expects.
type historyPair struct {
	Content string
	IsUser  bool
}

func (p historyPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Content, p.IsUser})
}

func (p *historyPair) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &p.Content); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &p.IsUser)
}

// askResponse is the response shape of the /ask endpoint.
type askResponse struct {
	Answer         string          `json:"answer"`
	Sources        []domain.Source `json:"sources"`
	ConversationID string          `json:"conversation_id"`
}

// Getter resolves named parameters, e.g. from SSM Parameter Store.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("askapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// AskInput is one question together with the conversational context the
// answering service may use for follow-ups.
type AskInput struct {
	Question            string
	ConversationID      string
	ConversationHistory []domain.Message
}

// AskOutput is the answering service's reply for one turn.
type AskOutput struct {
	Answer  string
	Sources []domain.Source
}

// Client talks to the /ask endpoint of the answering service.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Optional API key resolution. When getter and keyParameter are
	// unset the service is called unauthenticated.
	getter       Getter
	keyParameter string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKeyParameter makes the client send a bearer token resolved from
// the named parameter on first use.
func WithAPIKeyParameter(getter Getter, name string) Option {
	return func(c *Client) {
		c.getter = getter
		c.keyParameter = name
	}
}

// NewClient creates a Client for the answering service at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("askapi: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ask submits one question and returns the answer with its sources. Any
// non-2xx response is returned as an *HTTPStatusError so callers can treat
// the turn as failed.
func (c *Client) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	if strings.TrimSpace(in.Question) == "" {
		return AskOutput{}, errors.New("askapi: question must not be empty")
	}

	body, err := json.Marshal(askRequest{
		Question:            in.Question,
		ConversationID:      in.ConversationID,
		ConversationHistory: historyFromMessages(in.ConversationHistory),
	})
	if err != nil {
		return AskOutput{}, fmt.Errorf("askapi: marshal request: %w", err)
	}

	url := c.baseURL + "/ask"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return AskOutput{}, fmt.Errorf("askapi: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.getter != nil && c.keyParameter != "" {
		apiKey, keyErr := c.resolveAPIKey(ctx)
		if keyErr != nil {
			return AskOutput{}, keyErr
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return AskOutput{}, fmt.Errorf("askapi: request failed: %w", err)
	}

	var payload askResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return AskOutput{}, fmt.Errorf("askapi: decode response: %w", decErr)
	}
	return AskOutput{Answer: payload.Answer, Sources: payload.Sources}, nil
}

// resolveAPIKey fetches the API key from the parameter source on the first
// call and returns the cached result for the rest of the process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKey(ctx, c.getter, c.keyParameter)
	})
	return c.apiKey, c.keyErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func historyFromMessages(msgs []domain.Message) []historyPair {
	if len(msgs) == 0 {
		return nil
	}
	pairs := make([]historyPair, 0, len(msgs))
	for _, m := range msgs {
		pairs = append(pairs, historyPair{Content: m.Content, IsUser: m.IsUser})
	}
	return pairs
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("askapi: parameter getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("askapi: key parameter name is empty")
	}

	key, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("askapi: fetch API key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("askapi: API key is empty")
	}
	return key, nil
}
