// Package api is the wire client for the chat backend: JSON REST calls with
// a bounded retry loop, and streaming message sends whose bodies are decoded
// by internal/stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatline/internal/logging"
	"chatline/internal/types"
)

const maxRetries = 3

// Client talks to one backend. REST calls share a timeout-bounded client;
// streaming sends use an unbounded one, since http.Client.Timeout covers the
// whole body read and would cut long answers off. Stream deadlines come from
// the caller's context.
type Client struct {
	baseURL      string
	authToken    string
	httpClient   *http.Client
	streamClient *http.Client
}

func New(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		authToken:    authToken,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// doJSON performs one REST call with retries on rate limits and transient
// transport errors, then unmarshals the envelope's data field into out.
// Streaming sends never go through here.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logging.APIError("%s %s returned status %d", method, path, resp.StatusCode)
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if !env.Success {
			return fmt.Errorf("API error: %s", env.Message)
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("failed to parse response data: %w", err)
			}
		}
		logging.APIDebug("%s %s ok", method, path)
		return nil
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return "?" + q.Encode()
}

// Threads.

func (c *Client) ListThreads(ctx context.Context, limit, offset int) ([]types.Thread, error) {
	var out []types.Thread
	if err := c.doJSON(ctx, http.MethodGet, "/threads"+pageQuery(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetThreadDetails(ctx context.Context, threadID string) (types.Thread, error) {
	var out types.Thread
	err := c.doJSON(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]types.Message, error) {
	var wire []wireMessage
	path := "/threads/" + url.PathEscape(threadID) + "/messages" + pageQuery(limit, offset)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]types.Message, len(wire))
	for i, w := range wire {
		out[i] = w.Message()
	}
	return out, nil
}

func (c *Client) UpdateThreadName(ctx context.Context, threadID, name string) error {
	body := map[string]string{"name": name}
	return c.doJSON(ctx, http.MethodPut, "/threads/"+url.PathEscape(threadID)+"/name", body, nil)
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/threads/"+url.PathEscape(threadID), nil, nil)
}

// Projects.

func (c *Client) ListProjects(ctx context.Context, limit, offset int) ([]types.Project, error) {
	var out []types.Project
	if err := c.doJSON(ctx, http.MethodGet, "/projects"+pageQuery(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateProject(ctx context.Context, name string) (types.Project, error) {
	var out types.Project
	err := c.doJSON(ctx, http.MethodPost, "/projects", map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) SearchProjects(ctx context.Context, query string, limit, offset int) ([]types.Project, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out []types.Project
	if err := c.doJSON(ctx, http.MethodGet, "/projects/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), nil, nil)
}

func (c *Client) GetProjectThreads(ctx context.Context, projectID string, limit, offset int) ([]types.Thread, error) {
	var out []types.Thread
	path := "/projects/" + url.PathEscape(projectID) + "/threads" + pageQuery(limit, offset)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Models.

func (c *Client) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	var out []types.ModelInfo
	if err := c.doJSON(ctx, http.MethodGet, "/chat/models", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// wireMessage is a stored message as the backend returns it. The id carries
// the turn suffix form; Message converts it to the structured id.
type wireMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"content"`
	Model     string    `json:"llmModel"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message converts the wire form to the in-memory one. Messages whose ids do
// not parse are kept with a synthesized turn so history still renders.
func (w wireMessage) Message() types.Message {
	id, err := types.ParseMessageID(w.ID)
	if err != nil {
		role := types.RoleUser
		if w.Role == "ai" || w.Role == "assistant" {
			role = types.RoleAssistant
		}
		id = types.MessageID{Turn: w.ID, Role: role}
	}
	return types.Message{
		ID:        id,
		Text:      w.Text,
		Model:     w.Model,
		CreatedAt: w.CreatedAt,
	}
}
