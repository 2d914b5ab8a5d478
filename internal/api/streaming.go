package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"chatline/internal/logging"
	"chatline/internal/stream"
)

// streamRequest is the JSON body for streaming sends. At most one of
// SessionID and ThreadID is set; the route constructors in internal/chat
// guarantee that.
type streamRequest struct {
	Message   string `json:"message"`
	Model     string `json:"llmModel,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// StreamGuestMessage starts a guest-lane turn. sessionID may be empty on the
// very first turn; the server mints one and returns it in the completion
// metadata.
func (c *Client) StreamGuestMessage(ctx context.Context, message, model, sessionID string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/chat/message/stream", streamRequest{
		Message:   message,
		Model:     model,
		SessionID: sessionID,
	})
}

// StreamThreadMessage continues an existing thread.
func (c *Client) StreamThreadMessage(ctx context.Context, threadID, message, model string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/threads/message/stream", streamRequest{
		Message:  message,
		Model:    model,
		ThreadID: threadID,
	})
}

// StreamProjectMessage sends within a project. threadID is empty for the
// first turn of a new project conversation.
func (c *Client) StreamProjectMessage(ctx context.Context, projectID, threadID, message, model string) (io.ReadCloser, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/message/stream"
	return c.openStream(ctx, path, streamRequest{
		Message:  message,
		Model:    model,
		ThreadID: threadID,
	})
}

// StreamRegenerate asks the server to re-answer the turn identified by its
// durable message id.
func (c *Client) StreamRegenerate(ctx context.Context, messageID, model string) (io.ReadCloser, error) {
	path := "/threads/message/" + url.PathEscape(messageID) + "/regenerate/stream"
	return c.openStream(ctx, path, streamRequest{Model: model})
}

func (c *Client) openStream(ctx context.Context, path string, body streamRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.dispatchStream(req, path)
}

// Attachment streaming variants. The request is multipart instead of JSON;
// everything else (response framing, auth) is identical.

func (c *Client) StreamGuestMessageWithFile(ctx context.Context, message, model, sessionID string, att Attachment) (io.ReadCloser, error) {
	return c.openStreamMultipart(ctx, "/chat/message/stream/attachment", streamRequest{
		Message:   message,
		Model:     model,
		SessionID: sessionID,
	}, att)
}

func (c *Client) StreamThreadMessageWithFile(ctx context.Context, threadID, message, model string, att Attachment) (io.ReadCloser, error) {
	return c.openStreamMultipart(ctx, "/threads/message/stream/attachment", streamRequest{
		Message:  message,
		Model:    model,
		ThreadID: threadID,
	}, att)
}

func (c *Client) StreamProjectMessageWithFile(ctx context.Context, projectID, threadID, message, model string, att Attachment) (io.ReadCloser, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/message/stream/attachment"
	return c.openStreamMultipart(ctx, path, streamRequest{
		Message:  message,
		Model:    model,
		ThreadID: threadID,
	}, att)
}

func (c *Client) openStreamMultipart(ctx context.Context, path string, fields streamRequest, att Attachment) (io.ReadCloser, error) {
	if err := att.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("message", fields.Message); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if fields.SessionID != "" {
		if err := w.WriteField("sessionId", fields.SessionID); err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if fields.ThreadID != "" {
		if err := w.WriteField("threadId", fields.ThreadID); err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if fields.Model != "" {
		if err := w.WriteField("llmModel", fields.Model); err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err := w.WriteField("hasAttachment", "true"); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename=%q`, att.Name))
	hdr.Set("Content-Type", att.ContentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)
	return c.dispatchStream(req, path)
}

// dispatchStream runs the request and hands the body over once the status
// line checks out. No retries: a replayed send would duplicate the turn.
func (c *Client) dispatchStream(req *http.Request, path string) (io.ReadCloser, error) {
	resp, err := c.streamClient.Do(req)
	if err != nil {
		logging.APIError("POST %s: %v", path, err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	body, err := stream.Open(resp)
	if err != nil {
		logging.APIError("POST %s: %v", path, err)
		return nil, err
	}
	logging.APIDebug("POST %s streaming", path)
	return body, nil
}
