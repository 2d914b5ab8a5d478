package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatline/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-token", 5*time.Second)
}

func writeEnvelope(w http.ResponseWriter, data any) {
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func TestListThreadsDecodesEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("limit = %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		writeEnvelope(w, []types.Thread{{ID: "t1", Name: "hello"}})
	})

	threads, err := c.ListThreads(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != "t1" {
		t.Errorf("threads = %+v", threads)
	}
}

func TestEnvelopeFailureSurfacesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "thread not found"})
	})

	_, err := c.GetThreadDetails(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "thread not found") {
		t.Errorf("err = %v, want server message surfaced", err)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeEnvelope(w, []types.ModelInfo{{ID: "gpt-4"}})
	})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(models) != 1 || models[0].ID != "gpt-4" {
		t.Errorf("models = %+v", models)
	}
}

func TestClientErrorDoesNotRetry(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.DeleteThread(context.Background(), "gone")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want no retry on 4xx", calls)
	}
}

func TestStreamThreadMessageSendsRouteID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/message/stream" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["threadId"] != "t1" || body["message"] != "hi" || body["llmModel"] != "gpt-4" {
			t.Errorf("body = %+v", body)
		}
		if _, ok := body["sessionId"]; ok {
			t.Error("sessionId must not appear on the thread lane")
		}
		io.WriteString(w, "data: {\"type\":\"complete\",\"fullResponse\":\"ok\"}\n")
	})

	rc, err := c.StreamThreadMessage(context.Background(), "t1", "hi", "gpt-4")
	if err != nil {
		t.Fatalf("StreamThreadMessage: %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if !strings.Contains(string(raw), "complete") {
		t.Errorf("stream body = %q", raw)
	}
}

func TestStreamOpenFailsOnErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	_, err := c.StreamGuestMessage(context.Background(), "hi", "gpt-4", "")
	if err == nil {
		t.Fatal("expected error for 503 stream open")
	}
}

func TestStreamWithFileBuildsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/message/stream/attachment" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("message"); got != "see attached" {
			t.Errorf("message = %q", got)
		}
		if got := r.FormValue("sessionId"); got != "s1" {
			t.Errorf("sessionId = %q", got)
		}
		if got := r.FormValue("hasAttachment"); got != "true" {
			t.Errorf("hasAttachment = %q", got)
		}
		f, hdr, err := r.FormFile("attachment")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "notes.txt" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "file body" {
			t.Errorf("file data = %q", data)
		}
		io.WriteString(w, "data: {\"type\":\"complete\",\"fullResponse\":\"ok\"}\n")
	})

	att := Attachment{Name: "notes.txt", ContentType: "text/plain", Data: []byte("file body")}
	rc, err := c.StreamGuestMessageWithFile(context.Background(), "see attached", "gpt-4", "s1", att)
	if err != nil {
		t.Fatalf("StreamGuestMessageWithFile: %v", err)
	}
	rc.Close()
}

func TestWireMessageParsesSuffixIDs(t *testing.T) {
	w := wireMessage{ID: "abc-123-ai", Text: "answer"}
	m := w.Message()
	if m.ID.Turn != "abc-123" || m.ID.Role != types.RoleAssistant {
		t.Errorf("id = %+v", m.ID)
	}

	odd := wireMessage{ID: "weird", Role: "user", Text: "q"}
	m = odd.Message()
	if m.ID.Turn != "weird" || m.ID.Role != types.RoleUser {
		t.Errorf("fallback id = %+v", m.ID)
	}
}

