package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/attunehealth/attune-backend/internal/logger"
)

func newTestClient(t *testing.T, baseURL string, maxRetries int, observe CallObserver) Client {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := NewClient(log, Config{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "test-model",
		CallTimeout: 5 * time.Second,
		MaxRetries:  maxRetries,
	}, observe)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func chatBody(t *testing.T, content string) []byte {
	t.Helper()
	out := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
	}
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal chat body: %v", err)
	}
	return b
}

func TestCompleteJSON_ForcesJSONResponseFormat(t *testing.T) {
	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if rf, ok := req["response_format"].(map[string]any); ok {
			gotFormat, _ = rf["type"].(string)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization header: want=Bearer test-key got=%s", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatBody(t, `{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0, nil)
	raw, err := c.CompleteJSON(context.Background(), CompletionRequest{CallType: "test", System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if gotFormat != "json_object" {
		t.Fatalf("response_format type: want=json_object got=%s", gotFormat)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || !parsed.OK {
		t.Fatalf("payload round-trip: err=%v parsed=%+v", err, parsed)
	}
}

func TestCompleteJSON_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		_, _ = w.Write(chatBody(t, `{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2, nil)
	if _, err := c.CompleteJSON(context.Background(), CompletionRequest{CallType: "test", System: "s", User: "u"}); err != nil {
		t.Fatalf("CompleteJSON after retry: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("server calls: want=2 got=%d", got)
	}
}

func TestCompleteJSON_DoesNotRetryOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3, nil)
	_, err := c.CompleteJSON(context.Background(), CompletionRequest{CallType: "test", System: "s", User: "u"})
	if err == nil {
		t.Fatalf("expected error on 400")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("error type: want=HTTPError(400) got=%v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server calls: want=1 got=%d", got)
	}
}

func TestCompleteJSON_InvalidModelOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatBody(t, "this is prose, not JSON"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0, nil)
	_, err := c.CompleteJSON(context.Background(), CompletionRequest{CallType: "test", System: "s", User: "u"})
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("error: want=ErrInvalidJSON got=%v", err)
	}
}

func TestCompleteJSON_ObserverSeesSuccessAndFailure(t *testing.T) {
	var fail bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		_, _ = w.Write(chatBody(t, `{"ok":true}`))
	}))
	defer srv.Close()

	var recs []CallRecord
	c := newTestClient(t, srv.URL, 0, func(ctx context.Context, rec CallRecord) {
		recs = append(recs, rec)
	})

	if _, err := c.CompleteJSON(context.Background(), CompletionRequest{CallType: "extraction", System: "s", User: "u"}); err != nil {
		t.Fatalf("CompleteJSON success path: %v", err)
	}
	fail = true
	if _, err := c.CompleteJSON(context.Background(), CompletionRequest{CallType: "extraction", System: "s", User: "u"}); err == nil {
		t.Fatalf("expected failure path error")
	}

	if len(recs) != 2 {
		t.Fatalf("observer records: want=2 got=%d", len(recs))
	}
	if recs[0].Err != nil || recs[0].Response == "" {
		t.Fatalf("success record: err=%v response=%q", recs[0].Err, recs[0].Response)
	}
	if recs[0].CallType != "extraction" || recs[0].Model != "test-model" {
		t.Fatalf("record labels: call_type=%s model=%s", recs[0].CallType, recs[0].Model)
	}
	if recs[0].Usage == nil {
		t.Fatalf("success record missing usage")
	}
	if recs[1].Err == nil {
		t.Fatalf("failure record should carry the error")
	}
	for _, rec := range recs {
		if rec.Elapsed <= 0 {
			t.Fatalf("record elapsed not set: %v", rec.Elapsed)
		}
	}
}
