package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completionServer struct {
	*httptest.Server
	hits     atomic.Int32
	lastBody atomic.Value
}

// newCompletionServer answers chat completion calls with the statuses in
// order, repeating the last one. 200 replies carry reply as content.
func newCompletionServer(t *testing.T, reply string, statuses ...int) *completionServer {
	t.Helper()
	s := &completionServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.hits.Add(1))
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}

		var req openai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.lastBody.Store(req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    url + "/",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
}

func TestCompleteReturnsReply(t *testing.T) {
	srv := newCompletionServer(t, `{"genre":"Shooter"}`, http.StatusOK)
	client := newTestClient(srv.URL)

	reply, err := client.Complete(context.Background(), "Valorant prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"genre":"Shooter"}`, reply)
	assert.Equal(t, int32(1), srv.hits.Load())

	req := srv.lastBody.Load().(openai.ChatCompletionRequest)
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)
	assert.Equal(t, "Valorant prompt", req.Messages[0].Content)
}

func TestCompleteRetriesTransientErrorsOnce(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantErr  bool
		wantHits int32
	}{
		{"server error then success", []int{http.StatusInternalServerError, http.StatusOK}, false, 2},
		{"rate limited then success", []int{http.StatusTooManyRequests, http.StatusOK}, false, 2},
		{"server error twice", []int{http.StatusBadGateway}, true, 2},
		{"client error is permanent", []int{http.StatusBadRequest}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCompletionServer(t, "ok", tt.statuses...)
			client := newTestClient(srv.URL)

			_, err := client.Complete(context.Background(), "prompt")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantHits, srv.hits.Load())
		})
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := newCompletionServer(t, "ok", http.StatusBadRequest)
	client := NewClient(Config{
		APIKey:           "test-key",
		BaseURL:          srv.URL,
		FailureThreshold: 3,
		BreakerTimeout:   time.Hour,
	})

	for i := 0; i < 3; i++ {
		_, err := client.Complete(context.Background(), "prompt")
		require.Error(t, err)
	}

	_, err := client.Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), srv.hits.Load())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"api 500", &openai.APIError{HTTPStatusCode: 500}, true},
		{"api 429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"api 401", &openai.APIError{HTTPStatusCode: 401}, false},
		{"request 503", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}, true},
		{"network", &netTimeout{}, true},
		{"plain", errors.New("bad"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

type netTimeout struct{}

func (*netTimeout) Error() string   { return "i/o timeout" }
func (*netTimeout) Timeout() bool   { return true }
func (*netTimeout) Temporary() bool { return true }
