package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"quiz_solver_backend/internal/config"
	"quiz_solver_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionJSON(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

func newTestAIService(baseURL string) *AIService {
	return NewAIService(config.AIConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
	})
}

func TestCompleteSuccess(t *testing.T) {
	var gotReq ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, completionJSON("B"))
	}))
	defer srv.Close()

	svc := newTestAIService(srv.URL)
	text, err := svc.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "B", text)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "test-model", gotReq.Model)
}

func TestCompleteRetriesOnceOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.05")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionJSON("A"))
	}))
	defer srv.Close()

	svc := newTestAIService(srv.URL)
	text, err := svc.Complete(context.Background(), "", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "A", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompletePersistent429Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0.05")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc := newTestAIService(srv.URL)
	_, err := svc.Complete(context.Background(), "", "prompt")
	require.Error(t, err)
	// 限流重试一次后放弃，且不是端点不可达
	assert.NotErrorIs(t, err, util.ErrResolverUnavailable)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteServerErrorIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newTestAIService(srv.URL)
	_, err := svc.Complete(context.Background(), "", "prompt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, util.ErrResolverUnavailable)
}

func TestCompleteUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 端口已关闭

	svc := newTestAIService(srv.URL)
	_, err := svc.Complete(context.Background(), "", "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrResolverUnavailable)
}

func TestCompleteCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 必须先读完请求体，服务端才会在客户端断开时取消 r.Context()
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	svc := newTestAIService(srv.URL)
	_, err := svc.Complete(ctx, "", "prompt")
	require.Error(t, err)
	// 调用方超时不是端点不可达
	assert.NotErrorIs(t, err, util.ErrResolverUnavailable)
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	svc := newTestAIService(srv.URL)
	_, err := svc.Complete(context.Background(), "", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
