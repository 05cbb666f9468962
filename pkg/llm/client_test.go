package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osapio-go/internal/config"
)

type recordingWriter struct {
	chunks []string
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:     "sk-test",
		BaseURL:    baseURL,
		Model:      "gpt-4o-mini",
		Timeout:    5 * time.Second,
		Generation: config.LLMGenerationConfig{Temperature: 0.3, MaxTokens: 2000},
	}
}

func TestCompleteSendsConfiguredGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.False(t, req.Stream)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 2000, *req.MaxTokens)
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
		assert.Nil(t, req.TopP)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Summary: ok"}}]}`))
	}))
	defer srv.Close()

	out, err := NewClient(testConfig(srv.URL)).Complete(context.Background(), BuildAnalysisMessages("a.txt", "x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Summary: ok", out)
}

func TestCompleteNon200ReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Complete(context.Background(), nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestStreamChatMessagesWritesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Sum\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"mary\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	w := &recordingWriter{}
	err := NewClient(testConfig(srv.URL)).StreamChatMessages(context.Background(), nil, nil, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sum", "mary"}, w.chunks)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Breaker = config.LLMBreakerConfig{Enabled: true, ConsecutiveFailures: 2, OpenTimeout: time.Minute}
	c := NewClient(cfg)

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), nil, nil)
		require.Error(t, err)
		assert.False(t, IsCircuitOpen(err))
	}
	_, err := c.Complete(context.Background(), nil, nil)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCountsAsSuccess(t *testing.T) {
	assert.True(t, countsAsSuccess(nil))
	assert.True(t, countsAsSuccess(context.Canceled))
	assert.True(t, countsAsSuccess(&APIError{StatusCode: 400}))
	assert.False(t, countsAsSuccess(&APIError{StatusCode: 429}))
	assert.False(t, countsAsSuccess(&APIError{StatusCode: 503}))
}

func TestBuildAnalysisMessagesDetectsIDOC(t *testing.T) {
	msgs := BuildAnalysisMessages("ORDERS_idoc.xml", "<E1EDK01/>")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "IDOC (Intermediate Document)")
	assert.Contains(t, msgs[1].Content, "Please analyze this SAP IDOC:")

	msgs = BuildAnalysisMessages("notes.txt", "vendor master data")
	assert.Contains(t, msgs[0].Content, "analyzing a document")
	assert.Contains(t, msgs[1].Content, "Please analyze this document:\n\nvendor master data")

	assert.True(t, IsIDOC("x.txt", "EDI_DC40 IDOC header"))
	assert.False(t, IsIDOC("x.txt", "idoc lowercase body"))
}
