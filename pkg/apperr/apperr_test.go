package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestFromResponseReadsDetail(t *testing.T) {
	err := FromResponse(response(http.StatusConflict, `{"detail":"email already registered"}`))
	assert.Equal(t, KindGateway, err.Kind)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Equal(t, "email already registered", err.Message())
}

func TestFromResponseWithoutDetail(t *testing.T) {
	err := FromResponse(response(http.StatusInternalServerError, "<html>oops</html>"))
	assert.Empty(t, err.Detail)
	assert.Equal(t, "Request failed: 500", err.Message())

	// 非字符串的 detail 被忽略
	err = FromResponse(response(http.StatusUnprocessableEntity, `{"detail":[{"loc":["body"]}]}`))
	assert.Empty(t, err.Detail)
}

func TestUnavailableMessage(t *testing.T) {
	err := FromResponse(response(http.StatusServiceUnavailable, `{}`))
	assert.True(t, err.Unavailable())
	assert.False(t, err.NotFound())
	assert.Equal(t, "Service temporarily unavailable, please try again later", err.Message())

	assert.True(t, Gateway(http.StatusNotFound, "").NotFound())
}

func TestTransportMessages(t *testing.T) {
	cases := map[TransportKind]string{
		TransportUnauthorized:    "You do not have permission to upload this file",
		TransportCanceled:        "Upload was canceled",
		TransportQuotaExceeded:   "Storage quota exceeded",
		TransportUnauthenticated: "Your session has expired, please sign in again",
		TransportTimeout:         "Upload timed out, please try again",
		TransportUnknown:         "Upload failed due to an unknown error",
	}
	for sub, want := range cases {
		assert.Equal(t, want, Transport(sub, nil).Message(), string(sub))
	}
}

func TestAsThroughWrapping(t *testing.T) {
	base := Transport(TransportCanceled, context.Canceled)
	wrapped := fmt.Errorf("upload: %w", base)

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, TransportCanceled, e.Sub)
	assert.True(t, Is(wrapped, KindTransport))
	assert.False(t, Is(wrapped, KindGateway))
	assert.ErrorIs(t, wrapped, context.Canceled)
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "", MessageOf(nil, "fallback"))
	assert.Equal(t, "fallback", MessageOf(errors.New("raw"), "fallback"))
	assert.Equal(t, "bad file", MessageOf(Validation("bad file"), "fallback"))
	assert.Equal(t, "AI analysis is currently unavailable", MessageOf(AnalysisUnavailable(nil), "x"))
	assert.Contains(t, Auth("Please sign in first", errors.New("no token")).Error(), "no token")
}
