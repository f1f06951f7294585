package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/paper-rag/internal/core/ask"
)

type stubAsker struct {
	tokens []string
	err    error
	params ask.AskParams
}

func (a *stubAsker) Stream(ctx context.Context, params ask.AskParams, onToken func(token string) error) ([]ask.SourceReference, error) {
	a.params = params
	for _, token := range a.tokens {
		if err := onToken(token); err != nil {
			return nil, err
		}
	}
	return nil, a.err
}

func newTestServer(asker Asker) *Server {
	return NewServer(asker, "fermat",
		WithAllowedOrigin("http://localhost:5173"),
		WithServerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestChatStream_StreamsTokens(t *testing.T) {
	asker := &stubAsker{tokens: []string{"ワイルズ", "が証明", "した"}}
	srv := newTestServer(asker)

	req := httptest.NewRequest(http.MethodGet, "/chat/stream?query="+url.QueryEscape("誰が証明した？"), nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "data: ワイルズ\n\ndata: が証明\n\ndata: した\n\n", rec.Body.String())
	assert.Equal(t, ask.AskParams{Collection: "fermat", Query: "誰が証明した？"}, asker.params)
}

func TestChatStream_MultilineToken(t *testing.T) {
	srv := newTestServer(&stubAsker{tokens: []string{"a\nb"}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/stream?query=q", nil))

	assert.Equal(t, "data: a\ndata: b\n\n", rec.Body.String())
}

func TestChatStream_MissingQuery(t *testing.T) {
	srv := newTestServer(&stubAsker{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/stream", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStream_ErrorEvent(t *testing.T) {
	srv := newTestServer(&stubAsker{tokens: []string{"x"}, err: errors.New("llm down")})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/stream?query=q", nil))

	assert.Equal(t, "data: x\n\nevent: error\ndata: llm down\n\n", rec.Body.String())
}

func TestCORS(t *testing.T) {
	srv := newTestServer(&stubAsker{})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat/stream", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	srv := newTestServer(&stubAsker{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}
