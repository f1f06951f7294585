// Package httpapi は質問応答を Server-Sent Events で配信する HTTP サーバーを提供する。
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jinford/paper-rag/internal/core/ask"
)

// Asker は質問への回答をトークン単位で配信する
type Asker interface {
	Stream(ctx context.Context, params ask.AskParams, onToken func(token string) error) ([]ask.SourceReference, error)
}

// Server は GET /chat/stream?query=... を提供する
type Server struct {
	asker         Asker
	collection    string
	allowedOrigin string
	logger        *slog.Logger
}

type ServerOption func(*Server)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigin は CORS で許可するオリジンを設定する。空なら CORS ヘッダーを付けない
func WithAllowedOrigin(origin string) ServerOption {
	return func(s *Server) {
		s.allowedOrigin = origin
	}
}

// NewServer は collection を検索対象とする Server を返す
func NewServer(asker Asker, collection string, opts ...ServerOption) *Server {
	s := &Server{
		asker:      asker,
		collection: collection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler は CORS ミドルウェアで包んだハンドラーを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return s.cors(mux)
}

// ListenAndServe は ctx がキャンセルされるまで待ち受け、その後グレースフルに停止する
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバを起動します", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("HTTPサーバを停止します")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	params := ask.AskParams{Collection: s.collection, Query: query}
	_, err := s.asker.Stream(r.Context(), params, func(token string) error {
		writeSSE(w, flusher, "", token)
		return r.Context().Err()
	})
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Info("クライアントが切断しました")
			return
		}
		s.logger.Error("回答の生成に失敗しました", "error", err)
		writeSSE(w, flusher, "error", err.Error())
	}
}

// writeSSE はイベントを1件書き込む。複数行のデータは行ごとに data フィールドへ分ける
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	var sb strings.Builder
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteString("\n")
	}
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	_, _ = fmt.Fprint(w, sb.String())
	flusher.Flush()
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowedOrigin != "" && r.Header.Get("Origin") == s.allowedOrigin {
			w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
