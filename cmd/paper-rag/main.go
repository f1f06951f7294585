package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/paper-rag/internal/app/cli"
	"github.com/jinford/paper-rag/internal/core/ingestion"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定読み込み前のエラー用に構造化ログを設定しておく
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := cli.NewApp().Run(ctx, os.Args); err != nil {
		slog.Error("コマンドの実行に失敗しました", "error", err)
		stop()
		os.Exit(ingestion.ExitCode(err))
	}
}
