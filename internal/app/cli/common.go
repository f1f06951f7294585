package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/paper-rag/internal/platform/config"
	"github.com/jinford/paper-rag/internal/platform/container"
	"github.com/jinford/paper-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

type appOptions struct {
	overrides     []func(*config.Config)
	containerOpts []container.ContainerOption
}

// AppOption は AppContext 構築時のオプション
type AppOption func(*appOptions)

// WithConfigOverride は読み込んだ設定をコマンドのフラグなどで上書きする
func WithConfigOverride(fn func(*config.Config)) AppOption {
	return func(o *appOptions) {
		o.overrides = append(o.overrides, fn)
	}
}

// WithContainerOptions はコンテナ構築時のオプションを追加する
func WithContainerOptions(opts ...container.ContainerOption) AppOption {
	return func(o *appOptions) {
		o.containerOpts = append(o.containerOpts, opts...)
	}
}

// NewAppContext は設定ファイルを読み込み AppContext を作成する
func NewAppContext(ctx context.Context, envFile string, opts ...AppOption) (*AppContext, error) {
	var options appOptions
	for _, opt := range opts {
		opt(&options)
	}

	// 設定の読み込み
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	for _, override := range options.overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	// ロガーの初期化
	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	// コンテナの初期化
	containerOpts := append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, options.containerOpts...)
	cont, err := container.NewContainer(cfg, containerOpts...)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func collectionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "collection",
		Usage: "コレクション名（省略時は STORE_COLLECTION）",
	}
}

func backendFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "backend",
		Usage: "ストアのバックエンド chroma/postgres/sqlite/memory（省略時は STORE_BACKEND）",
	}
}

// commonOverrides は全コマンド共通のフラグを設定へ反映する
func commonOverrides(cmd *cli.Command) AppOption {
	return WithConfigOverride(func(cfg *config.Config) {
		if v := cmd.String("collection"); v != "" {
			cfg.Store.Collection = v
		}
		if v := cmd.String("backend"); v != "" {
			cfg.Store.Backend = v
		}
	})
}

func withOptions(base []AppOption, more ...AppOption) []AppOption {
	opts := make([]AppOption, 0, len(base)+len(more))
	opts = append(opts, base...)
	return append(opts, more...)
}
