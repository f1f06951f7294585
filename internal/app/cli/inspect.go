package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/paper-rag/internal/core/inspection"
	"github.com/jinford/paper-rag/internal/platform/config"
)

func inspectAction(opts []AppOption) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		envFile := cmd.String("env")

		// ホストマシンから確認する想定のため、Chroma の接続先はフラグの値を使う
		override := WithConfigOverride(func(cfg *config.Config) {
			cfg.Chroma.Host = cmd.String("host")
			cfg.Chroma.Port = int(cmd.Int("port"))
		})

		appCtx, err := NewAppContext(ctx, envFile, withOptions(opts, commonOverrides(cmd), override)...)
		if err != nil {
			return err
		}
		defer appCtx.Close()

		records, err := appCtx.Container.InspectionService.List(ctx, appCtx.Config.Store.Collection)
		if err != nil {
			return err
		}

		return inspection.Render(output(cmd), records)
	}
}
