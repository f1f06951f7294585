package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/paper-rag/internal/interface/httpapi"
	"github.com/jinford/paper-rag/internal/platform/config"
)

func serveAction(opts []AppOption) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		envFile := cmd.String("env")

		override := WithConfigOverride(func(cfg *config.Config) {
			if port := int(cmd.Int("port")); port > 0 {
				cfg.Server.Port = port
			}
		})

		appCtx, err := NewAppContext(ctx, envFile, withOptions(opts, commonOverrides(cmd), override)...)
		if err != nil {
			return err
		}
		defer appCtx.Close()

		cfg := appCtx.Config
		server := httpapi.NewServer(
			appCtx.Container.AskService,
			cfg.Store.Collection,
			httpapi.WithAllowedOrigin(cfg.Server.CORSAllowedOrigin),
			httpapi.WithServerLogger(appCtx.Logger()),
		)

		return server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	}
}
