package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/paper-rag/internal/core/ingestion"
	"github.com/jinford/paper-rag/internal/platform/config"
)

func ingestAction(opts []AppOption) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		envFile := cmd.String("env")

		override := WithConfigOverride(func(cfg *config.Config) {
			if v := cmd.String("doi"); v != "" {
				cfg.Paper.DOI = v
			}
			if v := cmd.String("id"); v != "" {
				cfg.Store.RecordID = v
			}
		})

		// 共通コンテキストの初期化
		appCtx, err := NewAppContext(ctx, envFile, withOptions(opts, commonOverrides(cmd), override)...)
		if err != nil {
			return err
		}
		defer appCtx.Close()

		cfg := appCtx.Config
		appCtx.Logger().Info("論文の取り込みを開始",
			"doi", cfg.Paper.DOI,
			"collection", cfg.Store.Collection,
			"backend", cfg.Store.Backend,
		)

		result, err := appCtx.Container.IngestService.Ingest(ctx, ingestion.IngestParams{
			Identifier: cfg.Paper.DOI,
			Collection: cfg.Store.Collection,
			RecordID:   cfg.Store.RecordID,
		})
		if err != nil {
			return err
		}

		displayIngestResult(output(cmd), cfg.Paper.DOI, result)
		return nil
	}
}

// displayIngestResult は取り込み結果をテーブル形式で表示します
func displayIngestResult(w io.Writer, doi string, result *ingestion.IngestResult) {
	fmt.Fprintln(w, "=== 取り込み結果 ===")

	table := tablewriter.NewWriter(w)
	table.Header("項目", "値")
	table.Append("DOI", doi)
	table.Append("タイトル", result.Title)
	table.Append("コレクション", result.Collection)
	table.Append("レコードID", result.RecordID)
	table.Append("次元数", fmt.Sprintf("%d", result.Dimension))
	table.Append("処理時間", result.Duration.String())
	table.Render()
}

// output はコマンドの出力先を返す
func output(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}
