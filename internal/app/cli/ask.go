package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	coreask "github.com/jinford/paper-rag/internal/core/ask"
)

func askAction(opts []AppOption) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		envFile := cmd.String("env")
		showSources := cmd.Bool("show-sources")

		// 質問文の取得
		question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
		if question == "" {
			return fmt.Errorf("質問文を指定してください")
		}

		appCtx, err := NewAppContext(ctx, envFile, withOptions(opts, commonOverrides(cmd))...)
		if err != nil {
			return err
		}
		defer appCtx.Close()

		appCtx.Logger().Info("質問応答を開始",
			"collection", appCtx.Config.Store.Collection,
			"question", question,
		)

		// 回答はトークン単位でそのまま書き出す
		w := output(cmd)
		sources, err := appCtx.Container.AskService.Stream(ctx, coreask.AskParams{
			Collection: appCtx.Config.Store.Collection,
			Query:      question,
		}, func(token string) error {
			_, err := io.WriteString(w, token)
			return err
		})
		if err != nil {
			return fmt.Errorf("質問応答に失敗: %w", err)
		}
		fmt.Fprintln(w)

		if showSources && len(sources) > 0 {
			displaySources(w, sources)
		}
		return nil
	}
}

// displaySources は参照ドキュメントをテーブル形式で表示します
func displaySources(w io.Writer, sources []coreask.SourceReference) {
	fmt.Fprintln(w, "\n--- 参照ソース ---")

	table := tablewriter.NewWriter(w)
	table.Header("#", "ID", "タイトル", "DOI", "距離")
	for i, s := range sources {
		table.Append(
			fmt.Sprintf("%d", i+1),
			s.ID,
			s.Title,
			s.DOI,
			fmt.Sprintf("%.4f", s.Distance),
		)
	}
	table.Render()
}
