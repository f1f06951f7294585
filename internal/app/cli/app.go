package cli

import (
	"github.com/urfave/cli/v3"
)

// NewApp はルートコマンドを作成する。opts は各コマンドの AppContext に渡される
func NewApp(opts ...AppOption) *cli.Command {
	return &cli.Command{
		Name:  "paper-rag",
		Usage: "論文メタデータを取得しベクトルストアへ登録する RAG データローダー",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "DOI の論文を取得し、埋め込みを計算してコレクションへ登録",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "doi",
						Usage: "取り込む論文の DOI（省略時は PAPER_DOI）",
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "レコードID（省略時は STORE_RECORD_ID）",
					},
					collectionFlag(),
					backendFlag(),
				},
				Action: ingestAction(opts),
			},
			{
				Name:  "inspect",
				Usage: "コレクションに登録されたドキュメントを一覧表示",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "host",
						Usage: "Chroma ホスト",
						Value: "localhost",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "Chroma ポート",
						Value: 8000,
					},
					collectionFlag(),
					backendFlag(),
				},
				Action: inspectAction(opts),
			},
			{
				Name:      "ask",
				Usage:     "登録済みドキュメントを文脈として質問に回答",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					collectionFlag(),
					backendFlag(),
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照したドキュメントを表示",
					},
				},
				Action: askAction(opts),
			},
			{
				Name:  "serve",
				Usage: "チャット用の SSE エンドポイントを起動",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{
						Name:  "port",
						Usage: "待ち受けポート（省略時は SERVER_PORT）",
					},
					collectionFlag(),
					backendFlag(),
				},
				Action: serveAction(opts),
			},
		},
	}
}
