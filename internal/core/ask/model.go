package ask

// DefaultContextLimit は文脈として取得するドキュメント数の既定値
const DefaultContextLimit = 3

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Collection   string // 検索対象のコレクション名
	Query        string // ユーザーの質問文
	ContextLimit int    // 文脈ドキュメント数の上限（デフォルト: 3）
}

// AskResult は質問応答の結果を表す
type AskResult struct {
	Answer  string            // LLMによる回答
	Sources []SourceReference // 参照したドキュメント
}

// SourceReference は回答の根拠となったドキュメント参照を表す
type SourceReference struct {
	ID       string  // レコードID
	Title    string  // 論文タイトル
	DOI      string  // 論文DOI
	Distance float64 // ベクトル距離
}
