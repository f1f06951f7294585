package ingestion

import "time"

// DefaultRecordID は取り込みレコードの固定ID
const DefaultRecordID = "fermat-1"

// Work は書誌APIから取得した1件の論文を表す
type Work struct {
	Identifier string // DOI形式の永続識別子
	Title      string // タイトル（存在しない場合は空文字）
	Abstract   string // 要旨（存在しない場合は空文字）
}

// DocumentText はタイトルと要旨を改行で連結したテキストを返す
// 空のフィールドもそのまま連結し、トリムはしない
func (w Work) DocumentText() string {
	return w.Title + "\n" + w.Abstract
}

// Metadata はレコードに付与するメタデータを返す
func (w Work) Metadata() map[string]any {
	return map[string]any{
		"doi":   w.Identifier,
		"title": w.Title,
	}
}

// Record はベクトルストアに保存される単位
type Record struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  map[string]any
}

// QueryResult は類似検索の結果1件を表す
type QueryResult struct {
	Record
	Distance float64 // 小さいほど類似
}

// IngestParams は取り込み処理のパラメータ
type IngestParams struct {
	Identifier string // 取得対象のDOI
	Collection string // 保存先コレクション名
	RecordID   string // 省略時は DefaultRecordID
}

// IngestResult は取り込み処理の結果を表す
type IngestResult struct {
	RecordID   string
	Collection string
	Title      string
	Dimension  int
	Duration   time.Duration
}
