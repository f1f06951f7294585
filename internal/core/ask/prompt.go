package ask

import "fmt"

// BuildAskPrompt は数学の専門家として文脈を参照して回答させるプロンプトを構築する
func BuildAskPrompt(query, context string) string {
	return fmt.Sprintf(
		"あなたは数学の専門家です。以下の文脈を参考に日本語で質問に答えてください。\n\n"+
			"【文脈】\n%s\n\n"+
			"【質問】%s\n"+
			"【回答】",
		context, query,
	)
}
