package translator

import (
	"regexp"
	"strings"
)

// モデルが付けがちな前置きの接頭辞
var outputPrefixRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^訳文[：:]\s*`),
	regexp.MustCompile(`(?i)^翻訳[：:]\s*`),
	regexp.MustCompile(`(?i)^【訳文】\s*`),
	regexp.MustCompile(`(?i)^【翻訳】\s*`),
	regexp.MustCompile(`(?i)^\[訳文\]\s*`),
	regexp.MustCompile(`(?i)^\[翻訳\]\s*`),
	regexp.MustCompile(`(?i)^Translation[:\s]+`),
	regexp.MustCompile(`(?i)^以下が翻訳です[：:]?\s*`),
	regexp.MustCompile(`(?i)^翻訳結果[：:]\s*`),
}

// 全体を囲んでいたら剥がす引用符のペア
var quotePairs = [][2]string{
	{`"`, `"`},
	{"「", "」"},
	{"『", "』"},
	{"《", "》"},
}

// CleanOutput はモデル出力から前置きの接頭辞と全体を囲む引用符を取り除きます
func CleanOutput(text string) string {
	cleaned := strings.TrimSpace(text)

	for _, re := range outputPrefixRes {
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	for _, pair := range quotePairs {
		if strings.HasPrefix(cleaned, pair[0]) && strings.HasSuffix(cleaned, pair[1]) && len(cleaned) > len(pair[0])+len(pair[1]) {
			cleaned = strings.TrimPrefix(cleaned, pair[0])
			cleaned = strings.TrimSuffix(cleaned, pair[1])
		}
	}

	return strings.TrimSpace(cleaned)
}
