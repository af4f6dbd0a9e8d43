package translator

import (
	"unicode"
)

// Similarity は2つの文字列の正規化済み類似度を [0.0, 1.0] で返します
// 空白を取り除いたうえでレーベンシュタイン距離を長い方の長さで正規化する
// 翻訳前後のテキストがほぼ同一（=未翻訳）かどうかの判定に使う
func Similarity(a, b string) float64 {
	ra := stripSpace(a)
	rb := stripSpace(b)

	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	dist := levenshtein(ra, rb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func stripSpace(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// levenshtein は2行のDPで編集距離を計算する
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // 削除
				curr[j-1]+1,    // 挿入
				prev[j-1]+cost, // 置換
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
