package parser

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// Chunk は分割アップロードする1区画を表します
// StartPage は0始まりで、マージ時のページ番号補正量を兼ねる
type Chunk struct {
	Index     int
	StartPage int
	EndPage   int // 0始まり、この値を含む
}

// PageRanges は解析サービスへ渡す1始まりのページ範囲表記を返します
func (c Chunk) PageRanges() string {
	return fmt.Sprintf("%d-%d", c.StartPage+1, c.EndPage+1)
}

// CountPages はPDFのページ数を返します
func CountPages(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer doc.Close()

	return doc.NumPage(), nil
}

// PlanChunks はページ数が maxPages を超えるドキュメントの分割計画を返します
// 超えない場合は分割なしとして nil を返す
func PlanChunks(totalPages, maxPages int) []Chunk {
	if maxPages <= 0 || totalPages <= maxPages {
		return nil
	}

	var chunks []Chunk
	for start := 0; start < totalPages; start += maxPages {
		end := start + maxPages - 1
		if end >= totalPages {
			end = totalPages - 1
		}
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			StartPage: start,
			EndPage:   end,
		})
	}
	return chunks
}
