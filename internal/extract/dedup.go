package extract

import (
	"context"

	"github.com/ppiankov/qverify/internal/model"
)

// Dedup folds statement sequences into a work set keyed by trimmed text
func Dedup(seqs ...[]string) *model.WorkSet {
	ws := model.NewWorkSet()
	for _, seq := range seqs {
		for _, raw := range seq {
			ws.Add(raw)
		}
	}
	return ws
}

// Collect walks the source and deduplicates everything it extracts
func Collect(ctx context.Context, src *Source) (*model.WorkSet, *Stats, error) {
	ws := model.NewWorkSet()
	stats, err := src.Walk(ctx, func(_ string, statement string) error {
		ws.Add(statement)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return ws, stats, nil
}
