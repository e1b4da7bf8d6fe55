package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/combolab/combo-engine/engine/domain"
)

// Tiered puts a fast cache in front of a durable ranking store. Reads go to
// the hot tier first and fill it from the durable tier on a miss. Writes go
// to the durable tier and reach the hot tier only when persistence
// succeeded, so ephemeral results are never cached.
type Tiered struct {
	hot     RankingStore
	durable RankingStore
	log     *slog.Logger
}

// NewTiered creates a tiered ranking store. A nil hot tier passes straight
// through to durable.
func NewTiered(hot, durable RankingStore, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{hot: hot, durable: durable, log: logger}
}

// GetRanking reads through the hot tier. Hot tier failures are logged and
// treated as misses.
func (t *Tiered) GetRanking(ctx context.Context, key domain.RankingKey) (domain.RankingRecord, error) {
	if t.hot != nil {
		rec, err := t.hot.GetRanking(ctx, key)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.log.Warn("store: hot tier read failed", "key", key.String(), "error", err)
		}
	}
	rec, err := t.durable.GetRanking(ctx, key)
	if err != nil {
		return rec, err
	}
	if t.hot != nil {
		if err := t.hot.UpsertRanking(ctx, rec); err != nil {
			t.log.Warn("store: hot tier fill failed", "key", key.String(), "error", err)
		}
	}
	return rec, nil
}

// UpsertRanking writes the durable tier, then the hot tier.
func (t *Tiered) UpsertRanking(ctx context.Context, rec domain.RankingRecord) error {
	if err := t.durable.UpsertRanking(ctx, rec); err != nil {
		return err
	}
	if t.hot != nil {
		if err := t.hot.UpsertRanking(ctx, rec); err != nil {
			t.log.Warn("store: hot tier write failed", "key", rec.Key().String(), "error", err)
		}
	}
	return nil
}

var _ RankingStore = (*Tiered)(nil)
