// Package store defines the persistence contracts of the engine and the
// tiered ranking cache built on top of them. Implementations live in the
// postgres, sqlite, memstore and rediscache subpackages.
//
// Every implementation upserts whole rows (last writer wins on CheckedAt),
// returns domain.ErrNotFound for missing keys and reports writes that
// reference an unregistered app as an error matching domain.ErrReferential.
package store

import (
	"context"
	"time"

	"github.com/combolab/combo-engine/engine/domain"
)

// DefaultTTL is how long a ranking stays fresh.
const DefaultTTL = 24 * time.Hour

// RankingStore persists ranking records.
type RankingStore interface {
	GetRanking(ctx context.Context, key domain.RankingKey) (domain.RankingRecord, error)
	UpsertRanking(ctx context.Context, rec domain.RankingRecord) error
}

// PopularityStore persists popularity records.
type PopularityStore interface {
	GetPopularity(ctx context.Context, keyword, locale string, platform domain.Platform) (domain.PopularityRecord, error)
	UpsertPopularity(ctx context.Context, rec domain.PopularityRecord) error
}

// ComboStore persists the unified combo collection of each app.
type ComboStore interface {
	// SaveCombos replaces the stored combos of one app, locale and platform.
	SaveCombos(ctx context.Context, appID, locale string, platform domain.Platform, combos []domain.Combo) error
	ListCombos(ctx context.Context) ([]domain.StoredCombo, error)
}

// AppStore registers the entities rankings and combos reference.
type AppStore interface {
	RegisterApp(ctx context.Context, app domain.App) error
}

// Store is everything a durable backend provides.
type Store interface {
	RankingStore
	PopularityStore
	ComboStore
	AppStore
	Ping(ctx context.Context) error
	Close() error
}

// Fresh reports whether rec is still within ttl at now.
func Fresh(rec domain.RankingRecord, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(rec.CheckedAt) < ttl
}
