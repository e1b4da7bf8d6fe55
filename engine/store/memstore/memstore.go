// Package memstore is an in-process implementation of store.Store used in
// tests and single-binary development runs.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/store"
)

type popKey struct {
	keyword, locale string
	platform        domain.Platform
}

type comboKey struct {
	appID, locale string
	platform      domain.Platform
}

// Store keeps everything in maps guarded by one RWMutex. Like the SQL
// backends it rejects rankings and combos for apps that were never
// registered.
type Store struct {
	mu          sync.RWMutex
	apps        map[string]domain.App
	rankings    map[domain.RankingKey]domain.RankingRecord
	popularity  map[popKey]domain.PopularityRecord
	combos      map[comboKey][]domain.Combo
	requireApps bool
}

// Option configures a Store.
type Option func(*Store)

// WithoutAppCheck disables the referential check on app ids.
func WithoutAppCheck() Option { return func(s *Store) { s.requireApps = false } }

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		apps:        make(map[string]domain.App),
		rankings:    make(map[domain.RankingKey]domain.RankingRecord),
		popularity:  make(map[popKey]domain.PopularityRecord),
		combos:      make(map[comboKey][]domain.Combo),
		requireApps: true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterApp adds or updates an app.
func (s *Store) RegisterApp(_ context.Context, app domain.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.apps[app.ID]; ok && app.CreatedAt.IsZero() {
		app.CreatedAt = cur.CreatedAt
	}
	s.apps[app.ID] = app
	return nil
}

// checkApp must be called with mu held.
func (s *Store) checkApp(appID string) error {
	if !s.requireApps {
		return nil
	}
	if _, ok := s.apps[appID]; !ok {
		return &domain.ReferentialError{Entity: "app", Key: appID, Err: domain.ErrNotFound}
	}
	return nil
}

// GetRanking returns a copy of the stored record.
func (s *Store) GetRanking(_ context.Context, key domain.RankingKey) (domain.RankingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rankings[key]
	if !ok {
		return domain.RankingRecord{}, domain.ErrNotFound
	}
	return cloneRanking(rec), nil
}

// UpsertRanking replaces the record under its key.
func (s *Store) UpsertRanking(_ context.Context, rec domain.RankingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkApp(rec.AppID); err != nil {
		return err
	}
	s.rankings[rec.Key()] = cloneRanking(rec)
	return nil
}

// GetPopularity returns the record for a keyword.
func (s *Store) GetPopularity(_ context.Context, keyword, locale string, platform domain.Platform) (domain.PopularityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.popularity[popKey{keyword, locale, platform}]
	if !ok {
		return domain.PopularityRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// UpsertPopularity replaces the record under its key.
func (s *Store) UpsertPopularity(_ context.Context, rec domain.PopularityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popularity[popKey{rec.Keyword, rec.Locale, rec.Platform}] = rec
	return nil
}

// SaveCombos replaces an app's combos for a locale and platform.
func (s *Store) SaveCombos(_ context.Context, appID, locale string, platform domain.Platform, combos []domain.Combo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkApp(appID); err != nil {
		return err
	}
	s.combos[comboKey{appID, locale, platform}] = append([]domain.Combo(nil), combos...)
	return nil
}

// ListCombos returns every stored combo ordered by app, locale, platform and text.
func (s *Store) ListCombos(_ context.Context) ([]domain.StoredCombo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StoredCombo
	for k, cs := range s.combos {
		for _, c := range cs {
			out = append(out, domain.StoredCombo{AppID: k.appID, Locale: k.locale, Platform: k.platform, Combo: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AppID != b.AppID {
			return a.AppID < b.AppID
		}
		if a.Locale != b.Locale {
			return a.Locale < b.Locale
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.Combo.Text < b.Combo.Text
	})
	return out, nil
}

// Len returns the number of stored rankings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rankings)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneRanking(rec domain.RankingRecord) domain.RankingRecord {
	if rec.TotalResults != nil {
		rec.TotalResults = domain.IntPtr(*rec.TotalResults)
	}
	if rec.Position != nil {
		rec.Position = domain.IntPtr(*rec.Position)
	}
	return rec
}

var _ store.Store = (*Store)(nil)
