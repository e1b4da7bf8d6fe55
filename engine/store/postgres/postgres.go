// Package postgres is the durable store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/store"
	"github.com/combolab/combo-engine/engine/store/postgres/migrations"
)

// codeForeignKeyViolation is the SQLSTATE of a foreign key violation.
const codeForeignKeyViolation = "23503"

// DB wraps a pgxpool connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a connection pool and verifies it.
func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all embedded migrations.
func RunMigrations(connString string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("postgres: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("postgres: migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close closes the pool.
func (d *DB) Close() error {
	d.Pool.Close()
	return nil
}

// Ping checks the pool.
func (d *DB) Ping(ctx context.Context) error { return d.Pool.Ping(ctx) }

// mapWriteErr turns a foreign key violation into a ReferentialError.
func mapWriteErr(op, entity, key string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return &domain.ReferentialError{Entity: entity, Key: key, Err: err}
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func nullableOrg(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// RegisterApp inserts or updates an app.
func (d *DB) RegisterApp(ctx context.Context, app domain.App) error {
	createdAt := app.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO apps (id, organization_id, platform, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET organization_id = EXCLUDED.organization_id, platform = EXCLUDED.platform
	`, app.ID, nullableOrg(app.OrganizationID), string(app.Platform), createdAt)
	return mapWriteErr("register app", "app", app.ID, err)
}

// GetRanking reads one ranking record.
func (d *DB) GetRanking(ctx context.Context, key domain.RankingKey) (domain.RankingRecord, error) {
	rec := domain.RankingRecord{AppID: key.AppID, Combo: key.Combo, Locale: key.Locale, Platform: key.Platform}
	err := d.Pool.QueryRow(ctx, `
		SELECT total_results, position, checked_at
		FROM rankings
		WHERE app_id = $1 AND combo = $2 AND locale = $3 AND platform = $4
	`, key.AppID, key.Combo, key.Locale, string(key.Platform)).Scan(&rec.TotalResults, &rec.Position, &rec.CheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RankingRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RankingRecord{}, fmt.Errorf("postgres: get ranking: %w", err)
	}
	return rec, nil
}

// UpsertRanking writes one ranking record.
func (d *DB) UpsertRanking(ctx context.Context, rec domain.RankingRecord) error {
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO rankings (app_id, combo, locale, platform, total_results, position, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (app_id, combo, locale, platform) DO UPDATE SET
			total_results = EXCLUDED.total_results,
			position = EXCLUDED.position,
			checked_at = EXCLUDED.checked_at
	`, rec.AppID, rec.Combo, rec.Locale, string(rec.Platform), rec.TotalResults, rec.Position, rec.CheckedAt)
	return mapWriteErr("upsert ranking", "app", rec.AppID, err)
}

// GetPopularity reads one popularity record.
func (d *DB) GetPopularity(ctx context.Context, keyword, locale string, platform domain.Platform) (domain.PopularityRecord, error) {
	rec := domain.PopularityRecord{Keyword: keyword, Locale: locale, Platform: platform}
	err := d.Pool.QueryRow(ctx, `
		SELECT popularity_score, autocomplete_score, intent_score, length_prior, last_checked_at
		FROM popularity
		WHERE keyword = $1 AND locale = $2 AND platform = $3
	`, keyword, locale, string(platform)).Scan(
		&rec.PopularityScore, &rec.AutocompleteScore, &rec.IntentScore, &rec.LengthPrior, &rec.LastCheckedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PopularityRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PopularityRecord{}, fmt.Errorf("postgres: get popularity: %w", err)
	}
	return rec, nil
}

// UpsertPopularity writes one popularity record.
func (d *DB) UpsertPopularity(ctx context.Context, rec domain.PopularityRecord) error {
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO popularity (keyword, locale, platform, popularity_score, autocomplete_score, intent_score, length_prior, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (keyword, locale, platform) DO UPDATE SET
			popularity_score = EXCLUDED.popularity_score,
			autocomplete_score = EXCLUDED.autocomplete_score,
			intent_score = EXCLUDED.intent_score,
			length_prior = EXCLUDED.length_prior,
			last_checked_at = EXCLUDED.last_checked_at
	`, rec.Keyword, rec.Locale, string(rec.Platform), rec.PopularityScore, rec.AutocompleteScore, rec.IntentScore, rec.LengthPrior, rec.LastCheckedAt)
	if err != nil {
		return &domain.PersistenceError{Op: "upsert popularity", Err: err}
	}
	return nil
}

// SaveCombos replaces an app's combos in one transaction.
func (d *DB) SaveCombos(ctx context.Context, appID, locale string, platform domain.Platform, combos []domain.Combo) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM combos WHERE app_id = $1 AND locale = $2 AND platform = $3`,
		appID, locale, string(platform)); err != nil {
		return &domain.PersistenceError{Op: "save combos", Err: err}
	}

	rows := make([][]any, len(combos))
	for i, c := range combos {
		rows[i] = []any{appID, locale, string(platform), c.Text, c.Sources.Key(), c.WordCount, int(c.Tier), string(c.Origin)}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"combos"},
		[]string{"app_id", "locale", "platform", "text", "sources", "word_count", "tier", "origin"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return mapWriteErr("save combos", "app", appID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return &domain.PersistenceError{Op: "save combos", Err: err}
	}
	return nil
}

// ListCombos returns every stored combo.
func (d *DB) ListCombos(ctx context.Context) ([]domain.StoredCombo, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT app_id, locale, platform, text, sources, word_count, tier, origin
		FROM combos
		ORDER BY app_id, locale, platform, text
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list combos: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredCombo
	for rows.Next() {
		var (
			sc                        domain.StoredCombo
			platform, sources, origin string
			tier                      int
		)
		if err := rows.Scan(&sc.AppID, &sc.Locale, &platform, &sc.Combo.Text, &sources, &sc.Combo.WordCount, &tier, &origin); err != nil {
			return nil, fmt.Errorf("postgres: scan combo: %w", err)
		}
		set, err := domain.ParseSourceSet(sources)
		if err != nil {
			return nil, fmt.Errorf("postgres: combo %q: %w", sc.Combo.Text, err)
		}
		sc.Platform = domain.Platform(platform)
		sc.Combo.Sources = set
		sc.Combo.Tier = domain.Tier(tier)
		sc.Combo.Origin = domain.Origin(origin)
		out = append(out, sc)
	}
	return out, rows.Err()
}

var _ store.Store = (*DB)(nil)
