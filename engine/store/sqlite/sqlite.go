// Package sqlite is an embedded store.Store on modernc.org/sqlite for
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS apps (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rankings (
	app_id TEXT NOT NULL,
	combo TEXT NOT NULL,
	locale TEXT NOT NULL,
	platform TEXT NOT NULL,
	total_results INTEGER,
	position INTEGER,
	checked_at TEXT NOT NULL,
	PRIMARY KEY (app_id, combo, locale, platform),
	FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS popularity (
	keyword TEXT NOT NULL,
	locale TEXT NOT NULL,
	platform TEXT NOT NULL,
	popularity_score INTEGER NOT NULL,
	autocomplete_score REAL NOT NULL,
	intent_score REAL NOT NULL,
	length_prior REAL NOT NULL,
	last_checked_at TEXT NOT NULL,
	PRIMARY KEY (keyword, locale, platform)
);

CREATE TABLE IF NOT EXISTS combos (
	app_id TEXT NOT NULL,
	locale TEXT NOT NULL,
	platform TEXT NOT NULL,
	text TEXT NOT NULL,
	sources TEXT NOT NULL,
	word_count INTEGER NOT NULL,
	tier INTEGER NOT NULL,
	origin TEXT NOT NULL,
	PRIMARY KEY (app_id, locale, platform, text),
	FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
);
`

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway database. Foreign keys are enforced on every connection.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &Store{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

func dsn(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + pragmas
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// isForeignKey reports whether err is an SQLite foreign key violation.
func isForeignKey(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func mapWriteErr(op, entity, key string, err error) error {
	if err == nil {
		return nil
	}
	if isForeignKey(err) {
		return &domain.ReferentialError{Entity: entity, Key: key, Err: err}
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// RegisterApp inserts or updates an app.
func (s *Store) RegisterApp(ctx context.Context, app domain.App) error {
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}
	b := s.sb.Insert("apps").
		Columns("id", "organization_id", "platform", "created_at").
		Values(app.ID, app.OrganizationID, string(app.Platform), ts(app.CreatedAt)).
		Suffix("ON CONFLICT(id) DO UPDATE SET organization_id = excluded.organization_id, platform = excluded.platform")
	return mapWriteErr("register app", "app", app.ID, s.exec(ctx, b))
}

// GetRanking reads one ranking record.
func (s *Store) GetRanking(ctx context.Context, key domain.RankingKey) (domain.RankingRecord, error) {
	query, args, err := s.sb.Select("total_results", "position", "checked_at").
		From("rankings").
		Where(sq.Eq{"app_id": key.AppID, "combo": key.Combo, "locale": key.Locale, "platform": string(key.Platform)}).
		ToSql()
	if err != nil {
		return domain.RankingRecord{}, fmt.Errorf("sqlite: build: %w", err)
	}

	var (
		total, pos sql.NullInt64
		checked    string
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&total, &pos, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RankingRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RankingRecord{}, fmt.Errorf("sqlite: get ranking: %w", err)
	}
	at, err := parseTS(checked)
	if err != nil {
		return domain.RankingRecord{}, fmt.Errorf("sqlite: get ranking: checked_at: %w", err)
	}
	return domain.RankingRecord{
		AppID:        key.AppID,
		Combo:        key.Combo,
		Locale:       key.Locale,
		Platform:     key.Platform,
		TotalResults: nullInt(total),
		Position:     nullInt(pos),
		CheckedAt:    at,
	}, nil
}

// UpsertRanking writes one ranking record.
func (s *Store) UpsertRanking(ctx context.Context, rec domain.RankingRecord) error {
	b := s.sb.Insert("rankings").
		Columns("app_id", "combo", "locale", "platform", "total_results", "position", "checked_at").
		Values(rec.AppID, rec.Combo, rec.Locale, string(rec.Platform), intOrNil(rec.TotalResults), intOrNil(rec.Position), ts(rec.CheckedAt)).
		Suffix(`ON CONFLICT(app_id, combo, locale, platform) DO UPDATE SET
			total_results = excluded.total_results,
			position = excluded.position,
			checked_at = excluded.checked_at`)
	return mapWriteErr("upsert ranking", "app", rec.AppID, s.exec(ctx, b))
}

// GetPopularity reads one popularity record.
func (s *Store) GetPopularity(ctx context.Context, keyword, locale string, platform domain.Platform) (domain.PopularityRecord, error) {
	query, args, err := s.sb.Select("popularity_score", "autocomplete_score", "intent_score", "length_prior", "last_checked_at").
		From("popularity").
		Where(sq.Eq{"keyword": keyword, "locale": locale, "platform": string(platform)}).
		ToSql()
	if err != nil {
		return domain.PopularityRecord{}, fmt.Errorf("sqlite: build: %w", err)
	}
	rec := domain.PopularityRecord{Keyword: keyword, Locale: locale, Platform: platform}
	var checked string
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&rec.PopularityScore, &rec.AutocompleteScore, &rec.IntentScore, &rec.LengthPrior, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PopularityRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PopularityRecord{}, fmt.Errorf("sqlite: get popularity: %w", err)
	}
	if rec.LastCheckedAt, err = parseTS(checked); err != nil {
		return domain.PopularityRecord{}, fmt.Errorf("sqlite: get popularity: last_checked_at: %w", err)
	}
	return rec, nil
}

// UpsertPopularity writes one popularity record.
func (s *Store) UpsertPopularity(ctx context.Context, rec domain.PopularityRecord) error {
	b := s.sb.Insert("popularity").
		Columns("keyword", "locale", "platform", "popularity_score", "autocomplete_score", "intent_score", "length_prior", "last_checked_at").
		Values(rec.Keyword, rec.Locale, string(rec.Platform), rec.PopularityScore, rec.AutocompleteScore, rec.IntentScore, rec.LengthPrior, ts(rec.LastCheckedAt)).
		Suffix(`ON CONFLICT(keyword, locale, platform) DO UPDATE SET
			popularity_score = excluded.popularity_score,
			autocomplete_score = excluded.autocomplete_score,
			intent_score = excluded.intent_score,
			length_prior = excluded.length_prior,
			last_checked_at = excluded.last_checked_at`)
	if err := s.exec(ctx, b); err != nil {
		return &domain.PersistenceError{Op: "upsert popularity", Err: err}
	}
	return nil
}

// SaveCombos replaces an app's combos in one transaction.
func (s *Store) SaveCombos(ctx context.Context, appID, locale string, platform domain.Platform, combos []domain.Combo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	del, args, err := s.sb.Delete("combos").
		Where(sq.Eq{"app_id": appID, "locale": locale, "platform": string(platform)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return &domain.PersistenceError{Op: "save combos", Err: err}
	}

	if len(combos) > 0 {
		ins := s.sb.Insert("combos").Columns("app_id", "locale", "platform", "text", "sources", "word_count", "tier", "origin")
		for _, c := range combos {
			ins = ins.Values(appID, locale, string(platform), c.Text, c.Sources.Key(), c.WordCount, int(c.Tier), string(c.Origin))
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("sqlite: build: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return mapWriteErr("save combos", "app", appID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "save combos", Err: err}
	}
	return nil
}

// ListCombos returns every stored combo.
func (s *Store) ListCombos(ctx context.Context) ([]domain.StoredCombo, error) {
	query, args, err := s.sb.Select("app_id", "locale", "platform", "text", "sources", "word_count", "tier", "origin").
		From("combos").
		OrderBy("app_id", "locale", "platform", "text").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list combos: %w", err)
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
			return nil, fmt.Errorf("sqlite: scan combo: %w", err)
		}
		set, err := domain.ParseSourceSet(sources)
		if err != nil {
			return nil, fmt.Errorf("sqlite: combo %q: %w", sc.Combo.Text, err)
		}
		sc.Platform = domain.Platform(platform)
		sc.Combo.Sources = set
		sc.Combo.Tier = domain.Tier(tier)
		sc.Combo.Origin = domain.Origin(origin)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return domain.IntPtr(int(n.Int64))
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

var _ store.Store = (*Store)(nil)
