package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"yad2-watcher/models"
)

// PostgresStore persists targets and seen listings in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db, now: time.Now}
	if err := ps.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS tracked_targets (
			id                SERIAL PRIMARY KEY,
			name              TEXT        NOT NULL,
			url               TEXT        NOT NULL,
			max_price_per_sqm DOUBLE PRECISION,
			disabled          BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS seen_listings (
			id            SERIAL PRIMARY KEY,
			target_id     INTEGER     NOT NULL REFERENCES tracked_targets(id) ON DELETE CASCADE,
			token         TEXT        NOT NULL,
			price         DOUBLE PRECISION,
			sqm           DOUBLE PRECISION,
			price_per_sqm DOUBLE PRECISION,
			address       TEXT        NOT NULL DEFAULT '',
			rooms         DOUBLE PRECISION,
			property_type TEXT        NOT NULL DEFAULT '',
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (target_id, token)
		);

		CREATE INDEX IF NOT EXISTS idx_seen_listings_ppsm ON seen_listings(target_id, price_per_sqm);
	`)
	return err
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// ── listings ───────────────────────────────────────────────────────────────

func (ps *PostgresStore) SeenTokens(ctx context.Context, targetID int64) ([]string, error) {
	rows, err := ps.db.QueryContext(ctx, `SELECT token FROM seen_listings WHERE target_id = $1`, targetID)
	if err != nil {
		return nil, fmt.Errorf("postgres: seen tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("postgres: scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

func (ps *PostgresStore) AppendSeenListing(ctx context.Context, targetID int64, rec models.ListingRecord) (bool, error) {
	l := models.NewSeenListing(targetID, rec, ps.now())
	res, err := ps.db.ExecContext(ctx, `
		INSERT INTO seen_listings (target_id, token, price, sqm, price_per_sqm, address, rooms, property_type, first_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (target_id, token) DO NOTHING
	`, l.TargetID, l.Token, l.Price, l.SquareMeters, l.PricePerSqm, l.Address, l.Rooms, l.PropertyType, l.FirstSeenAt)
	if err != nil {
		return false, fmt.Errorf("postgres: insert listing %s: %w", rec.Token, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return n == 1, nil
}

const listingColumns = `id, target_id, token, price, sqm, price_per_sqm, address, rooms, property_type, first_seen_at`

func (ps *PostgresStore) AllListings(ctx context.Context, targetID int64) ([]*models.SeenListing, error) {
	return ps.queryListings(ctx, `
		SELECT `+listingColumns+`
		FROM seen_listings
		WHERE target_id = $1
		ORDER BY first_seen_at DESC, id DESC
	`, targetID)
}

func (ps *PostgresStore) ListingsBelowThreshold(ctx context.Context, targetID int64, maxPricePerSqm float64) ([]*models.SeenListing, error) {
	return ps.queryListings(ctx, `
		SELECT `+listingColumns+`
		FROM seen_listings
		WHERE target_id = $1 AND price_per_sqm IS NOT NULL AND price_per_sqm <= $2
		ORDER BY price_per_sqm
	`, targetID, maxPricePerSqm)
}

func (ps *PostgresStore) queryListings(ctx context.Context, query string, args ...any) ([]*models.SeenListing, error) {
	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	listings := make([]*models.SeenListing, 0)
	for rows.Next() {
		l := &models.SeenListing{}
		if err := rows.Scan(
			&l.ID, &l.TargetID, &l.Token, &l.Price, &l.SquareMeters,
			&l.PricePerSqm, &l.Address, &l.Rooms, &l.PropertyType, &l.FirstSeenAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ── targets ────────────────────────────────────────────────────────────────

const targetColumns = `id, name, url, max_price_per_sqm, disabled, created_at`

func scanTarget(row interface{ Scan(...any) error }) (models.TrackedTarget, error) {
	var t models.TrackedTarget
	err := row.Scan(&t.ID, &t.Name, &t.URL, &t.MaxPricePerSqm, &t.Disabled, &t.CreatedAt)
	return t, err
}

func (ps *PostgresStore) ListTargets(ctx context.Context) ([]models.TrackedTarget, error) {
	rows, err := ps.db.QueryContext(ctx, `SELECT `+targetColumns+` FROM tracked_targets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list targets: %w", err)
	}
	defer rows.Close()

	targets := make([]models.TrackedTarget, 0)
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (ps *PostgresStore) GetTarget(ctx context.Context, id int64) (models.TrackedTarget, error) {
	t, err := scanTarget(ps.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM tracked_targets WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	if err != nil {
		return t, fmt.Errorf("postgres: get target %d: %w", id, err)
	}
	return t, nil
}

func (ps *PostgresStore) AddTarget(ctx context.Context, t models.TrackedTarget) (models.TrackedTarget, error) {
	row := ps.db.QueryRowContext(ctx, `
		INSERT INTO tracked_targets (name, url, max_price_per_sqm, disabled)
		VALUES ($1, $2, $3, $4)
		RETURNING `+targetColumns,
		t.Name, t.URL, t.MaxPricePerSqm, t.Disabled)
	created, err := scanTarget(row)
	if err != nil {
		return created, fmt.Errorf("postgres: add target: %w", err)
	}
	return created, nil
}

func (ps *PostgresStore) UpdateTarget(ctx context.Context, id int64, u TargetUpdate) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var currentURL string
	err = tx.QueryRowContext(ctx, `SELECT url FROM tracked_targets WHERE id = $1 FOR UPDATE`, id).Scan(&currentURL)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("postgres: load target %d: %w", id, err)
	}

	// listings belong to the old search once the URL changes
	if u.URL != nil && *u.URL != currentURL {
		if _, err := tx.ExecContext(ctx, `DELETE FROM seen_listings WHERE target_id = $1`, id); err != nil {
			return fmt.Errorf("postgres: clear listings of %d: %w", id, err)
		}
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.URL != nil {
		add("url", *u.URL)
	}
	if u.ClearThreshold {
		add("max_price_per_sqm", nil)
	} else if u.MaxPricePerSqm != nil {
		add("max_price_per_sqm", *u.MaxPricePerSqm)
	}
	if u.Disabled != nil {
		add("disabled", *u.Disabled)
	}

	if len(sets) > 0 {
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE tracked_targets SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: update target %d: %w", id, err)
		}
	}

	return tx.Commit()
}

func (ps *PostgresStore) RemoveTarget(ctx context.Context, id int64) error {
	res, err := ps.db.ExecContext(ctx, `DELETE FROM tracked_targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: remove target %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	return nil
}
