package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TokenPairRepository defines the interface for token pair persistence.
type TokenPairRepository interface {
	Create(ctx context.Context, pair *TokenPair) error
	ListByUser(ctx context.Context, userID int64) ([]*TokenPair, error)

	// Save flushes the pair's staged changes. With checkVersion the update
	// only applies if the stored version still equals pair.Version, and a
	// lost race returns ErrTokenRotated.
	Save(ctx context.Context, pair *TokenPair, checkVersion bool) error

	Delete(ctx context.Context, userID, id int64) error
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
}

// SQLiteTokenPairRepository implements TokenPairRepository using SQLite.
type SQLiteTokenPairRepository struct {
	db *sql.DB
}

// NewTokenPairRepository creates a new SQLite-backed token pair repository.
func NewTokenPairRepository(db *sql.DB) *SQLiteTokenPairRepository {
	return &SQLiteTokenPairRepository{db: db}
}

const tokenPairColumns = `id, user_id, access_token_hash, access_token_expires,
	refresh_token_hash, refresh_token_expires, long_expiry,
	sysadmin_elevation_expires, version`

// Create inserts a new pair and assigns its ID. Staged changes are cleared.
func (r *SQLiteTokenPairRepository) Create(ctx context.Context, pair *TokenPair) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO token_pairs (user_id, access_token_hash, access_token_expires,
			refresh_token_hash, refresh_token_expires, long_expiry, sysadmin_elevation_expires, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		pair.UserID,
		pair.AccessTokenHash, nullTime(pair.AccessTokenExpires),
		pair.RefreshTokenHash, nullTime(pair.RefreshTokenExpires),
		boolToInt(pair.LongExpiry), nullTime(pair.SysadminElevationExpires),
	)
	if err != nil {
		return fmt.Errorf("creating token pair: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading token pair id: %w", err)
	}
	pair.ID = id
	pair.Version = 1
	pair.clearChanges()
	return nil
}

// ListByUser returns every pair owned by userID, oldest first.
// Expired pairs are included; expiry is checked, never swept.
func (r *SQLiteTokenPairRepository) ListByUser(ctx context.Context, userID int64) ([]*TokenPair, error) {
	return listTokenPairs(ctx, r.db, userID)
}

func listTokenPairs(ctx context.Context, q queryer, userID int64) ([]*TokenPair, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+tokenPairColumns+` FROM token_pairs WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing token pairs: %w", err)
	}
	defer rows.Close()

	pairs := []*TokenPair{}
	for rows.Next() {
		p, err := scanTokenPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token pairs: %w", err)
	}
	return pairs, nil
}

// Save writes only the staged fields and bumps the version.
func (r *SQLiteTokenPairRepository) Save(ctx context.Context, pair *TokenPair, checkVersion bool) error {
	if !pair.HasChanges() {
		return nil
	}

	fields := make([]string, 0, len(pair.changes))
	for f := range pair.changes {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+3)
	for _, f := range fields {
		sets = append(sets, f+" = ?")
		args = append(args, columnValue(pair.changes[tokenPairField(f)]))
	}
	sets = append(sets, "version = version + 1")

	query := "UPDATE token_pairs SET " + strings.Join(sets, ", ") + " WHERE id = ? AND user_id = ?"
	args = append(args, pair.ID, pair.UserID)
	if checkVersion {
		query += " AND version = ?"
		args = append(args, pair.Version)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("saving token pair: %w", err)
	}

	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		if checkVersion && r.exists(ctx, pair) {
			return ErrTokenRotated
		}
		return ErrTokenPairNotFound
	}

	pair.Version++
	pair.clearChanges()
	return nil
}

func (r *SQLiteTokenPairRepository) exists(ctx context.Context, pair *TokenPair) bool {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM token_pairs WHERE id = ? AND user_id = ?", pair.ID, pair.UserID).Scan(&one)
	return err == nil
}

// Delete removes the pair id owned by userID.
func (r *SQLiteTokenPairRepository) Delete(ctx context.Context, userID, id int64) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM token_pairs WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting token pair: %w", err)
	}

	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrTokenPairNotFound
	}
	return nil
}

// DeleteAllForUser removes every pair owned by userID.
func (r *SQLiteTokenPairRepository) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM token_pairs WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting token pairs: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

func scanTokenPair(s scanner) (*TokenPair, error) {
	var p TokenPair
	var accessExp, refreshExp, elevationExp sql.NullTime
	var long int

	err := s.Scan(&p.ID, &p.UserID, &p.AccessTokenHash, &accessExp,
		&p.RefreshTokenHash, &refreshExp, &long, &elevationExp, &p.Version)
	if err != nil {
		return nil, fmt.Errorf("scanning token pair: %w", err)
	}

	p.LongExpiry = long != 0
	p.AccessTokenExpires = timePtr(accessExp)
	p.RefreshTokenExpires = timePtr(refreshExp)
	p.SysadminElevationExpires = timePtr(elevationExp)
	return &p, nil
}

// columnValue converts a staged value to a driver value.
func columnValue(v any) any {
	switch val := v.(type) {
	case bool:
		return boolToInt(val)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
