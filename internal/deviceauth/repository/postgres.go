package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deepskandpal/LangChef/internal/deviceauth/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device authorization ledger backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the record for codeHash, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, codeHash string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT code_hash, client_id, status, user_id, created_at FROM device_authorizations WHERE code_hash = $1`,
		codeHash)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// RecordTerminal inserts r with ON CONFLICT DO NOTHING and reads back whichever row won.
// A concurrent winner committed after this statement's snapshot is picked up by a follow-up Get.
func (r *PostgresRepository) RecordTerminal(ctx context.Context, rec *domain.Record) (*domain.Record, error) {
	if err := validate(rec); err != nil {
		return nil, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	userID := sql.NullString{String: rec.UserID, Valid: rec.UserID != ""}
	row := r.db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO device_authorizations (code_hash, client_id, status, user_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code_hash) DO NOTHING
			RETURNING code_hash, client_id, status, user_id, created_at
		)
		SELECT code_hash, client_id, status, user_id, created_at FROM ins
		UNION ALL
		SELECT code_hash, client_id, status, user_id, created_at FROM device_authorizations WHERE code_hash = $1
		LIMIT 1`,
		rec.CodeHash, rec.ClientID, string(rec.Status), userID, createdAt.UTC())
	stored, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		stored, err = r.Get(ctx, rec.CodeHash)
		if err == nil && stored == nil {
			err = sql.ErrNoRows
		}
	}
	return stored, err
}

// DeleteBefore prunes records created before t.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_authorizations WHERE created_at < $1`, t.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecord(row *sql.Row) (*domain.Record, error) {
	var (
		rec    domain.Record
		status string
		userID sql.NullString
	)
	if err := row.Scan(&rec.CodeHash, &rec.ClientID, &status, &userID, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	rec.UserID = userID.String
	return &rec, nil
}
