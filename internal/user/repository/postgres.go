package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deepskandpal/LangChef/internal/user/domain"
)

const userColumns = `id, username, email, full_name, aws_identity_id,
	aws_access_key_id, aws_secret_access_key, aws_session_token, aws_token_expiry,
	is_active, created_at, updated_at`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername returns the user with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// GetByExternalID returns the user with the given provider correlation id, or nil if not found.
func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	if externalID == "" {
		return nil, nil
	}
	return r.getOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE aws_identity_id = $1`, externalID)
}

// Upsert locks the target row with SELECT ... FOR UPDATE, applies the patch and writes the full
// row in one transaction. Two concurrent inserts of the same identity race on the unique index;
// the loser retries once and then finds the winner's row.
func (r *PostgresRepository) Upsert(ctx context.Context, p UserPatch) (*domain.User, error) {
	u, err := r.upsertTx(ctx, p)
	if errors.Is(err, ErrConflict) {
		u, err = r.upsertTx(ctx, p)
	}
	return u, err
}

func (r *PostgresRepository) upsertTx(ctx context.Context, p UserPatch) (*domain.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := r.lockTarget(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	var next *domain.User
	if current == nil {
		next, err = p.newUser(uuid.NewString())
		if err != nil {
			return nil, err
		}
		err = insertUser(ctx, tx, next)
	} else {
		next = current
		p.apply(next)
		err = updateUser(ctx, tx, next)
	}
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	return next, nil
}

func (r *PostgresRepository) lockTarget(ctx context.Context, tx *sql.Tx, p UserPatch) (*domain.User, error) {
	if p.ExternalID != "" {
		u, err := r.getOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE aws_identity_id = $1 FOR UPDATE`, p.ExternalID)
		if err != nil || u != nil {
			return u, err
		}
		return r.getOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE username = $1 AND aws_identity_id IS NULL FOR UPDATE`, p.Username)
	}
	if p.Username == "" {
		return nil, nil
	}
	return r.getOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE username = $1 FOR UPDATE`, p.Username)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *PostgresRepository) getOne(ctx context.Context, q queryer, query string, arg any) (*domain.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func insertUser(ctx context.Context, tx *sql.Tx, u *domain.User) error {
	args := append([]any{u.ID, u.Username, u.Email}, userValues(u)...)
	_, err := tx.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, args...)
	return err
}

func updateUser(ctx context.Context, tx *sql.Tx, u *domain.User) error {
	args := append([]any{u.ID, u.Username, u.Email}, userValues(u)...)
	_, err := tx.ExecContext(ctx, `UPDATE users SET
		username = $2, email = $3, full_name = $4, aws_identity_id = $5,
		aws_access_key_id = $6, aws_secret_access_key = $7, aws_session_token = $8, aws_token_expiry = $9,
		is_active = $10, created_at = $11, updated_at = $12
		WHERE id = $1`, args...)
	return err
}

// userValues returns columns 4..12 of userColumns for u.
func userValues(u *domain.User) []any {
	var ak, sk, st sql.NullString
	if u.Credentials != nil {
		ak = nullString(u.Credentials.AccessKeyID)
		sk = nullString(u.Credentials.SecretAccessKey)
		st = nullString(u.Credentials.SessionToken)
	}
	var exp sql.NullTime
	if u.CredentialsExpireAt != nil {
		exp = sql.NullTime{Time: u.CredentialsExpireAt.UTC(), Valid: true}
	}
	return []any{
		nullString(u.FullName), nullString(u.ExternalID),
		ak, sk, st, exp,
		u.Active, u.CreatedAt, u.UpdatedAt,
	}
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u                  domain.User
		fullName, external sql.NullString
		ak, sk, st         sql.NullString
		exp                sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &fullName, &external,
		&ak, &sk, &st, &exp, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.FullName = fullName.String
	u.ExternalID = external.String
	if ak.Valid || sk.Valid || st.Valid {
		u.Credentials = &domain.DelegatedCredentials{
			AccessKeyID:     ak.String,
			SecretAccessKey: sk.String,
			SessionToken:    st.String,
		}
	}
	if exp.Valid {
		t := exp.Time.UTC()
		u.CredentialsExpireAt = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapWriteErr turns unique violations into ErrConflict. The wrapped message carries only the
// constraint name, never column values.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w (%s)", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

var _ Repository = (*PostgresRepository)(nil)
var _ Repository = (*MemoryRepository)(nil)
