package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// userRepo implements UserRepository.
type userRepo struct {
	pool pgxPool
}

func (r *userRepo) Create(ctx context.Context, username string) (*User, error) {
	defer observeDB(ctx, "users.create")()
	u := User{Username: username}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username) VALUES ($1) RETURNING id, created_at`, username).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.get_by_id")()
	return r.get(ctx, `SELECT id, username, created_at FROM users WHERE id=$1`, id)
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	defer observeDB(ctx, "users.get_by_username")()
	return r.get(ctx, `SELECT id, username, created_at FROM users WHERE username=$1`, username)
}

func (r *userRepo) get(ctx context.Context, q string, arg any) (*User, error) {
	var u User
	if err := r.pool.QueryRow(ctx, q, arg).Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// appPasswordRepo implements AppPasswordRepository.
type appPasswordRepo struct {
	pool pgxPool
}

func (r *appPasswordRepo) Create(ctx context.Context, token AppPassword) (*AppPassword, error) {
	defer observeDB(ctx, "app_passwords.create")()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO app_passwords (user_id, label, token_hash, expires_at) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		token.UserID, token.Label, token.TokenHash, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create app password: %w", err)
	}
	return &token, nil
}

func (r *appPasswordRepo) FindValidByUser(ctx context.Context, userID int64) ([]AppPassword, error) {
	defer observeDB(ctx, "app_passwords.find_valid")()
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, label, token_hash, created_at, expires_at, revoked_at, last_used_at
FROM app_passwords
WHERE user_id=$1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())
ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list app passwords: %w", err)
	}
	defer rows.Close()

	var out []AppPassword
	for rows.Next() {
		var p AppPassword
		if err := rows.Scan(&p.ID, &p.UserID, &p.Label, &p.TokenHash, &p.CreatedAt, &p.ExpiresAt, &p.RevokedAt, &p.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan app password: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *appPasswordRepo) Revoke(ctx context.Context, id int64) error {
	defer observeDB(ctx, "app_passwords.revoke")()
	tag, err := r.pool.Exec(ctx, `UPDATE app_passwords SET revoked_at = NOW() WHERE id=$1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke app password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appPasswordRepo) TouchLastUsed(ctx context.Context, id int64) error {
	defer observeDB(ctx, "app_passwords.touch")()
	if _, err := r.pool.Exec(ctx, `UPDATE app_passwords SET last_used_at = NOW() WHERE id=$1`, id); err != nil {
		return fmt.Errorf("touch app password: %w", err)
	}
	return nil
}

// containerRepo implements ContainerRepository.
type containerRepo struct {
	pool pgxPool
}

func (r *containerRepo) CreateCalendar(ctx context.Context, userID int64, name string) (*Calendar, error) {
	defer observeDB(ctx, "calendars.create")()
	c := Calendar{UserID: userID, Name: name}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO calendars (user_id, name) VALUES ($1, $2) RETURNING id, created_at`, userID, name).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create calendar: %w", err)
	}
	return &c, nil
}

func (r *containerRepo) CreateAddressBook(ctx context.Context, userID int64, name string) (*AddressBook, error) {
	defer observeDB(ctx, "address_books.create")()
	b := AddressBook{UserID: userID, Name: name}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO address_books (user_id, name) VALUES ($1, $2) RETURNING id, created_at`, userID, name).
		Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create address book: %w", err)
	}
	return &b, nil
}

func (r *containerRepo) ShareCalendar(ctx context.Context, calendarID, userID int64, editor bool) error {
	defer observeDB(ctx, "calendar_shares.upsert")()
	_, err := r.pool.Exec(ctx, `INSERT INTO calendar_shares (calendar_id, user_id, editor) VALUES ($1, $2, $3)
ON CONFLICT (calendar_id, user_id) DO UPDATE SET editor = EXCLUDED.editor`, calendarID, userID, editor)
	if err != nil {
		return fmt.Errorf("share calendar %d: %w", calendarID, err)
	}
	return nil
}

func (r *containerRepo) ShareAddressBook(ctx context.Context, addressBookID, userID int64, editor bool) error {
	defer observeDB(ctx, "address_book_shares.upsert")()
	_, err := r.pool.Exec(ctx, `INSERT INTO address_book_shares (address_book_id, user_id, editor) VALUES ($1, $2, $3)
ON CONFLICT (address_book_id, user_id) DO UPDATE SET editor = EXCLUDED.editor`, addressBookID, userID, editor)
	if err != nil {
		return fmt.Errorf("share address book %d: %w", addressBookID, err)
	}
	return nil
}
