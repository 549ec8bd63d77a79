package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// argList numbers positional parameters for one statement.
type argList struct {
	values []any
}

func (a *argList) add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

// containerAccess describes the tables that grant access to a container
// kind.
type containerAccess struct {
	table      string
	shareTable string
	shareKey   string
}

var (
	calendarAccess    = containerAccess{table: "calendars", shareTable: "calendar_shares", shareKey: "calendar_id"}
	addressBookAccess = containerAccess{table: "address_books", shareTable: "address_book_shares", shareKey: "address_book_id"}
)

// readable matches container ids the user owns or has any share on.
func (c containerAccess) readable(user string) string {
	return fmt.Sprintf(`(SELECT c.id FROM %[1]s c WHERE c.user_id = %[4]s
        OR EXISTS (SELECT 1 FROM %[2]s s WHERE s.%[3]s = c.id AND s.user_id = %[4]s))`,
		c.table, c.shareTable, c.shareKey, user)
}

// writable matches container ids the user owns or holds an editor share on.
func (c containerAccess) writable(user string) string {
	return fmt.Sprintf(`(SELECT c.id FROM %[1]s c WHERE c.user_id = %[4]s
        OR EXISTS (SELECT 1 FROM %[2]s s WHERE s.%[3]s = c.id AND s.user_id = %[4]s AND s.editor))`,
		c.table, c.shareTable, c.shareKey, user)
}

// objectFilter renders the WHERE clause shared by every statement of one
// batched load. alias names the parent table; containerColumn its
// container reference.
func objectFilter(f Filter, userID int64, access containerAccess, alias, containerColumn string) (string, []any) {
	var args argList
	where := fmt.Sprintf("%s.%s = %s AND %s.%s IN %s",
		alias, containerColumn, args.add(f.ContainerID),
		alias, containerColumn, access.readable(args.add(userID)))
	if len(f.UIDs) > 0 {
		where += fmt.Sprintf(" AND %s.uid = ANY(%s)", alias, args.add(f.UIDs))
	}
	if len(f.FileNames) > 0 {
		where += fmt.Sprintf(" AND %s.file_name = ANY(%s)", alias, args.add(f.FileNames))
	}
	return where, args.values
}

// EnsureDefaultCollections creates the default calendar and address book of
// a user when they are missing.
func (s *Store) EnsureDefaultCollections(ctx context.Context, userID int64) error {
	if err := s.ensureDefaultCalendar(ctx, userID); err != nil {
		return err
	}
	return s.ensureDefaultAddressBook(ctx, userID)
}

func (s *Store) ensureDefaultCalendar(ctx context.Context, userID int64) error {
	return s.ensureDefault(ctx, userID,
		`SELECT EXISTS (SELECT 1 FROM calendars WHERE user_id=$1)`,
		`INSERT INTO calendars (user_id, name) VALUES ($1, 'Calendar')`)
}

func (s *Store) ensureDefaultAddressBook(ctx context.Context, userID int64) error {
	return s.ensureDefault(ctx, userID,
		`SELECT EXISTS (SELECT 1 FROM address_books WHERE user_id=$1)`,
		`INSERT INTO address_books (user_id, name) VALUES ($1, 'Contacts')`)
}

func (s *Store) ensureDefault(ctx context.Context, userID int64, existsQuery, insert string) error {
	defer observeDB(ctx, "db.ensure_default")()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin default collection: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serializes concurrent first logins of the same user
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, existsQuery, userID).Scan(&exists); err != nil {
		return fmt.Errorf("check default collection: %w", err)
	}
	if !exists {
		if _, err := tx.Exec(ctx, insert, userID); err != nil {
			return fmt.Errorf("create default collection: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// checkWritable reports ErrNotFoundOrForbidden unless the user may write
// into the container.
func checkWritable(ctx context.Context, tx pgx.Tx, access containerAccess, containerID, userID int64) error {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+access.table+` w WHERE w.id=$1 AND w.id IN `+
		access.writable("$2")+`)`, containerID, userID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("check %s access: %w", access.table, err)
	}
	if !ok {
		return ErrNotFoundOrForbidden
	}
	return nil
}
