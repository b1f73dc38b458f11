package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"findmy/internal/adapters/observability"
	"findmy/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- read paths ----

func (r *Repo) ReviewsByUser(ctx context.Context, userID int64) ([]domain.Review, error) {
	return r.queryReviews(ctx, "reviews_by_user", reviewsByUserSQL, userID)
}

func (r *Repo) ReviewsByPOI(ctx context.Context, poiID int64) ([]domain.Review, error) {
	return r.queryReviews(ctx, "reviews_by_poi", reviewsByPOISQL, poiID)
}

func (r *Repo) UserExists(ctx context.Context, id int64) (ok bool, err error) {
	defer observe("user_exists", time.Now(), &err)

	var one int
	if err := r.db.QueryRowContext(ctx, userExistsSQL, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, wrap("user_exists", err)
	}
	return true, nil
}

func (r *Repo) ListActiveUserIDs(ctx context.Context) (ids []int64, err error) {
	defer observe("list_active_users", time.Now(), &err)

	rows, err := r.db.QueryContext(ctx, listActiveUserIDsSQL)
	if err != nil {
		return nil, wrap("list_active_users", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list_active_users", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list_active_users", err)
	}
	return ids, nil
}

// ReliabilityScoreOf returns the stored snapshot, not a fresh computation.
func (r *Repo) ReliabilityScoreOf(ctx context.Context, id int64) (score int, err error) {
	defer observe("get_reliability", time.Now(), &err)

	if err := r.db.QueryRowContext(ctx, getReliabilitySQL, id).Scan(&score); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}
		return 0, wrap("get_reliability", err)
	}
	return score, nil
}

// ---- write paths ----

func (r *Repo) UpdateReliabilityScore(ctx context.Context, id int64, score int) (err error) {
	defer observe("update_reliability", time.Now(), &err)

	res, err := r.db.ExecContext(ctx, updateReliabilitySQL, score, id)
	if err != nil {
		return wrap("update_reliability", err)
	}
	// 0 rows is also reported when the value is unchanged, so only a deleted user is an error.
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := r.UserExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}
	}
	return nil
}

func (r *Repo) InsertUser(ctx context.Context, u domain.User) (err error) {
	defer observe("insert_user", time.Now(), &err)
	_, err = r.db.ExecContext(ctx, insertUserSQL, u.ID, u.Name, u.Email, u.IsActive, u.IsDeleted)
	return wrap("insert_user", err)
}

func (r *Repo) UpsertPOI(ctx context.Context, p domain.POI) (err error) {
	defer observe("upsert_poi", time.Now(), &err)
	_, err = r.db.ExecContext(ctx, insertPOISQL, p.ID, p.Name)
	return wrap("upsert_poi", err)
}

func (r *Repo) InsertReviews(ctx context.Context, rs []domain.Review) (err error) {
	if len(rs) == 0 {
		return nil
	}
	defer observe("insert_reviews", time.Now(), &err)

	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*6)
	for _, rv := range rs {
		// created_at is COALESCE(?, CURRENT_TIMESTAMP) to allow unknown timestamps.
		values = append(values, "(?,?,?,?,?,COALESCE(?, CURRENT_TIMESTAMP))")
		args = append(args,
			rv.UserID,
			rv.POIID,
			rv.Rating,
			valStr(rv.Text),
			rv.IsDeleted,
			valTime(rv.CreatedAt),
		)
	}
	_, err = r.db.ExecContext(ctx, insertReviewPrefix+strings.Join(values, ","), args...)
	return wrap("insert_reviews", err)
}

func (r *Repo) SetReviewDeleted(ctx context.Context, id int64, deleted bool) (err error) {
	defer observe("set_review_deleted", time.Now(), &err)
	_, err = r.db.ExecContext(ctx, setReviewDeletedSQL, deleted, id)
	return wrap("set_review_deleted", err)
}

// ---- internals ----

func (r *Repo) queryReviews(ctx context.Context, op, query string, arg int64) (out []domain.Review, err error) {
	defer observe(op, time.Now(), &err)

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rv        domain.Review
			text      sql.NullString
			createdAt sql.NullTime
		)
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.POIID, &rv.Rating, &text, &rv.IsDeleted, &createdAt); err != nil {
			return nil, wrap(op, err)
		}
		if text.Valid {
			s := text.String
			rv.Text = &s
		}
		if createdAt.Valid {
			rv.CreatedAt = createdAt.Time
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

func observe(op string, start time.Time, err *error) {
	observability.ObserveStore("mysql", op, *err, time.Since(start))
}

// wrap adds the operation name and tags connection-level failures with
// domain.ErrStoreUnavailable. The driver error stays in the chain.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if unavailable(err) {
		return fmt.Errorf("mysql %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("mysql %s: %w", op, err)
}

// MySQL server errors meaning the server cannot take work right now.
var unavailableCodes = map[uint16]bool{
	1040: true, // ER_CON_COUNT_ERROR
	1053: true, // ER_SERVER_SHUTDOWN
}

func unavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldrv.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) {
		return unavailableCodes[me.Number]
	}
	var ne net.Error
	return errors.As(err, &ne)
}
