package relay

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

// Store keeps the last accepted status of every table per slot. Put assigns
// the next version for the row. ReleaseIfVersion sets a PENDING row back to
// EMPTY only while it still carries version; false means it moved on.
type Store interface {
	Put(ctx context.Context, s tables.TableStatusData) (tables.TableStatusData, error)
	ReleaseIfVersion(ctx context.Context, date, clock, tableID string, version int64) (tables.TableStatusData, bool, error)
	Get(ctx context.Context, date, clock, tableID string) (tables.TableStatusData, bool, error)
	List(ctx context.Context, date, clock string) ([]tables.TableStatusData, error)
	Pending(ctx context.Context) ([]tables.TableStatusData, error)
}

type Repo struct{ DB *pgxpool.Pool }

const selectCols = `table_id, status, user_email, version, to_char(booking_date, 'YYYY-MM-DD'), booking_time`

// Put upserts the row and bumps its version in one statement so concurrent
// relays never hand out the same version twice.
func (r *Repo) Put(ctx context.Context, s tables.TableStatusData) (tables.TableStatusData, error) {
	day, err := time.Parse(tables.DateLayout, s.BookingDate)
	if err != nil {
		return s, err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return s, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO table_status(booking_date, booking_time, table_id, status, user_email, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (booking_date, booking_time, table_id)
		DO UPDATE SET status = EXCLUDED.status,
		              user_email = EXCLUDED.user_email,
		              version = table_status.version + 1,
		              updated_at = EXCLUDED.updated_at
		RETURNING version`,
		day, s.BookingTime, s.ID, string(s.Status), s.UserEmail, time.Now().UTC(),
	).Scan(&s.Version)
	if err != nil {
		return s, err
	}
	if err := tx.Commit(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (r *Repo) ReleaseIfVersion(ctx context.Context, date, clock, tableID string, version int64) (tables.TableStatusData, bool, error) {
	day, err := time.Parse(tables.DateLayout, date)
	if err != nil {
		return tables.TableStatusData{}, false, err
	}
	s := tables.TableStatusData{ID: tableID, Status: tables.StatusEmpty, BookingDate: date, BookingTime: clock}
	err = r.DB.QueryRow(ctx, `
		UPDATE table_status
		SET status = 'EMPTY', user_email = '', version = version + 1, updated_at = $5
		WHERE booking_date = $1 AND booking_time = $2 AND table_id = $3
		  AND status = 'PENDING' AND version = $4
		RETURNING version`,
		day, clock, tableID, version, time.Now().UTC(),
	).Scan(&s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return tables.TableStatusData{}, false, nil
	}
	if err != nil {
		return tables.TableStatusData{}, false, err
	}
	return s, true, nil
}

func (r *Repo) Get(ctx context.Context, date, clock, tableID string) (tables.TableStatusData, bool, error) {
	day, err := time.Parse(tables.DateLayout, date)
	if err != nil {
		return tables.TableStatusData{}, false, err
	}
	row := r.DB.QueryRow(ctx, `SELECT `+selectCols+` FROM table_status
		WHERE booking_date = $1 AND booking_time = $2 AND table_id = $3`, day, clock, tableID)
	s, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tables.TableStatusData{}, false, nil
	}
	if err != nil {
		return tables.TableStatusData{}, false, err
	}
	return s, true, nil
}

func (r *Repo) List(ctx context.Context, date, clock string) ([]tables.TableStatusData, error) {
	day, err := time.Parse(tables.DateLayout, date)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.Query(ctx, `SELECT `+selectCols+` FROM table_status
		WHERE booking_date = $1 AND booking_time = $2 ORDER BY table_id`, day, clock)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Pending lists every PENDING row; the sweeper checks them against leases.
func (r *Repo) Pending(ctx context.Context) ([]tables.TableStatusData, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+selectCols+` FROM table_status
		WHERE status = 'PENDING' ORDER BY booking_date, booking_time, table_id`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]tables.TableStatusData, error) {
	defer rows.Close()
	var out []tables.TableStatusData
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStatus(row pgx.Row) (tables.TableStatusData, error) {
	var s tables.TableStatusData
	var status string
	if err := row.Scan(&s.ID, &status, &s.UserEmail, &s.Version, &s.BookingDate, &s.BookingTime); err != nil {
		return s, err
	}
	st, err := tables.ParseStatus(status)
	if err != nil {
		return s, err
	}
	s.Status = st
	return s, nil
}
