package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"
    "time"
)

// SeatHoldRecord mirrors the seat_holds table.  A row is one tentative
// hold on a seat; the primary key (bus_id, seat_number) allows at most one
// holder per seat.  HolderID is the browsing session, UserID the identity
// behind it.
type SeatHoldRecord struct {
    BusID      string    // seat_holds.bus_id
    SeatNumber int       // seat_holds.seat_number
    HolderID   string    // seat_holds.holder_id
    UserID     string    // seat_holds.user_id
    SelectedAt time.Time // seat_holds.selected_at (DATETIME(3), UTC)
}

// SeatHoldRepo provides data access to the seat_holds table.  It backs the
// hold table when holds must survive a restart or be shared by server
// processes without Redis.  All timestamps are UTC.
type SeatHoldRepo struct {
    db *sql.DB
}

// NewSeatHoldRepo returns a new SeatHoldRepo bound to the provided database.
func NewSeatHoldRepo(db *sql.DB) *SeatHoldRepo { return &SeatHoldRepo{db: db} }

// Acquire stores rec unless the seat has a hold selected after cutoff.  It
// returns the row stored after the call and whether rec was written.  A
// live hold of rec.HolderID is returned untouched, so re-selection never
// renews a hold; an expired one is replaced like any other.
func (r *SeatHoldRepo) Acquire(ctx context.Context, rec SeatHoldRecord, cutoff time.Time) (SeatHoldRecord, bool, error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return SeatHoldRecord{}, false, err
    }
    defer tx.Rollback()

    cur, err := r.getForUpdateTx(ctx, tx, rec.BusID, rec.SeatNumber)
    switch {
    case errors.Is(err, sql.ErrNoRows):
        _, err = tx.ExecContext(ctx,
            `INSERT INTO seat_holds (bus_id, seat_number, holder_id, user_id, selected_at) VALUES (?, ?, ?, ?, ?)`,
            rec.BusID, rec.SeatNumber, rec.HolderID, rec.UserID, rec.SelectedAt.UTC())
        if isDuplicateKey(err) {
            // lost the insert race; report the winner
            _ = tx.Rollback()
            cur, err = r.get(ctx, rec.BusID, rec.SeatNumber)
            return cur, false, err
        }
    case err != nil:
        return SeatHoldRecord{}, false, err
    case cur.SelectedAt.After(cutoff):
        return cur, false, nil
    default:
        _, err = tx.ExecContext(ctx,
            `UPDATE seat_holds SET holder_id = ?, user_id = ?, selected_at = ? WHERE bus_id = ? AND seat_number = ?`,
            rec.HolderID, rec.UserID, rec.SelectedAt.UTC(), rec.BusID, rec.SeatNumber)
    }
    if err != nil {
        return SeatHoldRecord{}, false, err
    }
    if err := tx.Commit(); err != nil {
        return SeatHoldRecord{}, false, err
    }
    return rec, true, nil
}

// Release deletes the hold on a seat if holderID owns it.
func (r *SeatHoldRepo) Release(ctx context.Context, busID string, seat int, holderID string) (bool, error) {
    res, err := r.db.ExecContext(ctx,
        `DELETE FROM seat_holds WHERE bus_id = ? AND seat_number = ? AND holder_id = ?`,
        busID, seat, holderID)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

// DeleteByHolder removes every hold of holderID on a bus and returns the
// released seat numbers.
func (r *SeatHoldRepo) DeleteByHolder(ctx context.Context, busID, holderID string) ([]int, error) {
    return r.deleteWhere(ctx, `bus_id = ? AND holder_id = ?`, busID, holderID)
}

// ExpireHolds removes the holds of a bus selected at or before cutoff and
// returns them.
func (r *SeatHoldRepo) ExpireHolds(ctx context.Context, busID string, cutoff time.Time) ([]SeatHoldRecord, error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, err
    }
    defer tx.Rollback()
    expired, err := r.queryTx(ctx, tx,
        `SELECT bus_id, seat_number, holder_id, user_id, selected_at FROM seat_holds
         WHERE bus_id = ? AND selected_at <= ? ORDER BY seat_number FOR UPDATE`,
        busID, cutoff.UTC())
    if err != nil {
        return nil, err
    }
    if len(expired) == 0 {
        return expired, nil
    }
    if _, err = tx.ExecContext(ctx,
        `DELETE FROM seat_holds WHERE bus_id = ? AND selected_at <= ?`, busID, cutoff.UTC()); err != nil {
        return nil, err
    }
    return expired, tx.Commit()
}

// ListByBus returns the holds of a bus in ascending seat order.
func (r *SeatHoldRepo) ListByBus(ctx context.Context, busID string) ([]SeatHoldRecord, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT bus_id, seat_number, holder_id, user_id, selected_at FROM seat_holds WHERE bus_id = ? ORDER BY seat_number`,
        busID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    return scanHolds(rows)
}

// DeleteSeats removes the holds on seats regardless of owner.
func (r *SeatHoldRepo) DeleteSeats(ctx context.Context, busID string, seats []int) error {
    if len(seats) == 0 {
        return nil
    }
    args := make([]interface{}, 0, len(seats)+1)
    args = append(args, busID)
    for _, n := range seats {
        args = append(args, n)
    }
    _, err := r.db.ExecContext(ctx,
        `DELETE FROM seat_holds WHERE bus_id = ? AND seat_number IN (`+placeholders(len(seats))+`)`, args...)
    return err
}

func (r *SeatHoldRepo) deleteWhere(ctx context.Context, where string, args ...interface{}) ([]int, error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, err
    }
    defer tx.Rollback()
    rows, err := tx.QueryContext(ctx,
        `SELECT seat_number FROM seat_holds WHERE `+where+` ORDER BY seat_number FOR UPDATE`, args...)
    if err != nil {
        return nil, err
    }
    var seats []int
    for rows.Next() {
        var n int
        if scanErr := rows.Scan(&n); scanErr != nil {
            rows.Close()
            return nil, scanErr
        }
        seats = append(seats, n)
    }
    if err = rows.Close(); err != nil {
        return nil, err
    }
    if len(seats) == 0 {
        return nil, nil
    }
    if _, err = tx.ExecContext(ctx, `DELETE FROM seat_holds WHERE `+where, args...); err != nil {
        return nil, err
    }
    return seats, tx.Commit()
}

func (r *SeatHoldRepo) getForUpdateTx(ctx context.Context, tx *sql.Tx, busID string, seat int) (SeatHoldRecord, error) {
    var h SeatHoldRecord
    err := tx.QueryRowContext(ctx,
        `SELECT bus_id, seat_number, holder_id, user_id, selected_at FROM seat_holds
         WHERE bus_id = ? AND seat_number = ? FOR UPDATE`, busID, seat).
        Scan(&h.BusID, &h.SeatNumber, &h.HolderID, &h.UserID, &h.SelectedAt)
    return h, err
}

func (r *SeatHoldRepo) get(ctx context.Context, busID string, seat int) (SeatHoldRecord, error) {
    var h SeatHoldRecord
    err := r.db.QueryRowContext(ctx,
        `SELECT bus_id, seat_number, holder_id, user_id, selected_at FROM seat_holds
         WHERE bus_id = ? AND seat_number = ?`, busID, seat).
        Scan(&h.BusID, &h.SeatNumber, &h.HolderID, &h.UserID, &h.SelectedAt)
    return h, err
}

func (r *SeatHoldRepo) queryTx(ctx context.Context, tx *sql.Tx, q string, args ...interface{}) ([]SeatHoldRecord, error) {
    rows, err := tx.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    return scanHolds(rows)
}

func scanHolds(rows *sql.Rows) ([]SeatHoldRecord, error) {
    holds := []SeatHoldRecord{}
    for rows.Next() {
        var h SeatHoldRecord
        if err := rows.Scan(&h.BusID, &h.SeatNumber, &h.HolderID, &h.UserID, &h.SelectedAt); err != nil {
            return nil, err
        }
        holds = append(holds, h)
    }
    return holds, rows.Err()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
    if n <= 0 {
        return ""
    }
    return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
