package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/go-sql-driver/mysql"

    "github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BookingRepo persists committed bookings.  A booking row in bookings
// groups the seats stored in booking_seats; the unique key on
// booking_seats(bus_id, seat_number) makes a booked seat permanent and
// rejects any second booking of it.  All timestamps are stored in UTC.
type BookingRepo struct {
    db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// BookingSeatRecord mirrors the booking_seats table.
type BookingSeatRecord struct {
    BookingID  uint64
    BusID      string
    SeatNumber int
}

// BookedSeats returns the booked seat numbers of a bus in ascending order.
func (r *BookingRepo) BookedSeats(ctx context.Context, busID string) ([]int, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT seat_number FROM booking_seats WHERE bus_id = ? ORDER BY seat_number`, busID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    seats := []int{}
    for rows.Next() {
        var n int
        if err := rows.Scan(&n); err != nil {
            return nil, err
        }
        seats = append(seats, n)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return seats, nil
}

// Commit stores b and its seats in one transaction and decrements the
// bus's available seats.  On success b.ID and b.CreatedAt are populated.
// ErrSeatsAlreadyBooked is returned when any seat is already booked, in
// which case nothing is written.
func (r *BookingRepo) Commit(ctx context.Context, b *model.Booking) (err error) {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    defer func() {
        if err != nil {
            _ = tx.Rollback()
        }
    }()

    if err = r.CreateTx(ctx, tx, b); err != nil {
        return err
    }
    seats := make([]BookingSeatRecord, 0, len(b.Seats))
    for _, n := range b.Seats {
        seats = append(seats, BookingSeatRecord{BookingID: b.ID, BusID: b.BusID, SeatNumber: n})
    }
    if err = r.CreateSeatsBulkTx(ctx, tx, seats); err != nil {
        if isDuplicateKey(err) {
            err = ErrSeatsAlreadyBooked
        }
        return err
    }
    if _, err = tx.ExecContext(ctx,
        `UPDATE buses SET available_seats = GREATEST(CAST(available_seats AS SIGNED) - ?, 0) WHERE id = ?`,
        len(b.Seats), b.BusID); err != nil {
        return err
    }
    return tx.Commit()
}

// CreateTx inserts the bookings row within an existing transaction and
// populates the generated ID and created_at.  The caller must commit or
// roll back the transaction.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
    const q = `INSERT INTO bookings (reference, bus_id, user_id, holder_id, total_price) VALUES (?, ?, ?, ?, ?)`
    result, err := tx.ExecContext(ctx, q, b.Reference, b.BusID, b.UserID, b.HolderID, b.TotalPrice)
    if err != nil {
        return err
    }
    id, err := result.LastInsertId()
    if err != nil {
        return err
    }
    b.ID = uint64(id)
    return tx.QueryRowContext(ctx, `SELECT created_at FROM bookings WHERE id = ?`, b.ID).Scan(&b.CreatedAt)
}

// CreateSeatsBulkTx inserts booking_seats rows in a single statement.
// Passing an empty slice has no effect and returns nil.
func (r *BookingRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, seats []BookingSeatRecord) error {
    if len(seats) == 0 {
        return nil
    }
    query := `INSERT INTO booking_seats (booking_id, bus_id, seat_number) VALUES `
    args := make([]interface{}, 0, len(seats)*3)
    for i, s := range seats {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?)"
        args = append(args, s.BookingID, s.BusID, s.SeatNumber)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// isDuplicateKey reports whether err is MySQL error 1062 (duplicate entry).
func isDuplicateKey(err error) bool {
    var me *mysql.MySQLError
    return errors.As(err, &me) && me.Number == 1062
}

// BookingDetail is a booking joined with its bus, as listed to customers.
type BookingDetail struct {
    ID         uint64    `json:"id"`
    Reference  string    `json:"reference"`
    BusID      string    `json:"busId"`
    Operator   string    `json:"operator"`
    BusNumber  string    `json:"busNumber"`
    Seats      []int     `json:"seats"`
    TotalPrice int64     `json:"totalPrice"`
    CreatedAt  time.Time `json:"createdAt"`
}

// ListByUser returns the bookings of userID, newest first, with their
// seats populated.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]BookingDetail, error) {
    const q = `SELECT b.id, b.reference, b.bus_id, u.operator, u.bus_number, b.total_price, b.created_at
               FROM bookings b
               JOIN buses u ON u.id = b.bus_id
               WHERE b.user_id = ?
               ORDER BY b.created_at DESC, b.id DESC`
    rows, err := r.db.QueryContext(ctx, q, userID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    list := []BookingDetail{}
    index := map[uint64]int{}
    for rows.Next() {
        var d BookingDetail
        if err := rows.Scan(&d.ID, &d.Reference, &d.BusID, &d.Operator, &d.BusNumber, &d.TotalPrice, &d.CreatedAt); err != nil {
            return nil, err
        }
        d.Seats = []int{}
        index[d.ID] = len(list)
        list = append(list, d)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    if len(list) == 0 {
        return list, nil
    }

    args := make([]interface{}, 0, len(list))
    for _, d := range list {
        args = append(args, d.ID)
    }
    seatRows, err := r.db.QueryContext(ctx,
        `SELECT booking_id, seat_number FROM booking_seats WHERE booking_id IN (`+placeholders(len(args))+`) ORDER BY seat_number`,
        args...)
    if err != nil {
        return nil, err
    }
    defer seatRows.Close()
    for seatRows.Next() {
        var (
            id uint64
            n  int
        )
        if err := seatRows.Scan(&id, &n); err != nil {
            return nil, err
        }
        if i, ok := index[id]; ok {
            list[i].Seats = append(list[i].Seats, n)
        }
    }
    return list, seatRows.Err()
}
