package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

const bookingColumns = `id, name, email, phone, booking_date, time_slot, message, status,
	internal_notes, created_at, updated_at`

// CreateBooking stores a new booking. Two live bookings can never share a slot.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (id, name, email, phone, booking_date, time_slot, message, status, internal_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		b.ID, b.Name, b.Email, b.Phone, b.Date, b.TimeSlot, b.Message, b.Status, b.InternalNotes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err, constraintBookingSlot) {
		return ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookings returns bookings ordered by date and slot
func (s *Store) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var bookings []models.Booking
	var err error
	if filter.Status != "" {
		err = s.db.SelectContext(ctx, &bookings,
			"SELECT "+bookingColumns+" FROM bookings WHERE status = $1 ORDER BY booking_date, time_slot LIMIT $2 OFFSET $3",
			filter.Status, limit, filter.Offset)
	} else {
		err = s.db.SelectContext(ctx, &bookings,
			"SELECT "+bookingColumns+" FROM bookings ORDER BY booking_date, time_slot LIMIT $1 OFFSET $2",
			limit, filter.Offset)
	}
	return bookings, err
}

func (t *sqlTx) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := t.tx.GetContext(ctx, &b, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBookingStatus moves a booking to status. Reviving a cancelled booking
// can collide with a newer booking for the same slot.
func (t *sqlTx) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus, notes *string) error {
	var err error
	if notes != nil {
		_, err = t.tx.ExecContext(ctx,
			"UPDATE bookings SET status = $1, internal_notes = $2, updated_at = NOW() WHERE id = $3",
			status, *notes, id)
	} else {
		_, err = t.tx.ExecContext(ctx,
			"UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2",
			status, id)
	}
	if isUniqueViolation(err, constraintBookingSlot) {
		return ErrSlotTaken
	}
	return err
}
