package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type BookingRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"required,max=50"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot string `json:"time_slot" validate:"required,max=20"`
	Message  string `json:"message,omitempty" validate:"max=2000"`
	Website  string `json:"website,omitempty"`
}

// BookingService schedules consultations
type BookingService struct {
	store    Store
	notifier Notifier
	slots    []string
	now      func() time.Time
	logger   *zap.Logger
}

func NewBookingService(store Store, notifier Notifier, slots []string) *BookingService {
	return &BookingService{
		store:    store,
		notifier: notifier,
		slots:    slots,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

func (s *BookingService) validSlot(slot string) bool {
	for _, sl := range s.slots {
		if sl == slot {
			return true
		}
	}
	return false
}

// Create stores a pending booking. A slot already held by a live booking is
// rejected with SLOT_TAKEN.
func (s *BookingService) Create(ctx context.Context, req *BookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Create")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return nil, err
	}

	date, err := time.ParseInLocation(dateLayout, req.Date, time.UTC)
	if err != nil {
		return nil, apperr.Validation("invalid request", map[string]string{"date": "must match " + dateLayout})
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date.Before(today) {
		return nil, apperr.Validation("invalid request", map[string]string{"date": "must not be in the past"})
	}
	if !s.validSlot(req.TimeSlot) {
		return nil, apperr.Validation("invalid request", map[string]string{
			"time_slot": "must be one of: " + strings.Join(s.slots, " "),
		})
	}

	booking := &models.Booking{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Date:     date,
		TimeSlot: req.TimeSlot,
		Message:  req.Message,
		Status:   models.BookingStatusPending,
	}

	err = s.store.CreateBooking(ctx, booking)
	if errors.Is(err, store.ErrSlotTaken) {
		return nil, apperr.Conflict(apperr.CodeSlotTaken, "this time slot is already booked")
	}
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to create booking", zap.Error(err))
		return nil, apperr.Infrastructure("create booking", err)
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.String("booking_id", booking.ID),
		zap.String("date", req.Date),
		zap.String("time_slot", req.TimeSlot))

	s.notifier.Enqueue(&models.BookingRequestEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeBookingRequest),
		BookingID: booking.ID,
		Customer:  models.Recipient{Name: booking.Name, Email: booking.Email, Phone: booking.Phone},
		Date:      req.Date,
		TimeSlot:  booking.TimeSlot,
		Message:   booking.Message,
	})
	return booking, nil
}

// TransitionStatus moves a booking along its lifecycle
func (s *BookingService) TransitionStatus(ctx context.Context, bookingID string, newStatus models.BookingStatus, note *string, actor string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.TransitionStatus")
	defer span.End()

	if !newStatus.Valid() {
		return nil, apperr.Validation("invalid status", map[string]string{"status": "unknown booking status"})
	}

	var (
		updated *models.Booking
		event   *models.BookingStatusUpdateEvent
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("booking")
		}
		if err != nil {
			return err
		}

		if b.Status == newStatus {
			if note != nil {
				if err := tx.UpdateBookingStatus(ctx, b.ID, b.Status, note); err != nil {
					return err
				}
				b.InternalNotes = *note
				b.UpdatedAt = time.Now().UTC()
			}
			updated = b
			return nil
		}
		if !b.Status.CanTransition(newStatus) {
			return apperr.InvalidTransition(string(b.Status), string(newStatus))
		}

		if err := tx.UpdateBookingStatus(ctx, b.ID, newStatus, note); err != nil {
			return err
		}
		oldStatus := b.Status
		b.Status = newStatus
		b.UpdatedAt = time.Now().UTC()
		if note != nil {
			b.InternalNotes = *note
		}
		updated = b
		event = &models.BookingStatusUpdateEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeBookingStatusUpdate),
			BookingID: b.ID,
			Customer:  models.Recipient{Name: b.Name, Email: b.Email, Phone: b.Phone},
			Date:      b.Date.Format(dateLayout),
			TimeSlot:  b.TimeSlot,
			OldStatus: oldStatus,
			NewStatus: newStatus,
		}
		return nil
	})
	if errors.Is(err, store.ErrSlotTaken) {
		return nil, apperr.Conflict(apperr.CodeSlotTaken, "this time slot is already booked")
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		util.SpanError(span, err)
		s.logger.Error("Failed to update booking", zap.String("booking_id", bookingID), zap.Error(err))
		return nil, apperr.Infrastructure("update booking", err)
	}

	if event != nil {
		s.logger.Info("Booking status changed",
			zap.String("booking_id", bookingID),
			zap.String("old_status", string(event.OldStatus)),
			zap.String("new_status", string(event.NewStatus)),
			zap.String("actor", actor))
		s.notifier.Enqueue(event)
	}
	return updated, nil
}

func (s *BookingService) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("invalid filter", map[string]string{"status": "unknown booking status"})
	}
	bookings, err := s.store.ListBookings(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list bookings", zap.Error(err))
		return nil, apperr.Infrastructure("list bookings", err)
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}
