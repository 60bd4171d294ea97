package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract used by Service.
//
// WithTx must give read-your-writes to fn. gormstore runs fn inside a database
// transaction; stores without one may leave earlier writes behind when a later
// step fails, which the writer reports as ErrPartialWrite.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	ListTransactions(ctx context.Context, userKey UserKey) ([]Transaction, error)
	InsertTransaction(ctx context.Context, transaction Transaction) (string, error)
	InsertAllocation(ctx context.Context, allocation Allocation) (string, error)
	ListAllocations(ctx context.Context, transactionID string) ([]Allocation, error)

	ListCreditSources(ctx context.Context, collection Collection, userKey UserKey) ([]CreditSource, error)
	GetCreditSource(ctx context.Context, collection Collection, key string) (CreditSource, error)
	InsertCreditSource(ctx context.Context, source CreditSource) (string, error)
	// UpdateCreditsLeft applies the change only while the stored value still
	// equals from; otherwise it returns ErrConcurrentModification.
	UpdateCreditsLeft(ctx context.Context, collection Collection, key string, from, to decimal.Decimal) error

	GetBooking(ctx context.Context, key BookingKey) (Booking, error)
	InsertBooking(ctx context.Context, booking Booking) (string, error)
	UpdateBooking(ctx context.Context, booking Booking) error
	DeleteBooking(ctx context.Context, key BookingKey) error
	ArchiveBooking(ctx context.Context, booking Booking, cancellation Cancellation) error

	GetSlot(ctx context.Context, key SlotKey) (BookedSlot, error)
	InsertSlot(ctx context.Context, slot BookedSlot) (string, error)
	DeleteSlot(ctx context.Context, key SlotKey) error
	ArchiveSlot(ctx context.Context, slot BookedSlot, cancellation Cancellation) error

	GetInvoice(ctx context.Context, key string) (Invoice, error)
	UpdateInvoice(ctx context.Context, invoice Invoice) error
}

// ReservationSlot is the payload pushed to the external reservation system.
type ReservationSlot struct {
	SlotKey         string          `json:"slotKey"`
	BookingKey      string          `json:"bookingKey"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	SubmittedDate   time.Time       `json:"submittedDate"`
	Location        string          `json:"location"`
	Pitch           string          `json:"pitch"`
	Date            string          `json:"date"`
	Start           string          `json:"start"`
	End             string          `json:"end"`
	Rate            decimal.Decimal `json:"rate"`
	Duration        float64         `json:"duration"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	AutomatePitchID string          `json:"automatePitchId,omitempty"`
}

// ReservationSystem mirrors booked slots into the external reservation system.
// Calls are best effort: failures are logged and never block the caller.
type ReservationSystem interface {
	CreateSlot(ctx context.Context, slot ReservationSlot) error
	DeleteSlot(ctx context.Context, slotKey string) error
}

// WithReservationSystem wires the external reservation system client.
func WithReservationSystem(reservations ReservationSystem) ServiceOption {
	return func(service *Service) {
		service.reservations = reservations
	}
}

// reservationSlotFrom maps a booked slot to the reservation payload. The date
// is sent as midnight in the facility time zone, RFC 3339 formatted.
func reservationSlotFrom(slot BookedSlot, location *time.Location) ReservationSlot {
	date := slot.Date
	if midnight, err := time.ParseInLocation(slotDateLayout, strings.TrimSpace(slot.Date), location); err == nil {
		date = midnight.Format(time.RFC3339)
	}
	return ReservationSlot{
		SlotKey:         slot.Key,
		BookingKey:      slot.BookingKey,
		Name:            slot.Name,
		Email:           slot.Email,
		SubmittedDate:   slot.SubmittedDate,
		Location:        slot.Location,
		Pitch:           slot.Pitch,
		Date:            date,
		Start:           slot.Start,
		End:             slot.End,
		Rate:            slot.Rate,
		Duration:        slot.Duration,
		Type:            slot.Type,
		Status:          PaymentStatusPaid,
		AutomatePitchID: slot.AutomatePitchID,
	}
}

type noopReservationSystem struct{}

func (noopReservationSystem) CreateSlot(context.Context, ReservationSlot) error { return nil }

func (noopReservationSystem) DeleteSlot(context.Context, string) error { return nil }
