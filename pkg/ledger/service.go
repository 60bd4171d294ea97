package ledger

import (
	"context"
	"fmt"
	"time"
)

// Service contains the credit ledger and settlement logic over a Store.
type Service struct {
	store         Store
	nowFn         func() time.Time
	location      *time.Location
	logger        OperationLogger
	reservations  ReservationSystem
	policy        CancellationPolicy
	leadTimeHours int
	fanOutLimit   int
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		now = defaultClock
	}
	service := &Service{
		store:         store,
		nowFn:         now,
		location:      time.UTC,
		reservations:  noopReservationSystem{},
		policy:        PolicyImmediate,
		leadTimeHours: DefaultLeadTimeHours,
		fanOutLimit:   DefaultFanOutLimit,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.location == nil {
		return nil, fmt.Errorf("%w: location is nil", ErrInvalidServiceConfig)
	}
	if service.reservations == nil {
		return nil, fmt.Errorf("%w: reservation system is nil", ErrInvalidServiceConfig)
	}
	if service.leadTimeHours < 0 {
		return nil, fmt.Errorf("%w: lead time must not be negative", ErrInvalidServiceConfig)
	}
	if service.fanOutLimit <= 0 {
		return nil, fmt.Errorf("%w: fan-out limit must be positive", ErrInvalidServiceConfig)
	}
	policy, err := ParseCancellationPolicy(string(service.policy))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceConfig, err)
	}
	service.policy = policy
	return service, nil
}

// WithLocation sets the time zone used for expiry days and slot start times.
func WithLocation(location *time.Location) ServiceOption {
	return func(service *Service) {
		service.location = location
	}
}

// WithLeadTimeHours overrides the customer cancellation notice window.
func WithLeadTimeHours(hours int) ServiceOption {
	return func(service *Service) {
		service.leadTimeHours = hours
	}
}

// WithCancellationPolicy selects immediate or approval-based slot cancellation.
func WithCancellationPolicy(policy CancellationPolicy) ServiceOption {
	return func(service *Service) {
		service.policy = policy
	}
}

// WithFanOutLimit bounds concurrent per-slot external calls.
func WithFanOutLimit(limit int) ServiceOption {
	return func(service *Service) {
		service.fanOutLimit = limit
	}
}

// Policy returns the configured slot cancellation policy.
func (service *Service) Policy() CancellationPolicy {
	return service.policy
}

// LeadTimeHours returns the configured cancellation notice window.
func (service *Service) LeadTimeHours() int {
	return service.leadTimeHours
}

// ListTransactions returns the user's ledger history, newest first.
func (service *Service) ListTransactions(ctx context.Context, userKey UserKey) ([]Transaction, error) {
	transactions, err := service.store.ListTransactions(ctx, userKey)
	if err != nil {
		return nil, err
	}
	sortTransactionsNewestFirst(transactions)
	return transactions, nil
}

// ListAllocations returns the allocation records of one transaction.
func (service *Service) ListAllocations(ctx context.Context, transactionID string) ([]Allocation, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: empty transaction id", ErrTransactionNotFound)
	}
	return service.store.ListAllocations(ctx, transactionID)
}

// GetCreditSource fetches one credit source by collection and key.
func (service *Service) GetCreditSource(ctx context.Context, collection Collection, key string) (CreditSource, error) {
	source, err := service.store.GetCreditSource(ctx, collection, key)
	if err != nil {
		return CreditSource{}, err
	}
	return classifySource(source, collection), nil
}

// GetBooking fetches one live booking.
func (service *Service) GetBooking(ctx context.Context, bookingKey string) (Booking, error) {
	return getBooking(ctx, service.store, bookingKey)
}

func (service *Service) now() time.Time {
	return service.nowFn().In(service.location)
}
