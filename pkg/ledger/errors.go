package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrSportMismatch          = errors.New("sport mismatch")
	ErrNotFound               = errors.New("not found")
	ErrLeadTimeViolation      = errors.New("lead time violation")
	ErrExternalSync           = errors.New("external sync failure")
	ErrPartialWrite           = errors.New("partial write")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrSlotNotInBooking       = errors.New("slot does not belong to booking")
	ErrSlotNotPending         = errors.New("slot cancellation not pending")
	ErrNotCancellable         = errors.New("booking payment method not cancellable")
	ErrInvalidUserKey         = errors.New("invalid user key")
	ErrInvalidBookingKey      = errors.New("invalid booking key")
	ErrInvalidSlotKey         = errors.New("invalid slot key")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidCollection      = errors.New("invalid collection")
	ErrInvalidAllocationPlan  = errors.New("invalid allocation plan")
	ErrInvalidSlotTime        = errors.New("invalid slot time")
	ErrInvalidPromoCode       = errors.New("invalid promo code")
	ErrInvalidPaymentStatus   = errors.New("invalid payment status")
	ErrInvalidPolicy          = errors.New("invalid cancellation policy")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// Not-found errors for each document kind; all match ErrNotFound.
var (
	ErrBookingNotFound     = fmt.Errorf("booking %w", ErrNotFound)
	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrSourceNotFound      = fmt.Errorf("credit source %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrInvoiceNotFound     = fmt.Errorf("invoice %w", ErrNotFound)
)

// InsufficientCreditsError reports how much was requested versus available.
type InsufficientCreditsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

// Error returns the formatted error message.
func (insufficient *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%v: need %s, only %s available", ErrInsufficientCredits, insufficient.Requested.String(), insufficient.Available.String())
}

// Unwrap returns ErrInsufficientCredits.
func (insufficient *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// LeadTimeError reports a cancellation inside the notice window.
type LeadTimeError struct {
	HoursUntil    int
	RequiredHours int
}

// Error returns the formatted error message.
func (leadTime *LeadTimeError) Error() string {
	return fmt.Sprintf("%v: cannot cancel within %d hours of booking time, slot is in %d hours", ErrLeadTimeViolation, leadTime.RequiredHours, leadTime.HoursUntil)
}

// Unwrap returns ErrLeadTimeViolation.
func (leadTime *LeadTimeError) Unwrap() error {
	return ErrLeadTimeViolation
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

func partialWrite(step string, completedWrites int, err error) error {
	if err == nil {
		return nil
	}
	if completedWrites == 0 {
		return err
	}
	return fmt.Errorf("%w: %s failed after %d writes: %w", ErrPartialWrite, step, completedWrites, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
