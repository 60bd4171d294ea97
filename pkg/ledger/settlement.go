package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Outcome is the terminal state of a slot cancellation request.
type Outcome string

const (
	OutcomeApplied                  Outcome = "applied"
	OutcomePending                  Outcome = "pending"
	OutcomeRejected                 Outcome = "rejected"
	OutcomeFullCancellationRequired Outcome = "full_cancellation_required"
)

// SlotCancellation is a request to remove one slot from a booking.
type SlotCancellation struct {
	BookingKey string
	SlotKey    string
	Actor      string
	Reason     string
	IsAdmin    bool
}

// SlotCancellationResult reports what a slot cancellation did.
type SlotCancellationResult struct {
	Outcome         Outcome
	BookingKey      string
	SlotKey         string
	RefundAmount    decimal.Decimal
	RefundSourceKey string
	Transaction     *Transaction
	SyncFailures    []error
}

// BookingCancellation is a request to cancel a whole booking.
type BookingCancellation struct {
	BookingKey string
	Actor      string
	Reason     string
	IsAdmin    bool
}

// BookingCancellationResult reports what a full cancellation did.
type BookingCancellationResult struct {
	BookingKey      string
	CancelledSlots  []string
	RefundAmount    decimal.Decimal
	RefundSourceKey string
	Transaction     *Transaction
	SyncFailures    []error
}

// CancelSlot validates and settles, or queues, a single slot cancellation.
// The last remaining slot of a booking is never cancelled here; the result
// asks the caller to run CancelBooking instead.
func (service *Service) CancelSlot(ctx context.Context, request SlotCancellation) (SlotCancellationResult, error) {
	result, err := service.cancelSlot(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation:  operationCancelSlot,
		BookingKey: request.BookingKey,
		SlotKey:    request.SlotKey,
		SourceKey:  result.RefundSourceKey,
		Amount:     result.RefundAmount,
		Actor:      request.Actor,
		Detail:     string(result.Outcome),
		Error:      err,
	})
	return result, err
}

func (service *Service) cancelSlot(ctx context.Context, request SlotCancellation) (SlotCancellationResult, error) {
	booking, slot, err := service.loadBookingSlot(ctx, request.BookingKey, request.SlotKey)
	if err != nil {
		return SlotCancellationResult{}, err
	}
	result := SlotCancellationResult{BookingKey: booking.Key, SlotKey: slot.Key}
	if err := service.requireLeadTime(slot, request.IsAdmin); err != nil {
		return result, err
	}
	if len(booking.Slots) == 1 {
		result.Outcome = OutcomeFullCancellationRequired
		return result, nil
	}
	actor := resolveActor(request.Actor, request.IsAdmin)
	if service.policy == PolicyApproval && !request.IsAdmin {
		if err := service.markPending(ctx, booking.Key, slot.Key, request.Reason); err != nil {
			return result, err
		}
		result.Outcome = OutcomePending
		return result, nil
	}
	return service.settleSlot(ctx, slot, actor, request.Reason)
}

// ApproveSlotCancellation settles a pending slot cancellation.
func (service *Service) ApproveSlotCancellation(ctx context.Context, bookingKey string, slotKey string, actor string) (SlotCancellationResult, error) {
	result, err := service.approveSlot(ctx, bookingKey, slotKey, actor)
	service.logOperation(ctx, OperationLog{
		Operation:  operationApproveSlot,
		BookingKey: bookingKey,
		SlotKey:    slotKey,
		SourceKey:  result.RefundSourceKey,
		Amount:     result.RefundAmount,
		Actor:      actor,
		Detail:     string(result.Outcome),
		Error:      err,
	})
	return result, err
}

func (service *Service) approveSlot(ctx context.Context, bookingKey string, slotKey string, actor string) (SlotCancellationResult, error) {
	booking, slot, err := service.loadBookingSlot(ctx, bookingKey, slotKey)
	if err != nil {
		return SlotCancellationResult{}, err
	}
	result := SlotCancellationResult{BookingKey: booking.Key, SlotKey: slot.Key}
	if !booking.IsPending(slot.Key) {
		return result, fmt.Errorf("%w: %s", ErrSlotNotPending, slot.Key)
	}
	if len(booking.Slots) == 1 {
		result.Outcome = OutcomeFullCancellationRequired
		return result, nil
	}
	return service.settleSlot(ctx, slot, resolveActor(actor, true), booking.PendingReasons[slot.Key])
}

// RejectSlotCancellation drops a pending slot cancellation. The slot stays booked.
func (service *Service) RejectSlotCancellation(ctx context.Context, bookingKey string, slotKey string, actor string, reason string) (SlotCancellationResult, error) {
	result := SlotCancellationResult{BookingKey: bookingKey, SlotKey: slotKey}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := getBooking(ctx, transactionStore, bookingKey)
		if err != nil {
			return err
		}
		if !booking.IsPending(slotKey) {
			return fmt.Errorf("%w: %s", ErrSlotNotPending, slotKey)
		}
		booking.PendingCancelledSlots = removeString(booking.PendingCancelledSlots, slotKey)
		delete(booking.PendingReasons, slotKey)
		return transactionStore.UpdateBooking(ctx, booking)
	})
	if operationError == nil {
		result.Outcome = OutcomeRejected
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationRejectSlot,
		BookingKey: bookingKey,
		SlotKey:    slotKey,
		Actor:      actor,
		Detail:     reason,
		Error:      operationError,
	})
	return result, operationError
}

func (service *Service) loadBookingSlot(ctx context.Context, bookingKey string, slotKey string) (Booking, BookedSlot, error) {
	booking, err := getBooking(ctx, service.store, bookingKey)
	if err != nil {
		return Booking{}, BookedSlot{}, err
	}
	parsedSlotKey, err := NewSlotKey(slotKey)
	if err != nil {
		return Booking{}, BookedSlot{}, err
	}
	if !booking.HasSlot(parsedSlotKey.String()) {
		return Booking{}, BookedSlot{}, fmt.Errorf("%w: %s not in %s", ErrSlotNotInBooking, parsedSlotKey.String(), booking.Key)
	}
	slot, err := service.store.GetSlot(ctx, parsedSlotKey)
	if err != nil {
		return Booking{}, BookedSlot{}, err
	}
	return booking, slot, nil
}

// markPending queues the slot for admin approval and keeps the customer's
// reason until the request is settled or rejected.
func (service *Service) markPending(ctx context.Context, bookingKey string, slotKey string, reason string) error {
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := getBooking(ctx, transactionStore, bookingKey)
		if err != nil {
			return err
		}
		if booking.IsPending(slotKey) {
			return nil
		}
		booking.PendingCancelledSlots = append(booking.PendingCancelledSlots, slotKey)
		if reason != "" {
			if booking.PendingReasons == nil {
				booking.PendingReasons = make(map[string]string)
			}
			booking.PendingReasons[slotKey] = reason
		}
		return transactionStore.UpdateBooking(ctx, booking)
	})
}

// settleSlot runs the partial cancellation writes in one store transaction,
// then removes the slot from the reservation system.
func (service *Service) settleSlot(ctx context.Context, slot BookedSlot, actor string, reason string) (SlotCancellationResult, error) {
	result := SlotCancellationResult{Outcome: OutcomeApplied, BookingKey: slot.BookingKey, SlotKey: slot.Key, RefundAmount: decimal.Zero}
	timestamp := service.now()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := getBooking(ctx, transactionStore, slot.BookingKey)
		if err != nil {
			return err
		}
		if !booking.HasSlot(slot.Key) || len(booking.Slots) < 2 {
			return fmt.Errorf("%w: booking %s changed during cancellation", ErrConcurrentModification, booking.Key)
		}
		customer, err := booking.Customer()
		if err != nil {
			return err
		}
		cancellation := Cancellation{CancelledBy: actor, CancelledDate: timestamp, Reason: reason}
		writes := 0
		if err := transactionStore.ArchiveSlot(ctx, slot, cancellation); err != nil {
			return err
		}
		writes++
		slotKey, _ := NewSlotKey(slot.Key)
		if err := transactionStore.DeleteSlot(ctx, slotKey); err != nil {
			return partialWrite("delete slot", writes, err)
		}
		writes++

		if booking.PaymentStatus == PaymentStatusPaid && slot.Rate.IsPositive() {
			result.RefundAmount = slot.Rate
			refundSource := CreditSource{
				Collection:         CollectionRefunds,
				Pool:               PoolRefund,
				UserKey:            customer.UserKey.String(),
				Email:              customer.Email,
				Name:               customer.Name,
				Contact:            customer.Contact,
				Title:              partialRefundTitle,
				Value:              slot.Rate,
				CreditsLeft:        slot.Rate,
				ExpiryDate:         addMonths(timestamp, partialRefundExpiryMonths),
				SubmittedDate:      timestamp,
				PaymentMethod:      PaymentMethodRefund,
				PaymentStatus:      PaymentStatusPaid,
				SportType:          bookingSport(booking, slot),
				OriginalBookingKey: booking.Key,
				CancelledBy:        actor,
				CancelledDate:      timestamp,
			}
			sourceKey, err := transactionStore.InsertCreditSource(ctx, refundSource)
			if err != nil {
				return partialWrite("create refund source", writes, err)
			}
			writes++
			result.RefundSourceKey = sourceKey
		}

		booking.Slots = removeString(booking.Slots, slot.Key)
		booking.PendingCancelledSlots = removeString(booking.PendingCancelledSlots, slot.Key)
		delete(booking.PendingReasons, slot.Key)
		booking.CancelledSlots = append(booking.CancelledSlots, slot.Key)
		booking.RefundAmount = booking.RefundAmount.Add(result.RefundAmount)
		booking.PartialCancellations = append(booking.PartialCancellations, PartialCancellation{
			SlotKey:         slot.Key,
			SlotRate:        slot.Rate,
			CancelledDate:   timestamp,
			CancelledBy:     actor,
			CreditRefundKey: result.RefundSourceKey,
			Reason:          reason,
		})
		if err := transactionStore.UpdateBooking(ctx, booking); err != nil {
			return partialWrite("update booking", writes, err)
		}
		writes++

		if result.RefundSourceKey == "" {
			return nil
		}
		transaction, err := service.recordPartialRefund(ctx, transactionStore, RefundRecord{
			Customer:        customer,
			BookingKey:      booking.Key,
			SlotKeys:        []string{slot.Key},
			Amount:          result.RefundAmount,
			RefundSourceKey: result.RefundSourceKey,
			Reason:          reason,
			Actor:           actor,
		})
		if err != nil {
			return partialWrite("record partial refund", writes, err)
		}
		result.Transaction = &transaction
		return nil
	})
	if operationError != nil {
		return SlotCancellationResult{BookingKey: slot.BookingKey, SlotKey: slot.Key}, operationError
	}
	result.SyncFailures = service.deleteReservations(ctx, slot.BookingKey, []string{slot.Key})
	return result, nil
}

// CancelBooking archives and removes a booking with all its slots. A paid
// booking is refunded as a new refund source worth subtotal minus discount,
// less whatever partial slot cancellations already refunded, so a booking is
// never refunded twice. Unpaid bookings are removed without a refund.
func (service *Service) CancelBooking(ctx context.Context, request BookingCancellation) (BookingCancellationResult, error) {
	result, err := service.cancelBooking(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation:  operationCancelBooking,
		BookingKey: request.BookingKey,
		SourceKey:  result.RefundSourceKey,
		Amount:     result.RefundAmount,
		Actor:      request.Actor,
		Error:      err,
	})
	return result, err
}

func (service *Service) cancelBooking(ctx context.Context, request BookingCancellation) (BookingCancellationResult, error) {
	booking, err := getBooking(ctx, service.store, request.BookingKey)
	if err != nil {
		return BookingCancellationResult{}, err
	}
	result := BookingCancellationResult{BookingKey: booking.Key}
	if !request.IsAdmin && !containsString(CancellableMethods, booking.PaymentMethod) {
		return result, fmt.Errorf("%w: %q", ErrNotCancellable, booking.PaymentMethod)
	}
	slots, err := fetchSlots(ctx, service.store, service.fanOutLimit, booking.Slots)
	if err != nil {
		return result, err
	}
	for _, slot := range slots {
		if err := service.requireLeadTime(slot, request.IsAdmin); err != nil {
			return result, err
		}
	}
	customer, err := booking.Customer()
	if err != nil {
		return result, err
	}

	actor := resolveActor(request.Actor, request.IsAdmin)
	timestamp := service.now()
	refundAmount := fullRefundAmount(booking)
	cancellation := Cancellation{CancelledBy: actor, CancelledDate: timestamp, Reason: request.Reason}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		writes := 0
		if err := transactionStore.ArchiveBooking(ctx, booking, cancellation); err != nil {
			return err
		}
		writes++
		for _, slot := range slots {
			if err := transactionStore.ArchiveSlot(ctx, slot, cancellation); err != nil {
				return partialWrite("archive slot", writes, err)
			}
			writes++
			slotKey, _ := NewSlotKey(slot.Key)
			if err := transactionStore.DeleteSlot(ctx, slotKey); err != nil {
				return partialWrite("delete slot", writes, err)
			}
			writes++
		}
		bookingKey, _ := NewBookingKey(booking.Key)
		if err := transactionStore.DeleteBooking(ctx, bookingKey); err != nil {
			return partialWrite("delete booking", writes, err)
		}
		writes++

		if !refundAmount.IsPositive() {
			return nil
		}
		refundSource := CreditSource{
			Collection:         CollectionRefunds,
			Pool:               PoolRefund,
			UserKey:            customer.UserKey.String(),
			Email:              customer.Email,
			Name:               customer.Name,
			Contact:            customer.Contact,
			Title:              fmt.Sprintf("Refund - %s", booking.Location),
			Value:              refundAmount,
			CreditsLeft:        refundAmount,
			ExpiryDate:         addMonths(timestamp, fullRefundExpiryMonths),
			SubmittedDate:      timestamp,
			PaymentMethod:      PaymentMethodRefund,
			PaymentStatus:      PaymentStatusPaid,
			SportType:          normalizeSport(booking.SportType),
			OriginalBookingKey: booking.Key,
			InvoiceKey:         booking.InvoiceKey,
			CancelledBy:        actor,
			CancelledDate:      timestamp,
		}
		sourceKey, err := transactionStore.InsertCreditSource(ctx, refundSource)
		if err != nil {
			return partialWrite("create refund source", writes, err)
		}
		writes++
		transaction, err := service.recordRefund(ctx, transactionStore, RefundRecord{
			Customer:        customer,
			BookingKey:      booking.Key,
			SlotKeys:        booking.Slots,
			Amount:          refundAmount,
			RefundSourceKey: sourceKey,
			Reason:          request.Reason,
			Actor:           actor,
		})
		if err != nil {
			return partialWrite("record refund", writes, err)
		}
		writes += 2
		result.RefundSourceKey = sourceKey
		result.Transaction = &transaction
		return service.markInvoiceRefunded(ctx, transactionStore, booking, sourceKey, writes)
	})
	if operationError != nil {
		return BookingCancellationResult{BookingKey: booking.Key}, operationError
	}
	result.RefundAmount = refundAmount
	result.CancelledSlots = slotKeysOf(slots)
	result.SyncFailures = service.deleteReservations(ctx, booking.Key, result.CancelledSlots)
	return result, nil
}

func (service *Service) markInvoiceRefunded(ctx context.Context, store Store, booking Booking, refundSourceKey string, writes int) error {
	if booking.InvoiceKey == "" {
		return nil
	}
	invoice, err := store.GetInvoice(ctx, booking.InvoiceKey)
	if err != nil {
		if isNotFound(err) {
			service.logOperation(ctx, OperationLog{
				Operation:  operationCancelBooking,
				BookingKey: booking.Key,
				Detail:     fmt.Sprintf("invoice %s not found, left unchanged", booking.InvoiceKey),
			})
			return nil
		}
		return partialWrite("load invoice", writes, err)
	}
	invoice.PaymentMethod = PaymentMethodRefund
	invoice.CreditRefundKey = refundSourceKey
	if invoice.OriginalBookingKey == "" {
		invoice.OriginalBookingKey = booking.Key
	}
	if err := store.UpdateInvoice(ctx, invoice); err != nil {
		return partialWrite("update invoice", writes, err)
	}
	return nil
}

// deleteReservations removes the slots from the reservation system. Failures
// are logged and returned as ErrExternalSync values, never as an error.
func (service *Service) deleteReservations(ctx context.Context, bookingKey string, slotKeys []string) []error {
	combined := fanOut(ctx, service.fanOutLimit, slotKeys, func(ctx context.Context, slotKey string) error {
		err := service.reservations.DeleteSlot(ctx, slotKey)
		if err != nil {
			err = fmt.Errorf("%w: delete slot %s: %w", ErrExternalSync, slotKey, err)
		}
		service.logOperation(ctx, OperationLog{
			Operation:  operationReservationDel,
			BookingKey: bookingKey,
			SlotKey:    slotKey,
			Error:      err,
		})
		return err
	})
	return multierr.Errors(combined)
}

func getBooking(ctx context.Context, store Store, rawKey string) (Booking, error) {
	bookingKey, err := NewBookingKey(rawKey)
	if err != nil {
		return Booking{}, err
	}
	booking, err := store.GetBooking(ctx, bookingKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) && !errors.Is(err, ErrBookingNotFound) {
			return Booking{}, fmt.Errorf("%w: %v", ErrBookingNotFound, err)
		}
		return Booking{}, err
	}
	return booking, nil
}

// fullRefundAmount is subtotal minus discount, less what partial
// cancellations of the same booking already refunded. Unpaid bookings get
// nothing back.
func fullRefundAmount(booking Booking) decimal.Decimal {
	if booking.PaymentStatus != PaymentStatusPaid {
		return decimal.Zero
	}
	amount := booking.Subtotal.Sub(booking.Discount).Sub(booking.RefundAmount)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

func bookingSport(booking Booking, slot BookedSlot) string {
	if booking.SportType != "" {
		return normalizeSport(booking.SportType)
	}
	return normalizeSport(slot.SportType)
}

func resolveActor(actor string, isAdmin bool) string {
	if actor != "" {
		return actor
	}
	if isAdmin {
		return actorSystem
	}
	return actorCustomer
}

func slotKeysOf(slots []BookedSlot) []string {
	keys := make([]string, 0, len(slots))
	for _, slot := range slots {
		keys = append(keys, slot.Key)
	}
	return keys
}
