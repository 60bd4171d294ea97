package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// CheckoutRequest books the selected slots for a customer.
type CheckoutRequest struct {
	Customer      Customer
	Location      string
	Date          string
	SportType     string
	Timeslots     GroupedTimeslots
	Promo         *PromoCode
	PaymentMethod string
	PaymentStatus string
	InvoiceKey    string
}

// CheckoutResult is the booking created by Checkout.
type CheckoutResult struct {
	Booking      Booking
	Slots        []BookedSlot
	Cost         CostBreakdown
	Transactions []Transaction
	SyncFailures []error
}

// SpendRequest pays for an existing booking with credits.
type SpendRequest struct {
	BookingKey string
	Amount     decimal.Decimal
}

// PackagePurchase creates a credit package for a customer.
type PackagePurchase struct {
	Customer      Customer
	Title         string
	Value         decimal.Decimal
	ExpiryMonths  int
	SportType     string
	PaymentMethod string
	PaymentStatus string
	InvoiceKey    string
}

// PackagePurchaseResult is the package created by AddPackage. Transaction is
// nil while the package payment is pending.
type PackagePurchaseResult struct {
	Package     CreditSource
	Transaction *Transaction
}

// Checkout prices the selection, creates the booking and its slots and, for
// credit payments, spends the customer's credits in the same store
// transaction. Paid slots are pushed to the reservation system afterwards.
func (service *Service) Checkout(ctx context.Context, request CheckoutRequest) (CheckoutResult, error) {
	result, err := service.checkout(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation:  operationCheckout,
		UserKey:    request.Customer.UserKey.String(),
		BookingKey: result.Booking.Key,
		Amount:     result.Cost.TotalPayable,
		Detail:     request.PaymentMethod,
		Error:      err,
	})
	return result, err
}

func (service *Service) checkout(ctx context.Context, request CheckoutRequest) (CheckoutResult, error) {
	if request.Customer.UserKey.String() == "" {
		return CheckoutResult{}, fmt.Errorf("%w: empty value", ErrInvalidUserKey)
	}
	if len(request.Timeslots) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: no timeslots selected", ErrInvalidAmount)
	}
	cost, err := Quote(request.Timeslots, request.Promo, request.PaymentMethod)
	if err != nil {
		return CheckoutResult{}, err
	}
	sport := normalizeSport(request.SportType)
	paymentStatus, err := checkoutPaymentStatus(request.PaymentMethod, request.PaymentStatus)
	if err != nil {
		return CheckoutResult{}, err
	}
	timestamp := service.now()
	result := CheckoutResult{Cost: cost}

	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var usageSources []CreditSource
		var plan []PlannedAllocation
		if request.PaymentMethod == PaymentMethodCredit && cost.TotalPayable.IsPositive() {
			wallet, err := service.loadWallet(ctx, transactionStore, request.Customer.UserKey)
			if err != nil {
				return err
			}
			wallet = wallet.ForSport(sport)
			plan, err = Allocate(cost.TotalPayable, wallet.Packages, wallet.Refunds)
			if err != nil {
				return err
			}
			usageSources = wallet.Sources()
		}

		booking := Booking{
			UserKey:        request.Customer.UserKey.String(),
			Email:          request.Customer.Email,
			Name:           request.Customer.Name,
			Contact:        request.Customer.Contact,
			Location:       request.Location,
			Date:           request.Date,
			SportType:      sport,
			Subtotal:       cost.Subtotal,
			Discount:       cost.Discount,
			Total:          cost.Total,
			GST:            cost.GST,
			TransactionFee: cost.TransactionFee,
			TotalPayable:   cost.TotalPayable,
			PromoCode:      cost.PromoCode,
			PaymentMethod:  request.PaymentMethod,
			PaymentStatus:  paymentStatus,
			InvoiceKey:     request.InvoiceKey,
			SubmittedDate:  timestamp,
			RefundAmount:   decimal.Zero,
		}
		bookingKey, err := transactionStore.InsertBooking(ctx, booking)
		if err != nil {
			return err
		}
		booking.Key = bookingKey
		writes := 1

		slots := make([]BookedSlot, 0)
		for _, date := range request.Timeslots.Dates() {
			for _, selection := range request.Timeslots[date] {
				slot := BookedSlot{
					BookingKey:      bookingKey,
					InvoiceKey:      request.InvoiceKey,
					Location:        request.Location,
					Email:           request.Customer.Email,
					Name:            request.Customer.Name,
					Contact:         request.Customer.Contact,
					Date:            date,
					Pitch:           selection.Pitch,
					Start:           selection.Start,
					End:             selection.End,
					Rate:            selection.Rate,
					Duration:        selection.Duration,
					Type:            selection.Type,
					PaymentMethod:   request.PaymentMethod,
					PaymentStatus:   paymentStatus,
					SportType:       normalizeSport(selection.SportType),
					AutomatePitchID: selection.AutomatePitchID,
					SubmittedDate:   timestamp,
				}
				slotKey, err := transactionStore.InsertSlot(ctx, slot)
				if err != nil {
					return partialWrite("insert slot", writes, err)
				}
				writes++
				slot.Key = slotKey
				slots = append(slots, slot)
			}
		}
		booking.Slots = slotKeysOf(slots)
		if err := transactionStore.UpdateBooking(ctx, booking); err != nil {
			return partialWrite("link booking slots", writes, err)
		}
		writes++

		if plan != nil {
			snapshots := make([]SlotSnapshot, 0, len(slots))
			for _, slot := range slots {
				snapshots = append(snapshots, slot.Snapshot())
			}
			transactions, err := service.recordUsage(ctx, transactionStore, UsageRecord{
				Customer: request.Customer,
				Amount:   cost.TotalPayable,
				Sources:  usageSources,
				Plan:     plan,
				Booking: UsageContext{
					BookingKey:  bookingKey,
					SlotKeys:    booking.Slots,
					Slots:       snapshots,
					BookingDate: request.Date,
					Location:    request.Location,
					SportType:   sport,
				},
			})
			if err != nil {
				return partialWrite("record usage", writes, err)
			}
			result.Transactions = transactions
		}
		result.Booking = booking
		result.Slots = slots
		return nil
	})
	if operationError != nil {
		return CheckoutResult{Cost: cost}, operationError
	}
	if paymentStatus == PaymentStatusPaid {
		result.SyncFailures = service.createReservations(ctx, result.Booking.Key, result.Slots)
	}
	return result, nil
}

// Spend pays an existing booking from the customer's credits for the
// booking's sport.
func (service *Service) Spend(ctx context.Context, request SpendRequest) ([]Transaction, error) {
	var transactions []Transaction
	var userKey string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := getBooking(ctx, transactionStore, request.BookingKey)
		if err != nil {
			return err
		}
		userKey = booking.UserKey
		customer, err := booking.Customer()
		if err != nil {
			return err
		}
		wallet, err := service.loadWallet(ctx, transactionStore, customer.UserKey)
		if err != nil {
			return err
		}
		wallet = wallet.ForSport(booking.SportType)
		snapshots := make([]SlotSnapshot, 0, len(booking.Slots))
		for _, rawKey := range booking.Slots {
			slotKey, err := NewSlotKey(rawKey)
			if err != nil {
				return err
			}
			slot, err := transactionStore.GetSlot(ctx, slotKey)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return err
			}
			snapshots = append(snapshots, slot.Snapshot())
		}
		recorded, err := service.recordUsage(ctx, transactionStore, UsageRecord{
			Customer: customer,
			Amount:   request.Amount,
			Sources:  wallet.Sources(),
			Booking: UsageContext{
				BookingKey:  booking.Key,
				SlotKeys:    booking.Slots,
				Slots:       snapshots,
				BookingDate: booking.Date,
				Location:    booking.Location,
				SportType:   booking.SportType,
			},
		})
		transactions = recorded
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUsage,
		UserKey:    userKey,
		BookingKey: request.BookingKey,
		Amount:     request.Amount,
		Error:      operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return transactions, nil
}

// AddPackage creates a credit package and, once paid, records the PURCHASE.
func (service *Service) AddPackage(ctx context.Context, purchase PackagePurchase) (PackagePurchaseResult, error) {
	var result PackagePurchaseResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := NewPositiveAmount(purchase.Value); err != nil {
			return err
		}
		if purchase.ExpiryMonths <= 0 {
			return fmt.Errorf("%w: expiry months must be positive", ErrInvalidAmount)
		}
		if purchase.PaymentMethod == PaymentMethodRefund {
			return fmt.Errorf("%w: packages cannot use the %s payment method", ErrInvalidCollection, PaymentMethodRefund)
		}
		paymentStatus := purchase.PaymentStatus
		if paymentStatus == "" {
			paymentStatus = PaymentStatusPaid
		}
		timestamp := service.now()
		source := CreditSource{
			Collection:    CollectionPackages,
			Pool:          PoolPackage,
			UserKey:       purchase.Customer.UserKey.String(),
			Email:         purchase.Customer.Email,
			Name:          purchase.Customer.Name,
			Contact:       purchase.Customer.Contact,
			Title:         strings.TrimSpace(purchase.Title),
			Value:         purchase.Value,
			CreditsLeft:   purchase.Value,
			ExpiryDate:    addMonths(timestamp, purchase.ExpiryMonths),
			SubmittedDate: timestamp,
			PaymentMethod: purchase.PaymentMethod,
			PaymentStatus: paymentStatus,
			SportType:     normalizeSport(purchase.SportType),
			InvoiceKey:    purchase.InvoiceKey,
		}
		sourceKey, err := transactionStore.InsertCreditSource(ctx, source)
		if err != nil {
			return err
		}
		source.Key = sourceKey
		result.Package = source
		if paymentStatus == PaymentStatusPending {
			return nil
		}
		transaction, err := service.recordPurchase(ctx, transactionStore, purchase.Customer, purchase.Value, sourceKey)
		if err != nil {
			return partialWrite("record purchase", 1, err)
		}
		result.Transaction = &transaction
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPurchase,
		UserKey:   purchase.Customer.UserKey.String(),
		SourceKey: result.Package.Key,
		Amount:    purchase.Value,
		Error:     operationError,
	})
	if operationError != nil {
		return PackagePurchaseResult{}, operationError
	}
	return result, nil
}

// checkoutPaymentStatus settles credit checkouts as Paid. Other methods stay
// Pending unless the caller reports a confirmed payment.
func checkoutPaymentStatus(paymentMethod string, reported string) (string, error) {
	if paymentMethod == PaymentMethodCredit {
		return PaymentStatusPaid, nil
	}
	switch strings.TrimSpace(reported) {
	case "", PaymentStatusPending:
		return PaymentStatusPending, nil
	case PaymentStatusPaid:
		return PaymentStatusPaid, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, reported)
	}
}

// createReservations pushes the slots to the reservation system, one entry
// per consecutive run of slots on the same date and pitch.
func (service *Service) createReservations(ctx context.Context, bookingKey string, slots []BookedSlot) []error {
	grouped := groupReservations(slots, service.location)
	keys := make([]string, 0, len(grouped))
	byKey := make(map[string]ReservationSlot, len(grouped))
	for _, reservation := range grouped {
		keys = append(keys, reservation.SlotKey)
		byKey[reservation.SlotKey] = reservation
	}
	combined := fanOut(ctx, service.fanOutLimit, keys, func(ctx context.Context, slotKey string) error {
		err := service.reservations.CreateSlot(ctx, byKey[slotKey])
		if err != nil {
			err = fmt.Errorf("%w: create slot %s: %w", ErrExternalSync, slotKey, err)
		}
		service.logOperation(ctx, OperationLog{
			Operation:  operationReservationAdd,
			BookingKey: bookingKey,
			SlotKey:    slotKey,
			Error:      err,
		})
		return err
	})
	return multierr.Errors(combined)
}

func groupReservations(slots []BookedSlot, location *time.Location) []ReservationSlot {
	grouped := make([]ReservationSlot, 0, len(slots))
	indexByPitch := make(map[string]int)
	for _, slot := range slots {
		pitchKey := slot.Date + "|" + slot.Pitch
		index, exists := indexByPitch[pitchKey]
		if !exists {
			reservation := reservationSlotFrom(slot, location)
			if reservation.AutomatePitchID == "" {
				reservation.AutomatePitchID = strings.Join(strings.Fields(slot.Location), "_") + "_" + slot.Pitch
			}
			indexByPitch[pitchKey] = len(grouped)
			grouped = append(grouped, reservation)
			continue
		}
		grouped[index].End = slot.End
		grouped[index].Duration += slot.Duration
		grouped[index].Rate = grouped[index].Rate.Add(slot.Rate)
	}
	return grouped
}
