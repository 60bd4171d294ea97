package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

type packageRequest struct {
	UserKey       string          `json:"user_key"`
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	Contact       string          `json:"contact"`
	Title         string          `json:"title"`
	Value         decimal.Decimal `json:"value"`
	ExpiryMonths  int             `json:"expiry_months"`
	SportType     string          `json:"sport_type"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	InvoiceKey    string          `json:"invoice_key"`
}

type adjustRequest struct {
	UserKey     string          `json:"user_key"`
	Collection  string          `json:"collection"`
	SourceKey   string          `json:"source_key"`
	CreditsLeft decimal.Decimal `json:"credits_left"`
	Reason      string          `json:"reason"`
}

type checkoutRequest struct {
	UserKey       string                  `json:"user_key"`
	Email         string                  `json:"email"`
	Name          string                  `json:"name"`
	Contact       string                  `json:"contact"`
	Location      string                  `json:"location"`
	Date          string                  `json:"date"`
	SportType     string                  `json:"sport_type"`
	Timeslots     ledger.GroupedTimeslots `json:"timeslots"`
	Promo         *ledger.PromoCode       `json:"promo"`
	PaymentMethod string                  `json:"payment_method"`
	PaymentStatus string                  `json:"payment_status"`
	InvoiceKey    string                  `json:"invoice_key"`
}

type discountRequest struct {
	Timeslots     ledger.GroupedTimeslots `json:"timeslots"`
	Promo         *ledger.PromoCode       `json:"promo"`
	PaymentMethod string                  `json:"payment_method"`
}

type spendRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type cancelSlotRequest struct {
	SlotKey string `json:"slot_key"`
	Reason  string `json:"reason"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type sourcePayload struct {
	Key           string          `json:"key"`
	Collection    string          `json:"collection"`
	Pool          string          `json:"pool"`
	Title         string          `json:"title"`
	Value         decimal.Decimal `json:"value"`
	CreditsLeft   decimal.Decimal `json:"credits_left"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	SubmittedDate time.Time       `json:"submitted_date"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	SportType     string          `json:"sport_type"`
}

type walletPayload struct {
	PurchasedCreditsLeft decimal.Decimal `json:"purchased_credits_left"`
	RefundCreditsLeft    decimal.Decimal `json:"refund_credits_left"`
	TotalCreditsLeft     decimal.Decimal `json:"total_credits_left"`
	Packages             []sourcePayload `json:"packages"`
	Refunds              []sourcePayload `json:"refunds"`
}

type transactionPayload struct {
	ID            string                `json:"id"`
	UserKey       string                `json:"user_key"`
	Type          string                `json:"type"`
	CreditType    string                `json:"credit_type,omitempty"`
	Amount        decimal.Decimal       `json:"amount"`
	BalanceBefore decimal.Decimal       `json:"balance_before"`
	BalanceAfter  decimal.Decimal       `json:"balance_after"`
	Timestamp     time.Time             `json:"timestamp"`
	Description   string                `json:"description"`
	Notes         string                `json:"notes,omitempty"`
	CreatedBy     string                `json:"created_by,omitempty"`
	BookingKey    string                `json:"booking_key,omitempty"`
	PackageKey    string                `json:"package_key,omitempty"`
	BookingDate   string                `json:"booking_date,omitempty"`
	Location      string                `json:"location,omitempty"`
	Slots         []ledger.SlotSnapshot `json:"slots,omitempty"`
	SlotKeys      []string              `json:"slot_keys,omitempty"`
}

type allocationPayload struct {
	ID                   string          `json:"id"`
	TransactionID        string          `json:"transaction_id"`
	PackageKey           string          `json:"package_key"`
	Collection           string          `json:"collection"`
	Amount               decimal.Decimal `json:"amount"`
	PackageBalanceBefore decimal.Decimal `json:"package_balance_before"`
	PackageBalanceAfter  decimal.Decimal `json:"package_balance_after"`
	Timestamp            time.Time       `json:"timestamp"`
}

type bookingPayload struct {
	Key                   string          `json:"key"`
	UserKey               string          `json:"user_key"`
	Location              string          `json:"location"`
	Date                  string          `json:"date"`
	SportType             string          `json:"sport_type"`
	Slots                 []string        `json:"slots"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	Discount              decimal.Decimal `json:"discount"`
	TotalPayable          decimal.Decimal `json:"total_payable"`
	PaymentMethod         string          `json:"payment_method"`
	PaymentStatus         string          `json:"payment_status"`
	InvoiceKey            string          `json:"invoice_key,omitempty"`
	CancelledSlots        []string        `json:"cancelled_slots,omitempty"`
	RefundAmount          decimal.Decimal `json:"refund_amount"`
	PendingCancelledSlots []string        `json:"pending_cancelled_slots,omitempty"`
}

type slotCancellationPayload struct {
	Outcome         string              `json:"outcome"`
	BookingKey      string              `json:"booking_key"`
	SlotKey         string              `json:"slot_key"`
	RefundAmount    decimal.Decimal     `json:"refund_amount"`
	RefundSourceKey string              `json:"refund_source_key,omitempty"`
	Transaction     *transactionPayload `json:"transaction,omitempty"`
	SyncFailures    []string            `json:"sync_failures,omitempty"`
}

type bookingCancellationPayload struct {
	BookingKey      string              `json:"booking_key"`
	CancelledSlots  []string            `json:"cancelled_slots"`
	RefundAmount    decimal.Decimal     `json:"refund_amount"`
	RefundSourceKey string              `json:"refund_source_key,omitempty"`
	Transaction     *transactionPayload `json:"transaction,omitempty"`
	SyncFailures    []string            `json:"sync_failures,omitempty"`
}

func newSourcePayloads(sources []ledger.CreditSource) []sourcePayload {
	payloads := make([]sourcePayload, 0, len(sources))
	for _, source := range sources {
		payloads = append(payloads, newSourcePayload(source))
	}
	return payloads
}

func newSourcePayload(source ledger.CreditSource) sourcePayload {
	return sourcePayload{
		Key:           source.Key,
		Collection:    string(source.Collection),
		Pool:          string(source.Pool),
		Title:         source.Title,
		Value:         source.Value,
		CreditsLeft:   source.CreditsLeft,
		ExpiryDate:    source.ExpiryDate,
		SubmittedDate: source.SubmittedDate,
		PaymentMethod: source.PaymentMethod,
		PaymentStatus: source.PaymentStatus,
		SportType:     source.Sport(),
	}
}

func newWalletPayload(wallet ledger.Wallet) walletPayload {
	return walletPayload{
		PurchasedCreditsLeft: wallet.PurchasedCreditsLeft,
		RefundCreditsLeft:    wallet.RefundCreditsLeft,
		TotalCreditsLeft:     wallet.TotalCreditsLeft,
		Packages:             newSourcePayloads(wallet.Packages),
		Refunds:              newSourcePayloads(wallet.Refunds),
	}
}

func newTransactionPayloads(transactions []ledger.Transaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, newTransactionPayload(transaction))
	}
	return payloads
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		ID:            transaction.ID,
		UserKey:       transaction.UserKey,
		Type:          string(transaction.Type),
		CreditType:    string(transaction.CreditType),
		Amount:        transaction.Amount,
		BalanceBefore: transaction.BalanceBefore,
		BalanceAfter:  transaction.BalanceAfter,
		Timestamp:     transaction.Timestamp,
		Description:   transaction.Description,
		Notes:         transaction.Notes,
		CreatedBy:     transaction.CreatedBy,
		BookingKey:    transaction.BookingKey,
		PackageKey:    transaction.PackageKey,
		BookingDate:   transaction.BookingDate,
		Location:      transaction.Location,
		Slots:         transaction.Slots,
		SlotKeys:      transaction.SlotKeys,
	}
}

func optionalTransactionPayload(transaction *ledger.Transaction) *transactionPayload {
	if transaction == nil {
		return nil
	}
	payload := newTransactionPayload(*transaction)
	return &payload
}

func newAllocationPayloads(allocations []ledger.Allocation) []allocationPayload {
	payloads := make([]allocationPayload, 0, len(allocations))
	for _, allocation := range allocations {
		payloads = append(payloads, allocationPayload{
			ID:                   allocation.ID,
			TransactionID:        allocation.TransactionID,
			PackageKey:           allocation.PackageKey,
			Collection:           string(allocation.Collection),
			Amount:               allocation.Amount,
			PackageBalanceBefore: allocation.PackageBalanceBefore,
			PackageBalanceAfter:  allocation.PackageBalanceAfter,
			Timestamp:            allocation.Timestamp,
		})
	}
	return payloads
}

func newBookingPayload(booking ledger.Booking) bookingPayload {
	return bookingPayload{
		Key:                   booking.Key,
		UserKey:               booking.UserKey,
		Location:              booking.Location,
		Date:                  booking.Date,
		SportType:             booking.SportType,
		Slots:                 booking.Slots,
		Subtotal:              booking.Subtotal,
		Discount:              booking.Discount,
		TotalPayable:          booking.TotalPayable,
		PaymentMethod:         booking.PaymentMethod,
		PaymentStatus:         booking.PaymentStatus,
		InvoiceKey:            booking.InvoiceKey,
		CancelledSlots:        booking.CancelledSlots,
		RefundAmount:          booking.RefundAmount,
		PendingCancelledSlots: booking.PendingCancelledSlots,
	}
}

func newSlotCancellationPayload(result ledger.SlotCancellationResult) slotCancellationPayload {
	return slotCancellationPayload{
		Outcome:         string(result.Outcome),
		BookingKey:      result.BookingKey,
		SlotKey:         result.SlotKey,
		RefundAmount:    result.RefundAmount,
		RefundSourceKey: result.RefundSourceKey,
		Transaction:     optionalTransactionPayload(result.Transaction),
		SyncFailures:    errorStrings(result.SyncFailures),
	}
}

func newBookingCancellationPayload(result ledger.BookingCancellationResult) bookingCancellationPayload {
	return bookingCancellationPayload{
		BookingKey:      result.BookingKey,
		CancelledSlots:  result.CancelledSlots,
		RefundAmount:    result.RefundAmount,
		RefundSourceKey: result.RefundSourceKey,
		Transaction:     optionalTransactionPayload(result.Transaction),
		SyncFailures:    errorStrings(result.SyncFailures),
	}
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return messages
}
