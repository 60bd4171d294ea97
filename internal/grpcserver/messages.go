package grpcserver

import (
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

// UserRequest addresses one user's ledger.
type UserRequest struct {
	UserKey string `json:"user_key"`
}

// BalanceResponse carries the spendable total.
type BalanceResponse struct {
	UserKey string          `json:"user_key"`
	Balance decimal.Decimal `json:"balance"`
}

// Source is one live credit package or refund credit.
type Source struct {
	Key         string          `json:"key"`
	Pool        string          `json:"pool"`
	Title       string          `json:"title"`
	Value       decimal.Decimal `json:"value"`
	CreditsLeft decimal.Decimal `json:"credits_left"`
	ExpiryDate  time.Time       `json:"expiry_date"`
	SportType   string          `json:"sport_type"`
}

// WalletResponse splits the balance by pool.
type WalletResponse struct {
	PurchasedCreditsLeft decimal.Decimal `json:"purchased_credits_left"`
	RefundCreditsLeft    decimal.Decimal `json:"refund_credits_left"`
	TotalCreditsLeft     decimal.Decimal `json:"total_credits_left"`
	Sources              []Source        `json:"sources"`
}

// Transaction is one ledger event.
type Transaction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CreditType    string          `json:"credit_type,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Timestamp     time.Time       `json:"timestamp"`
	Description   string          `json:"description"`
	BookingKey    string          `json:"booking_key,omitempty"`
	PackageKey    string          `json:"package_key,omitempty"`
}

// TransactionsResponse lists a user's history, newest first.
type TransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// CancelSlotRequest removes one slot from a booking.
// The actor and admin rights come from the caller's token.
type CancelSlotRequest struct {
	BookingKey string `json:"booking_key"`
	SlotKey    string `json:"slot_key"`
	Reason     string `json:"reason"`
}

// CancelSlotResponse reports the slot cancellation outcome.
type CancelSlotResponse struct {
	Outcome         string          `json:"outcome"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	RefundSourceKey string          `json:"refund_source_key,omitempty"`
	SyncFailures    []string        `json:"sync_failures,omitempty"`
}

// CancelBookingRequest cancels a whole booking.
type CancelBookingRequest struct {
	BookingKey string `json:"booking_key"`
	Reason     string `json:"reason"`
}

// CancelBookingResponse reports the full cancellation.
type CancelBookingResponse struct {
	CancelledSlots  []string        `json:"cancelled_slots"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	RefundSourceKey string          `json:"refund_source_key,omitempty"`
	SyncFailures    []string        `json:"sync_failures,omitempty"`
}

func newWalletResponse(wallet ledger.Wallet) *WalletResponse {
	response := &WalletResponse{
		PurchasedCreditsLeft: wallet.PurchasedCreditsLeft,
		RefundCreditsLeft:    wallet.RefundCreditsLeft,
		TotalCreditsLeft:     wallet.TotalCreditsLeft,
	}
	for _, source := range wallet.Sources() {
		response.Sources = append(response.Sources, Source{
			Key:         source.Key,
			Pool:        string(source.Pool),
			Title:       source.Title,
			Value:       source.Value,
			CreditsLeft: source.CreditsLeft,
			ExpiryDate:  source.ExpiryDate,
			SportType:   source.Sport(),
		})
	}
	return response
}

func newTransactions(transactions []ledger.Transaction) []Transaction {
	converted := make([]Transaction, 0, len(transactions))
	for _, transaction := range transactions {
		converted = append(converted, Transaction{
			ID:            transaction.ID,
			Type:          string(transaction.Type),
			CreditType:    string(transaction.CreditType),
			Amount:        transaction.Amount,
			BalanceBefore: transaction.BalanceBefore,
			BalanceAfter:  transaction.BalanceAfter,
			Timestamp:     transaction.Timestamp,
			Description:   transaction.Description,
			BookingKey:    transaction.BookingKey,
			PackageKey:    transaction.PackageKey,
		})
	}
	return converted
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
