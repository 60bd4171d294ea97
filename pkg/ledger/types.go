package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserKey identifies a credit owner.
type UserKey struct {
	value string
}

// BookingKey identifies a booking document.
type BookingKey struct {
	value string
}

// SlotKey identifies a booked slot document.
type SlotKey struct {
	value string
}

// NewUserKey validates and normalizes a user key.
func NewUserKey(raw string) (UserKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserKey{}, fmt.Errorf("%w: empty value", ErrInvalidUserKey)
	}
	return UserKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key UserKey) String() string {
	return key.value
}

// NewBookingKey validates and normalizes a booking key.
func NewBookingKey(raw string) (BookingKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingKey{}, fmt.Errorf("%w: empty value", ErrInvalidBookingKey)
	}
	return BookingKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key BookingKey) String() string {
	return key.value
}

// NewSlotKey validates and normalizes a slot key.
func NewSlotKey(raw string) (SlotKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SlotKey{}, fmt.Errorf("%w: empty value", ErrInvalidSlotKey)
	}
	return SlotKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key SlotKey) String() string {
	return key.value
}

// NewPositiveAmount rejects zero and negative amounts.
func NewPositiveAmount(raw decimal.Decimal) (decimal.Decimal, error) {
	if !raw.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return raw, nil
}

// Customer is the identity snapshot copied onto ledger records.
type Customer struct {
	UserKey UserKey
	Email   string
	Name    string
	Contact string
}

// Pool says which group a credit source is drawn from.
type Pool string

const (
	PoolPackage Pool = "package"
	PoolRefund  Pool = "refund"
)

// CreditType returns the transaction credit type for the pool.
func (pool Pool) CreditType() CreditType {
	if pool == PoolRefund {
		return CreditTypeRefund
	}
	return CreditTypePackage
}

// Collection names where a credit source is stored.
type Collection string

const (
	// CollectionPackages holds purchased packages and, for legacy data, refunds
	// tagged with the Refund payment method.
	CollectionPackages Collection = "creditPackages"
	CollectionRefunds  Collection = "creditRefunds"
)

// ParseCollection validates a collection name.
func ParseCollection(raw string) (Collection, error) {
	switch Collection(strings.TrimSpace(raw)) {
	case CollectionPackages:
		return CollectionPackages, nil
	case CollectionRefunds:
		return CollectionRefunds, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCollection, raw)
	}
}

// Payment methods and statuses shared with the booking flow.
const (
	PaymentMethodPayNow     = "PayNow"
	PaymentMethodCreditCard = "Credit Card"
	PaymentMethodCredit     = "Credit"
	PaymentMethodRefund     = "Refund"

	PaymentStatusPaid    = "Paid"
	PaymentStatusPending = "Pending"

	DefaultSportType = "futsal"
)

// CreditSource is a purchased package or a cancellation refund.
type CreditSource struct {
	Key                string
	Collection         Collection
	Pool               Pool
	UserKey            string
	Email              string
	Name               string
	Contact            string
	Title              string
	Value              decimal.Decimal
	CreditsLeft        decimal.Decimal
	ExpiryDate         time.Time
	SubmittedDate      time.Time
	PaymentMethod      string
	PaymentStatus      string
	SportType          string
	OriginalBookingKey string
	InvoiceKey         string
	CancelledBy        string
	CancelledDate      time.Time
}

// Sport returns the lower-cased sport tag, defaulting to futsal.
func (source CreditSource) Sport() string {
	return normalizeSport(source.SportType)
}

// IsLive reports whether the source is spendable on the given day.
func (source CreditSource) IsLive(now time.Time) bool {
	if source.PaymentStatus == PaymentStatusPending {
		return false
	}
	location := now.Location()
	today := startOfDay(now)
	expiryDay := startOfDay(source.ExpiryDate.In(location))
	return !expiryDay.Before(today)
}

// TransactionType enumerates ledger events.
type TransactionType string

const (
	TransactionPurchase      TransactionType = "PURCHASE"
	TransactionUsage         TransactionType = "USAGE"
	TransactionRefund        TransactionType = "REFUND"
	TransactionPartialRefund TransactionType = "PARTIAL_REFUND"
	TransactionExpiry        TransactionType = "EXPIRY"
	TransactionAdjustment    TransactionType = "ADJUSTMENT"
)

// CreditType records which pool a usage transaction drew from.
type CreditType string

const (
	CreditTypePackage CreditType = "PACKAGE"
	CreditTypeRefund  CreditType = "REFUND"
)

// SlotSnapshot is the slot detail copied onto usage transactions.
type SlotSnapshot struct {
	Start     string          `json:"start"`
	End       string          `json:"end"`
	Rate      decimal.Decimal `json:"rate"`
	Duration  float64         `json:"duration"`
	Type      string          `json:"type"`
	Pitch     string          `json:"pitch"`
	Date      string          `json:"date"`
	SportType string          `json:"typeOfSports"`
}

// Transaction is one immutable ledger event.
type Transaction struct {
	ID            string
	UserKey       string
	Email         string
	Name          string
	Contact       string
	Type          TransactionType
	CreditType    CreditType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Timestamp     time.Time
	Description   string
	Notes         string
	CreatedBy     string
	BookingKey    string
	PackageKey    string
	BookingDate   string
	Location      string
	Slots         []SlotSnapshot
	SlotKeys      []string
}

// Allocation attributes part of a transaction to one credit source.
type Allocation struct {
	ID                   string
	TransactionID        string
	PackageKey           string
	Collection           Collection
	Amount               decimal.Decimal
	PackageBalanceBefore decimal.Decimal
	PackageBalanceAfter  decimal.Decimal
	Timestamp            time.Time
	UserKey              string
	Email                string
}

// PartialCancellation is the booking's audit record of one slot cancellation.
type PartialCancellation struct {
	SlotKey         string          `json:"slotKey"`
	SlotRate        decimal.Decimal `json:"slotRate"`
	CancelledDate   time.Time       `json:"cancelledDate"`
	CancelledBy     string          `json:"cancelledBy"`
	CreditRefundKey string          `json:"creditRefundKey,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// Booking aggregates slots, customer and cancellation bookkeeping.
type Booking struct {
	Key                   string
	UserKey               string
	Email                 string
	Name                  string
	Contact               string
	Location              string
	Date                  string
	SportType             string
	Slots                 []string
	Subtotal              decimal.Decimal
	Discount              decimal.Decimal
	Total                 decimal.Decimal
	GST                   decimal.Decimal
	TransactionFee        decimal.Decimal
	TotalPayable          decimal.Decimal
	PromoCode             string
	PaymentMethod         string
	PaymentStatus         string
	InvoiceKey            string
	SubmittedDate         time.Time
	CancelledSlots        []string
	RefundAmount          decimal.Decimal
	PartialCancellations  []PartialCancellation
	PendingCancelledSlots []string
	// PendingReasons maps a pending slot key to the customer's stated reason.
	PendingReasons map[string]string
}

// Customer returns the identity snapshot of the booking owner.
func (booking Booking) Customer() (Customer, error) {
	userKey, err := NewUserKey(booking.UserKey)
	if err != nil {
		return Customer{}, err
	}
	return Customer{UserKey: userKey, Email: booking.Email, Name: booking.Name, Contact: booking.Contact}, nil
}

// HasSlot reports whether the slot is still active on the booking.
func (booking Booking) HasSlot(slotKey string) bool {
	return containsString(booking.Slots, slotKey)
}

// IsPending reports whether the slot awaits cancellation approval.
func (booking Booking) IsPending(slotKey string) bool {
	return containsString(booking.PendingCancelledSlots, slotKey)
}

// BookedSlot is one reservable unit.
type BookedSlot struct {
	Key             string
	BookingKey      string
	InvoiceKey      string
	Location        string
	Email           string
	Name            string
	Contact         string
	Date            string
	Pitch           string
	Start           string
	End             string
	Rate            decimal.Decimal
	Duration        float64
	Type            string
	PaymentMethod   string
	PaymentStatus   string
	SportType       string
	AutomatePitchID string
	SubmittedDate   time.Time
}

// Snapshot copies the slot fields kept on transactions.
func (slot BookedSlot) Snapshot() SlotSnapshot {
	return SlotSnapshot{
		Start:     slot.Start,
		End:       slot.End,
		Rate:      slot.Rate,
		Duration:  slot.Duration,
		Type:      slot.Type,
		Pitch:     slot.Pitch,
		Date:      slot.Date,
		SportType: slot.SportType,
	}
}

// Cancellation metadata attached to archived bookings and slots.
type Cancellation struct {
	CancelledBy   string
	CancelledDate time.Time
	Reason        string
}

// Invoice holds the invoice fields settlement rewrites.
type Invoice struct {
	Key                string
	PaymentMethod      string
	PaymentStatus      string
	CreditRefundKey    string
	OriginalBookingKey string
}

func normalizeSport(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return DefaultSportType
	}
	return trimmed
}

func startOfDay(moment time.Time) time.Time {
	year, month, day := moment.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, moment.Location())
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func removeString(values []string, target string) []string {
	filtered := make([]string, 0, len(values))
	for _, value := range values {
		if value != target {
			filtered = append(filtered, value)
		}
	}
	return filtered
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}
